// Package config loads the environment-variable configuration shared by
// the ingestor, locator and api-server binaries.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every tunable named in the RTLS core's external interface.
// All fields have defaults except DatabaseURL, which is required.
type Config struct {
	DatabaseURL string

	MQTTBrokerHost string
	MQTTBrokerPort int
	MQTTQoS        int

	SubTopicScan   string
	SubTopicStatus string
	SubTopicEvents string

	BatchMaxSize    int
	BatchMaxAgeS    float64
	IDsRefreshS     time.Duration
	TSMinEpochMS    int64
	AllowFallbackNowTS bool

	WindowSeconds     time.Duration
	PollInterval      time.Duration
	WriteThrottleS    time.Duration
	QueryWindowFactor float64

	TxPowerDBMAt1M   float64
	PathLossExponent float64
	WeightDistClampM float64
	TopK             int

	SecretKey           string
	TokenLifetimeHours  int

	LogLevel string
}

// Load reads a .env file if present (never an error if it's missing), then
// binds every (unprefixed) environment variable named in spec §6, applying
// the same defaults the original implementation used.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "err", err)
	}

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("MQTT_BROKER_HOST", "mqtt")
	v.SetDefault("MQTT_BROKER_PORT", 1883)
	v.SetDefault("MQTT_QOS", 1)
	v.SetDefault("SUB_TOPIC_SCAN", "rtls/anchor/+/scan")
	v.SetDefault("SUB_TOPIC_STATUS", "rtls/anchor/+/status")
	v.SetDefault("SUB_TOPIC_EVENTS", "rtls/events")
	v.SetDefault("BATCH_MAX_SIZE", 200)
	v.SetDefault("BATCH_MAX_AGE_S", 1.0)
	v.SetDefault("IDS_REFRESH_S", 60)
	v.SetDefault("TS_MIN_EPOCH_MS", int64(1514764800000)) // 2018-01-01T00:00:00Z
	v.SetDefault("ALLOW_FALLBACK_NOW_TS", true)
	v.SetDefault("WINDOW_SECONDS", 7)
	v.SetDefault("POLL_INTERVAL", 1.5)
	v.SetDefault("WRITE_THROTTLE_S", 5.0)
	v.SetDefault("QUERY_WINDOW_FACTOR", 2.0)
	v.SetDefault("TX_POWER_DBM_AT_1M", -59.0)
	v.SetDefault("PATH_LOSS_EXPONENT", 2.2)
	v.SetDefault("WEIGHT_DIST_CLAMP_M", 0.5)
	v.SetDefault("TOP_K", 3)
	v.SetDefault("TOKEN_LIFETIME_HOURS", 8)
	v.SetDefault("LOG_LEVEL", "INFO")

	dbURL := v.GetString("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg := &Config{
		DatabaseURL:        dbURL,
		MQTTBrokerHost:     v.GetString("MQTT_BROKER_HOST"),
		MQTTBrokerPort:     v.GetInt("MQTT_BROKER_PORT"),
		MQTTQoS:            v.GetInt("MQTT_QOS"),
		SubTopicScan:       v.GetString("SUB_TOPIC_SCAN"),
		SubTopicStatus:     v.GetString("SUB_TOPIC_STATUS"),
		SubTopicEvents:     v.GetString("SUB_TOPIC_EVENTS"),
		BatchMaxSize:       v.GetInt("BATCH_MAX_SIZE"),
		BatchMaxAgeS:       v.GetFloat64("BATCH_MAX_AGE_S"),
		IDsRefreshS:        time.Duration(v.GetInt64("IDS_REFRESH_S")) * time.Second,
		TSMinEpochMS:       v.GetInt64("TS_MIN_EPOCH_MS"),
		AllowFallbackNowTS: v.GetBool("ALLOW_FALLBACK_NOW_TS"),
		WindowSeconds:      time.Duration(v.GetInt64("WINDOW_SECONDS")) * time.Second,
		PollInterval:       time.Duration(v.GetFloat64("POLL_INTERVAL") * float64(time.Second)),
		WriteThrottleS:     time.Duration(v.GetFloat64("WRITE_THROTTLE_S") * float64(time.Second)),
		QueryWindowFactor:  v.GetFloat64("QUERY_WINDOW_FACTOR"),
		TxPowerDBMAt1M:     v.GetFloat64("TX_POWER_DBM_AT_1M"),
		PathLossExponent:   v.GetFloat64("PATH_LOSS_EXPONENT"),
		WeightDistClampM:   v.GetFloat64("WEIGHT_DIST_CLAMP_M"),
		TopK:               v.GetInt("TOP_K"),
		SecretKey:          v.GetString("SECRET_KEY"),
		TokenLifetimeHours: v.GetInt("TOKEN_LIFETIME_HOURS"),
		LogLevel:           v.GetString("LOG_LEVEL"),
	}
	return cfg, nil
}

// SlogLevel maps the configured LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
