// Command ingestor runs the MQTT ingestion pipeline (C1-C4): it subscribes
// to anchor scan/status reports and the events topic, decodes and validates
// each message, batches known-ID rows, and flushes them to Postgres.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/wbh-rtls/rtls-core/internal/config"
	"github.com/wbh-rtls/rtls-core/internal/ingest"
	"github.com/wbh-rtls/rtls-core/internal/logging"
	"github.com/wbh-rtls/rtls-core/internal/store"
)

func main() {
	jsonLog := flag.Bool("json", false, "use JSON logging")
	clientID := flag.String("client-id", "rtls-ingestor", "MQTT client id")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	slog.SetDefault(logging.New(os.Stdout, cfg.SlogLevel(), *jsonLog, "ingestor"))

	st, err := store.Open(cfg.DatabaseURL, 10)
	if err != nil {
		slog.Error("failed to open database", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	sup := ingest.NewSupervisor(ingest.SupervisorConfig{
		BrokerHost:   cfg.MQTTBrokerHost,
		BrokerPort:   cfg.MQTTBrokerPort,
		ClientID:     *clientID,
		QoS:          byte(cfg.MQTTQoS),
		TopicScan:    cfg.SubTopicScan,
		TopicStatus:  cfg.SubTopicStatus,
		TopicEvents:  cfg.SubTopicEvents,
		BatchMaxSize: cfg.BatchMaxSize,
		BatchMaxAge:  time.Duration(cfg.BatchMaxAgeS * float64(time.Second)),
		IDsRefresh:   cfg.IDsRefreshS,
		TSPolicy: ingest.TSPolicy{
			MinEpochMS:    cfg.TSMinEpochMS,
			AllowFallback: cfg.AllowFallbackNowTS,
		},
	}, st)

	if err := sup.Connect(); err != nil {
		slog.Error("failed to connect to mqtt broker", "err", err)
		os.Exit(1)
	}

	if err := sup.Run(context.Background()); err != nil {
		slog.Error("ingestor exited with error", "err", err)
		os.Exit(1)
	}
}
