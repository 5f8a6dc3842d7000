// Command locator runs the RSSI-based position estimation loop (C5-C6): it
// periodically pulls recent scans, estimates each wearable's position and
// writes the result back to Postgres.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wbh-rtls/rtls-core/internal/config"
	"github.com/wbh-rtls/rtls-core/internal/locate"
	"github.com/wbh-rtls/rtls-core/internal/logging"
	"github.com/wbh-rtls/rtls-core/internal/store"
)

func main() {
	jsonLog := flag.Bool("json", false, "use JSON logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	slog.SetDefault(logging.New(os.Stdout, cfg.SlogLevel(), *jsonLog, "locator"))

	st, err := store.Open(cfg.DatabaseURL, 5)
	if err != nil {
		slog.Error("failed to open database", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	est := locate.NewEstimator(st, locate.Config{
		WindowSeconds:     cfg.WindowSeconds,
		PollInterval:      cfg.PollInterval,
		WriteThrottle:     cfg.WriteThrottleS,
		QueryWindowFactor: cfg.QueryWindowFactor,
		TxPowerDBMAt1M:    cfg.TxPowerDBMAt1M,
		PathLossExponent:  cfg.PathLossExponent,
		WeightDistClampM:  cfg.WeightDistClampM,
		TopK:              cfg.TopK,
		AnchorRefresh:     cfg.IDsRefreshS,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := est.RunLoop(ctx); err != nil {
		slog.Error("locator exited with error", "err", err)
		os.Exit(1)
	}
}
