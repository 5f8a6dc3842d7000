// Command apiserver runs the read-only HTTP surface plus the push-channel
// broadcaster (C7-C8): four change pollers feed a websocket hub that serves
// an initial anchors+wearables snapshot followed by live updates.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wbh-rtls/rtls-core/internal/authstub"
	"github.com/wbh-rtls/rtls-core/internal/broadcast"
	"github.com/wbh-rtls/rtls-core/internal/config"
	"github.com/wbh-rtls/rtls-core/internal/httpapi"
	"github.com/wbh-rtls/rtls-core/internal/logging"
	"github.com/wbh-rtls/rtls-core/internal/store"
)

func main() {
	jsonLog := flag.Bool("json", false, "use JSON logging")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	slog.SetDefault(logging.New(os.Stdout, cfg.SlogLevel(), *jsonLog, "apiserver"))

	if cfg.SecretKey == "" {
		slog.Warn("SECRET_KEY is not set; provisioning routes will reject every token")
	}

	st, err := store.Open(cfg.DatabaseURL, 10)
	if err != nil {
		slog.Error("failed to open database", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	hub := broadcast.NewHub(st)
	iss := authstub.NewIssuer(cfg.SecretKey, time.Duration(cfg.TokenLifetimeHours)*time.Hour)
	srv := httpapi.New(*addr, st, hub, iss)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- broadcast.RunPollers(ctx, st, hub) }()
	go func() { errCh <- srv.Run() }()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			slog.Error("apiserver component exited", "err", err)
			os.Exit(1)
		}
	}
}
