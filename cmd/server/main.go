package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nodeforge/internal/app/bootstrap"
	"nodeforge/internal/platform/config"
	applog "nodeforge/internal/platform/log"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Config load failed: %v\n", err)
		os.Exit(1)
	}

	applog.Init(applog.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	defer applog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		applog.Fatalf("❌ Bootstrap failed: %v", err)
	}

	if err := app.Run(ctx, shutdownTimeout); err != nil {
		applog.Errorf("❌ Server error: %v", err)
	}
	applog.Info("👋 Server stopped")
}
