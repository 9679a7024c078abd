package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/utafrali/LoyaltyGo/internal/app"
	"github.com/utafrali/LoyaltyGo/internal/config"
	"github.com/utafrali/LoyaltyGo/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		slog.Error("voucher service exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New("voucher-service", cfg.LogLevel)
	slog.SetDefault(log)
	log.Info("voucher service starting",
		slog.String("environment", cfg.Environment),
		slog.Int("http_port", cfg.HTTPPort),
	)

	a, err := app.NewApp(cfg, log)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if err := a.Run(ctx); err != nil {
		return err
	}

	log.Info("voucher service stopped")
	return nil
}
