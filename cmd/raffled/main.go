// Package main runs the raffle daemon: the raffle state machine, its keeper,
// the local randomness coordinator and the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/R3E-Network/neoraffle/internal/app"
	"github.com/R3E-Network/neoraffle/internal/config"
	"github.com/R3E-Network/neoraffle/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/raffle.yaml", "Path to YAML config (optional)")
	envFile := flag.String("env", ".env", "Path to .env file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, app.WithLogger(log))
	if err != nil {
		log.Fatalf("Failed to build application: %v", err)
	}
	if cfg.Auth.JWTSecret == "" {
		log.Warn("RAFFLE_JWT_SECRET not set; keeper, oracle and operator endpoints will reject all requests")
	}

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	log.WithField("addr", application.Addr()).Info("raffle daemon started")

	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown error")
		os.Exit(1)
	}
	log.Info("raffle daemon stopped")
}
