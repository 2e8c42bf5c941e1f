// Command server runs a standalone driftnet replication server: it
// accepts WebSocket clients, drives the authoritative world's tick loop,
// and republishes session events onto an optional NATS cluster bus.
// Mirrors the teacher's cmd/main.go bootstrap: dotenv, caarlos0/env
// config, automaxprocs, structured logging, graceful signal shutdown.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "go.uber.org/automaxprocs"

	"driftnet/internal/clusterbus"
	"driftnet/internal/config"
	"driftnet/internal/logging"
	"driftnet/internal/metrics"
	"driftnet/internal/replication"
	"driftnet/internal/server"
)

func main() {
	_ = godotenv.Load()

	logger := logging.New("server", os.Stdout)

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatalf("server: config: %v", err)
	}

	m := metrics.New()
	registry := replication.NewComponentRegistry()

	var bus *clusterbus.Bus
	if url := os.Getenv("DRIFTNET_NATS_URL"); url != "" {
		bus, err = clusterbus.Connect(clusterbus.DefaultConfig(url), m, logging.New("clusterbus", os.Stdout))
		if err != nil {
			logger.Printf("server: cluster bus disabled: %v", err)
		} else {
			defer bus.Close()
		}
	}

	srv := server.New(cfg, registry, m, bus, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Fatalf("server: %v", err)
	}
}
