// Command client runs a standalone driftnet client: it dials a
// replication server over WebSocket and drives the tick loop that feeds
// ReceivePhase/SendPhase, printing sync state transitions so the binary
// is useful as a connectivity smoke test. A real game client embeds
// session.ClientApp directly and drives Prediction/Interpolation with
// its own component types; this binary only exercises the generic
// replication/transport/sync path.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "go.uber.org/automaxprocs"

	"driftnet/internal/config"
	"driftnet/internal/logging"
	"driftnet/internal/metrics"
	"driftnet/internal/replication"
	"driftnet/internal/session"
	"driftnet/internal/transport"
)

func main() {
	_ = godotenv.Load()

	serverURL := flag.String("server", "ws://127.0.0.1:7777/ws", "driftnet server WebSocket URL")
	token := flag.String("token", "", "auth token (appended as ?token=)")
	flag.Parse()

	logger := logging.New("client", os.Stdout)

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatalf("client: config: %v", err)
	}

	url := *serverURL
	if *token != "" {
		url += "?token=" + *token
	}

	t, err := transport.Dial(url, logger)
	if err != nil {
		logger.Fatalf("client: dial: %v", err)
	}
	defer t.Close()

	m := metrics.New()
	registry := replication.NewComponentRegistry()
	app := session.NewClientApp(cfg, registry, m, t, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(cfg.Tick.Duration)
	defer ticker.Stop()

	lastSyncState := app.SyncState()
	logger.Printf("client: connecting to %s", *serverURL)

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			app.ReceivePhase(now)
			app.SendPhase(cfg.Tick.Duration, now)

			if state := app.SyncState(); state != lastSyncState {
				logger.Printf("client: sync state %v -> %v", lastSyncState, state)
				lastSyncState = state
			}
			for range app.Events.DrainTickEvents() {
				logger.Printf("client: tick correction applied")
			}
		}
	}
}
