package session

import (
	"fmt"
	"log"
	"time"

	"driftnet/internal/config"
	"driftnet/internal/connection"
	"driftnet/internal/metrics"
	"driftnet/internal/replication"
	"driftnet/internal/transport"
)

// localHostClientID names the one implicit client a host-server's local
// player connects as.
const localHostClientID = "host-local"

// HostServerApp wraps a ServerApp and one local ClientApp joined by an
// in-memory transport pair instead of the network. The local client's
// traffic still goes through the full channel, ping and replication
// pipeline on both sides; only authentication is skipped. The local
// ClientApp's Prediction and Interpolation engines are built as for any
// client and are not switched off here. Both apps are driven from the
// caller's goroutine.
type HostServerApp struct {
	Server *ServerApp
	Client *ClientApp
}

// NewHostServerApp builds a ServerApp and a local ClientApp connected to
// it via an in-memory pipe, with the local client pre-accepted without
// authentication.
func NewHostServerApp(cfg *config.Config, registry *replication.ComponentRegistry, m *metrics.Metrics, logger *log.Logger) (*HostServerApp, error) {
	server := NewServerApp(cfg, registry, m, nil, logger)
	serverSide, clientSide := transport.NewMemoryPair(256)

	if _, err := server.AcceptLocal(serverSide, localHostClientID); err != nil {
		return nil, fmt.Errorf("session: host-server: %w", err)
	}

	client := NewClientApp(cfg, registry, m, clientSide, logger)
	return &HostServerApp{Server: server, Client: client}, nil
}

// ReceivePhase runs both the server's and the local client's receive
// phase. The server runs first so the local client observes the same
// tick's authoritative state the rest of the world does.
func (h *HostServerApp) ReceivePhase(now time.Time) {
	h.Server.ReceivePhase(now)
	h.Client.ReceivePhase(now)
}

// SendPhase runs both apps' send phase with the same frame delta.
func (h *HostServerApp) SendPhase(frameDelta time.Duration, now time.Time) {
	h.Server.SendPhase(frameDelta, now)
	h.Client.SendPhase(frameDelta, now)
}

// Disconnect tears down the local client's connection, matching spec.md
// section 9's synthesized disconnect for host-server shutdown.
func (h *HostServerApp) Disconnect() {
	h.Server.Disconnect(localHostClientID, connection.ReasonLocalCommand)
}
