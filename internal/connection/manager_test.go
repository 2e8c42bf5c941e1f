package connection

import (
	"testing"
	"time"

	"driftnet/internal/channel"
	"driftnet/internal/tick"
)

func newTestConfig() Config {
	return Config{
		MTU:                   1200,
		ReliableRetryInterval: 50 * time.Millisecond,
		Channels: []ChannelConfig{
			{ID: 0, Mode: channel.OrderedReliable, MaxBacklog: 64},
			{ID: 1, Mode: channel.SequencedUnreliable, MaxBacklog: 0},
		},
	}
}

func TestNewManagerAssignsSessionIDAndChannels(t *testing.T) {
	m := NewManager(newTestConfig())
	if m.SessionID == "" {
		t.Fatal("expected non-empty session id")
	}
	other := NewManager(newTestConfig())
	if m.SessionID == other.SessionID {
		t.Fatal("expected distinct session ids across rebuilt connections")
	}
}

func TestSendTickBuildsTransportPacket(t *testing.T) {
	m := NewManager(newTestConfig())
	packet, err := m.SendTick(tick.Tick(1), -1, 1.0, channel.ID(0), channel.ID(1), time.Now())
	if err != nil {
		t.Fatalf("SendTick: %v", err)
	}
	if len(packet) < 8 {
		t.Fatalf("expected at least a header-sized packet, got %d bytes", len(packet))
	}
}

func TestAllowInboundDefaultsToUnlimited(t *testing.T) {
	m := NewManager(newTestConfig())
	for i := 0; i < 1000; i++ {
		if !m.AllowInbound() {
			t.Fatalf("expected unlimited inbound rate by default, blocked at iteration %d", i)
		}
	}
}
