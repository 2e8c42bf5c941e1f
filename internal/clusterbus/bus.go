// Package clusterbus republishes session lifecycle and tick-correction
// events to NATS so multiple driftnet server processes (or an external
// dashboard) can observe connect/disconnect/tick-jump activity without
// being wired into the hot replication path. Adapted from the teacher's
// pkg/nats/client.go connection/reconnect/status-handler plumbing; the
// Odin price/trade subject set is gone, replaced with driftnet's own
// session-event subjects.
package clusterbus

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"driftnet/internal/metrics"
)

// Config bundles the NATS connection tunables, unchanged in shape from
// the teacher's nats.Config.
type Config struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
	MaxPingsOut     int
	PingInterval    time.Duration
}

// DefaultConfig returns reasonable reconnect tunables for a single-process
// deployment's cluster bus connection.
func DefaultConfig(url string) Config {
	return Config{
		URL:             url,
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		ReconnectJitter: 500 * time.Millisecond,
		MaxPingsOut:     3,
		PingInterval:    20 * time.Second,
	}
}

// Bus wraps a NATS connection, publishing driftnet session events and
// letting callers subscribe to the same subjects from another process.
type Bus struct {
	conn    *nats.Conn
	metrics *metrics.Metrics
	logger  *log.Logger

	subsMutex sync.RWMutex
	subs      map[string]*nats.Subscription
}

// Subjects names the driftnet session-event subjects published by Bus,
// replacing the teacher's Odin token/trade subject builder.
type Subjects struct{}

func (Subjects) Connect(clientID string) string    { return fmt.Sprintf("driftnet.session.%s.connect", clientID) }
func (Subjects) Disconnect(clientID string) string { return fmt.Sprintf("driftnet.session.%s.disconnect", clientID) }
func (Subjects) TickJump() string                  { return "driftnet.tick.jump" }

// SubjectBuilder is the package-level Subjects instance, matching the
// teacher's exported global.
var SubjectBuilder = Subjects{}

// Connect dials NATS and registers the connection lifecycle handlers that
// drive metrics.SetNATSConnected/IncrementNATSReconnects.
func Connect(cfg Config, m *metrics.Metrics, logger *log.Logger) (*Bus, error) {
	b := &Bus{metrics: m, logger: logger, subs: make(map[string]*nats.Subscription)}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
		nats.MaxPingsOutstanding(cfg.MaxPingsOut),
		nats.PingInterval(cfg.PingInterval),
		nats.ConnectHandler(b.connectHandler),
		nats.DisconnectErrHandler(b.disconnectHandler),
		nats.ReconnectHandler(b.reconnectHandler),
		nats.ErrorHandler(b.errorHandler),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("clusterbus: connect: %w", err)
	}
	b.conn = conn
	if b.metrics != nil {
		b.metrics.SetNATSConnected(true)
	}
	return b, nil
}

func (b *Bus) logf(format string, args ...any) {
	if b.logger != nil {
		b.logger.Printf(format, args...)
	}
}

func (b *Bus) connectHandler(conn *nats.Conn) {
	b.logf("clusterbus: connected to %s", conn.ConnectedUrl())
	if b.metrics != nil {
		b.metrics.SetNATSConnected(true)
	}
}

func (b *Bus) disconnectHandler(conn *nats.Conn, err error) {
	if err != nil {
		b.logf("clusterbus: disconnected with error: %v", err)
		if b.metrics != nil {
			b.metrics.RecordError("clusterbus_disconnect")
		}
	} else {
		b.logf("clusterbus: disconnected")
	}
	if b.metrics != nil {
		b.metrics.SetNATSConnected(false)
	}
}

func (b *Bus) reconnectHandler(conn *nats.Conn) {
	b.logf("clusterbus: reconnected to %s", conn.ConnectedUrl())
	if b.metrics != nil {
		b.metrics.SetNATSConnected(true)
		b.metrics.IncrementNATSReconnects()
	}
}

func (b *Bus) errorHandler(conn *nats.Conn, sub *nats.Subscription, err error) {
	b.logf("clusterbus: error: %v", err)
	if b.metrics != nil {
		b.metrics.RecordError("clusterbus_error")
	}
}

type connectPayload struct {
	ClientID  string    `json:"clientId"`
	Timestamp time.Time `json:"timestamp"`
}

type disconnectPayload struct {
	ClientID  string    `json:"clientId"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

type tickJumpPayload struct {
	ClientID  string    `json:"clientId"`
	Old       uint16    `json:"old"`
	New       uint16    `json:"new"`
	Timestamp time.Time `json:"timestamp"`
}

// PublishConnect republishes a session.ConnectEvent.
func (b *Bus) PublishConnect(clientID string) error {
	return b.publishJSON(SubjectBuilder.Connect(clientID), connectPayload{ClientID: clientID, Timestamp: time.Now()})
}

// PublishDisconnect republishes a session.DisconnectEvent.
func (b *Bus) PublishDisconnect(clientID, reason string) error {
	return b.publishJSON(SubjectBuilder.Disconnect(clientID), disconnectPayload{ClientID: clientID, Reason: reason, Timestamp: time.Now()})
}

// PublishTickJump republishes a session.TickEvent for clientID's clock
// sync correction.
func (b *Bus) PublishTickJump(clientID string, old, new uint16) error {
	return b.publishJSON(SubjectBuilder.TickJump(), tickJumpPayload{ClientID: clientID, Old: old, New: new, Timestamp: time.Now()})
}

func (b *Bus) publishJSON(subject string, payload any) error {
	start := time.Now()
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("clusterbus: marshal %s: %w", subject, err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		if b.metrics != nil {
			b.metrics.RecordError("clusterbus_publish")
		}
		return fmt.Errorf("clusterbus: publish %s: %w", subject, err)
	}
	if b.metrics != nil {
		b.metrics.IncrementNATSMessages()
		b.metrics.RecordNATSLatency(time.Since(start))
	}
	return nil
}

// Subscribe registers handler for subject, receiving raw message bytes.
func (b *Bus) Subscribe(subject string, handler func([]byte)) error {
	b.subsMutex.Lock()
	defer b.subsMutex.Unlock()

	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		start := time.Now()
		handler(msg.Data)
		if b.metrics != nil {
			b.metrics.IncrementNATSMessages()
			b.metrics.RecordNATSLatency(time.Since(start))
		}
	})
	if err != nil {
		return fmt.Errorf("clusterbus: subscribe %s: %w", subject, err)
	}
	b.subs[subject] = sub
	b.logf("clusterbus: subscribed to %s", subject)
	return nil
}

// IsConnected reports whether the underlying NATS connection is up.
func (b *Bus) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

// Close unsubscribes everything and closes the connection.
func (b *Bus) Close() error {
	b.subsMutex.Lock()
	defer b.subsMutex.Unlock()

	for subject, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil {
			b.logf("clusterbus: error unsubscribing from %s: %v", subject, err)
		}
	}
	if b.conn != nil {
		b.conn.Close()
		if b.metrics != nil {
			b.metrics.SetNATSConnected(false)
		}
	}
	return nil
}
