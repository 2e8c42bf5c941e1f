package session

import (
	"errors"
	"fmt"
	"log"
	"time"

	"driftnet/internal/channel"
	"driftnet/internal/clocksync"
	"driftnet/internal/config"
	"driftnet/internal/connection"
	"driftnet/internal/interpolation"
	"driftnet/internal/metrics"
	"driftnet/internal/prediction"
	"driftnet/internal/replication"
	"driftnet/internal/rtt"
	"driftnet/internal/tick"
	"driftnet/internal/transport"
	"driftnet/internal/world"
)

// ClientApp owns the client-side half of one server connection: tick
// manager, clock sync, ping/RTT, replication receive, and the generic
// prediction/interpolation engines the embedding application drives with
// its own component-specific Differ/SimulateFn/LerpFn callbacks (spec.md
// section 4.7/4.8 deliberately leave those as application collaborators:
// the engines here never see a concrete component type, only opaque
// replication.Component values).
type ClientApp struct {
	cfg      *config.Config
	registry *replication.ComponentRegistry
	metrics  *metrics.Metrics
	logger   *log.Logger

	transport transport.Transport
	conn      *connection.Manager
	sync      *clocksync.Manager
	state     *connection.StateMachine

	World         *world.World
	Tick          *tick.Manager
	Events        *EventSink
	Prediction    *prediction.Engine
	Interpolation *interpolation.Engine
}

// NewClientApp builds a ClientApp driving t as its server connection. t is
// assumed already established (dialed/upgraded), so the state machine
// enters Connected immediately, mirroring spec.md section 4.9's
// Connecting -> Connected transition.
func NewClientApp(cfg *config.Config, registry *replication.ComponentRegistry, m *metrics.Metrics, t transport.Transport, logger *log.Logger) *ClientApp {
	conn := connection.NewManager(connection.Config{
		MTU:                   cfg.Packet.MTU,
		ReliableRetryInterval: cfg.Packet.ReliableRetryInterval,
		Channels:              defaultChannels(),
	})
	a := &ClientApp{
		cfg:           cfg,
		registry:      registry,
		metrics:       m,
		logger:        logger,
		transport:     t,
		conn:          conn,
		sync:          clocksync.NewManager(syncConfigFrom(cfg)),
		World:         world.New(),
		Tick:          tick.NewManager(cfg.Tick.Duration),
		Events:        NewEventSink(),
		Prediction:    prediction.NewEngine(cfg.Prediction.MaxRollbackTicks),
		Interpolation: interpolation.NewEngine(int32(cfg.Interpolation.DelayTicks), cfg.Interpolation.BufferSize),
	}
	a.state = connection.NewStateMachine(nil, nil, a.onDisconnect)
	_ = a.state.Connect()
	_ = a.state.MarkConnected()
	return a
}

// State reports the client's connection lifecycle state (spec.md
// section 4.9).
func (a *ClientApp) State() connection.State { return a.state.State() }

// Disconnect drives the Connected -> Disconnected transition: spec.md
// section 4.9's "despawn all Replicated/Predicted/Interpolated entities
// on the client; reset sync state". Idempotent: a second call is a no-op.
func (a *ClientApp) Disconnect(reason connection.DisconnectReason) {
	a.state.Disconnect(reason)
}

// onDisconnect is the StateMachine's callback, firing at most once per
// Connected session regardless of how many error paths call Disconnect.
func (a *ClientApp) onDisconnect(reason connection.DisconnectReason) {
	a.transport.Close()
	for _, e := range a.World.DespawnAll() {
		a.Events.PushDespawn(e)
	}
	a.sync = clocksync.NewManager(syncConfigFrom(a.cfg))
	a.Events.pushDisconnect(a.conn.SessionID, reason)
	a.logf("session: client: disconnected (%s)", reason)
}

func syncConfigFrom(cfg *config.Config) clocksync.Config {
	c := clocksync.DefaultConfig()
	c.MinSamples = cfg.Sync.MinSamples
	c.JumpThresholdTicks = int32(cfg.Sync.JumpThreshold / cfg.Tick.Duration)
	c.SpeedMin = cfg.Sync.SpeedMin
	c.SpeedMax = cfg.Sync.SpeedMax
	c.InputDelayTicks = int32(cfg.Prediction.InputDelayTicks)
	c.SyncTimeout = cfg.Ping.Timeout
	return c
}

func (a *ClientApp) logf(format string, args ...any) {
	if a.logger != nil {
		a.logger.Printf(format, args...)
	}
}

// SyncState reports the clock sync state machine's current position.
func (a *ClientApp) SyncState() clocksync.State { return a.sync.State() }

// Sender exposes the outbound replication queue for locally-predicted
// entities the client itself is authoritative over (input messages, in
// lightyear terms), letting application code call QueueUpdate/QueueInsert
// directly.
func (a *ClientApp) Sender() *replication.Sender { return a.conn.Sender }

// ReceivePhase drains the server transport, updates RTT/sync, applies
// replicated changes, and checks for sync timeout. Corresponds to
// spec.md section 5's PreUpdate phase. A no-op once the connection has
// left Connected.
func (a *ClientApp) ReceivePhase(now time.Time) {
	if a.state.State() != connection.Connected {
		return
	}
	for {
		data, ok := a.transport.TryRecv()
		if !ok {
			break
		}
		if a.metrics != nil {
			a.metrics.IncrementPacketsReceived()
		}
		if err := a.handlePacket(data, now); err != nil {
			a.logf("session: client: %v", err)
			if a.metrics != nil {
				a.metrics.RecordError("session_receive")
			}
		}
	}

	if a.sync.CheckTimeout(a.conn.RTT, now) {
		a.logf("session: client: sync lost, reverting to Unsynced")
	}

	for _, result := range a.conn.Receiver.ReadMessages() {
		a.conn.Receiver.Apply(a.World, a.Events, result)
	}
}

func (a *ClientApp) handlePacket(data []byte, now time.Time) error {
	remoteTick, packet, err := unframePacket(data)
	if err != nil {
		return err
	}
	deliveries, err := a.conn.Channels.OnPacketReceived(packet)
	if err != nil {
		return fmt.Errorf("on packet received: %w", err)
	}
	for _, d := range deliveries {
		switch d.ChannelID {
		case ActionChannelID:
			msg, err := replication.DecodeActionMessage(d.Payload, a.registry)
			if err != nil {
				return fmt.Errorf("decode action message: %w", err)
			}
			a.conn.Receiver.RecvAction(msg, remoteTick)
		case UpdateChannelID:
			msg, err := replication.DecodeUpdateMessage(d.Payload, a.registry)
			if err != nil {
				return fmt.Errorf("decode update message: %w", err)
			}
			a.conn.Receiver.RecvUpdate(msg, remoteTick)
		case ControlChannelID:
			if err := a.handleControl(d.Payload, now); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *ClientApp) handleControl(payload []byte, now time.Time) error {
	kind, _, pong, err := decodeControl(payload)
	if err != nil {
		return err
	}
	if kind != controlPong {
		return nil // the client never receives a ping from the server
	}
	rtt, err := a.conn.RTT.OnPong(toRTTPong(pong), now)
	if err != nil {
		return fmt.Errorf("rtt on pong: %w", err)
	}
	if a.metrics != nil {
		a.metrics.RecordPacketRTT(rtt)
	}
	if event, jumped := a.sync.Observe(a.Tick, a.conn.RTT, pong.ServerTick, now); jumped {
		a.Events.pushTick(event.Old, event.New)
		if a.metrics != nil {
			driftTicks := tick.Diff(event.New, event.Old)
			a.metrics.SetTickDrift(time.Duration(driftTicks) * a.cfg.Tick.Duration)
		}
	}
	return nil
}

func toRTTPong(p wirePong) rtt.Pong {
	return rtt.Pong{PingID: p.PingID, PingRecvTime: p.PingRecvTime, PongSendTime: p.PongSendTime}
}

// SendPhase advances the local tick, issues a ping if due, and flushes
// any queued replication traffic. Corresponds to spec.md section 5's
// PostUpdate phase. A no-op once the connection has left Connected.
//
// Per spec.md section 4.3, "while Unsynced the client sends no
// replication/messages except ping/handshake": the ping above is always
// enqueued and flushed, but the replication budget passed to SendTick
// drops to zero until the clock sync manager reaches Synced, so
// Sender.Build selects no groups and no action/update message is built.
func (a *ClientApp) SendPhase(frameDelta time.Duration, now time.Time) {
	if a.state.State() != connection.Connected {
		return
	}
	a.Tick.Advance(frameDelta)

	if a.conn.RTT.ShouldPing(now) {
		ping := a.conn.RTT.IssuePing(now)
		if _, err := a.conn.Channels.Enqueue(ControlChannelID, encodePing(wirePing{ID: ping.ID, SendTime: ping.SendTime})); err != nil {
			a.logf("session: client: enqueue ping: %v", err)
		}
	}

	budget := defaultSendBudget
	if a.sync.State() != clocksync.Synced {
		budget = 0
	}
	packet, err := a.conn.SendTick(a.Tick.Current(), budget, defaultSendCost, ActionChannelID, UpdateChannelID, now)
	if err != nil {
		a.logf("session: client: send tick: %v", err)
		if errors.Is(err, channel.ErrChannelSaturated) {
			a.Disconnect(connection.ReasonChannelSaturated)
		}
		return
	}
	if err := a.transport.Send(framePacket(a.Tick.Current(), packet)); err != nil {
		a.logf("session: client: transport send: %v", err)
		if errors.Is(err, transport.ErrClosed) {
			a.Disconnect(connection.ReasonTransportError)
		}
		return
	}
	if a.metrics != nil {
		a.metrics.IncrementPacketsSent()
	}
	a.conn.RTT.PruneStalePings(now)
}
