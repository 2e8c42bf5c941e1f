package session

import (
	"errors"
	"fmt"
	"log"
	"time"

	"driftnet/internal/channel"
	"driftnet/internal/config"
	"driftnet/internal/connection"
	"driftnet/internal/metrics"
	"driftnet/internal/replication"
	"driftnet/internal/tick"
	"driftnet/internal/transport"
	"driftnet/internal/world"
	"driftnet/pkg/entity"
)

// defaultSendBudget/defaultSendCost tune the priority accumulator's per-tick
// bandwidth allocation (spec.md section 4.5 step 4). Groups are small in
// number for a single connection, so a flat budget of 4 selected groups
// per send tick at a cost of 1.0 each is plenty to demonstrate starvation
// freedom (P5 / scenario 5) without needing a throughput estimate wired
// in from the transport.
const (
	defaultSendBudget = 4
	defaultSendCost   = 1.0
)

func defaultChannels() []connection.ChannelConfig {
	return []connection.ChannelConfig{
		{ID: ActionChannelID, Mode: channel.OrderedReliable, MaxBacklog: 1024},
		{ID: UpdateChannelID, Mode: channel.SequencedUnreliable, MaxBacklog: 0},
		{ID: ControlChannelID, Mode: channel.UnorderedUnreliable, MaxBacklog: 0},
	}
}

// Replicate describes how one spawned entity is fanned out to connected
// clients, per spec.md section 6's per-entity Replicate{replication_target,
// group, hierarchy}. Target is a set of client ids; a nil/empty Target
// replicates to every currently- and future-connected client. Prediction
// and interpolation targets are a client-side concern (ClientApp decides
// locally which Confirmed entities it runs prediction/interpolation over)
// and aren't modeled here.
type Replicate struct {
	Group  replication.GroupID
	Parent entity.Entity
	Target []string
}

type replicatedEntity struct {
	rep   Replicate
	alive bool
}

// serverConn bundles one client connection's transport and protocol
// state, rebuilt from scratch on every new connection attempt (spec.md
// section 4.9's rebuild-on-connect guarantee).
type serverConn struct {
	clientID    string
	transport   transport.Transport
	conn        *connection.Manager
	state       *connection.StateMachine
	connectedAt time.Time
}

// ServerApp owns the authoritative World and one connection.Manager per
// connected client, draining transports and applying/emitting replication
// traffic each frame. It is the server-side half of spec.md section 5's
// "application drives the pipeline" model and the analogue of the
// teacher's internal/server.Server.
type ServerApp struct {
	cfg      *config.Config
	registry *replication.ComponentRegistry
	metrics  *metrics.Metrics
	auth     connection.Authenticator
	logger   *log.Logger

	World     *world.World
	Tick      *tick.Manager
	Events    *EventSink
	allocator *entity.Allocator

	conns    map[string]*serverConn
	entities map[entity.Entity]*replicatedEntity
}

// NewServerApp builds a ServerApp. auth may be nil to accept every
// connection unauthenticated (useful for host-server mode, section 9).
func NewServerApp(cfg *config.Config, registry *replication.ComponentRegistry, m *metrics.Metrics, auth connection.Authenticator, logger *log.Logger) *ServerApp {
	return &ServerApp{
		cfg:       cfg,
		registry:  registry,
		metrics:   m,
		auth:      auth,
		logger:    logger,
		World:     world.New(),
		Tick:      tick.NewManager(cfg.Tick.Duration),
		Events:    NewEventSink(),
		allocator: entity.NewAllocator(),
		conns:     make(map[string]*serverConn),
		entities:  make(map[entity.Entity]*replicatedEntity),
	}
}

func (a *ServerApp) logf(format string, args ...any) {
	if a.logger != nil {
		a.logger.Printf(format, args...)
	}
}

// Accept authenticates token (if an Authenticator is configured) and
// brings up a fresh connection over t, synthesizing the ConnectEvent once
// the handshake completes (spec.md section 4.9's Connecting -> Connected
// transition).
func (a *ServerApp) Accept(t transport.Transport, token string) (string, error) {
	clientID := token
	if a.auth != nil {
		id, err := a.auth.Authenticate(token)
		if err != nil {
			return "", fmt.Errorf("session: accept: %w", err)
		}
		clientID = id
	}
	return a.acceptAs(t, clientID)
}

// AcceptLocal brings up a connection over t without running the
// Authenticator, for host-server mode (spec.md section 9): the local
// client's "networking" is an in-memory pipe with no handshake to
// authenticate.
func (a *ServerApp) AcceptLocal(t transport.Transport, clientID string) (string, error) {
	return a.acceptAs(t, clientID)
}

func (a *ServerApp) acceptAs(t transport.Transport, clientID string) (string, error) {
	mgr := connection.NewManager(connection.Config{
		MTU:                   a.cfg.Packet.MTU,
		ReliableRetryInterval: a.cfg.Packet.ReliableRetryInterval,
		Channels:              defaultChannels(),
	})

	sc := &serverConn{clientID: clientID, transport: t, conn: mgr}
	sc.state = connection.NewStateMachine(nil, func() {
		a.Events.pushConnect(clientID)
		if a.metrics != nil {
			a.metrics.IncrementConnections()
		}
	}, func(reason connection.DisconnectReason) {
		a.Events.pushDisconnect(clientID, reason)
		if a.metrics != nil {
			a.metrics.DecrementConnections(time.Since(sc.connectedAt))
		}
	})

	if err := sc.state.Connect(); err != nil {
		return "", fmt.Errorf("session: accept: %w", err)
	}
	sc.connectedAt = time.Now()
	if err := sc.state.MarkConnected(); err != nil {
		return "", fmt.Errorf("session: accept: %w", err)
	}

	a.conns[clientID] = sc
	a.fanExistingEntitiesTo(sc)
	a.logf("session: client %s connected (session %s)", clientID, mgr.SessionID)
	return clientID, nil
}

// fanExistingEntitiesTo registers every live replicated entity that
// targets sc with sc's Sender and queues a spawn action for it, so a
// late-joining client receives a spawn burst instead of only future
// deltas. These spawns carry no components: components attached before
// the join reach the client only through later Insert/Update calls.
func (a *ServerApp) fanExistingEntitiesTo(sc *serverConn) {
	for e, re := range a.entities {
		if !re.alive || !targets(re.rep, sc.clientID) {
			continue
		}
		a.registerAndSpawn(sc, e, re.rep)
		sc.conn.Sender.QueueSpawn(e, nil)
	}
}

func targets(rep Replicate, clientID string) bool {
	if len(rep.Target) == 0 {
		return true
	}
	for _, id := range rep.Target {
		if id == clientID {
			return true
		}
	}
	return false
}

// Disconnect tears down clientID's connection and cleans up its
// connection-owned state, per spec.md section 5's cancellation rule.
func (a *ServerApp) Disconnect(clientID string, reason connection.DisconnectReason) {
	sc, ok := a.conns[clientID]
	if !ok {
		return
	}
	sc.state.Disconnect(reason)
	sc.transport.Close()
	delete(a.conns, clientID)
}

// Spawn creates a new authoritative entity with the given components,
// queues a spawn action on every targeted connection's Sender, and
// returns the new entity handle.
func (a *ServerApp) Spawn(rep Replicate, components []replication.Component) entity.Entity {
	e := a.World.Spawn()
	for _, c := range components {
		a.World.Insert(e, c)
	}
	a.entities[e] = &replicatedEntity{rep: rep, alive: true}

	for _, sc := range a.conns {
		if !targets(rep, sc.clientID) {
			continue
		}
		a.registerAndSpawn(sc, e, rep)
		sc.conn.Sender.QueueSpawn(e, components)
	}
	if a.metrics != nil {
		a.metrics.IncrementEntitiesSpawned()
	}
	return e
}

func (a *ServerApp) registerAndSpawn(sc *serverConn, e entity.Entity, rep Replicate) {
	sc.conn.Sender.RegisterEntity(e, rep.Group, rep.Parent)
}

// Despawn removes e from the World and queues a despawn action on every
// connection it was replicated to.
func (a *ServerApp) Despawn(e entity.Entity) {
	re, ok := a.entities[e]
	if !ok {
		return
	}
	re.alive = false
	a.World.Despawn(e)
	for _, sc := range a.conns {
		if !targets(re.rep, sc.clientID) {
			continue
		}
		sc.conn.Sender.QueueDespawn(e)
	}
	if a.metrics != nil {
		a.metrics.IncrementEntitiesDespawned()
	}
	delete(a.entities, e)
}

// Insert attaches c to e (first-time presence, reliable action path) and
// fans the change out to every targeted connection.
func (a *ServerApp) Insert(e entity.Entity, c replication.Component) {
	re, ok := a.entities[e]
	if !ok {
		return
	}
	a.World.Insert(e, c)
	for _, sc := range a.conns {
		if !targets(re.rep, sc.clientID) {
			continue
		}
		sc.conn.Sender.QueueInsert(e, c)
	}
}

// Remove detaches kind from e and fans the change out.
func (a *ServerApp) Remove(e entity.Entity, kind replication.ComponentKind) {
	re, ok := a.entities[e]
	if !ok {
		return
	}
	a.World.Remove(e, kind)
	for _, sc := range a.conns {
		if !targets(re.rep, sc.clientID) {
			continue
		}
		sc.conn.Sender.QueueRemove(e, kind)
	}
}

// Update changes c's value on e (unreliable update path unless an action
// for e is already pending this tick) and fans the change out.
func (a *ServerApp) Update(e entity.Entity, c replication.Component) {
	re, ok := a.entities[e]
	if !ok {
		return
	}
	a.World.Update(e, c)
	for _, sc := range a.conns {
		if !targets(re.rep, sc.clientID) {
			continue
		}
		sc.conn.Sender.QueueUpdate(e, c)
	}
}

// ReceivePhase drains every connection's transport, advances its RTT/sync
// state, dispatches channel deliveries into replication, and applies
// whatever is now causally ready. Corresponds to spec.md section 5's
// PreUpdate phase.
func (a *ServerApp) ReceivePhase(now time.Time) {
	for clientID, sc := range a.conns {
		for {
			data, ok := sc.transport.TryRecv()
			if !ok {
				break
			}
			if !sc.conn.AllowInbound() {
				continue
			}
			if a.metrics != nil {
				a.metrics.IncrementPacketsReceived()
			}
			if err := a.handlePacket(sc, data, now); err != nil {
				a.logf("session: client %s: %v", clientID, err)
				if a.metrics != nil {
					a.metrics.RecordError("session_receive")
				}
			}
		}

		if sc.conn.RTT.TimedOut(now) {
			a.Disconnect(clientID, connection.ReasonTimeout)
			continue
		}

		for _, result := range sc.conn.Receiver.ReadMessages() {
			sc.conn.Receiver.Apply(a.World, a.Events, result)
		}
	}
}

func (a *ServerApp) handlePacket(sc *serverConn, data []byte, now time.Time) error {
	remoteTick, packet, err := unframePacket(data)
	if err != nil {
		return err
	}
	deliveries, err := sc.conn.Channels.OnPacketReceived(packet)
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
			sc.conn.Receiver.RecvAction(msg, remoteTick)
		case UpdateChannelID:
			msg, err := replication.DecodeUpdateMessage(d.Payload, a.registry)
			if err != nil {
				return fmt.Errorf("decode update message: %w", err)
			}
			sc.conn.Receiver.RecvUpdate(msg, remoteTick)
		case ControlChannelID:
			if err := a.handleControl(sc, d.Payload, now); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *ServerApp) handleControl(sc *serverConn, payload []byte, now time.Time) error {
	kind, ping, _, err := decodeControl(payload)
	if err != nil {
		return err
	}
	if kind != controlPing {
		return nil // the server never issues pings itself, so a pong here is stray
	}
	pong := wirePong{PingID: ping.ID, PingRecvTime: now, PongSendTime: now, ServerTick: a.Tick.Current()}
	if _, err := sc.conn.Channels.Enqueue(ControlChannelID, encodePong(pong)); err != nil {
		return fmt.Errorf("enqueue pong: %w", err)
	}
	return nil
}

// SendPhase advances the master tick, builds and sends one outbound
// packet per connection, and prunes stale pings. Corresponds to spec.md
// section 5's PostUpdate phase. A reliable channel that reports
// ErrChannelSaturated is fatal to that connection per spec.md section 7:
// the client is disconnected so it can cleanly reconnect rather than
// limping along with a backlog it can never drain.
func (a *ServerApp) SendPhase(frameDelta time.Duration, now time.Time) {
	old := a.Tick.Current()
	a.Tick.Advance(frameDelta)
	if a.Tick.Current() != old {
		a.Events.pushTick(old, a.Tick.Current())
	}
	if a.metrics != nil {
		a.metrics.SetTickDrift(0)
	}

	for clientID, sc := range a.conns {
		packet, err := sc.conn.SendTick(a.Tick.Current(), defaultSendBudget, defaultSendCost, ActionChannelID, UpdateChannelID, now)
		if err != nil {
			a.logf("session: client %s: send tick: %v", clientID, err)
			if errors.Is(err, channel.ErrChannelSaturated) {
				a.Disconnect(clientID, connection.ReasonChannelSaturated)
			}
			continue
		}
		if err := sc.transport.Send(framePacket(a.Tick.Current(), packet)); err != nil {
			a.logf("session: client %s: transport send: %v", clientID, err)
			if errors.Is(err, transport.ErrClosed) {
				a.Disconnect(clientID, connection.ReasonTransportError)
			}
			continue
		}
		if a.metrics != nil {
			a.metrics.IncrementPacketsSent()
			a.metrics.SetChannelBacklog(fmt.Sprintf("%s:action", clientID), sc.conn.Channels.PendingBacklog(ActionChannelID))
		}
		sc.conn.RTT.PruneStalePings(now)
	}
}
