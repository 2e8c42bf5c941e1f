package session

import (
	"driftnet/internal/connection"
	"driftnet/internal/replication"
	"driftnet/internal/tick"
	"driftnet/pkg/entity"
)

// ConnectEvent fires once a connection reaches Connected, per spec.md
// section 6's Session surface event list.
type ConnectEvent struct {
	ClientID string
}

// DisconnectEvent fires once a connection leaves Connected.
type DisconnectEvent struct {
	ClientID string
	Reason   connection.DisconnectReason
}

// TickEvent reports a change of the local tick. A ServerApp queues one
// for every frame in which its tick advances; a ClientApp queues one only
// when clock sync jumps its tick.
type TickEvent struct {
	Old, New tick.Tick
}

// EntityEventKind distinguishes which replication.Events callback fired.
type EntityEventKind int

const (
	EntitySpawned EntityEventKind = iota
	EntityDespawned
	ComponentInserted
	ComponentUpdated
	ComponentRemoved
)

// EntityEvent is the flattened form of replication.Events' five
// callbacks, queued for application code to drain once per frame instead
// of reacting inline mid-apply.
type EntityEvent struct {
	Kind          EntityEventKind
	Entity        entity.Entity
	Component     replication.Component
	ComponentKind replication.ComponentKind
}

// EventSink implements replication.Events by appending to an in-memory
// queue, draining on demand. One EventSink is shared across every
// connection on an app instance: entity identity is already local by the
// time these callbacks fire (the receiver has already gone through
// RemoteEntityMap), so there's nothing connection-specific left to carry.
type EventSink struct {
	entities []EntityEvent
	connects []ConnectEvent
	disconnects []DisconnectEvent
	ticks    []TickEvent
}

// NewEventSink creates an empty EventSink.
func NewEventSink() *EventSink {
	return &EventSink{}
}

func (s *EventSink) PushSpawn(e entity.Entity) {
	s.entities = append(s.entities, EntityEvent{Kind: EntitySpawned, Entity: e})
}

func (s *EventSink) PushDespawn(e entity.Entity) {
	s.entities = append(s.entities, EntityEvent{Kind: EntityDespawned, Entity: e})
}

func (s *EventSink) PushInsert(e entity.Entity, c replication.Component) {
	s.entities = append(s.entities, EntityEvent{Kind: ComponentInserted, Entity: e, Component: c})
}

func (s *EventSink) PushUpdate(e entity.Entity, c replication.Component) {
	s.entities = append(s.entities, EntityEvent{Kind: ComponentUpdated, Entity: e, Component: c})
}

func (s *EventSink) PushRemove(e entity.Entity, kind replication.ComponentKind) {
	s.entities = append(s.entities, EntityEvent{Kind: ComponentRemoved, Entity: e, ComponentKind: kind})
}

func (s *EventSink) pushConnect(clientID string) {
	s.connects = append(s.connects, ConnectEvent{ClientID: clientID})
}

func (s *EventSink) pushDisconnect(clientID string, reason connection.DisconnectReason) {
	s.disconnects = append(s.disconnects, DisconnectEvent{ClientID: clientID, Reason: reason})
}

func (s *EventSink) pushTick(old, new tick.Tick) {
	s.ticks = append(s.ticks, TickEvent{Old: old, New: new})
}

// DrainEntityEvents returns and clears every queued entity/component event.
func (s *EventSink) DrainEntityEvents() []EntityEvent {
	out := s.entities
	s.entities = nil
	return out
}

// DrainConnectEvents returns and clears every queued ConnectEvent.
func (s *EventSink) DrainConnectEvents() []ConnectEvent {
	out := s.connects
	s.connects = nil
	return out
}

// DrainDisconnectEvents returns and clears every queued DisconnectEvent.
func (s *EventSink) DrainDisconnectEvents() []DisconnectEvent {
	out := s.disconnects
	s.disconnects = nil
	return out
}

// DrainTickEvents returns and clears every queued TickEvent.
func (s *EventSink) DrainTickEvents() []TickEvent {
	out := s.ticks
	s.ticks = nil
	return out
}

var _ replication.Events = (*EventSink)(nil)
