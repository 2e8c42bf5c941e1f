// Package connection implements per-peer connection lifecycle: the
// client-side connection state machine, authentication, and the
// ConnectionManager that ties a channel.Manager, rtt.Estimator,
// clocksync.Manager, and replication Sender/Receiver together per
// connection (spec.md section 4.9).
package connection

import (
	"fmt"
	"sync"
)

// State is one of the connection lifecycle states of spec.md section 4.9.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DisconnectReason explains why a Connected connection dropped.
type DisconnectReason string

const (
	ReasonTransportError   DisconnectReason = "transport_error"
	ReasonPeerClosed       DisconnectReason = "peer_closed"
	ReasonLocalCommand     DisconnectReason = "local_command"
	ReasonTimeout          DisconnectReason = "timeout"
	ReasonChannelSaturated DisconnectReason = "channel_saturated"
)

// StateMachine implements the transitions of spec.md section 4.9:
// Disconnected -> Connecting -> Connected, any state -> Disconnected.
type StateMachine struct {
	mu    sync.Mutex
	state State

	onConnect    func()
	onConnected  func()
	onDisconnect func(reason DisconnectReason)
}

// NewStateMachine creates a StateMachine starting Disconnected.
// Callbacks fire synchronously from within the transition call and may
// be nil.
func NewStateMachine(onConnect func(), onConnected func(), onDisconnect func(reason DisconnectReason)) *StateMachine {
	return &StateMachine{state: Disconnected, onConnect: onConnect, onConnected: onConnected, onDisconnect: onDisconnect}
}

// State returns the current state.
func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect transitions Disconnected -> Connecting. Rebuild-on-connect
// (fresh transport/ConnectionManager, per spec.md section 4.9) is the
// caller's responsibility before invoking this; onConnect fires after the
// state flips so the callback sees the new state via State().
func (m *StateMachine) Connect() error {
	m.mu.Lock()
	if m.state != Disconnected {
		m.mu.Unlock()
		return fmt.Errorf("connection: Connect called from state %v", m.state)
	}
	m.state = Connecting
	m.mu.Unlock()
	if m.onConnect != nil {
		m.onConnect()
	}
	return nil
}

// MarkConnected transitions Connecting -> Connected, called once the
// transport reports connected AND the handshake has completed.
func (m *StateMachine) MarkConnected() error {
	m.mu.Lock()
	if m.state != Connecting {
		m.mu.Unlock()
		return fmt.Errorf("connection: MarkConnected called from state %v", m.state)
	}
	m.state = Connected
	m.mu.Unlock()
	if m.onConnected != nil {
		m.onConnected()
	}
	return nil
}

// Disconnect transitions any state to Disconnected and fires onDisconnect
// if the prior state was not already Disconnected. Idempotent.
func (m *StateMachine) Disconnect(reason DisconnectReason) {
	m.mu.Lock()
	prior := m.state
	m.state = Disconnected
	m.mu.Unlock()
	if prior != Disconnected && m.onDisconnect != nil {
		m.onDisconnect(reason)
	}
}
