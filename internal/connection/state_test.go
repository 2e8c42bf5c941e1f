package connection

import "testing"

func TestStateMachineHappyPath(t *testing.T) {
	var events []string
	m := NewStateMachine(
		func() { events = append(events, "connect") },
		func() { events = append(events, "connected") },
		func(reason DisconnectReason) { events = append(events, "disconnect:"+string(reason)) },
	)
	if m.State() != Disconnected {
		t.Fatalf("expected initial state Disconnected, got %v", m.State())
	}
	if err := m.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if m.State() != Connecting {
		t.Fatalf("expected Connecting, got %v", m.State())
	}
	if err := m.MarkConnected(); err != nil {
		t.Fatalf("MarkConnected: %v", err)
	}
	if m.State() != Connected {
		t.Fatalf("expected Connected, got %v", m.State())
	}
	m.Disconnect(ReasonPeerClosed)
	if m.State() != Disconnected {
		t.Fatalf("expected Disconnected, got %v", m.State())
	}

	want := []string{"connect", "connected", "disconnect:peer_closed"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events[%d] = %q, want %q", i, events[i], want[i])
		}
	}
}

func TestStateMachineRejectsInvalidTransitions(t *testing.T) {
	m := NewStateMachine(nil, nil, nil)
	if err := m.MarkConnected(); err == nil {
		t.Fatal("expected error transitioning Disconnected -> Connected directly")
	}
	m.Connect()
	if err := m.Connect(); err == nil {
		t.Fatal("expected error calling Connect twice")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	calls := 0
	m := NewStateMachine(nil, nil, func(reason DisconnectReason) { calls++ })
	m.Disconnect(ReasonLocalCommand)
	m.Disconnect(ReasonLocalCommand)
	if calls != 0 {
		t.Fatalf("expected no disconnect callback from an already-Disconnected state, got %d calls", calls)
	}

	m.Connect()
	m.Disconnect(ReasonLocalCommand)
	m.Disconnect(ReasonLocalCommand)
	if calls != 1 {
		t.Fatalf("expected exactly 1 disconnect callback, got %d", calls)
	}
}
