package tick

import "testing"
import "time"

func TestAdvanceAccumulatesSteps(t *testing.T) {
	m := NewManager(16 * time.Millisecond)
	steps := m.Advance(50 * time.Millisecond)
	if steps != 3 {
		t.Fatalf("Advance(50ms) with 16ms tick = %d steps, want 3", steps)
	}
	if m.Current() != 3 {
		t.Fatalf("Current() = %v, want 3", m.Current())
	}
}

func TestRelativeSpeedScalesAccumulation(t *testing.T) {
	m := NewManager(10 * time.Millisecond)
	m.RelativeSpeed = 0.5
	steps := m.Advance(20 * time.Millisecond)
	if steps != 1 {
		t.Fatalf("Advance with half speed = %d steps, want 1", steps)
	}
}

func TestSetTickToEmitsEvent(t *testing.T) {
	m := NewManager(16 * time.Millisecond)
	m.Advance(16 * time.Millisecond)
	ev := m.SetTickTo(Tick(100))
	if ev.Old != 1 || ev.New != 100 {
		t.Fatalf("SetTickTo event = %+v, want Old=1 New=100", ev)
	}
	if m.Current() != 100 {
		t.Fatalf("Current() after jump = %v, want 100", m.Current())
	}
}
