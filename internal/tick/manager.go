package tick

import "time"

// Event describes a jump in the simulation tick, emitted whenever the
// current tick is set directly rather than advanced one step at a time
// (spec.md section 4.1's TickEvent, and the Jump events driven by
// internal/clocksync).
type Event struct {
	Old Tick
	New Tick
}

// Manager maintains the current simulation tick and a virtual clock that
// advances with wall-clock frame delta, scaled by RelativeSpeed so that
// internal/clocksync can gently speed up or slow down a client's clock
// instead of always snapping.
type Manager struct {
	current      Tick
	tickDuration time.Duration
	accumulator  time.Duration
	// RelativeSpeed scales how fast the virtual clock accumulates frame
	// time relative to wall-clock time. Held in the configured sync speed
	// band (spec.md section 4.3), 1.0 meaning unscaled.
	RelativeSpeed float64
}

// NewManager creates a Manager starting at tick 0.
func NewManager(tickDuration time.Duration) *Manager {
	return &Manager{
		tickDuration:  tickDuration,
		RelativeSpeed: 1.0,
	}
}

// TickDuration returns the configured simulation step duration.
func (m *Manager) TickDuration() time.Duration { return m.tickDuration }

// Current returns the current simulation tick.
func (m *Manager) Current() Tick { return m.current }

// Advance folds a wall-clock frame delta into the virtual clock, scaled by
// RelativeSpeed, and returns how many whole ticks elapsed (normally 0 or 1,
// but may be >1 after a long stall). Each elapsed tick increments Current
// by one; this path never produces an Event, since it is a monotonic local
// step rather than a jump.
func (m *Manager) Advance(frameDelta time.Duration) int {
	scaled := time.Duration(float64(frameDelta) * m.RelativeSpeed)
	m.accumulator += scaled
	steps := 0
	for m.accumulator >= m.tickDuration {
		m.accumulator -= m.tickDuration
		m.current++
		steps++
	}
	return steps
}

// SetTickTo snaps the current tick directly to newTick (spec.md section
// 4.1's set_tick_to), clearing the fractional accumulator, and returns the
// Event describing the jump. Used by internal/clocksync when drift exceeds
// the jump threshold.
func (m *Manager) SetTickTo(newTick Tick) Event {
	ev := Event{Old: m.current, New: newTick}
	m.current = newTick
	m.accumulator = 0
	return ev
}
