// Package clocksync implements the Sync Manager of spec.md section 4.3: it
// drives the client's local tick ahead of the server's so that an input
// stamped tick T arrives just before the server executes tick T.
package clocksync

import (
	"time"

	"driftnet/internal/rtt"
	"driftnet/internal/tick"
)

// State is the Sync Manager's state machine position.
type State int

const (
	// Unsynced: still collecting pong samples; the connection must not
	// send replication/application messages yet (spec.md section 4.3).
	Unsynced State = iota
	// Synced: the offset estimate is trustworthy and the tick manager is
	// being actively driven.
	Synced
)

func (s State) String() string {
	if s == Synced {
		return "Synced"
	}
	return "Unsynced"
}

// Config bundles the tunables spec.md section 6 lists under sync.*.
type Config struct {
	MinSamples         int       // pong samples required before leaving Unsynced
	JumpThresholdTicks int32     // signed tick delta beyond which we snap instead of drift-correct
	SpeedMin      float64       // lower bound of the drift-correction speed band
	SpeedMax      float64       // upper bound of the drift-correction speed band
	InputDelayTicks int32       // input_delay term of the target-offset formula
	SyncTimeout   time.Duration // time with no pong before falling back to Unsynced
}

// DefaultConfig returns reasonable defaults matching spec.md's examples.
func DefaultConfig() Config {
	return Config{
		MinSamples:         10,
		JumpThresholdTicks: 5,
		SpeedMin:           0.9,
		SpeedMax:           1.1,
		InputDelayTicks:    1,
		SyncTimeout:        5 * time.Second,
	}
}

// Manager implements the client-side tick synchronization state machine.
type Manager struct {
	cfg      Config
	state    State
	samples  int
	lastPong time.Time // now of the most recent Observe call
}

// NewManager creates a Manager in the Unsynced state.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, state: Unsynced}
}

// State returns the current synchronization state.
func (m *Manager) State() State { return m.state }

// Reset returns the Manager to Unsynced, discarding accumulated samples.
// Used on SyncLost (spec.md section 7) and on reconnect.
func (m *Manager) Reset() {
	m.state = Unsynced
	m.samples = 0
}

// targetOffsetTicks computes the section 4.3 formula:
//
//	target = server_tick + rtt/2/tick_duration + input_delay + safety_margin(jitter)
//
// expressed as a signed tick delta relative to serverTick.
func targetOffsetTicks(cfg Config, tickDuration time.Duration, estimator *rtt.Estimator) int32 {
	halfRTTTicks := int32((estimator.RTT() / 2).Nanoseconds() / tickDuration.Nanoseconds())
	safetyMargin := int32(estimator.Jitter().Nanoseconds()/tickDuration.Nanoseconds()) + 1
	return halfRTTTicks + cfg.InputDelayTicks + safetyMargin
}

// Observe folds in one new RTT/jitter sample (already recorded into
// estimator by the caller) together with the server tick carried by the
// corresponding pong, and drives the tick Manager accordingly. It returns
// the TickEvent if a jump occurred, and ok=false if no jump happened this
// call (the common case: either still collecting samples, or drift was
// corrected by nudging RelativeSpeed instead of jumping).
func (m *Manager) Observe(tm *tick.Manager, estimator *rtt.Estimator, serverTick tick.Tick, now time.Time) (tick.Event, bool) {
	m.samples++
	m.lastPong = now

	target := serverTick.Add(targetOffsetTicks(m.cfg, tm.TickDuration(), estimator))
	drift := tick.Diff(tm.Current(), target) // current - target; >0 means we're ahead of target

	if m.state == Unsynced {
		if m.samples < m.cfg.MinSamples {
			tm.RelativeSpeed = 1.0
			return tick.Event{}, false
		}
		// Enough samples collected: snap straight to the target and
		// transition to Synced.
		m.state = Synced
		tm.RelativeSpeed = 1.0
		return tm.SetTickTo(target), true
	}

	// Synced: large drift snaps, small drift is corrected gradually by
	// modulating RelativeSpeed within the configured band.
	if abs32(drift) > m.cfg.JumpThresholdTicks {
		tm.RelativeSpeed = 1.0
		return tm.SetTickTo(target), true
	}

	tm.RelativeSpeed = speedForDrift(drift, m.cfg)
	return tick.Event{}, false
}

// speedForDrift maps a small signed tick drift onto the configured
// [SpeedMin, SpeedMax] band: ahead of target slows down, behind speeds up.
func speedForDrift(drift int32, cfg Config) float64 {
	if cfg.JumpThresholdTicks == 0 {
		return 1.0
	}
	frac := float64(drift) / float64(cfg.JumpThresholdTicks) // in [-1, 1]
	if frac > 1 {
		frac = 1
	}
	if frac < -1 {
		frac = -1
	}
	mid := (cfg.SpeedMax + cfg.SpeedMin) / 2
	halfBand := (cfg.SpeedMax - cfg.SpeedMin) / 2
	// drift>0 (we're ahead) -> slow down -> speed below mid.
	return mid - frac*halfBand
}

// CheckTimeout transitions back to Unsynced if no pong has been passed to
// Observe within SyncTimeout (spec.md section 4.3's failure case), returning
// true if a transition happened.
func (m *Manager) CheckTimeout(estimator *rtt.Estimator, now time.Time) bool {
	if m.state == Synced && now.Sub(m.lastPong) >= m.cfg.SyncTimeout {
		m.Reset()
		return true
	}
	return false
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
