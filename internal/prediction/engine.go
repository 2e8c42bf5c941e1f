package prediction

import (
	"driftnet/internal/tick"
	"driftnet/pkg/entity"
)

// SyncMode controls how a predicted component's value tracks its
// Confirmed counterpart (spec.md section 4.7).
type SyncMode int

const (
	// Once copies Confirmed into Predicted at spawn only.
	Once SyncMode = iota
	// Simple copies Confirmed into Predicted whenever Confirmed changes.
	Simple
	// Full maintains a rollback history and resimulates on divergence.
	Full
)

// ComponentKey identifies one component slot on one predicted entity.
type ComponentKey struct {
	Entity entity.Entity
	Kind   uint32
}

// Differ reports whether confirmed and predicted disagree beyond the
// component's tolerance, triggering a rollback.
type Differ func(confirmed, predicted any) bool

// SimulateFn advances a Full component's value by one predicted tick
// given the prior value and that tick's input, matching the application's
// deterministic predicted systems (spec.md section 4.7 step 2).
type SimulateFn func(prev any, t tick.Tick, input Input) any

// Corrector blends an old (pre-rollback) visual value toward the
// corrected value over a configurable number of frames, to avoid a
// visually jarring snap (spec.md section 4.7's "Correction smoothing").
type Corrector func(old, corrected any, frame, totalFrames int) any

// PendingCorrection is an in-progress visual blend started by a rollback.
type PendingCorrection struct {
	key         ComponentKey
	old         any
	corrected   any
	frame       int
	totalFrames int
	correctorFn Corrector
}

// Engine runs client-side prediction and rollback across all Full-mode
// components. Once/Simple components are the caller's responsibility to
// copy directly; the engine only owns rollback-relevant state.
type Engine struct {
	maxRollbackTicks int
	inputs           *InputBuffer
	histories        map[ComponentKey]*History
	corrections      []*PendingCorrection
}

// NewEngine creates an Engine with history/input buffers sized to
// maxRollbackTicks.
func NewEngine(maxRollbackTicks int) *Engine {
	return &Engine{
		maxRollbackTicks: maxRollbackTicks,
		inputs:           NewInputBuffer(maxRollbackTicks),
		histories:        make(map[ComponentKey]*History),
	}
}

// RecordInput stores the client's own input for t, for future rollback
// replay.
func (e *Engine) RecordInput(t tick.Tick, input Input) {
	e.inputs.Record(t, input)
}

func (e *Engine) historyFor(key ComponentKey) *History {
	h, ok := e.histories[key]
	if !ok {
		h = NewHistory(e.maxRollbackTicks)
		e.histories[key] = h
	}
	return h
}

// RecordHistory stores a Full component's value at the tick it was
// simulated, for future rollback comparison.
func (e *Engine) RecordHistory(key ComponentKey, t tick.Tick, value any) {
	e.historyFor(key).Record(t, value)
}

// Reconcile implements spec.md section 4.7's rollback protocol for one
// Full-sync component: compare the newly confirmed value at tick t
// against what Predicted actually had at t; if they agree within differ,
// nothing happens. Otherwise reset Predicted to the confirmed value at t,
// clear history after t, and resimulate every tick through currentTick
// using the recorded input buffer, calling simulate and setValue for each
// replayed tick. Returns whether a rollback occurred and, if so, the
// value previously predicted at t (the confirmed value when none was
// recorded) and the final resimulated value (for the caller to feed a
// Corrector).
func (e *Engine) Reconcile(
	key ComponentKey,
	confirmedTick tick.Tick,
	confirmedValue any,
	currentTick tick.Tick,
	differ Differ,
	simulate SimulateFn,
	setValue func(value any),
) (rolledBack bool, oldValue any, newValue any) {
	history := e.historyFor(key)
	predictedAtT, ok := history.At(confirmedTick)
	if !ok {
		// No recorded prediction to compare against (e.g. entity spawned
		// after T, or history already evicted): adopt confirmed outright.
		predictedAtT = confirmedValue
	}
	if ok && !differ(confirmedValue, predictedAtT) {
		return false, nil, nil
	}

	oldValue = predictedAtT
	setValue(confirmedValue)
	history.Record(confirmedTick, confirmedValue)
	history.ClearAfter(confirmedTick)

	prev := confirmedValue
	for t := confirmedTick.Add(1); !t.After(currentTick); t = t.Add(1) {
		input, _ := e.inputs.At(t)
		next := simulate(prev, t, input)
		setValue(next)
		history.Record(t, next)
		prev = next
	}
	return true, oldValue, prev
}

// BeginCorrection starts a visual blend from old toward corrected over
// totalFrames calls to AdvanceCorrections.
func (e *Engine) BeginCorrection(key ComponentKey, old, corrected any, totalFrames int, fn Corrector) {
	if totalFrames <= 0 {
		return
	}
	e.corrections = append(e.corrections, &PendingCorrection{
		key: key, old: old, corrected: corrected, totalFrames: totalFrames, correctorFn: fn,
	})
}

// AdvanceCorrections advances every in-progress correction by one frame,
// calling apply with each component's blended visual value, and drops
// corrections once they complete.
func (e *Engine) AdvanceCorrections(apply func(key ComponentKey, blended any)) {
	remaining := e.corrections[:0]
	for _, c := range e.corrections {
		c.frame++
		blended := c.correctorFn(c.old, c.corrected, c.frame, c.totalFrames)
		apply(c.key, blended)
		if c.frame < c.totalFrames {
			remaining = append(remaining, c)
		}
	}
	e.corrections = remaining
}
