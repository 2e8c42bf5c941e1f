package interpolation

import (
	"driftnet/internal/tick"
	"driftnet/pkg/entity"
)

// Kind is the ComponentKind a Buffer is keyed by, mirroring
// driftnet/internal/replication.ComponentKind without importing it (this
// package stays independent of the wire registry).
type Kind uint32

// LerpFn blends between two snapshot values at interpolation fraction
// alpha in [0,1]. Components with no registered LerpFn fall through to
// "copy latest" (spec.md section 4.8: "Non-interpolable components fall
// through as copy latest").
type LerpFn func(start, end any, alpha float64) any

// Key identifies one component buffer on one interpolated entity.
type Key struct {
	Entity entity.Entity
	Kind   Kind
}

// Engine computes the render tick and produces interpolated (or
// held-latest) values for every registered component buffer each frame.
type Engine struct {
	delayTicks int32
	buffers    map[Key]*Buffer
	lerpFns    map[Kind]LerpFn
	bufferSize int
}

// NewEngine creates an Engine. delayTicks should be at least the
// server's send interval plus a jitter margin (spec.md section 4.8).
func NewEngine(delayTicks int32, bufferSize int) *Engine {
	return &Engine{
		delayTicks: delayTicks,
		buffers:    make(map[Key]*Buffer),
		lerpFns:    make(map[Kind]LerpFn),
		bufferSize: bufferSize,
	}
}

// RegisterLerp associates an interpolation function with a component
// kind, at startup.
func (e *Engine) RegisterLerp(kind Kind, fn LerpFn) {
	e.lerpFns[kind] = fn
}

// RenderTick computes current_server_tick - interpolation_delay.
func (e *Engine) RenderTick(currentServerTick tick.Tick) tick.Tick {
	return currentServerTick.Add(-e.delayTicks)
}

func (e *Engine) bufferFor(key Key) *Buffer {
	b, ok := e.buffers[key]
	if !ok {
		b = NewBuffer(e.bufferSize)
		e.buffers[key] = b
	}
	return b
}

// Push records a newly received snapshot for one entity's component.
func (e *Engine) Push(key Key, t tick.Tick, value any) {
	e.bufferFor(key).Push(Snapshot{Tick: t, Value: value})
}

// Result is the outcome of interpolating one component for the frame.
type Result struct {
	Key     Key
	Value   any
	Visible bool
}

// Step runs spec.md section 4.8's per-frame algorithm across every
// registered buffer for the given render tick.
func (e *Engine) Step(renderTick tick.Tick) []Result {
	results := make([]Result, 0, len(e.buffers))
	for key, buf := range e.buffers {
		buf.DropBefore(renderTick)
		start, end := buf.Bracket(renderTick)
		switch {
		case start != nil && end != nil:
			results = append(results, Result{Key: key, Value: e.lerp(key.Kind, start, end, renderTick), Visible: true})
		case start != nil:
			results = append(results, Result{Key: key, Value: start.Value, Visible: true})
		default:
			results = append(results, Result{Key: key, Visible: false})
		}
	}
	return results
}

func (e *Engine) lerp(kind Kind, start, end *Snapshot, renderTick tick.Tick) any {
	fn, ok := e.lerpFns[kind]
	if !ok {
		return start.Value // non-interpolable: copy latest (the start snapshot)
	}
	span := tick.Diff(end.Tick, start.Tick)
	if span <= 0 {
		return start.Value
	}
	alpha := float64(tick.Diff(renderTick, start.Tick)) / float64(span)
	return fn(start.Value, end.Value, alpha)
}
