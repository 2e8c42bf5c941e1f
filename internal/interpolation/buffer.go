// Package interpolation implements client-side visual smoothing of
// Interpolated entities: a bounded history of snapshots per entity is
// replayed at a delay behind the latest confirmed tick, lerped between
// the two bracketing snapshots (spec.md section 4.8).
package interpolation

import "driftnet/internal/tick"

// Snapshot is one component's value as of a given server tick.
type Snapshot struct {
	Tick  tick.Tick
	Value any
}

// Buffer holds a bounded, tick-ordered deque of snapshots for one
// Interpolated component.
type Buffer struct {
	capacity  int
	snapshots []Snapshot // kept sorted ascending by Tick
}

// NewBuffer creates a Buffer bounded to capacity snapshots.
func NewBuffer(capacity int) *Buffer {
	if capacity < 2 {
		capacity = 2
	}
	return &Buffer{capacity: capacity}
}

// Push appends a new snapshot, assuming non-decreasing tick order from
// the network (the sender emits updates in tick order per group); out of
// order or duplicate ticks are ignored.
func (b *Buffer) Push(s Snapshot) {
	if n := len(b.snapshots); n > 0 && !b.snapshots[n-1].Tick.Before(s.Tick) {
		return
	}
	b.snapshots = append(b.snapshots, s)
	if len(b.snapshots) > b.capacity {
		b.snapshots = b.snapshots[1:]
	}
}

// DropBefore removes snapshots with tick strictly less than renderTick-1,
// per spec.md section 4.8 step 1, except that the newest snapshot with
// tick <= renderTick is always kept so Bracket still has a start to hold.
func (b *Buffer) DropBefore(renderTick tick.Tick) {
	threshold := renderTick.Add(-1)
	i := 0
	for i+1 < len(b.snapshots) && b.snapshots[i].Tick.Before(threshold) && !b.snapshots[i+1].Tick.After(renderTick) {
		i++
	}
	b.snapshots = b.snapshots[i:]
}

// Bracket finds the latest snapshot with tick <= renderTick (start) and
// the earliest snapshot with tick > renderTick (end), per spec.md
// section 4.8 step 2.
func (b *Buffer) Bracket(renderTick tick.Tick) (start, end *Snapshot) {
	for i := range b.snapshots {
		s := &b.snapshots[i]
		if !s.Tick.After(renderTick) {
			start = s
		} else if end == nil {
			end = s
		}
	}
	return start, end
}
