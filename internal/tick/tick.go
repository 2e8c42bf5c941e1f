// Package tick implements the simulation tick counter and virtual clock
// described in spec.md section 4.1: a 16-bit wrapping integer whose
// comparisons use signed-wrap arithmetic over a circular half-range.
package tick

import "fmt"

// Tick is a 16-bit wrapping simulation step index.
type Tick uint16

// Diff returns a-b as a signed difference under modulo-2^16 wraparound, in
// [-32768, 32767]. This is the "(A - B) as i16" arithmetic spec.md section 3
// requires for tick comparisons.
func Diff(a, b Tick) int32 {
	return int32(int16(a - b))
}

// Before reports whether t comes strictly before other in wrapped order.
func (t Tick) Before(other Tick) bool {
	return Diff(t, other) < 0
}

// After reports whether t comes strictly after other in wrapped order.
func (t Tick) After(other Tick) bool {
	return Diff(t, other) > 0
}

// Add returns t shifted by delta ticks (delta may be negative), wrapping.
func (t Tick) Add(delta int32) Tick {
	return Tick(int32(t) + delta)
}

// Since returns the number of ticks since other, i.e. Diff(t, other).
// Positive means t is ahead of other.
func (t Tick) Since(other Tick) int32 {
	return Diff(t, other)
}

func (t Tick) String() string {
	return fmt.Sprintf("Tick(%d)", uint16(t))
}

// Max returns whichever of a, b is later in wrapped order.
func Max(a, b Tick) Tick {
	if a.After(b) {
		return a
	}
	return b
}

// Min returns whichever of a, b is earlier in wrapped order.
func Min(a, b Tick) Tick {
	if a.Before(b) {
		return a
	}
	return b
}
