package channel

// MessageID is a 16-bit wrapping sequence number scoped to one reliable
// channel (spec.md section 3). It wraps and compares the same way
// driftnet/internal/tick.Tick does, but is kept as a distinct type because
// it indexes a different axis (message order within a channel, not
// simulation time).
type MessageID uint16

// diffMessageID returns a-b as a signed difference under modulo-2^16 wraparound.
func diffMessageID(a, b MessageID) int32 {
	return int32(int16(a - b))
}

// Before reports whether m comes strictly before other in wrapped order.
func (m MessageID) Before(other MessageID) bool {
	return diffMessageID(m, other) < 0
}

// Next returns the following MessageID, wrapping at 2^16.
func (m MessageID) Next() MessageID {
	return m + 1
}
