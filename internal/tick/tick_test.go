package tick

import "testing"

func TestWrapComparison(t *testing.T) {
	// Server sends spawn at tick 65530, update at tick 5 (spec.md scenario 4).
	spawn := Tick(65530)
	update := Tick(5)
	if !spawn.Before(update) {
		t.Fatalf("expected %v before %v under wraparound", spawn, update)
	}
	if Diff(update, spawn) <= 0 {
		t.Fatalf("expected update to be after spawn: diff=%d", Diff(update, spawn))
	}
}

func TestHalfRangeWindow(t *testing.T) {
	base := Tick(1000)
	for delta := int32(-32767); delta <= 32767; delta += 997 {
		other := base.Add(delta)
		got := Diff(other, base)
		if got != delta {
			t.Fatalf("Diff(base+%d, base) = %d, want %d", delta, got, delta)
		}
	}
}

func TestMaxMinWrap(t *testing.T) {
	a := Tick(65530)
	b := Tick(5)
	if Max(a, b) != b {
		t.Fatalf("Max(%v,%v) = wrong tick, want %v", a, b, b)
	}
	if Min(a, b) != a {
		t.Fatalf("Min(%v,%v) = wrong tick, want %v", a, b, a)
	}
}

func TestAddRoundTrip(t *testing.T) {
	base := Tick(40000)
	shifted := base.Add(30000)
	if Diff(shifted, base) != 30000 {
		t.Fatalf("Add/Diff round trip broke: got %d", Diff(shifted, base))
	}
}
