package prediction

import (
	"testing"

	"driftnet/internal/tick"
	"driftnet/pkg/entity"
)

func intDiffer(tolerance int) Differ {
	return func(a, b any) bool {
		x, y := a.(int), b.(int)
		d := x - y
		if d < 0 {
			d = -d
		}
		return d > tolerance
	}
}

func addOne(prev any, t tick.Tick, input Input) any {
	base := prev.(int)
	delta := 0
	if input != nil {
		delta = input.(int)
	}
	return base + 1 + delta
}

func TestReconcileNoRollbackWhenWithinTolerance(t *testing.T) {
	e := NewEngine(16)
	key := ComponentKey{Entity: entity.Entity(1), Kind: 1}
	e.RecordHistory(key, tick.Tick(5), 100)

	var set int
	rolled, _, _ := e.Reconcile(key, tick.Tick(5), 100, tick.Tick(5), intDiffer(0), addOne, func(v any) { set = v.(int) })
	if rolled {
		t.Fatal("expected no rollback when confirmed matches history")
	}
	if set != 0 {
		t.Fatalf("setValue should not be called on match, got %d", set)
	}
}

func TestReconcileRollsBackAndResimulates(t *testing.T) {
	e := NewEngine(16)
	key := ComponentKey{Entity: entity.Entity(1), Kind: 1}
	// Predicted history diverges from what the server confirms at tick 5.
	e.RecordHistory(key, tick.Tick(5), 999)
	e.RecordHistory(key, tick.Tick(6), 1000)
	e.RecordHistory(key, tick.Tick(7), 1001)
	e.RecordInput(tick.Tick(6), 10)
	e.RecordInput(tick.Tick(7), 20)

	var sets []int
	rolled, oldValue, newValue := e.Reconcile(key, tick.Tick(5), 100, tick.Tick(7), intDiffer(0), addOne, func(v any) {
		sets = append(sets, v.(int))
	})
	if !rolled {
		t.Fatal("expected rollback on divergence")
	}
	if oldValue.(int) != 999 {
		t.Fatalf("expected old value 999, got %v", oldValue)
	}
	// tick5 -> set to 100; tick6 -> 100+1+10=111; tick7 -> 111+1+20=132
	want := []int{100, 111, 132}
	if len(sets) != len(want) {
		t.Fatalf("expected %d setValue calls, got %d: %v", len(want), len(sets), sets)
	}
	for i, w := range want {
		if sets[i] != w {
			t.Fatalf("setValue[%d] = %d, want %d", i, sets[i], w)
		}
	}
	if newValue.(int) != 132 {
		t.Fatalf("expected final resimulated value 132, got %v", newValue)
	}

	// History after tick 5 should reflect the resimulated values only.
	if v, ok := e.historyFor(key).At(tick.Tick(6)); !ok || v.(int) != 111 {
		t.Fatalf("expected history[6]=111, got %v ok=%v", v, ok)
	}
}

func TestReconcileAdoptsConfirmedWhenHistoryMissing(t *testing.T) {
	e := NewEngine(16)
	key := ComponentKey{Entity: entity.Entity(2), Kind: 1}

	var set int
	rolled, _, _ := e.Reconcile(key, tick.Tick(3), 50, tick.Tick(3), intDiffer(0), addOne, func(v any) { set = v.(int) })
	if !rolled {
		t.Fatal("expected rollback when no prior history exists to compare against")
	}
	if set != 50 {
		t.Fatalf("expected confirmed value adopted, got %d", set)
	}
}

func TestCorrectionSmoothingBlendsOverFrames(t *testing.T) {
	e := NewEngine(4)
	key := ComponentKey{Entity: entity.Entity(1), Kind: 1}
	linear := func(old, corrected any, frame, total int) any {
		o, c := old.(float64), corrected.(float64)
		alpha := float64(frame) / float64(total)
		return o + (c-o)*alpha
	}
	e.BeginCorrection(key, 0.0, 10.0, 2, linear)

	var got []float64
	e.AdvanceCorrections(func(k ComponentKey, blended any) { got = append(got, blended.(float64)) })
	e.AdvanceCorrections(func(k ComponentKey, blended any) { got = append(got, blended.(float64)) })

	if len(got) != 2 || got[0] != 5.0 || got[1] != 10.0 {
		t.Fatalf("unexpected blend sequence: %v", got)
	}
	if len(e.corrections) != 0 {
		t.Fatalf("expected correction to be dropped after completing, got %d remaining", len(e.corrections))
	}
}
