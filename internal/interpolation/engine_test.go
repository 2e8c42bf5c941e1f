package interpolation

import (
	"testing"

	"driftnet/internal/tick"
	"driftnet/pkg/entity"
)

func floatLerp(start, end any, alpha float64) any {
	return start.(float64) + (end.(float64)-start.(float64))*alpha
}

func TestStepLerpsBetweenBracketingSnapshots(t *testing.T) {
	e := NewEngine(2, 8)
	e.RegisterLerp(Kind(1), floatLerp)
	key := Key{Entity: entity.Entity(1), Kind: Kind(1)}
	e.Push(key, tick.Tick(10), 0.0)
	e.Push(key, tick.Tick(12), 10.0)

	results := e.Step(tick.Tick(11))
	if len(results) != 1 || !results[0].Visible {
		t.Fatalf("unexpected results: %+v", results)
	}
	if results[0].Value.(float64) != 5.0 {
		t.Fatalf("expected midpoint 5.0, got %v", results[0].Value)
	}
}

func TestStepHoldsLastWhenOnlyStartExists(t *testing.T) {
	e := NewEngine(2, 8)
	e.RegisterLerp(Kind(1), floatLerp)
	key := Key{Entity: entity.Entity(1), Kind: Kind(1)}
	e.Push(key, tick.Tick(5), 42.0)

	results := e.Step(tick.Tick(10))
	if len(results) != 1 || !results[0].Visible || results[0].Value.(float64) != 42.0 {
		t.Fatalf("expected held last value 42.0, got %+v", results)
	}
}

func TestStepNotVisibleWhenNoSnapshots(t *testing.T) {
	e := NewEngine(2, 8)
	key := Key{Entity: entity.Entity(1), Kind: Kind(1)}
	e.bufferFor(key) // registered but empty

	results := e.Step(tick.Tick(10))
	if len(results) != 1 || results[0].Visible {
		t.Fatalf("expected not visible with no snapshots, got %+v", results)
	}
}

func TestStepFallsThroughToCopyLatestWithoutLerpFn(t *testing.T) {
	e := NewEngine(0, 8)
	key := Key{Entity: entity.Entity(1), Kind: Kind(99)} // no registered LerpFn
	e.Push(key, tick.Tick(1), "a")
	e.Push(key, tick.Tick(2), "b")

	results := e.Step(tick.Tick(1))
	if len(results) != 1 || results[0].Value.(string) != "a" {
		t.Fatalf("expected copy-latest fallback to the start snapshot, got %+v", results)
	}
}

func TestRenderTickSubtractsDelay(t *testing.T) {
	e := NewEngine(3, 8)
	if got := e.RenderTick(tick.Tick(100)); got != tick.Tick(97) {
		t.Fatalf("RenderTick(100) = %v, want 97", got)
	}
}
