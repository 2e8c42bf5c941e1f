package world

import (
	"testing"

	"driftnet/internal/replication"
	"driftnet/pkg/entity"
)

type healthComponent struct{ hp int }

func (healthComponent) Kind() replication.ComponentKind { return 7 }
func (h healthComponent) Encode() []byte                { return []byte{byte(h.hp)} }
func (healthComponent) MapEntities(entity.Mapper)       {}

func TestSpawnInsertGetRoundTrip(t *testing.T) {
	w := New()
	e := w.Spawn()
	if !w.Exists(e) {
		t.Fatal("expected spawned entity to exist")
	}
	w.Insert(e, healthComponent{hp: 10})
	c, ok := w.Get(e, 7)
	if !ok || c.(healthComponent).hp != 10 {
		t.Fatalf("expected health 10, got %+v ok=%v", c, ok)
	}
}

func TestDespawnRemovesComponents(t *testing.T) {
	w := New()
	e := w.Spawn()
	w.Insert(e, healthComponent{hp: 5})
	w.Despawn(e)
	if w.Exists(e) {
		t.Fatal("expected entity gone after despawn")
	}
	if _, ok := w.Get(e, 7); ok {
		t.Fatal("expected component gone after despawn")
	}
}

func TestEachVisitsAllEntitiesWithKind(t *testing.T) {
	w := New()
	e1 := w.Spawn()
	e2 := w.Spawn()
	w.Insert(e1, healthComponent{hp: 1})
	w.Insert(e2, healthComponent{hp: 2})

	seen := make(map[entity.Entity]int)
	w.Each(7, func(e entity.Entity, c replication.Component) {
		seen[e] = c.(healthComponent).hp
	})
	if len(seen) != 2 || seen[e1] != 1 || seen[e2] != 2 {
		t.Fatalf("unexpected Each result: %+v", seen)
	}
}

func TestDespawnAllClearsEveryEntity(t *testing.T) {
	w := New()
	e1 := w.Spawn()
	e2 := w.Spawn()
	w.Insert(e1, healthComponent{hp: 1})

	gone := w.DespawnAll()
	if len(gone) != 2 {
		t.Fatalf("expected 2 despawned entities, got %d", len(gone))
	}
	if w.Exists(e1) || w.Exists(e2) {
		t.Fatal("expected no entity to exist after DespawnAll")
	}
	if _, ok := w.Get(e1, 7); ok {
		t.Fatal("expected component gone after DespawnAll")
	}
}
