package replication

import (
	"testing"

	"driftnet/pkg/entity"
)

type fakeWorld struct {
	alloc     *entity.Allocator
	alive     map[entity.Entity]bool
	components map[entity.Entity]map[ComponentKind]Component
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		alloc:      entity.NewAllocator(),
		alive:      make(map[entity.Entity]bool),
		components: make(map[entity.Entity]map[ComponentKind]Component),
	}
}

func (w *fakeWorld) Spawn() entity.Entity {
	e := w.alloc.Spawn()
	w.alive[e] = true
	w.components[e] = make(map[ComponentKind]Component)
	return e
}

func (w *fakeWorld) Despawn(e entity.Entity) {
	delete(w.alive, e)
	delete(w.components, e)
}

func (w *fakeWorld) Exists(e entity.Entity) bool { return w.alive[e] }

func (w *fakeWorld) Insert(e entity.Entity, c Component) {
	w.components[e][c.Kind()] = c
}

func (w *fakeWorld) Remove(e entity.Entity, kind ComponentKind) {
	delete(w.components[e], kind)
}

func (w *fakeWorld) Update(e entity.Entity, c Component) {
	w.components[e][c.Kind()] = c
}

type fakeEvents struct {
	spawned   []entity.Entity
	despawned []entity.Entity
	inserted  []entity.Entity
	updated   []entity.Entity
	removed   []entity.Entity
}

func (e *fakeEvents) PushSpawn(ent entity.Entity)                   { e.spawned = append(e.spawned, ent) }
func (e *fakeEvents) PushDespawn(ent entity.Entity)                 { e.despawned = append(e.despawned, ent) }
func (e *fakeEvents) PushInsert(ent entity.Entity, c Component)     { e.inserted = append(e.inserted, ent) }
func (e *fakeEvents) PushUpdate(ent entity.Entity, c Component)     { e.updated = append(e.updated, ent) }
func (e *fakeEvents) PushRemove(ent entity.Entity, k ComponentKind) { e.removed = append(e.removed, ent) }

type positionComponent struct {
	x, y float32
}

func (positionComponent) Kind() ComponentKind       { return 1 }
func (p positionComponent) Encode() []byte          { return nil }
func (positionComponent) MapEntities(entity.Mapper) {}

func TestApplySpawnsBeforeMutating(t *testing.T) {
	world := newFakeWorld()
	events := &fakeEvents{}
	recv := NewReceiver(nil)

	msg := ActionMessage{
		Group:    GroupID(1),
		Sequence: 0,
		Actions: []EntityAction{
			{Entity: entity.Entity(100), Spawn: true, Insert: []Component{positionComponent{x: 1, y: 2}}},
			{Entity: entity.Entity(200), Spawn: true},
		},
	}

	recv.applyAction(world, events, GroupID(1), msg)

	if len(events.spawned) != 2 {
		t.Fatalf("expected 2 spawns, got %d", len(events.spawned))
	}
	local100, ok := recv.EntityMap.GetLocal(entity.Entity(100))
	if !ok || !world.Exists(local100) {
		t.Fatal("expected remote entity 100 spawned and mapped")
	}
	if _, ok := world.components[local100][1]; !ok {
		t.Fatal("expected position component inserted after spawn")
	}
	if len(events.inserted) != 1 {
		t.Fatalf("expected 1 insert event, got %d", len(events.inserted))
	}
}

func TestApplyDespawnRemovesMapping(t *testing.T) {
	world := newFakeWorld()
	events := &fakeEvents{}
	recv := NewReceiver(nil)

	spawnMsg := ActionMessage{Actions: []EntityAction{{Entity: entity.Entity(5), Spawn: true}}}
	recv.applyAction(world, events, GroupID(0), spawnMsg)
	local, _ := recv.EntityMap.GetLocal(entity.Entity(5))

	despawnMsg := ActionMessage{Actions: []EntityAction{{Entity: entity.Entity(5), Despawn: true}}}
	recv.applyAction(world, events, GroupID(0), despawnMsg)

	if world.Exists(local) {
		t.Fatal("expected entity despawned")
	}
	if _, ok := recv.EntityMap.GetLocal(entity.Entity(5)); ok {
		t.Fatal("expected mapping removed after despawn")
	}
	if len(events.despawned) != 1 {
		t.Fatalf("expected 1 despawn event, got %d", len(events.despawned))
	}
}

func TestApplyDespawnUnknownEntityIsIgnored(t *testing.T) {
	world := newFakeWorld()
	events := &fakeEvents{}
	recv := NewReceiver(nil)

	msg := ActionMessage{Actions: []EntityAction{{Entity: entity.Entity(999), Despawn: true}}}
	recv.applyAction(world, events, GroupID(0), msg) // must not panic
	if len(events.despawned) != 0 {
		t.Fatalf("expected no despawn event for unknown entity, got %d", len(events.despawned))
	}
}

func TestApplyUpdateForDespawnedEntityIsDropped(t *testing.T) {
	world := newFakeWorld()
	events := &fakeEvents{}
	recv := NewReceiver(nil)

	updateMsg := UpdateMessage{Updates: []EntityUpdate{{Entity: entity.Entity(42), Components: []Component{positionComponent{}}}}}
	recv.applyUpdate(world, events, updateMsg) // unmapped entity: no-op, no panic
	if len(events.updated) != 0 {
		t.Fatalf("expected no update event for unmapped entity, got %d", len(events.updated))
	}
}
