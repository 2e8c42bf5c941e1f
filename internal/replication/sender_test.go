package replication

import (
	"testing"

	"driftnet/internal/tick"
	"driftnet/pkg/entity"
)

func TestSenderQueueSpawnProducesActionMessage(t *testing.T) {
	s := NewSender(NewRemoteEntityMap())
	parent := entity.Entity(1)
	s.RegisterEntity(parent, GroupID(0), entity.Nil)
	s.QueueSpawn(parent, []Component{positionComponent{x: 1}})

	actions, updates := s.Build(tick.Tick(10), -1, 1.0)
	if len(actions) != 1 {
		t.Fatalf("expected 1 action message, got %d", len(actions))
	}
	if len(updates) != 0 {
		t.Fatalf("expected 0 update messages, got %d", len(updates))
	}
	if len(actions[0].Actions) != 1 || !actions[0].Actions[0].Spawn {
		t.Fatalf("expected spawn action, got %+v", actions[0].Actions)
	}
}

func TestSenderWithholdsChildSpawnUntilParentAcked(t *testing.T) {
	s := NewSender(NewRemoteEntityMap())
	parent := entity.Entity(1)
	child := entity.Entity(2)
	s.RegisterEntity(parent, GroupID(0), entity.Nil)
	s.RegisterEntity(child, GroupID(0), parent)

	s.QueueSpawn(parent, nil)
	s.QueueSpawn(child, nil)

	actions, _ := s.Build(tick.Tick(1), -1, 1.0)
	if len(actions) != 1 {
		t.Fatalf("expected 1 action message on first build, got %d", len(actions))
	}
	if len(actions[0].Actions) != 1 || actions[0].Actions[0].Entity != entity.Entity(parent) {
		t.Fatalf("expected only parent spawned, got %+v", actions[0].Actions)
	}

	// Child remains withheld until the parent is acked, even on a later build.
	actions, _ = s.Build(tick.Tick(2), -1, 1.0)
	if len(actions) != 0 {
		t.Fatalf("expected child spawn still withheld, got %+v", actions)
	}

	s.AckSpawn(parent)
	s.QueueSpawn(child, nil)
	actions, _ = s.Build(tick.Tick(3), -1, 1.0)
	if len(actions) != 1 || len(actions[0].Actions) != 1 || !actions[0].Actions[0].Spawn {
		t.Fatalf("expected child spawn released after parent ack, got %+v", actions)
	}
}

func TestSenderValueOnlyChangeProducesUpdateMessage(t *testing.T) {
	s := NewSender(NewRemoteEntityMap())
	e := entity.Entity(1)
	s.RegisterEntity(e, GroupID(0), entity.Nil)
	s.QueueUpdate(e, positionComponent{x: 5})

	actions, updates := s.Build(tick.Tick(7), -1, 1.0)
	if len(actions) != 0 {
		t.Fatalf("expected no action messages for a value-only change, got %d", len(actions))
	}
	if len(updates) != 1 || len(updates[0].Updates) != 1 {
		t.Fatalf("expected 1 update message, got %+v", updates)
	}
}

func TestSenderPrioritySelectsHigherAccumulatorFirst(t *testing.T) {
	s := NewSender(NewRemoteEntityMap())
	low := entity.Entity(1)
	high := entity.Entity(2)
	s.RegisterEntity(low, GroupID(1), entity.Nil)
	s.RegisterEntity(high, GroupID(2), entity.Nil)
	s.Priority.SetPriority(GroupID(1), 0.1)
	s.Priority.SetPriority(GroupID(2), 10.0)
	s.QueueSpawn(low, nil)
	s.QueueSpawn(high, nil)

	actions, _ := s.Build(tick.Tick(1), 1, 1.0) // budget of 1: only the higher-priority group sends
	if len(actions) != 1 {
		t.Fatalf("expected 1 action message under budget, got %d", len(actions))
	}
	if actions[0].Group != GroupID(2) {
		t.Fatalf("expected higher-priority group selected first, got %v", actions[0].Group)
	}
}
