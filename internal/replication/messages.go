package replication

import (
	"fmt"

	"driftnet/internal/tick"
	"driftnet/pkg/codec"
	"driftnet/pkg/entity"
)

const (
	flagSpawn   = 1 << 0
	flagDespawn = 1 << 1
)

// EntityAction is one entity's structural and opportunistic component
// changes within an ActionMessage, per spec.md section 4.5's action
// message shape.
type EntityAction struct {
	Entity  entity.Entity
	Spawn   bool
	Despawn bool
	Insert  []Component
	Remove  []ComponentKind
	Updates []Component
}

// ActionMessage is the reliable, ordered, per-group structural change
// message (spec.md section 4.5/6).
type ActionMessage struct {
	Group    GroupID
	Sequence uint16
	Actions  []EntityAction
}

// EntityUpdate is one entity's changed component values within an
// UpdateMessage.
type EntityUpdate struct {
	Entity     entity.Entity
	Components []Component
}

// UpdateMessage is the unreliable, tick-stamped, per-group component
// update message (spec.md section 4.5/6).
type UpdateMessage struct {
	Group          GroupID
	LastActionTick tick.Tick
	Updates        []EntityUpdate
}

// EncodeActionMessage serializes m following spec.md section 6's
// ActionMsg/EntityActions grammar.
func EncodeActionMessage(m ActionMessage) []byte {
	w := codec.NewWriter(64)
	w.WriteUint64(uint64(m.Group))
	w.WriteUint16(m.Sequence)
	w.WriteVarint(uint64(len(m.Actions)))
	for _, a := range m.Actions {
		w.WriteVarint(uint64(a.Entity))
		var flags byte
		if a.Spawn {
			flags |= flagSpawn
		}
		if a.Despawn {
			flags |= flagDespawn
		}
		w.WriteByte(flags)

		w.WriteVarint(uint64(len(a.Insert)))
		for _, c := range a.Insert {
			w.WriteVarint(uint64(c.Kind()))
			w.WritePayload(c.Encode())
		}

		w.WriteVarint(uint64(len(a.Remove)))
		for _, k := range a.Remove {
			w.WriteVarint(uint64(k))
		}

		w.WriteVarint(uint64(len(a.Updates)))
		for _, c := range a.Updates {
			w.WriteVarint(uint64(c.Kind()))
			w.WritePayload(c.Encode())
		}
	}
	return w.Bytes()
}

// DecodeActionMessage parses bytes produced by EncodeActionMessage.
// Components of a kind unknown to registry are dropped (per spec.md
// section 4.6's "component kind unknown to receiver -> drop component
// but keep entity"); the entity action itself is still returned.
func DecodeActionMessage(data []byte, registry *ComponentRegistry) (ActionMessage, error) {
	r := codec.NewReader(data)
	var m ActionMessage

	groupID, err := r.ReadUint64()
	if err != nil {
		return m, fmt.Errorf("replication: decode action group_id: %w", err)
	}
	m.Group = GroupID(groupID)

	if m.Sequence, err = r.ReadUint16(); err != nil {
		return m, fmt.Errorf("replication: decode action sequence: %w", err)
	}

	numEntities, err := r.ReadVarint()
	if err != nil {
		return m, fmt.Errorf("replication: decode action num_entities: %w", err)
	}

	for i := uint64(0); i < numEntities; i++ {
		var a EntityAction
		entID, err := r.ReadVarint()
		if err != nil {
			return m, fmt.Errorf("replication: decode action entity_id: %w", err)
		}
		a.Entity = entity.Entity(entID)

		flags, err := r.ReadByte()
		if err != nil {
			return m, fmt.Errorf("replication: decode action flags: %w", err)
		}
		a.Spawn = flags&flagSpawn != 0
		a.Despawn = flags&flagDespawn != 0

		if a.Insert, err = decodeComponentList(r, registry); err != nil {
			return m, fmt.Errorf("replication: decode action inserts: %w", err)
		}

		numRemoves, err := r.ReadVarint()
		if err != nil {
			return m, fmt.Errorf("replication: decode action num_removes: %w", err)
		}
		for j := uint64(0); j < numRemoves; j++ {
			kind, err := r.ReadVarint()
			if err != nil {
				return m, fmt.Errorf("replication: decode action remove kind: %w", err)
			}
			a.Remove = append(a.Remove, ComponentKind(kind))
		}

		if a.Updates, err = decodeComponentList(r, registry); err != nil {
			return m, fmt.Errorf("replication: decode action updates: %w", err)
		}

		m.Actions = append(m.Actions, a)
	}
	return m, nil
}

func decodeComponentList(r *codec.Reader, registry *ComponentRegistry) ([]Component, error) {
	num, err := r.ReadVarint()
	if err != nil {
		return nil, err
	}
	var out []Component
	for i := uint64(0); i < num; i++ {
		kind, err := r.ReadVarint()
		if err != nil {
			return nil, err
		}
		payload, err := r.ReadPayload()
		if err != nil {
			return nil, err
		}
		c, known, err := registry.Decode(ComponentKind(kind), payload)
		if err != nil {
			return nil, err
		}
		if !known {
			continue // unknown kind: drop component, keep entity
		}
		out = append(out, c)
	}
	return out, nil
}

// EncodeUpdateMessage serializes m following spec.md section 6's
// UpdateMsg grammar.
func EncodeUpdateMessage(m UpdateMessage) []byte {
	w := codec.NewWriter(64)
	w.WriteUint64(uint64(m.Group))
	w.WriteUint16(uint16(m.LastActionTick))
	w.WriteVarint(uint64(len(m.Updates)))
	for _, u := range m.Updates {
		w.WriteVarint(uint64(u.Entity))
		w.WriteVarint(uint64(len(u.Components)))
		for _, c := range u.Components {
			w.WriteVarint(uint64(c.Kind()))
			w.WritePayload(c.Encode())
		}
	}
	return w.Bytes()
}

// DecodeUpdateMessage parses bytes produced by EncodeUpdateMessage.
func DecodeUpdateMessage(data []byte, registry *ComponentRegistry) (UpdateMessage, error) {
	r := codec.NewReader(data)
	var m UpdateMessage

	groupID, err := r.ReadUint64()
	if err != nil {
		return m, fmt.Errorf("replication: decode update group_id: %w", err)
	}
	m.Group = GroupID(groupID)

	lastActionTick, err := r.ReadUint16()
	if err != nil {
		return m, fmt.Errorf("replication: decode update last_action_tick: %w", err)
	}
	m.LastActionTick = tick.Tick(lastActionTick)

	numEntities, err := r.ReadVarint()
	if err != nil {
		return m, fmt.Errorf("replication: decode update num_entities: %w", err)
	}
	for i := uint64(0); i < numEntities; i++ {
		var u EntityUpdate
		entID, err := r.ReadVarint()
		if err != nil {
			return m, fmt.Errorf("replication: decode update entity_id: %w", err)
		}
		u.Entity = entity.Entity(entID)
		if u.Components, err = decodeComponentList(r, registry); err != nil {
			return m, fmt.Errorf("replication: decode update components: %w", err)
		}
		m.Updates = append(m.Updates, u)
	}
	return m, nil
}
