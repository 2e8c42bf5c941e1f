package replication

import (
	"driftnet/internal/tick"
	"driftnet/pkg/entity"
)

// pendingEntity accumulates one entity's not-yet-sent structural changes
// within a group, per spec.md section 4.5's per-client dirty-set.
type pendingEntity struct {
	spawn   bool
	despawn bool
	insert  []Component
	remove  []ComponentKind
	updates []Component // structural-path updates bundled with spawn/insert
}

func (p *pendingEntity) dirty() bool {
	return p.spawn || p.despawn || len(p.insert) > 0 || len(p.remove) > 0 || len(p.updates) > 0
}

// Sender derives per-client action/update streams from local entity
// changes, grouped by ReplicationGroup, with priority-driven bandwidth
// allocation (spec.md section 4.5).
type Sender struct {
	RemoteMap *RemoteEntityMap
	Priority  *PriorityAccumulator

	groupOf map[entity.Entity]GroupID
	parent  map[entity.Entity]entity.Entity
	acked   map[entity.Entity]bool // spawn acked by the peer

	actionsDirty map[GroupID]map[entity.Entity]*pendingEntity
	valuesDirty  map[GroupID]map[entity.Entity][]Component

	nextSequence   map[GroupID]uint16
	lastActionTick map[GroupID]tick.Tick
}

// NewSender creates a Sender sharing remoteMap with the connection's
// receiver-side view (spec.md section 5: "the sender reads it through a
// snapshot taken at send time").
func NewSender(remoteMap *RemoteEntityMap) *Sender {
	return &Sender{
		RemoteMap:      remoteMap,
		Priority:       NewPriorityAccumulator(),
		groupOf:        make(map[entity.Entity]GroupID),
		parent:         make(map[entity.Entity]entity.Entity),
		acked:          make(map[entity.Entity]bool),
		actionsDirty:   make(map[GroupID]map[entity.Entity]*pendingEntity),
		valuesDirty:    make(map[GroupID]map[entity.Entity][]Component),
		nextSequence:   make(map[GroupID]uint16),
		lastActionTick: make(map[GroupID]tick.Tick),
	}
}

func (s *Sender) pendingFor(group GroupID, e entity.Entity) *pendingEntity {
	byEntity, ok := s.actionsDirty[group]
	if !ok {
		byEntity = make(map[entity.Entity]*pendingEntity)
		s.actionsDirty[group] = byEntity
	}
	pe, ok := byEntity[e]
	if !ok {
		pe = &pendingEntity{}
		byEntity[e] = pe
	}
	return pe
}

// RegisterEntity assigns a local entity to a ReplicationGroup, optionally
// under a parent for hierarchy withholding (spec.md section 4.5:
// "a child entity's spawn action is withheld until its parent's spawn has
// been acked to that client").
func (s *Sender) RegisterEntity(e entity.Entity, group GroupID, parent entity.Entity) {
	s.groupOf[e] = group
	if parent != entity.Nil {
		s.parent[e] = parent
	}
}

// QueueSpawn marks e for a spawn action carrying the given initial
// components.
func (s *Sender) QueueSpawn(e entity.Entity, components []Component) {
	group := s.groupOf[e]
	pe := s.pendingFor(group, e)
	pe.spawn = true
	pe.insert = append(pe.insert, components...)
}

// QueueDespawn marks e for a despawn action.
func (s *Sender) QueueDespawn(e entity.Entity) {
	group := s.groupOf[e]
	pe := s.pendingFor(group, e)
	*pe = pendingEntity{despawn: true}
	delete(s.acked, e)
}

// QueueInsert marks a component as newly present on e (first-time
// presence takes the reliable action path per spec.md section 4.5 step 2).
func (s *Sender) QueueInsert(e entity.Entity, c Component) {
	pe := s.pendingFor(s.groupOf[e], e)
	pe.insert = append(pe.insert, c)
}

// QueueRemove marks a component kind as removed from e.
func (s *Sender) QueueRemove(e entity.Entity, kind ComponentKind) {
	pe := s.pendingFor(s.groupOf[e], e)
	pe.remove = append(pe.remove, kind)
}

// QueueUpdate marks a component's value as changed on e, for the
// unreliable update path (spec.md section 4.5 step 3) unless an action
// for this entity is already pending this tick, in which case it rides
// along on the action message instead.
func (s *Sender) QueueUpdate(e entity.Entity, c Component) {
	group := s.groupOf[e]
	if byEntity, ok := s.actionsDirty[group]; ok {
		if pe, ok := byEntity[e]; ok && pe.dirty() {
			pe.updates = append(pe.updates, c)
			return
		}
	}
	byEntity, ok := s.valuesDirty[group]
	if !ok {
		byEntity = make(map[entity.Entity][]Component)
		s.valuesDirty[group] = byEntity
	}
	byEntity[e] = append(byEntity[e], c)
}

// AckSpawn records that the peer has confirmed receipt of e's spawn,
// releasing any children previously withheld under RegisterEntity.
func (s *Sender) AckSpawn(e entity.Entity) {
	s.acked[e] = true
}

// spawnWithheld reports whether e's spawn must wait for its parent's ack.
func (s *Sender) spawnWithheld(e entity.Entity) bool {
	parent, hasParent := s.parent[e]
	if !hasParent {
		return false
	}
	return !s.acked[parent]
}

func (s *Sender) dirtyGroups() []GroupID {
	seen := make(map[GroupID]bool)
	var groups []GroupID
	for g := range s.actionsDirty {
		if !seen[g] {
			seen[g] = true
			groups = append(groups, g)
		}
	}
	for g := range s.valuesDirty {
		if !seen[g] {
			seen[g] = true
			groups = append(groups, g)
		}
	}
	return groups
}

// Build assembles action and update messages for every group currently
// dirty, subject to the priority-driven packet budget (spec.md section
// 4.5 step 4), and advances per-group sequence/tick bookkeeping.
func (s *Sender) Build(currentTick tick.Tick, budget int, sendCost float64) (actions []ActionMessage, updates []UpdateMessage) {
	groups := s.dirtyGroups()
	for _, g := range groups {
		if _, known := s.Priority.priority[g]; !known {
			s.Priority.SetPriority(g, 1.0)
		}
	}
	s.Priority.Tick()
	selected := s.Priority.Select(groups, budget, sendCost)
	selectedSet := make(map[GroupID]bool, len(selected))
	for _, g := range selected {
		selectedSet[g] = true
	}

	for _, g := range selected {
		if action, ok := s.buildActionMessage(g); ok {
			actions = append(actions, action)
			s.lastActionTick[g] = currentTick
		} else if update, ok := s.buildUpdateMessage(g); ok {
			updates = append(updates, update)
		}
	}
	return actions, updates
}

func (s *Sender) buildActionMessage(g GroupID) (ActionMessage, bool) {
	byEntity, ok := s.actionsDirty[g]
	if !ok || len(byEntity) == 0 {
		return ActionMessage{}, false
	}
	msg := ActionMessage{Group: g, Sequence: s.nextSequence[g]}
	for e, pe := range byEntity {
		if !pe.dirty() {
			continue
		}
		if pe.spawn && s.spawnWithheld(e) {
			continue // hierarchy withholding: parent's spawn not yet acked
		}
		remote := s.remoteFor(e)
		action := EntityAction{
			Entity:  remote,
			Spawn:   pe.spawn,
			Despawn: pe.despawn,
			Insert:  mapAll(pe.insert, s.RemoteMap),
			Remove:  pe.remove,
			Updates: mapAll(pe.updates, s.RemoteMap),
		}
		msg.Actions = append(msg.Actions, action)
		delete(byEntity, e)
	}
	if len(msg.Actions) == 0 {
		return ActionMessage{}, false
	}
	s.nextSequence[g]++
	return msg, true
}

func (s *Sender) buildUpdateMessage(g GroupID) (UpdateMessage, bool) {
	byEntity, ok := s.valuesDirty[g]
	if !ok || len(byEntity) == 0 {
		return UpdateMessage{}, false
	}
	msg := UpdateMessage{Group: g, LastActionTick: s.lastActionTick[g]}
	for e, components := range byEntity {
		remote := s.remoteFor(e)
		msg.Updates = append(msg.Updates, EntityUpdate{Entity: remote, Components: mapAll(components, s.RemoteMap)})
		delete(byEntity, e)
	}
	if len(msg.Updates) == 0 {
		return UpdateMessage{}, false
	}
	return msg, true
}

// remoteFor resolves e's remote handle as seen by this connection's peer,
// falling back to e itself if no mapping exists yet (the peer hasn't
// spawned this side's view of a locally-originated entity).
func (s *Sender) remoteFor(e entity.Entity) entity.Entity {
	if remote, ok := s.RemoteMap.GetRemote(e); ok {
		return remote
	}
	return e
}

func mapAll(components []Component, m *RemoteEntityMap) []Component {
	for _, c := range components {
		c.MapEntities(m)
	}
	return components
}
