package replication

import (
	"log"

	"driftnet/internal/tick"
	"driftnet/pkg/entity"
)

// groupChannel buffers incoming actions/updates for one ReplicationGroup
// until their causal preconditions are met, per spec.md section 4.6 and
// lightyear's GroupChannel.
type groupChannel struct {
	actionsPendingRecv uint16
	actionsBuffer      map[uint16]actionEntry
	// buffered_updates[last_action_tick][remote_tick] = message
	bufferedUpdates map[tick.Tick]map[tick.Tick]UpdateMessage
	latestTick      tick.Tick
}

type actionEntry struct {
	tick tick.Tick
	msg  ActionMessage
}

func newGroupChannel() *groupChannel {
	return &groupChannel{
		actionsBuffer:   make(map[uint16]actionEntry),
		bufferedUpdates: make(map[tick.Tick]map[tick.Tick]UpdateMessage),
	}
}

// seqBefore treats MessageID-style u16 sequence numbers with wrap-aware
// comparison, matching internal/channel.MessageID's Before.
func seqBefore(a, b uint16) bool {
	return int32(int16(a-b)) < 0
}

// AppliedAction is one action ready to apply, tagged with the tick it was
// emitted at.
type AppliedAction struct {
	Tick tick.Tick
	Msg  ActionMessage
}

// AppliedUpdate is one update ready to apply, tagged with its remote tick.
type AppliedUpdate struct {
	Tick tick.Tick
	Msg  UpdateMessage
}

// Receiver buffers incoming replication traffic per group and releases it
// to the application in causally-valid order (spec.md section 4.6).
type Receiver struct {
	EntityMap *RemoteEntityMap

	remoteEntityToGroup map[entity.Entity]GroupID
	groups              map[GroupID]*groupChannel
	logger              *log.Logger
}

// NewReceiver creates a Receiver. logger may be nil to discard diagnostics.
func NewReceiver(logger *log.Logger) *Receiver {
	return &Receiver{
		EntityMap:           NewRemoteEntityMap(),
		remoteEntityToGroup: make(map[entity.Entity]GroupID),
		groups:              make(map[GroupID]*groupChannel),
		logger:              logger,
	}
}

func (r *Receiver) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}

func (r *Receiver) channel(g GroupID) *groupChannel {
	ch, ok := r.groups[g]
	if !ok {
		ch = newGroupChannel()
		r.groups[g] = ch
	}
	return ch
}

// RecvAction buffers an incoming action message, dropping it if it is
// older than the group's cursor.
func (r *Receiver) RecvAction(msg ActionMessage, remoteTick tick.Tick) {
	ch := r.channel(msg.Group)
	if seqBefore(msg.Sequence, ch.actionsPendingRecv) {
		return
	}
	ch.actionsBuffer[msg.Sequence] = actionEntry{tick: remoteTick, msg: msg}
}

// RecvUpdate buffers an incoming update message, dropping it if a more
// recent update has already been applied to this group.
func (r *Receiver) RecvUpdate(msg UpdateMessage, remoteTick tick.Tick) {
	ch := r.channel(msg.Group)
	if !remoteTick.After(ch.latestTick) {
		return
	}
	byRemoteTick, ok := ch.bufferedUpdates[msg.LastActionTick]
	if !ok {
		byRemoteTick = make(map[tick.Tick]UpdateMessage)
		ch.bufferedUpdates[msg.LastActionTick] = byRemoteTick
	}
	if _, exists := byRemoteTick[remoteTick]; !exists {
		byRemoteTick[remoteTick] = msg
	}
}

// readActions drains every action ready in sequence order.
func (ch *groupChannel) readActions() []AppliedAction {
	var out []AppliedAction
	for {
		entry, ok := ch.actionsBuffer[ch.actionsPendingRecv]
		if !ok {
			break
		}
		delete(ch.actionsBuffer, ch.actionsPendingRecv)
		ch.actionsPendingRecv++
		ch.latestTick = entry.tick
		out = append(out, AppliedAction{Tick: entry.tick, Msg: entry.msg})
	}
	return out
}

// readBufferedUpdates releases updates whose last_action_tick has now
// been reached, per spec.md section 4.6 step 3-4.
func (ch *groupChannel) readBufferedUpdates() []AppliedUpdate {
	var out []AppliedUpdate
	ready := make(map[tick.Tick]map[tick.Tick]UpdateMessage)
	notReady := make(map[tick.Tick]map[tick.Tick]UpdateMessage)
	for requiredTick, byRemote := range ch.bufferedUpdates {
		if !requiredTick.After(ch.latestTick) {
			ready[requiredTick] = byRemote
		} else {
			notReady[requiredTick] = byRemote
		}
	}
	// Deterministic order: lowest required tick first, then lowest remote tick.
	requiredTicks := sortedTicks(ready)
	for _, requiredTick := range requiredTicks {
		byRemote := ready[requiredTick]
		remoteTicks := sortedTicks(byRemote)
		for _, remoteTick := range remoteTicks {
			if !ch.latestTick.Before(remoteTick) {
				continue
			}
			ch.latestTick = remoteTick
			out = append(out, AppliedUpdate{Tick: remoteTick, Msg: byRemote[remoteTick]})
		}
	}
	ch.bufferedUpdates = notReady
	return out
}

func sortedTicks[V any](m map[tick.Tick]V) []tick.Tick {
	ticks := make([]tick.Tick, 0, len(m))
	for t := range m {
		ticks = append(ticks, t)
	}
	for i := 1; i < len(ticks); i++ {
		for j := i; j > 0 && ticks[j].Before(ticks[j-1]); j-- {
			ticks[j], ticks[j-1] = ticks[j-1], ticks[j]
		}
	}
	return ticks
}

// GroupReadResult bundles one group's readied actions and updates, in the
// order they must be applied.
type GroupReadResult struct {
	Group   GroupID
	Actions []AppliedAction
	Updates []AppliedUpdate
}

// ReadMessages returns every group with newly-ready messages, clearing
// them from the internal buffers. Actions for a group are always returned
// before its updates, preserving the action-then-gated-update ordering
// spec.md section 4.6 requires.
func (r *Receiver) ReadMessages() []GroupReadResult {
	var out []GroupReadResult
	for g, ch := range r.groups {
		actions := ch.readActions()
		updates := ch.readBufferedUpdates()
		if len(actions) == 0 && len(updates) == 0 {
			continue
		}
		out = append(out, GroupReadResult{Group: g, Actions: actions, Updates: updates})
	}
	return out
}

// World is the minimal entity-component collaborator the receiver applies
// replicated changes to. The application-level store is out of scope
// (spec.md section 1); this is the narrow surface apply_world needs.
type World interface {
	Spawn() entity.Entity
	Despawn(e entity.Entity)
	Exists(e entity.Entity) bool
	Insert(e entity.Entity, c Component)
	Remove(e entity.Entity, kind ComponentKind)
	Update(e entity.Entity, c Component)
}

// Events receives notifications as replicated changes are applied, for
// the application to react to (spec.md section 6's EntitySpawnEvent,
// EntityDespawnEvent, Component{Insert,Update,Remove}Event).
type Events interface {
	PushSpawn(e entity.Entity)
	PushDespawn(e entity.Entity)
	PushInsert(e entity.Entity, c Component)
	PushUpdate(e entity.Entity, c Component)
	PushRemove(e entity.Entity, kind ComponentKind)
}

// Apply applies one group's readied actions then updates to world,
// following the two-pass spawn-then-mutate algorithm of spec.md section
// 4.6 step 1 (grounded on lightyear's apply_world: entities are spawned
// in a first pass so Entity-carrying components in a later pass can
// resolve sibling references, breaking potential cycles).
func (r *Receiver) Apply(world World, events Events, result GroupReadResult) {
	for _, applied := range result.Actions {
		r.applyAction(world, events, result.Group, applied.Msg)
	}
	for _, applied := range result.Updates {
		r.applyUpdate(world, events, applied.Msg)
	}
}

func (r *Receiver) applyAction(world World, events Events, group GroupID, msg ActionMessage) {
	// First pass: spawn every new entity so later passes can resolve
	// Entity-carrying component fields regardless of ordering within
	// this message.
	for _, a := range msg.Actions {
		if !a.Spawn {
			continue
		}
		if _, already := r.EntityMap.GetLocal(a.Entity); already {
			r.logf("replication: spawn for already-mapped remote entity %d", a.Entity)
			continue
		}
		local := world.Spawn()
		r.EntityMap.Insert(a.Entity, local)
		r.remoteEntityToGroup[a.Entity] = group
		events.PushSpawn(local)
	}

	// Second pass: despawn, insert, remove, update in message order.
	for _, a := range msg.Actions {
		if a.Despawn {
			local, ok := r.EntityMap.RemoveByRemote(a.Entity)
			if !ok {
				r.logf("replication: despawn for unknown remote entity %d", a.Entity)
				continue
			}
			delete(r.remoteEntityToGroup, a.Entity)
			world.Despawn(local)
			events.PushDespawn(local)
			continue
		}

		local, ok := r.EntityMap.GetLocal(a.Entity)
		if !ok {
			r.logf("replication: action for unmapped remote entity %d", a.Entity)
			continue
		}
		if !world.Exists(local) {
			continue
		}

		for _, c := range a.Insert {
			c.MapEntities(r.EntityMap)
			world.Insert(local, c)
			events.PushInsert(local, c)
		}
		for _, kind := range a.Remove {
			world.Remove(local, kind)
			events.PushRemove(local, kind)
		}
		for _, c := range a.Updates {
			c.MapEntities(r.EntityMap)
			world.Update(local, c)
			events.PushUpdate(local, c)
		}
	}
}

func (r *Receiver) applyUpdate(world World, events Events, msg UpdateMessage) {
	for _, u := range msg.Updates {
		local, ok := r.EntityMap.GetLocal(u.Entity)
		if !ok || !world.Exists(local) {
			// Updates may arrive for an entity already despawned: drop.
			continue
		}
		for _, c := range u.Components {
			c.MapEntities(r.EntityMap)
			world.Update(local, c)
			events.PushUpdate(local, c)
		}
	}
}

// ConfirmedTick returns the latest remote tick applied to the group the
// given local (Confirmed) entity belongs to.
func (r *Receiver) ConfirmedTick(localEntity entity.Entity) (tick.Tick, bool) {
	remote, ok := r.EntityMap.GetRemote(localEntity)
	if !ok {
		return 0, false
	}
	group, ok := r.remoteEntityToGroup[remote]
	if !ok {
		return 0, false
	}
	ch, ok := r.groups[group]
	if !ok {
		return 0, false
	}
	return ch.latestTick, true
}
