package replication

import "driftnet/pkg/entity"

// RemoteEntityMap tracks the bidirectional correspondence between a
// peer's entity handles and this side's local handles, per spec.md
// section 4.6. The receiver owns it; the sender reads a snapshot at send
// time (spec.md section 5's "Shared resources").
type RemoteEntityMap struct {
	remoteToLocal map[entity.Entity]entity.Entity
	localToRemote map[entity.Entity]entity.Entity
}

// NewRemoteEntityMap creates an empty map.
func NewRemoteEntityMap() *RemoteEntityMap {
	return &RemoteEntityMap{
		remoteToLocal: make(map[entity.Entity]entity.Entity),
		localToRemote: make(map[entity.Entity]entity.Entity),
	}
}

// Insert records a freshly spawned pair.
func (m *RemoteEntityMap) Insert(remote, local entity.Entity) {
	m.remoteToLocal[remote] = local
	m.localToRemote[local] = remote
}

// GetLocal resolves a remote handle to the local handle, if known.
func (m *RemoteEntityMap) GetLocal(remote entity.Entity) (entity.Entity, bool) {
	local, ok := m.remoteToLocal[remote]
	return local, ok
}

// GetRemote resolves a local handle back to the remote handle, if known.
func (m *RemoteEntityMap) GetRemote(local entity.Entity) (entity.Entity, bool) {
	remote, ok := m.localToRemote[local]
	return remote, ok
}

// RemoveByRemote drops the mapping for remote and returns the local
// handle that was associated with it, for the caller to despawn.
func (m *RemoteEntityMap) RemoveByRemote(remote entity.Entity) (entity.Entity, bool) {
	local, ok := m.remoteToLocal[remote]
	if !ok {
		return entity.Nil, false
	}
	delete(m.remoteToLocal, remote)
	delete(m.localToRemote, local)
	return local, true
}

// ToLocal implements entity.Mapper so components carrying Entity fields
// can be remapped through this table (spec.md section 4.5 step 5 and
// section 4.6 step 1's "entity-mapping component fields").
func (m *RemoteEntityMap) ToLocal(remote entity.Entity) (entity.Entity, bool) {
	return m.GetLocal(remote)
}
