// Package entity defines the opaque entity handle shared by the server and
// every client. The server and each client keep separate handle spaces for
// the same logical entity; driftnet/internal/replication.RemoteEntityMap
// bijects between them per connection.
package entity

import "sync/atomic"

// Entity is an opaque local handle. It carries no meaning outside the
// process that allocated it.
type Entity uint64

// Nil is the zero handle, never allocated by Allocator.
const Nil Entity = 0

// Allocator hands out process-local, monotonically increasing handles.
type Allocator struct {
	next atomic.Uint64
}

// NewAllocator returns an Allocator whose first handle is 1.
func NewAllocator() *Allocator {
	return &Allocator{}
}

// Spawn allocates a fresh Entity handle.
func (a *Allocator) Spawn() Entity {
	return Entity(a.next.Add(1))
}

// Mapper resolves a remote-side Entity to its local counterpart. Components
// that embed Entity fields implement MapEntities(Mapper) to remap those
// fields when the component crosses the server/client boundary.
type Mapper interface {
	// ToLocal returns the local Entity bijected to remote, and whether a
	// mapping exists.
	ToLocal(remote Entity) (Entity, bool)
}

// Mappable is implemented by components that carry Entity-typed fields and
// must remap them when replicated across the network boundary. The
// replication registry does not record which kinds need mapping: the
// receiver calls MapEntities on every component it applies.
type Mappable interface {
	MapEntities(m Mapper)
}
