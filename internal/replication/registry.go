package replication

import (
	"fmt"

	"driftnet/pkg/entity"
)

// ComponentKind is the stable small-integer wire identifier for a
// component type, registered at startup (spec.md section 3's "Component"
// glossary entry).
type ComponentKind uint32

// Component is a typed value attached to an entity. Encode/Decode handle
// the "registered codec" spec.md section 6 defers to; MapEntities lets a
// component carrying Entity fields participate in RemoteEntityMap
// translation (spec.md section 4.6 step 1, section 9's design note).
type Component interface {
	Kind() ComponentKind
	Encode() []byte
	MapEntities(m entity.Mapper)
}

// Decoder builds a zero-value Component of a registered kind from wire
// bytes. Kept separate from Component so the registry can decode before
// it has a live instance to call a method on.
type Decoder func(data []byte) (Component, error)

// ComponentRegistry maps ComponentKind to its decoder, mirroring
// spec.md section 9's "ComponentRegistry keyed by ComponentKind ... or a
// closed tagged variant" guidance. We use the function-pointer form: it
// composes better with a growing set of gameplay-defined components than
// a single enum this package would have to know about ahead of time.
type ComponentRegistry struct {
	decoders map[ComponentKind]Decoder
}

// NewComponentRegistry creates an empty registry.
func NewComponentRegistry() *ComponentRegistry {
	return &ComponentRegistry{decoders: make(map[ComponentKind]Decoder)}
}

// Register associates a ComponentKind with the decoder that reconstructs
// it from wire bytes. Registering the same kind twice overwrites the
// prior decoder, which is only expected during tests.
func (r *ComponentRegistry) Register(kind ComponentKind, dec Decoder) {
	r.decoders[kind] = dec
}

// Decode reconstructs a Component of the given kind. An unknown kind is
// not an error here: spec.md section 4.6 says the receiver should "drop
// component but keep entity", which callers implement by checking the ok
// return and skipping rather than failing the whole message.
func (r *ComponentRegistry) Decode(kind ComponentKind, data []byte) (Component, bool, error) {
	dec, ok := r.decoders[kind]
	if !ok {
		return nil, false, nil
	}
	c, err := dec(data)
	if err != nil {
		return nil, true, fmt.Errorf("replication: decode component kind %d: %w", kind, err)
	}
	return c, true, nil
}
