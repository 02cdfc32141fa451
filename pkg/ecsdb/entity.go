package ecsdb

import (
	"fmt"
	"sync/atomic"
)

// Entity is an opaque handle to a bag of components. It is a generational index into the World's
// location table: the handle is valid while its generation equals the reuse epoch of the location
// record it points at. The zero Entity is never valid.
type Entity struct {
	index uint32
	gen   uint32
}

// Index returns the location record index.
func (e Entity) Index() uint32 { return e.index }

// Generation returns the generation captured when the entity was created.
func (e Entity) Generation() uint32 { return e.gen }

// IsZero reports whether e is the zero handle.
func (e Entity) IsZero() bool { return e.gen == 0 }

func (e Entity) String() string {
	return fmt.Sprintf("%dv%d", e.index, e.gen)
}

// location is the record an entity handle points at. where packs the archetype reference in the
// high half and the slot in the low half. A zero archetype reference means the entity is gone.
type location struct {
	where atomic.Uint64
}

func packWhere(ref, slot uint32) uint64 { return uint64(ref)<<32 | uint64(slot) }

func unpackWhere(w uint64) (ref, slot uint32) { return uint32(w >> 32), uint32(w) }

// clear empties a released record. Stale handles may still be reading where.
func (l *location) clear() { l.where.Store(0) }
