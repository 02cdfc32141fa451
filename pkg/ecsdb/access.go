package ecsdb

import (
	"github.com/rotisserie/eris"
)

// withComponent runs fn on the address of e's component of type t, holding that column shared or
// unique. The location is re-checked under the column lock and re-read if the entity moved.
func (w *World) withComponent(e Entity, t *TypeInfo, unique bool, fn func(a *Archetype, c *chunk, off uint32)) error {
	w.structure.Shared(w.yield)
	defer w.structure.SharedUnlock()

	for {
		a, slot, ok := w.locate(e)
		if !ok {
			return eris.Wrapf(ErrStaleEntity, "entity %s", e)
		}
		col := a.column(t.id)
		if col < 0 {
			return eris.Wrapf(ErrComponentNotFound, "entity %s has no %s", e, t.name)
		}

		cols := []int{col}
		a.lockColumns(cols, unique)
		if !a.owns(slot, e) {
			a.unlockColumns(cols, unique)
			w.yield()
			continue
		}
		c, off := a.locate(slot)
		fn(a, c, off)
		a.unlockColumns(cols, unique)
		return nil
	}
}

// Get returns a copy of e's component of type T.
func Get[T any](w *World, e Entity) (T, error) {
	var out T
	t := TypeOf[T]()
	err := w.withComponent(e, t, false, func(a *Archetype, c *chunk, off uint32) {
		out = *(*T)(a.pointer(c, a.column(t.id), off))
	})
	return out, err
}

// Set replaces e's component of type T, dropping the previous value. The entity must already hold
// T; use AddComponents to attach a new type.
func Set[T any](w *World, e Entity, value T) error {
	t := TypeOf[T]()
	return w.withComponent(e, t, true, func(a *Archetype, c *chunk, off uint32) {
		p := a.pointer(c, a.column(t.id), off)
		t.dropValue(p)
		*(*T)(p) = value
	})
}

// Update calls fn with a pointer to e's component of type T. The pointer must not be retained.
func Update[T any](w *World, e Entity, fn func(*T)) error {
	t := TypeOf[T]()
	return w.withComponent(e, t, true, func(a *Archetype, c *chunk, off uint32) {
		fn((*T)(a.pointer(c, a.column(t.id), off)))
	})
}

// Has reports whether e is live and holds a component of type T.
func Has[T any](w *World, e Entity) bool {
	a := w.ArchetypeOf(e)
	return a != nil && a.HasType(TypeOf[T]())
}
