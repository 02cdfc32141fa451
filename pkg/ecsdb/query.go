package ecsdb

import (
	"iter"
	"slices"
	"unsafe"
)

// Filter narrows a query by component types that are not fetched.
type Filter struct {
	id      TypeID
	exclude bool
}

// With matches only archetypes that hold T.
func With[T any]() Filter {
	return Filter{id: TypeOf[T]().id}
}

// Without matches only archetypes that do not hold T.
func Without[T any]() Filter {
	return Filter{id: TypeOf[T]().id, exclude: true}
}

// -------------------------------------------------------------------------------------------------
// Untyped query
// -------------------------------------------------------------------------------------------------

// Query visits every entity whose archetype holds all of the fetched types and satisfies the
// filters. Entities are visited archetype by archetype, in slot order within an archetype. Rows
// inserted or removed concurrently may or may not be observed, but a row is never observed half
// written.
type Query struct {
	w       *World
	fetch   []*TypeInfo // Caller order
	include []TypeID
	exclude []TypeID
	entry   *queryEntry
}

// NewQuery builds a query fetching the given types, in the given order.
func NewQuery(w *World, fetch []*TypeInfo, filters ...Filter) *Query {
	include := make([]TypeID, 0, len(fetch)+len(filters))
	var exclude []TypeID
	for _, t := range fetch {
		include = append(include, t.id)
	}
	for _, f := range filters {
		if f.exclude {
			exclude = append(exclude, f.id)
		} else {
			include = append(include, f.id)
		}
	}
	slices.Sort(include)
	include = slices.Compact(include)
	slices.Sort(exclude)
	exclude = slices.Compact(exclude)

	return &Query{
		w:       w,
		fetch:   fetch,
		include: include,
		exclude: exclude,
		entry:   w.queryEntry(include, exclude),
	}
}

// Each calls fn for every matching entity with one pointer per fetched type, in fetch order. The
// columns are held shared: fn must not write through the pointers. Returning false stops the walk.
func (q *Query) Each(fn func(e Entity, row []unsafe.Pointer) bool) {
	q.each(false, fn)
}

// EachMut is Each with the fetched columns held unique, so fn may write through the pointers.
func (q *Query) EachMut(fn func(e Entity, row []unsafe.Pointer) bool) {
	q.each(true, fn)
}

// Count returns the number of entities the query currently matches.
func (q *Query) Count() int {
	n := 0
	for _, a := range q.Archetypes() {
		n += a.Len()
	}
	return n
}

// Archetypes returns the archetypes the query currently matches.
func (q *Query) Archetypes() []*Archetype {
	refs := q.w.matching(q.entry)
	out := make([]*Archetype, 0, len(refs))
	for _, r := range refs {
		if !q.w.archetypes.IsDirty(r.idx, r.epoch) {
			out = append(out, r.arch)
		}
	}
	return out
}

func (q *Query) each(unique bool, fn func(Entity, []unsafe.Pointer) bool) {
	w := q.w
	cols := make([]int, len(q.fetch))
	sorted := make([]int, len(q.fetch))
	row := make([]unsafe.Pointer, len(q.fetch))

	for _, ref := range w.matching(q.entry) {
		w.structure.Shared(w.yield)
		// The archetype may have been dropped since the cache was filled.
		if w.archetypes.IsDirty(ref.idx, ref.epoch) {
			w.structure.SharedUnlock()
			continue
		}

		a := ref.arch
		for i, t := range q.fetch {
			cols[i] = a.column(t.id)
		}
		copy(sorted, cols)
		slices.Sort(sorted)
		locked := slices.Compact(sorted)

		a.lockColumns(locked, unique)
		more := visitRows(a, func(c *chunk, off uint32) bool {
			for i, col := range cols {
				row[i] = a.pointer(c, col, off)
			}
			return fn(c.entities[off], row)
		})
		a.unlockColumns(locked, unique)
		w.structure.SharedUnlock()

		if !more {
			return
		}
	}
}

// visitRows calls fn for every occupied row in slot order. The caller holds the entity column.
func visitRows(a *Archetype, fn func(c *chunk, off uint32) bool) bool {
	for _, c := range a.chunks {
		for off := range c.state {
			if c.state[off].Load() != slotOccupied {
				continue
			}
			if !fn(c, uint32(off)) {
				return false
			}
		}
	}
	return true
}

// -------------------------------------------------------------------------------------------------
// Typed queries
// -------------------------------------------------------------------------------------------------

// Query1 visits every entity holding A.
type Query1[A any] struct{ q *Query }

// NewQuery1 builds a query fetching A.
func NewQuery1[A any](w *World, filters ...Filter) *Query1[A] {
	return &Query1[A]{q: NewQuery(w, []*TypeInfo{TypeOf[A]()}, filters...)}
}

// Each calls fn for every matching entity. fn must not write through a.
func (q *Query1[A]) Each(fn func(e Entity, a *A) bool) {
	q.q.Each(func(e Entity, row []unsafe.Pointer) bool { return fn(e, (*A)(row[0])) })
}

// EachMut calls fn for every matching entity with the column held unique.
func (q *Query1[A]) EachMut(fn func(e Entity, a *A) bool) {
	q.q.EachMut(func(e Entity, row []unsafe.Pointer) bool { return fn(e, (*A)(row[0])) })
}

// All returns a read-only iterator over the matching entities.
func (q *Query1[A]) All() iter.Seq2[Entity, *A] {
	return func(yield func(Entity, *A) bool) { q.Each(yield) }
}

func (q *Query1[A]) Count() int               { return q.q.Count() }
func (q *Query1[A]) Archetypes() []*Archetype { return q.q.Archetypes() }

// Query2 visits every entity holding A and B.
type Query2[A, B any] struct{ q *Query }

// NewQuery2 builds a query fetching A and B.
func NewQuery2[A, B any](w *World, filters ...Filter) *Query2[A, B] {
	return &Query2[A, B]{q: NewQuery(w, []*TypeInfo{TypeOf[A](), TypeOf[B]()}, filters...)}
}

// Each calls fn for every matching entity. fn must not write through the pointers.
func (q *Query2[A, B]) Each(fn func(e Entity, a *A, b *B) bool) {
	q.q.Each(func(e Entity, row []unsafe.Pointer) bool { return fn(e, (*A)(row[0]), (*B)(row[1])) })
}

// EachMut calls fn for every matching entity with the columns held unique.
func (q *Query2[A, B]) EachMut(fn func(e Entity, a *A, b *B) bool) {
	q.q.EachMut(func(e Entity, row []unsafe.Pointer) bool { return fn(e, (*A)(row[0]), (*B)(row[1])) })
}

func (q *Query2[A, B]) Count() int               { return q.q.Count() }
func (q *Query2[A, B]) Archetypes() []*Archetype { return q.q.Archetypes() }

// Query3 visits every entity holding A, B and C.
type Query3[A, B, C any] struct{ q *Query }

// NewQuery3 builds a query fetching A, B and C.
func NewQuery3[A, B, C any](w *World, filters ...Filter) *Query3[A, B, C] {
	return &Query3[A, B, C]{q: NewQuery(w, []*TypeInfo{TypeOf[A](), TypeOf[B](), TypeOf[C]()}, filters...)}
}

func (q *Query3[A, B, C]) Each(fn func(e Entity, a *A, b *B, c *C) bool) {
	q.q.Each(func(e Entity, row []unsafe.Pointer) bool {
		return fn(e, (*A)(row[0]), (*B)(row[1]), (*C)(row[2]))
	})
}

func (q *Query3[A, B, C]) EachMut(fn func(e Entity, a *A, b *B, c *C) bool) {
	q.q.EachMut(func(e Entity, row []unsafe.Pointer) bool {
		return fn(e, (*A)(row[0]), (*B)(row[1]), (*C)(row[2]))
	})
}

func (q *Query3[A, B, C]) Count() int               { return q.q.Count() }
func (q *Query3[A, B, C]) Archetypes() []*Archetype { return q.q.Archetypes() }

// Query4 visits every entity holding A, B, C and D.
type Query4[A, B, C, D any] struct{ q *Query }

// NewQuery4 builds a query fetching A, B, C and D.
func NewQuery4[A, B, C, D any](w *World, filters ...Filter) *Query4[A, B, C, D] {
	return &Query4[A, B, C, D]{q: NewQuery(w, []*TypeInfo{TypeOf[A](), TypeOf[B](), TypeOf[C](), TypeOf[D]()}, filters...)}
}

func (q *Query4[A, B, C, D]) Each(fn func(e Entity, a *A, b *B, c *C, d *D) bool) {
	q.q.Each(func(e Entity, row []unsafe.Pointer) bool {
		return fn(e, (*A)(row[0]), (*B)(row[1]), (*C)(row[2]), (*D)(row[3]))
	})
}

func (q *Query4[A, B, C, D]) EachMut(fn func(e Entity, a *A, b *B, c *C, d *D) bool) {
	q.q.EachMut(func(e Entity, row []unsafe.Pointer) bool {
		return fn(e, (*A)(row[0]), (*B)(row[1]), (*C)(row[2]), (*D)(row[3]))
	})
}

func (q *Query4[A, B, C, D]) Count() int               { return q.q.Count() }
func (q *Query4[A, B, C, D]) Archetypes() []*Archetype { return q.q.Archetypes() }
