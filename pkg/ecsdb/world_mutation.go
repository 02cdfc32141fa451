package ecsdb

import (
	"slices"
	"unsafe"

	"github.com/argus-labs/ecsdb/pkg/assert"
	"github.com/argus-labs/ecsdb/pkg/ecsdb/internal/ecslog"
	"github.com/argus-labs/ecsdb/pkg/ecsdb/internal/spin"
	"github.com/argus-labs/ecsdb/pkg/ecsdb/internal/statsd"
	"github.com/rs/zerolog"
)

var emptySchema = NewSchema()

// -------------------------------------------------------------------------------------------------
// Spawning
// -------------------------------------------------------------------------------------------------

// Spawn creates an entity holding the bundle's components. A nil bundle creates an entity without
// components.
func (w *World) Spawn(b Bundle) Entity {
	schema := emptySchema
	if b != nil {
		schema = b.Schema()
	}

	var events []Event
	w.structure.Shared(w.yield)
	dst := w.resolve(schema, &events)
	e := w.newEntity()

	it := dst.addAOS(1)
	it.Next()
	if b != nil {
		b.put(it.Row())
	}
	w.locations.Get(e.index).where.Store(packWhere(dst.ref, it.Slot()))
	it.Commit(e)
	it.Close()
	w.iteration.Add(1)
	w.structure.SharedUnlock()

	w.emitAll(append(events, Event{Kind: EventEntityAdded, Entity: e, Archetype: dst.ID()}))
	return e
}

// SpawnBatch creates one entity per bundle and returns them in the same order. Consecutive bundles
// with the same component set are inserted with one reservation. Entities become visible one at a
// time, so a concurrent query may observe part of the batch.
func (w *World) SpawnBatch(bundles ...Bundle) []Entity {
	out := make([]Entity, 0, len(bundles))
	events := make([]Event, 0, len(bundles))

	w.structure.Shared(w.yield)
	for start := 0; start < len(bundles); {
		schema := bundles[start].Schema()
		end := start + 1
		for end < len(bundles) && bundles[end].Schema().hash == schema.hash {
			end++
		}

		dst := w.resolve(schema, &events)
		it := dst.addAOS(end - start)
		for _, b := range bundles[start:end] {
			it.Next()
			b.put(it.Row())
			e := w.newEntity()
			w.locations.Get(e.index).where.Store(packWhere(dst.ref, it.Slot()))
			it.Commit(e)
			w.iteration.Add(1)
			out = append(out, e)
			events = append(events, Event{Kind: EventEntityAdded, Entity: e, Archetype: dst.ID()})
		}
		it.Close()
		start = end
	}
	w.structure.SharedUnlock()

	w.emitAll(events)
	return out
}

// spawnColumns creates n entities in the archetype of schema, filling one column at a time. fill
// receives the canonical column index and the destination pointer of every row.
func (w *World) spawnColumns(schema *Schema, n int, fill func(col int, dst []unsafe.Pointer)) []Entity {
	if n == 0 {
		return nil
	}

	events := make([]Event, 0, n+1)
	w.structure.Shared(w.yield)
	dst := w.resolve(schema, &events)
	it := dst.addSOA(n)
	for col := 0; it.Next(); col++ {
		fill(col, it.Column())
	}

	entities := make([]Entity, n)
	for i, slot := range it.Slots() {
		entities[i] = w.newEntity()
		w.locations.Get(entities[i].index).where.Store(packWhere(dst.ref, slot))
	}
	it.Commit(entities)
	it.Close()
	w.iteration.Add(uint64(n))
	w.structure.SharedUnlock()

	for _, e := range entities {
		events = append(events, Event{Kind: EventEntityAdded, Entity: e, Archetype: dst.ID()})
	}
	w.emitAll(events)
	return entities
}

// SpawnColumns1 creates one entity per element of as.
func SpawnColumns1[A any](w *World, as []A) []Entity {
	return w.spawnColumns(tuple1[A]().schema, len(as), func(_ int, dst []unsafe.Pointer) {
		for i, p := range dst {
			*(*A)(p) = as[i]
		}
	})
}

// SpawnColumns2 creates one entity per index of the parallel slices as and bs.
func SpawnColumns2[A, B any](w *World, as []A, bs []B) []Entity {
	assert.That(len(as) == len(bs), "column lengths differ: %d and %d", len(as), len(bs))
	t := tuple2[A, B]()
	return w.spawnColumns(t.schema, len(as), func(col int, dst []unsafe.Pointer) {
		switch col {
		case t.perm[0]:
			for i, p := range dst {
				*(*A)(p) = as[i]
			}
		case t.perm[1]:
			for i, p := range dst {
				*(*B)(p) = bs[i]
			}
		}
	})
}

// SpawnPacked creates n entities from pre-packed column bytes. columns holds one buffer per schema
// type in canonical order, each n*size bytes long. Only pointer-free component types qualify.
func (w *World) SpawnPacked(schema *Schema, n int, columns [][]byte) []Entity {
	assert.That(len(columns) == schema.Len(), "got %d columns for %d component types", len(columns), schema.Len())
	for i, t := range schema.types {
		assert.That(uintptr(len(columns[i])) == t.size*uintptr(n), "column %s holds %d bytes, want %d", t.name, len(columns[i]), t.size*uintptr(n))
	}
	if n == 0 {
		return nil
	}

	events := make([]Event, 0, n+1)
	w.structure.Shared(w.yield)
	dst := w.resolve(schema, &events)
	it := dst.addPacked(n)
	entities := make([]Entity, n)
	for it.Next() {
		start, count := it.Offset(), it.Len()
		for col, t := range schema.types {
			size := int(t.size)
			copy(it.Column(col), columns[col][start*size:(start+count)*size])
		}
		run := entities[start : start+count]
		for i := range run {
			run[i] = w.newEntity()
			slot := it.res.rows[start+i].slot
			w.locations.Get(run[i].index).where.Store(packWhere(dst.ref, slot))
		}
		it.Commit(run)
	}
	it.Close()
	w.iteration.Add(uint64(n))
	w.structure.SharedUnlock()

	for _, e := range entities {
		events = append(events, Event{Kind: EventEntityAdded, Entity: e, Archetype: dst.ID()})
	}
	w.emitAll(events)
	return entities
}

// -------------------------------------------------------------------------------------------------
// Migration
// -------------------------------------------------------------------------------------------------

// removeSink receives the values of removed components before they leave the source archetype.
// A sink takes ownership: removed values are not dropped.
type removeSink func(src *Archetype, row []unsafe.Pointer)

// AddComponents adds the bundle's components to e. Components e already holds are replaced.
// It returns false if e is stale.
func (w *World) AddComponents(e Entity, b Bundle) bool {
	return w.migrate(e, "add", b, nil, nil)
}

// RemoveComponents removes the given component types from e, running their destructors. Types
// that e does not hold are ignored. It returns false if e is stale.
func (w *World) RemoveComponents(e Entity, types ...*TypeInfo) bool {
	return w.migrate(e, "remove", nil, sortedIDs(types), nil)
}

// ModifyEntity removes the given types and then adds the bundle, as one migration.
func (w *World) ModifyEntity(e Entity, add Bundle, remove ...*TypeInfo) bool {
	return w.migrate(e, "modify", add, sortedIDs(remove), nil)
}

// Remove1 removes component A from e and returns its value. It returns false if e is stale or does
// not hold A.
func Remove1[A any](w *World, e Entity) (A, bool) {
	var out Bundle1[A]
	ok := w.migrate(e, "remove", nil, tuple1[A]().schema.ids, func(src *Archetype, row []unsafe.Pointer) {
		out.take(tupleRow(tuple1[A](), src, row))
	})
	return out.A, ok
}

// Remove2 removes components A and B from e and returns their values.
func Remove2[A, B any](w *World, e Entity) (A, B, bool) {
	var out Bundle2[A, B]
	ok := w.migrate(e, "remove", nil, tuple2[A, B]().schema.ids, func(src *Archetype, row []unsafe.Pointer) {
		out.take(tupleRow(tuple2[A, B](), src, row))
	})
	return out.A, out.B, ok
}

// Remove3 removes components A, B and C from e and returns their values.
func Remove3[A, B, C any](w *World, e Entity) (Bundle3[A, B, C], bool) {
	var out Bundle3[A, B, C]
	ok := w.migrate(e, "remove", nil, tuple3[A, B, C]().schema.ids, func(src *Archetype, row []unsafe.Pointer) {
		out.take(tupleRow(tuple3[A, B, C](), src, row))
	})
	return out, ok
}

// Remove4 removes components A, B, C and D from e and returns their values.
func Remove4[A, B, C, D any](w *World, e Entity) (Bundle4[A, B, C, D], bool) {
	var out Bundle4[A, B, C, D]
	ok := w.migrate(e, "remove", nil, tuple4[A, B, C, D]().schema.ids, func(src *Archetype, row []unsafe.Pointer) {
		out.take(tupleRow(tuple4[A, B, C, D](), src, row))
	})
	return out, ok
}

// tupleRow picks the pointers of a tuple's types, in canonical order, out of a source row.
func tupleRow(t *tuple, src *Archetype, row []unsafe.Pointer) []unsafe.Pointer {
	out := make([]unsafe.Pointer, t.schema.Len())
	for i, info := range t.schema.types {
		col := src.column(info.id)
		assert.That(col >= 0, "archetype %016x does not hold %s", src.ID(), info.name)
		out[i] = row[col]
	}
	return out
}

func (w *World) migrate(e Entity, op string, add Bundle, remove []TypeID, sink removeSink) bool {
	var events []Event
	w.structure.Shared(w.yield)
	ok := w.migrateShared(e, op, add, remove, sink, &events)
	w.structure.SharedUnlock()

	w.emitAll(events)
	return ok
}

// migrateShared runs the optimistic migration loop: read the location, resolve the destination,
// reserve a row there, lock the source row and swap the location. A lost race hands everything
// back and retries after a backoff. The caller holds the structure counter shared and emits the
// queued events once it has released it.
func (w *World) migrateShared(e Entity, op string, add Bundle, remove []TypeID, sink removeSink, events *[]Event) bool {
	var addIDs []TypeID
	if add != nil {
		addIDs = add.Schema().ids
	}
	backoff := spin.Backoff{MaxShift: w.opts.MaxBackoffShift, Yield: w.yield}
	loc := w.locations.Get(e.index)

	for ; ; w.retry(op, e, &backoff) {
		src, slot, ok := w.locate(e)
		if !ok {
			return false
		}

		if sink != nil && !src.HasTypes(remove) {
			return false
		}

		ids := union(difference(src.schema.ids, remove), addIDs)
		if slices.Equal(ids, src.schema.ids) {
			if w.overwrite(e, src, slot, add) {
				return true
			}
			continue
		}
		dst := w.resolveIDs(ids, events)

		ins := dst.addAOS(1)
		ins.Next()
		mv := src.moveAOS([]uint32{slot})
		mv.Next()
		if !mv.Owns(0, e) || !loc.where.CompareAndSwap(packWhere(src.ref, slot), packWhere(dst.ref, ins.Slot())) {
			mv.Abort()
			ins.Abort()
			continue
		}

		transfer(src, mv.Row(), dst, ins.Row(), add, sink)
		ins.Commit(e)
		ins.Close()
		mv.Finish()
		w.iteration.Add(1)

		if w.logger.GetLevel() <= zerolog.TraceLevel {
			ecslog.Entity(w.logger, zerolog.TraceLevel, e.index, e.gen, dst.ID(), "entity moved")
		}
		*events = append(*events, Event{Kind: EventEntityMoved, Entity: e, Archetype: dst.ID(), From: src.ID()})
		return true
	}
}

func (w *World) retry(op string, e Entity, backoff *spin.Backoff) {
	w.retries.Add(1)
	statsd.EmitRetry(op)
	w.logger.Trace().Str("op", op).Stringer("entity", e).Uint("attempt", backoff.Attempts()).Msg("lost race, retrying")
	backoff.Wait()
}

// overwrite replaces values of components e already holds, in place.
func (w *World) overwrite(e Entity, a *Archetype, slot uint32, add Bundle) bool {
	a.lockAll()
	defer a.unlockAll()
	if !a.owns(slot, e) {
		return false
	}
	if add == nil {
		return true
	}

	c, off := a.locate(slot)
	schema := add.Schema()
	ptrs := make([]unsafe.Pointer, schema.Len())
	for i, t := range schema.types {
		p := a.pointer(c, a.column(t.id), off)
		t.dropValue(p)
		ptrs[i] = p
	}
	add.put(ptrs)
	return true
}

// transfer moves the values of one entity from a source row into a destination row. Both column
// lists are sorted, so one merge pass pairs them up: shared columns are copied unless the bundle
// replaces them, columns missing from the destination are handed to sink or dropped, and the
// bundle fills in the rest.
func transfer(src *Archetype, from []unsafe.Pointer, dst *Archetype, to []unsafe.Pointer, add Bundle, sink removeSink) {
	var addSchema *Schema
	if add != nil {
		addSchema = add.Schema()
	}
	if sink != nil {
		sink(src, from)
	}

	srcTypes, dstTypes := src.schema.types, dst.schema.types
	for i, j := 0, 0; i < len(srcTypes); {
		switch {
		case j < len(dstTypes) && dstTypes[j].id < srcTypes[i].id:
			j++
		case j < len(dstTypes) && dstTypes[j].id == srcTypes[i].id:
			if addSchema != nil && addSchema.Index(srcTypes[i].id) >= 0 {
				srcTypes[i].dropValue(from[i])
			} else {
				srcTypes[i].copyValue(to[j], from[i])
			}
			i++
			j++
		default:
			if sink == nil {
				srcTypes[i].dropValue(from[i])
			}
			i++
		}
	}

	if add != nil {
		ptrs := make([]unsafe.Pointer, addSchema.Len())
		for k, t := range addSchema.types {
			ptrs[k] = to[dst.column(t.id)]
		}
		add.put(ptrs)
	}
}

// -------------------------------------------------------------------------------------------------
// Despawning
// -------------------------------------------------------------------------------------------------

// Despawn removes e and runs the destructors of its components. It returns false if e is stale.
func (w *World) Despawn(e Entity) bool {
	w.structure.Shared(w.yield)
	archID, ok := w.despawnShared(e)
	w.structure.SharedUnlock()

	if ok {
		w.emit(Event{Kind: EventEntityRemoved, Entity: e, Archetype: archID})
	}
	return ok
}

func (w *World) despawnShared(e Entity) (uint64, bool) {
	backoff := spin.Backoff{MaxShift: w.opts.MaxBackoffShift, Yield: w.yield}
	loc := w.locations.Get(e.index)

	for ; ; w.retry("despawn", e, &backoff) {
		src, slot, ok := w.locate(e)
		if !ok {
			return 0, false
		}

		mv := src.removeAOSDeferred([]uint32{slot})
		if !mv.Owns(0, e) || !loc.where.CompareAndSwap(packWhere(src.ref, slot), 0) {
			mv.Abort()
			continue
		}
		mv.Finish()
		w.locations.Release(e.index)
		w.iteration.Add(1)
		return src.ID(), true
	}
}

// DespawnBatch removes every live entity in es and returns how many were removed. Entities that
// share an archetype are removed together.
func (w *World) DespawnBatch(es ...Entity) int {
	type target struct {
		e    Entity
		slot uint32
	}

	w.structure.Shared(w.yield)
	groups := make(map[*Archetype][]target)
	order := make([]*Archetype, 0)
	seen := make(map[Entity]struct{}, len(es))
	for _, e := range es {
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		a, slot, ok := w.locate(e)
		if !ok {
			continue
		}
		if _, seen := groups[a]; !seen {
			order = append(order, a)
		}
		groups[a] = append(groups[a], target{e: e, slot: slot})
	}

	var events []Event
	for _, a := range order {
		targets := groups[a]
		slots := make([]uint32, len(targets))
		for i, t := range targets {
			slots[i] = t.slot
		}

		mv := a.removeSOADeferred(slots)
		owned := mv.verify()
		if owned {
			for i, e := range mv.Entities() {
				owned = owned && e == targets[i].e
			}
		}
		if !owned {
			// A row moved between locate and lock; fall back to one entity at a time.
			mv.Abort()
			for _, t := range targets {
				if archID, ok := w.despawnShared(t.e); ok {
					events = append(events, Event{Kind: EventEntityRemoved, Entity: t.e, Archetype: archID})
				}
			}
			continue
		}

		for _, t := range targets {
			swapped := w.locations.Get(t.e.index).where.CompareAndSwap(packWhere(a.ref, t.slot), 0)
			assert.That(swapped, "entity %s location out of sync with its row", t.e)
		}
		mv.Finish()
		for _, t := range targets {
			w.locations.Release(t.e.index)
			events = append(events, Event{Kind: EventEntityRemoved, Entity: t.e, Archetype: a.ID()})
		}
		w.iteration.Add(uint64(len(targets)))
	}
	w.structure.SharedUnlock()

	w.emitAll(events)
	return len(events)
}
