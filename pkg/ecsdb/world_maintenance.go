package ecsdb

import (
	"context"
	"time"

	"github.com/argus-labs/ecsdb/pkg/assert"
	"github.com/argus-labs/ecsdb/pkg/ecsdb/internal/statsd"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Repack compacts archetype storage. Rows are moved out of the tail chunks of every archetype into
// free slots near the front, up to limit rows in total, and trailing chunks left empty are freed.
// Archetypes left without rows are dropped. A negative limit moves as many rows as needed; a zero
// limit only frees chunks that are already empty. Repack waits for every in-flight entity
// operation and blocks new ones while it runs. It returns the number of rows moved.
//
// Repack stops early, between archetypes, when ctx is done.
func (w *World) Repack(ctx context.Context, limit int) int {
	_, span := w.tracer.Start(ctx, "ecsdb.repack", trace.WithAttributes(attribute.Int("limit", limit)))
	defer span.End()
	start := time.Now()

	w.structure.Exclusive(w.yield)
	w.internMu.Lock()

	moved, freed := 0, 0
	var events []Event
	for _, a := range w.liveArchetypesLocked() {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "repack interrupted")
			break
		}

		budget := -1
		if limit >= 0 {
			budget = max(limit-moved, 0)
		}
		m, f := a.repack(budget, func(e Entity, from, to uint32) {
			swapped := w.locations.Get(e.index).where.CompareAndSwap(packWhere(a.ref, from), packWhere(a.ref, to))
			assert.That(swapped, "entity %s location out of sync with its row", e)
		})
		moved += m
		freed += f
		if m > 0 {
			w.iteration.Add(uint64(m))
		}
		if a.Len() == 0 {
			events = append(events, w.dropArchetypeLocked(a))
		}
	}
	count := w.archetypes.Len()

	w.internMu.Unlock()
	w.structure.UniqueUnlock()

	span.SetAttributes(
		attribute.Int("rows_moved", moved),
		attribute.Int("chunks_freed", freed),
		attribute.Int("archetypes_dropped", len(events)),
	)
	statsd.EmitRepack(start, freed)
	statsd.GaugeArchetypes(count)
	w.logger.Info().
		Int("rows_moved", moved).
		Int("chunks_freed", freed).
		Int("archetypes_dropped", len(events)).
		Dur("duration", time.Since(start)).
		Msg("world repacked")

	for _, ev := range events {
		w.emit(ev)
	}
	return moved
}

// Clear despawns every entity, running component destructors, and drops every archetype. Handles
// issued before Clear are stale afterwards. Clear is serialized against archetype creation and
// waits for every in-flight entity operation.
func (w *World) Clear(ctx context.Context) {
	_, span := w.tracer.Start(ctx, "ecsdb.clear")
	defer span.End()

	w.structure.Exclusive(w.yield)
	w.internMu.Lock()

	var removed, dropped []Event
	for _, a := range w.liveArchetypesLocked() {
		if slots := a.occupied(); len(slots) > 0 {
			mv := a.removeSOADeferred(slots)
			entities := mv.Entities()
			mv.Finish()
			for _, e := range entities {
				w.locations.Get(e.index).where.Store(0)
				w.locations.Release(e.index)
				removed = append(removed, Event{Kind: EventEntityRemoved, Entity: e, Archetype: a.ID()})
			}
			w.iteration.Add(uint64(len(entities)))
		}
		dropped = append(dropped, w.dropArchetypeLocked(a))
	}

	w.internMu.Unlock()
	w.purgeQueryCache()
	w.structure.UniqueUnlock()

	span.SetAttributes(
		attribute.Int("entities_removed", len(removed)),
		attribute.Int("archetypes_dropped", len(dropped)),
	)
	statsd.GaugeArchetypes(0)
	w.logger.Info().
		Int("entities_removed", len(removed)).
		Int("archetypes_dropped", len(dropped)).
		Msg("world cleared")

	for _, ev := range removed {
		w.emit(ev)
	}
	for _, ev := range dropped {
		w.emit(ev)
	}
}

// liveArchetypesLocked snapshots the live archetypes. The caller holds the intern mutex.
func (w *World) liveArchetypesLocked() []*Archetype {
	out := make([]*Archetype, 0, w.archetypes.Len())
	for _, a := range w.archetypes.All() {
		out = append(out, a)
	}
	return out
}
