package ecsdb

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/argus-labs/ecsdb/pkg/assert"
	"github.com/argus-labs/ecsdb/pkg/ecsdb/internal/ecslog"
	"github.com/argus-labs/ecsdb/pkg/ecsdb/internal/spin"
	"github.com/argus-labs/ecsdb/pkg/ecsdb/internal/statsd"
	"github.com/argus-labs/ecsdb/pkg/ecsdb/memory"
	"github.com/argus-labs/ecsdb/pkg/ecsdb/pool"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// World owns every entity and archetype. It interns archetypes by the hash of their type set,
// keeps one location record per live entity, runs structural changes as optimistic migrations
// between archetypes, caches query results and broadcasts structural events.
//
// All methods are safe for concurrent use unless the package is built with the `ecsdb_single`
// tag. Structural changes must not be made from inside a query callback on the archetype being
// iterated, and Repack and Clear must not be called from inside any query callback.
type World struct {
	opts   WorldOptions
	logger *zerolog.Logger
	budget *memory.Budget
	yield  func()
	tracer trace.Tracer

	// Taken shared by every entity operation and exclusively by Repack and Clear.
	structure spin.RW

	locations  *pool.Pool[location]
	archetypes *pool.Pool[Archetype]

	internMu sync.Mutex
	interned map[uint64][]*Archetype

	archVersion atomic.Uint64 // Bumped whenever an archetype is added or removed
	iteration   atomic.Uint64 // Bumped on every structural change
	retries     atomic.Uint64 // Optimistic migrations that lost a race and started over

	cacheMu sync.Mutex
	cache   map[uint64][]*queryEntry

	events eventBus
}

// NewWorld creates a World. Options left zero are loaded from the environment.
func NewWorld(opts WorldOptions) (*World, error) {
	options := newDefaultWorldOptions()

	cfg, err := loadWorldConfig()
	if err != nil {
		return nil, eris.Wrap(err, "failed to load world config")
	}
	cfg.applyToOptions(&options)
	options.apply(opts)

	if err := options.validate(); err != nil {
		return nil, eris.Wrap(err, "invalid world options")
	}

	level, err := zerolog.ParseLevel(strings.ToLower(options.LogLevel))
	if err != nil {
		return nil, eris.Wrap(err, "invalid log level")
	}
	base := options.Logger
	if base == nil {
		base = &log.Logger
	}
	logger := base.Level(level)
	if options.Name != "" {
		logger = *ecslog.CreateWorldLogger(&logger, options.Name)
	}

	if options.StatsdAddress != "" {
		if err := statsd.Init(options.StatsdAddress, options.StatsdTags); err != nil {
			return nil, eris.Wrap(err, "failed to init statsd")
		}
	}

	yield := options.Yield
	if yield == nil {
		yield = spin.Yield
	}
	budget := memory.NewBudget(options.Allocator, uintptr(options.MemoryLimit))

	w := &World{
		opts:     options,
		logger:   &logger,
		budget:   budget,
		yield:    yield,
		tracer:   otel.Tracer("github.com/argus-labs/ecsdb"),
		interned: make(map[uint64][]*Archetype),
		cache:    make(map[uint64][]*queryEntry),
	}
	w.locations = pool.New[location](pool.Options[location]{
		BlockSize: options.PoolBlockSize,
		Allocator: budget,
		Yield:     yield,
		Reset:     (*location).clear,
	})
	w.archetypes = pool.New[Archetype](pool.Options[Archetype]{
		BlockSize: max(options.PoolBlockSize/8, 1),
		Allocator: budget,
		Yield:     yield,
		Reset:     (*Archetype).clear,
	})
	w.archVersion.Store(1)

	w.logger.Debug().
		Int("chunk_bytes", options.ChunkBytes).
		Int("pool_block_size", options.PoolBlockSize).
		Uint("max_backoff_shift", options.MaxBackoffShift).
		Msg("world created")
	return w, nil
}

// Len returns the number of live entities.
func (w *World) Len() int {
	return w.locations.Len()
}

// Iteration returns the global structural change counter. It advances on every entity or
// archetype added, moved or removed.
func (w *World) Iteration() uint64 {
	return w.iteration.Load()
}

// Contains reports whether e refers to a live entity.
func (w *World) Contains(e Entity) bool {
	w.structure.Shared(w.yield)
	defer w.structure.SharedUnlock()
	_, _, ok := w.locate(e)
	return ok
}

// ArchetypeOf returns the archetype that currently stores e, or nil for a stale handle.
func (w *World) ArchetypeOf(e Entity) *Archetype {
	w.structure.Shared(w.yield)
	defer w.structure.SharedUnlock()
	a, _, ok := w.locate(e)
	if !ok {
		return nil
	}
	return a
}

// Archetypes returns every live archetype in creation order of their pool records.
func (w *World) Archetypes() []*Archetype {
	w.internMu.Lock()
	defer w.internMu.Unlock()
	return w.liveArchetypesLocked()
}

// ArchetypeByID returns the archetype with the given type set hash.
func (w *World) ArchetypeByID(id uint64) (*Archetype, bool) {
	w.internMu.Lock()
	defer w.internMu.Unlock()
	bucket := w.interned[id]
	if len(bucket) == 0 {
		return nil, false
	}
	return bucket[0], true
}

// Resolve returns the archetype for the given component types, creating it if needed.
func (w *World) Resolve(types ...*TypeInfo) *Archetype {
	var events []Event
	w.structure.Shared(w.yield)
	a := w.resolve(NewSchema(types...), &events)
	w.structure.SharedUnlock()

	w.emitAll(events)
	return a
}

// -------------------------------------------------------------------------------------------------
// Locations
// -------------------------------------------------------------------------------------------------

func (w *World) alive(e Entity) bool {
	return e.gen != 0 && w.locations.IsAlive(e.index) && w.locations.Iteration(e.index) == e.gen
}

// locate returns the archetype and slot of e as currently recorded. The caller holds the structure
// counter shared; the result is a snapshot that may be outdated by the time it is used.
func (w *World) locate(e Entity) (*Archetype, uint32, bool) {
	if !w.alive(e) {
		return nil, 0, false
	}
	ref, slot := unpackWhere(w.locations.Get(e.index).where.Load())
	if ref == 0 {
		return nil, 0, false
	}
	return w.archetype(ref), slot, true
}

func (w *World) archetype(ref uint32) *Archetype {
	return w.archetypes.Get(ref - 1)
}

// newEntity allocates a location record. The entity is not visible until its location is stored.
func (w *World) newEntity() Entity {
	idx, _ := w.locations.Acquire()
	return Entity{index: idx, gen: w.locations.Iteration(idx)}
}

// -------------------------------------------------------------------------------------------------
// Interning
// -------------------------------------------------------------------------------------------------

// resolve returns the archetype for schema, creating it on a miss. A created archetype queues an
// ArchetypeAdded event into events; the caller emits it after releasing the structure counter.
func (w *World) resolve(schema *Schema, events *[]Event) *Archetype {
	return w.intern(schema.hash, schema.ids, events, func() *Schema { return schema })
}

// resolveIDs returns the archetype for a sorted id list, creating it on a miss.
func (w *World) resolveIDs(ids []TypeID, events *[]Event) *Archetype {
	return w.intern(hashIDs(ids), ids, events, func() *Schema {
		types := make([]*TypeInfo, len(ids))
		for i, id := range ids {
			t, ok := LookupType(id)
			assert.That(ok, "component type %016x is not registered", uint64(id))
			types[i] = t
		}
		return NewSchema(types...)
	})
}

func (w *World) intern(hash uint64, ids []TypeID, events *[]Event, schema func() *Schema) *Archetype {
	w.internMu.Lock()
	for _, a := range w.interned[hash] {
		if slices.Equal(a.schema.ids, ids) {
			w.internMu.Unlock()
			return a
		}
	}

	idx, a := w.archetypes.Acquire()
	a.init(idx+1, schema(), w.opts.ChunkBytes, w.budget, w.yield)
	w.interned[hash] = append(w.interned[hash], a)
	w.archVersion.Add(1)
	w.iteration.Add(1)
	count := w.archetypes.Len()
	w.internMu.Unlock()

	ecslog.Archetype(w.logger, zerolog.DebugLevel, a.ID(), logComponents(a), "archetype created")
	statsd.GaugeArchetypes(count)
	*events = append(*events, Event{Kind: EventArchetypeAdded, Archetype: a.ID()})
	return a
}

// dropArchetypeLocked removes an empty archetype. The caller holds the structure counter
// exclusively and the intern mutex.
func (w *World) dropArchetypeLocked(a *Archetype) Event {
	assert.That(a.Len() == 0, "archetype %016x dropped with %d rows", a.ID(), a.Len())
	id := a.ID()
	ecslog.Archetype(w.logger, zerolog.DebugLevel, id, logComponents(a), "archetype removed")

	a.reset()
	bucket := w.interned[id]
	bucket = slices.DeleteFunc(bucket, func(b *Archetype) bool { return b == a })
	if len(bucket) == 0 {
		delete(w.interned, id)
	} else {
		w.interned[id] = bucket
	}
	w.archetypes.Release(a.ref - 1)
	w.archVersion.Add(1)
	w.iteration.Add(1)
	return Event{Kind: EventArchetypeRemoved, Archetype: id}
}

func logComponents(a *Archetype) []ecslog.Component {
	out := make([]ecslog.Component, len(a.schema.types))
	for i, t := range a.schema.types {
		out[i] = ecslog.Component{ID: uint64(t.id), Name: t.name}
	}
	return out
}
