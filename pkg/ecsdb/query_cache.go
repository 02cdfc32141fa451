package ecsdb

import (
	"slices"
	"sync/atomic"

	"github.com/argus-labs/ecsdb/pkg/ecsdb/internal/spin"
)

// archRef is a cached pointer to an archetype together with the pool epoch it was seen at. The
// archetype is only valid while its record still carries that epoch.
type archRef struct {
	arch  *Archetype
	idx   uint32
	epoch uint32
}

// queryEntry caches the archetypes matching one include/exclude pair. It is recomputed lazily the
// first time it is read after the set of archetypes changed.
type queryEntry struct {
	include []TypeID
	exclude []TypeID

	lock      spin.RW
	version   uint64
	refs      []archRef // Replaced wholesale on refresh, never mutated
	refreshes atomic.Uint64
}

// queryKey hashes an include/exclude pair. The exclude list is appended after a marker so that
// moving a type from one list to the other changes the key.
func queryKey(include, exclude []TypeID) uint64 {
	ids := make([]TypeID, 0, len(include)+len(exclude)+1)
	ids = append(ids, include...)
	ids = append(ids, 0)
	ids = append(ids, exclude...)
	return hashIDs(ids)
}

// queryEntry returns the cache entry for the given sorted lists, creating it if needed.
func (w *World) queryEntry(include, exclude []TypeID) *queryEntry {
	key := queryKey(include, exclude)

	w.cacheMu.Lock()
	defer w.cacheMu.Unlock()
	for _, e := range w.cache[key] {
		if slices.Equal(e.include, include) && slices.Equal(e.exclude, exclude) {
			return e
		}
	}
	e := &queryEntry{include: include, exclude: exclude}
	w.cache[key] = append(w.cache[key], e)
	return e
}

// matching returns the archetypes of entry, refreshing it first if the archetype set changed since
// it was last computed.
func (w *World) matching(entry *queryEntry) []archRef {
	entry.lock.Shared(w.yield)
	if entry.version == w.archVersion.Load() {
		refs := entry.refs
		entry.lock.SharedUnlock()
		return refs
	}
	entry.lock.SharedUnlock()

	entry.lock.Unique(w.yield)
	defer entry.lock.UniqueUnlock()
	if entry.version == w.archVersion.Load() {
		return entry.refs
	}

	w.internMu.Lock()
	version := w.archVersion.Load()
	refs := make([]archRef, 0, len(entry.refs))
	for idx, a := range w.archetypes.All() {
		if a.Filter(entry.include, entry.exclude) {
			refs = append(refs, archRef{arch: a, idx: idx, epoch: w.archetypes.Iteration(idx)})
		}
	}
	w.internMu.Unlock()

	entry.refs = refs
	entry.version = version
	entry.refreshes.Add(1)
	return refs
}

// purgeQueryCache drops every cached entry. Called by Clear, which invalidates every archetype.
func (w *World) purgeQueryCache() {
	w.cacheMu.Lock()
	defer w.cacheMu.Unlock()
	clear(w.cache)
}
