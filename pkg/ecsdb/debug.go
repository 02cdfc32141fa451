package ecsdb

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

// WorldStats is a point-in-time summary of a World.
type WorldStats struct {
	Entities       int              `json:"entities"`
	Iteration      uint64           `json:"iteration"`
	Retries        uint64           `json:"retries"`
	BytesInUse     uint64           `json:"bytes_in_use"`
	PeakBytesInUse uint64           `json:"peak_bytes_in_use"`
	Archetypes     []ArchetypeStats `json:"archetypes"`
}

// ArchetypeStats summarizes one archetype.
type ArchetypeStats struct {
	ID            string   `json:"id"`
	Components    []string `json:"components"`
	Entities      int      `json:"entities"`
	Chunks        int      `json:"chunks"`
	ChunkCapacity int      `json:"chunk_capacity"`
}

// Stats collects a summary of the world. Counts taken while other goroutines mutate the world are
// individually accurate but not mutually consistent.
func (w *World) Stats() WorldStats {
	stats := WorldStats{
		Entities:       w.Len(),
		Iteration:      w.Iteration(),
		Retries:        w.retries.Load(),
		BytesInUse:     uint64(w.budget.InUse()),
		PeakBytesInUse: uint64(w.budget.Peak()),
	}

	w.structure.Shared(w.yield)
	defer w.structure.SharedUnlock()
	for _, ref := range w.archetypeRefs() {
		if w.archetypes.IsDirty(ref.idx, ref.epoch) {
			continue
		}
		a := ref.arch
		names := make([]string, len(a.schema.types))
		for i, t := range a.schema.types {
			names[i] = t.name
		}
		stats.Archetypes = append(stats.Archetypes, ArchetypeStats{
			ID:            fmt.Sprintf("%016x", a.ID()),
			Components:    names,
			Entities:      a.Len(),
			Chunks:        a.ChunkCount(),
			ChunkCapacity: a.ChunkCapacity(),
		})
	}
	return stats
}

// DebugJSON returns Stats encoded as JSON.
func (w *World) DebugJSON() ([]byte, error) {
	bz, err := json.Marshal(w.Stats())
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode world stats")
	}
	return bz, nil
}
