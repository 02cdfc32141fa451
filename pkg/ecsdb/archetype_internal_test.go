package ecsdb

import (
	"slices"
	"testing"
	"unsafe"

	"github.com/argus-labs/ecsdb/assert"
	"github.com/argus-labs/ecsdb/pkg/ecsdb/internal/spin"
	. "github.com/argus-labs/ecsdb/pkg/ecsdb/internal/testutils"
	"github.com/argus-labs/ecsdb/pkg/ecsdb/memory"
	testify "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestArchetype builds a detached archetype with 16-row chunks.
func newTestArchetype(t *testing.T, types ...*TypeInfo) *Archetype {
	t.Helper()
	a := &Archetype{}
	a.init(1, NewSchema(types...), 1, memory.Heap{}, spin.Yield)
	require.Equal(t, minChunkRows, a.ChunkCapacity())
	return a
}

// insertHealth commits one Health row per value and returns the slots in order.
func insertHealth(a *Archetype, values ...int) []uint32 {
	it := a.addAOS(len(values))
	slots := make([]uint32, 0, len(values))
	for i, v := range values {
		it.Next()
		*(*Health)(it.Row()[0]) = Health{Value: v}
		slots = append(slots, it.Slot())
		it.Commit(Entity{index: uint32(i), gen: 1})
	}
	it.Close()
	return slots
}

func healthAt(a *Archetype, slot uint32) int {
	c, off := a.locate(slot)
	return (*Health)(a.pointer(c, 0, off)).Value
}

func TestArchetype_ChunkSizing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		chunkBytes int
		want       int
	}{
		{name: "clamped to minimum", chunkBytes: 1, want: minChunkRows},
		{name: "rounded down to a power of two", chunkBytes: 1024, want: 32},
		{name: "clamped to maximum", chunkBytes: 1 << 30, want: maxChunkRows},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := &Archetype{}
			a.init(1, NewSchema(TypeOf[Health]()), tt.chunkBytes, memory.Heap{}, spin.Yield)
			testify.Equal(t, tt.want, a.ChunkCapacity())
		})
	}
}

func TestArchetype_InsertAssignsAscendingSlots(t *testing.T) {
	t.Parallel()

	a := newTestArchetype(t, TypeOf[Health]())
	slots := insertHealth(a, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17)

	testify.True(t, slices.IsSorted(slots))
	testify.Equal(t, uint32(0), slots[0])
	testify.Equal(t, 18, a.Len())
	testify.Equal(t, 2, a.ChunkCount())
	for i, slot := range slots {
		testify.Equal(t, i, healthAt(a, slot))
	}
}

func TestArchetype_ReservedRowsAreInvisible(t *testing.T) {
	t.Parallel()

	a := newTestArchetype(t, TypeOf[Health]())
	it := a.addAOS(2)
	it.Next()
	first := it.Slot()

	testify.Empty(t, a.occupied())
	testify.Equal(t, 0, a.Len())

	it.Commit(Entity{index: 1, gen: 1})
	testify.Equal(t, []uint32{first}, a.occupied())

	// The second row is handed back instead of committed.
	it.Abort()
	testify.Equal(t, 1, a.Len())
	testify.True(t, a.owns(first, Entity{index: 1, gen: 1}))
	testify.False(t, a.owns(first, Entity{index: 1, gen: 3}))
}

func TestArchetype_UnconsumedInsertionPanics(t *testing.T) {
	t.Parallel()

	a := newTestArchetype(t, TypeOf[Health]())
	it := a.addAOS(2)
	it.Next()
	it.Commit(Entity{index: 0, gen: 1})

	assert.PanicsWithPrefix(t, "archetype", it.Close)
}

func TestArchetype_RemoveReusesSlots(t *testing.T) {
	t.Parallel()

	a := newTestArchetype(t, TypeOf[Health]())
	slots := insertHealth(a, 10, 11, 12, 13)

	a.removeAOS([]uint32{slots[1], slots[2]})
	testify.Equal(t, 2, a.Len())
	testify.Equal(t, []uint32{slots[0], slots[3]}, a.occupied())

	// Freed rows are zeroed and go back to the front of the free-list.
	c, off := a.locate(slots[1])
	testify.Equal(t, Health{}, *(*Health)(a.pointer(c, 0, off)))

	reused := insertHealth(a, 20, 21)
	testify.ElementsMatch(t, []uint32{slots[1], slots[2]}, reused)
}

func TestArchetype_ColumnInsertAndMove(t *testing.T) {
	t.Parallel()

	a := newTestArchetype(t, TypeOf[Health](), TypeOf[Position]())
	hCol, pCol := a.column(TypeOf[Health]().ID()), a.column(TypeOf[Position]().ID())

	it := a.addSOA(3)
	for it.Next() {
		for i, p := range it.Column() {
			switch it.Type() {
			case TypeOf[Health]():
				*(*Health)(p) = Health{Value: i}
			case TypeOf[Position]():
				*(*Position)(p) = Position{X: i * 10}
			}
		}
	}
	entities := []Entity{{index: 0, gen: 1}, {index: 1, gen: 1}, {index: 2, gen: 1}}
	it.Commit(entities)
	slots := it.Slots()
	it.Close()
	require.Equal(t, 3, a.Len())

	mv := a.moveSOA(slots[:2])
	require.True(t, mv.verify())
	testify.Equal(t, entities[:2], mv.Entities())
	for mv.Next() {
		for i, p := range mv.Column() {
			switch mv.Type() {
			case TypeOf[Health]():
				testify.Equal(t, i, (*Health)(p).Value)
			case TypeOf[Position]():
				testify.Equal(t, i*10, (*Position)(p).X)
			}
		}
	}
	mv.Finish()
	testify.Equal(t, 1, a.Len())

	c, off := a.locate(slots[2])
	testify.Equal(t, 2, (*Health)(a.pointer(c, hCol, off)).Value)
	testify.Equal(t, 20, (*Position)(a.pointer(c, pCol, off)).X)
}

func TestArchetype_AbortedMoveKeepsRows(t *testing.T) {
	t.Parallel()

	a := newTestArchetype(t, TypeOf[Health]())
	slots := insertHealth(a, 5)

	mv := a.moveAOS(slots)
	require.True(t, mv.Next())
	testify.Equal(t, Entity{index: 0, gen: 1}, mv.Entity())
	mv.Abort()

	testify.Equal(t, 1, a.Len())
	testify.Equal(t, 5, healthAt(a, slots[0]))
}

func TestArchetype_PackedInsertRuns(t *testing.T) {
	t.Parallel()

	a := newTestArchetype(t, TypeOf[uint32]())
	it := a.addPacked(20)

	runs := 0
	for it.Next() {
		runs++
		col := it.Column(0)
		require.Len(t, col, it.Len()*4)
		entities := make([]Entity, it.Len())
		for i := range entities {
			v := uint32(it.Offset() + i)
			*(*uint32)(unsafe.Pointer(&col[i*4])) = v
			entities[i] = Entity{index: v, gen: 1}
		}
		it.Commit(entities)
	}
	it.Close()

	testify.Equal(t, 2, runs)
	testify.Equal(t, 20, a.Len())
}

func TestArchetype_PackedInsertRejectsPointers(t *testing.T) {
	t.Parallel()

	a := newTestArchetype(t, TypeOf[PlayerTag]())
	assert.PanicsWithPrefix(t, "component PlayerTag holds pointers", func() { a.addPacked(1) })
}

func TestArchetype_Repack(t *testing.T) {
	t.Parallel()

	a := newTestArchetype(t, TypeOf[Health]())
	values := make([]int, 40)
	for i := range values {
		values[i] = i
	}
	slots := insertHealth(a, values...)
	require.Equal(t, 3, a.ChunkCount())

	// Keep the last 10 rows only; they all live in the tail chunks.
	a.removeAOS(slots[:30])

	moves := make(map[uint32]uint32)
	moved, freed := a.repack(-1, func(_ Entity, from, to uint32) { moves[from] = to })
	testify.Equal(t, 10, moved)
	testify.Equal(t, 2, freed)
	testify.Equal(t, 1, a.ChunkCount())
	testify.Equal(t, 10, a.Len())

	for _, slot := range slots[30:] {
		to, ok := moves[slot]
		require.True(t, ok, "slot %d was not moved", slot)
		testify.Less(t, to, uint32(a.ChunkCapacity()))
	}

	// The free-list is rebuilt in ascending order over the surviving chunk.
	next := insertHealth(a, 100)
	testify.Less(t, next[0], uint32(a.ChunkCapacity()))
}

func TestArchetype_Filter(t *testing.T) {
	t.Parallel()

	h, p, v := TypeOf[Health](), TypeOf[Position](), TypeOf[Velocity]()
	a := newTestArchetype(t, h, p)

	tests := []struct {
		name    string
		include []*TypeInfo
		exclude []*TypeInfo
		want    bool
	}{
		{name: "empty", want: true},
		{name: "subset", include: []*TypeInfo{p}, want: true},
		{name: "exact", include: []*TypeInfo{h, p}, want: true},
		{name: "missing", include: []*TypeInfo{v}, want: false},
		{name: "excluded present", include: []*TypeInfo{h}, exclude: []*TypeInfo{p}, want: false},
		{name: "excluded absent", include: []*TypeInfo{h}, exclude: []*TypeInfo{v}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			testify.Equal(t, tt.want, a.Filter(sortedIDs(tt.include), sortedIDs(tt.exclude)))
		})
	}

	testify.True(t, a.HasType(h))
	testify.False(t, a.HasType(v))
}
