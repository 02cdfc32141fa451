package ecsdb

import (
	"math/bits"
	"sync/atomic"
	"unsafe"

	"github.com/argus-labs/ecsdb/pkg/assert"
	"github.com/argus-labs/ecsdb/pkg/ecsdb/internal/spin"
	"github.com/argus-labs/ecsdb/pkg/ecsdb/memory"
	"github.com/argus-labs/ecsdb/pkg/ecsdb/pool"
	"github.com/kelindar/bitmap"
)

// Slot states. A reserved slot belongs to an insertion in progress and is invisible to readers.
const (
	slotFree uint32 = iota
	slotReserved
	slotOccupied
)

const (
	minChunkRows = 16
	maxChunkRows = 1 << 14
)

// chunk is a fixed-capacity block of rows. Component values live in one typed allocation per
// column; the entity back-references, free-list links and slot states live beside them.
type chunk struct {
	entities []Entity
	next     []atomic.Uint32
	state    []atomic.Uint32
	columns  []memory.Block
}

// Archetype stores every entity whose component set is exactly its schema. Rows are addressed by
// a 32-bit slot: the high bits select the chunk and the low bits the row inside it.
// NOTE: An archetype lives in the World's archetype pool and its record may be reused after the
// archetype is dropped by Repack or Clear. Holders of an *Archetype that outlive a structural lock
// must check the pool epoch before touching it.
type Archetype struct {
	ref     uint32 // Archetype pool index + 1, zero means unset
	schema  *Schema
	mask    bitmap.Bitmap // Dense type indices of the schema
	shift   uint32
	rowMask uint32
	alloc   memory.Allocator
	yield   func()
	locks   []spin.RW // locks[0] guards the entity column, locks[i+1] the i-th component column
	chunks  []*chunk  // Guarded by the locks: growing takes all of them
	free    atomic.Uint64
	live    atomic.Int64
}

// init sets up an empty archetype in place. chunkBytes is the target size of one chunk.
func (a *Archetype) init(ref uint32, schema *Schema, chunkBytes int, alloc memory.Allocator, yield func()) {
	rowBytes := unsafe.Sizeof(Entity{}) + 2*unsafe.Sizeof(uint32(0))
	for _, t := range schema.types {
		rowBytes += t.size
		a.mask.Set(t.index)
	}
	rows := max(min(chunkBytes/int(rowBytes), maxChunkRows), minChunkRows)
	shift := uint32(bits.Len(uint(rows)) - 1)

	a.ref = ref
	a.schema = schema
	a.shift = shift
	a.rowMask = 1<<shift - 1
	a.alloc = alloc
	a.yield = yield
	a.locks = make([]spin.RW, len(schema.types)+1)
	a.free.Store(packHead(pool.Nil, 0))
}

// ID returns the hash of the archetype's sorted type set.
func (a *Archetype) ID() uint64 { return a.schema.hash }

// Schema returns the archetype's canonical type set.
func (a *Archetype) Schema() *Schema { return a.schema }

// Types returns the sorted component types.
func (a *Archetype) Types() []*TypeInfo { return a.schema.types }

// Len returns the number of occupied rows.
func (a *Archetype) Len() int { return int(a.live.Load()) }

// ChunkCapacity returns the number of rows per chunk.
func (a *Archetype) ChunkCapacity() int { return 1 << a.shift }

// ChunkCount returns the number of allocated chunks.
func (a *Archetype) ChunkCount() int {
	a.locks[0].Shared(a.yield)
	defer a.locks[0].SharedUnlock()
	return len(a.chunks)
}

// HasType reports whether the archetype stores t.
func (a *Archetype) HasType(t *TypeInfo) bool {
	return a.mask.Contains(t.index)
}

// HasTypes reports whether the archetype stores every id in the sorted list ids.
func (a *Archetype) HasTypes(ids []TypeID) bool {
	return a.Filter(ids, nil)
}

// Filter reports whether the archetype holds every type in include and none in exclude. Both lists
// must be sorted; they are matched against the sorted column list with a single forward scan each.
func (a *Archetype) Filter(include, exclude []TypeID) bool {
	ids := a.schema.ids
	i := 0
	for _, want := range include {
		for i < len(ids) && ids[i] < want {
			i++
		}
		if i == len(ids) || ids[i] != want {
			return false
		}
	}
	i = 0
	for _, unwanted := range exclude {
		for i < len(ids) && ids[i] < unwanted {
			i++
		}
		if i < len(ids) && ids[i] == unwanted {
			return false
		}
	}
	return true
}

// column returns the column index of id, or -1.
func (a *Archetype) column(id TypeID) int {
	return a.schema.Index(id)
}

// -------------------------------------------------------------------------------------------------
// Locking
// -------------------------------------------------------------------------------------------------

// lockAll takes unique access to the entity column and every component column, in column order.
func (a *Archetype) lockAll() {
	for i := range a.locks {
		a.locks[i].Unique(a.yield)
	}
}

func (a *Archetype) unlockAll() {
	for i := len(a.locks) - 1; i >= 0; i-- {
		a.locks[i].UniqueUnlock()
	}
}

// lockColumns takes the entity column shared and the given component columns shared or unique.
// cols must be sorted.
func (a *Archetype) lockColumns(cols []int, unique bool) {
	a.locks[0].Shared(a.yield)
	for _, c := range cols {
		if unique {
			a.locks[c+1].Unique(a.yield)
		} else {
			a.locks[c+1].Shared(a.yield)
		}
	}
}

func (a *Archetype) unlockColumns(cols []int, unique bool) {
	for i := len(cols) - 1; i >= 0; i-- {
		if unique {
			a.locks[cols[i]+1].UniqueUnlock()
		} else {
			a.locks[cols[i]+1].SharedUnlock()
		}
	}
	a.locks[0].SharedUnlock()
}

// -------------------------------------------------------------------------------------------------
// Slots and the free-list
// -------------------------------------------------------------------------------------------------

func packHead(index, tag uint32) uint64 { return uint64(tag)<<32 | uint64(index) }

func unpackHead(h uint64) (index, tag uint32) { return uint32(h), uint32(h >> 32) }

// locate splits a slot into its chunk and offset. The caller holds at least one column lock.
func (a *Archetype) locate(slot uint32) (*chunk, uint32) {
	ci := int(slot >> a.shift)
	assert.That(ci < len(a.chunks), "archetype %016x: slot %d out of range", a.ID(), slot)
	return a.chunks[ci], slot & a.rowMask
}

// pointer returns the address of column col in row off of c.
func (a *Archetype) pointer(c *chunk, col int, off uint32) unsafe.Pointer {
	return unsafe.Add(c.columns[col].Pointer(), uintptr(off)*a.schema.types[col].size)
}

// row fills dst with the addresses of every column of row off of c.
func (a *Archetype) row(c *chunk, off uint32, dst []unsafe.Pointer) []unsafe.Pointer {
	dst = dst[:0]
	for col := range a.schema.types {
		dst = append(dst, a.pointer(c, col, off))
	}
	return dst
}

// owns reports whether slot holds entity e. The caller holds the archetype locks.
func (a *Archetype) owns(slot uint32, e Entity) bool {
	if int(slot>>a.shift) >= len(a.chunks) {
		return false
	}
	c, off := a.locate(slot)
	return c.state[off].Load() == slotOccupied && c.entities[off] == e
}

// growChunk allocates a chunk at the end of the slot space and links its rows into the free-list
// in ascending order. The caller holds every lock.
func (a *Archetype) growChunk() {
	rows := 1 << a.shift
	assert.That(uint64(len(a.chunks)+1)<<a.shift <= pool.Nil, "archetype %016x: slot space exhausted", a.ID())

	c := &chunk{
		entities: make([]Entity, rows),
		next:     make([]atomic.Uint32, rows),
		state:    make([]atomic.Uint32, rows),
		columns:  make([]memory.Block, len(a.schema.types)),
	}
	for i, t := range a.schema.types {
		layout := memory.Layout{Size: t.size, Align: t.align, Type: t.typ}
		c.columns[i] = memory.MustAllocate(a.alloc, layout, rows)
	}

	base := uint32(len(a.chunks)) << a.shift
	a.chunks = append(a.chunks, c)
	for i := range c.next {
		c.next[i].Store(base + uint32(i) + 1)
	}
	a.pushChain(base, &c.next[rows-1])
}

// freeChunk returns a chunk's column memory to the allocator.
func (a *Archetype) freeChunk(c *chunk) {
	for _, block := range c.columns {
		a.alloc.Deallocate(block)
	}
}

// pushChain links a chain of free slots that starts at first and ends with the link last in front
// of the free-list head.
func (a *Archetype) pushChain(first uint32, last *atomic.Uint32) {
	for {
		h := a.free.Load()
		head, tag := unpackHead(h)
		last.Store(head)
		if a.free.CompareAndSwap(h, packHead(first, tag+1)) {
			return
		}
		a.yield()
	}
}

// pop takes the first free slot and marks it reserved, growing the archetype when the free-list is
// empty. The caller holds every lock.
func (a *Archetype) pop() (*chunk, uint32, uint32) {
	for {
		h := a.free.Load()
		slot, tag := unpackHead(h)
		if slot == pool.Nil {
			a.growChunk()
			continue
		}
		c, off := a.locate(slot)
		next := c.next[off].Load()
		if a.free.CompareAndSwap(h, packHead(next, tag+1)) {
			assert.That(c.state[off].Load() == slotFree, "archetype %016x: free-list slot %d is in use", a.ID(), slot)
			c.state[off].Store(slotReserved)
			return c, off, slot
		}
		a.yield()
	}
}

// unlink zeroes the listed rows and links them back into the free-list with a single CAS. The
// caller holds every lock and has already run destructors where needed.
func (a *Archetype) unlink(refs []rowRef) {
	if len(refs) == 0 {
		return
	}
	for i, r := range refs {
		for col, t := range a.schema.types {
			t.zeroValue(a.pointer(r.chunk, col, r.off))
		}
		r.chunk.entities[r.off] = Entity{}
		if r.chunk.state[r.off].Swap(slotFree) == slotOccupied {
			a.live.Add(-1)
		}
		if i+1 < len(refs) {
			r.chunk.next[r.off].Store(refs[i+1].slot)
		}
	}
	last := refs[len(refs)-1]
	a.pushChain(refs[0].slot, &last.chunk.next[last.off])
}

// rowRef caches where a slot lives so it can be used without re-reading the chunk directory.
type rowRef struct {
	chunk *chunk
	off   uint32
	slot  uint32
}

// occupied returns the occupied slots in slot order. The caller holds at least one column lock.
func (a *Archetype) occupied() []uint32 {
	slots := make([]uint32, 0, a.Len())
	for ci, c := range a.chunks {
		base := uint32(ci) << a.shift
		for off := range c.state {
			if c.state[off].Load() == slotOccupied {
				slots = append(slots, base+uint32(off))
			}
		}
	}
	return slots
}
