// Package pool implements a lock-free arena of fixed-size records.
//
// Records live in blocks that are never moved or freed for the lifetime of the pool, so a record
// index is a stable reference. Free records are threaded through a free-list whose head is a
// tagged index updated only by compare-and-swap. Every record carries a reuse epoch that is odd
// while the record is alive; optimistic readers remember the epoch and later ask IsDirty to learn
// whether the record was released or reused in between.
package pool

import (
	"iter"
	"math"
	"math/bits"
	"sync/atomic"
	"unsafe"

	"github.com/argus-labs/ecsdb/pkg/assert"
	"github.com/argus-labs/ecsdb/pkg/ecsdb/internal/spin"
	"github.com/argus-labs/ecsdb/pkg/ecsdb/memory"
)

// Nil is the end-of-list sentinel. It is never a valid record index.
const Nil = math.MaxUint32

// DefaultBlockSize is the number of records per block when Options.BlockSize is zero.
const DefaultBlockSize = 256

type record[T any] struct {
	epoch atomic.Uint32 // Odd while the record is alive
	next  atomic.Uint32 // Free-list link, kept beside the value
	value T
}

type block[T any] struct {
	records []record[T]
	mem     memory.Block
}

// Options configures a Pool of T records.
type Options[T any] struct {
	BlockSize int              // Records per block, rounded up to a power of two
	Allocator memory.Allocator // Backing memory, memory.Heap when nil
	Yield     func()           // Called after a lost CAS race

	// Reset clears a released value in place of assigning the zero value. Record types with fields
	// that are read through atomics while the record is being released must set it.
	Reset func(*T)
}

// Pool is a growable arena of T records addressed by uint32 index.
type Pool[T any] struct {
	alloc  memory.Allocator
	shift  uint32
	mask   uint32
	yield  func()
	reset  func(*T)
	blocks atomic.Pointer[[]*block[T]] // Copy-on-write block directory
	head   atomic.Uint64               // tag<<32 | index of the first free record
	live   atomic.Int64
}

// New creates an empty pool. No memory is allocated until the first Acquire or ReserveBlocks.
func New[T any](opts Options[T]) *Pool[T] {
	size := opts.BlockSize
	if size <= 0 {
		size = DefaultBlockSize
	}
	shift := uint32(bits.Len(uint(size - 1)))
	alloc := opts.Allocator
	if alloc == nil {
		alloc = memory.Heap{}
	}
	yield := opts.Yield
	if yield == nil {
		yield = spin.Yield
	}

	p := &Pool[T]{
		alloc: alloc,
		shift: shift,
		mask:  1<<shift - 1,
		yield: yield,
		reset: opts.Reset,
	}
	empty := make([]*block[T], 0)
	p.blocks.Store(&empty)
	p.head.Store(pack(Nil, 0))
	return p
}

func pack(index, tag uint32) uint64 { return uint64(tag)<<32 | uint64(index) }

func unpack(h uint64) (index, tag uint32) { return uint32(h), uint32(h >> 32) }

func (p *Pool[T]) record(idx uint32) *record[T] {
	dir := *p.blocks.Load()
	b := idx >> p.shift
	assert.That(int(b) < len(dir), "pool: record %d out of range", idx)
	return &dir[b].records[idx&p.mask]
}

// Acquire claims one record and returns its index and value pointer. The value holds whatever
// the previous occupant left behind after Release zeroed it, i.e. the zero value.
func (p *Pool[T]) Acquire() (uint32, *T) {
	for {
		h := p.head.Load()
		idx, tag := unpack(h)
		if idx == Nil {
			p.grow()
			continue
		}
		r := p.record(idx)
		next := r.next.Load()
		if p.head.CompareAndSwap(h, pack(next, tag+1)) {
			r.epoch.Add(1)
			p.live.Add(1)
			return idx, &r.value
		}
		p.yield()
	}
}

// AcquireN claims n records and returns their indices.
func (p *Pool[T]) AcquireN(n int) []uint32 {
	if n <= 0 {
		return nil
	}
	if missing := n - (p.Cap() - p.Len()); missing > 0 {
		p.ReserveBlocks((missing + int(p.mask)) >> p.shift)
	}
	out := make([]uint32, n)
	for i := range out {
		out[i], _ = p.Acquire()
	}
	return out
}

// Release returns a record to the free-list. The value is zeroed, or passed to Options.Reset, first.
func (p *Pool[T]) Release(idx uint32) {
	r := p.retire(idx)
	p.push(idx, r)
}

// ReleaseN returns a set of records with a single CAS on the free-list head.
func (p *Pool[T]) ReleaseN(idxs []uint32) {
	if len(idxs) == 0 {
		return
	}
	last := p.retire(idxs[0])
	for _, idx := range idxs[1:] {
		r := p.retire(idx)
		last.next.Store(idx)
		last = r
	}
	p.push(idxs[0], last)
}

func (p *Pool[T]) retire(idx uint32) *record[T] {
	r := p.record(idx)
	assert.That(r.epoch.Load()&1 == 1, "pool: release of free record %d", idx)
	if p.reset != nil {
		p.reset(&r.value)
	} else {
		var zero T
		r.value = zero
	}
	r.epoch.Add(1)
	p.live.Add(-1)
	return r
}

// push links the chain starting at firstIdx and ending at last in front of the current head.
func (p *Pool[T]) push(firstIdx uint32, last *record[T]) {
	for {
		h := p.head.Load()
		headIdx, tag := unpack(h)
		last.next.Store(headIdx)
		if p.head.CompareAndSwap(h, pack(firstIdx, tag+1)) {
			return
		}
		p.yield()
	}
}

// ReserveBlocks grows the pool by n blocks.
func (p *Pool[T]) ReserveBlocks(n int) {
	for range n {
		p.grow()
	}
}

// grow allocates one block and publishes it at the end of the directory. Two goroutines that
// race to grow both publish their block; the loser relinks its records for the new position and
// appends after the winner, so no allocation is wasted.
func (p *Pool[T]) grow() {
	size := 1 << p.shift
	mem := memory.MustAllocate(p.alloc, memory.LayoutOf[record[T]](), size)
	b := &block[T]{
		records: unsafe.Slice((*record[T])(mem.Pointer()), size),
		mem:     mem,
	}

	var base uint32
	for {
		old := p.blocks.Load()
		assert.That(uint64(len(*old)+1)<<p.shift < Nil, "pool: index space exhausted")
		base = uint32(len(*old)) << p.shift
		for i := range b.records {
			b.records[i].next.Store(base + uint32(i) + 1)
		}
		dir := make([]*block[T], len(*old)+1)
		copy(dir, *old)
		dir[len(*old)] = b
		if p.blocks.CompareAndSwap(old, &dir) {
			break
		}
		p.yield()
	}

	p.push(base, &b.records[size-1])
}

// Get returns the value of record idx regardless of its state.
func (p *Pool[T]) Get(idx uint32) *T {
	return &p.record(idx).value
}

// IsAlive reports whether idx refers to an acquired record.
func (p *Pool[T]) IsAlive(idx uint32) bool {
	if idx == Nil || int(idx>>p.shift) >= len(*p.blocks.Load()) {
		return false
	}
	return p.record(idx).epoch.Load()&1 == 1
}

// Iteration returns the reuse epoch of record idx.
func (p *Pool[T]) Iteration(idx uint32) uint32 {
	return p.record(idx).epoch.Load()
}

// IsDirty reports whether record idx was released or reused since its epoch was seen.
func (p *Pool[T]) IsDirty(idx uint32, seen uint32) bool {
	return p.record(idx).epoch.Load() != seen
}

// Len returns the number of live records.
func (p *Pool[T]) Len() int {
	return int(p.live.Load())
}

// Cap returns the number of records across all blocks.
func (p *Pool[T]) Cap() int {
	return len(*p.blocks.Load()) << p.shift
}

// All yields every live record in index order. The sequence is restartable. Callers must keep
// concurrent Acquire and Release away while ranging.
func (p *Pool[T]) All() iter.Seq2[uint32, *T] {
	return func(yield func(uint32, *T) bool) {
		for bi, b := range *p.blocks.Load() {
			base := uint32(bi) << p.shift
			for i := range b.records {
				r := &b.records[i]
				if r.epoch.Load()&1 == 0 {
					continue
				}
				if !yield(base+uint32(i), &r.value) {
					return
				}
			}
		}
	}
}
