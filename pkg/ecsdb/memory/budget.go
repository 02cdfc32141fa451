package memory

import "sync/atomic"

// Budget wraps an allocator and tracks bytes in use. With a non-zero limit, requests that would
// exceed it fail.
type Budget struct {
	parent Allocator
	limit  uintptr
	used   atomic.Uintptr
	peak   atomic.Uintptr
}

var _ Allocator = (*Budget)(nil)

// NewBudget returns a Budget over parent. A zero limit means unlimited.
func NewBudget(parent Allocator, limit uintptr) *Budget {
	if parent == nil {
		parent = Heap{}
	}
	return &Budget{parent: parent, limit: limit}
}

func (b *Budget) Allocate(layout Layout, n int) Block {
	want := layout.Size * uintptr(max(n, 0))
	for {
		used := b.used.Load()
		if b.limit != 0 && used+want > b.limit {
			return Block{}
		}
		if b.used.CompareAndSwap(used, used+want) {
			break
		}
	}

	block := b.parent.Allocate(layout, n)
	if block.IsNil() {
		b.used.Add(-want)
		return block
	}

	for {
		peak := b.peak.Load()
		now := b.used.Load()
		if now <= peak || b.peak.CompareAndSwap(peak, now) {
			break
		}
	}
	return block
}

func (b *Budget) Deallocate(block Block) {
	if block.IsNil() {
		return
	}
	b.used.Add(-block.Bytes())
	b.parent.Deallocate(block)
}

// InUse returns the bytes currently allocated through b.
func (b *Budget) InUse() uintptr { return b.used.Load() }

// Peak returns the high-water mark of InUse.
func (b *Budget) Peak() uintptr { return b.peak.Load() }
