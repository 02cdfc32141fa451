package ecsdb

import "github.com/argus-labs/ecsdb/pkg/ecsdb/pool"

// repack moves up to limit occupied rows out of the tail chunks into free slots near the front,
// reporting every move through relocate, then frees the chunks at the end of the slot space that
// became empty. A negative limit moves as many rows as needed. It returns the number of rows moved
// and chunks freed. Reserved rows are never moved.
func (a *Archetype) repack(limit int, relocate func(e Entity, from, to uint32)) (int, int) {
	a.lockAll()
	defer a.unlockAll()

	rows := uint32(1) << a.shift
	keep := (uint32(a.live.Load()) + rows - 1) / rows
	frontEnd := keep << a.shift

	moved := 0
	hole := uint32(0)
	findHole := func() bool {
		for hole < frontEnd {
			c, off := a.locate(hole)
			if c.state[off].Load() == slotFree {
				return true
			}
			hole++
		}
		return false
	}

tail:
	for ci := len(a.chunks) - 1; ci >= int(keep); ci-- {
		c := a.chunks[ci]
		base := uint32(ci) << a.shift
		for off := range rows {
			if c.state[off].Load() != slotOccupied {
				continue
			}
			if limit >= 0 && moved >= limit {
				break tail
			}
			if !findHole() {
				break tail
			}
			dst, dstOff := a.locate(hole)
			for col, t := range a.schema.types {
				t.copyValue(a.pointer(dst, col, dstOff), a.pointer(c, col, off))
				t.zeroValue(a.pointer(c, col, off))
			}
			e := c.entities[off]
			dst.entities[dstOff] = e
			dst.state[dstOff].Store(slotOccupied)
			c.entities[off] = Entity{}
			c.state[off].Store(slotFree)
			if relocate != nil {
				relocate(e, base+off, hole)
			}
			moved++
			hole++
		}
	}

	freed := 0
	for len(a.chunks) > 0 {
		last := a.chunks[len(a.chunks)-1]
		if !chunkEmpty(last) {
			break
		}
		a.freeChunk(last)
		a.chunks[len(a.chunks)-1] = nil
		a.chunks = a.chunks[:len(a.chunks)-1]
		freed++
	}

	a.rebuildFreeList()
	return moved, freed
}

func chunkEmpty(c *chunk) bool {
	for i := range c.state {
		if c.state[i].Load() != slotFree {
			return false
		}
	}
	return true
}

// rebuildFreeList threads every free slot in ascending order. The caller holds every lock.
func (a *Archetype) rebuildFreeList() {
	first := uint32(pool.Nil)
	var prev *chunk
	var prevOff uint32
	for ci, c := range a.chunks {
		base := uint32(ci) << a.shift
		for off := range c.state {
			if c.state[off].Load() != slotFree {
				continue
			}
			slot := base + uint32(off)
			if prev == nil {
				first = slot
			} else {
				prev.next[prevOff].Store(slot)
			}
			prev, prevOff = c, uint32(off)
		}
	}
	if prev != nil {
		prev.next[prevOff].Store(pool.Nil)
	}
	_, tag := unpackHead(a.free.Load())
	a.free.Store(packHead(first, tag+1))
}

// reset drops every chunk. The archetype must hold no occupied or reserved rows.
func (a *Archetype) reset() {
	a.lockAll()
	defer a.unlockAll()
	for _, c := range a.chunks {
		a.freeChunk(c)
	}
	a.chunks = nil
	_, tag := unpackHead(a.free.Load())
	a.free.Store(packHead(pool.Nil, tag+1))
}

// clear readies the pool record of a dropped archetype for reuse. Query.Count may still read the
// row counter of a record it has not yet seen released, so counters are reset through their atomics.
func (a *Archetype) clear() {
	a.live.Store(0)
	a.free.Store(packHead(pool.Nil, 0))
	a.ref = 0
	a.schema = nil
	a.mask = nil
	a.shift, a.rowMask = 0, 0
	a.alloc = nil
	a.yield = nil
	a.locks = nil
	a.chunks = nil
}
