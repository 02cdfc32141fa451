package pool

import (
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/argus-labs/ecsdb/pkg/ecsdb/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type slot struct {
	Owner int
	Name  *string
}

func TestPool_AcquireOrder(t *testing.T) {
	t.Parallel()

	p := New[slot](Options[slot]{BlockSize: 4})
	for want := range uint32(10) {
		idx, v := p.Acquire()
		require.Equal(t, want, idx)
		require.NotNil(t, v)
		assert.Zero(t, *v)
	}
	assert.Equal(t, 10, p.Len())
	assert.Equal(t, 12, p.Cap())
}

func TestPool_ReleaseReusesAndBumpsEpoch(t *testing.T) {
	t.Parallel()

	p := New[slot](Options[slot]{BlockSize: 8})
	idx, v := p.Acquire()
	v.Owner = 42
	seen := p.Iteration(idx)

	assert.True(t, p.IsAlive(idx))
	assert.False(t, p.IsDirty(idx, seen))
	assert.Equal(t, uint32(1), seen%2, "alive records have an odd epoch")

	p.Release(idx)
	assert.False(t, p.IsAlive(idx))
	assert.True(t, p.IsDirty(idx, seen))

	again, v2 := p.Acquire()
	assert.Equal(t, idx, again, "released record is reused first")
	assert.Zero(t, v2.Owner, "released records are zeroed")
	assert.True(t, p.IsDirty(idx, seen), "reuse is detectable")
	assert.Equal(t, seen+2, p.Iteration(idx))
}

func TestPool_AcquireNReleaseN(t *testing.T) {
	t.Parallel()

	p := New[slot](Options[slot]{BlockSize: 16})
	idxs := p.AcquireN(40)
	require.Len(t, idxs, 40)
	assert.Equal(t, 40, p.Len())
	assert.Equal(t, 48, p.Cap())

	p.ReleaseN(idxs[10:30])
	assert.Equal(t, 20, p.Len())
	for _, idx := range idxs[10:30] {
		assert.False(t, p.IsAlive(idx))
	}

	var live []uint32
	for idx := range p.All() {
		live = append(live, idx)
	}
	assert.ElementsMatch(t, append(append([]uint32{}, idxs[:10]...), idxs[30:]...), live)
	assert.True(t, slices.IsSorted(live), "All yields in index order")

	// Stop early.
	count := 0
	for range p.All() {
		count++
		if count == 3 {
			break
		}
	}
	assert.Equal(t, 3, count)
}

func TestPool_ReserveBlocks(t *testing.T) {
	t.Parallel()

	p := New[slot](Options[slot]{BlockSize: 5}) // rounded to 8
	p.ReserveBlocks(3)
	assert.Equal(t, 24, p.Cap())
	assert.Zero(t, p.Len())
	assert.False(t, p.IsAlive(0))
	assert.False(t, p.IsAlive(Nil))
}

func TestPool_ConcurrentAcquireRelease(t *testing.T) {
	t.Parallel()

	p := New[slot](Options[slot]{BlockSize: 8})
	const workers = 8
	const rounds = 500

	var mu sync.Mutex
	owned := make(map[uint32]int)

	var g errgroup.Group
	for w := range workers {
		g.Go(func() error {
			var mine []uint32
			for i := range rounds {
				idx, v := p.Acquire()
				v.Owner = w

				mu.Lock()
				if prev, ok := owned[idx]; ok {
					mu.Unlock()
					t.Errorf("record %d handed to %d while owned by %d", idx, w, prev)
					return nil
				}
				owned[idx] = w
				mu.Unlock()
				mine = append(mine, idx)

				if i%3 == 2 {
					release := mine[0]
					mine = mine[1:]
					if p.Get(release).Owner != w {
						t.Errorf("record %d overwritten", release)
					}
					mu.Lock()
					delete(owned, release)
					mu.Unlock()
					p.Release(release)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, len(owned), p.Len())
	for idx, w := range owned {
		assert.Equal(t, w, p.Get(idx).Owner)
	}
}

func TestPool_Exhaustion(t *testing.T) {
	t.Parallel()

	budget := memory.NewBudget(memory.Heap{}, 1)
	p := New[slot](Options[slot]{BlockSize: 4, Allocator: budget})
	assert.Panics(t, func() { p.Acquire() })
}

func TestPool_DoubleReleaseAsserts(t *testing.T) {
	t.Parallel()

	p := New[slot](Options[slot]{})
	idx, _ := p.Acquire()
	p.Release(idx)
	assert.Panics(t, func() { p.Release(idx) })
}

type counted struct {
	hits atomic.Uint64
	tag  int
}

func TestPool_ResetClearsReleasedRecords(t *testing.T) {
	t.Parallel()

	resets := 0
	p := New[counted](Options[counted]{BlockSize: 4, Reset: func(c *counted) {
		resets++
		c.hits.Store(0)
	}})
	idx, v := p.Acquire()
	v.hits.Add(3)
	v.tag = 7

	// A reader racing with Release only touches hits, which Reset clears atomically.
	var g errgroup.Group
	g.Go(func() error {
		for range 100 {
			_ = p.Get(idx).hits.Load()
		}
		return nil
	})
	p.Release(idx)
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, resets)
	assert.Zero(t, p.Get(idx).hits.Load())
	assert.Equal(t, 7, p.Get(idx).tag, "fields Reset leaves alone are kept")

	p.ReleaseN(p.AcquireN(3))
	assert.Equal(t, 4, resets)
}
