package memory

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pair struct {
	A int64
	B *int
}

func TestHeap_Allocate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		layout Layout
		n      int
	}{
		{name: "typed", layout: LayoutOf[pair](), n: 16},
		{name: "raw 16-byte aligned", layout: Layout{Size: 24, Align: 16}, n: 5},
		{name: "raw byte aligned", layout: Layout{Size: 3, Align: 1}, n: 7},
		{name: "zero sized", layout: Layout{Size: 0, Align: 1}, n: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := Heap{}.Allocate(tt.layout, tt.n)
			require.False(t, b.IsNil())
			assert.Equal(t, tt.layout.Size*uintptr(tt.n), b.Bytes())
			if tt.layout.Align > 1 {
				assert.Zero(t, uintptr(b.Pointer())%tt.layout.Align)
			}
		})
	}
}

func TestHeap_TypedMemoryIsWritable(t *testing.T) {
	t.Parallel()

	b := Heap{}.Allocate(LayoutOf[pair](), 4)
	rows := unsafe.Slice((*pair)(b.Pointer()), 4)
	v := 7
	rows[3] = pair{A: 1, B: &v}
	assert.Equal(t, 7, *rows[3].B)
	assert.Zero(t, rows[0])
}

func TestBudget(t *testing.T) {
	t.Parallel()

	budget := NewBudget(nil, 64)
	layout := Layout{Size: 8, Align: 8}

	first := budget.Allocate(layout, 6)
	require.False(t, first.IsNil())
	assert.Equal(t, uintptr(48), budget.InUse())

	assert.True(t, budget.Allocate(layout, 3).IsNil(), "over the limit")
	assert.Equal(t, uintptr(48), budget.InUse())

	budget.Deallocate(first)
	assert.Zero(t, budget.InUse())
	assert.Equal(t, uintptr(48), budget.Peak())

	assert.PanicsWithValue(t, "ecsdb: allocator exhausted (size=8 align=8 n=9)", func() {
		MustAllocate(budget, layout, 9)
	})
}
