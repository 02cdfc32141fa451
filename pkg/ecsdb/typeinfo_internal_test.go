package ecsdb

import (
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/argus-labs/ecsdb/assert"
	. "github.com/argus-labs/ecsdb/pkg/ecsdb/internal/testutils"
	testify "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type unnamedComponent struct{ A, B int32 }

func TestTypeOf_IsStable(t *testing.T) {
	t.Parallel()

	var wg sync.WaitGroup
	infos := make([]*TypeInfo, 16)
	for i := range infos {
		wg.Add(1)
		go func() {
			defer wg.Done()
			infos[i] = TypeOf[Velocity]()
		}()
	}
	wg.Wait()

	for _, info := range infos {
		testify.Same(t, infos[0], info)
	}
	testify.Same(t, infos[0], TypeFor(reflect.TypeFor[Velocity]()))

	byID, ok := LookupType(infos[0].ID())
	require.True(t, ok)
	testify.Same(t, infos[0], byID)
}

func TestTypeOf_Descriptor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		info     *TypeInfo
		wantName string
		wantSize uintptr
		pointers bool
		drop     bool
	}{
		{name: "named struct", info: TypeOf[Health](), wantName: "Health", wantSize: 8},
		{name: "unnamed falls back to type name", info: TypeOf[unnamedComponent](), wantName: "unnamedComponent", wantSize: 8},
		{name: "string field", info: TypeOf[PlayerTag](), wantName: "PlayerTag", wantSize: 16, pointers: true},
		{name: "map field", info: TypeOf[Inventory](), wantName: "Inventory", wantSize: 8, pointers: true},
		{name: "destructor", info: TypeOf[Resource](), wantName: "Resource", wantSize: 16, pointers: true, drop: true},
		{name: "zero sized", info: TypeOf[Marker](), wantName: "Marker", wantSize: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			testify.Equal(t, tt.wantName, tt.info.Name())
			testify.Equal(t, tt.wantSize, tt.info.Size())
			testify.Equal(t, tt.pointers, tt.info.pointers)
			testify.Equal(t, tt.drop, tt.info.HasDestructor())
		})
	}
}

func TestTypeInfo_CopyZeroDrop(t *testing.T) {
	t.Parallel()

	var drops atomic.Int64
	info := TypeOf[Resource]()
	src := Resource{ID: 4, Drops: &drops}
	var dst Resource

	info.copyValue(unsafe.Pointer(&dst), unsafe.Pointer(&src))
	testify.Equal(t, src, dst)

	info.dropValue(unsafe.Pointer(&dst))
	testify.Equal(t, int64(1), drops.Load())

	info.zeroValue(unsafe.Pointer(&dst))
	testify.Equal(t, Resource{}, dst)

	testify.Equal(t, src, info.value(unsafe.Pointer(&src)))
}

func TestRegisterType(t *testing.T) {
	t.Parallel()

	var dropped atomic.Int64
	info := RegisterType("test.raw.vec3", 12, 4, func(unsafe.Pointer) { dropped.Add(1) })
	testify.Nil(t, info.Type())
	testify.Equal(t, uintptr(12), info.Size())
	testify.True(t, info.HasDestructor())

	again := RegisterType("test.raw.vec3", 12, 4, nil)
	testify.Same(t, info, again)

	byName, ok := TypeByName("test.raw.vec3")
	require.True(t, ok)
	testify.Same(t, info, byName)

	assert.PanicsWithPrefix(t, "component test.raw.vec3 re-registered", func() {
		RegisterType("test.raw.vec3", 16, 4, nil)
	})
	assert.PanicsWithPrefix(t, "alignment of test.raw.bad", func() {
		RegisterType("test.raw.bad", 3, 3, nil)
	})
}

func TestRawComponentsInWorld(t *testing.T) {
	t.Parallel()

	info := RegisterType("test.raw.blob", 4, 4, nil)
	w := newTestWorld(t)
	e := w.Spawn(NewDynamicBundle(Health{Value: 1}).AddRaw(info, []byte{1, 2, 3, 4}))

	results, err := w.Search(SearchParam{Find: []string{"test.raw.blob"}, Match: MatchContains})
	require.NoError(t, err)
	require.Len(t, results, 1)
	testify.Equal(t, e.Index(), results[0]["_id"])
	testify.Equal(t, []byte{1, 2, 3, 4}, results[0]["test.raw.blob"])
}

func TestTypeByName_Unknown(t *testing.T) {
	t.Parallel()

	_, ok := TypeByName("does.not.exist")
	testify.False(t, ok)
}
