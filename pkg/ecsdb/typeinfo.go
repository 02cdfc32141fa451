package ecsdb

import (
	"fmt"
	"reflect"
	"sync"
	"unsafe"

	"github.com/argus-labs/ecsdb/pkg/assert"
	"github.com/cespare/xxhash/v2"
)

// TypeID is the stable identity key of a component type. It is derived from the type's fully
// qualified name, so it is the same in every process that links the type.
type TypeID uint64

// Dropper is implemented by components that hold resources that must be released when the value
// leaves storage. The method is called on a pointer to the stored value.
type Dropper interface {
	Drop()
}

// Named lets a component choose the name it is registered and searched under.
type Named interface {
	Name() string
}

// TypeInfo is the runtime descriptor of a component type: identity, layout and destructor. It is
// created once per type and never changes.
type TypeInfo struct {
	id       TypeID
	name     string
	key      string
	size     uintptr
	align    uintptr
	typ      reflect.Type // Nil for raw types registered with RegisterType
	index    uint32       // Dense registration index, used as a bitmap bit
	pointers bool
	drop     func(unsafe.Pointer)
}

func (t *TypeInfo) ID() TypeID          { return t.id }
func (t *TypeInfo) Name() string        { return t.name }
func (t *TypeInfo) Size() uintptr       { return t.size }
func (t *TypeInfo) Align() uintptr      { return t.align }
func (t *TypeInfo) Type() reflect.Type  { return t.typ }
func (t *TypeInfo) HasDestructor() bool { return t.drop != nil }

func (t *TypeInfo) String() string {
	return fmt.Sprintf("%s#%016x", t.name, uint64(t.id))
}

// copyValue copies one value from src to dst. Values that contain pointers go through reflect so
// the garbage collector's write barriers run.
func (t *TypeInfo) copyValue(dst, src unsafe.Pointer) {
	if t.size == 0 {
		return
	}
	if t.pointers {
		reflect.NewAt(t.typ, dst).Elem().Set(reflect.NewAt(t.typ, src).Elem())
		return
	}
	copy(unsafe.Slice((*byte)(dst), t.size), unsafe.Slice((*byte)(src), t.size))
}

// zeroValue resets the value at p.
func (t *TypeInfo) zeroValue(p unsafe.Pointer) {
	if t.size == 0 {
		return
	}
	if t.pointers {
		reflect.NewAt(t.typ, p).Elem().SetZero()
		return
	}
	clear(unsafe.Slice((*byte)(p), t.size))
}

// dropValue runs the destructor, if any, on the value at p.
func (t *TypeInfo) dropValue(p unsafe.Pointer) {
	if t.drop != nil {
		t.drop(p)
	}
}

// value returns a copy of the value at p as an interface. Raw types yield a byte slice.
func (t *TypeInfo) value(p unsafe.Pointer) any {
	if t.typ == nil {
		return append([]byte(nil), unsafe.Slice((*byte)(p), t.size)...)
	}
	return reflect.NewAt(t.typ, p).Elem().Interface()
}

// -------------------------------------------------------------------------------------------------
// Descriptor table
// -------------------------------------------------------------------------------------------------

var registry = struct {
	sync.RWMutex
	byType map[reflect.Type]*TypeInfo
	byID   map[TypeID]*TypeInfo
	byName map[string][]*TypeInfo
	next   uint32
}{
	byType: make(map[reflect.Type]*TypeInfo),
	byID:   make(map[TypeID]*TypeInfo),
	byName: make(map[string][]*TypeInfo),
}

var (
	droppedType = reflect.TypeFor[Dropper]()
	namedType   = reflect.TypeFor[Named]()
)

// TypeOf returns the descriptor of T, registering it on first use.
func TypeOf[T any]() *TypeInfo {
	return TypeFor(reflect.TypeFor[T]())
}

// TypeFor returns the descriptor of t, registering it on first use.
func TypeFor(t reflect.Type) *TypeInfo {
	registry.RLock()
	info, ok := registry.byType[t]
	registry.RUnlock()
	if ok {
		return info
	}

	info = &TypeInfo{
		key:      t.PkgPath() + "/" + t.String(),
		name:     typeName(t),
		size:     t.Size(),
		align:    uintptr(t.Align()),
		typ:      t,
		pointers: hasPointers(t),
	}
	if reflect.PointerTo(t).Implements(droppedType) {
		info.drop = func(p unsafe.Pointer) {
			reflect.NewAt(t, p).Interface().(Dropper).Drop() //nolint:forcetypeassert // checked by Implements
		}
	}

	registry.Lock()
	defer registry.Unlock()
	if existing, ok := registry.byType[t]; ok {
		return existing
	}
	register(info)
	registry.byType[t] = info
	return info
}

// RegisterType registers a raw component type that is only known at runtime, e.g. one defined by a
// plugin. Values are opaque bytes without pointers. Registering the same name twice returns the
// first descriptor; the layout must match.
func RegisterType(name string, size, align uintptr, drop func(unsafe.Pointer)) *TypeInfo {
	assert.That(name != "", "component type name cannot be empty")
	assert.That(align > 0 && align&(align-1) == 0, "alignment of %s must be a power of two", name)

	key := "raw/" + name
	id := TypeID(xxhash.Sum64String(key))

	registry.Lock()
	defer registry.Unlock()
	if existing, ok := registry.byID[id]; ok && existing.key == key {
		assert.That(existing.size == size && existing.align == align, "component %s re-registered with a different layout", name)
		return existing
	}

	info := &TypeInfo{key: key, name: name, size: size, align: align, drop: drop}
	register(info)
	return info
}

// register assigns the identity and dense index. The caller holds the registry lock.
func register(info *TypeInfo) {
	info.id = TypeID(xxhash.Sum64String(info.key))
	if existing, ok := registry.byID[info.id]; ok {
		panic(fmt.Sprintf("ecsdb: component type id collision between %s and %s", existing.key, info.key))
	}
	info.index = registry.next
	registry.next++
	registry.byID[info.id] = info
	registry.byName[info.name] = append(registry.byName[info.name], info)
}

// LookupType returns the descriptor registered under id.
func LookupType(id TypeID) (*TypeInfo, bool) {
	registry.RLock()
	defer registry.RUnlock()
	info, ok := registry.byID[id]
	return info, ok
}

// TypeByName returns the descriptor registered under name. Names shared by more than one type
// are ambiguous and not found.
func TypeByName(name string) (*TypeInfo, bool) {
	registry.RLock()
	defer registry.RUnlock()
	infos := registry.byName[name]
	if len(infos) != 1 {
		return nil, false
	}
	return infos[0], true
}

func typeName(t reflect.Type) string {
	if t.Kind() != reflect.Pointer && t.Kind() != reflect.Interface && t.Implements(namedType) {
		if name := reflect.Zero(t).Interface().(Named).Name(); name != "" { //nolint:forcetypeassert // checked by Implements
			return name
		}
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

func hasPointers(t reflect.Type) bool {
	switch t.Kind() { //nolint:exhaustive // scalar kinds hold no pointers
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.String, reflect.Chan, reflect.Func,
		reflect.Interface, reflect.UnsafePointer:
		return true
	case reflect.Array:
		return t.Len() > 0 && hasPointers(t.Elem())
	case reflect.Struct:
		for i := range t.NumField() {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
