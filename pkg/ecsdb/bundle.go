package ecsdb

import (
	"reflect"
	"slices"
	"unsafe"

	"github.com/argus-labs/ecsdb/pkg/assert"
)

// Bundle is a set of component values that is added to or removed from an entity as a unit.
type Bundle interface {
	// Schema returns the canonical type set of the bundle.
	Schema() *Schema
	// put writes the values into dst, which holds one pointer per schema type in canonical order.
	put(dst []unsafe.Pointer)
}

type Bundle1[A any] struct{ A A }

type Bundle2[A, B any] struct {
	A A
	B B
}

type Bundle3[A, B, C any] struct {
	A A
	B B
	C C
}

type Bundle4[A, B, C, D any] struct {
	A A
	B B
	C C
	D D
}

func Of1[A any](a A) Bundle1[A] { return Bundle1[A]{A: a} }

func Of2[A, B any](a A, b B) Bundle2[A, B] { return Bundle2[A, B]{A: a, B: b} }

func Of3[A, B, C any](a A, b B, c C) Bundle3[A, B, C] { return Bundle3[A, B, C]{A: a, B: b, C: c} }

func Of4[A, B, C, D any](a A, b B, c C, d D) Bundle4[A, B, C, D] {
	return Bundle4[A, B, C, D]{A: a, B: b, C: c, D: d}
}

func (b Bundle1[A]) Schema() *Schema { return tuple1[A]().schema }

func (b Bundle1[A]) put(dst []unsafe.Pointer) {
	*(*A)(dst[0]) = b.A
}

func (b *Bundle1[A]) take(src []unsafe.Pointer) {
	b.A = *(*A)(src[0])
}

func (b Bundle2[A, B]) Schema() *Schema { return tuple2[A, B]().schema }

func (b Bundle2[A, B]) put(dst []unsafe.Pointer) {
	p := tuple2[A, B]().perm
	*(*A)(dst[p[0]]) = b.A
	*(*B)(dst[p[1]]) = b.B
}

func (b *Bundle2[A, B]) take(src []unsafe.Pointer) {
	p := tuple2[A, B]().perm
	b.A = *(*A)(src[p[0]])
	b.B = *(*B)(src[p[1]])
}

func (b Bundle3[A, B, C]) Schema() *Schema { return tuple3[A, B, C]().schema }

func (b Bundle3[A, B, C]) put(dst []unsafe.Pointer) {
	p := tuple3[A, B, C]().perm
	*(*A)(dst[p[0]]) = b.A
	*(*B)(dst[p[1]]) = b.B
	*(*C)(dst[p[2]]) = b.C
}

func (b *Bundle3[A, B, C]) take(src []unsafe.Pointer) {
	p := tuple3[A, B, C]().perm
	b.A = *(*A)(src[p[0]])
	b.B = *(*B)(src[p[1]])
	b.C = *(*C)(src[p[2]])
}

func (b Bundle4[A, B, C, D]) Schema() *Schema { return tuple4[A, B, C, D]().schema }

func (b Bundle4[A, B, C, D]) put(dst []unsafe.Pointer) {
	p := tuple4[A, B, C, D]().perm
	*(*A)(dst[p[0]]) = b.A
	*(*B)(dst[p[1]]) = b.B
	*(*C)(dst[p[2]]) = b.C
	*(*D)(dst[p[3]]) = b.D
}

func (b *Bundle4[A, B, C, D]) take(src []unsafe.Pointer) {
	p := tuple4[A, B, C, D]().perm
	b.A = *(*A)(src[p[0]])
	b.B = *(*B)(src[p[1]])
	b.C = *(*C)(src[p[2]])
	b.D = *(*D)(src[p[3]])
}

// -------------------------------------------------------------------------------------------------
// Dynamic bundles
// -------------------------------------------------------------------------------------------------

type dynamicValue struct {
	info  *TypeInfo
	value reflect.Value
	raw   []byte
}

// DynamicBundle is a bundle assembled at runtime, for component types that are not known at
// compile time.
type DynamicBundle struct {
	values []dynamicValue
	schema *Schema
}

var _ Bundle = (*DynamicBundle)(nil)

// NewDynamicBundle returns a bundle holding the given component values.
func NewDynamicBundle(values ...any) *DynamicBundle {
	b := &DynamicBundle{}
	for _, v := range values {
		b.Add(v)
	}
	return b
}

// Add appends a component value. Its type is registered on first use.
func (b *DynamicBundle) Add(value any) *DynamicBundle {
	rv := reflect.ValueOf(value)
	assert.That(rv.IsValid(), "cannot add a nil component")
	b.values = append(b.values, dynamicValue{info: TypeFor(rv.Type()), value: rv})
	b.schema = nil
	return b
}

// AddRaw appends the bytes of a raw component type registered with RegisterType.
func (b *DynamicBundle) AddRaw(info *TypeInfo, data []byte) *DynamicBundle {
	assert.That(info.typ == nil, "component %s is not a raw type", info.name)
	assert.That(uintptr(len(data)) == info.size, "component %s expects %d bytes, got %d", info.name, info.size, len(data))
	b.values = append(b.values, dynamicValue{info: info, raw: slices.Clone(data)})
	b.schema = nil
	return b
}

func (b *DynamicBundle) Schema() *Schema {
	if b.schema == nil {
		types := make([]*TypeInfo, len(b.values))
		for i, v := range b.values {
			types[i] = v.info
		}
		b.schema = NewSchema(types...)
		slices.SortFunc(b.values, func(x, y dynamicValue) int {
			return b.schema.Index(x.info.id) - b.schema.Index(y.info.id)
		})
	}
	return b.schema
}

func (b *DynamicBundle) put(dst []unsafe.Pointer) {
	b.Schema()
	for i, v := range b.values {
		if v.info.typ == nil {
			copy(unsafe.Slice((*byte)(dst[i]), v.info.size), v.raw)
			continue
		}
		reflect.NewAt(v.info.typ, dst[i]).Elem().Set(v.value)
	}
}
