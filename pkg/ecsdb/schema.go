package ecsdb

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Schema is a canonical component type set: sorted by TypeID and free of duplicates. Its hash
// identifies the archetype that stores entities with exactly these components.
type Schema struct {
	types []*TypeInfo
	ids   []TypeID
	hash  uint64
}

// NewSchema builds the canonical schema of the given types in any order. A duplicate type is a
// programming error and panics.
func NewSchema(types ...*TypeInfo) *Schema {
	sorted := slices.Clone(types)
	slices.SortFunc(sorted, func(a, b *TypeInfo) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].id == sorted[i].id {
			panic(fmt.Sprintf("ecsdb: duplicate component type %s in bundle", sorted[i].name))
		}
	}
	ids := make([]TypeID, len(sorted))
	for i, t := range sorted {
		ids[i] = t.id
	}
	return &Schema{types: sorted, ids: ids, hash: hashIDs(ids)}
}

// Types returns the sorted descriptors. The slice must not be modified.
func (s *Schema) Types() []*TypeInfo { return s.types }

// IDs returns the sorted type ids. The slice must not be modified.
func (s *Schema) IDs() []TypeID { return s.ids }

// Hash returns the 64-bit hash of the sorted id sequence.
func (s *Schema) Hash() uint64 { return s.hash }

// Len returns the number of component types.
func (s *Schema) Len() int { return len(s.types) }

// Index returns the canonical position of id, or -1.
func (s *Schema) Index(id TypeID) int {
	i, ok := slices.BinarySearch(s.ids, id)
	if !ok {
		return -1
	}
	return i
}

// hashIDs hashes a sorted id sequence.
func hashIDs(ids []TypeID) uint64 {
	d := xxhash.New()
	var buf [8]byte
	for _, id := range ids {
		binary.LittleEndian.PutUint64(buf[:], uint64(id))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

// union merges two sorted id lists.
func union(a, b []TypeID) []TypeID {
	out := make([]TypeID, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// difference returns the ids of a that are not in b. Both lists are sorted.
func difference(a, b []TypeID) []TypeID {
	out := make([]TypeID, 0, len(a))
	j := 0
	for _, id := range a {
		for j < len(b) && b[j] < id {
			j++
		}
		if j < len(b) && b[j] == id {
			continue
		}
		out = append(out, id)
	}
	return out
}

// sortedIDs returns the sorted, deduplicated ids of types.
func sortedIDs(types []*TypeInfo) []TypeID {
	ids := make([]TypeID, len(types))
	for i, t := range types {
		ids[i] = t.id
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// -------------------------------------------------------------------------------------------------
// Tuple schemas
// -------------------------------------------------------------------------------------------------

// tuple maps a fixed tuple of component types onto its canonical schema. perm[i] is the canonical
// position of the i-th tuple element.
type tuple struct {
	schema *Schema
	perm   []int
	types  []*TypeInfo // Tuple order
}

var tuples sync.Map // reflect.Type -> *tuple

func tupleFor(key reflect.Type, types ...*TypeInfo) *tuple {
	schema := NewSchema(types...)
	perm := make([]int, len(types))
	for i, t := range types {
		perm[i] = schema.Index(t.id)
	}
	t, _ := tuples.LoadOrStore(key, &tuple{schema: schema, perm: perm, types: types})
	return t.(*tuple) //nolint:forcetypeassert // only tuples are stored
}

func tuple1[A any]() *tuple {
	key := reflect.TypeFor[Bundle1[A]]()
	if t, ok := tuples.Load(key); ok {
		return t.(*tuple) //nolint:forcetypeassert // only tuples are stored
	}
	return tupleFor(key, TypeOf[A]())
}

func tuple2[A, B any]() *tuple {
	key := reflect.TypeFor[Bundle2[A, B]]()
	if t, ok := tuples.Load(key); ok {
		return t.(*tuple) //nolint:forcetypeassert // only tuples are stored
	}
	return tupleFor(key, TypeOf[A](), TypeOf[B]())
}

func tuple3[A, B, C any]() *tuple {
	key := reflect.TypeFor[Bundle3[A, B, C]]()
	if t, ok := tuples.Load(key); ok {
		return t.(*tuple) //nolint:forcetypeassert // only tuples are stored
	}
	return tupleFor(key, TypeOf[A](), TypeOf[B](), TypeOf[C]())
}

func tuple4[A, B, C, D any]() *tuple {
	key := reflect.TypeFor[Bundle4[A, B, C, D]]()
	if t, ok := tuples.Load(key); ok {
		return t.(*tuple) //nolint:forcetypeassert // only tuples are stored
	}
	return tupleFor(key, TypeOf[A](), TypeOf[B](), TypeOf[C](), TypeOf[D]())
}
