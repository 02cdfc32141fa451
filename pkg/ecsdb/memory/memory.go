// Package memory defines the allocation provider that backs pool blocks and archetype chunks.
package memory

import (
	"fmt"
	"reflect"
	"unsafe"
)

// Layout describes the records of an allocation. Type is optional: when set, the backing memory
// is typed so the garbage collector can see pointers stored in it.
type Layout struct {
	Size  uintptr
	Align uintptr
	Type  reflect.Type
}

// LayoutOf returns the typed layout of T.
func LayoutOf[T any]() Layout {
	t := reflect.TypeFor[T]()
	return Layout{Size: t.Size(), Align: uintptr(t.Align()), Type: t}
}

// Block is a contiguous allocation of n records.
type Block struct {
	ptr   unsafe.Pointer
	bytes uintptr
	owner any // Keeps the backing allocation reachable
}

// Pointer returns the address of the first record.
func (b Block) Pointer() unsafe.Pointer { return b.ptr }

// Bytes returns the size of the allocation.
func (b Block) Bytes() uintptr { return b.bytes }

// IsNil reports whether the allocation failed.
func (b Block) IsNil() bool { return b.ptr == nil }

// Allocator is the allocate/deallocate-by-layout provider consumed by the store.
// Implementations return a nil Block when they cannot satisfy a request.
type Allocator interface {
	Allocate(layout Layout, n int) Block
	Deallocate(b Block)
}

// MustAllocate allocates n records or panics. Running out of memory is not recoverable at the
// storage layer.
func MustAllocate(a Allocator, layout Layout, n int) Block {
	b := a.Allocate(layout, n)
	if b.IsNil() {
		panic(fmt.Sprintf("ecsdb: allocator exhausted (size=%d align=%d n=%d)", layout.Size, layout.Align, n))
	}
	return b
}

var zeroBase uint64

// Heap allocates from the Go heap.
type Heap struct{}

var _ Allocator = Heap{}

func (Heap) Allocate(layout Layout, n int) Block {
	if n < 0 {
		return Block{}
	}
	bytes := layout.Size * uintptr(n)
	if layout.Type != nil {
		s := reflect.MakeSlice(reflect.SliceOf(layout.Type), n, n)
		ptr := s.UnsafePointer()
		if ptr == nil {
			ptr = unsafe.Pointer(&zeroBase)
		}
		return Block{ptr: ptr, bytes: bytes, owner: s.Interface()}
	}
	if bytes == 0 {
		return Block{ptr: unsafe.Pointer(&zeroBase)}
	}

	align := max(layout.Align, 1)
	const word = unsafe.Sizeof(uint64(0))
	words := make([]uint64, (bytes+align+word-1)/word)
	base := uintptr(unsafe.Pointer(&words[0]))
	pad := (align - base%align) % align
	return Block{ptr: unsafe.Add(unsafe.Pointer(&words[0]), pad), bytes: bytes, owner: words}
}

// Deallocate drops the reference; the garbage collector reclaims the memory.
func (Heap) Deallocate(Block) {}
