package ecsdb

import (
	"unsafe"

	"github.com/argus-labs/ecsdb/pkg/assert"
)

// reservation is a set of reserved slots waiting to be filled and committed. Slots are committed
// in order; anything left uncommitted must be handed back with cancel.
type reservation struct {
	arch      *Archetype
	rows      []rowRef
	committed int
}

// reserve takes n free slots under the archetype's structural lock.
func (a *Archetype) reserve(n int) reservation {
	rows := make([]rowRef, n)
	a.lockAll()
	for i := range rows {
		c, off, slot := a.pop()
		rows[i] = rowRef{chunk: c, off: off, slot: slot}
	}
	a.unlockAll()
	return reservation{arch: a, rows: rows}
}

// commit publishes row i for entity e. Readers see the row once its state turns occupied.
func (r *reservation) commit(i int, e Entity) {
	assert.That(i == r.committed, "rows must be committed in order (want %d, got %d)", r.committed, i)
	row := r.rows[i]
	row.chunk.entities[row.off] = e
	row.chunk.state[row.off].Store(slotOccupied)
	r.arch.live.Add(1)
	r.committed++
}

// cancel links every uncommitted row back into the free-list.
func (r *reservation) cancel() {
	rest := r.rows[r.committed:]
	if len(rest) == 0 {
		return
	}
	r.arch.lockAll()
	r.arch.unlink(rest)
	r.arch.unlockAll()
	r.committed = len(r.rows)
}

// close checks that every reserved row was consumed. Leftover rows are a programming error; when
// assertions are compiled out they are returned to the free-list instead.
func (r *reservation) close() {
	leftover := len(r.rows) - r.committed
	assert.That(leftover == 0, "archetype %016x: insertion dropped with %d unconsumed rows", r.arch.ID(), leftover)
	r.cancel()
}

// -------------------------------------------------------------------------------------------------
// Row-at-a-time insertion
// -------------------------------------------------------------------------------------------------

// RowInserter yields the destination pointers of reserved rows one row at a time.
type RowInserter struct {
	res  reservation
	pos  int
	ptrs []unsafe.Pointer
}

// addAOS reserves n rows for row-major filling.
func (a *Archetype) addAOS(n int) *RowInserter {
	return &RowInserter{
		res:  a.reserve(n),
		pos:  -1,
		ptrs: make([]unsafe.Pointer, 0, len(a.schema.types)),
	}
}

// Next advances to the next reserved row.
func (it *RowInserter) Next() bool {
	if it.pos+1 >= len(it.res.rows) {
		return false
	}
	it.pos++
	row := it.res.rows[it.pos]
	it.ptrs = it.res.arch.row(row.chunk, row.off, it.ptrs)
	return true
}

// Row returns one pointer per column, in canonical order, for the current row.
func (it *RowInserter) Row() []unsafe.Pointer { return it.ptrs }

// Slot returns the slot of the current row.
func (it *RowInserter) Slot() uint32 { return it.res.rows[it.pos].slot }

// Commit publishes the current row for e.
func (it *RowInserter) Commit(e Entity) { it.res.commit(it.pos, e) }

// Abort hands back every uncommitted row without complaint.
func (it *RowInserter) Abort() { it.res.cancel() }

// Close ends the insertion. Every row must have been committed.
func (it *RowInserter) Close() { it.res.close() }

// -------------------------------------------------------------------------------------------------
// Column-major insertion
// -------------------------------------------------------------------------------------------------

// ColumnInserter yields the destination pointers of every reserved row one column at a time.
type ColumnInserter struct {
	res  reservation
	col  int
	ptrs []unsafe.Pointer
}

// addSOA reserves n rows for column-major filling.
func (a *Archetype) addSOA(n int) *ColumnInserter {
	return &ColumnInserter{
		res:  a.reserve(n),
		col:  -1,
		ptrs: make([]unsafe.Pointer, n),
	}
}

// Next advances to the next column.
func (it *ColumnInserter) Next() bool {
	arch := it.res.arch
	if it.col+1 >= len(arch.schema.types) {
		return false
	}
	it.col++
	for i, row := range it.res.rows {
		it.ptrs[i] = arch.pointer(row.chunk, it.col, row.off)
	}
	return true
}

// Type returns the component type of the current column.
func (it *ColumnInserter) Type() *TypeInfo { return it.res.arch.schema.types[it.col] }

// Column returns the current column's pointer for every reserved row.
func (it *ColumnInserter) Column() []unsafe.Pointer { return it.ptrs }

// Commit publishes all rows once every column has been visited.
func (it *ColumnInserter) Commit(entities []Entity) {
	assert.That(it.col == len(it.res.arch.schema.types)-1, "commit before every column was written")
	assert.That(len(entities) == len(it.res.rows), "got %d entities for %d rows", len(entities), len(it.res.rows))
	for i, e := range entities {
		it.res.commit(i, e)
	}
}

// Slots returns the reserved slots.
func (it *ColumnInserter) Slots() []uint32 {
	slots := make([]uint32, len(it.res.rows))
	for i, row := range it.res.rows {
		slots[i] = row.slot
	}
	return slots
}

// Close ends the insertion. Every row must have been committed.
func (it *ColumnInserter) Close() { it.res.close() }

// -------------------------------------------------------------------------------------------------
// Packed insertion
// -------------------------------------------------------------------------------------------------

// PackedInserter yields runs of reserved rows that are contiguous inside one chunk, so that
// pre-packed column data can be copied in bulk.
type PackedInserter struct {
	res   reservation
	start int // First row of the current run
	end   int
}

// addPacked reserves n rows for bulk copies. Only pointer-free component types can be written as
// raw bytes.
func (a *Archetype) addPacked(n int) *PackedInserter {
	for _, t := range a.schema.types {
		assert.That(!t.pointers, "component %s holds pointers and cannot be copied as bytes", t.name)
	}
	return &PackedInserter{res: a.reserve(n)}
}

// Next advances to the next contiguous run.
func (it *PackedInserter) Next() bool {
	rows := it.res.rows
	if it.end >= len(rows) {
		return false
	}
	it.start = it.end
	it.end++
	for it.end < len(rows) &&
		rows[it.end].chunk == rows[it.start].chunk &&
		rows[it.end].off == rows[it.end-1].off+1 {
		it.end++
	}
	return true
}

// Offset returns the index, among all reserved rows, of the first row of the current run.
func (it *PackedInserter) Offset() int { return it.start }

// Len returns the number of rows in the current run.
func (it *PackedInserter) Len() int { return it.end - it.start }

// Column returns the bytes of column col for the current run.
func (it *PackedInserter) Column(col int) []byte {
	arch := it.res.arch
	first := it.res.rows[it.start]
	size := arch.schema.types[col].size
	return unsafe.Slice((*byte)(arch.pointer(first.chunk, col, first.off)), size*uintptr(it.Len()))
}

// Commit publishes the current run. entities holds one handle per row of the run.
func (it *PackedInserter) Commit(entities []Entity) {
	assert.That(len(entities) == it.Len(), "got %d entities for a run of %d rows", len(entities), it.Len())
	for i, e := range entities {
		it.res.commit(it.start+i, e)
	}
}

// Close ends the insertion. Every row must have been committed.
func (it *PackedInserter) Close() { it.res.close() }
