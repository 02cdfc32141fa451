package ecsdb

import (
	"unsafe"

	"github.com/argus-labs/ecsdb/pkg/assert"
)

// moveSet is a set of occupied slots held under the archetype's structural lock until they are
// either unlinked (finish) or left in place (abort).
type moveSet struct {
	arch *Archetype
	rows []rowRef
	drop bool // Run destructors over every column before unlinking
	done bool
}

func (a *Archetype) lockSlots(slots []uint32) moveSet {
	a.lockAll()
	rows := make([]rowRef, len(slots))
	for i, slot := range slots {
		c, off := a.locate(slot)
		rows[i] = rowRef{chunk: c, off: off, slot: slot}
	}
	return moveSet{arch: a, rows: rows}
}

// verify reports whether every slot is occupied.
func (m *moveSet) verify() bool {
	for _, r := range m.rows {
		if r.chunk.state[r.off].Load() != slotOccupied {
			return false
		}
	}
	return true
}

func (m *moveSet) finish() {
	assert.That(!m.done, "move already finished")
	m.done = true
	if m.drop {
		for _, r := range m.rows {
			for col, t := range m.arch.schema.types {
				t.dropValue(m.arch.pointer(r.chunk, col, r.off))
			}
		}
	}
	m.arch.unlink(m.rows)
	m.arch.unlockAll()
}

func (m *moveSet) abort() {
	assert.That(!m.done, "move already finished")
	m.done = true
	m.arch.unlockAll()
}

// -------------------------------------------------------------------------------------------------
// Row-at-a-time moves
// -------------------------------------------------------------------------------------------------

// RowMover yields the current pointers of a set of slots one row at a time. The slots are unlinked
// by Finish; until then the archetype stays locked.
type RowMover struct {
	moveSet
	pos  int
	ptrs []unsafe.Pointer
}

// moveAOS locks the archetype and prepares the given slots for a row-major move.
func (a *Archetype) moveAOS(slots []uint32) *RowMover {
	return &RowMover{
		moveSet: a.lockSlots(slots),
		pos:     -1,
		ptrs:    make([]unsafe.Pointer, 0, len(a.schema.types)),
	}
}

// removeAOS drops the values of the given slots and frees them.
func (a *Archetype) removeAOS(slots []uint32) {
	a.removeAOSDeferred(slots).Finish()
}

// removeAOSDeferred is removeAOS that waits for Finish, so values can still be read first.
func (a *Archetype) removeAOSDeferred(slots []uint32) *RowMover {
	m := a.moveAOS(slots)
	m.drop = true
	return m
}

// Next advances to the next slot.
func (m *RowMover) Next() bool {
	if m.pos+1 >= len(m.rows) {
		return false
	}
	m.pos++
	r := m.rows[m.pos]
	m.ptrs = m.arch.row(r.chunk, r.off, m.ptrs)
	return true
}

// Row returns one pointer per column, in canonical order, for the current slot.
func (m *RowMover) Row() []unsafe.Pointer { return m.ptrs }

// Entity returns the entity stored in the current slot.
func (m *RowMover) Entity() Entity {
	r := m.rows[m.pos]
	return r.chunk.entities[r.off]
}

// Owns reports whether slot i holds entity e.
func (m *RowMover) Owns(i int, e Entity) bool {
	r := m.rows[i]
	return r.chunk.state[r.off].Load() == slotOccupied && r.chunk.entities[r.off] == e
}

// Finish unlinks every slot and releases the archetype.
func (m *RowMover) Finish() { m.finish() }

// Abort releases the archetype without touching the slots.
func (m *RowMover) Abort() { m.abort() }

// -------------------------------------------------------------------------------------------------
// Column-major moves
// -------------------------------------------------------------------------------------------------

// ColumnMover yields the current pointers of a set of slots one column at a time.
type ColumnMover struct {
	moveSet
	col  int
	ptrs []unsafe.Pointer
}

// moveSOA locks the archetype and prepares the given slots for a column-major move.
func (a *Archetype) moveSOA(slots []uint32) *ColumnMover {
	return &ColumnMover{
		moveSet: a.lockSlots(slots),
		col:     -1,
		ptrs:    make([]unsafe.Pointer, len(slots)),
	}
}

// removeSOA drops the values of the given slots and frees them.
func (a *Archetype) removeSOA(slots []uint32) {
	a.removeSOADeferred(slots).Finish()
}

// removeSOADeferred is removeSOA that waits for Finish.
func (a *Archetype) removeSOADeferred(slots []uint32) *ColumnMover {
	m := a.moveSOA(slots)
	m.drop = true
	return m
}

// Next advances to the next column.
func (m *ColumnMover) Next() bool {
	if m.col+1 >= len(m.arch.schema.types) {
		return false
	}
	m.col++
	for i, r := range m.rows {
		m.ptrs[i] = m.arch.pointer(r.chunk, m.col, r.off)
	}
	return true
}

// Type returns the component type of the current column.
func (m *ColumnMover) Type() *TypeInfo { return m.arch.schema.types[m.col] }

// Column returns the current column's pointer for every slot.
func (m *ColumnMover) Column() []unsafe.Pointer { return m.ptrs }

// Entities returns the entities stored in the slots.
func (m *ColumnMover) Entities() []Entity {
	out := make([]Entity, len(m.rows))
	for i, r := range m.rows {
		out[i] = r.chunk.entities[r.off]
	}
	return out
}

// Finish unlinks every slot and releases the archetype.
func (m *ColumnMover) Finish() { m.finish() }

// Abort releases the archetype without touching the slots.
func (m *ColumnMover) Abort() { m.abort() }
