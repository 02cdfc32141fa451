//go:build !ecsdb_single

package spin

import "sync/atomic"

// uniqueBit is reserved by a unique holder. The lower bits count shared holders.
const uniqueBit uint32 = 1 << 31

// RW is a spinning shared/unique counter. Shared acquisition increments the counter, unique
// acquisition reserves the high bit and then waits for shared holders to drain. It never parks
// the goroutine. The zero value is unlocked.
type RW struct {
	state atomic.Uint32
}

// Shared blocks until no unique holder is present and registers a shared holder.
func (l *RW) Shared(yield func()) {
	for {
		v := l.state.Load()
		if v&uniqueBit == 0 && l.state.CompareAndSwap(v, v+1) {
			return
		}
		orYield(yield)()
	}
}

// TryShared registers a shared holder if no unique holder is present.
func (l *RW) TryShared() bool {
	v := l.state.Load()
	return v&uniqueBit == 0 && l.state.CompareAndSwap(v, v+1)
}

// SharedUnlock releases one shared holder.
func (l *RW) SharedUnlock() {
	l.state.Add(^uint32(0))
}

// Unique blocks until the caller is the only holder.
func (l *RW) Unique(yield func()) {
	y := orYield(yield)
	for {
		v := l.state.Load()
		if v&uniqueBit == 0 && l.state.CompareAndSwap(v, v|uniqueBit) {
			break
		}
		y()
	}
	for l.state.Load() != uniqueBit {
		y()
	}
}

// Exclusive blocks until no holder of any kind is present and then takes unique access. Unlike
// Unique it does not stop new shared holders while waiting, so a goroutine that already holds the
// counter shared can acquire it again without deadlocking. Release with UniqueUnlock.
func (l *RW) Exclusive(yield func()) {
	y := orYield(yield)
	for !l.state.CompareAndSwap(0, uniqueBit) {
		y()
	}
}

// UniqueUnlock releases the unique hold.
func (l *RW) UniqueUnlock() {
	l.state.Add(^(uniqueBit - 1))
}

// Held reports whether any holder is registered.
func (l *RW) Held() bool {
	return l.state.Load() != 0
}
