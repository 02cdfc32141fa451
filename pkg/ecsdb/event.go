package ecsdb

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// EventKind identifies a structural change.
type EventKind uint8

const (
	EventArchetypeAdded EventKind = iota + 1
	EventArchetypeRemoved
	EventEntityAdded
	EventEntityRemoved
	EventEntityMoved
)

func (k EventKind) String() string {
	switch k {
	case EventArchetypeAdded:
		return "archetype_added"
	case EventArchetypeRemoved:
		return "archetype_removed"
	case EventEntityAdded:
		return "entity_added"
	case EventEntityRemoved:
		return "entity_removed"
	case EventEntityMoved:
		return "entity_moved"
	default:
		return fmt.Sprintf("event_kind(%d)", uint8(k))
	}
}

// Event describes one structural change. Archetype is the id of the archetype the change happened
// in; for EventEntityMoved it is the destination and From is the source.
type Event struct {
	Kind      EventKind
	Entity    Entity
	Archetype uint64
	From      uint64
}

// Subscription identifies a registered event listener.
type Subscription struct {
	id uint64
}

type subscriber struct {
	id uint64
	fn func(Event)
}

// eventBus delivers events synchronously to every subscriber, in subscription order. Publishing
// reads a copy-on-write snapshot, so listeners may subscribe or unsubscribe from inside a callback.
type eventBus struct {
	mu     sync.Mutex
	nextID uint64
	subs   atomic.Pointer[[]subscriber]
}

// Subscribe registers fn for every structural event. Listeners run on the goroutine that made the
// change, after its archetype locks are released.
func (w *World) Subscribe(fn func(Event)) Subscription {
	b := &w.events
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	var next []subscriber
	if cur := b.subs.Load(); cur != nil {
		next = append(next, *cur...)
	}
	next = append(next, subscriber{id: b.nextID, fn: fn})
	b.subs.Store(&next)
	return Subscription{id: b.nextID}
}

// Unsubscribe removes a listener. It returns false if the subscription was already removed.
func (w *World) Unsubscribe(s Subscription) bool {
	b := &w.events
	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.subs.Load()
	if cur == nil {
		return false
	}
	next := make([]subscriber, 0, len(*cur))
	for _, sub := range *cur {
		if sub.id != s.id {
			next = append(next, sub)
		}
	}
	if len(next) == len(*cur) {
		return false
	}
	b.subs.Store(&next)
	return true
}

// emitAll delivers queued events in order. Callers flush only after releasing the structure counter,
// so a listener may call back into the World, including Repack and Clear.
func (w *World) emitAll(events []Event) {
	for _, ev := range events {
		w.emit(ev)
	}
}

func (w *World) emit(ev Event) {
	subs := w.events.subs.Load()
	if subs == nil {
		return
	}
	for _, sub := range *subs {
		sub.fn(ev)
	}
}
