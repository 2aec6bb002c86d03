// ABOUTME: Copy-on-write subscriber list for transports
// ABOUTME: Dispatch reads a snapshot without locking so handlers never block unsubscribe
package stream

import (
	"sync"
	"sync/atomic"
)

type subscriber struct {
	id uint64
	fn func(Event)
}

// Broadcaster fans transport events out to subscribed handlers. The zero
// value is ready to use.
type Broadcaster struct {
	mu     sync.Mutex
	nextID uint64
	subs   atomic.Pointer[[]subscriber]
}

// Subscribe registers handler and returns a function that removes it.
// The returned function is idempotent.
func (b *Broadcaster) Subscribe(handler func(Event)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	old := b.snapshot()
	next := make([]subscriber, len(old), len(old)+1)
	copy(next, old)
	next = append(next, subscriber{id: id, fn: handler})
	b.subs.Store(&next)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Broadcaster) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	old := b.snapshot()
	next := make([]subscriber, 0, len(old))
	for _, s := range old {
		if s.id != id {
			next = append(next, s)
		}
	}
	b.subs.Store(&next)
}

func (b *Broadcaster) snapshot() []subscriber {
	if p := b.subs.Load(); p != nil {
		return *p
	}
	return nil
}

// Dispatch delivers ev to every current subscriber on the calling goroutine
func (b *Broadcaster) Dispatch(ev Event) {
	for _, s := range b.snapshot() {
		s.fn(ev)
	}
}

// Len returns the number of subscribers
func (b *Broadcaster) Len() int {
	return len(b.snapshot())
}
