// Package broadcast fans a value out to any number of subscribers.
//
// Publish never blocks on a slow reader. Each subscriber has a channel of a
// fixed depth; when it is full the oldest unread value is dropped, so every
// reader eventually sees the latest value. New gives depth one (coalescing),
// NewQueued keeps a short ordered history.
package broadcast

import "sync"

type Broadcaster[T any] struct {
	mu     sync.Mutex
	depth  int
	subs   map[int]chan T
	nextID int
	closed bool
}

func New[T any]() *Broadcaster[T] {
	return NewQueued[T](1)
}

// NewQueued keeps up to depth unread values per subscriber.
func NewQueued[T any](depth int) *Broadcaster[T] {
	if depth < 1 {
		depth = 1
	}
	return &Broadcaster[T]{depth: depth, subs: make(map[int]chan T)}
}

// Subscribe returns a channel of published values and a cancel function that
// unsubscribes and closes the channel.
func (b *Broadcaster[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, b.depth)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish hands v to every subscriber before returning.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		if len(ch) == cap(ch) {
			select {
			case <-ch:
			default:
			}
		}
		ch <- v
	}
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

func (b *Broadcaster[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
