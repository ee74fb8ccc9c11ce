// Package notify implements a small publish/subscribe helper with explicit
// unsubscribe handles.
package notify

import (
	"sync"
)

// Notifier delivers values of type T to every registered listener.
//
// A listener that panics is recovered and reported through the panic handler; the
// remaining listeners still receive the value.
type Notifier[T any] struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[uint64]func(T)
	order     []uint64

	onPanic func(recovered interface{})
}

// New creates a Notifier. onPanic may be nil.
func New[T any](onPanic func(recovered interface{})) *Notifier[T] {
	return &Notifier[T]{
		listeners: make(map[uint64]func(T)),
		onPanic:   onPanic,
	}
}

// Subscribe registers fn and returns a function that removes it again.
// Calling the returned function more than once is harmless.
func (n *Notifier[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.listeners[id] = fn
	n.order = append(n.order, id)
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.listeners, id)
			for i, v := range n.order {
				if v == id {
					n.order = append(n.order[:i], n.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish calls every listener in registration order. Listeners run without any
// lock held, so they may subscribe or unsubscribe.
func (n *Notifier[T]) Publish(v T) {
	n.mu.RLock()
	fns := make([]func(T), 0, len(n.order))
	for _, id := range n.order {
		fns = append(fns, n.listeners[id])
	}
	n.mu.RUnlock()

	for _, fn := range fns {
		n.call(fn, v)
	}
}

// Len returns the number of registered listeners.
func (n *Notifier[T]) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}

func (n *Notifier[T]) call(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil && n.onPanic != nil {
			n.onPanic(r)
		}
	}()
	fn(v)
}
