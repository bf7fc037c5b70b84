package client

import "sync"

// handlers is an ordered list of callbacks of one kind.
type handlers[T any] struct {
	mu     sync.Mutex
	nextID uint64
	list   []handlerEntry[T]
}

type handlerEntry[T any] struct {
	id uint64
	fn T
}

// add appends fn and returns a func that removes it.
func (h *handlers[T]) add(fn T) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.list = append(h.list, handlerEntry[T]{id: id, fn: fn})

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, e := range h.list {
			if e.id == id {
				h.list = append(h.list[:i:i], h.list[i+1:]...)
				return
			}
		}
	}
}

// snapshot returns the current callbacks in registration order.
func (h *handlers[T]) snapshot() []T {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]T, len(h.list))
	for i, e := range h.list {
		out[i] = e.fn
	}
	return out
}

// each calls invoke for every callback. A panic in one callback is
// recovered and passed to onPanic; the rest still run.
func (h *handlers[T]) each(invoke func(T), onPanic func(any)) {
	for _, fn := range h.snapshot() {
		func() {
			defer func() {
				if r := recover(); r != nil && onPanic != nil {
					onPanic(r)
				}
			}()
			invoke(fn)
		}()
	}
}
