// Package pending correlates outstanding point reads with the SNAPSHOT
// entries that answer them.
//
// Waiters are queued per address in arrival order and each carries a
// unique correlation id, so concurrent reads of the same address never
// overwrite each other. A SNAPSHOT entry for an address resolves every
// waiter queued for it; each waiter is resolved at most once.
//
// Table is not safe for concurrent use. The owning client guards it with
// the same lock that guards its parameter cache.
package pending

import (
	"slices"

	"github.com/clasp-protocol/clasp-go/pkg/wire"
)

// Waiter is one outstanding read.
type Waiter struct {
	ID      uint64
	Address string

	ch chan wire.Value
}

// Done is delivered the resolving value exactly once.
func (w *Waiter) Done() <-chan wire.Value {
	return w.ch
}

// Table holds waiters keyed by address.
type Table struct {
	nextID uint64
	queues map[string][]*Waiter
	count  int
}

// New creates an empty table.
func New() *Table {
	return &Table{queues: make(map[string][]*Waiter)}
}

// Add queues a waiter for address.
func (t *Table) Add(address string) *Waiter {
	t.nextID++
	w := &Waiter{
		ID:      t.nextID,
		Address: address,
		ch:      make(chan wire.Value, 1),
	}
	t.queues[address] = append(t.queues[address], w)
	t.count++
	return w
}

// Resolve delivers v to every waiter for address, oldest first, and removes
// them. It returns the number of waiters resolved.
func (t *Table) Resolve(address string, v wire.Value) int {
	q := t.queues[address]
	if len(q) == 0 {
		return 0
	}
	delete(t.queues, address)
	t.count -= len(q)
	for _, w := range q {
		w.ch <- v
	}
	return len(q)
}

// Remove drops w if it is still queued. It returns false if w was already
// resolved or removed.
func (t *Table) Remove(w *Waiter) bool {
	q := t.queues[w.Address]
	i := slices.IndexFunc(q, func(x *Waiter) bool { return x.ID == w.ID })
	if i < 0 {
		return false
	}
	q = slices.Delete(q, i, i+1)
	if len(q) == 0 {
		delete(t.queues, w.Address)
	} else {
		t.queues[w.Address] = q
	}
	t.count--
	return true
}

// Len returns the total number of queued waiters.
func (t *Table) Len() int {
	return t.count
}

// Waiting returns the number of waiters queued for address.
func (t *Table) Waiting(address string) int {
	return len(t.queues[address])
}

// Addresses returns the addresses with queued waiters, sorted.
func (t *Table) Addresses() []string {
	out := make([]string, 0, len(t.queues))
	for a := range t.queues {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}
