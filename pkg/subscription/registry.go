package subscription

import (
	"errors"
	"fmt"
	"slices"

	"github.com/clasp-protocol/clasp-go/pkg/address"
	"github.com/clasp-protocol/clasp-go/pkg/wire"
)

// ErrNilHandler is returned when subscribing without a handler.
var ErrNilHandler = errors.New("nil handler")

// Registry holds subscriptions by id.
type Registry struct {
	nextID uint32
	subs   map[uint32]*Subscription
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[uint32]*Subscription)}
}

// Add compiles pattern and registers a subscription with the next id.
func (r *Registry) Add(pattern string, h Handler, opts ...Option) (*Subscription, error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	p, err := address.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}

	r.nextID++
	s := &Subscription{ID: r.nextID, Pattern: p, Handler: h}
	for _, opt := range opts {
		opt(s)
	}
	r.subs[s.ID] = s
	return s, nil
}

// Remove deletes a subscription. It returns false if id is unknown.
func (r *Registry) Remove(id uint32) bool {
	if _, ok := r.subs[id]; !ok {
		return false
	}
	delete(r.subs, id)
	return true
}

// Get returns a subscription by id.
func (r *Registry) Get(id uint32) (*Subscription, bool) {
	s, ok := r.subs[id]
	return s, ok
}

// Len returns the number of subscriptions.
func (r *Registry) Len() int {
	return len(r.subs)
}

// Match returns the subscriptions whose pattern matches addr and that
// accept signal, in id order.
func (r *Registry) Match(addr string, signal wire.SignalType) []*Subscription {
	var out []*Subscription
	for _, s := range r.subs {
		if s.Pattern.Match(addr) && s.Accepts(signal) {
			out = append(out, s)
		}
	}
	sortByID(out)
	return out
}

// All returns every subscription in id order.
func (r *Registry) All() []*Subscription {
	out := make([]*Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s)
	}
	sortByID(out)
	return out
}

func sortByID(subs []*Subscription) {
	slices.SortFunc(subs, func(a, b *Subscription) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
}
