package subscription

import (
	"github.com/clasp-protocol/clasp-go/pkg/address"
	"github.com/clasp-protocol/clasp-go/pkg/wire"
)

// Handler receives value updates for matching addresses.
type Handler interface {
	HandleValue(value wire.Value, addr string)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(value wire.Value, addr string)

// HandleValue calls f.
func (f HandlerFunc) HandleValue(value wire.Value, addr string) {
	f(value, addr)
}

// Subscription is one registered pattern.
type Subscription struct {
	ID      uint32
	Pattern *address.Pattern
	Handler Handler

	// Types restricts delivery to these signal types. Empty means all.
	Types []wire.SignalType

	// Options are passed through to the router unchanged.
	Options *wire.SubscribeOptions
}

// Accepts reports whether an update of the given signal type is delivered.
func (s *Subscription) Accepts(signal wire.SignalType) bool {
	if len(s.Types) == 0 || signal == "" {
		return true
	}
	for _, t := range s.Types {
		if t == signal {
			return true
		}
	}
	return false
}

// Message returns the SUBSCRIBE for this subscription.
func (s *Subscription) Message() *wire.Subscribe {
	return &wire.Subscribe{
		ID:      s.ID,
		Pattern: s.Pattern.String(),
		Types:   s.Types,
		Options: s.Options,
	}
}

// Option configures a subscription.
type Option func(*Subscription)

func options(s *Subscription) *wire.SubscribeOptions {
	if s.Options == nil {
		s.Options = &wire.SubscribeOptions{}
	}
	return s.Options
}

// WithMaxRate asks the router to deliver at most hz updates per second.
func WithMaxRate(hz uint32) Option {
	return func(s *Subscription) { options(s).MaxRate = &hz }
}

// WithEpsilon asks the router to suppress changes smaller than eps.
func WithEpsilon(eps float64) Option {
	return func(s *Subscription) { options(s).Epsilon = &eps }
}

// WithHistory asks the router to replay the last n values.
func WithHistory(n uint32) Option {
	return func(s *Subscription) { options(s).History = &n }
}

// WithWindow sets the router-side aggregation window in milliseconds.
func WithWindow(ms uint32) Option {
	return func(s *Subscription) { options(s).Window = &ms }
}

// WithTypes restricts the subscription to the given signal types.
func WithTypes(types ...wire.SignalType) Option {
	return func(s *Subscription) { s.Types = append(s.Types, types...) }
}
