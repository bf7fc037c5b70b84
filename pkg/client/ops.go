package client

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/clasp-protocol/clasp-go/pkg/address"
	"github.com/clasp-protocol/clasp-go/pkg/connection"
	"github.com/clasp-protocol/clasp-go/pkg/pending"
	"github.com/clasp-protocol/clasp-go/pkg/subscription"
	"github.com/clasp-protocol/clasp-go/pkg/wire"
)

// Unsubscribe removes a subscription. Calling it more than once is a
// no-op.
type Unsubscribe func()

// Subscribe registers h for addresses matching pattern and sends
// SUBSCRIBE if connected. While disconnected the subscription is kept and
// sent on the next successful connect; every subscription is re-sent after
// a reconnect.
func (c *Client) Subscribe(pattern string, h subscription.Handler, opts ...subscription.Option) (Unsubscribe, error) {
	c.mu.Lock()
	if c.state == connection.StateClosed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	sub, err := c.registry.Add(pattern, h, opts...)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	s := c.sess
	n := c.registry.Len()
	c.mu.Unlock()

	c.metrics.SetSubscriptions(n)
	if s != nil {
		if err := c.sendOn(s.ctx, s.conn, sub.Message()); err != nil {
			c.logger.Warn("subscribe not sent", "id", sub.ID, "pattern", pattern, "error", err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(sub.ID) })
	}, nil
}

// On is Subscribe with a plain function.
func (c *Client) On(pattern string, fn func(value wire.Value, addr string), opts ...subscription.Option) (Unsubscribe, error) {
	return c.Subscribe(pattern, subscription.HandlerFunc(fn), opts...)
}

func (c *Client) unsubscribe(id uint32) {
	c.mu.Lock()
	removed := c.registry.Remove(id)
	s := c.sess
	n := c.registry.Len()
	c.mu.Unlock()

	if !removed {
		return
	}
	c.metrics.SetSubscriptions(n)
	if s != nil {
		if err := c.sendOn(s.ctx, s.conn, &wire.Unsubscribe{ID: id}); err != nil {
			c.logger.Debug("unsubscribe not sent", "id", id, "error", err)
		}
	}
}

// Set writes a parameter value.
func (c *Client) Set(ctx context.Context, addr string, value wire.Value) error {
	return c.set(ctx, &wire.Set{Address: addr, Value: value})
}

// SetLocked writes a value and asks the router to lock the address for
// this session.
func (c *Client) SetLocked(ctx context.Context, addr string, value wire.Value) error {
	return c.set(ctx, &wire.Set{Address: addr, Value: value, Lock: true})
}

// SetUnlocked writes a value and releases this session's lock.
func (c *Client) SetUnlocked(ctx context.Context, addr string, value wire.Value) error {
	return c.set(ctx, &wire.Set{Address: addr, Value: value, Unlock: true})
}

func (c *Client) set(ctx context.Context, m *wire.Set) error {
	if err := address.Validate(m.Address); err != nil {
		return err
	}
	return c.send(ctx, m)
}

// Get returns the value at addr. A cached value is returned without a
// round trip. Otherwise GET is sent and Get waits for a SNAPSHOT entry for
// addr, Config.GetTimeout (a *TimeoutError) or ctx, whichever comes
// first.
func (c *Client) Get(ctx context.Context, addr string) (wire.Value, error) {
	if err := address.Validate(addr); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if v, ok := c.cache[addr]; ok {
		c.mu.Unlock()
		return v, nil
	}
	s := c.sess
	closed := c.state == connection.StateClosed
	if closed || s == nil {
		c.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}
		return nil, ErrNotConnected
	}
	w := c.pending.Add(addr)
	waiting := c.pending.Waiting(addr)
	c.mu.Unlock()
	c.logger.Debug("get", "address", addr, "waiters", waiting)

	start := time.Now()
	if err := c.sendOn(ctx, s.conn, &wire.Get{Address: addr}); err != nil {
		c.removeWaiter(w)
		return nil, err
	}

	timer := time.NewTimer(c.config.GetTimeout)
	defer timer.Stop()

	select {
	case v := <-w.Done():
		c.metrics.GetCompleted(time.Since(start))
		return v, nil
	case <-timer.C:
		if !c.removeWaiter(w) {
			return <-w.Done(), nil
		}
		c.metrics.GetTimedOut()
		return nil, &TimeoutError{Op: "get", Address: addr, Timeout: c.config.GetTimeout}
	case <-ctx.Done():
		if !c.removeWaiter(w) {
			return <-w.Done(), nil
		}
		return nil, ctx.Err()
	}
}

// removeWaiter reports false if w was already resolved.
func (c *Client) removeWaiter(w *pending.Waiter) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.Remove(w)
}

// Cached returns the last known value at addr.
func (c *Client) Cached(addr string) (wire.Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.cache[addr]
	return v, ok
}

// Emit publishes an event stamped with router time.
func (c *Client) Emit(ctx context.Context, addr string, payload wire.Value) error {
	if err := address.Validate(addr); err != nil {
		return err
	}
	ts := c.clock.Now()
	return c.send(ctx, &wire.Publish{Address: addr, Signal: wire.SignalEvent, Payload: payload, Timestamp: &ts})
}

// Stream publishes a stream sample stamped with router time.
func (c *Client) Stream(ctx context.Context, addr string, value wire.Value) error {
	if err := address.Validate(addr); err != nil {
		return err
	}
	ts := c.clock.Now()
	return c.send(ctx, &wire.Publish{Address: addr, Signal: wire.SignalStream, Value: value, Timestamp: &ts})
}

// Gesture publishes one phase of gesture id.
func (c *Client) Gesture(ctx context.Context, addr string, id uint32, phase wire.GesturePhase, value wire.Value) error {
	if err := address.Validate(addr); err != nil {
		return err
	}
	ts := c.clock.Now()
	return c.send(ctx, &wire.Publish{
		Address:   addr,
		Signal:    wire.SignalGesture,
		ID:        &id,
		Phase:     phase,
		Value:     value,
		Timestamp: &ts,
	})
}

// Bundle sends messages as one BUNDLE for immediate application.
func (c *Client) Bundle(ctx context.Context, messages ...wire.Message) error {
	return c.bundle(ctx, nil, messages)
}

// BundleAt sends a BUNDLE to be applied at router time at (microseconds).
func (c *Client) BundleAt(ctx context.Context, at uint64, messages ...wire.Message) error {
	return c.bundle(ctx, &at, messages)
}

func (c *Client) bundle(ctx context.Context, at *uint64, messages []wire.Message) error {
	if len(messages) == 0 {
		return ErrEmptyBundle
	}
	for _, m := range messages {
		if m == nil {
			return fmt.Errorf("%w: nil message", ErrEmptyBundle)
		}
	}
	return c.send(ctx, &wire.Bundle{Timestamp: at, Messages: messages})
}

// Signals returns known signal definitions matching pattern, sorted by
// address. Definitions come from ANNOUNCE and RESULT messages.
func (c *Client) Signals(pattern string) ([]wire.SignalDefinition, error) {
	p, err := address.Compile(pattern)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	var out []wire.SignalDefinition
	for addr, def := range c.signals {
		if p.Match(addr) {
			out = append(out, def)
		}
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

// QuerySignals asks the router for signal definitions matching pattern.
// Replies are matched to queries in order. A query outstanding when the
// session is lost fails with ErrNotConnected.
func (c *Client) QuerySignals(ctx context.Context, pattern string) ([]wire.SignalDefinition, error) {
	if _, err := address.Compile(pattern); err != nil {
		return nil, err
	}
	s, err := c.current()
	if err != nil {
		return nil, err
	}

	q := &signalQuery{result: make(chan []wire.SignalDefinition, 1)}
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.queries = append(c.queries, q)
	c.mu.Unlock()

	if err := c.sendOn(ctx, s.conn, &wire.Query{Pattern: pattern}); err != nil {
		c.dropQuery(q)
		return nil, err
	}

	timer := time.NewTimer(c.config.GetTimeout)
	defer timer.Stop()

	select {
	case defs, ok := <-q.result:
		if !ok {
			return nil, q.err
		}
		return defs, nil
	case <-timer.C:
		c.dropQuery(q)
		return nil, &TimeoutError{Op: "query", Address: pattern, Timeout: c.config.GetTimeout}
	case <-ctx.Done():
		c.dropQuery(q)
		return nil, ctx.Err()
	}
}

// signalQuery is an outstanding QUERY. RESULT messages answer queries in
// the order they were sent.
type signalQuery struct {
	result chan []wire.SignalDefinition
	err    error
}

// failQueries ends every query in qs with err.
func failQueries(qs []*signalQuery, err error) {
	for _, q := range qs {
		q.err = err
		close(q.result)
	}
}

func (c *Client) addSignals(defs []wire.SignalDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range defs {
		c.signals[d.Address] = d
	}
}

func (c *Client) resolveQuery(defs []wire.SignalDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queries) == 0 {
		return
	}
	q := c.queries[0]
	c.queries = c.queries[1:]
	q.result <- defs
}

func (c *Client) dropQuery(q *signalQuery) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, other := range c.queries {
		if other == q {
			c.queries = append(c.queries[:i:i], c.queries[i+1:]...)
			return
		}
	}
}
