package client

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clasp-protocol/clasp-go/pkg/connection"
	"github.com/clasp-protocol/clasp-go/pkg/log"
	"github.com/clasp-protocol/clasp-go/pkg/subscription"
	"github.com/clasp-protocol/clasp-go/pkg/transport"
	"github.com/clasp-protocol/clasp-go/pkg/wire"
)

func (c *Client) transportConfig() transport.Config {
	return transport.Config{
		Subprotocol: wire.Subprotocol,
		KeepAlive:   c.config.KeepAlive,
		Header:      c.config.Header,
		TLSConfig:   c.config.TLSConfig,
		Logger:      c.config.ProtocolLogger,
	}
}

// establish dials, runs the handshake and starts a session. connMu must
// be held.
func (c *Client) establish(ctx context.Context) (*session, error) {
	if !c.setState(connection.StateConnecting, "") {
		return nil, ErrClosed
	}

	conn, err := c.dial(ctx, c.config.URL, c.transportConfig())
	if err != nil {
		c.setState(connection.StateDisconnected, err.Error())
		return nil, &ConnectionError{Op: "dial", URL: c.config.URL, Err: err}
	}

	c.setState(connection.StateAwaitingWelcome, "")
	welcome, err := c.handshake(ctx, conn)
	if err != nil {
		_ = conn.Close()
		c.setState(connection.StateDisconnected, err.Error())
		return nil, &ConnectionError{Op: "handshake", URL: c.config.URL, Err: err}
	}

	s := c.startSession(conn, welcome)
	if s == nil {
		_ = conn.Close()
		return nil, ErrClosed
	}
	return s, nil
}

// handshake sends HELLO and waits for WELCOME. Other messages are
// ignored; an ERROR fails the handshake.
func (c *Client) handshake(ctx context.Context, conn transport.FrameConn) (*wire.Welcome, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.HandshakeTimeout)
	defer cancel()

	hello := &wire.Hello{
		Version:  wire.ProtocolVersion,
		Name:     c.config.Name,
		Features: c.config.Features,
		Token:    c.config.Token,
	}
	if err := c.sendOn(ctx, conn, hello); err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, conn.Interrupt)
	welcome, err := c.awaitWelcome(conn)
	if !stop() && err == nil {
		// The read deadline was already forced; the connection is spent.
		err = ctx.Err()
	}
	if err != nil && ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Op: "handshake", Timeout: c.config.HandshakeTimeout}
		}
		return nil, ctx.Err()
	}
	return welcome, err
}

func (c *Client) awaitWelcome(conn transport.FrameConn) (*wire.Welcome, error) {
	for {
		data, err := conn.Receive()
		if err != nil {
			return nil, err
		}
		msg, f, err := c.codec.DecodeWith(data)
		if err != nil {
			c.logger.Debug("handshake: dropping undecodable frame", "error", err)
			continue
		}
		c.logMessage(log.DirectionIn, msg, f.Flags.QoS())

		switch m := msg.(type) {
		case *wire.Welcome:
			return m, nil
		case *wire.ErrorMessage:
			se := newServerError(m)
			c.setLastError(se)
			return nil, se
		default:
			c.logger.Debug("handshake: ignoring message", "type", msg.Type())
		}
	}
}

// startSession installs the session, re-sends subscriptions and starts the
// session goroutines. It returns nil if the client was closed meanwhile.
func (c *Client) startSession(conn transport.FrameConn, welcome *wire.Welcome) *session {
	c.clock.Seed(welcome.Time)

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	s := &session{
		id:     welcome.Session,
		conn:   conn,
		ctx:    gctx,
		cancel: cancel,
		group:  group,
	}

	c.mu.Lock()
	if c.state == connection.StateClosed {
		c.mu.Unlock()
		cancel()
		return nil
	}
	prev := c.state
	c.state = connection.StateConnected
	c.sess = s
	c.sessionID = welcome.Session
	c.routerName = welcome.Name
	subs := c.registry.All()
	c.mu.Unlock()

	c.logState(prev, connection.StateConnected, "welcome from "+welcome.Name)
	c.logger.Info("connected",
		"session", welcome.Session,
		"router", welcome.Name,
		"offset_us", c.clock.Offset())
	c.metrics.SetConnected(true)
	c.metrics.SetClock(c.clock.Offset(), c.clock.RTT())

	for _, sub := range subs {
		if err := c.sendOn(s.ctx, conn, sub.Message()); err != nil {
			c.logger.Warn("resubscribe failed", "id", sub.ID, "pattern", sub.Pattern.String(), "error", err)
		}
	}

	group.Go(func() error { return c.receiveLoop(s) })
	if c.config.SyncInterval > 0 {
		group.Go(func() error { return c.syncLoop(s) })
	}
	go c.watch(s)

	return s
}

// receiveLoop reads and handles frames until the transport fails, a frame
// does not decode, or the session is cancelled.
func (c *Client) receiveLoop(s *session) error {
	s.receiver.Store(goroutineID())
	for {
		data, err := s.conn.Receive()
		if s.ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return &ConnectionError{Op: "receive", URL: c.config.URL, Err: err}
		}

		msg, f, err := c.codec.DecodeWith(data)
		if err != nil {
			c.logDecodeError(data, err)
			return err
		}
		c.metrics.FrameReceived(msg.Type().String(), len(data))
		c.logMessage(log.DirectionIn, msg, f.Flags.QoS())
		c.handle(s, msg)
	}
}

// syncLoop sends SYNC requests every SyncInterval. Replies are applied by
// the receive loop.
func (c *Client) syncLoop(s *session) error {
	ticker := time.NewTicker(c.config.SyncInterval)
	defer ticker.Stop()

	for {
		// Skip the tick while a recent sample exists.
		if c.clock.NeedsSync(c.config.SyncInterval / 2) {
			if err := c.sendOn(s.ctx, s.conn, &wire.Sync{T1: c.clock.Local()}); err != nil && s.ctx.Err() == nil {
				c.logger.Debug("sync request failed", "error", err)
			}
		}
		select {
		case <-s.ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// watch waits for the session goroutines and handles an unexpected end.
func (c *Client) watch(s *session) {
	err := s.group.Wait()
	s.cancel()

	c.mu.Lock()
	if c.sess != s {
		// Closed by Close.
		c.mu.Unlock()
		return
	}
	c.sess = nil
	c.sessionID = ""
	c.state = connection.StateDisconnected
	c.lastErr = err
	queries := c.queries
	c.queries = nil
	c.mu.Unlock()

	// RESULTs for these can only arrive on the lost connection.
	failQueries(queries, ErrNotConnected)

	_ = s.conn.Close()
	c.metrics.SetConnected(false)
	c.logState(connection.StateConnected, connection.StateDisconnected, errString(err))

	var pe *wire.ProtocolError
	if errors.As(err, &pe) {
		c.logger.Error("session aborted on malformed frame", "error", err)
		c.reportError(err)
		c.fireDisconnect(err)
		return
	}

	c.logger.Warn("connection lost", "error", err)
	c.fireDisconnect(err)
	c.supervisor.Trigger()
}

// handle routes one inbound message.
func (c *Client) handle(s *session, msg wire.Message) {
	switch m := msg.(type) {
	case *wire.Set:
		c.applyValue(s, m.Address, m.Value, wire.SignalParam, true, false)

	case *wire.Snapshot:
		for _, p := range m.Params {
			c.applyValue(s, p.Address, p.Value, wire.SignalParam, true, true)
		}

	case *wire.Publish:
		c.applyValue(s, m.Address, m.PublishedValue(), m.Signal, false, false)

	case *wire.Bundle:
		for _, inner := range m.Messages {
			c.handle(s, inner)
		}

	case *wire.Ping:
		if err := c.sendOn(s.ctx, s.conn, &wire.Pong{}); err != nil && s.ctx.Err() == nil {
			c.logger.Debug("pong failed", "error", err)
		}

	case *wire.Sync:
		if m.T2 != nil && m.T3 != nil && c.clock.ProcessSync(m.T1, *m.T2, *m.T3) {
			c.metrics.SetClock(c.clock.Offset(), c.clock.RTT())
		}

	case *wire.ErrorMessage:
		se := newServerError(m)
		c.setLastError(se)
		c.metrics.ServerError(m.Code.String())
		c.logger.Warn("router error", "code", uint16(m.Code), "message", m.Message, "address", m.Address)
		s.guard(func() { c.reportError(se) })

	case *wire.Announce:
		c.addSignals(m.Signals)

	case *wire.Result:
		c.addSignals(m.Signals)
		c.resolveQuery(m.Signals)

	case *wire.Ack:
		c.logger.Debug("ack", "address", m.Address)

	case *wire.Pong:

	default:
		c.logger.Debug("ignoring message", "type", msg.Type())
	}
}

// applyValue updates the cache, resolves waiters and dispatches to
// matching subscriptions.
func (c *Client) applyValue(s *session, addr string, v wire.Value, signal wire.SignalType, cache, resolve bool) {
	c.mu.Lock()
	if s.ctx.Err() != nil || c.sess != s {
		c.mu.Unlock()
		return
	}
	if cache {
		c.cache[addr] = v
	}
	if resolve {
		c.pending.Resolve(addr, v)
	}
	subs := c.registry.Match(addr, signal)
	c.mu.Unlock()

	if len(subs) == 0 {
		return
	}
	s.guard(func() { c.dispatch(s, subs, addr, v) })
}

func (c *Client) dispatch(s *session, subs []*subscription.Subscription, addr string, v wire.Value) {
	n := 0
	for _, sub := range subs {
		if s.ctx.Err() != nil {
			break
		}
		// Skip subscriptions removed by an earlier handler.
		c.mu.Lock()
		_, live := c.registry.Get(sub.ID)
		c.mu.Unlock()
		if !live {
			continue
		}
		c.invoke(sub, addr, v)
		n++
	}
	c.metrics.Dispatched(n)
}

func (c *Client) invoke(sub *subscription.Subscription, addr string, v wire.Value) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.CallbackError()
			c.logger.Warn("subscription handler panicked", "id", sub.ID, "address", addr, "panic", r)
			c.reportError(&CallbackError{
				Handler:        "subscription",
				SubscriptionID: sub.ID,
				Address:        addr,
				Panic:          r,
			})
		}
	}()
	sub.Handler.HandleValue(v, addr)
}

// current returns the live session.
func (c *Client) current() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == connection.StateClosed {
		return nil, ErrClosed
	}
	if c.sess == nil {
		return nil, ErrNotConnected
	}
	return c.sess, nil
}

// send frames msg with its default QoS on the live session.
func (c *Client) send(ctx context.Context, msg wire.Message) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	return c.sendOn(ctx, s.conn, msg)
}

func (c *Client) sendOn(ctx context.Context, conn transport.FrameConn, msg wire.Message) error {
	return c.sendFrame(ctx, conn, msg, wire.DefaultQoS(msg), nil)
}

func (c *Client) sendFrame(ctx context.Context, conn transport.FrameConn, msg wire.Message, qos wire.QoS, ts *uint64) error {
	data, err := c.codec.EncodeWith(msg, wire.Flags(0).WithQoS(qos), ts)
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, data); err != nil {
		return err
	}
	c.metrics.FrameSent(msg.Type().String(), len(data))
	c.logMessage(log.DirectionOut, msg, qos)
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
