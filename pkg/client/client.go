package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clasp-protocol/clasp-go/pkg/connection"
	"github.com/clasp-protocol/clasp-go/pkg/log"
	"github.com/clasp-protocol/clasp-go/pkg/metrics"
	"github.com/clasp-protocol/clasp-go/pkg/pending"
	"github.com/clasp-protocol/clasp-go/pkg/subscription"
	"github.com/clasp-protocol/clasp-go/pkg/timesync"
	"github.com/clasp-protocol/clasp-go/pkg/transport"
	"github.com/clasp-protocol/clasp-go/pkg/wire"
)

type dialFunc func(ctx context.Context, url string, config transport.Config) (transport.FrameConn, error)

func dialWebSocket(ctx context.Context, url string, config transport.Config) (transport.FrameConn, error) {
	return transport.Dial(ctx, url, config)
}

// Client is a CLASP session with a router. It is safe for concurrent use.
type Client struct {
	config     Config
	codec      wire.Codec
	logger     *slog.Logger
	plog       log.Logger
	metrics    *metrics.Metrics
	clock      *timesync.Clock
	supervisor *connection.Supervisor
	dial       dialFunc

	// life is cancelled by Close and aborts in-flight handshakes.
	life       context.Context
	lifeCancel context.CancelFunc

	// connMu serializes Connect, reconnect attempts and Close.
	connMu sync.Mutex

	mu          sync.Mutex
	state       connection.State
	sess        *session
	sessionID   string
	routerName  string
	cache       map[string]wire.Value
	registry    *subscription.Registry
	pending     *pending.Table
	signals     map[string]wire.SignalDefinition
	queries     []*signalQuery
	lastErr     error
	reconnected *session

	onConnect    handlers[func()]
	onDisconnect handlers[func(reason error)]
	onError      handlers[func(err error)]
}

// session is one established connection and the goroutines serving it.
type session struct {
	id     string
	conn   transport.FrameConn
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	// receiver is the goroutine id of the receive loop, which runs every
	// subscription handler.
	receiver atomic.Uint64
}

// guard runs fn unless the session is cancelled.
func (s *session) guard(fn func()) {
	if s.ctx.Err() != nil {
		return
	}
	fn()
}

// onReceiver reports whether the caller is the session's receive loop.
func (s *session) onReceiver() bool {
	return s.receiver.Load() == goroutineID()
}

// New creates a disconnected client.
func New(config Config) (*Client, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	enc, err := wire.EncodingByName(config.Encoding)
	if err != nil {
		return nil, err
	}

	life, cancel := context.WithCancel(context.Background())
	c := &Client{
		config:     config,
		codec:      wire.Codec{Encoding: enc},
		logger:     config.Logger.With("component", "clasp-client", "url", config.URL),
		plog:       log.OrNoop(config.ProtocolLogger),
		metrics:    config.Metrics,
		clock:      timesync.New(),
		dial:       dialWebSocket,
		life:       life,
		lifeCancel: cancel,
		state:      connection.StateDisconnected,
		cache:      make(map[string]wire.Value),
		registry:   subscription.NewRegistry(),
		pending:    pending.New(),
		signals:    make(map[string]wire.SignalDefinition),
	}

	c.supervisor = connection.NewSupervisor(c.reconnect, connection.SupervisorConfig{
		Backoff:     config.ReconnectBackoff,
		MaxAttempts: config.MaxReconnectAttempts,
	})
	c.supervisor.SetEnabled(config.Reconnect)
	c.supervisor.OnAttempt(func(attempt int, delay time.Duration) {
		c.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
		c.logEvent(log.Event{
			Layer:    log.LayerSession,
			Category: log.CategoryState,
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityReconnect,
				NewState: "WAITING",
				Reason:   fmt.Sprintf("attempt %d in %v", attempt, delay),
			},
		})
	})
	c.supervisor.OnFailure(func(attempt int, err error) {
		c.logger.Warn("reconnect failed", "attempt", attempt, "error", err)
		c.metrics.Reconnect("failure")
	})
	c.supervisor.OnReconnected(func(attempt int) {
		c.mu.Lock()
		s := c.reconnected
		c.reconnected = nil
		c.mu.Unlock()

		c.logger.Info("reconnected", "attempt", attempt)
		c.metrics.Reconnect("success")
		if s != nil {
			c.fireConnect()
		}
	})
	c.supervisor.OnGiveUp(func(err error) {
		c.logger.Error("giving up reconnecting", "error", err)
		c.metrics.Reconnect("gave_up")
		c.setLastError(err)
		c.reportError(err)
	})

	return c, nil
}

// Connect dials the router and performs the HELLO/WELCOME handshake.
// It returns ErrAlreadyConnected if a session is up and ErrClosed after
// Close. Dial and handshake failures are returned as *ConnectionError.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.life, cancel)
	defer stop()

	if err := c.connect(ctx); err != nil {
		return err
	}
	c.supervisor.SetEnabled(c.config.Reconnect)
	c.fireConnect()
	return nil
}

func (c *Client) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	switch state {
	case connection.StateClosed:
		return ErrClosed
	case connection.StateConnected:
		return ErrAlreadyConnected
	}
	_, err := c.establish(ctx)
	return err
}

// reconnect is the supervisor's connect function.
func (c *Client) reconnect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	switch state {
	case connection.StateClosed:
		return ErrClosed
	case connection.StateConnected:
		// Someone called Connect while the cycle was waiting.
		return nil
	}

	s, err := c.establish(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.reconnected = s
	c.mu.Unlock()
	return nil
}

// Close disables reconnection, ends the session and releases the
// transport. It waits for the receive loop, so after Close returns no
// handler is running and the cache no longer changes. Close is idempotent
// and may be called from a handler.
func (c *Client) Close() error {
	c.lifeCancel()
	c.supervisor.Close()

	c.connMu.Lock()
	c.mu.Lock()
	if c.state == connection.StateClosed {
		c.mu.Unlock()
		c.connMu.Unlock()
		return nil
	}
	prev := c.state
	c.state = connection.StateClosed
	s := c.sess
	c.sess = nil
	c.sessionID = ""
	queries := c.queries
	c.queries = nil
	outstanding := c.pending.Addresses()
	c.mu.Unlock()
	// Connect and reconnect see StateClosed from here on.
	c.connMu.Unlock()

	failQueries(queries, ErrClosed)
	if len(outstanding) > 0 {
		// Gets are left to their own timeout or context.
		c.logger.Debug("closing with reads outstanding", "addresses", outstanding)
	}
	c.logState(prev, connection.StateClosed, "closed by caller")
	if s == nil {
		return nil
	}

	s.cancel()
	s.conn.Interrupt()
	// A handler calling Close runs on the receive loop and must not wait
	// for itself. The loop exits once the handler returns.
	if !s.onReceiver() {
		_ = s.group.Wait()
	}
	c.metrics.SetConnected(false)
	return s.conn.Close()
}

// State returns the current connectivity state.
func (c *Client) State() connection.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether a session is established.
func (c *Client) IsConnected() bool {
	return c.State() == connection.StateConnected
}

// SessionID returns the router-assigned session id, or "" when not
// connected.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// RouterName returns the router name from the last WELCOME.
func (c *Client) RouterName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.routerName
}

// LastError returns the most recent router ERROR or session failure.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Time returns the estimated router time in microseconds.
func (c *Client) Time() uint64 {
	return c.clock.Now()
}

// Clock exposes the session clock for offset and RTT inspection.
func (c *Client) Clock() *timesync.Clock {
	return c.clock
}

// OnConnect registers a handler invoked after each successful connect or
// reconnect. The returned func removes it.
func (c *Client) OnConnect(fn func()) func() {
	return c.onConnect.add(fn)
}

// OnDisconnect registers a handler invoked with the reason when a session
// is lost.
func (c *Client) OnDisconnect(fn func(reason error)) func() {
	return c.onDisconnect.add(fn)
}

// OnError registers a handler for router errors, handler panics and
// session failures.
func (c *Client) OnError(fn func(err error)) func() {
	return c.onError.add(fn)
}

func (c *Client) fireConnect() {
	c.onConnect.each(func(fn func()) { fn() }, func(r any) {
		c.metrics.CallbackError()
		c.reportError(&CallbackError{Handler: "connect", Panic: r})
	})
}

func (c *Client) fireDisconnect(reason error) {
	c.onDisconnect.each(func(fn func(error)) { fn(reason) }, func(r any) {
		c.metrics.CallbackError()
		c.reportError(&CallbackError{Handler: "disconnect", Panic: r})
	})
}

// reportError passes err to the error handlers. Panics in error handlers
// are logged only.
func (c *Client) reportError(err error) {
	c.onError.each(func(fn func(error)) { fn(err) }, func(r any) {
		c.metrics.CallbackError()
		c.logger.Error("error handler panicked", "panic", r, "error", err)
	})
}

func (c *Client) setLastError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

// setState moves to state unless the client is closed.
func (c *Client) setState(state connection.State, reason string) bool {
	c.mu.Lock()
	prev := c.state
	if prev == connection.StateClosed {
		c.mu.Unlock()
		return false
	}
	c.state = state
	c.mu.Unlock()

	if prev != state {
		c.logState(prev, state, reason)
	}
	return true
}
