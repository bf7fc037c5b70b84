package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Supervisor errors.
var (
	ErrSupervisorClosed = errors.New("supervisor closed")
	ErrAttemptsExceeded = errors.New("reconnect attempts exhausted")
)

// ConnectFunc re-establishes a session. It returns nil on success.
type ConnectFunc func(ctx context.Context) error

// SupervisorConfig configures reconnection.
type SupervisorConfig struct {
	Backoff BackoffConfig

	// MaxAttempts bounds one reconnect cycle. 0 means unbounded.
	MaxAttempts int

	// AttemptTimeout bounds a single ConnectFunc call. 0 means only the
	// supervisor's own lifetime bounds it.
	AttemptTimeout time.Duration
}

// Supervisor runs reconnect cycles. At most one cycle runs at a time.
type Supervisor struct {
	mu sync.Mutex

	connect     ConnectFunc
	backoff     *Backoff
	maxAttempts int
	timeout     time.Duration

	enabled bool
	running bool
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onAttempt     func(attempt int, delay time.Duration)
	onFailure     func(attempt int, err error)
	onReconnected func(attempt int)
	onGiveUp      func(err error)
}

// NewSupervisor creates an enabled supervisor.
func NewSupervisor(connect ConnectFunc, cfg SupervisorConfig) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		connect:     connect,
		backoff:     NewBackoffWithConfig(cfg.Backoff),
		maxAttempts: cfg.MaxAttempts,
		timeout:     cfg.AttemptTimeout,
		enabled:     true,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetEnabled turns reconnection on or off. Disabling does not stop a cycle
// that is waiting; it ends before its next attempt.
func (s *Supervisor) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// Enabled reports whether Trigger will start a cycle.
func (s *Supervisor) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled && !s.closed
}

// Running reports whether a cycle is in progress.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Trigger starts a reconnect cycle. It returns false if reconnection is
// disabled, the supervisor is closed, or a cycle is already running.
func (s *Supervisor) Trigger() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.enabled || s.running {
		return false
	}
	s.running = true
	s.wg.Add(1)
	go s.cycle()
	return true
}

// Close stops any running cycle and waits for it to exit.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.enabled = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// OnAttempt sets a callback invoked before each wait.
func (s *Supervisor) OnAttempt(fn func(attempt int, delay time.Duration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAttempt = fn
}

// OnFailure sets a callback for failed attempts.
func (s *Supervisor) OnFailure(fn func(attempt int, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFailure = fn
}

// OnReconnected sets a callback for a successful cycle. It runs after the
// cycle has finished, so it may call Close or Trigger.
func (s *Supervisor) OnReconnected(fn func(attempt int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReconnected = fn
}

// OnGiveUp sets a callback for a cycle that hit MaxAttempts.
func (s *Supervisor) OnGiveUp(fn func(err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onGiveUp = fn
}

type outcome struct {
	attempt int
	err     error
	ok      bool
}

func (s *Supervisor) cycle() {
	out := s.run()

	s.mu.Lock()
	s.running = false
	closed := s.closed
	onReconnected, onGiveUp := s.onReconnected, s.onGiveUp
	s.mu.Unlock()
	s.wg.Done()

	if closed {
		return
	}
	switch {
	case out.ok && onReconnected != nil:
		onReconnected(out.attempt)
	case out.err != nil && onGiveUp != nil:
		onGiveUp(out.err)
	}
}

func (s *Supervisor) run() outcome {
	for {
		delay := s.backoff.Next()
		attempt := s.backoff.Attempts()

		s.mu.Lock()
		onAttempt, onFailure := s.onAttempt, s.onFailure
		s.mu.Unlock()

		if onAttempt != nil {
			onAttempt(attempt, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return outcome{}
		case <-timer.C:
		}

		if !s.Enabled() {
			s.backoff.Reset()
			return outcome{}
		}

		err := s.attempt()
		if err == nil {
			s.backoff.Reset()
			return outcome{attempt: attempt, ok: true}
		}
		if s.ctx.Err() != nil {
			return outcome{}
		}
		if onFailure != nil {
			onFailure(attempt, err)
		}
		if s.maxAttempts > 0 && attempt >= s.maxAttempts {
			s.backoff.Reset()
			return outcome{attempt: attempt, err: fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExceeded, attempt, err)}
		}
	}
}

func (s *Supervisor) attempt() error {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.connect(ctx)
}
