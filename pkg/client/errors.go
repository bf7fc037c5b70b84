package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/clasp-protocol/clasp-go/pkg/wire"
)

// Client errors.
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrClosed           = errors.New("client closed")
	ErrTimeout          = errors.New("timed out")
	ErrEmptyBundle      = errors.New("empty bundle")
)

// ConnectionError reports a failed dial or handshake.
type ConnectionError struct {
	// Op is "dial", "handshake" or "receive".
	Op  string
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TimeoutError reports an operation that ran out of time. It matches
// ErrTimeout with errors.Is.
type TimeoutError struct {
	Op      string
	Address string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Address != "" {
		return fmt.Sprintf("%s %s: timed out after %v", e.Op, e.Address, e.Timeout)
	}
	return fmt.Sprintf("%s: timed out after %v", e.Op, e.Timeout)
}

// Is reports whether target is ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// CallbackError wraps a panic raised by a handler.
type CallbackError struct {
	// Handler names the handler kind ("subscription", "connect", ...).
	Handler string

	// SubscriptionID is set for subscription handlers.
	SubscriptionID uint32

	// Address is the dispatched address, if any.
	Address string

	// Panic is the recovered value.
	Panic any
}

func (e *CallbackError) Error() string {
	if e.Address != "" {
		return fmt.Sprintf("%s handler panicked on %s: %v", e.Handler, e.Address, e.Panic)
	}
	return fmt.Sprintf("%s handler panicked: %v", e.Handler, e.Panic)
}

// Unwrap returns the panic value if it is an error.
func (e *CallbackError) Unwrap() error {
	err, _ := e.Panic.(error)
	return err
}

// ServerError is an ERROR message received from the router.
type ServerError struct {
	Code          wire.ErrorCode
	Message       string
	Address       string
	CorrelationID *uint32
}

func (e *ServerError) Error() string {
	if e.Address != "" {
		return fmt.Sprintf("router error %d (%s) on %s: %s", e.Code, e.Code, e.Address, e.Message)
	}
	return fmt.Sprintf("router error %d (%s): %s", e.Code, e.Code, e.Message)
}

func newServerError(m *wire.ErrorMessage) *ServerError {
	return &ServerError{
		Code:          m.Code,
		Message:       m.Message,
		Address:       m.Address,
		CorrelationID: m.CorrelationID,
	}
}
