package transport

import "context"

// FrameConn is a connection that moves whole CLASP frames.
// Implemented by Conn.
type FrameConn interface {
	// ID returns the connection's unique identifier.
	ID() string

	// Send queues a frame and waits until it is written.
	Send(ctx context.Context, frame []byte) error

	// Receive blocks until the next frame arrives. Any error means the
	// connection is gone.
	Receive() ([]byte, error)

	// Interrupt unblocks a pending Receive.
	Interrupt()

	// Close closes the connection. It is safe to call more than once.
	Close() error
}

var _ FrameConn = (*Conn)(nil)
