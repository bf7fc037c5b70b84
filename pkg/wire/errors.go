package wire

import (
	"errors"
	"fmt"
)

// Frame and payload errors. Each is returned wrapped in a *ProtocolError.
var (
	ErrShortFrame      = errors.New("frame shorter than header")
	ErrBadMagic        = errors.New("bad magic byte")
	ErrTruncated       = errors.New("frame truncated")
	ErrPayloadTooLarge = errors.New("payload exceeds 65535 bytes")
	ErrUnknownType     = errors.New("unknown message type")
	ErrMissingField    = errors.New("missing field")
	ErrFieldType       = errors.New("wrong field type")
)

// ProtocolError reports a malformed frame or payload.
type ProtocolError struct {
	// Type is the message type, when known.
	Type MessageType

	// Field is the offending payload key, when known.
	Field string

	Err error
}

func (e *ProtocolError) Error() string {
	switch {
	case e.Type != "" && e.Field != "":
		return fmt.Sprintf("protocol error: %s.%s: %v", e.Type, e.Field, e.Err)
	case e.Type != "":
		return fmt.Sprintf("protocol error: %s: %v", e.Type, e.Err)
	default:
		return fmt.Sprintf("protocol error: %v", e.Err)
	}
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func protocolErr(err error) *ProtocolError {
	return &ProtocolError{Err: err}
}
