package log

import (
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the transport connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the router URL.
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// SessionID is the router-assigned session (populated after WELCOME).
	SessionID string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"` // Wire layer (decoded)
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Connection/session state
	ControlMsg  *ControlMsgEvent  `cbor:"13,keyasint,omitempty"` // WebSocket ping/pong/close
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the WebSocket layer (raw frames).
	LayerTransport Layer = 0
	// LayerWire is the message layer (decoded payload).
	LayerWire Layer = 1
	// LayerSession is the client session layer.
	LayerSession Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a CLASP message.
	CategoryMessage Category = 0
	// CategoryControl indicates a WebSocket control frame.
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures a raw CLASP frame at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes (including header).
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MaxFrameCapture is the number of frame bytes kept in a FrameEvent.
const MaxFrameCapture = 512

// NewFrameEvent captures frame, truncating to MaxFrameCapture bytes.
func NewFrameEvent(frame []byte) *FrameEvent {
	fe := &FrameEvent{Size: len(frame)}
	data := frame
	if len(data) > MaxFrameCapture {
		data = data[:MaxFrameCapture]
		fe.Truncated = true
	}
	fe.Data = append([]byte(nil), data...)
	return fe
}

// MessageEvent captures a decoded CLASP message at the wire layer.
type MessageEvent struct {
	// Type is the message tag (SET, PUBLISH, ...).
	Type string `cbor:"1,keyasint"`

	// Address is the target address, when the message has one.
	Address string `cbor:"2,keyasint,omitempty"`

	// SubscriptionID for SUBSCRIBE and UNSUBSCRIBE.
	SubscriptionID *uint32 `cbor:"3,keyasint,omitempty"`

	// QoS from the frame flags.
	QoS uint8 `cbor:"4,keyasint,omitempty"`

	// Payload is the decoded payload map.
	Payload any `cbor:"5,keyasint,omitempty"`

	// Latency is the time a point read waited for its answer.
	Latency *time.Duration `cbor:"6,keyasint,omitempty"`
}

// StateChangeEvent captures connection and session lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a transport connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntitySession indicates a session state change.
	StateEntitySession StateEntity = 1
	// StateEntityReconnect indicates reconnect supervisor activity.
	StateEntityReconnect StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntitySession:
		return "SESSION"
	case StateEntityReconnect:
		return "RECONNECT"
	default:
		return "UNKNOWN"
	}
}

// ControlMsgEvent captures WebSocket control frames.
type ControlMsgEvent struct {
	// Type of control frame.
	Type ControlMsgType `cbor:"1,keyasint"`

	// CloseCode is the WebSocket close code for close frames.
	CloseCode *int `cbor:"2,keyasint,omitempty"`
}

// ControlMsgType indicates the type of control frame.
type ControlMsgType uint8

const (
	// ControlMsgPing indicates a ping frame.
	ControlMsgPing ControlMsgType = 0
	// ControlMsgPong indicates a pong frame.
	ControlMsgPong ControlMsgType = 1
	// ControlMsgClose indicates a close frame.
	ControlMsgClose ControlMsgType = 2
)

// String returns the control message type name.
func (c ControlMsgType) String() string {
	switch c {
	case ControlMsgPing:
		return "PING"
	case ControlMsgPong:
		return "PONG"
	case ControlMsgClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the router error code (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
