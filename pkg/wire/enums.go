package wire

// Protocol constants shared with routers.
const (
	// ProtocolVersion is the protocol version sent in HELLO.
	ProtocolVersion uint8 = 2

	// Subprotocol is the WebSocket subprotocol token negotiated on connect.
	Subprotocol = "clasp.v2"

	// DefaultPort is the default router WebSocket port.
	DefaultPort = 7330
)

// MessageType is the "type" tag of a payload map.
type MessageType string

const (
	TypeHello       MessageType = "HELLO"
	TypeWelcome     MessageType = "WELCOME"
	TypeAnnounce    MessageType = "ANNOUNCE"
	TypeSubscribe   MessageType = "SUBSCRIBE"
	TypeUnsubscribe MessageType = "UNSUBSCRIBE"
	TypePublish     MessageType = "PUBLISH"
	TypeSet         MessageType = "SET"
	TypeGet         MessageType = "GET"
	TypeSnapshot    MessageType = "SNAPSHOT"
	TypeBundle      MessageType = "BUNDLE"
	TypeSync        MessageType = "SYNC"
	TypePing        MessageType = "PING"
	TypePong        MessageType = "PONG"
	TypeAck         MessageType = "ACK"
	TypeError       MessageType = "ERROR"
	TypeQuery       MessageType = "QUERY"
	TypeResult      MessageType = "RESULT"
)

// String returns the tag.
func (t MessageType) String() string {
	return string(t)
}

// QoS is the delivery guarantee requested for a frame.
type QoS uint8

const (
	// QoSFire is best effort with no confirmation.
	QoSFire QoS = 0

	// QoSConfirm is at-least-once delivery.
	QoSConfirm QoS = 1

	// QoSCommit is exactly-once, ordered delivery.
	QoSCommit QoS = 2
)

// String returns the QoS name.
func (q QoS) String() string {
	switch q {
	case QoSFire:
		return "FIRE"
	case QoSConfirm:
		return "CONFIRM"
	case QoSCommit:
		return "COMMIT"
	default:
		return "UNKNOWN"
	}
}

// IsValid returns true if q is a defined QoS level.
func (q QoS) IsValid() bool {
	return q <= QoSCommit
}

// SignalType classifies what an address carries.
type SignalType string

const (
	SignalParam    SignalType = "param"
	SignalEvent    SignalType = "event"
	SignalStream   SignalType = "stream"
	SignalGesture  SignalType = "gesture"
	SignalTimeline SignalType = "timeline"
)

// IsValid returns true if s is a known signal type.
func (s SignalType) IsValid() bool {
	switch s {
	case SignalParam, SignalEvent, SignalStream, SignalGesture, SignalTimeline:
		return true
	default:
		return false
	}
}

// DefaultQoS returns the QoS a publish of this signal type is sent with.
func (s SignalType) DefaultQoS() QoS {
	switch s {
	case SignalParam, SignalEvent:
		return QoSConfirm
	case SignalTimeline:
		return QoSCommit
	default:
		return QoSFire
	}
}

// GesturePhase is the phase of a gesture publish.
type GesturePhase string

const (
	PhaseStart  GesturePhase = "start"
	PhaseMove   GesturePhase = "move"
	PhaseEnd    GesturePhase = "end"
	PhaseCancel GesturePhase = "cancel"
)

// ErrorCode is the numeric code carried in ERROR messages.
type ErrorCode uint16

const (
	// 100-199: protocol errors
	ErrorInvalidFrame       ErrorCode = 100
	ErrorInvalidMessage     ErrorCode = 101
	ErrorUnsupportedVersion ErrorCode = 102

	// 200-299: address errors
	ErrorInvalidAddress  ErrorCode = 200
	ErrorAddressNotFound ErrorCode = 201
	ErrorPatternError    ErrorCode = 202

	// 300-399: permission errors
	ErrorUnauthorized ErrorCode = 300
	ErrorForbidden    ErrorCode = 301
	ErrorTokenExpired ErrorCode = 302

	// 400-499: state errors
	ErrorRevisionConflict ErrorCode = 400
	ErrorLockHeld         ErrorCode = 401
	ErrorInvalidValue     ErrorCode = 402

	// 500-599: router errors
	ErrorInternal           ErrorCode = 500
	ErrorServiceUnavailable ErrorCode = 501
	ErrorTimeout            ErrorCode = 502
)

// String returns the error code name.
func (c ErrorCode) String() string {
	switch c {
	case ErrorInvalidFrame:
		return "INVALID_FRAME"
	case ErrorInvalidMessage:
		return "INVALID_MESSAGE"
	case ErrorUnsupportedVersion:
		return "UNSUPPORTED_VERSION"
	case ErrorInvalidAddress:
		return "INVALID_ADDRESS"
	case ErrorAddressNotFound:
		return "ADDRESS_NOT_FOUND"
	case ErrorPatternError:
		return "PATTERN_ERROR"
	case ErrorUnauthorized:
		return "UNAUTHORIZED"
	case ErrorForbidden:
		return "FORBIDDEN"
	case ErrorTokenExpired:
		return "TOKEN_EXPIRED"
	case ErrorRevisionConflict:
		return "REVISION_CONFLICT"
	case ErrorLockHeld:
		return "LOCK_HELD"
	case ErrorInvalidValue:
		return "INVALID_VALUE"
	case ErrorInternal:
		return "INTERNAL_ERROR"
	case ErrorServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	case ErrorTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}
