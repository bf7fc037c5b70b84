package connection

// State is the session connectivity state.
type State uint8

const (
	// StateDisconnected indicates no active session.
	StateDisconnected State = iota

	// StateConnecting indicates the transport is being opened.
	StateConnecting

	// StateAwaitingWelcome indicates HELLO was sent and WELCOME is pending.
	StateAwaitingWelcome

	// StateConnected indicates an established session.
	StateConnected

	// StateClosed is terminal; the client was closed.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateAwaitingWelcome:
		return "AWAITING_WELCOME"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
