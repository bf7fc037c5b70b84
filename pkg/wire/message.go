package wire

// Value is a parameter, event or stream value. After decoding it holds one
// of: nil, bool, int64, uint64, float64, string, []byte, []any or
// map[string]any.
type Value = any

// Message is implemented by every CLASP message.
type Message interface {
	// Type returns the "type" tag written to the payload map.
	Type() MessageType
}

// Hello opens a session.
type Hello struct {
	Version  uint8
	Name     string
	Features []string
	Token    string
}

// Welcome accepts a session. Time is the router clock in microseconds.
type Welcome struct {
	Version  uint8
	Session  string
	Name     string
	Features []string
	Time     uint64
	Token    string
}

// SignalMeta describes a signal for introspection.
type SignalMeta struct {
	Unit        string
	Range       []float64
	Default     Value
	Description string
}

// SignalDefinition is one entry of an ANNOUNCE or RESULT.
type SignalDefinition struct {
	Address  string
	Type     SignalType
	Datatype string
	Access   string
	Meta     *SignalMeta
}

// Announce advertises the signals of a namespace.
type Announce struct {
	Namespace string
	Signals   []SignalDefinition
	Meta      map[string]Value
}

// SubscribeOptions are delivery hints passed through to the router.
type SubscribeOptions struct {
	MaxRate *uint32
	Epsilon *float64
	History *uint32
	Window  *uint32
}

// Subscribe registers interest in a pattern.
type Subscribe struct {
	ID      uint32
	Pattern string
	Types   []SignalType
	Options *SubscribeOptions
}

// Unsubscribe cancels a subscription by id.
type Unsubscribe struct {
	ID uint32
}

// Publish carries events, stream samples and gestures. Events use Payload,
// streams use Value or Samples.
type Publish struct {
	Address   string
	Signal    SignalType
	Value     Value
	Payload   Value
	Samples   []float64
	Rate      *uint32
	ID        *uint32
	Phase     GesturePhase
	Timestamp *uint64
}

// Set writes a parameter value.
type Set struct {
	Address  string
	Value    Value
	Revision *uint64
	Lock     bool
	Unlock   bool
}

// Get requests the current value of a parameter.
type Get struct {
	Address string
}

// ParamValue is one SNAPSHOT entry.
type ParamValue struct {
	Address   string
	Value     Value
	Revision  uint64
	Writer    string
	Timestamp *uint64
}

// Snapshot carries current parameter state.
type Snapshot struct {
	Params []ParamValue
}

// Bundle groups messages for atomic application by the router, optionally
// scheduled at Timestamp (router time, microseconds).
type Bundle struct {
	Timestamp *uint64
	Messages  []Message
}

// Sync is a clock synchronization exchange. The client fills T1; the router
// echoes it with its receive (T2) and send (T3) times.
type Sync struct {
	T1 uint64
	T2 *uint64
	T3 *uint64
}

// Ping is a liveness probe.
type Ping struct{}

// Pong answers a Ping.
type Pong struct{}

// Ack confirms a write or lock operation.
type Ack struct {
	Address       string
	Revision      *uint64
	Locked        *bool
	Holder        string
	CorrelationID *uint32
}

// ErrorMessage reports a router-side failure.
type ErrorMessage struct {
	Code          ErrorCode
	Message       string
	Address       string
	CorrelationID *uint32
}

// Query asks the router for signal definitions matching Pattern.
type Query struct {
	Pattern string
}

// Result answers a Query.
type Result struct {
	Signals []SignalDefinition
}

func (*Hello) Type() MessageType        { return TypeHello }
func (*Welcome) Type() MessageType      { return TypeWelcome }
func (*Announce) Type() MessageType     { return TypeAnnounce }
func (*Subscribe) Type() MessageType    { return TypeSubscribe }
func (*Unsubscribe) Type() MessageType  { return TypeUnsubscribe }
func (*Publish) Type() MessageType      { return TypePublish }
func (*Set) Type() MessageType          { return TypeSet }
func (*Get) Type() MessageType          { return TypeGet }
func (*Snapshot) Type() MessageType     { return TypeSnapshot }
func (*Bundle) Type() MessageType       { return TypeBundle }
func (*Sync) Type() MessageType         { return TypeSync }
func (*Ping) Type() MessageType         { return TypePing }
func (*Pong) Type() MessageType         { return TypePong }
func (*Ack) Type() MessageType          { return TypeAck }
func (*ErrorMessage) Type() MessageType { return TypeError }
func (*Query) Type() MessageType        { return TypeQuery }
func (*Result) Type() MessageType       { return TypeResult }

// PublishedValue returns the value carried by a PUBLISH: Value if set,
// otherwise Payload, otherwise Samples.
func (p *Publish) PublishedValue() Value {
	if p.Value != nil {
		return p.Value
	}
	if p.Payload != nil {
		return p.Payload
	}
	if p.Samples != nil {
		return p.Samples
	}
	return nil
}

// Compile-time interface satisfaction checks.
var (
	_ Message = (*Hello)(nil)
	_ Message = (*Welcome)(nil)
	_ Message = (*Announce)(nil)
	_ Message = (*Subscribe)(nil)
	_ Message = (*Unsubscribe)(nil)
	_ Message = (*Publish)(nil)
	_ Message = (*Set)(nil)
	_ Message = (*Get)(nil)
	_ Message = (*Snapshot)(nil)
	_ Message = (*Bundle)(nil)
	_ Message = (*Sync)(nil)
	_ Message = (*Ping)(nil)
	_ Message = (*Pong)(nil)
	_ Message = (*Ack)(nil)
	_ Message = (*ErrorMessage)(nil)
	_ Message = (*Query)(nil)
	_ Message = (*Result)(nil)
)

// DefaultQoS returns the QoS msg is framed with when sent.
func DefaultQoS(msg Message) QoS {
	switch m := msg.(type) {
	case *Set, *Subscribe, *Unsubscribe:
		return QoSConfirm
	case *Publish:
		if m.Signal == "" {
			return QoSFire
		}
		return m.Signal.DefaultQoS()
	case *Bundle:
		return QoSCommit
	default:
		return QoSFire
	}
}
