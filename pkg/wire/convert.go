package wire

import (
	"math"
)

// ToMap converts a message into its named-key payload map.
func ToMap(msg Message) (map[string]any, error) {
	m := map[string]any{"type": string(msg.Type())}

	switch x := msg.(type) {
	case *Hello:
		m["version"] = x.Version
		m["name"] = x.Name
		m["features"] = stringsOrEmpty(x.Features)
		putString(m, "token", x.Token)

	case *Welcome:
		m["version"] = x.Version
		m["session"] = x.Session
		m["name"] = x.Name
		m["features"] = stringsOrEmpty(x.Features)
		m["time"] = x.Time
		putString(m, "token", x.Token)

	case *Announce:
		m["namespace"] = x.Namespace
		m["signals"] = signalsToList(x.Signals)
		if x.Meta != nil {
			m["meta"] = x.Meta
		}

	case *Subscribe:
		m["id"] = x.ID
		m["pattern"] = x.Pattern
		if len(x.Types) > 0 {
			types := make([]any, len(x.Types))
			for i, t := range x.Types {
				types[i] = string(t)
			}
			m["types"] = types
		}
		if x.Options != nil {
			opts := map[string]any{}
			putOpt(opts, "max_rate", x.Options.MaxRate)
			putOpt(opts, "epsilon", x.Options.Epsilon)
			putOpt(opts, "history", x.Options.History)
			putOpt(opts, "window", x.Options.Window)
			m["options"] = opts
		}

	case *Unsubscribe:
		m["id"] = x.ID

	case *Publish:
		m["address"] = x.Address
		putString(m, "signal", string(x.Signal))
		if x.Value != nil {
			m["value"] = x.Value
		}
		if x.Payload != nil {
			m["payload"] = x.Payload
		}
		if x.Samples != nil {
			m["samples"] = x.Samples
		}
		putOpt(m, "rate", x.Rate)
		putOpt(m, "id", x.ID)
		putString(m, "phase", string(x.Phase))
		putOpt(m, "timestamp", x.Timestamp)

	case *Set:
		m["address"] = x.Address
		m["value"] = x.Value
		putOpt(m, "revision", x.Revision)
		if x.Lock {
			m["lock"] = true
		}
		if x.Unlock {
			m["unlock"] = true
		}

	case *Get:
		m["address"] = x.Address

	case *Snapshot:
		params := make([]any, len(x.Params))
		for i, p := range x.Params {
			pm := map[string]any{
				"address":  p.Address,
				"value":    p.Value,
				"revision": p.Revision,
			}
			putString(pm, "writer", p.Writer)
			putOpt(pm, "timestamp", p.Timestamp)
			params[i] = pm
		}
		m["params"] = params

	case *Bundle:
		putOpt(m, "timestamp", x.Timestamp)
		msgs := make([]any, len(x.Messages))
		for i, inner := range x.Messages {
			im, err := ToMap(inner)
			if err != nil {
				return nil, err
			}
			msgs[i] = im
		}
		m["messages"] = msgs

	case *Sync:
		m["t1"] = x.T1
		putOpt(m, "t2", x.T2)
		putOpt(m, "t3", x.T3)

	case *Ping, *Pong:

	case *Ack:
		putString(m, "address", x.Address)
		putOpt(m, "revision", x.Revision)
		putOpt(m, "locked", x.Locked)
		putString(m, "holder", x.Holder)
		putOpt(m, "correlation_id", x.CorrelationID)

	case *ErrorMessage:
		m["code"] = uint16(x.Code)
		m["message"] = x.Message
		putString(m, "address", x.Address)
		putOpt(m, "correlation_id", x.CorrelationID)

	case *Query:
		m["pattern"] = x.Pattern

	case *Result:
		m["signals"] = signalsToList(x.Signals)

	default:
		return nil, &ProtocolError{Type: msg.Type(), Err: ErrUnknownType}
	}
	return m, nil
}

// FromMap converts a decoded payload map into a message.
func FromMap(m map[string]any) (Message, error) {
	tag, ok := m["type"].(string)
	if !ok {
		return nil, &ProtocolError{Field: "type", Err: ErrMissingField}
	}
	f := &fields{m: m, typ: MessageType(tag)}

	var msg Message
	switch f.typ {
	case TypeHello:
		msg = &Hello{
			Version:  f.uint8("version"),
			Name:     f.str("name", false),
			Features: f.strings("features"),
			Token:    f.str("token", false),
		}

	case TypeWelcome:
		msg = &Welcome{
			Version:  f.uint8("version"),
			Session:  f.str("session", true),
			Name:     f.str("name", false),
			Features: f.strings("features"),
			Time:     f.uint64("time", true),
			Token:    f.str("token", false),
		}

	case TypeAnnounce:
		msg = &Announce{
			Namespace: f.str("namespace", true),
			Signals:   f.signals("signals"),
			Meta:      f.mapping("meta"),
		}

	case TypeSubscribe:
		s := &Subscribe{
			ID:      f.uint32("id", true),
			Pattern: f.str("pattern", true),
		}
		for _, t := range f.strings("types") {
			s.Types = append(s.Types, SignalType(t))
		}
		if om := f.mapping("options"); om != nil {
			of := &fields{m: om, typ: f.typ}
			s.Options = &SubscribeOptions{
				MaxRate: of.optUint32("max_rate"),
				Epsilon: of.optFloat64("epsilon"),
				History: of.optUint32("history"),
				Window:  of.optUint32("window"),
			}
			f.merge(of)
		}
		msg = s

	case TypeUnsubscribe:
		msg = &Unsubscribe{ID: f.uint32("id", true)}

	case TypePublish:
		msg = &Publish{
			Address:   f.str("address", true),
			Signal:    SignalType(f.str("signal", false)),
			Value:     f.value("value"),
			Payload:   f.value("payload"),
			Samples:   f.floats("samples"),
			Rate:      f.optUint32("rate"),
			ID:        f.optUint32("id"),
			Phase:     GesturePhase(f.str("phase", false)),
			Timestamp: f.optUint64("timestamp"),
		}

	case TypeSet:
		msg = &Set{
			Address:  f.str("address", true),
			Value:    f.value("value"),
			Revision: f.optUint64("revision"),
			Lock:     f.boolean("lock"),
			Unlock:   f.boolean("unlock"),
		}

	case TypeGet:
		msg = &Get{Address: f.str("address", true)}

	case TypeSnapshot:
		s := &Snapshot{}
		for _, item := range f.list("params") {
			pm, ok := item.(map[string]any)
			if !ok {
				f.fail("params", ErrFieldType)
				break
			}
			pf := &fields{m: pm, typ: f.typ}
			s.Params = append(s.Params, ParamValue{
				Address:   pf.str("address", true),
				Value:     pf.value("value"),
				Revision:  pf.uint64("revision", false),
				Writer:    pf.str("writer", false),
				Timestamp: pf.optUint64("timestamp"),
			})
			f.merge(pf)
		}
		msg = s

	case TypeBundle:
		b := &Bundle{Timestamp: f.optUint64("timestamp")}
		for _, item := range f.list("messages") {
			im, ok := item.(map[string]any)
			if !ok {
				f.fail("messages", ErrFieldType)
				break
			}
			inner, err := FromMap(im)
			if err != nil {
				return nil, err
			}
			b.Messages = append(b.Messages, inner)
		}
		msg = b

	case TypeSync:
		msg = &Sync{
			T1: f.uint64("t1", true),
			T2: f.optUint64("t2"),
			T3: f.optUint64("t3"),
		}

	case TypePing:
		msg = &Ping{}

	case TypePong:
		msg = &Pong{}

	case TypeAck:
		msg = &Ack{
			Address:       f.str("address", false),
			Revision:      f.optUint64("revision"),
			Locked:        f.optBool("locked"),
			Holder:        f.str("holder", false),
			CorrelationID: f.optUint32("correlation_id"),
		}

	case TypeError:
		code := f.uint64("code", true)
		if code > math.MaxUint16 {
			f.fail("code", ErrFieldType)
		}
		msg = &ErrorMessage{
			Code:          ErrorCode(code),
			Message:       f.str("message", false),
			Address:       f.str("address", false),
			CorrelationID: f.optUint32("correlation_id"),
		}

	case TypeQuery:
		msg = &Query{Pattern: f.str("pattern", true)}

	case TypeResult:
		msg = &Result{Signals: f.signals("signals")}

	default:
		return nil, &ProtocolError{Type: f.typ, Err: ErrUnknownType}
	}

	if f.err != nil {
		return nil, f.err
	}
	return msg, nil
}

func putString(m map[string]any, key, s string) {
	if s != "" {
		m[key] = s
	}
}

func putOpt[T any](m map[string]any, key string, p *T) {
	if p != nil {
		m[key] = *p
	}
}

func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func signalsToList(defs []SignalDefinition) []any {
	out := make([]any, len(defs))
	for i, d := range defs {
		dm := map[string]any{
			"address": d.Address,
			"type":    string(d.Type),
		}
		putString(dm, "datatype", d.Datatype)
		putString(dm, "access", d.Access)
		if d.Meta != nil {
			meta := map[string]any{}
			putString(meta, "unit", d.Meta.Unit)
			if d.Meta.Range != nil {
				meta["range"] = d.Meta.Range
			}
			if d.Meta.Default != nil {
				meta["default"] = d.Meta.Default
			}
			putString(meta, "description", d.Meta.Description)
			dm["meta"] = meta
		}
		out[i] = dm
	}
	return out
}

// fields reads typed values out of a payload map. The first failure is
// kept in err and later reads return zero values.
type fields struct {
	m   map[string]any
	typ MessageType
	err error
}

func (f *fields) fail(key string, err error) {
	if f.err == nil {
		f.err = &ProtocolError{Type: f.typ, Field: key, Err: err}
	}
}

func (f *fields) merge(other *fields) {
	if f.err == nil {
		f.err = other.err
	}
}

// get returns the raw value; a nil value counts as absent.
func (f *fields) get(key string, required bool) (any, bool) {
	v, ok := f.m[key]
	if !ok || v == nil {
		if required {
			f.fail(key, ErrMissingField)
		}
		return nil, false
	}
	return v, true
}

func (f *fields) value(key string) Value {
	return f.m[key]
}

func (f *fields) str(key string, required bool) string {
	v, ok := f.get(key, required)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		f.fail(key, ErrFieldType)
	}
	return s
}

func (f *fields) boolean(key string) bool {
	if p := f.optBool(key); p != nil {
		return *p
	}
	return false
}

func (f *fields) optBool(key string) *bool {
	v, ok := f.get(key, false)
	if !ok {
		return nil
	}
	b, ok := v.(bool)
	if !ok {
		f.fail(key, ErrFieldType)
		return nil
	}
	return &b
}

func (f *fields) uint64(key string, required bool) uint64 {
	v, ok := f.get(key, required)
	if !ok {
		return 0
	}
	n, ok := asUint64(v)
	if !ok {
		f.fail(key, ErrFieldType)
	}
	return n
}

func (f *fields) optUint64(key string) *uint64 {
	if _, ok := f.get(key, false); !ok {
		return nil
	}
	n := f.uint64(key, false)
	return &n
}

func (f *fields) uint32(key string, required bool) uint32 {
	n := f.uint64(key, required)
	if n > math.MaxUint32 {
		f.fail(key, ErrFieldType)
		return 0
	}
	return uint32(n)
}

func (f *fields) optUint32(key string) *uint32 {
	if _, ok := f.get(key, false); !ok {
		return nil
	}
	n := f.uint32(key, false)
	return &n
}

func (f *fields) uint8(key string) uint8 {
	n := f.uint64(key, false)
	if n > math.MaxUint8 {
		f.fail(key, ErrFieldType)
		return 0
	}
	return uint8(n)
}

func (f *fields) optFloat64(key string) *float64 {
	v, ok := f.get(key, false)
	if !ok {
		return nil
	}
	x, ok := asFloat64(v)
	if !ok {
		f.fail(key, ErrFieldType)
		return nil
	}
	return &x
}

func (f *fields) list(key string) []any {
	v, ok := f.get(key, false)
	if !ok {
		return nil
	}
	l, ok := v.([]any)
	if !ok {
		f.fail(key, ErrFieldType)
	}
	return l
}

func (f *fields) mapping(key string) map[string]any {
	v, ok := f.get(key, false)
	if !ok {
		return nil
	}
	mm, ok := v.(map[string]any)
	if !ok {
		f.fail(key, ErrFieldType)
	}
	return mm
}

// strings decodes a list of strings. An empty list decodes as nil, so
// messages built without one compare equal after a round trip.
func (f *fields) strings(key string) []string {
	l := f.list(key)
	if len(l) == 0 {
		return nil
	}
	out := make([]string, 0, len(l))
	for _, item := range l {
		s, ok := item.(string)
		if !ok {
			f.fail(key, ErrFieldType)
			return nil
		}
		out = append(out, s)
	}
	return out
}

func (f *fields) floats(key string) []float64 {
	l := f.list(key)
	if l == nil {
		return nil
	}
	out := make([]float64, 0, len(l))
	for _, item := range l {
		x, ok := asFloat64(item)
		if !ok {
			f.fail(key, ErrFieldType)
			return nil
		}
		out = append(out, x)
	}
	return out
}

func (f *fields) signals(key string) []SignalDefinition {
	var out []SignalDefinition
	for _, item := range f.list(key) {
		dm, ok := item.(map[string]any)
		if !ok {
			f.fail(key, ErrFieldType)
			return nil
		}
		df := &fields{m: dm, typ: f.typ}
		def := SignalDefinition{
			Address:  df.str("address", true),
			Type:     SignalType(df.str("type", false)),
			Datatype: df.str("datatype", false),
			Access:   df.str("access", false),
		}
		if mm := df.mapping("meta"); mm != nil {
			mf := &fields{m: mm, typ: f.typ}
			def.Meta = &SignalMeta{
				Unit:        mf.str("unit", false),
				Range:       mf.floats("range"),
				Default:     mf.value("default"),
				Description: mf.str("description", false),
			}
			df.merge(mf)
		}
		f.merge(df)
		out = append(out, def)
	}
	return out
}

// asUint64 accepts any non-negative integral number.
func asUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint64:
		return n, true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case float64:
		if n < 0 || n != math.Trunc(n) || n > math.MaxUint64 {
			return 0, false
		}
		return uint64(n), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
