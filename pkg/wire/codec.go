package wire

import (
	"bytes"
	"fmt"
	"math"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Encoding serializes payload maps.
type Encoding interface {
	// Name identifies the encoding in logs and configuration.
	Name() string

	// Marshal encodes a payload map.
	Marshal(m map[string]any) ([]byte, error)

	// Unmarshal decodes a payload map. Integers come back as int64 (uint64
	// only above math.MaxInt64), floats as float64 and nested maps as
	// map[string]any.
	Unmarshal(data []byte) (map[string]any, error)
}

var (
	// MessagePack is the default payload encoding.
	MessagePack Encoding = msgpackEncoding{}

	// CBOR encodes the same named-key maps as CBOR.
	CBOR Encoding = cborEncoding{}
)

// EncodingByName returns the encoding with the given name
// ("msgpack" or "cbor").
func EncodingByName(name string) (Encoding, error) {
	switch name {
	case "", "msgpack", "messagepack":
		return MessagePack, nil
	case "cbor":
		return CBOR, nil
	default:
		return nil, fmt.Errorf("unknown payload encoding %q", name)
	}
}

type msgpackEncoding struct{}

func (msgpackEncoding) Name() string { return "msgpack" }

func (msgpackEncoding) Marshal(m map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (msgpackEncoding) Unmarshal(data []byte) (map[string]any, error) {
	var m map[string]any
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return normalizeMap(m), nil
}

// cborEncMode is the CBOR encoder mode for payload maps.
var cborEncMode cbor.EncMode

// cborDecMode is the CBOR decoder mode for payload maps.
var cborDecMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}
	cborEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
		DefaultMapType:    reflect.TypeOf(map[string]any(nil)),
	}
	cborDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

type cborEncoding struct{}

func (cborEncoding) Name() string { return "cbor" }

func (cborEncoding) Marshal(m map[string]any) ([]byte, error) {
	return cborEncMode.Marshal(m)
}

func (cborEncoding) Unmarshal(data []byte) (map[string]any, error) {
	var m map[string]any
	if err := cborDecMode.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return normalizeMap(m), nil
}

// normalize folds the numeric and container types the two decoders produce
// into one representation so decoded values compare equal across encodings.
func normalize(v any) any {
	switch x := v.(type) {
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint:
		return normalize(uint64(x))
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x)
		}
		return x
	case float32:
		return float64(x)
	case []any:
		for i := range x {
			x[i] = normalize(x[i])
		}
		return x
	case map[string]any:
		return normalizeMap(x)
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[fmt.Sprint(k)] = normalize(val)
		}
		return m
	default:
		return v
	}
}

func normalizeMap(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = normalize(v)
	}
	return m
}

// PeekType returns the "type" tag of an encoded payload without converting
// it into a Message.
func PeekType(enc Encoding, payload []byte) (MessageType, error) {
	m, err := enc.Unmarshal(payload)
	if err != nil {
		return "", err
	}
	s, _ := m["type"].(string)
	return MessageType(s), nil
}
