package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Magic is the first byte of every frame.
const Magic byte = 0x53

// Header sizes.
const (
	HeaderSize    = 4
	TimestampSize = 8

	// MaxPayloadSize is the largest payload the 16-bit length field can carry.
	MaxPayloadSize = math.MaxUint16
)

// Flags is the second header byte.
type Flags uint8

const (
	flagQoSMask    Flags = 0xC0
	flagQoSShift         = 6
	FlagTimestamp  Flags = 0x20
	FlagEncrypted  Flags = 0x10
	FlagCompressed Flags = 0x08
)

// QoS returns the QoS level in bits 7..6.
func (f Flags) QoS() QoS {
	return QoS((f & flagQoSMask) >> flagQoSShift)
}

// WithQoS returns f with the QoS bits replaced.
func (f Flags) WithQoS(q QoS) Flags {
	return (f &^ flagQoSMask) | (Flags(q)<<flagQoSShift)&flagQoSMask
}

// Has reports whether all bits in mask are set.
func (f Flags) Has(mask Flags) bool {
	return f&mask == mask
}

// Frame is a decoded envelope. Timestamp is meaningful only when
// Flags has FlagTimestamp.
type Frame struct {
	Flags     Flags
	Timestamp uint64
	Payload   []byte
}

// EncodeFrame writes the header, the optional timestamp and the payload.
func EncodeFrame(f Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayloadSize {
		return nil, protocolErr(fmt.Errorf("%w: %d", ErrPayloadTooLarge, len(f.Payload)))
	}

	size := HeaderSize + len(f.Payload)
	if f.Flags.Has(FlagTimestamp) {
		size += TimestampSize
	}

	buf := make([]byte, HeaderSize, size)
	buf[0] = Magic
	buf[1] = byte(f.Flags)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(f.Payload)))
	if f.Flags.Has(FlagTimestamp) {
		buf = binary.BigEndian.AppendUint64(buf, f.Timestamp)
	}
	return append(buf, f.Payload...), nil
}

// DecodeFrame validates the header and slices out the payload. Bytes past
// the declared payload length are ignored.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) < HeaderSize {
		return Frame{}, protocolErr(fmt.Errorf("%w: %d bytes", ErrShortFrame, len(data)))
	}
	if data[0] != Magic {
		return Frame{}, protocolErr(fmt.Errorf("%w: 0x%02x", ErrBadMagic, data[0]))
	}

	f := Frame{Flags: Flags(data[1])}
	length := int(binary.BigEndian.Uint16(data[2:4]))
	offset := HeaderSize

	if f.Flags.Has(FlagTimestamp) {
		if len(data) < HeaderSize+TimestampSize {
			return Frame{}, protocolErr(fmt.Errorf("%w: missing timestamp", ErrTruncated))
		}
		f.Timestamp = binary.BigEndian.Uint64(data[HeaderSize : HeaderSize+TimestampSize])
		offset += TimestampSize
	}

	if len(data) < offset+length {
		return Frame{}, protocolErr(fmt.Errorf("%w: want %d payload bytes, have %d",
			ErrTruncated, length, len(data)-offset))
	}
	f.Payload = data[offset : offset+length]
	return f, nil
}

// Codec encodes messages into frames with a payload encoding.
// The zero value uses MessagePack.
type Codec struct {
	Encoding Encoding
}

func (c Codec) encoding() Encoding {
	if c.Encoding == nil {
		return MessagePack
	}
	return c.Encoding
}

// Encode serializes msg into a frame with QoS fire and no timestamp.
func (c Codec) Encode(msg Message) ([]byte, error) {
	return c.EncodeWith(msg, 0, nil)
}

// EncodeWith serializes msg with explicit flags and an optional timestamp.
// FlagTimestamp is set or cleared according to ts.
func (c Codec) EncodeWith(msg Message, flags Flags, ts *uint64) ([]byte, error) {
	m, err := ToMap(msg)
	if err != nil {
		return nil, err
	}
	payload, err := c.encoding().Marshal(m)
	if err != nil {
		return nil, &ProtocolError{Type: msg.Type(), Err: err}
	}

	f := Frame{Flags: flags &^ FlagTimestamp, Payload: payload}
	if ts != nil {
		f.Flags |= FlagTimestamp
		f.Timestamp = *ts
	}
	return EncodeFrame(f)
}

// Decode parses a frame and its payload into a message.
func (c Codec) Decode(data []byte) (Message, error) {
	msg, _, err := c.DecodeWith(data)
	return msg, err
}

// DecodeWith is Decode that also returns the frame envelope.
func (c Codec) DecodeWith(data []byte) (Message, Frame, error) {
	f, err := DecodeFrame(data)
	if err != nil {
		return nil, Frame{}, err
	}
	m, err := c.encoding().Unmarshal(f.Payload)
	if err != nil {
		return nil, f, protocolErr(fmt.Errorf("decode payload: %w", err))
	}
	msg, err := FromMap(m)
	if err != nil {
		return nil, f, err
	}
	return msg, f, nil
}

// Encode serializes msg with the default codec.
func Encode(msg Message) ([]byte, error) {
	return Codec{}.Encode(msg)
}

// Decode parses a frame with the default codec.
func Decode(data []byte) (Message, error) {
	return Codec{}.Decode(data)
}
