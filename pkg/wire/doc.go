// Package wire defines the CLASP wire format: message types, payload
// encodings and the binary frame envelope.
//
// # Frame Layout
//
//	┌──────────────────────────────────────────────────────────┐
//	│ Byte 0:    Magic (0x53 = 'S')                            │
//	│ Byte 1:    Flags                                         │
//	│            [7:6] QoS (00=fire, 01=confirm, 10=commit)    │
//	│            [5]   Timestamp present                       │
//	│            [4]   Encrypted                               │
//	│            [3]   Compressed                              │
//	│ Byte 2-3:  Payload length (uint16 big-endian)            │
//	├──────────────────────────────────────────────────────────┤
//	│ [timestamp flag] Bytes 4-11: Timestamp (uint64 µs)       │
//	├──────────────────────────────────────────────────────────┤
//	│ Payload (named-key map with a "type" tag)                │
//	└──────────────────────────────────────────────────────────┘
//
// # Payload Encodings
//
// Payloads are maps with string keys. The "type" key carries the message
// tag (HELLO, SET, SNAPSHOT, ...). MessagePack is the default and the
// encoding routers expect; CBOR is available for peers that negotiate it.
//
// # Absent vs Null
//
// Optional fields are omitted from the map when unset. A SET or PUBLISH
// value of nil is encoded as an explicit null.
package wire
