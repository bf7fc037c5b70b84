// Package transport carries CLASP frames over WebSocket.
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   CLASP frames (pkg/wire)      │
//	├────────────────────────────────┤
//	│   WebSocket binary messages    │
//	│   subprotocol "clasp.v2"       │
//	├────────────────────────────────┤
//	│   TCP (ws://) or TLS (wss://)  │
//	└────────────────────────────────┘
//
// Each WebSocket binary message holds exactly one frame, so no extra
// length prefix is needed.
//
// # Ordering
//
// A Conn owns one writer goroutine fed by a queue. Send enqueues a frame
// and waits for the write result, so frames reach the socket in the order
// Send was called even when callers do not wait on each other.
//
// # Keep-Alive
//
// When enabled, WebSocket ping frames carry a sequence number and the
// matching pong resets the missed counter:
//   - Ping interval: 30 seconds
//   - Pong timeout: 5 seconds
//   - Max missed pongs: 3
//
// Pongs are processed while the owner is reading, so keep-alive only works
// while some goroutine is blocked in Receive.
package transport
