// Package log provides protocol capture for CLASP sessions.
//
// It is separate from operational logging (slog): protocol capture records
// every frame, decoded message, state change and error as a
// machine-readable trace for debugging.
//
// # Basic Usage
//
//	// Console, via slog at debug level
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Binary capture file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/tmp/session.clog")
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(console, file)
//
// # Event Types
//
// Events are captured at three layers:
//   - Transport: raw frames (FrameEvent) and WebSocket control frames
//   - Wire: decoded messages (MessageEvent)
//   - Session: state changes (StateChangeEvent) and errors
//
// # File Format
//
// Capture files are a stream of CBOR-encoded events with integer keys,
// conventionally named *.clog. Reader iterates them with an optional Filter.
package log
