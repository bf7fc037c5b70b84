// Package connection provides session states and the reconnection
// supervisor for CLASP clients.
//
// # Reconnection Strategy
//
// When the transport reports closure while reconnection is enabled, the
// supervisor waits one interval and re-runs the full handshake. A failed
// attempt is retried at the next interval until one succeeds, the attempt
// limit is reached, or the supervisor is closed.
//
// By default the interval is fixed:
//
//	delay = ReconnectInterval (5s)
//
// Exponential growth is available through BackoffConfig:
//
//	delay = min(Initial * Multiplier^n, Max) + random(0, delay * Jitter)
//
// The backoff resets after every successful reconnect.
package connection
