// Package client implements a CLASP session: it connects to a router,
// mirrors parameter values into a local cache and dispatches updates to
// pattern subscriptions.
//
// # Lifecycle
//
//	DISCONNECTED -> CONNECTING -> AWAITING_WELCOME -> CONNECTED
//	      ^                                              |
//	      +----------------- transport lost -------------+
//
//	any state -> CLOSED (after Close)
//
// Each established session runs a receive goroutine and, when
// Config.SyncInterval is set, a clock resync goroutine. Both belong to an
// errgroup owned by the session; Close cancels them and waits before the
// transport is released.
//
// When the transport drops and Config.Reconnect is set, the reconnection
// supervisor retries the handshake every interval and re-sends all
// subscriptions once a new session is up. Malformed inbound frames end the
// session without a reconnect; they are reported to error handlers.
//
// # Handlers
//
// Subscription, connect, disconnect and error handlers run on the receive
// goroutine (or the supervisor goroutine for connect handlers) and never
// under the client lock. A panicking handler is recovered, wrapped in a
// *CallbackError and passed to error handlers; the remaining handlers still
// run.
package client
