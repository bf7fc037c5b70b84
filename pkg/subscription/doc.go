// Package subscription stores a client's pattern subscriptions and selects
// the ones an inbound value update must be dispatched to.
//
// # Identifiers
//
// Each subscription gets a uint32 id that strictly increases and is never
// reused for the lifetime of a Registry. The id is what SUBSCRIBE and
// UNSUBSCRIBE carry on the wire.
//
// # Lifecycle
//
// Subscriptions survive connection loss. After every successful
// (re)connect the client re-sends a SUBSCRIBE for each entry, in id order.
//
// # Concurrency
//
// Registry is not safe for concurrent use. The client holds its own lock
// while mutating or matching, and invokes handlers after releasing it.
package subscription
