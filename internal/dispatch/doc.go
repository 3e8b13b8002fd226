// Package dispatch routes real-time events to connected sessions by scope.
//
// A single goroutine owns all membership state. Callers talk to it through a
// buffered command channel, so joins, leaves, and publishes are serialized
// without locks. Delivery is best-effort: a session whose send buffer is full
// is evicted rather than allowed to stall the loop.
package dispatch
