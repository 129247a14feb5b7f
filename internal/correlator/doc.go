// Package correlator matches asynchronous request/response pairs on the
// realtime channel.
//
// Invoke assigns a process-unique request id, attaches it to the outbound
// frame, and registers a pending entry with a per-request timer. The entry is
// destroyed on the first of: matching inbound frame, explicit cancel, or
// timeout. A given request therefore settles exactly once and leaves no
// dangling timer behind.
//
// Responses are matched strictly by request id, not arrival order, so
// multiple in-flight requests resolve independently regardless of network
// reordering.
//
// Inbound frames with no id, or with an id that is not pending, are
// dispatched to type-based subscribers: a lower-priority delivery path for
// out-of-band status and progress notifications that never settles a pending
// request. Ids found in the settled cache are dropped as late duplicates.
package correlator
