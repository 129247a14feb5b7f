// Package channel provides the transport boundary for the realtime duplex
// connection to the backend.
//
// A Channel owns exactly one transport connection and exposes a typed event
// stream ({Open, Message, Error, Closed}) instead of stringly-typed callback
// registration. No retry or correlation logic lives here: the connection
// manager handles reconnects and the correlator matches responses, which
// keeps the transport thin enough that the synchronous HTTP fallback can
// satisfy the same call sites without a channel at all.
//
// Channels are single-use. The connection manager obtains a fresh one from a
// Dialer for every attempt, so a failed connection never leaks state into the
// next.
package channel
