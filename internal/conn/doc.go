// Package conn manages the lifecycle of the realtime connection.
//
// # State machine
//
//	Idle -> Connecting        on Connect
//	Connecting -> Open        on successful handshake (resets attempt counter,
//	                          starts heartbeat)
//	Open -> Closed            on close event (stops heartbeat)
//	Closed -> Connecting      automatic, only when the close was not manual
//	                          and the attempt cap is not exceeded
//	any -> Closed             on manual Disconnect, marked so no reconnect
//	                          follows
//
// # Policy
//
// Reconnects use a fixed delay and a capped attempt count, not exponential
// backoff. Exceeding the cap reports ErrMaxReconnectExceeded through the
// state handler and stops retrying; the caller reacts by switching to the
// synchronous fallback for the remainder of the session. A heartbeat ping is
// sent at a fixed interval while Open; a missing reply is never treated as
// failure, only transport-level close/error is.
//
// The correlator registers a FrameHandler to receive inbound frames; the
// manager never inspects frame contents and never touches conversation state.
package conn
