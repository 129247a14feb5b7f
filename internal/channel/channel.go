// ABOUTME: Transport boundary for the realtime duplex connection.
// ABOUTME: Defines the Channel interface and the typed lifecycle event stream.

package channel

import (
	"context"
	"errors"
)

// ErrNotOpen indicates a send was attempted before the channel opened or
// after it closed.
var ErrNotOpen = errors.New("channel not open")

// EventKind discriminates lifecycle and message events.
type EventKind int

const (
	// EventOpen is emitted once after a successful handshake.
	EventOpen EventKind = iota
	// EventMessage carries one raw inbound frame.
	EventMessage
	// EventError reports a transport-level failure. A Closed event follows.
	EventError
	// EventClosed is the final event; the event stream is closed after it.
	EventClosed
)

// Event is the tagged union delivered on the event stream.
type Event struct {
	Kind  EventKind
	Frame []byte // EventMessage only
	Err   error  // EventError, and EventClosed when the close was abnormal
	// Intentional marks a Closed event caused by a local Close(true) call.
	// The connection manager reads it to suppress automatic reconnect.
	Intentional bool
}

// Channel owns exactly one transport connection. It does framing, sending,
// and inbound delivery; retry and correlation live elsewhere. A Channel is
// single-use: after EventClosed it cannot be reconnected.
type Channel interface {
	// Connect performs the handshake. It must be called exactly once.
	Connect(ctx context.Context) error
	// Send transmits one frame. Fails with ErrNotOpen unless the channel
	// is open.
	Send(frame []byte) error
	// Events returns the inbound event stream. The stream is closed after
	// EventClosed is delivered.
	Events() <-chan Event
	// Close tears the connection down. intentional suppresses reconnect
	// handling upstream.
	Close(intentional bool) error
}

// Dialer produces a fresh Channel for each connection attempt. The connection
// manager uses it so reconnects get a clean transport every time.
type Dialer func() Channel
