// ABOUTME: WebSocket implementation of the Channel transport boundary.
// ABOUTME: Wraps a single gorilla/websocket connection with a read pump and write lock.

package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

// eventBufferSize is the buffer for the inbound event stream. The connection
// manager drains it continuously; the buffer only absorbs short bursts.
const eventBufferSize = 32

// Params identify the endpoint and the session attached to every connection.
type Params struct {
	// URL is the WebSocket endpoint, e.g. ws://host:8000/ws/chat.
	URL string
	// UserID is attached as a query parameter and identifies the session.
	UserID string
	// ConversationID optionally scopes the connection to a conversation.
	ConversationID string
}

// WebSocket is a single-use Channel over one WebSocket connection.
type WebSocket struct {
	params Params
	logger *slog.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	open        bool
	closed      bool
	intentional bool

	events chan Event
}

// NewWebSocket creates an unconnected WebSocket channel. Pass nil logger for
// the default.
func NewWebSocket(params Params, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocket{
		params: params,
		logger: logger.With("component", "channel"),
		events: make(chan Event, eventBufferSize),
	}
}

// WebSocketDialer returns a Dialer producing fresh WebSocket channels for the
// given endpoint params.
func WebSocketDialer(params Params, logger *slog.Logger) Dialer {
	return func() Channel {
		return NewWebSocket(params, logger)
	}
}

// Connect dials the endpoint and starts the read pump. On success an
// EventOpen is delivered before any message event.
func (w *WebSocket) Connect(ctx context.Context) error {
	endpoint, err := w.endpointURL()
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", w.params.URL, err)
	}

	w.mu.Lock()
	w.conn = conn
	w.open = true
	w.mu.Unlock()

	w.logger.Debug("channel connected", "endpoint", w.params.URL, "user_id", w.params.UserID)
	w.events <- Event{Kind: EventOpen}

	go w.readPump()
	return nil
}

// endpointURL appends the session query parameters to the configured URL.
func (w *WebSocket) endpointURL() (string, error) {
	u, err := url.Parse(w.params.URL)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint url: %w", err)
	}
	q := u.Query()
	if w.params.UserID != "" {
		q.Set("user_id", w.params.UserID)
	}
	if w.params.ConversationID != "" {
		q.Set("conversation_id", w.params.ConversationID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Send transmits one text frame. Writes are serialized; gorilla connections
// support only one concurrent writer.
func (w *WebSocket) Send(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.open || w.closed {
		return ErrNotOpen
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Events returns the inbound event stream.
func (w *WebSocket) Events() <-chan Event {
	return w.events
}

// Close tears the connection down. A best-effort close frame is written first
// so the peer sees a normal closure.
func (w *WebSocket) Close(intentional bool) error {
	w.mu.Lock()
	if w.closed || w.conn == nil {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.intentional = intentional
	conn := w.conn
	w.mu.Unlock()

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return conn.Close()
}

// readPump delivers inbound frames until the connection dies, then emits the
// terminal Error/Closed events and closes the stream.
func (w *WebSocket) readPump() {
	defer close(w.events)

	for {
		_, frame, err := w.conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			intentional := w.intentional
			w.open = false
			w.mu.Unlock()

			if intentional || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				w.logger.Debug("channel closed", "intentional", intentional)
				w.events <- Event{Kind: EventClosed, Intentional: intentional}
			} else {
				w.logger.Warn("channel read failed", "error", err)
				w.events <- Event{Kind: EventError, Err: err}
				w.events <- Event{Kind: EventClosed, Err: err}
			}
			return
		}
		w.events <- Event{Kind: EventMessage, Frame: frame}
	}
}
