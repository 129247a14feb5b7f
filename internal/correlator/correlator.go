// ABOUTME: Correlates outbound chat requests with inbound responses by request id.
// ABOUTME: Guarantees at-most-once settlement per request and per-request timeouts.

package correlator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promptyourai/termchat/internal/conn"
	"github.com/promptyourai/termchat/internal/dedupe"
	"github.com/promptyourai/termchat/internal/protocol"
)

// ErrTimeout indicates no matching response arrived within the request's
// budget. It is retryable from the caller's point of view.
var ErrTimeout = errors.New("request timed out")

// BackendError is a well-formed error frame rejecting one specific request.
type BackendError struct {
	RequestID string
	Message   string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error: %s", e.Message)
}

// Transport is what the correlator needs from the connection layer.
type Transport interface {
	Usable() bool
	Send(frame []byte) error
}

// result carries the one-shot settlement of a pending request.
type result struct {
	resp *protocol.ChatResponse
	err  error
}

// pendingRequest lives only inside the correlator and is destroyed on first
// matching response, explicit cancel, or timeout, whichever comes first.
type pendingRequest struct {
	requestID string
	issuedAt  time.Time
	timer     *time.Timer
	ch        chan result // buffered, exactly one settlement
}

// TypeHandler receives out-of-band frames of a subscribed type.
type TypeHandler func(env *protocol.Envelope)

// Correlator assigns unique ids to outbound requests and resolves each
// pending request exactly once. Unmatched frames go to type subscribers,
// a second, lower-priority delivery path that never settles a request.
type Correlator struct {
	transport Transport
	settled   *dedupe.Cache
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingRequest
	subs    map[string]map[string]TypeHandler // frame type -> sub id -> handler
}

// New creates a Correlator. settled may be nil to disable late-duplicate
// tracking; pass nil logger for the default.
func New(transport Transport, settled *dedupe.Cache, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		transport: transport,
		settled:   settled,
		logger:    logger.With("component", "correlator"),
		pending:   make(map[string]*pendingRequest),
		subs:      make(map[string]map[string]TypeHandler),
	}
}

// Invoke sends one chat request and blocks until a matching response arrives,
// the timeout fires, or ctx is cancelled. If the transport is not usable it
// rejects immediately with conn.ErrNotConnected; callers fall back to the
// synchronous invoker, nothing is queued.
func (c *Correlator) Invoke(ctx context.Context, mode protocol.Mode, req *protocol.ChatRequest, timeout time.Duration) (*protocol.ChatResponse, error) {
	if !c.transport.Usable() {
		return nil, conn.ErrNotConnected
	}

	requestID := uuid.New().String()
	env, err := protocol.NewRequestEnvelope(requestID, mode, req)
	if err != nil {
		return nil, err
	}
	frame, err := env.Encode()
	if err != nil {
		return nil, err
	}

	p := &pendingRequest{
		requestID: requestID,
		issuedAt:  time.Now(),
		ch:        make(chan result, 1),
	}
	p.timer = time.AfterFunc(timeout, func() { c.expire(requestID) })

	c.mu.Lock()
	c.pending[requestID] = p
	c.mu.Unlock()

	if err := c.transport.Send(frame); err != nil {
		c.remove(requestID)
		return nil, err
	}

	c.logger.Debug("request sent",
		"request_id", requestID,
		"mode", string(mode),
		"timeout", timeout)

	select {
	case res := <-p.ch:
		return res.resp, res.err
	case <-ctx.Done():
		c.Cancel(requestID)
		return nil, ctx.Err()
	}
}

// Cancel removes a pending request without settling its caller. Used when the
// caller has already moved on; a later matching frame is treated as a late
// duplicate.
func (c *Correlator) Cancel(requestID string) {
	c.remove(requestID)
}

// Subscribe registers a handler for out-of-band frames of the given type
// (for example processing_step). Returns a subscription id for Unsubscribe.
func (c *Correlator) Subscribe(frameType string, fn TypeHandler) string {
	subID := uuid.New().String()

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[frameType]; !ok {
		c.subs[frameType] = make(map[string]TypeHandler)
	}
	c.subs[frameType][subID] = fn
	return subID
}

// Unsubscribe removes a type subscription.
func (c *Correlator) Unsubscribe(frameType, subID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	subs, ok := c.subs[frameType]
	if !ok {
		return
	}
	delete(subs, subID)
	if len(subs) == 0 {
		delete(c.subs, frameType)
	}
}

// HandleFrame processes one raw inbound frame. It is registered as the
// connection manager's frame handler. Malformed frames are logged and
// dropped and never settle a pending request.
func (c *Correlator) HandleFrame(frame []byte) {
	env, err := protocol.DecodeEnvelope(frame)
	if err != nil {
		c.logger.Warn("dropping malformed frame", "error", err)
		return
	}

	switch env.Type {
	case protocol.TypePong:
		// Heartbeat replies carry no correlation.
		return
	case protocol.TypeChatResponse:
		c.settle(env, true)
	case protocol.TypeError:
		if env.RequestID == "" {
			c.dispatch(env)
			return
		}
		c.settle(env, false)
	default:
		c.dispatch(env)
	}
}

// settle resolves or rejects the pending request matching the frame's id.
// A frame whose id is not pending is dropped as a late duplicate if the id
// settled recently, otherwise dispatched to type subscribers.
func (c *Correlator) settle(env *protocol.Envelope, success bool) {
	c.mu.Lock()
	p, ok := c.pending[env.RequestID]
	if ok {
		delete(c.pending, env.RequestID)
	}
	c.mu.Unlock()

	if !ok {
		if c.settled != nil && c.settled.Seen(env.RequestID) {
			c.logger.Debug("ignoring late frame for settled request",
				"request_id", env.RequestID,
				"type", env.Type)
			return
		}
		c.dispatch(env)
		return
	}

	p.timer.Stop()
	c.markSettled(env.RequestID)

	if !success {
		p.ch <- result{err: &BackendError{RequestID: env.RequestID, Message: env.ErrorText()}}
		return
	}

	resp, err := env.ChatResponseData()
	if err != nil {
		c.logger.Warn("malformed chat response data", "request_id", env.RequestID, "error", err)
		p.ch <- result{err: fmt.Errorf("malformed response: %w", err)}
		return
	}
	p.ch <- result{resp: resp}
}

// expire rejects a pending request whose budget ran out. A subsequent
// matching frame finds no entry and is ignored, never double-settled.
func (c *Correlator) expire(requestID string) {
	c.mu.Lock()
	p, ok := c.pending[requestID]
	if ok {
		delete(c.pending, requestID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}

	c.markSettled(requestID)
	c.logger.Warn("request timed out",
		"request_id", requestID,
		"waited", time.Since(p.issuedAt))
	p.ch <- result{err: ErrTimeout}
}

// remove deletes a pending entry and stops its timer without settling.
func (c *Correlator) remove(requestID string) {
	c.mu.Lock()
	p, ok := c.pending[requestID]
	if ok {
		delete(c.pending, requestID)
	}
	c.mu.Unlock()

	if ok {
		p.timer.Stop()
		c.markSettled(requestID)
	}
}

// dispatch delivers an unmatched frame to its type subscribers.
func (c *Correlator) dispatch(env *protocol.Envelope) {
	c.mu.Lock()
	handlers := make([]TypeHandler, 0, len(c.subs[env.Type]))
	for _, fn := range c.subs[env.Type] {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	if len(handlers) == 0 {
		c.logger.Debug("no subscriber for frame", "type", env.Type, "request_id", env.RequestID)
		return
	}
	for _, fn := range handlers {
		fn(env)
	}
}

// markSettled records the id in the settled cache when one is configured.
func (c *Correlator) markSettled(requestID string) {
	if c.settled != nil {
		c.settled.Mark(requestID)
	}
}

// PendingCount returns the number of in-flight requests.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
