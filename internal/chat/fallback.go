// ABOUTME: Synchronous HTTP fallback invoker for when no realtime channel is usable.
// ABOUTME: Posts the same request shape to the mode-specific /chat endpoints.

package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/promptyourai/termchat/internal/correlator"
	"github.com/promptyourai/termchat/internal/protocol"
)

// modeEndpoints maps each request mode to its synchronous endpoint.
var modeEndpoints = map[protocol.Mode]string{
	protocol.ModeQuick:    "/chat/quick",
	protocol.ModeRaw:      "/chat/raw",
	protocol.ModeEnhanced: "/chat/message",
}

// fallbackPayload is the request body: the realtime data shape plus the user
// id, which the channel carries in its endpoint params instead.
type fallbackPayload struct {
	*protocol.ChatRequest
	UserID string `json:"user_id,omitempty"`
}

// errorBody is the backend's JSON error shape.
type errorBody struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

// HTTPInvoker satisfies Invoker over plain request/response HTTP. It returns
// the same response shape as the channel, without an envelope.
type HTTPInvoker struct {
	baseURL string
	userID  string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPInvoker creates a fallback invoker for the given backend base URL.
func NewHTTPInvoker(baseURL, userID string, logger *slog.Logger) *HTTPInvoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPInvoker{
		baseURL: baseURL,
		userID:  userID,
		client:  &http.Client{},
		logger:  logger.With("component", "fallback"),
	}
}

// Invoke posts the request to the mode's endpoint and decodes the response.
// The timeout is applied per call through the context, mirroring the
// realtime budget, and expiry is reported as correlator.ErrTimeout so
// callers handle both transports identically.
func (h *HTTPInvoker) Invoke(ctx context.Context, mode protocol.Mode, req *protocol.ChatRequest, timeout time.Duration) (*protocol.ChatResponse, error) {
	endpoint, ok := modeEndpoints[mode]
	if !ok {
		return nil, fmt.Errorf("no fallback endpoint for mode %q", mode)
	}

	body, err := json.Marshal(fallbackPayload{ChatRequest: req, UserID: h.userID})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := h.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, correlator.ErrTimeout
		}
		return nil, fmt.Errorf("posting %s: %w", endpoint, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, h.decodeError(httpResp)
	}

	var resp protocol.ChatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	h.logger.Debug("fallback request completed",
		"endpoint", endpoint,
		"model", resp.ModelUsed)
	return &resp, nil
}

// Health checks the backend's /health endpoint.
func (h *HTTPInvoker) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("checking backend health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// decodeError turns a non-200 response into a BackendError, preferring the
// backend's own message when the body parses.
func (h *HTTPInvoker) decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err == nil {
		if eb.Detail != "" {
			return &correlator.BackendError{Message: eb.Detail}
		}
		if eb.Error != "" {
			return &correlator.BackendError{Message: eb.Error}
		}
	}
	return &correlator.BackendError{Message: fmt.Sprintf("status %d", resp.StatusCode)}
}
