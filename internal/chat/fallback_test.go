// ABOUTME: Tests for the synchronous HTTP fallback invoker.
// ABOUTME: Covers endpoint routing, payload shape, error decoding, and timeouts.

package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptyourai/termchat/internal/correlator"
	"github.com/promptyourai/termchat/internal/protocol"
)

type fakeBackend struct {
	*httptest.Server
	mu       sync.Mutex
	paths    []string
	payloads []map[string]any
	status   int
	body     string
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{status: http.StatusOK}
	fb.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)

		fb.mu.Lock()
		fb.paths = append(fb.paths, r.URL.Path)
		fb.payloads = append(fb.payloads, payload)
		status, body := fb.status, fb.body
		fb.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(body))
			return
		}
		json.NewEncoder(w).Encode(&protocol.ChatResponse{
			Content:   "http answer",
			ModelUsed: "m1",
			Provider:  "p1",
		})
	}))
	t.Cleanup(fb.Close)
	return fb
}

func (fb *fakeBackend) lastPath(t *testing.T) string {
	t.Helper()
	fb.mu.Lock()
	defer fb.mu.Unlock()
	require.NotEmpty(t, fb.paths)
	return fb.paths[len(fb.paths)-1]
}

func (fb *fakeBackend) lastPayload(t *testing.T) map[string]any {
	t.Helper()
	fb.mu.Lock()
	defer fb.mu.Unlock()
	require.NotEmpty(t, fb.payloads)
	return fb.payloads[len(fb.payloads)-1]
}

func TestInvokeRoutesByMode(t *testing.T) {
	backend := newFakeBackend(t)
	inv := NewHTTPInvoker(backend.URL, "user-1", nil)

	cases := []struct {
		mode protocol.Mode
		path string
	}{
		{protocol.ModeQuick, "/chat/quick"},
		{protocol.ModeRaw, "/chat/raw"},
		{protocol.ModeEnhanced, "/chat/message"},
	}
	for _, tc := range cases {
		resp, err := inv.Invoke(context.Background(), tc.mode,
			&protocol.ChatRequest{Question: "q", MessageHistory: []protocol.HistoryMessage{}}, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "http answer", resp.Content)
		assert.Equal(t, tc.path, backend.lastPath(t))
	}
}

func TestInvokeAttachesUserID(t *testing.T) {
	backend := newFakeBackend(t)
	inv := NewHTTPInvoker(backend.URL, "user-42", nil)

	_, err := inv.Invoke(context.Background(), protocol.ModeQuick,
		&protocol.ChatRequest{Question: "q", MessageHistory: []protocol.HistoryMessage{}}, time.Second)
	require.NoError(t, err)

	payload := backend.lastPayload(t)
	assert.Equal(t, "user-42", payload["user_id"])
	assert.Equal(t, "q", payload["question"])
	assert.Contains(t, payload, "message_history")
}

func TestInvokeUnknownMode(t *testing.T) {
	inv := NewHTTPInvoker("http://localhost:1", "u", nil)
	_, err := inv.Invoke(context.Background(), protocol.Mode("bogus"), &protocol.ChatRequest{}, time.Second)
	assert.Error(t, err)
}

func TestInvokeDecodesBackendError(t *testing.T) {
	backend := newFakeBackend(t)
	backend.status = http.StatusBadRequest
	backend.body = `{"detail":"theme is invalid"}`
	inv := NewHTTPInvoker(backend.URL, "u", nil)

	_, err := inv.Invoke(context.Background(), protocol.ModeQuick, &protocol.ChatRequest{Question: "q"}, time.Second)

	var be *correlator.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "theme is invalid", be.Message)
}

func TestInvokeTimesOut(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	t.Cleanup(slow.Close)

	inv := NewHTTPInvoker(slow.URL, "u", nil)
	_, err := inv.Invoke(context.Background(), protocol.ModeQuick,
		&protocol.ChatRequest{Question: "q"}, 20*time.Millisecond)
	assert.ErrorIs(t, err, correlator.ErrTimeout)
}

func TestHealth(t *testing.T) {
	t.Run("healthy backend", func(t *testing.T) {
		backend := newFakeBackend(t)
		inv := NewHTTPInvoker(backend.URL, "u", nil)
		assert.NoError(t, inv.Health(context.Background()))
	})

	t.Run("unhealthy backend", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		t.Cleanup(srv.Close)

		inv := NewHTTPInvoker(srv.URL, "u", nil)
		assert.Error(t, inv.Health(context.Background()))
	})
}
