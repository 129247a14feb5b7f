// ABOUTME: Minimal fake backend for local development and manual testing.
// ABOUTME: Serves the /chat endpoints and a /ws channel with canned responses.

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/promptyourai/termchat/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func main() {
	addr := flag.String("addr", "localhost:8000", "Listen address")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated processing delay")
	flag.Parse()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	})

	r.Post("/chat/quick", chatHandler(protocol.ModeQuick, *delay))
	r.Post("/chat/raw", chatHandler(protocol.ModeRaw, *delay))
	r.Post("/chat/message", chatHandler(protocol.ModeEnhanced, *delay))
	r.Get("/ws", wsHandler(*delay))

	log.Printf("fake backend listening on %s", *addr)
	if err := http.ListenAndServe(*addr, r); err != nil {
		log.Fatal(err)
	}
}

// chatHandler serves one synchronous chat endpoint.
func chatHandler(mode protocol.Mode, delay time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req protocol.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"detail": "invalid request body"})
			return
		}

		time.Sleep(delay)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(cannedResponse(mode, &req, delay))
	}
}

// wsSession wraps a connection with a write mutex; gorilla connections
// support one concurrent writer only.
type wsSession struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (s *wsSession) write(env *protocol.Envelope) {
	frame, err := env.Encode()
	if err != nil {
		log.Printf("encode error: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		log.Printf("write error: %v", err)
	}
}

// wsHandler speaks the envelope protocol over a WebSocket.
func wsHandler(delay time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("upgrade error: %v", err)
			return
		}
		defer ws.Close()

		sess := &wsSession{ws: ws}
		userID := r.URL.Query().Get("user_id")
		log.Printf("ws client connected (user_id=%s)", userID)

		for {
			_, frame, err := ws.ReadMessage()
			if err != nil {
				log.Printf("ws client gone: %v", err)
				return
			}

			env, err := protocol.DecodeEnvelope(frame)
			if err != nil {
				sess.write(&protocol.Envelope{
					Type:  protocol.TypeError,
					Error: "malformed frame",
				})
				continue
			}

			switch env.Type {
			case protocol.TypePing:
				sess.write(&protocol.Envelope{Type: protocol.TypePong})

			case protocol.TypeChatRequest:
				var req protocol.ChatRequest
				if err := json.Unmarshal(env.Data, &req); err != nil {
					sess.write(&protocol.Envelope{
						Type:      protocol.TypeError,
						RequestID: env.RequestID,
						Error:     "invalid chat_request data",
					})
					continue
				}
				go serveRequest(sess, env.RequestID, env.Mode, &req, delay)

			default:
				log.Printf("ignoring frame type %q", env.Type)
			}
		}
	}
}

// serveRequest emits progress notifications then the canned response.
func serveRequest(sess *wsSession, requestID string, mode protocol.Mode, req *protocol.ChatRequest, delay time.Duration) {
	sess.write(&protocol.Envelope{
		Type:      protocol.TypeProcessingStarted,
		RequestID: requestID,
		Message:   "Processing your question...",
	})

	if mode == protocol.ModeEnhanced {
		for _, step := range []string{"Analyzing question", "Selecting model", "Generating answer"} {
			time.Sleep(delay / 2)
			sess.write(&protocol.Envelope{
				Type:      protocol.TypeProcessingStep,
				RequestID: requestID,
				Message:   step,
			})
		}
	}

	time.Sleep(delay)

	data, err := json.Marshal(cannedResponse(mode, req, delay))
	if err != nil {
		log.Printf("marshal error: %v", err)
		return
	}
	sess.write(&protocol.Envelope{
		Type:      protocol.TypeChatResponse,
		RequestID: requestID,
		Data:      data,
	})
}

func cannedResponse(mode protocol.Mode, req *protocol.ChatRequest, delay time.Duration) *protocol.ChatResponse {
	model := "fake-model-small"
	content := fmt.Sprintf("Quick answer to %q (history: %d messages).", req.Question, len(req.MessageHistory))

	switch mode {
	case protocol.ModeRaw:
		content = fmt.Sprintf("Raw echo: %s", req.Question)
	case protocol.ModeEnhanced:
		model = "fake-model-large"
		content = fmt.Sprintf(
			"Enhanced answer to %q for a %s audience (theme %s):\n\n- point one\n- point two\n- point three",
			req.Question, orUnknown(req.Audience), orUnknown(req.Theme))
	}
	if req.ForceModel != "" {
		model = req.ForceModel
	}

	return &protocol.ChatResponse{
		Content:        content,
		ModelUsed:      model,
		Provider:       "fake",
		MessageID:      fmt.Sprintf("msg_%d", time.Now().UnixNano()),
		Cost:           0.0001,
		ResponseTimeMs: delay.Milliseconds(),
	}
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unspecified"
	}
	return s
}
