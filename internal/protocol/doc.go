// Package protocol defines the wire contract between the client core and the
// answer-generation backend.
//
// # Envelope
//
// Every frame on the realtime channel is a JSON envelope:
//
//	{"type": "chat_request", "request_id": "...", "mode": "quick", "data": {...}}
//
// Frame types:
//
//   - chat_request: outbound question with mode-specific fields
//   - chat_response: inbound answer correlated by request_id
//   - error: inbound failure, correlated when request_id is present
//   - ping/pong: heartbeat, no correlation required
//   - processing_started / processing_step: out-of-band progress notifications
//
// # Fallback
//
// The HTTP fallback posts the same ChatRequest data shape to mode-specific
// endpoints (/chat/quick, /chat/raw, /chat/message) and receives a bare
// ChatResponse without an envelope, so response handling upstream is
// transport-agnostic.
//
// # Modes
//
// Quick and raw requests carry only question, conversation id, and history.
// Enhanced requests additionally carry theme, audience, response_style, and
// freeform context. History is mode-agnostic and shared.
package protocol
