// ABOUTME: Wire-level frame types shared by the realtime channel and HTTP fallback.
// ABOUTME: Defines the chat request/response envelope and its mode-specific payloads.

package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frame types carried in the envelope's "type" field.
const (
	TypeChatRequest       = "chat_request"
	TypeChatResponse      = "chat_response"
	TypeError             = "error"
	TypePing              = "ping"
	TypePong              = "pong"
	TypeProcessingStarted = "processing_started"
	TypeProcessingStep    = "processing_step"
)

// Mode selects the request shape and the system guidance the backend applies.
type Mode string

const (
	ModeQuick    Mode = "quick"
	ModeRaw      Mode = "raw"
	ModeEnhanced Mode = "enhanced"
)

// Role identifies the author of a history message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ResponseType records which request shape produced an assistant message.
type ResponseType string

const (
	ResponseQuick    ResponseType = "quick"
	ResponseEnhanced ResponseType = "enhanced"
	ResponseRaw      ResponseType = "raw"
	ResponseError    ResponseType = "error"
)

// Theme, audience, and response style vocabularies accepted by the backend.
var (
	Themes = []string{
		"academic_help", "creative_writing", "coding_programming",
		"business_professional", "personal_learning", "research_analysis",
		"problem_solving", "tutoring_education", "general_questions",
	}
	Audiences = []string{
		"small_kids", "teenagers", "adults",
		"university_level", "professionals", "seniors",
	}
	ResponseStyles = []string{
		"paragraph_brief", "structured_detailed",
		"instructions_only", "comprehensive",
	}
)

// DefaultResponseStyle is applied when an enhanced request omits the style.
const DefaultResponseStyle = "structured_detailed"

// ValidTheme reports whether theme is one of the accepted values.
func ValidTheme(theme string) bool { return contains(Themes, theme) }

// ValidAudience reports whether audience is one of the accepted values.
func ValidAudience(audience string) bool { return contains(Audiences, audience) }

// ValidResponseStyle reports whether style is one of the accepted values.
func ValidResponseStyle(style string) bool { return contains(ResponseStyles, style) }

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// HistoryMessage is one entry of the message history attached to a request.
type HistoryMessage struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
	Model     string `json:"model,omitempty"`
	Provider  string `json:"provider,omitempty"`
}

// ChatRequest is the mode-agnostic "data" payload of an outbound chat_request.
// Quick and raw requests carry only the question, conversation id, and history.
type ChatRequest struct {
	Question       string           `json:"question"`
	ConversationID string           `json:"conversation_id,omitempty"`
	MessageHistory []HistoryMessage `json:"message_history"`
	Theme          string           `json:"theme,omitempty"`
	Audience       string           `json:"audience,omitempty"`
	ResponseStyle  string           `json:"response_style,omitempty"`
	Context        string           `json:"context,omitempty"`
	ForceModel     string           `json:"force_model,omitempty"`
	ForceProvider  string           `json:"force_provider,omitempty"`
}

// ChatResponse is the "data" payload of an inbound chat_response, and the
// body returned by the fallback endpoints without an envelope.
type ChatResponse struct {
	Content        string  `json:"content"`
	ModelUsed      string  `json:"model_used"`
	Provider       string  `json:"provider"`
	MessageID      string  `json:"message_id"`
	Cost           float64 `json:"cost"`
	ResponseTimeMs int64   `json:"response_time_ms"`
	SystemPrompt   string  `json:"system_prompt,omitempty"`
	Reasoning      string  `json:"reasoning,omitempty"`
	RawResponse    string  `json:"raw_response,omitempty"`
	Thinking       string  `json:"thinking,omitempty"`
}

// Envelope frames every message on the realtime channel.
// RequestID correlates chat_response and error frames with pending requests;
// notification frames (processing_step, ping) may omit it.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Mode      Mode            `json:"mode,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// NewRequestEnvelope wraps a ChatRequest in a chat_request envelope.
func NewRequestEnvelope(requestID string, mode Mode, req *ChatRequest) (*Envelope, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}
	return &Envelope{
		Type:      TypeChatRequest,
		RequestID: requestID,
		Mode:      mode,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// PingEnvelope returns the heartbeat frame sent while the channel is open.
func PingEnvelope() *Envelope {
	return &Envelope{Type: TypePing}
}

// Encode serializes the envelope for transmission.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses a raw inbound frame. A frame that is not valid JSON
// or has no type is a protocol error and must never settle a pending request.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("frame missing type")
	}
	return &env, nil
}

// ChatResponseData decodes the envelope's data as a ChatResponse.
func (e *Envelope) ChatResponseData() (*ChatResponse, error) {
	var resp ChatResponse
	if err := json.Unmarshal(e.Data, &resp); err != nil {
		return nil, fmt.Errorf("decoding chat response data: %w", err)
	}
	return &resp, nil
}

// ErrorText returns the human-readable error carried by an error frame.
// The backend populates either "error" or "message" depending on the path.
func (e *Envelope) ErrorText() string {
	if e.Error != "" {
		return e.Error
	}
	return e.Message
}
