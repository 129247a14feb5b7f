// ABOUTME: Mode orchestrator implementing the quick/upgrade/raw request shapes.
// ABOUTME: Owns the two-step workflow, transport selection, and history writes.

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/promptyourai/termchat/internal/archive"
	"github.com/promptyourai/termchat/internal/conn"
	"github.com/promptyourai/termchat/internal/conversation"
	"github.com/promptyourai/termchat/internal/protocol"
)

var (
	// ErrAlreadyUpgraded rejects a second upgrade for the same question.
	ErrAlreadyUpgraded = errors.New("answer already upgraded")

	// ErrNoQuestion rejects an upgrade with no preceding ask.
	ErrNoQuestion = errors.New("no question to upgrade")

	// ErrAudienceRequired rejects an enhanced request with no audience.
	ErrAudienceRequired = errors.New("audience is required for an enhanced request")

	// ErrThemeRequired rejects an enhanced request with no theme.
	ErrThemeRequired = errors.New("theme is required for an enhanced request")
)

// Invoker sends one chat request and blocks for the response. Both the
// realtime correlator and the HTTP fallback satisfy it, so response handling
// is transport-agnostic past this point.
type Invoker interface {
	Invoke(ctx context.Context, mode protocol.Mode, req *protocol.ChatRequest, timeout time.Duration) (*protocol.ChatResponse, error)
}

// Archiver records completed turns. Satisfied by archive.SQLite.
type Archiver interface {
	RecordTurn(ctx context.Context, turn *archive.Turn) error
}

// Defaults are the per-session request defaults, read once at construction.
type Defaults struct {
	Theme           string
	Audience        string
	ResponseStyle   string
	HistoryBound    int
	QuickTimeout    time.Duration
	EnhancedTimeout time.Duration
}

// UpgradeOptions override the session defaults for one enhanced request.
type UpgradeOptions struct {
	Theme         string
	Audience      string
	ResponseStyle string
	Context       string
}

// upgradeState arms exactly one upgrade per question. The snapshot is the
// history captured before the question was appended, so the enhanced call is
// an independent continuation of the conversation, not of the quick answer.
type upgradeState struct {
	question string
	snapshot []protocol.HistoryMessage
	used     bool
}

// Orchestrator builds mode-specific requests and applies responses to the
// conversation store. It is the store's only writer; failed calls never
// replace a message.
type Orchestrator struct {
	realtime Invoker
	fallback Invoker
	store    *conversation.Store
	archiver Archiver
	defaults Defaults
	userID   string
	logger   *slog.Logger

	mu             sync.Mutex
	pending        *upgradeState
	pinnedModel    string
	pinnedProvider string
}

// NewOrchestrator creates an Orchestrator. fallback and archiver may be nil
// to disable the synchronous fallback and turn persistence respectively.
func NewOrchestrator(realtime, fallback Invoker, store *conversation.Store, archiver Archiver, defaults Defaults, userID string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if defaults.QuickTimeout == 0 {
		defaults.QuickTimeout = 30 * time.Second
	}
	if defaults.EnhancedTimeout == 0 {
		defaults.EnhancedTimeout = 120 * time.Second
	}
	if defaults.ResponseStyle == "" {
		defaults.ResponseStyle = protocol.DefaultResponseStyle
	}
	return &Orchestrator{
		realtime: realtime,
		fallback: fallback,
		store:    store,
		archiver: archiver,
		defaults: defaults,
		userID:   userID,
		logger:   logger.With("component", "chat"),
	}
}

// Ask issues a quick request for the question and appends the user message
// and the quick answer to the conversation. The history sent to the backend
// is snapshotted before the question is appended, and that same snapshot is
// reused by a later Upgrade. Asking a new question disarms any previous
// upgrade state.
func (o *Orchestrator) Ask(ctx context.Context, question string) (*protocol.ChatResponse, error) {
	conversationID := o.store.EnsureActive()

	snapshot, err := o.snapshot(conversationID)
	if err != nil {
		return nil, err
	}

	req := o.baseRequest(question, conversationID, snapshot)
	resp, err := o.invoke(ctx, protocol.ModeQuick, req, o.defaults.QuickTimeout)
	if err != nil {
		o.recordFailure(conversationID, question, err)
		return nil, err
	}

	if err := o.recordTurn(conversationID, question, resp, protocol.ResponseQuick, false); err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.pending = &upgradeState{question: question, snapshot: snapshot}
	o.mu.Unlock()

	o.archiveTurn(ctx, conversationID, question, resp, protocol.ModeQuick)
	return resp, nil
}

// Upgrade issues an enhanced request for the last asked question, reusing
// the pre-question history snapshot from Ask. On success the quick answer is
// replaced when it is still the newest message, otherwise the enhanced
// answer is appended. Only one upgrade is permitted per question; a failed
// upgrade leaves the state armed so the caller can retry.
func (o *Orchestrator) Upgrade(ctx context.Context, opts UpgradeOptions) (*protocol.ChatResponse, error) {
	o.mu.Lock()
	state := o.pending
	o.mu.Unlock()

	if state == nil {
		return nil, ErrNoQuestion
	}
	if state.used {
		return nil, ErrAlreadyUpgraded
	}

	theme := opts.Theme
	if theme == "" {
		theme = o.defaults.Theme
	}
	if theme == "" {
		return nil, ErrThemeRequired
	}
	audience := opts.Audience
	if audience == "" {
		audience = o.defaults.Audience
	}
	if audience == "" {
		return nil, ErrAudienceRequired
	}
	style := opts.ResponseStyle
	if style == "" {
		style = o.defaults.ResponseStyle
	}

	conversationID := o.store.ActiveID()
	req := o.baseRequest(state.question, conversationID, state.snapshot)
	req.Theme = theme
	req.Audience = audience
	req.ResponseStyle = style
	req.Context = opts.Context

	resp, err := o.invoke(ctx, protocol.ModeEnhanced, req, o.defaults.EnhancedTimeout)
	if err != nil {
		return nil, err
	}

	if err := o.recordTurn(conversationID, state.question, resp, protocol.ResponseEnhanced, true); err != nil {
		return nil, err
	}

	o.mu.Lock()
	state.used = true
	o.mu.Unlock()

	o.archiveTurn(ctx, conversationID, state.question, resp, protocol.ModeEnhanced)
	return resp, nil
}

// AskRaw issues a raw request: history is carried but no guidance fields,
// and the two-step upgrade flow does not apply.
func (o *Orchestrator) AskRaw(ctx context.Context, question string) (*protocol.ChatResponse, error) {
	conversationID := o.store.EnsureActive()

	snapshot, err := o.snapshot(conversationID)
	if err != nil {
		return nil, err
	}

	req := o.baseRequest(question, conversationID, snapshot)
	resp, err := o.invoke(ctx, protocol.ModeRaw, req, o.defaults.QuickTimeout)
	if err != nil {
		o.recordFailure(conversationID, question, err)
		return nil, err
	}

	if err := o.recordTurn(conversationID, question, resp, protocol.ResponseRaw, false); err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.pending = nil
	o.mu.Unlock()

	o.archiveTurn(ctx, conversationID, question, resp, protocol.ModeRaw)
	return resp, nil
}

// NewConversation starts a fresh conversation, clearing the model pin and
// any armed upgrade.
func (o *Orchestrator) NewConversation() string {
	o.mu.Lock()
	o.pending = nil
	o.pinnedModel = ""
	o.pinnedProvider = ""
	o.mu.Unlock()
	return o.store.NewConversation()
}

// invoke prefers the realtime transport and falls back to the synchronous
// invoker with an identical payload when the channel is unusable or the
// reconnect cap has been exhausted.
func (o *Orchestrator) invoke(ctx context.Context, mode protocol.Mode, req *protocol.ChatRequest, timeout time.Duration) (*protocol.ChatResponse, error) {
	resp, err := o.realtime.Invoke(ctx, mode, req, timeout)
	if err == nil {
		return resp, nil
	}

	if o.fallback != nil && (errors.Is(err, conn.ErrNotConnected) || errors.Is(err, conn.ErrMaxReconnectExceeded)) {
		o.logger.Info("realtime channel unavailable, using synchronous fallback",
			"mode", string(mode), "reason", err)
		return o.fallback.Invoke(ctx, mode, req, timeout)
	}
	return nil, err
}

// baseRequest builds the fields every mode shares, including the model pin
// once one is set.
func (o *Orchestrator) baseRequest(question, conversationID string, history []protocol.HistoryMessage) *protocol.ChatRequest {
	o.mu.Lock()
	model, provider := o.pinnedModel, o.pinnedProvider
	o.mu.Unlock()

	return &protocol.ChatRequest{
		Question:       question,
		ConversationID: conversationID,
		MessageHistory: history,
		ForceModel:     model,
		ForceProvider:  provider,
	}
}

// snapshot reads the bounded history before the current question is
// appended. Always non-nil so an empty history serializes as [].
func (o *Orchestrator) snapshot(conversationID string) ([]protocol.HistoryMessage, error) {
	msgs, err := o.store.History(conversationID, o.defaults.HistoryBound)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}

	history := make([]protocol.HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, protocol.HistoryMessage{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp.Format(time.RFC3339),
			Model:     m.Model,
			Provider:  m.Provider,
		})
	}
	return history, nil
}

// recordTurn writes a successful response into the store. For an upgrade the
// quick answer is replaced when it is still the newest message; everything
// else appends. The first successful response pins the model for the rest of
// the conversation.
func (o *Orchestrator) recordTurn(conversationID, question string, resp *protocol.ChatResponse, rt protocol.ResponseType, replace bool) error {
	assistant := conversation.Message{
		ID:           resp.MessageID,
		Role:         protocol.RoleAssistant,
		Content:      resp.Content,
		Model:        resp.ModelUsed,
		Provider:     resp.Provider,
		ResponseType: rt,
	}

	if replace {
		replaced, err := o.store.ReplaceLastAssistant(conversationID, assistant)
		if err != nil {
			return fmt.Errorf("recording upgraded answer: %w", err)
		}
		o.logger.Debug("upgrade recorded", "conversation_id", conversationID, "replaced", replaced)
	} else {
		if _, err := o.store.Append(conversationID, conversation.Message{
			Role:    protocol.RoleUser,
			Content: question,
		}); err != nil {
			return fmt.Errorf("recording question: %w", err)
		}
		if _, err := o.store.Append(conversationID, assistant); err != nil {
			return fmt.Errorf("recording answer: %w", err)
		}
	}

	o.mu.Lock()
	if o.pinnedModel == "" && resp.ModelUsed != "" {
		o.pinnedModel = resp.ModelUsed
		o.pinnedProvider = resp.Provider
		o.logger.Debug("model pinned", "model", resp.ModelUsed, "provider", resp.Provider)
	}
	o.mu.Unlock()
	return nil
}

// recordFailure appends the question and an error placeholder so the turn is
// visible in history. The previous answer, if any, is never touched.
func (o *Orchestrator) recordFailure(conversationID, question string, cause error) {
	if _, err := o.store.Append(conversationID, conversation.Message{
		Role:    protocol.RoleUser,
		Content: question,
	}); err != nil {
		o.logger.Warn("recording failed question", "error", err)
		return
	}
	if _, err := o.store.Append(conversationID, conversation.Message{
		Role:         protocol.RoleAssistant,
		Content:      fmt.Sprintf("Request failed: %v", cause),
		ResponseType: protocol.ResponseError,
	}); err != nil {
		o.logger.Warn("recording error placeholder", "error", err)
	}
}

// archiveTurn persists a completed turn. Best-effort: failures are logged.
func (o *Orchestrator) archiveTurn(ctx context.Context, conversationID, question string, resp *protocol.ChatResponse, mode protocol.Mode) {
	if o.archiver == nil {
		return
	}
	err := o.archiver.RecordTurn(ctx, &archive.Turn{
		ConversationID: conversationID,
		Question:       question,
		Answer:         resp.Content,
		Mode:           string(mode),
		Model:          resp.ModelUsed,
		Provider:       resp.Provider,
		Cost:           resp.Cost,
		ResponseTimeMs: int(resp.ResponseTimeMs),
	})
	if err != nil {
		o.logger.Warn("archiving turn", "conversation_id", conversationID, "error", err)
	}
}
