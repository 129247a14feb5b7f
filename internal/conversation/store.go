// ABOUTME: In-memory conversation store with ordered messages and summary metadata.
// ABOUTME: Sole owner of message mutation; enforces the history size bound.

package conversation

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promptyourai/termchat/internal/protocol"
)

// ErrConversationNotFound indicates an unknown conversation id.
var ErrConversationNotFound = errors.New("conversation not found")

// previewRunes bounds lastMessagePreview. Truncation is rune-safe so
// multi-byte content never splits mid-character.
const previewRunes = 80

// Message is one entry in a conversation. Immutable once appended, except
// for the single replace-last-assistant mutation.
type Message struct {
	ID           string
	Role         protocol.Role
	Content      string
	Timestamp    time.Time
	Model        string
	Provider     string
	ResponseType protocol.ResponseType
}

// Conversation is a read-only copy of a conversation's metadata. Messages
// are returned separately via History.
type Conversation struct {
	ID                 string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	MessageCount       int
	LastMessagePreview string
}

// record is the mutable, store-internal form of a conversation.
type record struct {
	id        string
	messages  []Message
	createdAt time.Time
	updatedAt time.Time
}

// Store holds conversations in memory. At most one conversation is active at
// a time; EnsureActive creates one lazily. All mutation goes through the
// store so the count and preview metadata can never drift from the message
// slice.
type Store struct {
	logger       *slog.Logger
	historyBound int

	mu            sync.Mutex
	conversations map[string]*record
	activeID      string
}

// NewStore creates a Store. historyBound caps messages per conversation;
// zero or negative means unbounded.
func NewStore(historyBound int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:        logger.With("component", "conversation"),
		historyBound:  historyBound,
		conversations: make(map[string]*record),
	}
}

// NewConversation creates a fresh conversation, marks it active, and returns
// its id.
func (s *Store) NewConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked()
}

// EnsureActive returns the active conversation id, creating one lazily when
// none exists yet.
func (s *Store) EnsureActive() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeID != "" {
		return s.activeID
	}
	return s.createLocked()
}

// ActiveID returns the active conversation id, or "" when none is active.
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

func (s *Store) createLocked() string {
	now := time.Now()
	id := "conv_" + uuid.New().String()
	s.conversations[id] = &record{
		id:        id,
		createdAt: now,
		updatedAt: now,
	}
	s.activeID = id
	s.logger.Debug("conversation created", "conversation_id", id)
	return id
}

// Append adds a message to the end of the conversation. A missing id or
// timestamp is filled in. When the history bound is exceeded the oldest
// message is dropped first.
func (s *Store) Append(conversationID string, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.conversations[conversationID]
	if !ok {
		return Message{}, fmt.Errorf("append to %s: %w", conversationID, ErrConversationNotFound)
	}

	s.normalize(&msg)
	rec.messages = append(rec.messages, msg)
	if s.historyBound > 0 && len(rec.messages) > s.historyBound {
		rec.messages = rec.messages[len(rec.messages)-s.historyBound:]
	}
	s.touch(rec)
	return msg, nil
}

// ReplaceLastAssistant swaps the newest message for msg when that message is
// an assistant message, otherwise appends. Returns whether a replace
// happened. This is the only mutation of an already-appended message.
func (s *Store) ReplaceLastAssistant(conversationID string, msg Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.conversations[conversationID]
	if !ok {
		return false, fmt.Errorf("replace in %s: %w", conversationID, ErrConversationNotFound)
	}

	s.normalize(&msg)
	n := len(rec.messages)
	if n > 0 && rec.messages[n-1].Role == protocol.RoleAssistant {
		rec.messages[n-1] = msg
		s.touch(rec)
		return true, nil
	}

	rec.messages = append(rec.messages, msg)
	if s.historyBound > 0 && len(rec.messages) > s.historyBound {
		rec.messages = rec.messages[len(rec.messages)-s.historyBound:]
	}
	s.touch(rec)
	return false, nil
}

// History returns a copy of the conversation's messages in append order.
// limit > 0 keeps only the newest limit entries.
func (s *Store) History(conversationID string, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("history of %s: %w", conversationID, ErrConversationNotFound)
	}

	msgs := rec.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Get returns the conversation's metadata.
func (s *Store) Get(conversationID string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.conversations[conversationID]
	if !ok {
		return Conversation{}, fmt.Errorf("get %s: %w", conversationID, ErrConversationNotFound)
	}
	return s.metaLocked(rec), nil
}

// List returns metadata for every conversation, newest update first.
func (s *Store) List() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Conversation, 0, len(s.conversations))
	for _, rec := range s.conversations {
		out = append(out, s.metaLocked(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// normalize fills in a missing id and timestamp. Caller holds the lock.
func (s *Store) normalize(msg *Message) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
}

// touch advances updatedAt, never backwards. Caller holds the lock.
func (s *Store) touch(rec *record) {
	if now := time.Now(); now.After(rec.updatedAt) {
		rec.updatedAt = now
	}
}

// metaLocked builds the read-only view. Caller holds the lock.
func (s *Store) metaLocked(rec *record) Conversation {
	c := Conversation{
		ID:           rec.id,
		CreatedAt:    rec.createdAt,
		UpdatedAt:    rec.updatedAt,
		MessageCount: len(rec.messages),
	}
	if n := len(rec.messages); n > 0 {
		c.LastMessagePreview = preview(rec.messages[n-1].Content)
	}
	return c
}

// preview truncates content for display, counting runes so multi-byte text
// stays intact.
func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewRunes {
		return content
	}
	return string(runes[:previewRunes]) + "..."
}
