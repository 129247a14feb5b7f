// ABOUTME: SQLite-backed archive of completed chat turns using modernc.org/sqlite
// ABOUTME: Persists question/answer pairs across sessions with automatic schema creation

package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a conversation has no archived turns.
var ErrNotFound = errors.New("not found")

// Turn is one completed question/answer exchange. Only finished turns are
// archived; failed or in-flight requests never reach the database.
type Turn struct {
	ID             string
	ConversationID string
	Question       string
	Answer         string
	Mode           string
	Model          string
	Provider       string
	Cost           float64
	ResponseTimeMs int
	CreatedAt      time.Time
}

// ConversationMeta summarizes one archived conversation.
type ConversationMeta struct {
	ID           string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	TurnCount    int
	LastQuestion string
}

// SQLite archives turns in a local SQLite database.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite opens (or creates) the archive database at the given path.
// Parent directories are created if needed.
func NewSQLite(path string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "archive")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening archive database: %w", err)
	}

	// WAL keeps reads cheap while the session keeps appending
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	a := &SQLite{
		db:     db,
		logger: logger,
	}

	if err := a.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("archive initialized", "path", path)
	return a, nil
}

// createSchema creates the tables if they don't exist
func (a *SQLite) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS turns (
			id               TEXT PRIMARY KEY,
			conversation_id  TEXT NOT NULL,
			question         TEXT NOT NULL,
			answer           TEXT NOT NULL,
			mode             TEXT NOT NULL,
			model            TEXT,
			provider         TEXT,
			cost             REAL NOT NULL DEFAULT 0,
			response_time_ms INTEGER NOT NULL DEFAULT 0,
			created_at       TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_turns_conversation
			ON turns(conversation_id, created_at);
	`

	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (a *SQLite) Close() error {
	return a.db.Close()
}

// RecordTurn persists one completed turn, creating the conversation row on
// first use and advancing its updated_at.
func (a *SQLite) RecordTurn(ctx context.Context, turn *Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	// Nanosecond precision keeps same-second turns ordered
	now := turn.CreatedAt.Format(time.RFC3339Nano)

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, created_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at
	`, turn.ConversationID, now, now)
	if err != nil {
		return fmt.Errorf("upserting conversation: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO turns (id, conversation_id, question, answer, mode, model, provider, cost, response_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		turn.ID,
		turn.ConversationID,
		turn.Question,
		turn.Answer,
		turn.Mode,
		turn.Model,
		turn.Provider,
		turn.Cost,
		turn.ResponseTimeMs,
		now,
	)
	if err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing turn: %w", err)
	}

	a.logger.Debug("turn archived",
		"conversation_id", turn.ConversationID,
		"turn_id", turn.ID,
		"mode", turn.Mode)
	return nil
}

// GetTurns returns a conversation's archived turns in chronological order.
// limit <= 0 returns all. Returns ErrNotFound for an unknown conversation.
func (a *SQLite) GetTurns(ctx context.Context, conversationID string, limit int) ([]*Turn, error) {
	var exists int
	err := a.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM conversations WHERE id = ?", conversationID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking conversation: %w", err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	query := `
		SELECT id, conversation_id, question, answer, mode, model, provider, cost, response_time_ms, created_at
		FROM turns
		WHERE conversation_id = ?
		ORDER BY created_at ASC
	`
	args := []any{conversationID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		var t Turn
		var model, provider sql.NullString
		var createdAtStr string

		err := rows.Scan(
			&t.ID,
			&t.ConversationID,
			&t.Question,
			&t.Answer,
			&t.Mode,
			&model,
			&provider,
			&t.Cost,
			&t.ResponseTimeMs,
			&createdAtStr,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}

		t.Model = model.String
		t.Provider = provider.String
		t.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		turns = append(turns, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turns: %w", err)
	}
	return turns, nil
}

// ListConversations returns archived conversations, most recently updated
// first, with turn counts and the last question asked.
func (a *SQLite) ListConversations(ctx context.Context, limit int) ([]*ConversationMeta, error) {
	query := `
		SELECT c.id, c.created_at, c.updated_at,
			COUNT(t.id),
			COALESCE((
				SELECT question FROM turns
				WHERE conversation_id = c.id
				ORDER BY created_at DESC LIMIT 1
			), '')
		FROM conversations c
		LEFT JOIN turns t ON t.conversation_id = c.id
		GROUP BY c.id
		ORDER BY c.updated_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var metas []*ConversationMeta
	for rows.Next() {
		var m ConversationMeta
		var createdAtStr, updatedAtStr string

		err := rows.Scan(&m.ID, &createdAtStr, &updatedAtStr, &m.TurnCount, &m.LastQuestion)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}

		m.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		m.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		metas = append(metas, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return metas, nil
}
