// Package repository implements the durable store for conversations,
// messages, checkpoints, approvals, trace events and the cost ledger.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/corale/relay/internal/domain"
)

// SQLiteStore implements the durable store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) a SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(session_id)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			handler_name TEXT,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			input_units INTEGER NOT NULL DEFAULT 0,
			output_units INTEGER NOT NULL DEFAULT 0,
			cost REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at)`,
		// No FK to conversations: handlers checkpoint mid-turn, before
		// the memory stage has written the conversation row.
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			handler_name TEXT NOT NULL,
			idempotency_key TEXT,
			state TEXT,
			is_complete INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_conversation ON checkpoints(conversation_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_key ON checkpoints(conversation_id, idempotency_key)`,
		`CREATE TABLE IF NOT EXISTS approvals (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			handler_name TEXT NOT NULL,
			action TEXT,
			status TEXT NOT NULL,
			requested_by TEXT NOT NULL,
			reviewed_by TEXT,
			reason TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			resolved_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_conversation ON approvals(conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_conversation ON events(conversation_id, ts)`,
		`CREATE TABLE IF NOT EXISTS cost_ledger (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			handler_name TEXT NOT NULL,
			input_units INTEGER NOT NULL DEFAULT 0,
			output_units INTEGER NOT NULL DEFAULT 0,
			cost REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_conversation ON cost_ledger(conversation_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// UpsertConversation creates the conversation on first contact and bumps
// updated_at on every later turn.
func (s *SQLiteStore) UpsertConversation(ctx context.Context, conv *domain.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, session_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		conv.ID, conv.UserID, conv.SessionID, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}
	return nil
}

// GetConversation returns a conversation by id, or nil if absent.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, session_id, created_at, updated_at FROM conversations WHERE id = ?`, id)
	var c domain.Conversation
	if err := row.Scan(&c.ID, &c.UserID, &c.SessionID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &c, nil
}

// CreateMessage appends a message row.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *domain.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, handler_name, role, content, input_units, output_units, cost, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.HandlerName, msg.Role, msg.Content,
		msg.InputUnits, msg.OutputUnits, msg.Cost, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// ListMessages returns messages for a conversation in turn order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, handler_name, role, content, input_units, output_units, cost, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var handler sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &handler, &m.Role, &m.Content,
			&m.InputUnits, &m.OutputUnits, &m.Cost, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.HandlerName = handler.String
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// SaveCheckpoint appends a checkpoint row. Superseded checkpoints are
// retained for audit, never deleted.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *domain.Checkpoint) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, conversation_id, handler_name, idempotency_key, state, is_complete, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.ConversationID, cp.HandlerName, cp.IdempotencyKey,
		string(cp.State), boolToInt(cp.IsComplete), cp.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// CompletedCheckpoint returns the final checkpoint for an idempotency key,
// or nil if the pair has never completed.
func (s *SQLiteStore) CompletedCheckpoint(ctx context.Context, conversationID, idempotencyKey string) (*domain.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, handler_name, idempotency_key, state, is_complete, created_at
		 FROM checkpoints
		 WHERE conversation_id = ? AND idempotency_key = ? AND is_complete = 1
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		conversationID, idempotencyKey)
	return scanCheckpoint(row)
}

// LatestOpenCheckpoint returns the most recent incomplete checkpoint for a
// conversation, used by recovery to resume an interrupted handler.
func (s *SQLiteStore) LatestOpenCheckpoint(ctx context.Context, conversationID string) (*domain.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, handler_name, idempotency_key, state, is_complete, created_at
		 FROM checkpoints
		 WHERE conversation_id = ? AND is_complete = 0
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		conversationID)
	return scanCheckpoint(row)
}

func scanCheckpoint(row *sql.Row) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	var state sql.NullString
	var key sql.NullString
	var complete int
	if err := row.Scan(&cp.ID, &cp.ConversationID, &cp.HandlerName, &key, &state, &complete, &cp.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
	}
	cp.IdempotencyKey = key.String
	if state.Valid {
		cp.State = []byte(state.String)
	}
	cp.IsComplete = complete != 0
	return &cp, nil
}

// CreateApproval writes a new pending approval row.
func (s *SQLiteStore) CreateApproval(ctx context.Context, ap *domain.PendingApproval) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approvals (id, conversation_id, handler_name, action, status, requested_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ap.ID, ap.ConversationID, ap.HandlerName, string(ap.Action), string(ap.Status), ap.RequestedBy, ap.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create approval: %w", err)
	}
	return nil
}

// GetApproval returns an approval by id, or nil if absent.
func (s *SQLiteStore) GetApproval(ctx context.Context, id string) (*domain.PendingApproval, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, handler_name, action, status, requested_by, reviewed_by, reason, created_at, resolved_at
		 FROM approvals WHERE id = ?`, id)
	var ap domain.PendingApproval
	var action, reviewedBy, reason sql.NullString
	var resolvedAt sql.NullTime
	if err := row.Scan(&ap.ID, &ap.ConversationID, &ap.HandlerName, &action, &ap.Status,
		&ap.RequestedBy, &reviewedBy, &reason, &ap.CreatedAt, &resolvedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	if action.Valid {
		ap.Action = []byte(action.String)
	}
	ap.ReviewedBy = reviewedBy.String
	ap.Reason = reason.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		ap.ResolvedAt = &t
	}
	return &ap, nil
}

// ResolveApproval flips a pending approval to its terminal status. The
// WHERE clause enforces the at-most-once transition; the returned bool is
// false when the row was already resolved (or absent).
func (s *SQLiteStore) ResolveApproval(ctx context.Context, id string, status domain.ApprovalStatus, reviewedBy, reason string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = ?, reviewed_by = ?, reason = ?, resolved_at = ?
		 WHERE id = ? AND status = ?`,
		string(status), reviewedBy, reason, time.Now(), id, string(domain.ApprovalStatusPending))
	if err != nil {
		return false, fmt.Errorf("failed to resolve approval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to resolve approval: %w", err)
	}
	return n == 1, nil
}

// CreateEvent appends a trace event.
func (s *SQLiteStore) CreateEvent(ctx context.Context, ev *domain.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, conversation_id, ts, type, payload) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.ConversationID, ev.Ts, string(ev.Type), string(ev.Payload))
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

// ListEvents returns the trace events for a conversation in time order.
func (s *SQLiteStore) ListEvents(ctx context.Context, conversationID string) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, ts, type, payload FROM events
		 WHERE conversation_id = ? ORDER BY ts ASC, id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var payload sql.NullString
		if err := rows.Scan(&ev.ID, &ev.ConversationID, &ev.Ts, &ev.Type, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if payload.Valid {
			ev.Payload = []byte(payload.String)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CreateLedgerEntry appends a cost ledger row.
func (s *SQLiteStore) CreateLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cost_ledger (id, conversation_id, handler_name, input_units, output_units, cost, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ConversationID, entry.HandlerName,
		entry.InputUnits, entry.OutputUnits, entry.Cost, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
