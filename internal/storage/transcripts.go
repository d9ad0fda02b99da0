// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists chat transcripts in a local sqlite database.
//
// Each finished turn writes both the outgoing and incoming message with the
// turn's terminal state and the session id it ran under, so a conversation
// can be reloaded exactly as it ended.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jeranaias/knowflow-tui/internal/engine"
	"github.com/jeranaias/knowflow-tui/internal/model"
)

// schema creates the transcript tables. Idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	session_id      INTEGER NOT NULL DEFAULT 0,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	turn_state      TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages(conversation_id, created_at);
`

// =============================================================================
// TRANSCRIPT STORE
// =============================================================================

// TranscriptStore is the sqlite-backed transcript sink.
type TranscriptStore struct {
	db *sql.DB
}

// Open opens (and if needed creates) the transcript database at path,
// creating parent directories as required.
func Open(path string) (*TranscriptStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open transcript db: %w", err)
	}

	// RELIABILITY: sqlite allows one writer; serialize through a single
	// connection instead of racing on SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &TranscriptStore{db: db}, nil
}

// Close closes the underlying database.
func (s *TranscriptStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// SAVE
// =============================================================================

// SaveTurn writes both messages of a finished turn in one transaction.
func (s *TranscriptStore) SaveTurn(ctx context.Context, turn engine.Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	const insert = `
		INSERT OR REPLACE INTO messages
			(id, conversation_id, session_id, role, content, turn_state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	for _, msg := range []*model.Message{turn.Outgoing, turn.Incoming} {
		if msg == nil {
			continue
		}
		_, err := tx.ExecContext(ctx, insert,
			msg.ID,
			turn.ConversationID,
			turn.SessionID,
			msg.Role.String(),
			msg.DisplayContent(),
			turn.State.String(),
			msg.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert message %s: %w", msg.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// =============================================================================
// LOAD
// =============================================================================

// ListMessages returns a conversation's messages in send order.
func (s *TranscriptStore) ListMessages(ctx context.Context, conversationID string) ([]*model.Message, error) {
	const query = `
		SELECT id, role, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*model.Message
	for rows.Next() {
		var (
			id, role, content string
			createdAt         time.Time
		)
		if err := rows.Scan(&id, &role, &content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, model.RestoreMessage(id, model.Role(role), content, createdAt))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// ListConversations returns the distinct conversation ids, newest first.
func (s *TranscriptStore) ListConversations(ctx context.Context) ([]string, error) {
	const query = `
		SELECT conversation_id
		FROM messages
		GROUP BY conversation_id
		ORDER BY MAX(created_at) DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SessionID returns the most recent session id recorded for a
// conversation, or 0 if the conversation never bound one.
func (s *TranscriptStore) SessionID(ctx context.Context, conversationID string) (int64, error) {
	const query = `
		SELECT session_id
		FROM messages
		WHERE conversation_id = ? AND session_id > 0
		ORDER BY created_at DESC
		LIMIT 1`

	var id int64
	err := s.db.QueryRowContext(ctx, query, conversationID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("lookup session id: %w", err)
	}
	return id, nil
}
