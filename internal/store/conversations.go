// ABOUTME: SQLite persistence for direct conversations, their messages and read marks
// ABOUTME: A user pair has at most one conversation; messages bump its updated_at

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const conversationColumns = `id, user_a, user_b, created_at, updated_at`

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// GetConversationByPair retrieves the conversation between a and b in
// either order.
func (s *SQLiteStore) GetConversationByPair(ctx context.Context, a, b string) (*Conversation, error) {
	if a > b {
		a, b = b, a
	}
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE user_a = ? AND user_b = ?`

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, a, b))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// ListConversationsForUser returns userID's conversations, most recently
// updated first.
func (s *SQLiteStore) ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE user_a = ? OR user_b = ?
		ORDER BY updated_at DESC, id
	`

	rows, err := s.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// SaveMessage stores msg and moves its conversation's updated_at to the
// message time.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	created := formatTime(msg.CreatedAt)
	result, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		created, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	} else if n == 0 {
		return ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.Sender, msg.Content, created)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}
	return nil
}

// ListMessages returns the latest limit messages (all when limit <= 0),
// oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT id, conversation_id, sender, content, created_at FROM (
			SELECT rowid AS seq, id, conversation_id, sender, content, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		) ORDER BY created_at ASC, seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// LastMessage returns the newest message of a conversation.
func (s *SQLiteStore) LastMessage(ctx context.Context, conversationID string) (*Message, error) {
	query := `
		SELECT id, conversation_id, sender, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying last message: %w", err)
	}
	return msg, nil
}

// CountUnread counts the partner's messages newer than userID's read mark.
func (s *SQLiteStore) CountUnread(ctx context.Context, conversationID, userID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ?
		  AND sender != ?
		  AND created_at > COALESCE(
			(SELECT last_read_at FROM conversation_reads WHERE conversation_id = ? AND user_id = ?), '')
	`

	var n int
	if err := s.db.QueryRowContext(ctx, query, conversationID, userID, conversationID, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting unread: %w", err)
	}
	return n, nil
}

// MarkRead moves userID's read mark forward to at. It never moves back.
func (s *SQLiteStore) MarkRead(ctx context.Context, conversationID, userID string, at time.Time) error {
	query := `
		INSERT INTO conversation_reads (conversation_id, user_id, last_read_at)
		VALUES (?, ?, ?)
		ON CONFLICT (conversation_id, user_id) DO UPDATE
			SET last_read_at = excluded.last_read_at
			WHERE excluded.last_read_at > conversation_reads.last_read_at
	`

	if _, err := s.db.ExecContext(ctx, query, conversationID, userID, formatTime(at)); err != nil {
		return fmt.Errorf("marking read: %w", err)
	}
	return nil
}

// LastRead returns userID's read mark, or the zero time.
func (s *SQLiteStore) LastRead(ctx context.Context, conversationID, userID string) (time.Time, error) {
	query := `SELECT last_read_at FROM conversation_reads WHERE conversation_id = ? AND user_id = ?`

	var at string
	err := s.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("querying read mark: %w", err)
	}
	return parseTime(at)
}

func scanConversation(row scanner) (*Conversation, error) {
	var conv Conversation
	var createdAtStr, updatedAtStr string
	if err := row.Scan(&conv.ID, &conv.UserA, &conv.UserB, &createdAtStr, &updatedAtStr); err != nil {
		return nil, err
	}
	var err error
	if conv.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if conv.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &conv, nil
}

func scanMessage(row scanner) (*Message, error) {
	var msg Message
	var createdAtStr string
	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.Sender, &msg.Content, &createdAtStr); err != nil {
		return nil, err
	}
	var err error
	if msg.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &msg, nil
}
