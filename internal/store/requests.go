// ABOUTME: SQLite persistence for connection requests
// ABOUTME: Resolution and conversation creation on accept commit in one transaction

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/2389/coven-inbox/internal/chat"
)

const requestColumns = `id, initiator, receiver, message, status, created_at`

// CreateRequest stores a new pending request.
func (s *SQLiteStore) CreateRequest(ctx context.Context, req *chat.ConnectionRequest) error {
	query := `
		INSERT INTO connection_requests (id, initiator, receiver, pair_key, message, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		req.ID,
		req.Initiator,
		req.Receiver,
		chat.PairKey(req.Initiator, req.Receiver),
		req.Message,
		string(req.Status),
		formatTime(req.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting request: %w", err)
	}

	s.logger.Debug("created request", "id", req.ID, "initiator", req.Initiator, "receiver", req.Receiver)
	return nil
}

// GetRequest retrieves a request by ID.
func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*chat.ConnectionRequest, error) {
	return getRequest(ctx, s.db, id)
}

// ListPendingRequests returns pending requests userID sent or received,
// oldest first.
func (s *SQLiteStore) ListPendingRequests(ctx context.Context, userID string) ([]*chat.ConnectionRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM connection_requests
		WHERE status = 'PENDING' AND (initiator = ? OR receiver = ?)
		ORDER BY created_at, id
	`

	rows, err := s.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying requests: %w", err)
	}
	defer rows.Close()

	var out []*chat.ConnectionRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// ResolveRequest moves a pending request to status and, when conv is set,
// creates the conversation in the same transaction.
func (s *SQLiteStore) ResolveRequest(ctx context.Context, id string, status chat.RequestStatus, conv *Conversation) (*chat.ConnectionRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE connection_requests SET status = ? WHERE id = ? AND status = 'PENDING'`,
		string(status), id)
	if err != nil {
		return nil, fmt.Errorf("updating request: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		if _, err := getRequest(ctx, tx, id); err != nil {
			return nil, err
		}
		return nil, ErrNotPending
	}

	if conv != nil {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (`+conversationColumns+`)
			VALUES (?, ?, ?, ?, ?)
		`, conv.ID, conv.UserA, conv.UserB, formatTime(conv.CreatedAt), formatTime(conv.UpdatedAt))
		if err != nil {
			if isConstraintViolation(err) {
				return nil, ErrDuplicate
			}
			return nil, fmt.Errorf("inserting conversation: %w", err)
		}
	}

	req, err := getRequest(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing resolution: %w", err)
	}

	s.logger.Debug("resolved request", "id", id, "status", status)
	return req, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRequest(ctx context.Context, q queryRower, id string) (*chat.ConnectionRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM connection_requests WHERE id = ?`

	req, err := scanRequest(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying request: %w", err)
	}
	return req, nil
}

func scanRequest(row scanner) (*chat.ConnectionRequest, error) {
	var req chat.ConnectionRequest
	var status, createdAtStr string
	if err := row.Scan(&req.ID, &req.Initiator, &req.Receiver, &req.Message, &status, &createdAtStr); err != nil {
		return nil, err
	}
	req.Status = chat.RequestStatus(status)
	var err error
	if req.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &req, nil
}
