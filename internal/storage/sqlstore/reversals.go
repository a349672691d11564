package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/samijaber1/cellguard/internal/storage"
)

// CreateReversal records a disruption that must be undone at r.DueAt.
func (s *Store) CreateReversal(ctx context.Context, r *storage.PendingReversal) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	paramsJSON, err := encodeJSON(r.Params, "{}")
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	id, err := s.insertID(ctx, `
		INSERT INTO pending_reversals (operation, params_json, due_at, attempts, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`, r.Operation, paramsJSON, utc(r.DueAt), r.Attempts, r.LastError, utc(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create reversal: %w", err)
	}
	r.ID = id
	return nil
}

// DueReversals lists uncompleted reversals whose due time has passed.
func (s *Store) DueReversals(ctx context.Context, now time.Time, limit int) ([]storage.PendingReversal, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.query(ctx, `
		SELECT id, operation, params_json, due_at, completed_at, attempts, last_error, created_at
		FROM pending_reversals
		WHERE completed_at IS NULL AND due_at <= ?
		ORDER BY due_at ASC
		LIMIT ?
	`, utc(now), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reversals: %w", err)
	}
	defer rows.Close()

	var out []storage.PendingReversal
	for rows.Next() {
		var (
			r           storage.PendingReversal
			paramsJSON  string
			completedAt sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Operation, &paramsJSON, &r.DueAt, &completedAt, &r.Attempts, &r.LastError, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reversal: %w", err)
		}
		r.DueAt = utc(r.DueAt)
		r.CreatedAt = utc(r.CreatedAt)
		r.CompletedAt = timePtr(completedAt)
		if r.Params, err = decodeMap(paramsJSON); err != nil {
			return nil, fmt.Errorf("failed to unmarshal params: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

// ClaimReversal marks a reversal completed if nobody else has.
func (s *Store) ClaimReversal(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := s.exec(ctx,
		"UPDATE pending_reversals SET completed_at = ? WHERE id = ? AND completed_at IS NULL",
		utc(at), id)
	if err != nil {
		return false, fmt.Errorf("failed to claim reversal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim reversal: %w", err)
	}
	return n == 1, nil
}

// ReleaseReversal reopens a claimed reversal and bumps its attempt count.
func (s *Store) ReleaseReversal(ctx context.Context, id int64, errMsg string) error {
	_, err := s.exec(ctx, `
		UPDATE pending_reversals
		SET completed_at = NULL, attempts = attempts + 1, last_error = ?
		WHERE id = ?
	`, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to release reversal: %w", err)
	}
	return nil
}

// AbandonReversal keeps the reversal completed and records the final error.
func (s *Store) AbandonReversal(ctx context.Context, id int64, errMsg string) error {
	_, err := s.exec(ctx,
		"UPDATE pending_reversals SET attempts = attempts + 1, last_error = ? WHERE id = ?",
		errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to abandon reversal: %w", err)
	}
	return nil
}

// CompleteAllReversals closes every open reversal.
func (s *Store) CompleteAllReversals(ctx context.Context, at time.Time, note string) (int64, error) {
	res, err := s.exec(ctx,
		"UPDATE pending_reversals SET completed_at = ?, last_error = ? WHERE completed_at IS NULL",
		utc(at), note)
	if err != nil {
		return 0, fmt.Errorf("failed to complete reversals: %w", err)
	}
	return res.RowsAffected()
}
