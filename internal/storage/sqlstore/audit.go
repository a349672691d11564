package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/samijaber1/cellguard/internal/storage"
)

// CreateAuditLog appends an audit entry.
func (s *Store) CreateAuditLog(ctx context.Context, entry *storage.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	metadataJSON, err := encodeJSON(entry.Metadata, "{}")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	id, err := s.insertID(ctx, `
		INSERT INTO audit_logs (service_id, actor, action, justification, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`,
		entry.ServiceID,
		entry.Actor,
		entry.Action,
		entry.Justification,
		metadataJSON,
		utc(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	entry.ID = id
	return nil
}

// QueryAudit retrieves audit entries with filtering, newest first.
func (s *Store) QueryAudit(ctx context.Context, filter storage.AuditFilter) ([]storage.AuditLog, error) {
	query := `
		SELECT id, service_id, actor, action, justification, metadata_json, created_at
		FROM audit_logs
	`

	var conditions []string
	var params []any

	if filter.ServiceID != 0 {
		conditions = append(conditions, "service_id = ?")
		params = append(params, filter.ServiceID)
	}
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		params = append(params, filter.Action)
	}
	if filter.StartTime != nil {
		conditions = append(conditions, "created_at >= ?")
		params = append(params, utc(*filter.StartTime))
	}
	if filter.EndTime != nil {
		conditions = append(conditions, "created_at <= ?")
		params = append(params, utc(*filter.EndTime))
	}

	where, params := buildWhereClause(conditions, params)
	query += where
	query += " ORDER BY created_at DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	params = append(params, limit)

	if filter.Offset > 0 {
		query += " OFFSET ?"
		params = append(params, filter.Offset)
	}

	rows, err := s.query(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var records []storage.AuditLog
	for rows.Next() {
		var record storage.AuditLog
		var metadataJSON string

		err := rows.Scan(
			&record.ID,
			&record.ServiceID,
			&record.Actor,
			&record.Action,
			&record.Justification,
			&metadataJSON,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		record.CreatedAt = utc(record.CreatedAt)

		if record.Metadata, err = decodeMap(metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return records, nil
}
