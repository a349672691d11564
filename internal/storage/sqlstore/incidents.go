package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samijaber1/cellguard/internal/storage"
)

const incidentColumns = `id, service_id, title, severity_label, team_label, service_label, status,
	context_json, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*storage.Incident, error) {
	var (
		inc         storage.Incident
		status      string
		contextJSON string
	)
	err := row.Scan(
		&inc.ID,
		&inc.ServiceID,
		&inc.Title,
		&inc.SeverityLabel,
		&inc.TeamLabel,
		&inc.ServiceLabel,
		&status,
		&contextJSON,
		&inc.CreatedAt,
		&inc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inc.Status = storage.IncidentStatus(status)
	inc.CreatedAt = utc(inc.CreatedAt)
	inc.UpdatedAt = utc(inc.UpdatedAt)
	if inc.Context, err = decodeMap(contextJSON); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context: %w", err)
	}
	return &inc, nil
}

func (s *Store) listIncidents(ctx context.Context, query string, args ...any) ([]storage.Incident, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	var incidents []storage.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		incidents = append(incidents, *inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return incidents, nil
}

// CreateIncident inserts inc and fills in its id and timestamps.
func (s *Store) CreateIncident(ctx context.Context, inc *storage.Incident) error {
	if inc.Status == "" {
		inc.Status = storage.IncidentActive
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = time.Now()
	}
	if inc.UpdatedAt.IsZero() {
		inc.UpdatedAt = inc.CreatedAt
	}
	contextJSON, err := encodeJSON(inc.Context, "{}")
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}

	id, err := s.insertID(ctx, `
		INSERT INTO incidents (
			service_id, title, severity_label, team_label, service_label, status,
			context_json, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`,
		inc.ServiceID,
		inc.Title,
		inc.SeverityLabel,
		inc.TeamLabel,
		inc.ServiceLabel,
		string(inc.Status),
		contextJSON,
		utc(inc.CreatedAt),
		utc(inc.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}
	inc.ID = id
	return nil
}

// GetIncident returns one incident or storage.ErrNotFound.
func (s *Store) GetIncident(ctx context.Context, id int64) (*storage.Incident, error) {
	inc, err := scanIncident(s.queryRow(ctx, "SELECT "+incidentColumns+" FROM incidents WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}
	return inc, nil
}

// UpdateIncidentContext replaces the structured context of an incident.
func (s *Store) UpdateIncidentContext(ctx context.Context, id int64, context map[string]any) error {
	contextJSON, err := encodeJSON(context, "{}")
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}
	res, err := s.exec(ctx, "UPDATE incidents SET context_json = ?, updated_at = ? WHERE id = ?",
		contextJSON, utc(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update incident context: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateIncidentStatus sets the lifecycle status of an incident.
func (s *Store) UpdateIncidentStatus(ctx context.Context, id int64, status storage.IncidentStatus) error {
	res, err := s.exec(ctx, "UPDATE incidents SET status = ?, updated_at = ? WHERE id = ?",
		string(status), utc(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update incident status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func incidentWhere(filter storage.IncidentFilter) (string, []any) {
	conditions := []string{"1=1"}
	args := []any{}

	if filter.ServiceID != 0 {
		conditions = append(conditions, "service_id = ?")
		args = append(args, filter.ServiceID)
	}
	if len(filter.Statuses) > 0 {
		conditions = append(conditions, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if filter.CreatedAfter != nil {
		conditions = append(conditions, "created_at > ?")
		args = append(args, utc(*filter.CreatedAfter))
	}
	if filter.CreatedBefore != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, utc(*filter.CreatedBefore))
	}
	if filter.GateLock {
		conditions = append(conditions, "(LOWER(title) LIKE ? OR context_json LIKE ?)")
		args = append(args, "%burning_error_budget%", `%"reason":"burning_error_budget"%`)
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// ListIncidents returns incidents matching filter, newest first.
func (s *Store) ListIncidents(ctx context.Context, filter storage.IncidentFilter) ([]storage.Incident, error) {
	where, args := incidentWhere(filter)
	query := "SELECT " + incidentColumns + " FROM incidents" + where + " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return s.listIncidents(ctx, query, args...)
}

// CountIncidents counts incidents matching filter.
func (s *Store) CountIncidents(ctx context.Context, filter storage.IncidentFilter) (int, error) {
	where, args := incidentWhere(filter)
	var n int
	if err := s.queryRow(ctx, "SELECT COUNT(*) FROM incidents"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count incidents: %w", err)
	}
	return n, nil
}

// FindSimilarIncidents returns incidents of the same service created after
// since that share the severity label or contain titlePrefix, excluding inc.
func (s *Store) FindSimilarIncidents(ctx context.Context, inc *storage.Incident, titlePrefix string, since time.Time, limit int) ([]storage.Incident, error) {
	if limit <= 0 {
		limit = 3
	}
	return s.listIncidents(ctx, `
		SELECT `+incidentColumns+` FROM incidents
		WHERE service_id = ? AND id <> ? AND created_at > ?
		  AND (severity_label = ? OR LOWER(title) LIKE ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, inc.ServiceID, inc.ID, utc(since), inc.SeverityLabel, "%"+strings.ToLower(titlePrefix)+"%", limit)
}

// ListUnprocessedIncidents returns open incidents created after since that
// have no execution newer than their creation.
func (s *Store) ListUnprocessedIncidents(ctx context.Context, serviceID int64, since time.Time, limit int) ([]storage.Incident, error) {
	if limit <= 0 {
		limit = 5
	}
	return s.listIncidents(ctx, `
		SELECT i.id, i.service_id, i.title, i.severity_label, i.team_label, i.service_label, i.status,
		       i.context_json, i.created_at, i.updated_at
		FROM incidents i
		LEFT JOIN agent_executions e ON e.incident_id = i.id
		WHERE i.service_id = ? AND i.status IN (?, ?) AND i.created_at > ?
		GROUP BY i.id
		HAVING COUNT(e.id) = 0 OR MAX(e.created_at) < i.created_at
		ORDER BY i.created_at DESC
		LIMIT ?
	`, serviceID, string(storage.IncidentActive), string(storage.IncidentInvestigating), utc(since), limit)
}
