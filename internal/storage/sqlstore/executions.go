package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samijaber1/cellguard/internal/storage"
)

const executionSelect = `SELECT e.id, e.agent_name, e.service_id, COALESCE(s.name, ''), e.incident_id,
	e.status, e.action_taken, e.action_details_json, e.result_json, e.error_message,
	e.started_at, e.completed_at, e.created_at
	FROM agent_executions e
	LEFT JOIN services s ON s.id = e.service_id`

func scanExecution(row rowScanner) (*storage.AgentExecution, error) {
	var (
		exec        storage.AgentExecution
		serviceID   sql.NullInt64
		incidentID  sql.NullInt64
		status      string
		actionsJSON string
		resultJSON  sql.NullString
		completedAt sql.NullTime
	)
	err := row.Scan(
		&exec.ID,
		&exec.AgentName,
		&serviceID,
		&exec.ServiceName,
		&incidentID,
		&status,
		&exec.ActionTaken,
		&actionsJSON,
		&resultJSON,
		&exec.ErrorMessage,
		&exec.StartedAt,
		&completedAt,
		&exec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	exec.ServiceID = intPtr(serviceID)
	exec.IncidentID = intPtr(incidentID)
	exec.Status = storage.ExecutionStatus(status)
	exec.StartedAt = utc(exec.StartedAt)
	exec.CreatedAt = utc(exec.CreatedAt)
	exec.CompletedAt = timePtr(completedAt)
	if resultJSON.Valid && resultJSON.String != "" {
		exec.Result = json.RawMessage(resultJSON.String)
	}

	exec.ActionDetails = []storage.ActionEntry{}
	if actionsJSON != "" {
		if err := json.Unmarshal([]byte(actionsJSON), &exec.ActionDetails); err != nil {
			return nil, fmt.Errorf("failed to unmarshal action details: %w", err)
		}
	}
	return &exec, nil
}

// CreateExecution inserts a new execution record.
func (s *Store) CreateExecution(ctx context.Context, exec *storage.AgentExecution) error {
	if exec.Status == "" {
		exec.Status = storage.ExecutionRunning
	}
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now()
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = exec.StartedAt
	}
	if exec.ActionDetails == nil {
		exec.ActionDetails = []storage.ActionEntry{}
	}
	actionsJSON, err := encodeJSON(exec.ActionDetails, "[]")
	if err != nil {
		return fmt.Errorf("failed to marshal action details: %w", err)
	}

	id, err := s.insertID(ctx, `
		INSERT INTO agent_executions (
			agent_name, service_id, incident_id, status, action_taken,
			action_details_json, error_message, started_at, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`,
		exec.AgentName,
		nullableInt(exec.ServiceID),
		nullableInt(exec.IncidentID),
		string(exec.Status),
		exec.ActionTaken,
		actionsJSON,
		exec.ErrorMessage,
		utc(exec.StartedAt),
		utc(exec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	exec.ID = id
	return nil
}

// UpdateExecutionActions rewrites the action log of a running execution.
func (s *Store) UpdateExecutionActions(ctx context.Context, id int64, actionTaken string, actions []storage.ActionEntry) error {
	actionsJSON, err := encodeJSON(actions, "[]")
	if err != nil {
		return fmt.Errorf("failed to marshal action details: %w", err)
	}
	res, err := s.exec(ctx, `
		UPDATE agent_executions SET action_taken = ?, action_details_json = ?
		WHERE id = ? AND status = ?
	`, actionTaken, actionsJSON, id, string(storage.ExecutionRunning))
	if err != nil {
		return fmt.Errorf("failed to update execution actions: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrInvalidTransition
	}
	return nil
}

// FinishExecution moves a running execution to a terminal status.
func (s *Store) FinishExecution(ctx context.Context, id int64, status storage.ExecutionStatus, result json.RawMessage, errMsg string, completedAt time.Time) error {
	var resultValue any
	if len(result) > 0 {
		resultValue = string(result)
	}
	res, err := s.exec(ctx, `
		UPDATE agent_executions
		SET status = ?, result_json = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, string(status), resultValue, errMsg, utc(completedAt), id, string(storage.ExecutionRunning))
	if err != nil {
		return fmt.Errorf("failed to finish execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrInvalidTransition
	}
	return nil
}

// GetExecution returns one execution or storage.ErrNotFound.
func (s *Store) GetExecution(ctx context.Context, id int64) (*storage.AgentExecution, error) {
	exec, err := scanExecution(s.queryRow(ctx, executionSelect+" WHERE e.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return exec, nil
}

func executionWhere(filter storage.ExecutionFilter) (string, []any) {
	conditions := []string{"1=1"}
	args := []any{}

	if filter.AgentName != "" {
		conditions = append(conditions, "e.agent_name = ?")
		args = append(args, filter.AgentName)
	}
	if filter.ServiceID != nil {
		conditions = append(conditions, "e.service_id = ?")
		args = append(args, *filter.ServiceID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "e.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.CreatedAfter != nil {
		conditions = append(conditions, "e.created_at > ?")
		args = append(args, utc(*filter.CreatedAfter))
	}
	if filter.Action != "" {
		conditions = append(conditions, "(e.action_taken = ? OR e.action_details_json LIKE ?)")
		args = append(args, filter.Action, `%"action":"`+filter.Action+`"%`)
	}
	if filter.ExcludeID != 0 {
		conditions = append(conditions, "e.id <> ?")
		args = append(args, filter.ExcludeID)
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// ListExecutions returns executions matching filter, newest first.
func (s *Store) ListExecutions(ctx context.Context, filter storage.ExecutionFilter) ([]storage.AgentExecution, error) {
	where, args := executionWhere(filter)
	query := executionSelect + where + " ORDER BY e.created_at DESC, e.id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var executions []storage.AgentExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, *exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return executions, nil
}

// CountExecutions counts executions matching filter.
func (s *Store) CountExecutions(ctx context.Context, filter storage.ExecutionFilter) (int, error) {
	where, args := executionWhere(filter)
	var n int
	if err := s.queryRow(ctx, "SELECT COUNT(*) FROM agent_executions e"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}
	return n, nil
}

// FailStaleExecutions fails running executions started before cutoff.
func (s *Store) FailStaleExecutions(ctx context.Context, cutoff time.Time, msg string, completedAt time.Time) (int64, error) {
	res, err := s.exec(ctx, `
		UPDATE agent_executions
		SET status = ?, error_message = ?, completed_at = ?
		WHERE status = ? AND started_at < ?
	`, string(storage.ExecutionFailed), msg, utc(completedAt), string(storage.ExecutionRunning), utc(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to reap executions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count reaped executions: %w", err)
	}
	return n, nil
}
