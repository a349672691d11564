// Package ledger records agent executions: one row per run, an append-only
// action log and the audit entries that auditable actions produce.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samijaber1/cellguard/internal/storage"
)

// DefaultJustification is used for auditable actions recorded without one.
const DefaultJustification = "Autonomous agent decision"

var (
	// ErrFinished is returned when a finished run is asked to record or
	// transition again.
	ErrFinished = errors.New("execution already finished")

	// ErrNoService is returned when an auditable action is recorded on a run
	// that is not bound to a service.
	ErrNoService = errors.New("auditable action requires a service")
)

// Store is the persistence the ledger needs.
type Store interface {
	storage.ExecutionStore
	storage.AuditStore
}

// Ledger starts runs and owns their persistence.
type Ledger struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a ledger backed by store.
func New(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:  store,
		logger: logger.With("component", "ledger"),
		now:    time.Now,
	}
}

// SetClock replaces the time source.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// Start persists a new running execution for agent.
func (l *Ledger) Start(ctx context.Context, agent string, serviceID, incidentID *int64) (*Run, error) {
	now := l.now().UTC()
	exec := storage.AgentExecution{
		AgentName:     agent,
		ServiceID:     serviceID,
		IncidentID:    incidentID,
		Status:        storage.ExecutionRunning,
		ActionDetails: []storage.ActionEntry{},
		StartedAt:     now,
		CreatedAt:     now,
	}
	if err := l.store.CreateExecution(ctx, &exec); err != nil {
		return nil, fmt.Errorf("failed to start %s execution: %w", agent, err)
	}
	return &Run{ledger: l, exec: exec}, nil
}

// Run is one in-flight execution. It is safe for concurrent use.
type Run struct {
	ledger *Ledger

	mu       sync.Mutex
	exec     storage.AgentExecution
	finished bool
}

// ID returns the execution id.
func (r *Run) ID() int64 {
	return r.exec.ID
}

// Execution returns a copy of the current execution state.
func (r *Run) Execution() storage.AgentExecution {
	r.mu.Lock()
	defer r.mu.Unlock()

	exec := r.exec
	exec.ActionDetails = append([]storage.ActionEntry(nil), r.exec.ActionDetails...)
	return exec
}

// Record appends an action to the log and mirrors its name onto action_taken.
func (r *Run) Record(ctx context.Context, action string, details map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.appendLocked(ctx, action, details)
}

// RecordAudited records an action and writes an audit log entry for it.
func (r *Run) RecordAudited(ctx context.Context, action string, details map[string]any, justification string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.exec.ServiceID == nil {
		return ErrNoService
	}
	if err := r.appendLocked(ctx, action, details); err != nil {
		return err
	}
	if justification == "" {
		justification = DefaultJustification
	}

	if details == nil {
		details = map[string]any{}
	}
	entry := &storage.AuditLog{
		ServiceID:     *r.exec.ServiceID,
		Actor:         "Agent::" + r.exec.AgentName,
		Action:        action,
		Justification: justification,
		Metadata: map[string]any{
			"agent_execution_id": r.exec.ID,
			"details":            details,
		},
		CreatedAt: r.ledger.now().UTC(),
	}
	if err := r.ledger.store.CreateAuditLog(ctx, entry); err != nil {
		return fmt.Errorf("failed to audit %s: %w", action, err)
	}
	return nil
}

func (r *Run) appendLocked(ctx context.Context, action string, details map[string]any) error {
	if r.finished {
		return ErrFinished
	}
	if details == nil {
		details = map[string]any{}
	}
	entries := append(append([]storage.ActionEntry(nil), r.exec.ActionDetails...), storage.ActionEntry{
		Action:    action,
		Details:   details,
		Timestamp: r.ledger.now().UTC(),
	})
	if err := r.ledger.store.UpdateExecutionActions(ctx, r.exec.ID, action, entries); err != nil {
		return fmt.Errorf("failed to record %s: %w", action, err)
	}
	r.exec.ActionDetails = entries
	r.exec.ActionTaken = action
	return nil
}

// Complete transitions the run to completed with result as its payload.
func (r *Run) Complete(ctx context.Context, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return r.finish(ctx, storage.ExecutionCompleted, payload, "")
}

// Fail transitions the run to failed with msg as the error message.
func (r *Run) Fail(ctx context.Context, msg string) error {
	return r.finish(ctx, storage.ExecutionFailed, nil, msg)
}

func (r *Run) finish(ctx context.Context, status storage.ExecutionStatus, result json.RawMessage, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		return ErrFinished
	}
	now := r.ledger.now().UTC()
	if err := r.ledger.store.FinishExecution(ctx, r.exec.ID, status, result, msg, now); err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			// Someone else (the reaper) already finished this run.
			r.finished = true
			return ErrFinished
		}
		return fmt.Errorf("failed to finish execution: %w", err)
	}
	r.finished = true
	r.exec.Status = status
	r.exec.Result = result
	r.exec.ErrorMessage = msg
	r.exec.CompletedAt = &now
	return nil
}
