package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a keyed lookup has no row.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when an execution that already reached
	// a terminal state is asked to transition again.
	ErrInvalidTransition = errors.New("execution is not running")
)

// Service is a named, independently monitored unit (a shard).
type Service struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrorBudget is the budget state for one service. It is mutated only by the
// budget evaluator.
type ErrorBudget struct {
	ServiceID          int64      `json:"service_id"`
	SLOTarget          float64    `json:"slo_target"`
	WindowDays         int        `json:"window_days"`
	WindowStart        time.Time  `json:"window_start"`
	BudgetConsumed     float64    `json:"budget_consumed"`
	BudgetRemaining    float64    `json:"budget_remaining"`
	CurrentBurnRate    float64    `json:"current_burn_rate"`
	ReleaseGateOpen    bool       `json:"release_gate_open"`
	EvaluatedAt        *time.Time `json:"evaluated_at"`
	ViolationStartedAt *time.Time `json:"violation_started_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// JobStat is an immutable throughput aggregate for one queue over one period.
type JobStat struct {
	ID             int64          `json:"id"`
	ServiceID      int64          `json:"service_id"`
	QueueNamespace string         `json:"queue_namespace"`
	PeriodStart    time.Time      `json:"period_start"`
	PeriodEnd      time.Time      `json:"period_end"`
	JobCount       int64          `json:"job_count"`
	ErrorCount     int64          `json:"error_count"`
	LatencyP95Ms   int64          `json:"latency_p95_ms"`
	Meta           map[string]any `json:"meta"`
}

// WindowTotals sums the job stats overlapping a window.
type WindowTotals struct {
	Jobs         int64
	Errors       int64
	MaxLatencyMs int64
}

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus string

const (
	IncidentActive        IncidentStatus = "active"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentResolved      IncidentStatus = "resolved"
)

// OpenIncidentStatuses are the statuses that count as an ongoing incident.
var OpenIncidentStatuses = []IncidentStatus{IncidentActive, IncidentInvestigating}

// Valid reports whether s is a known status.
func (s IncidentStatus) Valid() bool {
	switch s {
	case IncidentActive, IncidentInvestigating, IncidentResolved:
		return true
	}
	return false
}

// Incident belongs to a service and accumulates structured context.
type Incident struct {
	ID            int64          `json:"id"`
	ServiceID     int64          `json:"service_id"`
	Title         string         `json:"title"`
	SeverityLabel string         `json:"severity_label"`
	TeamLabel     string         `json:"team_label"`
	ServiceLabel  string         `json:"service_label"`
	Status        IncidentStatus `json:"status"`
	Context       map[string]any `json:"context"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// ExecutionStatus is the lifecycle state of an agent run.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// ActionEntry is one element of an execution's append-only action log.
type ActionEntry struct {
	Action    string         `json:"action"`
	Details   map[string]any `json:"details"`
	Timestamp time.Time      `json:"timestamp"`
}

// AgentExecution is one agent run.
type AgentExecution struct {
	ID            int64           `json:"id"`
	AgentName     string          `json:"agent_name"`
	ServiceID     *int64          `json:"service_id"`
	ServiceName   string          `json:"service,omitempty"`
	IncidentID    *int64          `json:"incident_id"`
	Status        ExecutionStatus `json:"status"`
	ActionTaken   string          `json:"action_taken"`
	ActionDetails []ActionEntry   `json:"action_details"`
	Result        json.RawMessage `json:"result,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at"`
	CreatedAt     time.Time       `json:"created_at"`
}

// DurationMs returns the run duration; a running execution is measured to now.
func (e AgentExecution) DurationMs(now time.Time) int64 {
	if e.StartedAt.IsZero() {
		return 0
	}
	end := now
	if e.CompletedAt != nil {
		end = *e.CompletedAt
	}
	return end.Sub(e.StartedAt).Milliseconds()
}

// Description is a human label for the feed.
func (e AgentExecution) Description() string {
	switch {
	case e.ActionTaken != "":
		return Humanize(e.ActionTaken)
	case e.Status == ExecutionFailed:
		return "Agent run failed"
	default:
		return "Agent run"
	}
}

// Humanize turns "drill_skipped" into "Drill skipped".
func Humanize(s string) string {
	s = strings.ToLower(strings.ReplaceAll(s, "_", " "))
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// AuditLog is an immutable record of a significant action.
type AuditLog struct {
	ID            int64          `json:"id"`
	ServiceID     int64          `json:"service_id"`
	Actor         string         `json:"actor"`
	Action        string         `json:"action"`
	Justification string         `json:"justification"`
	Metadata      map[string]any `json:"metadata"`
	CreatedAt     time.Time      `json:"created_at"`
}

// PendingReversal is a durable record of a chaos disruption that must be undone.
type PendingReversal struct {
	ID          int64          `json:"id"`
	Operation   string         `json:"operation"`
	Params      map[string]any `json:"params"`
	DueAt       time.Time      `json:"due_at"`
	CompletedAt *time.Time     `json:"completed_at"`
	Attempts    int            `json:"attempts"`
	LastError   string         `json:"last_error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// IncidentFilter narrows incident queries. Zero fields are ignored.
type IncidentFilter struct {
	ServiceID     int64
	Statuses      []IncidentStatus
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	// GateLock matches incidents raised for a burning error budget.
	GateLock bool
	Limit    int
}

// ExecutionFilter narrows execution queries. Zero fields are ignored.
type ExecutionFilter struct {
	AgentName    string
	ServiceID    *int64
	Status       ExecutionStatus
	CreatedAfter *time.Time
	// Action matches executions that recorded this action anywhere in their
	// log, not only as the last action.
	Action string
	// ExcludeID skips one execution, usually the caller's own run.
	ExcludeID int64
	Limit     int
}

// AuditFilter defines filtering options for audit queries
type AuditFilter struct {
	ServiceID int64
	Action    string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// ServiceStore persists services.
type ServiceStore interface {
	// EnsureService finds a service by name, creating it if missing.
	EnsureService(ctx context.Context, name string) (*Service, error)
	GetService(ctx context.Context, name string) (*Service, error)
	GetServiceByID(ctx context.Context, id int64) (*Service, error)
	ListServices(ctx context.Context) ([]Service, error)
}

// BudgetStore persists error budgets.
type BudgetStore interface {
	GetBudget(ctx context.Context, serviceID int64) (*ErrorBudget, error)
	// CreateBudget inserts b unless the service already has a budget.
	CreateBudget(ctx context.Context, b *ErrorBudget) error
	SaveBudget(ctx context.Context, b *ErrorBudget) error
	// UpdateBudgetPolicy changes the SLO target and window of an existing budget.
	UpdateBudgetPolicy(ctx context.Context, serviceID int64, sloTarget float64, windowDays int) error
}

// JobStatStore persists job statistics.
type JobStatStore interface {
	// UpsertJobStat inserts or replaces the stat keyed by
	// (service, queue, period_start, period_end), merging meta.
	UpsertJobStat(ctx context.Context, stat *JobStat) error
	// SumJobStats totals stats with period_end >= from and period_start <= to.
	SumJobStats(ctx context.Context, serviceID int64, from, to time.Time) (WindowTotals, error)
}

// IncidentStore persists incidents.
type IncidentStore interface {
	CreateIncident(ctx context.Context, inc *Incident) error
	GetIncident(ctx context.Context, id int64) (*Incident, error)
	UpdateIncidentContext(ctx context.Context, id int64, context map[string]any) error
	UpdateIncidentStatus(ctx context.Context, id int64, status IncidentStatus) error
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error)
	CountIncidents(ctx context.Context, filter IncidentFilter) (int, error)
	// FindSimilarIncidents returns incidents of the same service created after
	// since that share the severity label or contain titlePrefix, excluding inc.
	FindSimilarIncidents(ctx context.Context, inc *Incident, titlePrefix string, since time.Time, limit int) ([]Incident, error)
	// ListUnprocessedIncidents returns open incidents created after since that
	// have no execution newer than their creation.
	ListUnprocessedIncidents(ctx context.Context, serviceID int64, since time.Time, limit int) ([]Incident, error)
}

// ExecutionStore persists agent executions.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec *AgentExecution) error
	UpdateExecutionActions(ctx context.Context, id int64, actionTaken string, actions []ActionEntry) error
	// FinishExecution moves a running execution to a terminal status. It
	// returns ErrInvalidTransition if the execution is not running.
	FinishExecution(ctx context.Context, id int64, status ExecutionStatus, result json.RawMessage, errMsg string, completedAt time.Time) error
	GetExecution(ctx context.Context, id int64) (*AgentExecution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]AgentExecution, error)
	CountExecutions(ctx context.Context, filter ExecutionFilter) (int, error)
	// FailStaleExecutions fails running executions started before cutoff.
	FailStaleExecutions(ctx context.Context, cutoff time.Time, msg string, completedAt time.Time) (int64, error)
}

// AuditStore persists audit logs.
type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry *AuditLog) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditLog, error)
}

// ConfigStore persists agent configuration overrides.
type ConfigStore interface {
	GetConfigValue(ctx context.Context, key string) (string, bool, error)
	SetConfigValue(ctx context.Context, key, value string) error
}

// ReversalStore persists pending chaos reversals.
type ReversalStore interface {
	CreateReversal(ctx context.Context, r *PendingReversal) error
	DueReversals(ctx context.Context, now time.Time, limit int) ([]PendingReversal, error)
	// ClaimReversal marks a reversal completed if nobody else has; it reports
	// whether this caller won the claim.
	ClaimReversal(ctx context.Context, id int64, at time.Time) (bool, error)
	// ReleaseReversal undoes a claim after a failed attempt.
	ReleaseReversal(ctx context.Context, id int64, errMsg string) error
	// AbandonReversal keeps the reversal completed but records the final error.
	AbandonReversal(ctx context.Context, id int64, errMsg string) error
	// CompleteAllReversals closes every open reversal, e.g. after a full heal.
	CompleteAllReversals(ctx context.Context, at time.Time, note string) (int64, error)
}

// Store is the full durable store.
type Store interface {
	ServiceStore
	BudgetStore
	JobStatStore
	IncidentStore
	ExecutionStore
	AuditStore
	ConfigStore
	ReversalStore

	// Close closes the storage connection
	Close() error
}
