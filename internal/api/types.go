package api

import (
	"time"

	"github.com/samijaber1/cellguard/internal/storage"
)

// HealthResponse represents health check response
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse represents readiness check response
type ReadyResponse struct {
	Ready          bool     `json:"ready"`
	ServicesLoaded int      `json:"services_loaded"`
	BudgetsCached  int      `json:"budgets_cached"`
	Reasons        []string `json:"reasons,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ServicesResponse lists known services.
type ServicesResponse struct {
	Services []storage.Service `json:"services"`
}

// OverrideRequest is the body of POST /api/release-gate/override.
type OverrideRequest struct {
	Service       string `json:"service" validate:"required"`
	Actor         string `json:"actor" validate:"required"`
	Justification string `json:"justification" validate:"required"`
}

// OverrideResponse confirms an override.
type OverrideResponse struct {
	Success bool             `json:"success"`
	AuditID int64            `json:"audit_id"`
	Audit   storage.AuditLog `json:"audit"`
}

// JobStatRequest is the body of POST /api/ingest/job-stat.
type JobStatRequest struct {
	Service        string         `json:"service" validate:"required"`
	QueueNamespace string         `json:"queue_namespace"`
	PeriodStart    time.Time      `json:"period_start" validate:"required"`
	PeriodEnd      time.Time      `json:"period_end" validate:"required"`
	JobCount       int64          `json:"job_count" validate:"gte=0"`
	ErrorCount     int64          `json:"error_count" validate:"gte=0"`
	LatencyP95Ms   int64          `json:"latency_p95_ms" validate:"gte=0"`
	Meta           map[string]any `json:"meta"`
}

// EvaluateRequest is the body of POST /api/evaluate.
type EvaluateRequest struct {
	Service       string `json:"service"`
	WindowMinutes int    `json:"window_minutes" validate:"gte=0,lte=10080"`
}

// InjectRequest is the body of POST /api/inject-failures.
type InjectRequest struct {
	Service      string   `json:"service"`
	Queue        string   `json:"queue"`
	Minutes      int      `json:"minutes" validate:"gte=0,lte=1440"`
	ErrorRate    *float64 `json:"error_rate" validate:"omitempty,gte=0,lte=1"`
	Total        int64    `json:"total" validate:"gte=0"`
	P95LatencyMs int64    `json:"p95_latency_ms" validate:"gte=0"`
}

// PartitionRequest is the body of POST /api/chaos/partition.
type PartitionRequest struct {
	Mode            string `json:"mode"`
	DurationSeconds int    `json:"duration_seconds" validate:"gte=0,lte=3600"`
	DelayMs         int    `json:"delay_ms" validate:"gte=0,lte=60000"`
	LossPercent     int    `json:"loss_percent" validate:"gte=0,lte=100"`
}

// ScheduleRequest is the body of POST /api/chaos/schedule.
type ScheduleRequest struct {
	Service string     `json:"service"`
	At      *time.Time `json:"at"`
}

// IncidentStatusRequest is the body of POST /api/incidents/{id}/status.
type IncidentStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// ToggleRequest is the body of POST /api/agents/{name}/toggle.
type ToggleRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// ToggleResponse confirms a toggle.
type ToggleResponse struct {
	Agent   string `json:"agent"`
	Enabled bool   `json:"enabled"`
}

// RunAllResponse reports a run-all request.
type RunAllResponse struct {
	Async    bool   `json:"async"`
	Jobs     any    `json:"jobs,omitempty"`
	Outcomes any    `json:"outcomes,omitempty"`
	Errors   string `json:"errors,omitempty"`
}
