package controlplane

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/samijaber1/cellguard/internal/classifier"
	"github.com/samijaber1/cellguard/internal/metrics"
	"github.com/samijaber1/cellguard/internal/storage"
)

// DefaultWindowMinutes is the classification window of an evaluation.
const DefaultWindowMinutes = 60

// JobStatInput is one ingested throughput aggregate.
type JobStatInput struct {
	Service        string
	QueueNamespace string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	JobCount       int64
	ErrorCount     int64
	LatencyP95Ms   int64
	Meta           map[string]any
}

// IngestJobStat upserts a stat keyed by service, queue and period. The
// caller must have passed Authorize.
func (c *ControlPlane) IngestJobStat(ctx context.Context, in JobStatInput) (*storage.JobStat, error) {
	switch {
	case in.Service == "":
		return nil, fmt.Errorf("%w: service is required", ErrValidation)
	case strings.TrimSpace(in.QueueNamespace) == "":
		return nil, fmt.Errorf("%w: queue_namespace is required", ErrValidation)
	case in.PeriodStart.IsZero() || in.PeriodEnd.IsZero():
		return nil, fmt.Errorf("%w: period_start and period_end are required", ErrValidation)
	case in.PeriodEnd.Before(in.PeriodStart):
		return nil, fmt.Errorf("%w: period_end is before period_start", ErrValidation)
	case in.JobCount < 0 || in.ErrorCount < 0 || in.LatencyP95Ms < 0:
		return nil, fmt.Errorf("%w: counts must not be negative", ErrValidation)
	}

	svc, err := c.store.EnsureService(ctx, in.Service)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure service: %w", err)
	}
	stat := &storage.JobStat{
		ServiceID:      svc.ID,
		QueueNamespace: in.QueueNamespace,
		PeriodStart:    in.PeriodStart.UTC(),
		PeriodEnd:      in.PeriodEnd.UTC(),
		JobCount:       in.JobCount,
		ErrorCount:     in.ErrorCount,
		LatencyP95Ms:   in.LatencyP95Ms,
		Meta:           in.Meta,
	}
	if err := c.store.UpsertJobStat(ctx, stat); err != nil {
		return nil, fmt.Errorf("failed to store job stat: %w", err)
	}
	return stat, nil
}

// BudgetSummary is the budget part of an evaluation result.
type BudgetSummary struct {
	Remaining float64 `json:"remaining"`
	Consumed  float64 `json:"consumed"`
	BurnRate  float64 `json:"burn_rate"`
	GateOpen  bool    `json:"gate_open"`
}

// EvaluationResult is the outcome of Evaluate.
type EvaluationResult struct {
	Service    string              `json:"service"`
	Budget     BudgetSummary       `json:"budget"`
	Classifier classifier.Response `json:"classifier"`
	IncidentID *int64              `json:"incident_id,omitempty"`
}

// Evaluate recomputes the budget, classifies the recent window and opens an
// incident when the classifier flags a violation.
func (c *ControlPlane) Evaluate(ctx context.Context, service string, windowMinutes int) (*EvaluationResult, error) {
	svc, err := c.service(ctx, service)
	if err != nil {
		return nil, err
	}
	if windowMinutes <= 0 {
		windowMinutes = DefaultWindowMinutes
	}

	b, err := c.budgets.Evaluate(ctx, svc.ID)
	if err != nil {
		return nil, err
	}
	metrics.SetBudget(svc.Name, b.BudgetRemaining, b.CurrentBurnRate, b.ReleaseGateOpen)

	end := c.now()
	start := end.Add(-time.Duration(windowMinutes) * time.Minute)
	totals, err := c.store.SumJobStats(ctx, svc.ID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to sum window: %w", err)
	}
	errorRate := 0.0
	if totals.Jobs > 0 {
		errorRate = float64(totals.Errors) / float64(totals.Jobs)
	}

	decision, err := c.classifier.Classify(ctx, classifier.Request{
		ShardID:         svc.Name,
		QueueNamespace:  "default",
		WindowMinutes:   windowMinutes,
		Total:           totals.Jobs,
		Errors:          totals.Errors,
		ErrorRate:       errorRate,
		P95LatencyMs:    totals.MaxLatencyMs,
		BudgetRemaining: b.BudgetRemaining,
		SLOTarget:       b.SLOTarget,
	})
	if err != nil {
		return nil, fmt.Errorf("classifier unavailable: %w", err)
	}

	res := &EvaluationResult{
		Service: svc.Name,
		Budget: BudgetSummary{
			Remaining: b.BudgetRemaining,
			Consumed:  b.BudgetConsumed,
			BurnRate:  b.CurrentBurnRate,
			GateOpen:  b.ReleaseGateOpen,
		},
		Classifier: decision,
	}
	if !decision.IsViolation {
		return res, nil
	}

	inc, err := c.openIncident(ctx, svc, decision, b)
	if err != nil {
		return nil, err
	}
	res.IncidentID = &inc.ID
	c.respond(ctx, inc)
	return res, nil
}

func (c *ControlPlane) openIncident(ctx context.Context, svc *storage.Service, decision classifier.Response, b *storage.ErrorBudget) (*storage.Incident, error) {
	severity := "severity::2"
	if decision.Action == classifier.ActionAlert {
		severity = "severity::1"
	}
	inc := &storage.Incident{
		ServiceID:     svc.ID,
		Title:         "Shard violation: " + decision.Reason,
		SeverityLabel: severity,
		TeamLabel:     "team::Production Engineering::Scalability",
		ServiceLabel:  "Service::Sidekiq",
		Status:        storage.IncidentActive,
		Context: map[string]any{
			"classifier": decision.Map(),
			"budget": map[string]any{
				"remaining": b.BudgetRemaining,
				"burn_rate": b.CurrentBurnRate,
			},
		},
		CreatedAt: c.now(),
	}
	if err := c.store.CreateIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("failed to create incident: %w", err)
	}
	c.logger.Warn("incident opened", "service", svc.Name, "incident_id", inc.ID, "reason", decision.Reason)
	return inc, nil
}

// respond runs incident response for an incident. Failures are
// logged; the incident already exists.
func (c *ControlPlane) respond(ctx context.Context, inc *storage.Incident) {
	if c.runner == nil || c.registry == nil {
		return
	}
	ir := c.registry.IncidentResponse()
	if ir == nil {
		return
	}
	if _, err := c.runner.RunIncident(ctx, ir, inc); err != nil {
		c.logger.Error("incident response failed", "incident_id", inc.ID, "error", err)
	}
}

// InjectRequest describes a synthetic failure window. Zero fields take
// defaults.
type InjectRequest struct {
	Service      string
	Queue        string
	Minutes      int
	ErrorRate    *float64
	Total        int64
	P95LatencyMs int64
}

// InjectFailures records a synthetic stat ending now. Demo mode only.
func (c *ControlPlane) InjectFailures(ctx context.Context, req InjectRequest) (*storage.JobStat, error) {
	if err := c.requireDemo(); err != nil {
		return nil, err
	}
	if req.Service == "" {
		return nil, fmt.Errorf("%w: service is required", ErrValidation)
	}
	if req.Queue == "" {
		req.Queue = "default"
	}
	if req.Minutes <= 0 {
		req.Minutes = 5
	}
	rate := 0.10
	if req.ErrorRate != nil {
		rate = *req.ErrorRate
	}
	if rate < 0 || rate > 1 {
		return nil, fmt.Errorf("%w: error_rate must be between 0 and 1", ErrValidation)
	}
	if req.Total <= 0 {
		req.Total = 1000
	}
	if req.P95LatencyMs <= 0 {
		req.P95LatencyMs = 650
	}

	svc, err := c.store.EnsureService(ctx, req.Service)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure service: %w", err)
	}
	end := c.now()
	stat := &storage.JobStat{
		ServiceID:      svc.ID,
		QueueNamespace: req.Queue,
		PeriodStart:    end.Add(-time.Duration(req.Minutes) * time.Minute),
		PeriodEnd:      end,
		JobCount:       req.Total,
		ErrorCount:     int64(math.Round(float64(req.Total) * rate)),
		LatencyP95Ms:   req.P95LatencyMs,
		Meta:           map[string]any{"injected": true, "note": "demo injection"},
	}
	if err := c.store.UpsertJobStat(ctx, stat); err != nil {
		return nil, fmt.Errorf("failed to inject failures: %w", err)
	}
	c.logger.Info("injected failures", "service", svc.Name, "queue", req.Queue, "errors", stat.ErrorCount, "total", stat.JobCount)
	return stat, nil
}
