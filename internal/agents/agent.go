// Package agents holds the autonomous decision units and the runner that
// wraps each run in a ledger execution.
package agents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samijaber1/cellguard/internal/agentconfig"
	"github.com/samijaber1/cellguard/internal/budget"
	"github.com/samijaber1/cellguard/internal/chaos"
	"github.com/samijaber1/cellguard/internal/ledger"
	"github.com/samijaber1/cellguard/internal/storage"
)

// Agent names.
const (
	NameBudgetGuard       = "budget_guard"
	NameChaosOrchestrator = "chaos_orchestrator"
	NameIncidentResponse  = "incident_response"
	NameHealing           = "healing"
)

// Agent is one autonomous decision unit.
type Agent interface {
	Name() string
	Description() string
	// Execute decides and acts for rc.Service. The returned value becomes the
	// execution result.
	Execute(ctx context.Context, rc *RunContext) (any, error)
}

// ChaosService runs drills and heals them.
type ChaosService interface {
	Execute(ctx context.Context, op chaos.Operation, params chaos.Params) (chaos.Result, error)
	Heal(ctx context.Context) chaos.HealResult
}

// Env is what agents share between runs.
type Env struct {
	Store   storage.Store
	Budgets *budget.Evaluator
	Chaos   ChaosService
	// SafeMode allows chaos and heal commands (demo environments only).
	SafeMode bool
	Logger   *slog.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewEnv creates an agent environment.
func NewEnv(store storage.Store, budgets *budget.Evaluator, chaosSvc ChaosService, safeMode bool, logger *slog.Logger) *Env {
	if logger == nil {
		logger = slog.Default()
	}
	return &Env{
		Store:    store,
		Budgets:  budgets,
		Chaos:    chaosSvc,
		SafeMode: safeMode,
		Logger:   logger,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// SetClock replaces the time source.
func (e *Env) SetClock(now func() time.Time) { e.now = now }

// SetSleep replaces the wait used between a heal and its follow-up evaluation.
func (e *Env) SetSleep(sleep func(context.Context, time.Duration) error) { e.sleep = sleep }

// Now returns the current time.
func (e *Env) Now() time.Time { return e.now() }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RunContext is the per-run state handed to Execute.
type RunContext struct {
	Service  *storage.Service
	Incident *storage.Incident
	// Config is resolved once at the start of the run.
	Config agentconfig.Snapshot
	Now    time.Time

	run *ledger.Run
	env *Env
}

// ExecutionID returns the id of the ledger execution backing this run.
func (rc *RunContext) ExecutionID() int64 {
	return rc.run.ID()
}

// Record appends a non-auditable action to the run's log.
func (rc *RunContext) Record(ctx context.Context, action string, details map[string]any) error {
	return rc.run.Record(ctx, action, details)
}

// Audit appends an action and writes its audit log entry.
func (rc *RunContext) Audit(ctx context.Context, action string, details map[string]any, justification string) error {
	return rc.run.RecordAudited(ctx, action, details, justification)
}

// TriggerChaos runs a chaos operation under audit. It returns a nil result
// when the environment is not safe or the operation could not be started;
// the error is reserved for ledger failures.
func (rc *RunContext) TriggerChaos(ctx context.Context, op chaos.Operation, params chaos.Params) (*chaos.Result, error) {
	if !rc.env.SafeMode || rc.env.Chaos == nil {
		return nil, nil
	}
	if err := rc.Audit(ctx, "chaos_triggered", map[string]any{
		"operation": string(op),
		"params":    params.Map(),
	}, "Autonomous chaos engineering drill"); err != nil {
		return nil, err
	}

	res, err := rc.env.Chaos.Execute(ctx, op, params)
	if err != nil {
		if rerr := rc.Record(ctx, "chaos_failed", map[string]any{"error": err.Error()}); rerr != nil {
			return nil, rerr
		}
		return nil, nil
	}
	return &res, nil
}

// TriggerHeal reverses active disruptions under audit. A nil result means
// nothing was attempted.
func (rc *RunContext) TriggerHeal(ctx context.Context) (*chaos.HealResult, error) {
	if rc.env.Chaos == nil {
		if err := rc.Record(ctx, "heal_failed", map[string]any{"error": "no chaos service configured"}); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err := rc.Audit(ctx, "heal_triggered", nil, "Autonomous healing response"); err != nil {
		return nil, err
	}
	res := rc.env.Chaos.Heal(ctx)
	return &res, nil
}

// businessHours reports whether t falls on a weekday between 09:00 and 18:00.
func businessHours(t time.Time) bool {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return t.Hour() >= 9 && t.Hour() < 18
}

// recentExecutions counts executions of agent on the run's service created
// after since, skipping the run itself.
func (rc *RunContext) recentExecutions(ctx context.Context, agent, action string, since time.Time) (int, error) {
	serviceID := rc.Service.ID
	n, err := rc.env.Store.CountExecutions(ctx, storage.ExecutionFilter{
		AgentName:    agent,
		ServiceID:    &serviceID,
		CreatedAfter: &since,
		Action:       action,
		ExcludeID:    rc.run.ID(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count %s executions: %w", agent, err)
	}
	return n, nil
}

func (rc *RunContext) openIncidents(ctx context.Context, since *time.Time) (int, error) {
	n, err := rc.env.Store.CountIncidents(ctx, storage.IncidentFilter{
		ServiceID:    rc.Service.ID,
		Statuses:     storage.OpenIncidentStatuses,
		CreatedAfter: since,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count incidents: %w", err)
	}
	return n, nil
}
