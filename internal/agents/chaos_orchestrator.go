package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/samijaber1/cellguard/internal/agentconfig"
	"github.com/samijaber1/cellguard/internal/chaos"
	"github.com/samijaber1/cellguard/internal/guardrail"
	"github.com/samijaber1/cellguard/internal/storage"
)

const (
	minDrillBudget       = 0.2
	incidentQuietPeriod  = 4 * time.Hour
	defaultDrillLeadTime = time.Hour
	drillScheduledActor  = "ChaosOrchestratorAgent"
)

// Drill decisions.
const (
	DecisionSkipped     = "skipped"
	DecisionSkip        = "skip"
	DecisionExecuted    = "executed"
	DecisionRecommended = "recommended"
)

// Drill is a selected chaos experiment.
type Drill struct {
	Type        chaos.Operation `json:"type"`
	Params      chaos.Params    `json:"params"`
	Rationale   string          `json:"rationale"`
	SafetyScore float64         `json:"safety_score"`
}

// DrillResult is the outcome of one orchestrator run.
type DrillResult struct {
	Decision string        `json:"decision"`
	Reason   string        `json:"reason,omitempty"`
	Reasons  []string      `json:"reasons,omitempty"`
	Drill    *Drill        `json:"drill,omitempty"`
	Result   *chaos.Result `json:"result,omitempty"`
}

// SelectDrill picks a drill from burn rate and remaining budget. The first
// matching row wins; nil means no drill suits the current state.
func SelectDrill(burnRate, remaining float64) *Drill {
	switch {
	case burnRate > 1.5:
		return &Drill{
			Type:        chaos.OpPartition,
			Params:      chaos.Params{Mode: chaos.ModeDocker, DurationSeconds: 15},
			Rationale:   "High burn rate detected - testing partition resilience",
			SafetyScore: 0.8,
		}
	case burnRate > 1.0:
		return &Drill{
			Type:        chaos.OpDegrade,
			Params:      chaos.Params{Mode: chaos.ModeTC, DurationSeconds: 20, DelayMs: 100, LossPercent: 2},
			Rationale:   "Elevated burn rate - testing graceful degradation",
			SafetyScore: 0.9,
		}
	case remaining > 0.5:
		return &Drill{
			Type:        chaos.OpPartition,
			Params:      chaos.Params{Mode: chaos.ModeDocker, DurationSeconds: 10},
			Rationale:   "Routine resilience validation",
			SafetyScore: 0.95,
		}
	}
	return nil
}

func (d Drill) details() map[string]any {
	return map[string]any{
		"type":         string(d.Type),
		"params":       d.Params.Map(),
		"rationale":    d.Rationale,
		"safety_score": d.SafetyScore,
	}
}

// ChaosOrchestrator schedules drills when guardrails allow.
type ChaosOrchestrator struct {
	env *Env
}

// NewChaosOrchestrator creates the agent.
func NewChaosOrchestrator(env *Env) *ChaosOrchestrator {
	return &ChaosOrchestrator{env: env}
}

func (o *ChaosOrchestrator) Name() string { return NameChaosOrchestrator }

func (o *ChaosOrchestrator) Description() string {
	return "Intelligently schedules chaos engineering drills"
}

// Execute checks guardrails, selects a drill and either executes or
// recommends it.
func (o *ChaosOrchestrator) Execute(ctx context.Context, rc *RunContext) (any, error) {
	b, err := o.env.Budgets.Current(ctx, rc.Service.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load budget: %w", err)
	}

	verdict, err := o.guardrails(ctx, rc, b)
	if err != nil {
		return nil, err
	}
	if !verdict.Allowed {
		if err := rc.Record(ctx, "drill_skipped", map[string]any{"reasons": verdict.Reasons}); err != nil {
			return nil, err
		}
		return &DrillResult{Decision: DecisionSkipped, Reasons: verdict.Reasons}, nil
	}

	drill := SelectDrill(b.CurrentBurnRate, b.BudgetRemaining)
	if drill == nil {
		return &DrillResult{Decision: DecisionSkip, Reason: "No suitable drill type for current state"}, nil
	}

	if err := rc.Record(ctx, "drill_selected", map[string]any{
		"drill_type": string(drill.Type),
		"params":     drill.Params.Map(),
		"rationale":  drill.Rationale,
	}); err != nil {
		return nil, err
	}

	if rc.Config.Bool(agentconfig.KeyChaosOrchestratorEnabled) && o.env.SafeMode {
		// Degrade drills use the partition entry point in tc mode.
		result, err := rc.TriggerChaos(ctx, chaos.OpPartition, drill.Params)
		if err != nil {
			return nil, err
		}
		if err := rc.Audit(ctx, "drill_executed", map[string]any{
			"drill":  drill.details(),
			"result": result,
		}, "Autonomous chaos drill: "+drill.Rationale); err != nil {
			return nil, err
		}
		return &DrillResult{Decision: DecisionExecuted, Drill: drill, Result: result}, nil
	}

	if err := rc.Audit(ctx, "drill_recommended", map[string]any{
		"drill": drill.details(),
	}, "Recommend chaos drill: "+drill.Rationale); err != nil {
		return nil, err
	}
	return &DrillResult{Decision: DecisionRecommended, Drill: drill}, nil
}

func (o *ChaosOrchestrator) guardrails(ctx context.Context, rc *RunContext, b *storage.ErrorBudget) (guardrail.Verdict, error) {
	minInterval := time.Duration(rc.Config.Int(agentconfig.KeyChaosMinIntervalHours)) * time.Hour
	// Only runs that picked a drill count; skipped runs would otherwise keep
	// the interval from ever elapsing.
	recentDrills, err := rc.recentExecutions(ctx, NameChaosOrchestrator, "drill_selected", rc.Now.Add(-minInterval))
	if err != nil {
		return guardrail.Verdict{}, err
	}
	since := rc.Now.Add(-incidentQuietPeriod)
	incidents, err := rc.openIncidents(ctx, &since)
	if err != nil {
		return guardrail.Verdict{}, err
	}

	return guardrail.Evaluate(
		guardrail.Check{
			Name:   "agent_enabled",
			Pass:   rc.Config.AgentEnabled(NameChaosOrchestrator),
			Reason: "Chaos orchestrator is disabled",
		},
		guardrail.Check{
			Name:   "gate_open",
			Pass:   b.ReleaseGateOpen,
			Reason: "Release gate is locked",
		},
		guardrail.Check{
			Name:   "budget_floor",
			Pass:   b.BudgetRemaining >= minDrillBudget,
			Reason: fmt.Sprintf("Budget remaining %.1f%% is below 20%%", b.BudgetRemaining*100),
		},
		guardrail.Check{
			Name:   "business_hours",
			Pass:   businessHours(rc.Now),
			Reason: "Outside business hours",
		},
		guardrail.Check{
			Name:   "min_interval",
			Pass:   recentDrills == 0,
			Reason: fmt.Sprintf("Last drill was less than %dh ago", int(minInterval.Hours())),
		},
		guardrail.Check{
			Name:   "no_recent_incidents",
			Pass:   incidents == 0,
			Reason: "Active incident in the last 4 hours",
		},
	), nil
}

// ScheduleDrill records the intent to run a drill at a later time. Nothing
// fires at that time; the audit entry is the whole effect.
func ScheduleDrill(ctx context.Context, store storage.AuditStore, svc *storage.Service, at *time.Time, now time.Time) (map[string]any, error) {
	scheduled := now.Add(defaultDrillLeadTime)
	if at != nil {
		scheduled = *at
	}
	scheduled = scheduled.UTC()

	err := store.CreateAuditLog(ctx, &storage.AuditLog{
		ServiceID:     svc.ID,
		Actor:         drillScheduledActor,
		Action:        "drill_scheduled",
		Justification: "Scheduled chaos engineering drill",
		Metadata:      map[string]any{"scheduled_at": scheduled},
		CreatedAt:     now.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to audit scheduled drill: %w", err)
	}
	return map[string]any{"scheduled": true, "for": scheduled}, nil
}
