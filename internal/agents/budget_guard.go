package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/samijaber1/cellguard/internal/agentconfig"
	"github.com/samijaber1/cellguard/internal/budget"
	"github.com/samijaber1/cellguard/internal/chaos"
	"github.com/samijaber1/cellguard/internal/metrics"
)

const (
	criticalExhaustionHours = 4.0
	defensiveChaosSeconds   = 10
	defensiveChaosCooldown  = 2 * time.Hour
)

// Prediction is a projected budget exhaustion.
type Prediction struct {
	Type           string  `json:"type"`
	HoursRemaining float64 `json:"hours_remaining"`
	Severity       string  `json:"severity"`
}

// Alert is a condition raised by the budget guard.
type Alert struct {
	Type      string     `json:"type"`
	Reason    string     `json:"reason,omitempty"`
	BurnRate  float64    `json:"burn_rate,omitempty"`
	Threshold float64    `json:"threshold,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
}

// GuardAction is something the budget guard did.
type GuardAction struct {
	Type     string        `json:"type"`
	Duration int           `json:"duration"`
	Result   *chaos.Result `json:"result,omitempty"`
}

// BudgetGuardResult accumulates one run's output.
type BudgetGuardResult struct {
	Predictions []Prediction  `json:"predictions"`
	Alerts      []Alert       `json:"alerts"`
	Actions     []GuardAction `json:"actions"`
}

// BudgetGuard predicts budget exhaustion and raises burn-rate alerts.
type BudgetGuard struct {
	env *Env
}

// NewBudgetGuard creates the agent.
func NewBudgetGuard(env *Env) *BudgetGuard {
	return &BudgetGuard{env: env}
}

func (g *BudgetGuard) Name() string { return NameBudgetGuard }

func (g *BudgetGuard) Description() string {
	return "Monitors error budget burn rate and predicts exhaustion"
}

// Execute evaluates the budget, then predicts, alerts and optionally runs a
// short defensive drill.
func (g *BudgetGuard) Execute(ctx context.Context, rc *RunContext) (any, error) {
	res := &BudgetGuardResult{
		Predictions: []Prediction{},
		Alerts:      []Alert{},
		Actions:     []GuardAction{},
	}

	b, err := g.env.Budgets.Evaluate(ctx, rc.Service.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate budget: %w", err)
	}
	metrics.SetBudget(rc.Service.Name, b.BudgetRemaining, b.CurrentBurnRate, b.ReleaseGateOpen)

	threshold := rc.Config.Float(agentconfig.KeyBudgetGuardThresholdHours)
	if hours, ok := budget.HoursToExhaustion(*b); ok && hours < threshold {
		severity := "warning"
		if hours < criticalExhaustionHours {
			severity = "critical"
		}
		res.Predictions = append(res.Predictions, Prediction{
			Type:           "budget_exhaustion",
			HoursRemaining: hours,
			Severity:       severity,
		})

		err := rc.Audit(ctx, "predicted_exhaustion", map[string]any{
			"hours_remaining":  hours,
			"budget_remaining": b.BudgetRemaining,
			"burn_rate":        b.CurrentBurnRate,
		}, fmt.Sprintf("Budget will exhaust in %.1f hours at current burn rate", hours))
		if err != nil {
			return nil, err
		}

		if hours < criticalExhaustionHours {
			err := rc.Audit(ctx, "escalation_recommended", map[string]any{
				"reason": "Budget exhaustion imminent",
			}, "Critical: Less than 4 hours until budget exhaustion")
			if err != nil {
				return nil, err
			}
			res.Alerts = append(res.Alerts, Alert{
				Type:   "escalation",
				Reason: fmt.Sprintf("Budget exhaustion in %.1fh", hours),
			})
		}
	}

	critical := rc.Config.Float(agentconfig.KeyBudgetGuardCriticalBurnRate)
	if b.CurrentBurnRate > critical {
		res.Alerts = append(res.Alerts, Alert{
			Type:      "high_burn_rate",
			BurnRate:  b.CurrentBurnRate,
			Threshold: critical,
		})
		if err := rc.Record(ctx, "high_burn_rate_detected", map[string]any{
			"burn_rate": b.CurrentBurnRate,
			"threshold": critical,
		}); err != nil {
			return nil, err
		}

		if rc.Config.Bool(agentconfig.KeyBudgetGuardAutoChaos) {
			safe, err := g.safeToRunChaos(ctx, rc, b.ReleaseGateOpen)
			if err != nil {
				return nil, err
			}
			if safe {
				action, err := g.defensiveChaos(ctx, rc)
				if err != nil {
					return nil, err
				}
				res.Actions = append(res.Actions, action)
			}
		}
	}

	if !b.ReleaseGateOpen {
		res.Alerts = append(res.Alerts, Alert{Type: "gate_locked", Since: b.ViolationStartedAt})
		if err := rc.Record(ctx, "gate_locked_detected", map[string]any{
			"locked_since":     b.ViolationStartedAt,
			"budget_remaining": b.BudgetRemaining,
		}); err != nil {
			return nil, err
		}
	}

	return res, nil
}

func (g *BudgetGuard) safeToRunChaos(ctx context.Context, rc *RunContext, gateOpen bool) (bool, error) {
	if !gateOpen || !businessHours(rc.Now) {
		return false, nil
	}
	n, err := rc.recentExecutions(ctx, NameChaosOrchestrator, "", rc.Now.Add(-defensiveChaosCooldown))
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

func (g *BudgetGuard) defensiveChaos(ctx context.Context, rc *RunContext) (GuardAction, error) {
	if err := rc.Audit(ctx, "defensive_chaos_initiated", map[string]any{
		"reason": "High burn rate detected - validating resilience",
	}, "Proactive chaos drill triggered by BudgetGuard due to elevated burn rate"); err != nil {
		return GuardAction{}, err
	}

	result, err := rc.TriggerChaos(ctx, chaos.OpPartition, chaos.Params{
		Mode:            chaos.ModeDocker,
		DurationSeconds: defensiveChaosSeconds,
	})
	if err != nil {
		return GuardAction{}, err
	}
	return GuardAction{Type: "defensive_chaos", Duration: defensiveChaosSeconds, Result: result}, nil
}
