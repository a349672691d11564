package agents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samijaber1/cellguard/internal/agentconfig"
	"github.com/samijaber1/cellguard/internal/guardrail"
	"github.com/samijaber1/cellguard/internal/storage"
)

const (
	recentChaosWindow     = 10 * time.Minute
	shouldHealChaosWindow = 5 * time.Minute
	healingAttemptWindow  = time.Hour
	autoApproveSafety     = 0.8
	healSettleDelay       = 2 * time.Second
)

// Healing strategies.
const (
	StrategyChaosHeal         = "chaos_heal"
	StrategyBudgetRevaluation = "budget_revaluation"
	StrategyEscalation        = "escalation"
)

// Assessment is the health snapshot a healing run decides on.
type Assessment struct {
	Timestamp       time.Time `json:"timestamp"`
	GateStatus      string    `json:"gate_status"`
	BudgetRemaining float64   `json:"budget_remaining"`
	BurnRate        float64   `json:"burn_rate"`
	RecentChaos     bool      `json:"recent_chaos"`
	RecentIncidents int       `json:"recent_incidents"`
	HealSafe        bool      `json:"heal_safe"`
	// Blockers lists why healing is unsafe, in check order.
	Blockers []string `json:"blockers,omitempty"`
}

func (a Assessment) details() map[string]any {
	d := map[string]any{
		"timestamp":        a.Timestamp,
		"gate_status":      a.GateStatus,
		"budget_remaining": a.BudgetRemaining,
		"burn_rate":        a.BurnRate,
		"recent_chaos":     a.RecentChaos,
		"recent_incidents": a.RecentIncidents,
		"heal_safe":        a.HealSafe,
	}
	if len(a.Blockers) > 0 {
		d["blockers"] = a.Blockers
	}
	return d
}

// Strategy is a selected recovery action.
type Strategy struct {
	Type        string  `json:"type"`
	Description string  `json:"description"`
	SafetyScore float64 `json:"safety_score"`
	MaxDuration int     `json:"max_duration"`
}

func (s Strategy) details() map[string]any {
	return map[string]any{
		"type":         s.Type,
		"description":  s.Description,
		"safety_score": s.SafetyScore,
		"max_duration": s.MaxDuration,
	}
}

// HealingAttempt is the outcome of an executed strategy.
type HealingAttempt struct {
	Type         string   `json:"type"`
	Success      bool     `json:"success"`
	FollowUp     string   `json:"follow_up,omitempty"`
	BudgetBefore *float64 `json:"budget_before,omitempty"`
	BudgetAfter  *float64 `json:"budget_after,omitempty"`
	GateOpen     *bool    `json:"gate_open,omitempty"`
	Message      string   `json:"message,omitempty"`
}

// Recommendation is advice left for an operator.
type Recommendation struct {
	Type     string    `json:"type"`
	Strategy *Strategy `json:"strategy,omitempty"`
	Reason   string    `json:"reason"`
}

// HealingResult accumulates one run's output.
type HealingResult struct {
	Assessments     []Assessment     `json:"assessments"`
	HealingAttempts []HealingAttempt `json:"healing_attempts"`
	Recommendations []Recommendation `json:"recommendations"`
}

// SelectStrategy picks a recovery strategy for a safe assessment; nil means
// nothing to do.
func SelectStrategy(a Assessment) *Strategy {
	if !a.HealSafe {
		return nil
	}
	switch {
	case a.RecentChaos:
		return &Strategy{
			Type:        StrategyChaosHeal,
			Description: "Restore network connectivity after chaos drill",
			SafetyScore: 0.95,
			MaxDuration: 30,
		}
	case a.GateStatus == "locked" && a.BudgetRemaining > 0:
		return &Strategy{
			Type:        StrategyBudgetRevaluation,
			Description: "Re-evaluate error budget with fresh data",
			SafetyScore: 0.9,
			MaxDuration: 60,
		}
	case a.BurnRate > 2.0:
		return &Strategy{
			Type:        StrategyEscalation,
			Description: "Escalate to on-call for manual intervention",
			SafetyScore: 0.3,
			MaxDuration: 0,
		}
	}
	return nil
}

// Healing attempts automatic recovery in safe conditions.
type Healing struct {
	env *Env
}

// NewHealing creates the agent.
func NewHealing(env *Env) *Healing {
	return &Healing{env: env}
}

func (h *Healing) Name() string { return NameHealing }

func (h *Healing) Description() string {
	return "Attempts automatic recovery from detected faults"
}

// Execute assesses health, picks a strategy and executes or recommends it.
func (h *Healing) Execute(ctx context.Context, rc *RunContext) (any, error) {
	res := &HealingResult{
		Assessments:     []Assessment{},
		HealingAttempts: []HealingAttempt{},
		Recommendations: []Recommendation{},
	}

	assessment, b, err := h.assess(ctx, rc)
	if err != nil {
		return nil, err
	}
	res.Assessments = append(res.Assessments, assessment)
	if err := rc.Record(ctx, "health_assessment", assessment.details()); err != nil {
		return nil, err
	}

	strategy := SelectStrategy(assessment)
	if strategy == nil {
		res.Recommendations = append(res.Recommendations, Recommendation{Type: "monitor", Reason: "No healing needed"})
		return res, nil
	}

	autoApprove := rc.Config.Bool(agentconfig.KeyHealingAutoRecover) && strategy.SafetyScore > autoApproveSafety
	if err := rc.Record(ctx, "healing_strategy_selected", map[string]any{
		"strategy":     strategy.details(),
		"auto_approve": autoApprove,
	}); err != nil {
		return nil, err
	}

	if !autoApprove {
		res.Recommendations = append(res.Recommendations, Recommendation{
			Type:     "approval_required",
			Strategy: strategy,
			Reason:   "Manual approval required for healing action",
		})
		if err := rc.Audit(ctx, "healing_recommended", map[string]any{
			"strategy": strategy.details(),
		}, "Healing recommended but requires manual approval"); err != nil {
			return nil, err
		}
		return res, nil
	}

	attempt, err := h.executeStrategy(ctx, rc, *strategy, b)
	if err != nil {
		return nil, err
	}
	res.HealingAttempts = append(res.HealingAttempts, attempt)
	if err := rc.Audit(ctx, "healing_executed", map[string]any{
		"strategy": strategy.details(),
		"result":   attempt,
	}, fmt.Sprintf("Auto-healing executed with safety score %g", strategy.SafetyScore)); err != nil {
		return nil, err
	}
	return res, nil
}

func (h *Healing) assess(ctx context.Context, rc *RunContext) (Assessment, *storage.ErrorBudget, error) {
	b, err := h.env.Budgets.Current(ctx, rc.Service.ID)
	if err != nil {
		return Assessment{}, nil, fmt.Errorf("failed to load budget: %w", err)
	}

	recentChaos, err := rc.recentExecutions(ctx, "", "chaos_triggered", rc.Now.Add(-recentChaosWindow))
	if err != nil {
		return Assessment{}, nil, err
	}
	incidents, err := rc.openIncidents(ctx, nil)
	if err != nil {
		return Assessment{}, nil, err
	}

	a := Assessment{
		Timestamp:       rc.Now.UTC(),
		GateStatus:      gateStatus(b.ReleaseGateOpen),
		BudgetRemaining: b.BudgetRemaining,
		BurnRate:        b.CurrentBurnRate,
		RecentChaos:     recentChaos > 0,
		RecentIncidents: incidents,
	}

	verdict, err := h.safety(ctx, rc, a)
	if err != nil {
		return Assessment{}, nil, err
	}
	a.HealSafe = verdict.Allowed
	a.Blockers = verdict.Reasons
	return a, b, nil
}

func (h *Healing) safety(ctx context.Context, rc *RunContext, a Assessment) (guardrail.Verdict, error) {
	serviceID := rc.Service.ID
	running, err := h.env.Store.CountExecutions(ctx, storage.ExecutionFilter{
		AgentName: NameHealing,
		ServiceID: &serviceID,
		Status:    storage.ExecutionRunning,
		ExcludeID: rc.ExecutionID(),
	})
	if err != nil {
		return guardrail.Verdict{}, fmt.Errorf("failed to count running healing executions: %w", err)
	}
	attempts, err := rc.recentExecutions(ctx, NameHealing, "", rc.Now.Add(-healingAttemptWindow))
	if err != nil {
		return guardrail.Verdict{}, err
	}
	maxAttempts := rc.Config.Int(agentconfig.KeyHealingMaxRetryAttempts)

	return guardrail.Evaluate(
		guardrail.Check{
			Name:   "not_in_progress",
			Pass:   running == 0,
			Reason: "Another healing run is in progress",
		},
		guardrail.Check{
			Name:   "retry_budget",
			Pass:   attempts < maxAttempts,
			Reason: fmt.Sprintf("%d healing attempts in the last hour (max %d)", attempts, maxAttempts),
		},
		guardrail.Check{
			Name:   "safe_environment",
			Pass:   h.env.SafeMode,
			Reason: "Not a safe environment",
		},
		guardrail.Check{
			Name:   "no_unrelated_incidents",
			Pass:   a.RecentIncidents == 0 || a.RecentChaos,
			Reason: "Active incidents not attributable to chaos",
		},
	), nil
}

func (h *Healing) executeStrategy(ctx context.Context, rc *RunContext, s Strategy, b *storage.ErrorBudget) (HealingAttempt, error) {
	switch s.Type {
	case StrategyChaosHeal:
		healed, err := rc.TriggerHeal(ctx)
		if err != nil {
			return HealingAttempt{}, err
		}
		if err := h.env.sleep(ctx, healSettleDelay); err != nil {
			return HealingAttempt{}, err
		}
		if _, err := h.env.Budgets.Evaluate(ctx, rc.Service.ID); err != nil {
			return HealingAttempt{}, fmt.Errorf("failed to re-evaluate after heal: %w", err)
		}
		return HealingAttempt{
			Type:     StrategyChaosHeal,
			Success:  healed != nil && healed.Succeeded(),
			FollowUp: "reevaluated",
		}, nil

	case StrategyBudgetRevaluation:
		before := b.BudgetRemaining
		after, err := h.env.Budgets.Evaluate(ctx, rc.Service.ID)
		if err != nil {
			return HealingAttempt{}, fmt.Errorf("failed to re-evaluate budget: %w", err)
		}
		return HealingAttempt{
			Type:         StrategyBudgetRevaluation,
			Success:      true,
			BudgetBefore: &before,
			BudgetAfter:  &after.BudgetRemaining,
			GateOpen:     &after.ReleaseGateOpen,
		}, nil

	case StrategyEscalation:
		err := h.env.Store.CreateAuditLog(ctx, &storage.AuditLog{
			ServiceID:     rc.Service.ID,
			Actor:         "HealingAgent",
			Action:        "escalation_recommended",
			Justification: "High burn rate detected - manual intervention required",
			Metadata: map[string]any{
				"burn_rate":        b.CurrentBurnRate,
				"budget_remaining": b.BudgetRemaining,
			},
			CreatedAt: h.env.Now().UTC(),
		})
		if err != nil {
			return HealingAttempt{}, fmt.Errorf("failed to audit escalation: %w", err)
		}
		return HealingAttempt{
			Type:    StrategyEscalation,
			Success: true,
			Message: "Escalation recorded in audit log",
		}, nil
	}
	return HealingAttempt{Type: s.Type, Message: "Unknown strategy type"}, nil
}

// ShouldHeal reports whether a service looks like it needs healing: a chaos
// trigger in the last five minutes or a locked gate.
func (h *Healing) ShouldHeal(ctx context.Context, svc *storage.Service) (bool, error) {
	since := h.env.Now().Add(-shouldHealChaosWindow)
	serviceID := svc.ID
	n, err := h.env.Store.CountExecutions(ctx, storage.ExecutionFilter{
		ServiceID:    &serviceID,
		CreatedAfter: &since,
		Action:       "chaos_triggered",
	})
	if err != nil {
		return false, fmt.Errorf("failed to count chaos executions: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	b, err := h.env.Store.GetBudget(ctx, svc.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return !b.ReleaseGateOpen, nil
}

func gateStatus(open bool) string {
	if open {
		return "open"
	}
	return "locked"
}
