package controlplane

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samijaber1/cellguard/internal/metrics"
	"github.com/samijaber1/cellguard/internal/storage"
)

// LockedReason is returned with every locked gate.
const LockedReason = "Error budget exhausted. Override requires justification + audit log."

// GateStatus answers a release gate check.
type GateStatus struct {
	Allowed            bool       `json:"allowed"`
	Service            string     `json:"service"`
	SLOTarget          float64    `json:"slo_target"`
	BudgetRemaining    float64    `json:"budget_remaining"`
	BurnRate           float64    `json:"burn_rate"`
	EvaluatedAt        *time.Time `json:"evaluated_at"`
	Reason             string     `json:"reason,omitempty"`
	ViolationStartedAt *time.Time `json:"violation_started_at,omitempty"`
}

// CheckGate reports whether releases may ship for a service, creating the
// service and its budget on first use. The budget is re-evaluated when stale.
func (c *ControlPlane) CheckGate(ctx context.Context, service string) (*GateStatus, error) {
	if service == "" {
		return nil, fmt.Errorf("%w: service is required", ErrValidation)
	}
	svc, err := c.store.EnsureService(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure service: %w", err)
	}
	b, err := c.budgets.Current(ctx, svc.ID)
	if err != nil {
		return nil, err
	}
	metrics.SetBudget(svc.Name, b.BudgetRemaining, b.CurrentBurnRate, b.ReleaseGateOpen)

	st := &GateStatus{
		Allowed:         b.ReleaseGateOpen,
		Service:         svc.Name,
		SLOTarget:       b.SLOTarget,
		BudgetRemaining: b.BudgetRemaining,
		BurnRate:        b.CurrentBurnRate,
		EvaluatedAt:     b.EvaluatedAt,
	}
	if !b.ReleaseGateOpen {
		st.Reason = LockedReason
		st.ViolationStartedAt = b.ViolationStartedAt
	}
	return st, nil
}

// OverrideRequest is a manual gate override.
type OverrideRequest struct {
	Service       string
	Actor         string
	Justification string
	IP            string
	UserAgent     string
}

// OverrideGate records a manual override in the audit log. It does not
// change the budget; the audit entry is the override.
func (c *ControlPlane) OverrideGate(ctx context.Context, req OverrideRequest) (*storage.AuditLog, error) {
	actor := strings.TrimSpace(req.Actor)
	justification := strings.TrimSpace(req.Justification)
	if actor == "" {
		return nil, fmt.Errorf("%w: actor required", ErrValidation)
	}
	if justification == "" {
		return nil, fmt.Errorf("%w: justification required", ErrValidation)
	}
	svc, err := c.service(ctx, req.Service)
	if err != nil {
		return nil, err
	}

	entry := &storage.AuditLog{
		ServiceID:     svc.ID,
		Actor:         actor,
		Action:        "override_gate",
		Justification: justification,
		Metadata: map[string]any{
			"ip":         req.IP,
			"user_agent": req.UserAgent,
		},
		CreatedAt: c.now(),
	}
	if err := c.store.CreateAuditLog(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to audit override: %w", err)
	}
	c.logger.Warn("release gate overridden", "service", svc.Name, "actor", actor)
	return entry, nil
}
