package classifier

import (
	"context"

	"github.com/google/uuid"
)

// Engine is the threshold rule served by the classifier service.
type Engine struct {
	MaxErrorRate    float64
	MaxLatencyMs    int64
	MinBudgetRemain float64
}

// NewEngine returns the engine with its production thresholds.
func NewEngine() *Engine {
	return &Engine{
		MaxErrorRate:    0.12,
		MaxLatencyMs:    800,
		MinBudgetRemain: 0.0,
	}
}

// Decide classifies req. A window is a violation when the error rate or p95
// latency reaches its threshold, or the budget is gone.
func (e *Engine) Decide(req Request) Response {
	violation := req.ErrorRate >= e.MaxErrorRate ||
		req.P95LatencyMs >= e.MaxLatencyMs ||
		req.BudgetRemaining <= e.MinBudgetRemain

	resp := verdict(violation)
	resp.DecisionTrace = &DecisionTrace{
		DecisionID: uuid.NewString(),
		Inputs: map[string]any{
			"error_rate":       req.ErrorRate,
			"p95_latency_ms":   req.P95LatencyMs,
			"budget_remaining": req.BudgetRemaining,
		},
		Thresholds: map[string]any{
			"max_error_rate":    e.MaxErrorRate,
			"max_latency_ms":    e.MaxLatencyMs,
			"min_budget_remain": e.MinBudgetRemain,
		},
	}
	return resp
}

// Classify implements Classifier in-process.
func (e *Engine) Classify(_ context.Context, req Request) (Response, error) {
	return e.Decide(req), nil
}

func verdict(violation bool) Response {
	if violation {
		return Response{IsViolation: true, Action: ActionAlert, Reason: ReasonBurning}
	}
	return Response{IsViolation: false, Action: ActionNoop, Reason: ReasonHealthy}
}
