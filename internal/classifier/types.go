package classifier

import "context"

// Request summarizes one evaluation window of a service.
type Request struct {
	ShardID         string  `json:"shard_id"`
	QueueNamespace  string  `json:"queue_namespace"`
	WindowMinutes   int     `json:"window_minutes"`
	Total           int64   `json:"total"`
	Errors          int64   `json:"errors"`
	ErrorRate       float64 `json:"error_rate"`
	P95LatencyMs    int64   `json:"p95_latency_ms"`
	BudgetRemaining float64 `json:"budget_remaining"`
	SLOTarget       float64 `json:"slo_target"`
}

// DecisionTrace records what a decision was based on.
type DecisionTrace struct {
	DecisionID string         `json:"decision_id"`
	Inputs     map[string]any `json:"inputs"`
	Thresholds map[string]any `json:"thresholds"`
}

// Response is a classifier verdict. Action is "alert" or "noop".
type Response struct {
	IsViolation   bool           `json:"is_violation"`
	Action        string         `json:"action"`
	Reason        string         `json:"reason"`
	DecisionTrace *DecisionTrace `json:"decision_trace,omitempty"`
}

// Map renders the response the way it is embedded into incident context.
func (r Response) Map() map[string]any {
	m := map[string]any{
		"is_violation": r.IsViolation,
		"action":       r.Action,
		"reason":       r.Reason,
	}
	if r.DecisionTrace != nil {
		m["decision_trace"] = map[string]any{
			"decision_id": r.DecisionTrace.DecisionID,
			"inputs":      r.DecisionTrace.Inputs,
			"thresholds":  r.DecisionTrace.Thresholds,
		}
	}
	return m
}

// Classifier decides whether a window is a violation.
type Classifier interface {
	Classify(ctx context.Context, req Request) (Response, error)
}

const (
	ActionAlert = "alert"
	ActionNoop  = "noop"

	ReasonBurning = "burning_error_budget"
	ReasonHealthy = "healthy"
)
