package guardrail

import "fmt"

// Engine evaluates ordered guardrail checks and produces a verdict
type Engine struct{}

// NewEngine creates a new guardrail engine
func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate runs every check in declaration order. The verdict is allowed only
// when no check failed; reasons list the failures in the same order.
func (e *Engine) Evaluate(checks ...Check) Verdict {
	verdict := Verdict{
		Reasons: []string{},
		Results: make([]CheckResult, 0, len(checks)),
	}

	for _, check := range checks {
		result := e.evaluateCheck(check)
		verdict.Results = append(verdict.Results, result)
		if !result.Passed {
			verdict.Reasons = append(verdict.Reasons, result.Reason)
		}
	}

	verdict.Allowed = len(verdict.Reasons) == 0
	return verdict
}

// evaluateCheck evaluates a single check, filling in a reason if the check
// did not declare one.
func (e *Engine) evaluateCheck(check Check) CheckResult {
	result := CheckResult{
		Name:   check.Name,
		Passed: check.Pass,
	}
	if check.Pass {
		return result
	}

	result.Reason = check.Reason
	if result.Reason == "" {
		result.Reason = fmt.Sprintf("check %s failed", check.Name)
	}
	return result
}

// Evaluate is a shorthand for NewEngine().Evaluate.
func Evaluate(checks ...Check) Verdict {
	return NewEngine().Evaluate(checks...)
}
