package guardrail

// Check is one named safety precondition. Reason is reported when Pass is false.
type Check struct {
	Name   string
	Pass   bool
	Reason string
}

// CheckResult represents the outcome of a single check
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

// Verdict is the combined outcome of an ordered check list.
type Verdict struct {
	Allowed bool          `json:"allowed"`
	Reasons []string      `json:"reasons"`
	Results []CheckResult `json:"results"`
}
