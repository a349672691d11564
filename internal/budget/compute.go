package budget

import (
	"math"
	"time"

	"github.com/samijaber1/cellguard/internal/storage"
)

const (
	// DefaultSLOTarget is used when a budget is created without a catalog policy.
	DefaultSLOTarget = 0.999
	// DefaultWindowDays is the default rolling window length.
	DefaultWindowDays = 30
	// StaleAfter is how old evaluated_at may get before a read re-evaluates.
	StaleAfter = 2 * time.Minute
)

// Window returns the evaluation window for b at now.
func Window(b storage.ErrorBudget, now time.Time) (start, end time.Time) {
	start = now.Add(-time.Duration(b.WindowDays) * 24 * time.Hour)
	if b.WindowStart.After(start) {
		start = b.WindowStart
	}
	return start, now
}

// Compute applies window totals to b and returns the new budget state. It is
// pure: the caller persists the result.
func Compute(b storage.ErrorBudget, totals storage.WindowTotals, start, end time.Time) storage.ErrorBudget {
	evaluatedAt := end
	b.EvaluatedAt = &evaluatedAt

	if totals.Jobs <= 0 {
		b.BudgetConsumed = 0
		b.BudgetRemaining = 1
		b.CurrentBurnRate = 0
		b.ReleaseGateOpen = true
		b.ViolationStartedAt = nil
		return b
	}

	actual := float64(totals.Errors) / float64(totals.Jobs)
	allowed := 1 - b.SLOTarget

	// An SLO target of 100% leaves no allowed error rate; consumption is
	// reported as zero instead of dividing by zero.
	consumed := 0.0
	if allowed > 0 {
		consumed = actual / allowed
	}
	remaining := math.Max(1-consumed, 0)

	hours := math.Max(end.Sub(start).Hours(), 1)
	windowHours := float64(b.WindowDays * 24)
	burn := 0.0
	if windowHours > 0 {
		burn = consumed / (hours / windowHours)
	}

	b.BudgetConsumed = Round(consumed, 8)
	b.BudgetRemaining = Round(remaining, 8)
	b.CurrentBurnRate = Round(burn, 4)
	b.ReleaseGateOpen = b.BudgetRemaining > 0

	switch {
	case b.ReleaseGateOpen:
		b.ViolationStartedAt = nil
	case b.ViolationStartedAt == nil:
		b.ViolationStartedAt = &evaluatedAt
	}
	return b
}

// IsStale reports whether b needs a fresh evaluation at now.
func IsStale(b *storage.ErrorBudget, now time.Time) bool {
	if b == nil || b.EvaluatedAt == nil {
		return true
	}
	return now.Sub(*b.EvaluatedAt) > StaleAfter
}

// HoursToExhaustion projects how long the remaining budget lasts at the
// current burn rate. ok is false when the budget is not burning.
func HoursToExhaustion(b storage.ErrorBudget) (hours float64, ok bool) {
	if b.CurrentBurnRate <= 0 {
		return 0, false
	}
	return (b.BudgetRemaining / b.CurrentBurnRate) * float64(b.WindowDays) * 24, true
}

// Round rounds v half away from zero to the given number of decimals.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// NewBudget is the initial state for a service without history: full budget,
// open gate.
func NewBudget(serviceID int64, sloTarget float64, windowDays int, now time.Time) storage.ErrorBudget {
	if sloTarget <= 0 {
		sloTarget = DefaultSLOTarget
	}
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	return storage.ErrorBudget{
		ServiceID:       serviceID,
		SLOTarget:       sloTarget,
		WindowDays:      windowDays,
		WindowStart:     now,
		BudgetConsumed:  0,
		BudgetRemaining: 1,
		CurrentBurnRate: 0,
		ReleaseGateOpen: true,
		UpdatedAt:       now,
	}
}
