package budget

import (
	"math"
	"testing"
	"time"

	"github.com/samijaber1/cellguard/internal/storage"
)

func TestCompute(t *testing.T) {
	end := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	fullWindow := end.Add(-30 * 24 * time.Hour)
	earlier := end.Add(-time.Hour)

	tests := []struct {
		name          string
		slo           float64
		start         time.Time
		jobs, errors  int64
		wasLocked     bool
		wantConsumed  float64
		wantRemaining float64
		wantBurn      float64
		wantOpen      bool
	}{
		{
			name:          "no traffic resets a locked budget",
			slo:           0.999,
			start:         fullWindow,
			wasLocked:     true,
			wantRemaining: 1,
			wantOpen:      true,
		},
		{
			name:          "error rate equal to allowance exhausts budget",
			slo:           0.99,
			start:         fullWindow,
			jobs:          1000,
			errors:        10,
			wantConsumed:  1,
			wantRemaining: 0,
			wantBurn:      1,
			wantOpen:      false,
		},
		{
			name:          "half consumed over the full window",
			slo:           0.99,
			start:         fullWindow,
			jobs:          1000,
			errors:        5,
			wantConsumed:  0.5,
			wantRemaining: 0.5,
			wantBurn:      0.5,
			wantOpen:      true,
		},
		{
			name:          "short window clamps elapsed hours to one",
			slo:           0.99,
			start:         end.Add(-10 * time.Minute),
			jobs:          1000,
			errors:        1,
			wantConsumed:  0.1,
			wantRemaining: 0.9,
			wantBurn:      72,
			wantOpen:      true,
		},
		{
			name:          "heavy errors lock the gate",
			slo:           0.999,
			start:         fullWindow,
			jobs:          1000,
			errors:        200,
			wantConsumed:  200,
			wantRemaining: 0,
			wantBurn:      200,
			wantOpen:      false,
		},
		{
			name:          "perfect slo target reports zero consumption",
			slo:           1.0,
			start:         fullWindow,
			jobs:          1000,
			errors:        500,
			wantRemaining: 1,
			wantOpen:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := storage.ErrorBudget{
				SLOTarget:       tt.slo,
				WindowDays:      30,
				WindowStart:     tt.start,
				BudgetRemaining: 1,
				ReleaseGateOpen: true,
			}
			if tt.wasLocked {
				b.BudgetRemaining = 0
				b.ReleaseGateOpen = false
				b.ViolationStartedAt = &earlier
			}

			got := Compute(b, storage.WindowTotals{Jobs: tt.jobs, Errors: tt.errors}, tt.start, end)

			if math.Abs(got.BudgetConsumed-tt.wantConsumed) > 1e-6 {
				t.Errorf("expected consumed %f, got %f", tt.wantConsumed, got.BudgetConsumed)
			}
			if math.Abs(got.BudgetRemaining-tt.wantRemaining) > 1e-6 {
				t.Errorf("expected remaining %f, got %f", tt.wantRemaining, got.BudgetRemaining)
			}
			if math.Abs(got.CurrentBurnRate-tt.wantBurn) > 1e-3 {
				t.Errorf("expected burn %f, got %f", tt.wantBurn, got.CurrentBurnRate)
			}
			if got.ReleaseGateOpen != tt.wantOpen {
				t.Errorf("expected gate open=%v, got %v", tt.wantOpen, got.ReleaseGateOpen)
			}
			if got.ReleaseGateOpen != (got.BudgetRemaining > 0) {
				t.Error("gate state must follow remaining budget")
			}
			if got.ReleaseGateOpen && got.ViolationStartedAt != nil {
				t.Error("open gate must not carry a violation timestamp")
			}
			if got.EvaluatedAt == nil || !got.EvaluatedAt.Equal(end) {
				t.Errorf("expected evaluated_at %v, got %v", end, got.EvaluatedAt)
			}
		})
	}
}

func TestCompute_ViolationIsSticky(t *testing.T) {
	end := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	first := end.Add(-45 * time.Minute)
	b := storage.ErrorBudget{
		SLOTarget:          0.999,
		WindowDays:         30,
		WindowStart:        end.Add(-24 * time.Hour),
		ViolationStartedAt: &first,
	}
	totals := storage.WindowTotals{Jobs: 100, Errors: 50}

	got := Compute(b, totals, b.WindowStart, end)
	if got.ReleaseGateOpen {
		t.Fatal("expected gate to stay locked")
	}
	if !got.ViolationStartedAt.Equal(first) {
		t.Errorf("expected violation to stay at %v, got %v", first, got.ViolationStartedAt)
	}

	b.ViolationStartedAt = nil
	b.ReleaseGateOpen = true
	got = Compute(b, totals, b.WindowStart, end)
	if got.ViolationStartedAt == nil || !got.ViolationStartedAt.Equal(end) {
		t.Errorf("expected violation stamped at %v, got %v", end, got.ViolationStartedAt)
	}
}

func TestWindow(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	recent := storage.ErrorBudget{WindowDays: 30, WindowStart: now.Add(-time.Hour)}
	start, end := Window(recent, now)
	if !start.Equal(recent.WindowStart) || !end.Equal(now) {
		t.Errorf("expected window to start at budget creation, got %v..%v", start, end)
	}

	old := storage.ErrorBudget{WindowDays: 7, WindowStart: now.Add(-90 * 24 * time.Hour)}
	start, _ = Window(old, now)
	if !start.Equal(now.Add(-7 * 24 * time.Hour)) {
		t.Errorf("expected rolling window start, got %v", start)
	}
}

func TestIsStale(t *testing.T) {
	now := time.Now()
	if !IsStale(nil, now) {
		t.Error("nil budget is stale")
	}
	if !IsStale(&storage.ErrorBudget{}, now) {
		t.Error("never evaluated budget is stale")
	}
	old := now.Add(-3 * time.Minute)
	if !IsStale(&storage.ErrorBudget{EvaluatedAt: &old}, now) {
		t.Error("expected budget evaluated 3m ago to be stale")
	}
	fresh := now.Add(-30 * time.Second)
	if IsStale(&storage.ErrorBudget{EvaluatedAt: &fresh}, now) {
		t.Error("expected budget evaluated 30s ago to be fresh")
	}
}

func TestHoursToExhaustion(t *testing.T) {
	if _, ok := HoursToExhaustion(storage.ErrorBudget{BudgetRemaining: 1}); ok {
		t.Error("expected no projection without burn")
	}
	hours, ok := HoursToExhaustion(storage.ErrorBudget{BudgetRemaining: 0.01, CurrentBurnRate: 10, WindowDays: 30})
	if !ok || math.Abs(hours-0.72) > 1e-9 {
		t.Errorf("expected 0.72h, got %f (ok=%v)", hours, ok)
	}
}

func TestRound(t *testing.T) {
	if got := Round(0.123456789, 8); got != 0.12345679 {
		t.Errorf("expected 0.12345679, got %v", got)
	}
	if got := Round(1.23456, 4); got != 1.2346 {
		t.Errorf("expected 1.2346, got %v", got)
	}
}
