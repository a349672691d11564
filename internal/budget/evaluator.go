package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/samijaber1/cellguard/internal/metrics"
	"github.com/samijaber1/cellguard/internal/storage"
)

// Store is the persistence the evaluator needs.
type Store interface {
	storage.BudgetStore
	storage.JobStatStore
}

// Evaluator recomputes error budgets from job statistics. Concurrent
// evaluations of the same service share one computation.
type Evaluator struct {
	store  Store
	cache  *Cache
	group  singleflight.Group
	logger *slog.Logger
	now    func() time.Time
}

// NewEvaluator creates an evaluator backed by store.
func NewEvaluator(store Store, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		store:  store,
		cache:  NewCache(),
		logger: logger.With("component", "budget"),
		now:    time.Now,
	}
}

// SetClock replaces the time source; tests use it to pin now.
func (e *Evaluator) SetClock(now func() time.Time) {
	e.now = now
}

// Now returns the evaluator's current time.
func (e *Evaluator) Now() time.Time {
	return e.now().UTC()
}

// Ensure returns the budget for a service, creating a full one if missing.
func (e *Evaluator) Ensure(ctx context.Context, serviceID int64) (*storage.ErrorBudget, error) {
	b, err := e.store.GetBudget(ctx, serviceID)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load budget: %w", err)
	}

	fresh := NewBudget(serviceID, DefaultSLOTarget, DefaultWindowDays, e.Now())
	if err := e.store.CreateBudget(ctx, &fresh); err != nil {
		return nil, fmt.Errorf("failed to create budget: %w", err)
	}
	// Another caller may have won the insert; read back the stored row.
	return e.store.GetBudget(ctx, serviceID)
}

// Evaluate recomputes and persists the budget of a service.
func (e *Evaluator) Evaluate(ctx context.Context, serviceID int64) (*storage.ErrorBudget, error) {
	v, err, _ := e.group.Do(strconv.FormatInt(serviceID, 10), func() (any, error) {
		return e.evaluate(ctx, serviceID)
	})
	metrics.ObserveEvaluation(err)
	if err != nil {
		return nil, err
	}
	b := *v.(*storage.ErrorBudget)
	return &b, nil
}

func (e *Evaluator) evaluate(ctx context.Context, serviceID int64) (*storage.ErrorBudget, error) {
	current, err := e.Ensure(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	now := e.Now()
	start, end := Window(*current, now)
	totals, err := e.store.SumJobStats(ctx, serviceID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to sum window: %w", err)
	}

	next := Compute(*current, totals, start, end)
	next.UpdatedAt = now
	if err := e.store.SaveBudget(ctx, &next); err != nil {
		return nil, fmt.Errorf("failed to save budget: %w", err)
	}

	if current.ReleaseGateOpen && !next.ReleaseGateOpen {
		e.logger.Warn("release gate locked",
			"service_id", serviceID,
			"budget_remaining", next.BudgetRemaining,
			"burn_rate", next.CurrentBurnRate)
	} else if !current.ReleaseGateOpen && next.ReleaseGateOpen {
		e.logger.Info("release gate reopened", "service_id", serviceID)
	}

	e.cache.Set(serviceID, &State{Budget: next, UpdatedAt: now, TTL: StaleAfter})
	return &next, nil
}

// Current returns a budget no older than StaleAfter, evaluating only when the
// cached or stored state is stale.
func (e *Evaluator) Current(ctx context.Context, serviceID int64) (*storage.ErrorBudget, error) {
	now := e.Now()
	if state, ok := e.cache.Get(serviceID); ok && !state.IsStale(now) {
		b := state.Budget
		return &b, nil
	}

	b, err := e.Ensure(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if IsStale(b, now) {
		return e.Evaluate(ctx, serviceID)
	}
	e.cache.Set(serviceID, &State{Budget: *b, UpdatedAt: *b.EvaluatedAt, TTL: StaleAfter})
	return b, nil
}

// Invalidate drops the cached budget, e.g. after a policy change.
func (e *Evaluator) Invalidate(serviceID int64) {
	e.cache.Delete(serviceID)
}

// CachedCount reports how many services have a cached budget.
func (e *Evaluator) CachedCount() int {
	return e.cache.Size()
}
