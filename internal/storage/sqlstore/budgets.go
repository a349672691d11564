package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/samijaber1/cellguard/internal/storage"
)

const budgetColumns = `service_id, slo_target, window_days, window_start, budget_consumed, budget_remaining,
	current_burn_rate, release_gate_open, evaluated_at, violation_started_at, updated_at`

// GetBudget returns the budget of a service or storage.ErrNotFound.
func (s *Store) GetBudget(ctx context.Context, serviceID int64) (*storage.ErrorBudget, error) {
	var (
		b                      storage.ErrorBudget
		evaluatedAt, violation sql.NullTime
	)
	err := s.queryRow(ctx, "SELECT "+budgetColumns+" FROM error_budgets WHERE service_id = ?", serviceID).Scan(
		&b.ServiceID,
		&b.SLOTarget,
		&b.WindowDays,
		&b.WindowStart,
		&b.BudgetConsumed,
		&b.BudgetRemaining,
		&b.CurrentBurnRate,
		&b.ReleaseGateOpen,
		&evaluatedAt,
		&violation,
		&b.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get budget: %w", err)
	}
	b.WindowStart = utc(b.WindowStart)
	b.UpdatedAt = utc(b.UpdatedAt)
	b.EvaluatedAt = timePtr(evaluatedAt)
	b.ViolationStartedAt = timePtr(violation)
	return &b, nil
}

// CreateBudget inserts b unless the service already has one.
func (s *Store) CreateBudget(ctx context.Context, b *storage.ErrorBudget) error {
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now()
	}
	_, err := s.exec(ctx, `
		INSERT INTO error_budgets (`+budgetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(service_id) DO NOTHING
	`,
		b.ServiceID,
		b.SLOTarget,
		b.WindowDays,
		utc(b.WindowStart),
		b.BudgetConsumed,
		b.BudgetRemaining,
		b.CurrentBurnRate,
		b.ReleaseGateOpen,
		nullableTime(b.EvaluatedAt),
		nullableTime(b.ViolationStartedAt),
		utc(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create budget: %w", err)
	}
	return nil
}

// SaveBudget writes the evaluator-owned columns of b.
func (s *Store) SaveBudget(ctx context.Context, b *storage.ErrorBudget) error {
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now()
	}
	res, err := s.exec(ctx, `
		UPDATE error_budgets SET
			slo_target = ?,
			window_days = ?,
			window_start = ?,
			budget_consumed = ?,
			budget_remaining = ?,
			current_burn_rate = ?,
			release_gate_open = ?,
			evaluated_at = ?,
			violation_started_at = ?,
			updated_at = ?
		WHERE service_id = ?
	`,
		b.SLOTarget,
		b.WindowDays,
		utc(b.WindowStart),
		b.BudgetConsumed,
		b.BudgetRemaining,
		b.CurrentBurnRate,
		b.ReleaseGateOpen,
		nullableTime(b.EvaluatedAt),
		nullableTime(b.ViolationStartedAt),
		utc(b.UpdatedAt),
		b.ServiceID,
	)
	if err != nil {
		return fmt.Errorf("failed to save budget: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateBudgetPolicy changes the SLO target and window of an existing budget.
func (s *Store) UpdateBudgetPolicy(ctx context.Context, serviceID int64, sloTarget float64, windowDays int) error {
	res, err := s.exec(ctx, `
		UPDATE error_budgets SET slo_target = ?, window_days = ?, updated_at = ?
		WHERE service_id = ?
	`, sloTarget, windowDays, utc(time.Now()), serviceID)
	if err != nil {
		return fmt.Errorf("failed to update budget policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
