package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/samijaber1/cellguard/internal/budget"
	"github.com/samijaber1/cellguard/internal/storage"
)

// Store is the persistence a sync needs.
type Store interface {
	storage.ServiceStore
	storage.BudgetStore
}

// SyncResult summarizes one sync pass.
type SyncResult struct {
	Services int
	Created  int
	Updated  int
	Errors   []ValidationError
}

// Syncer applies catalog definitions to the store.
type Syncer struct {
	dir       string
	validator *Validator
	store     Store
	budgets   *budget.Evaluator
	logger    *slog.Logger
}

// NewSyncer creates a syncer for the definitions under dir.
func NewSyncer(dir string, store Store, budgets *budget.Evaluator, logger *slog.Logger) (*Syncer, error) {
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		dir:       dir,
		validator: v,
		store:     store,
		budgets:   budgets,
		logger:    logger.With("component", "catalog"),
	}, nil
}

// Dir returns the catalog directory.
func (s *Syncer) Dir() string {
	return s.dir
}

// Sync validates the catalog and applies every valid definition. A missing
// directory yields an empty result; invalid files are reported and skipped.
func (s *Syncer) Sync(ctx context.Context) (SyncResult, error) {
	var res SyncResult
	if _, err := os.Stat(s.dir); errors.Is(err, os.ErrNotExist) {
		s.logger.Debug("catalog directory missing, nothing to sync", "dir", s.dir)
		return res, nil
	}

	defs, verrs := s.validator.ValidateDirectory(s.dir)
	res.Errors = verrs
	for _, verr := range verrs {
		s.logger.Warn("invalid service definition", "file", verr.File, "path", verr.Path, "error", verr.Message)
	}

	for _, def := range defs {
		created, updated, err := s.apply(ctx, def.Definition)
		if err != nil {
			return res, fmt.Errorf("failed to sync %s: %w", def.File, err)
		}
		res.Services++
		if created {
			res.Created++
		}
		if updated {
			res.Updated++
		}
	}

	s.logger.Info("catalog synced",
		"dir", s.dir,
		"services", res.Services,
		"created", res.Created,
		"updated", res.Updated,
		"invalid", len(res.Errors))
	return res, nil
}

// apply ensures the service and creates or updates its budget policy.
func (s *Syncer) apply(ctx context.Context, def *Definition) (created, updated bool, err error) {
	days, err := WindowDays(def.Spec.Window)
	if err != nil {
		return false, false, err
	}

	svc, err := s.store.EnsureService(ctx, def.Metadata.Name)
	if err != nil {
		return false, false, err
	}

	current, err := s.store.GetBudget(ctx, svc.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		b := budget.NewBudget(svc.ID, def.Spec.SLOTarget, days, s.budgets.Now())
		if err := s.store.CreateBudget(ctx, &b); err != nil {
			return false, false, err
		}
		s.logger.Info("service registered",
			"service", svc.Name,
			"slo_target", def.Spec.SLOTarget,
			"window", formatDuration(time.Duration(days)*day))
		return true, false, nil
	case err != nil:
		return false, false, err
	}

	if current.SLOTarget == def.Spec.SLOTarget && current.WindowDays == days {
		return false, false, nil
	}
	if err := s.store.UpdateBudgetPolicy(ctx, svc.ID, def.Spec.SLOTarget, days); err != nil {
		return false, false, err
	}
	s.budgets.Invalidate(svc.ID)
	s.logger.Info("budget policy changed",
		"service", svc.Name,
		"slo_target", def.Spec.SLOTarget,
		"window", formatDuration(time.Duration(days)*day))
	return false, true, nil
}
