package controlplane

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samijaber1/cellguard/internal/agents"
	"github.com/samijaber1/cellguard/internal/budget"
	"github.com/samijaber1/cellguard/internal/classifier"
	"github.com/samijaber1/cellguard/internal/storage"
)

var (
	// ErrValidation marks malformed or missing input. No state is changed.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden marks demo-only operations outside demo mode and bad
	// ingest tokens.
	ErrForbidden = errors.New("forbidden")
	// ErrChaosFailed marks a chaos command that ran but failed.
	ErrChaosFailed = errors.New("chaos operation failed")
)

// DefaultService is seeded on startup and used when a request names none.
const DefaultService = "shard-default"

// Config holds the control plane switches.
type Config struct {
	// DemoMode allows failure injection, chaos and token-less ingest.
	DemoMode bool
	// IngestToken authorizes job stat ingest outside demo mode.
	IngestToken string
}

// Deps are the collaborators of the control plane.
type Deps struct {
	Store      storage.Store
	Budgets    *budget.Evaluator
	Classifier classifier.Classifier
	Chaos      agents.ChaosService
	Runner     *agents.Runner
	Registry   *agents.Registry
	Logger     *slog.Logger
}

// ControlPlane implements the operator-facing operations on top of the
// budget evaluator, the agents and the store.
type ControlPlane struct {
	store      storage.Store
	budgets    *budget.Evaluator
	classifier classifier.Classifier
	chaos      agents.ChaosService
	runner     *agents.Runner
	registry   *agents.Registry
	config     Config
	logger     *slog.Logger
}

// New creates a control plane.
func New(deps Deps, config Config) *ControlPlane {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ControlPlane{
		store:      deps.Store,
		budgets:    deps.Budgets,
		classifier: deps.Classifier,
		chaos:      deps.Chaos,
		runner:     deps.Runner,
		registry:   deps.Registry,
		config:     config,
		logger:     logger.With("component", "controlplane"),
	}
}

// DemoMode reports whether demo-only operations are allowed.
func (c *ControlPlane) DemoMode() bool {
	return c.config.DemoMode
}

func (c *ControlPlane) now() time.Time {
	return c.budgets.Now()
}

func (c *ControlPlane) requireDemo() error {
	if !c.config.DemoMode {
		return fmt.Errorf("%w: demo endpoints are disabled", ErrForbidden)
	}
	return nil
}

// Authorize checks an ingest token. Demo mode accepts any caller.
func (c *ControlPlane) Authorize(token string) error {
	if c.config.DemoMode {
		return nil
	}
	if token == "" || c.config.IngestToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(c.config.IngestToken)) != 1 {
		return fmt.Errorf("%w: invalid ingest token", ErrForbidden)
	}
	return nil
}

// service looks up an existing service by name.
func (c *ControlPlane) service(ctx context.Context, name string) (*storage.Service, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: service is required", ErrValidation)
	}
	svc, err := c.store.GetService(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("service %s: %w", name, storage.ErrNotFound)
		}
		return nil, err
	}
	return svc, nil
}

// Seed ensures the default service exists with a freshly evaluated budget.
func (c *ControlPlane) Seed(ctx context.Context) (*storage.Service, error) {
	svc, err := c.store.EnsureService(ctx, DefaultService)
	if err != nil {
		return nil, fmt.Errorf("failed to seed %s: %w", DefaultService, err)
	}
	b, err := c.budgets.Ensure(ctx, svc.ID)
	if err != nil {
		return nil, err
	}
	if b.EvaluatedAt == nil {
		if _, err := c.budgets.Evaluate(ctx, svc.ID); err != nil {
			return nil, err
		}
	}
	c.logger.Info("seeded default service", "service", svc.Name, "service_id", svc.ID)
	return svc, nil
}

// CachedBudgets reports how many service budgets are held in memory.
func (c *ControlPlane) CachedBudgets() int {
	return c.budgets.CachedCount()
}

// Services lists every known service.
func (c *ControlPlane) Services(ctx context.Context) ([]storage.Service, error) {
	return c.store.ListServices(ctx)
}

// AuditLogs returns the newest audit entries of a service.
func (c *ControlPlane) AuditLogs(ctx context.Context, service string, limit int) ([]storage.AuditLog, error) {
	svc, err := c.service(ctx, service)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return c.store.QueryAudit(ctx, storage.AuditFilter{ServiceID: svc.ID, Limit: limit})
}

// ScheduleDrill records the intent to run a drill; it runs nothing.
func (c *ControlPlane) ScheduleDrill(ctx context.Context, service string, at *time.Time) (map[string]any, error) {
	svc, err := c.service(ctx, service)
	if err != nil {
		return nil, err
	}
	return agents.ScheduleDrill(ctx, c.store, svc, at, c.now())
}
