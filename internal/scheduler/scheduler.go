package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samijaber1/cellguard/internal/agentconfig"
	"github.com/samijaber1/cellguard/internal/agents"
	"github.com/samijaber1/cellguard/internal/dispatch"
	"github.com/samijaber1/cellguard/internal/ledger"
	"github.com/samijaber1/cellguard/internal/storage"
)

// ErrUnknownAgent is returned for agent names that are not registered.
var ErrUnknownAgent = errors.New("unknown agent")

// DefaultActivityLimit bounds the recent activity feed.
const DefaultActivityLimit = 20

// Options tunes the background loops.
type Options struct {
	// TickInterval overrides the agent_execution_interval_seconds setting.
	TickInterval   time.Duration
	ReaperInterval time.Duration
	StaleAfter     time.Duration
}

// Scheduler fans agent runs out across services and reports on them. It
// holds no business logic of its own.
type Scheduler struct {
	runner     *agents.Runner
	registry   *agents.Registry
	store      storage.Store
	ledger     *ledger.Ledger
	dispatcher dispatch.Dispatcher
	opts       Options
	logger     *slog.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
}

// New creates a scheduler. A dispatcher must be set before RunAllParallel.
func New(runner *agents.Runner, registry *agents.Registry, l *ledger.Ledger, opts Options, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ReaperInterval <= 0 {
		opts.ReaperInterval = time.Minute
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = ledger.DefaultStaleAfter
	}
	return &Scheduler{
		runner:   runner,
		registry: registry,
		store:    runner.Env().Store,
		ledger:   l,
		opts:     opts,
		logger:   logger.With("component", "scheduler"),
	}
}

// SetDispatcher sets where fire-and-forget runs go.
func (s *Scheduler) SetDispatcher(d dispatch.Dispatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatcher = d
}

func (s *Scheduler) snapshot(ctx context.Context) (agentconfig.Snapshot, error) {
	snap, err := s.runner.Config().Snapshot(ctx)
	if err != nil {
		return agentconfig.Snapshot{}, fmt.Errorf("failed to resolve agent config: %w", err)
	}
	return snap, nil
}

func (s *Scheduler) agent(name string) (agents.Agent, error) {
	a, ok := s.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	return a, nil
}

// RunAgentOnService runs one agent on one service. A nil outcome means the
// agent is disabled or the service does not exist.
func (s *Scheduler) RunAgentOnService(ctx context.Context, name, service string) (*agents.Outcome, error) {
	a, err := s.agent(name)
	if err != nil {
		return nil, err
	}
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if !snap.GlobalEnabled() {
		return nil, nil
	}
	svc, err := s.store.GetService(ctx, service)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load service %s: %w", service, err)
	}
	return s.runner.Run(ctx, a, svc)
}

// RunAgent runs one agent on every service, stopping at the first failure.
func (s *Scheduler) RunAgent(ctx context.Context, name string) ([]agents.Outcome, error) {
	a, err := s.agent(name)
	if err != nil {
		return nil, err
	}
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if !snap.GlobalEnabled() {
		return []agents.Outcome{}, nil
	}
	services, err := s.store.ListServices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}

	out := []agents.Outcome{}
	for i := range services {
		o, err := s.runner.Run(ctx, a, &services[i])
		if err != nil {
			return out, err
		}
		if o != nil {
			out = append(out, *o)
		}
	}
	return out, nil
}

// RunAll runs every enabled agent on every service and waits for them. A
// failed run does not stop the others; failures are joined into the error.
func (s *Scheduler) RunAll(ctx context.Context) ([]agents.Outcome, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if !snap.GlobalEnabled() {
		return []agents.Outcome{}, nil
	}
	services, err := s.store.ListServices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}

	var (
		out  = []agents.Outcome{}
		errs []error
	)
	for _, a := range s.registry.All() {
		if !snap.AgentEnabled(a.Name()) {
			continue
		}
		for i := range services {
			o, err := s.runner.Run(ctx, a, &services[i])
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if o != nil {
				out = append(out, *o)
			}
		}
	}
	return out, errors.Join(errs...)
}

// RunAllParallel dispatches one job per enabled agent and service without
// waiting for any of them.
func (s *Scheduler) RunAllParallel(ctx context.Context) ([]dispatch.Job, error) {
	return s.fanOut(ctx, false)
}

// Tick is one round of the periodic loop. It matches RunAllParallel except
// that healing is only dispatched to services that look like they need it.
func (s *Scheduler) Tick(ctx context.Context) ([]dispatch.Job, error) {
	return s.fanOut(ctx, true)
}

func (s *Scheduler) fanOut(ctx context.Context, gateHealing bool) ([]dispatch.Job, error) {
	s.mu.RLock()
	d := s.dispatcher
	s.mu.RUnlock()
	if d == nil {
		return nil, fmt.Errorf("no dispatcher configured")
	}

	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	jobs := []dispatch.Job{}
	if !snap.GlobalEnabled() {
		return jobs, nil
	}
	services, err := s.store.ListServices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}

	healing := s.registry.Healing()
	for _, a := range s.registry.All() {
		if !snap.AgentEnabled(a.Name()) {
			continue
		}
		for i := range services {
			svc := &services[i]
			if gateHealing && a.Name() == agents.NameHealing && healing != nil {
				need, err := healing.ShouldHeal(ctx, svc)
				if err != nil {
					s.logger.Warn("healing check failed", "service", svc.Name, "error", err)
					continue
				}
				if !need {
					continue
				}
			}
			job := dispatch.Job{ID: dispatch.NewJobID(), Agent: a.Name(), Service: svc.Name}
			if _, err := d.Dispatch(ctx, job); err != nil {
				return jobs, fmt.Errorf("failed to dispatch %s on %s: %w", job.Agent, job.Service, err)
			}
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// Handle runs a dispatched job. A job for a disabled agent or a deleted
// service is a no-op.
func (s *Scheduler) Handle(ctx context.Context, job dispatch.Job) error {
	_, err := s.RunAgentOnService(ctx, job.Agent, job.Service)
	if errors.Is(err, ErrUnknownAgent) {
		s.logger.Warn("dropping job for unknown agent", "jid", job.ID, "agent", job.Agent)
		return nil
	}
	return err
}

// ToggleAgent switches one agent on or off.
func (s *Scheduler) ToggleAgent(ctx context.Context, name string, enabled bool) error {
	if _, err := s.agent(name); err != nil {
		return err
	}
	if err := s.runner.Config().SetAgentEnabled(ctx, name, enabled); err != nil {
		return fmt.Errorf("failed to toggle %s: %w", name, err)
	}
	s.logger.Info("agent toggled", "agent", name, "enabled", enabled)
	return nil
}

// Start launches the periodic agent loop and the stale-execution reaper.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if s.dispatcher == nil {
		return fmt.Errorf("no dispatcher configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.wg.Add(2)
	go s.tickLoop(ctx)
	go s.reapLoop(ctx)

	s.logger.Info("started scheduler", "agents", len(s.registry.All()))
	return nil
}

// Stop stops the loops and waits for them to exit. Dispatched jobs are not
// waited on.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping scheduler")
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// interval re-reads the tick interval so a config change applies on the next round.
func (s *Scheduler) interval(ctx context.Context) time.Duration {
	if s.opts.TickInterval > 0 {
		return s.opts.TickInterval
	}
	snap, err := s.snapshot(ctx)
	if err != nil {
		return time.Minute
	}
	secs := snap.Int(agentconfig.KeyExecutionIntervalSeconds)
	if secs <= 0 {
		return time.Minute
	}
	return time.Duration(secs) * time.Second
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(s.interval(ctx))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			jobs, err := s.Tick(ctx)
			if err != nil {
				s.logger.Error("scheduler tick failed", "error", err)
			} else if len(jobs) > 0 {
				s.logger.Debug("scheduler tick dispatched", "jobs", len(jobs))
			}
			timer.Reset(s.interval(ctx))
		}
	}
}

func (s *Scheduler) reapLoop(ctx context.Context) {
	defer s.wg.Done()
	if s.ledger == nil {
		return
	}

	reap := func() {
		if _, err := s.ledger.Reap(ctx, s.opts.StaleAfter); err != nil && ctx.Err() == nil {
			s.logger.Error("reaper failed", "error", err)
		}
	}
	reap()

	ticker := time.NewTicker(s.opts.ReaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reap()
		}
	}
}
