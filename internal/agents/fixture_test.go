package agents

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/samijaber1/cellguard/internal/agentconfig"
	"github.com/samijaber1/cellguard/internal/broadcast"
	"github.com/samijaber1/cellguard/internal/budget"
	"github.com/samijaber1/cellguard/internal/chaos"
	"github.com/samijaber1/cellguard/internal/ledger"
	"github.com/samijaber1/cellguard/internal/storage"
	"github.com/samijaber1/cellguard/internal/storage/sqlstore"
	"github.com/samijaber1/cellguard/internal/utils"
)

// wednesdayMorning is inside business hours.
var wednesdayMorning = time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)

type fakeChaos struct {
	mu      sync.Mutex
	ops     []chaos.Operation
	params  []chaos.Params
	heals   int
	execErr error
}

func (f *fakeChaos) Execute(_ context.Context, op chaos.Operation, params chaos.Params) (chaos.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.execErr != nil {
		return chaos.Result{}, f.execErr
	}
	f.ops = append(f.ops, op)
	f.params = append(f.params, params)
	return chaos.Result{Operation: "partition_docker", Status: chaos.StatusSuccess, Duration: params.DurationSeconds, AutoHealScheduled: true}, nil
}

func (f *fakeChaos) Heal(context.Context) chaos.HealResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heals++
	return chaos.HealResult{
		TCHeal:     chaos.StepResult{Operation: "heal_tc", Success: true},
		DockerHeal: chaos.StepResult{Operation: "heal_docker", Success: true},
	}
}

type captureSink struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Broadcast(_ context.Context, evt broadcast.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return errors.New("observers are gone")
}

type fixture struct {
	store    *sqlstore.Store
	env      *Env
	ledger   *ledger.Ledger
	budgets  *budget.Evaluator
	config   *agentconfig.Resolver
	runner   *Runner
	registry *Registry
	chaos    *fakeChaos
	sink     *captureSink
	svc      *storage.Service
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlstore.NewStore(filepath.Join(t.TempDir(), "agents.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{store: store, chaos: &fakeChaos{}, sink: &captureSink{}}
	f.svc, err = store.EnsureService(context.Background(), "shard-default")
	require.NoError(t, err)

	f.budgets = budget.NewEvaluator(store, utils.DiscardLogger())
	f.ledger = ledger.New(store, utils.DiscardLogger())
	f.config = agentconfig.NewResolver(store)
	f.config.SetEnv(func(string) string { return "" })

	f.env = NewEnv(store, f.budgets, f.chaos, false, utils.DiscardLogger())
	f.env.SetSleep(func(context.Context, time.Duration) error { return nil })
	f.registry = DefaultRegistry(f.env)
	f.runner = NewRunner(f.env, f.ledger, f.config, f.sink)
	f.setNow(wednesdayMorning)
	return f
}

func (f *fixture) setNow(now time.Time) {
	f.now = now
	clock := func() time.Time { return f.now }
	f.env.SetClock(clock)
	f.ledger.SetClock(clock)
	f.budgets.SetClock(clock)
}

func (f *fixture) set(t *testing.T, key, value string) {
	t.Helper()
	require.NoError(t, f.config.Set(context.Background(), key, value))
}

// saveBudget stores a freshly evaluated budget so Current does not recompute.
func (f *fixture) saveBudget(t *testing.T, remaining, burn float64, open bool) {
	t.Helper()
	ctx := context.Background()
	b, err := f.budgets.Ensure(ctx, f.svc.ID)
	require.NoError(t, err)

	now := f.now
	b.BudgetRemaining = remaining
	b.BudgetConsumed = 1 - remaining
	b.CurrentBurnRate = burn
	b.ReleaseGateOpen = open
	b.EvaluatedAt = &now
	if !open {
		b.ViolationStartedAt = &now
	}
	require.NoError(t, f.store.SaveBudget(ctx, b))
	f.budgets.Invalidate(f.svc.ID)
}

// windowBudget starts the budget window a day ago and ingests one stat.
func (f *fixture) windowBudget(t *testing.T, jobs, errs int64) {
	t.Helper()
	ctx := context.Background()
	b, err := f.budgets.Ensure(ctx, f.svc.ID)
	require.NoError(t, err)
	b.WindowStart = f.now.Add(-24 * time.Hour)
	require.NoError(t, f.store.SaveBudget(ctx, b))

	require.NoError(t, f.store.UpsertJobStat(ctx, &storage.JobStat{
		ServiceID:      f.svc.ID,
		QueueNamespace: "default",
		PeriodStart:    f.now.Add(-time.Hour),
		PeriodEnd:      f.now.Add(-55 * time.Minute),
		JobCount:       jobs,
		ErrorCount:     errs,
		LatencyP95Ms:   400,
	}))
}

func (f *fixture) run(t *testing.T, name string) *Outcome {
	t.Helper()
	a, ok := f.registry.Get(name)
	require.True(t, ok)
	out, err := f.runner.Run(context.Background(), a, f.svc)
	require.NoError(t, err)
	return out
}

// pastExecution records a completed execution of agent at the given time.
func (f *fixture) pastExecution(t *testing.T, agent string, at time.Time, actions ...string) {
	t.Helper()
	ctx := context.Background()
	prev := f.now
	f.setNow(at)
	defer f.setNow(prev)

	serviceID := f.svc.ID
	run, err := f.ledger.Start(ctx, agent, &serviceID, nil)
	require.NoError(t, err)
	for _, a := range actions {
		require.NoError(t, run.Record(ctx, a, nil))
	}
	require.NoError(t, run.Complete(ctx, map[string]any{}))
}

func (f *fixture) audits(t *testing.T, action string) []storage.AuditLog {
	t.Helper()
	logs, err := f.store.QueryAudit(context.Background(), storage.AuditFilter{ServiceID: f.svc.ID, Action: action})
	require.NoError(t, err)
	return logs
}

func (f *fixture) execution(t *testing.T, id int64) *storage.AgentExecution {
	t.Helper()
	exec, err := f.store.GetExecution(context.Background(), id)
	require.NoError(t, err)
	return exec
}

func actionNames(exec *storage.AgentExecution) []string {
	names := make([]string, 0, len(exec.ActionDetails))
	for _, a := range exec.ActionDetails {
		names = append(names, a.Action)
	}
	return names
}
