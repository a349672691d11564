package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samijaber1/cellguard/internal/storage"
	"github.com/samijaber1/cellguard/internal/utils"
)

type failingAgent struct{}

func (failingAgent) Name() string        { return NameBudgetGuard }
func (failingAgent) Description() string { return "always fails" }

func (failingAgent) Execute(ctx context.Context, rc *RunContext) (any, error) {
	if err := rc.Record(ctx, "started_work", nil); err != nil {
		return nil, err
	}
	return nil, errors.New("classifier unreachable")
}

func TestRunner_ToggleOffIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.config.SetAgentEnabled(ctx, NameBudgetGuard, false))
	out, err := f.runner.Run(ctx, f.registry.All()[0], f.svc)
	require.NoError(t, err)
	assert.Nil(t, out)

	n, err := f.store.CountExecutions(ctx, storage.ExecutionFilter{AgentName: NameBudgetGuard})
	require.NoError(t, err)
	assert.Zero(t, n, "a disabled agent creates no execution")

	require.NoError(t, f.config.SetAgentEnabled(ctx, NameBudgetGuard, true))
	out = f.run(t, NameBudgetGuard)
	require.NotNil(t, out)
	assert.Equal(t, "shard-default", out.Service)

	exec := f.execution(t, out.ExecutionID)
	assert.Equal(t, storage.ExecutionCompleted, exec.Status)
	assert.NotNil(t, exec.CompletedAt)
}

func TestRunner_FailureMarksExecutionFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.runner.Run(ctx, failingAgent{}, f.svc)
	require.Error(t, err)
	assert.Nil(t, out)
	assert.ErrorContains(t, err, "classifier unreachable")

	var appErr *utils.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "agents.run", appErr.Op)

	execs, err := f.store.ListExecutions(ctx, storage.ExecutionFilter{AgentName: NameBudgetGuard})
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, storage.ExecutionFailed, execs[0].Status)
	assert.Equal(t, "classifier unreachable", execs[0].ErrorMessage)
	assert.Equal(t, "started_work", execs[0].ActionTaken)
}

func TestRunner_BroadcastFailureDoesNotFailRun(t *testing.T) {
	f := newFixture(t)

	out := f.run(t, NameBudgetGuard)
	require.NotNil(t, out)

	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	require.Len(t, f.sink.events, 1)
	assert.Equal(t, "agent_activity", f.sink.events[0].Type)
	assert.Equal(t, NameBudgetGuard, f.sink.events[0].Agent)
	assert.Equal(t, "completed", f.sink.events[0].Status)
}

func TestRegistry_Order(t *testing.T) {
	f := newFixture(t)

	var names []string
	for _, a := range f.registry.All() {
		names = append(names, a.Name())
	}
	assert.Equal(t, []string{NameBudgetGuard, NameChaosOrchestrator, NameIncidentResponse, NameHealing}, names)

	_, ok := f.registry.Get("nope")
	assert.False(t, ok)
	assert.NotNil(t, f.registry.Healing())
	assert.NotNil(t, f.registry.IncidentResponse())
}

func TestBusinessHours(t *testing.T) {
	tests := []struct {
		name string
		at   string
		want bool
	}{
		{"weekday morning", "2025-03-05T09:00:00Z", true},
		{"weekday before open", "2025-03-05T08:59:00Z", false},
		{"weekday at close", "2025-03-05T18:00:00Z", false},
		{"saturday", "2025-03-08T11:00:00Z", false},
		{"sunday", "2025-03-09T11:00:00Z", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := mustTime(t, tt.at)
			assert.Equal(t, tt.want, businessHours(at))
		})
	}
}
