package scorecard

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samijaber1/cellguard/internal/agentconfig"
	"github.com/samijaber1/cellguard/internal/agents"
	"github.com/samijaber1/cellguard/internal/chaos"
	"github.com/samijaber1/cellguard/internal/ledger"
	"github.com/samijaber1/cellguard/internal/storage"
	"github.com/samijaber1/cellguard/internal/storage/sqlstore"
	"github.com/samijaber1/cellguard/internal/utils"
)

var now = time.Date(2025, 3, 5, 15, 0, 0, 0, time.UTC)

type harness struct {
	store  *sqlstore.Store
	config *agentconfig.Resolver
	ledger *ledger.Ledger
	cards  *Service
	svc    *storage.Service
	at     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := sqlstore.NewStore(filepath.Join(t.TempDir(), "scorecard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &harness{store: store, at: now}
	h.svc, err = store.EnsureService(context.Background(), "shard-default")
	require.NoError(t, err)
	h.config = agentconfig.NewResolver(store)
	h.config.SetEnv(func(string) string { return "" })
	h.ledger = ledger.New(store, utils.DiscardLogger())
	h.ledger.SetClock(func() time.Time { return h.at })
	h.cards = New(store, h.config)
	h.cards.SetClock(func() time.Time { return now })
	return h
}

func (h *harness) chaosRun(t *testing.T, at time.Time, res agents.DrillResult, actions ...string) {
	t.Helper()
	ctx := context.Background()
	h.at = at
	serviceID := h.svc.ID
	run, err := h.ledger.Start(ctx, agents.NameChaosOrchestrator, &serviceID, nil)
	require.NoError(t, err)
	for _, a := range actions {
		require.NoError(t, run.Record(ctx, a, map[string]any{"reasons": res.Reasons}))
	}
	require.NoError(t, run.Complete(ctx, res))
}

func (h *harness) incident(t *testing.T, title string, status storage.IncidentStatus, created, updated time.Time) {
	t.Helper()
	require.NoError(t, h.store.CreateIncident(context.Background(), &storage.Incident{
		ServiceID: h.svc.ID,
		Title:     title,
		Status:    status,
		CreatedAt: created,
		UpdatedAt: updated,
	}))
}

func TestSparkline(t *testing.T) {
	tests := []struct {
		in   []int
		want string
	}{
		{nil, "No data"},
		{[]int{0, 0, 0}, "▁▁▁"},
		{[]int{0, 0, 0, 1, 0, 0, 2}, "▁▁▁▅▁▁█"},
		{[]int{7, 1}, "█▂"},
	}
	for _, tt := range tests {
		if got := Sparkline(tt.in); got != tt.want {
			t.Errorf("Sparkline(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSnapshot_Empty(t *testing.T) {
	h := newHarness(t)

	snap, err := h.cards.Snapshot(context.Background(), "shard-default")
	require.NoError(t, err)

	assert.Equal(t, "N/A", snap.Scorecards.Chaos.SuccessRateLabel)
	assert.Nil(t, snap.Scorecards.Chaos.SuccessRate)
	assert.Equal(t, "N/A", snap.Scorecards.MTTR.Label)
	assert.Equal(t, "flat", snap.Scorecards.GateLocks.Trend)
	assert.Equal(t, "FLAT 0 vs previous 7d", snap.Scorecards.GateLocks.TrendLabel)
	assert.Equal(t, "▁▁▁▁▁▁▁", snap.Scorecards.GateLocks.Sparkline)
	assert.Equal(t, "disabled", snap.ChaosInsight.Decision)
	assert.False(t, snap.ChaosInsight.Enabled)

	_, err = h.cards.Snapshot(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSnapshot_ChaosScorecardAndInsight(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.config.SetAgentEnabled(context.Background(), agents.NameChaosOrchestrator, true))

	drill := &agents.Drill{Type: chaos.OpPartition, Rationale: "Routine resilience test", SafetyScore: 0.8}
	h.chaosRun(t, now.Add(-72*time.Hour), agents.DrillResult{
		Decision: agents.DecisionExecuted, Drill: drill,
		Result: &chaos.Result{Status: chaos.StatusSuccess},
	})
	h.chaosRun(t, now.Add(-48*time.Hour), agents.DrillResult{
		Decision: agents.DecisionExecuted, Drill: drill,
		Result: &chaos.Result{Status: chaos.StatusFailed},
	})
	h.chaosRun(t, now.Add(-40*24*time.Hour), agents.DrillResult{Decision: agents.DecisionExecuted, Drill: drill})
	h.chaosRun(t, now.Add(-24*time.Hour), agents.DrillResult{Decision: agents.DecisionRecommended, Drill: drill})
	h.chaosRun(t, now.Add(-time.Hour), agents.DrillResult{
		Decision: agents.DecisionSkipped,
		Reasons:  []string{"Outside business hours", "Release gate is locked"},
	}, "drill_skipped")

	snap, err := h.cards.Snapshot(context.Background(), "shard-default")
	require.NoError(t, err)

	sc := snap.Scorecards.Chaos
	assert.Equal(t, 4, sc.Total, "runs older than 30 days are ignored")
	assert.Equal(t, 2, sc.Executed)
	assert.Equal(t, 1, sc.Successful)
	assert.Equal(t, 1, sc.Skipped)
	assert.Equal(t, 1, sc.Recommended)
	require.NotNil(t, sc.SuccessRate)
	assert.Equal(t, 50.0, *sc.SuccessRate)
	assert.Equal(t, "50%", sc.SuccessRateLabel)

	in := snap.ChaosInsight
	assert.True(t, in.Enabled)
	assert.True(t, in.AutoChaosEnabled)
	assert.Equal(t, "skipped", in.Decision)
	assert.Equal(t, "Skipped", in.DecisionLabel)
	assert.Equal(t, "Outside business hours", in.Reason)
	assert.Len(t, in.Reasons, 2)
	require.NotNil(t, in.LastRunAt)
}

func TestSnapshot_PendingInsight(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.config.SetAgentEnabled(context.Background(), agents.NameChaosOrchestrator, true))

	snap, err := h.cards.Snapshot(context.Background(), "shard-default")
	require.NoError(t, err)
	assert.Equal(t, "pending", snap.ChaosInsight.Decision)
	assert.Equal(t, "No Runs Yet", snap.ChaosInsight.DecisionLabel)
	assert.Empty(t, snap.ChaosInsight.Reasons)
}

func TestSnapshot_InsightFallsBackToReasonAndRationale(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.config.SetAgentEnabled(context.Background(), agents.NameChaosOrchestrator, true))
	h.chaosRun(t, now.Add(-time.Hour), agents.DrillResult{
		Decision: agents.DecisionRecommended,
		Reason:   "Safe mode is off",
		Drill:    &agents.Drill{Type: chaos.OpDegrade, Rationale: "Elevated burn rate"},
	})

	snap, err := h.cards.Snapshot(context.Background(), "shard-default")
	require.NoError(t, err)
	assert.Equal(t, []string{"Safe mode is off"}, snap.ChaosInsight.Reasons)
	assert.Equal(t, "Elevated burn rate", snap.ChaosInsight.DrillRationale)
}

func TestSnapshot_MTTR(t *testing.T) {
	h := newHarness(t)
	base := now.Add(-5 * 24 * time.Hour)
	h.incident(t, "Shard violation: latency", storage.IncidentResolved, base, base.Add(30*time.Minute))
	h.incident(t, "Shard violation: errors", storage.IncidentResolved, base, base.Add(time.Hour))
	h.incident(t, "Shard violation: open", storage.IncidentActive, base, base.Add(10*time.Hour))
	h.incident(t, "Shard violation: ancient", storage.IncidentResolved, now.Add(-60*24*time.Hour), now.Add(-59*24*time.Hour))

	snap, err := h.cards.Snapshot(context.Background(), "shard-default")
	require.NoError(t, err)
	mttr := snap.Scorecards.MTTR
	assert.Equal(t, 2, mttr.ResolvedCount)
	require.NotNil(t, mttr.Minutes)
	assert.Equal(t, 45.0, *mttr.Minutes)
	assert.Equal(t, "45 min", mttr.Label)
}

func TestSnapshot_GateLockTrend(t *testing.T) {
	h := newHarness(t)
	today := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	title := "Shard violation: burning_error_budget"

	h.incident(t, title, storage.IncidentActive, today.Add(time.Hour), today.Add(time.Hour))
	h.incident(t, title, storage.IncidentResolved, today.Add(2*time.Hour), today.Add(3*time.Hour))
	h.incident(t, title, storage.IncidentResolved, today.AddDate(0, 0, -3).Add(10*time.Hour), today.AddDate(0, 0, -3).Add(11*time.Hour))
	h.incident(t, "Shard violation: latency", storage.IncidentActive, today.Add(time.Hour), today.Add(time.Hour))
	h.incident(t, title, storage.IncidentResolved, today.AddDate(0, 0, -11), today.AddDate(0, 0, -11))

	snap, err := h.cards.Snapshot(context.Background(), "shard-default")
	require.NoError(t, err)
	gl := snap.Scorecards.GateLocks
	assert.Equal(t, []int{0, 0, 0, 1, 0, 0, 2}, gl.Series)
	assert.Equal(t, 3, gl.RecentTotal)
	assert.Equal(t, 1, gl.PreviousTotal)
	assert.Equal(t, "up", gl.Trend)
	assert.Equal(t, "UP +2 vs previous 7d", gl.TrendLabel)
	assert.Equal(t, "▁▁▁▅▁▁█", gl.Sparkline)
}
