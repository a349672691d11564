package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/samijaber1/cellguard/internal/storage"
)

func setupTestDB(t *testing.T) (*Store, func()) {
	t.Helper()

	// Create temp database file
	tmpfile, err := os.CreateTemp("", "cellguard-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpfile.Close()

	store, err := NewStore(tmpfile.Name())
	if err != nil {
		os.Remove(tmpfile.Name())
		t.Fatalf("failed to create store: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.Remove(tmpfile.Name())
	}

	return store, cleanup
}

func mustService(t *testing.T, store *Store, name string) *storage.Service {
	t.Helper()
	svc, err := store.EnsureService(context.Background(), name)
	if err != nil {
		t.Fatalf("failed to ensure service: %v", err)
	}
	return svc
}

func TestStore_EnsureServiceIsIdempotent(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	first := mustService(t, store, "shard-default")
	second := mustService(t, store, "shard-default")
	if first.ID != second.ID {
		t.Errorf("expected same id, got %d and %d", first.ID, second.ID)
	}

	if _, err := store.GetService(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_BudgetLifecycle(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	svc := mustService(t, store, "shard-a")

	if _, err := store.GetBudget(ctx, svc.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before create, got %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	budget := &storage.ErrorBudget{
		ServiceID:       svc.ID,
		SLOTarget:       0.999,
		WindowDays:      30,
		WindowStart:     now,
		BudgetRemaining: 1,
		ReleaseGateOpen: true,
	}
	if err := store.CreateBudget(ctx, budget); err != nil {
		t.Fatalf("failed to create budget: %v", err)
	}
	// A second create must not clobber the first.
	dup := *budget
	dup.SLOTarget = 0.5
	if err := store.CreateBudget(ctx, &dup); err != nil {
		t.Fatalf("duplicate create should be a no-op: %v", err)
	}

	got, err := store.GetBudget(ctx, svc.ID)
	if err != nil {
		t.Fatalf("failed to get budget: %v", err)
	}
	if got.SLOTarget != 0.999 {
		t.Errorf("expected slo 0.999, got %f", got.SLOTarget)
	}

	got.BudgetRemaining = 0
	got.BudgetConsumed = 2
	got.ReleaseGateOpen = false
	got.EvaluatedAt = &now
	got.ViolationStartedAt = &now
	if err := store.SaveBudget(ctx, got); err != nil {
		t.Fatalf("failed to save budget: %v", err)
	}

	saved, err := store.GetBudget(ctx, svc.ID)
	if err != nil {
		t.Fatalf("failed to reload budget: %v", err)
	}
	if saved.ReleaseGateOpen {
		t.Error("expected gate to be locked")
	}
	if saved.ViolationStartedAt == nil || !saved.ViolationStartedAt.Equal(now) {
		t.Errorf("expected violation_started_at %v, got %v", now, saved.ViolationStartedAt)
	}
}

func TestStore_JobStatsUpsertAndSum(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	svc := mustService(t, store, "shard-a")

	start := time.Now().UTC().Add(-10 * time.Minute).Truncate(time.Second)
	end := start.Add(5 * time.Minute)

	stat := &storage.JobStat{
		ServiceID:      svc.ID,
		QueueNamespace: "default",
		PeriodStart:    start,
		PeriodEnd:      end,
		JobCount:       100,
		ErrorCount:     1,
		LatencyP95Ms:   300,
		Meta:           map[string]any{"source": "ingest"},
	}
	if err := store.UpsertJobStat(ctx, stat); err != nil {
		t.Fatalf("failed to insert stat: %v", err)
	}

	replacement := &storage.JobStat{
		ServiceID:      svc.ID,
		QueueNamespace: "default",
		PeriodStart:    start,
		PeriodEnd:      end,
		JobCount:       1000,
		ErrorCount:     200,
		LatencyP95Ms:   650,
		Meta:           map[string]any{"injected": true},
	}
	if err := store.UpsertJobStat(ctx, replacement); err != nil {
		t.Fatalf("failed to upsert stat: %v", err)
	}
	if replacement.Meta["source"] != "ingest" || replacement.Meta["injected"] != true {
		t.Errorf("expected merged meta, got %v", replacement.Meta)
	}

	totals, err := store.SumJobStats(ctx, svc.ID, start.Add(-time.Hour), time.Now().UTC())
	if err != nil {
		t.Fatalf("failed to sum stats: %v", err)
	}
	if totals.Jobs != 1000 || totals.Errors != 200 || totals.MaxLatencyMs != 650 {
		t.Errorf("unexpected totals: %+v", totals)
	}

	// A window that ends before the period starts sees nothing.
	empty, err := store.SumJobStats(ctx, svc.ID, start.Add(-2*time.Hour), start.Add(-time.Hour))
	if err != nil {
		t.Fatalf("failed to sum stats: %v", err)
	}
	if empty.Jobs != 0 {
		t.Errorf("expected no jobs outside window, got %d", empty.Jobs)
	}
}

func TestStore_ExecutionLifecycle(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	svc := mustService(t, store, "shard-a")

	exec := &storage.AgentExecution{
		AgentName: "budget_guard",
		ServiceID: &svc.ID,
		StartedAt: time.Now().UTC(),
	}
	if err := store.CreateExecution(ctx, exec); err != nil {
		t.Fatalf("failed to create execution: %v", err)
	}
	if exec.Status != storage.ExecutionRunning {
		t.Errorf("expected running, got %s", exec.Status)
	}

	actions := []storage.ActionEntry{{
		Action:    "chaos_triggered",
		Details:   map[string]any{"operation": "partition"},
		Timestamp: time.Now().UTC(),
	}}
	if err := store.UpdateExecutionActions(ctx, exec.ID, "chaos_triggered", actions); err != nil {
		t.Fatalf("failed to update actions: %v", err)
	}

	result := json.RawMessage(`{"alerts":[]}`)
	if err := store.FinishExecution(ctx, exec.ID, storage.ExecutionCompleted, result, "", time.Now().UTC()); err != nil {
		t.Fatalf("failed to finish execution: %v", err)
	}
	err := store.FinishExecution(ctx, exec.ID, storage.ExecutionFailed, nil, "again", time.Now().UTC())
	if !errors.Is(err, storage.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	got, err := store.GetExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("failed to get execution: %v", err)
	}
	if got.ServiceName != "shard-a" {
		t.Errorf("expected service name shard-a, got %q", got.ServiceName)
	}
	if got.CompletedAt == nil || got.Status != storage.ExecutionCompleted {
		t.Errorf("expected completed execution, got %+v", got)
	}
	if len(got.ActionDetails) != 1 || got.ActionDetails[0].Action != "chaos_triggered" {
		t.Errorf("unexpected action details: %+v", got.ActionDetails)
	}

	n, err := store.CountExecutions(ctx, storage.ExecutionFilter{
		AgentName: "budget_guard",
		Action:    "chaos_triggered",
	})
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 matching execution, got %d", n)
	}

	n, err = store.CountExecutions(ctx, storage.ExecutionFilter{AgentName: "budget_guard", ExcludeID: exec.ID})
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if n != 0 {
		t.Errorf("expected excluded execution to be skipped, got %d", n)
	}
}

func TestStore_FailStaleExecutions(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	old := &storage.AgentExecution{AgentName: "healing", StartedAt: time.Now().UTC().Add(-time.Hour)}
	fresh := &storage.AgentExecution{AgentName: "healing", StartedAt: time.Now().UTC()}
	for _, e := range []*storage.AgentExecution{old, fresh} {
		if err := store.CreateExecution(ctx, e); err != nil {
			t.Fatalf("failed to create execution: %v", err)
		}
	}

	n, err := store.FailStaleExecutions(ctx, time.Now().UTC().Add(-15*time.Minute), "reaped", time.Now().UTC())
	if err != nil {
		t.Fatalf("failed to reap: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 reaped execution, got %d", n)
	}

	got, _ := store.GetExecution(ctx, old.ID)
	if got.Status != storage.ExecutionFailed || got.ErrorMessage != "reaped" {
		t.Errorf("expected failed reaped execution, got %+v", got)
	}
}

func TestStore_IncidentQueries(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	svc := mustService(t, store, "shard-a")
	now := time.Now().UTC()

	mk := func(title, severity string, status storage.IncidentStatus, age time.Duration) *storage.Incident {
		inc := &storage.Incident{
			ServiceID:     svc.ID,
			Title:         title,
			SeverityLabel: severity,
			Status:        status,
			Context:       map[string]any{"classifier": map[string]any{"reason": "burning_error_budget"}},
			CreatedAt:     now.Add(-age),
		}
		if err := store.CreateIncident(ctx, inc); err != nil {
			t.Fatalf("failed to create incident: %v", err)
		}
		return inc
	}

	a := mk("Shard violation: burning_error_budget", "severity::2", storage.IncidentActive, 10*time.Minute)
	b := mk("Shard violation: latency_high", "severity::2", storage.IncidentResolved, 20*time.Minute)
	mk("Queue backlog", "severity::4", storage.IncidentActive, 3*time.Hour)

	open, err := store.CountIncidents(ctx, storage.IncidentFilter{ServiceID: svc.ID, Statuses: storage.OpenIncidentStatuses})
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if open != 2 {
		t.Errorf("expected 2 open incidents, got %d", open)
	}

	similar, err := store.FindSimilarIncidents(ctx, a, "shard violation: burning_error_budget", now.Add(-30*24*time.Hour), 3)
	if err != nil {
		t.Fatalf("failed to find similar: %v", err)
	}
	if len(similar) != 1 || similar[0].ID != b.ID {
		t.Errorf("expected incident %d as similar, got %+v", b.ID, similar)
	}

	unprocessed, err := store.ListUnprocessedIncidents(ctx, svc.ID, now.Add(-time.Hour), 5)
	if err != nil {
		t.Fatalf("failed to list unprocessed: %v", err)
	}
	if len(unprocessed) != 1 || unprocessed[0].ID != a.ID {
		t.Fatalf("expected only incident %d, got %+v", a.ID, unprocessed)
	}

	exec := &storage.AgentExecution{AgentName: "incident_response", ServiceID: &svc.ID, IncidentID: &a.ID, StartedAt: now}
	if err := store.CreateExecution(ctx, exec); err != nil {
		t.Fatalf("failed to create execution: %v", err)
	}
	unprocessed, err = store.ListUnprocessedIncidents(ctx, svc.ID, now.Add(-time.Hour), 5)
	if err != nil {
		t.Fatalf("failed to list unprocessed: %v", err)
	}
	if len(unprocessed) != 0 {
		t.Errorf("expected processed incident to drop out, got %+v", unprocessed)
	}
}

func TestStore_QueryAudit(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	svc := mustService(t, store, "shard-a")

	for i, action := range []string{"gate_override", "drill_executed", "gate_override"} {
		entry := &storage.AuditLog{
			ServiceID:     svc.ID,
			Actor:         "sre@example.com",
			Action:        action,
			Justification: "test",
			Metadata:      map[string]any{"i": i},
			CreatedAt:     time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if err := store.CreateAuditLog(ctx, entry); err != nil {
			t.Fatalf("failed to create audit log: %v", err)
		}
	}

	records, err := store.QueryAudit(ctx, storage.AuditFilter{ServiceID: svc.ID, Action: "gate_override"})
	if err != nil {
		t.Fatalf("failed to query audit: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	// Newest first
	if records[0].Metadata["i"] != float64(2) {
		t.Errorf("expected newest record first, got %v", records[0].Metadata)
	}

	limited, err := store.QueryAudit(ctx, storage.AuditFilter{ServiceID: svc.ID, Limit: 1})
	if err != nil {
		t.Fatalf("failed to query audit: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected 1 record with limit, got %d", len(limited))
	}
}

func TestStore_ConfigValues(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if _, ok, err := store.GetConfigValue(ctx, "healing_auto_recover"); err != nil || ok {
		t.Fatalf("expected no override, got ok=%v err=%v", ok, err)
	}
	if err := store.SetConfigValue(ctx, "healing_auto_recover", "true"); err != nil {
		t.Fatalf("failed to set: %v", err)
	}
	if err := store.SetConfigValue(ctx, "healing_auto_recover", "false"); err != nil {
		t.Fatalf("failed to overwrite: %v", err)
	}
	v, ok, err := store.GetConfigValue(ctx, "healing_auto_recover")
	if err != nil || !ok || v != "false" {
		t.Errorf("expected false override, got %q ok=%v err=%v", v, ok, err)
	}
}

func TestStore_ReversalClaims(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Now().UTC()

	r := &storage.PendingReversal{
		Operation: "docker_connect",
		Params:    map[string]any{"network": "grid", "container": "redis"},
		DueAt:     now.Add(-time.Second),
	}
	if err := store.CreateReversal(ctx, r); err != nil {
		t.Fatalf("failed to create reversal: %v", err)
	}

	due, err := store.DueReversals(ctx, now, 10)
	if err != nil {
		t.Fatalf("failed to list due: %v", err)
	}
	if len(due) != 1 || due[0].Params["network"] != "grid" {
		t.Fatalf("unexpected due reversals: %+v", due)
	}

	won, err := store.ClaimReversal(ctx, r.ID, now)
	if err != nil || !won {
		t.Fatalf("expected first claim to win, got %v %v", won, err)
	}
	won, err = store.ClaimReversal(ctx, r.ID, now)
	if err != nil || won {
		t.Fatalf("expected second claim to lose, got %v %v", won, err)
	}

	if err := store.ReleaseReversal(ctx, r.ID, "docker unavailable"); err != nil {
		t.Fatalf("failed to release: %v", err)
	}
	due, _ = store.DueReversals(ctx, now, 10)
	if len(due) != 1 || due[0].Attempts != 1 || due[0].LastError != "docker unavailable" {
		t.Errorf("expected released reversal with 1 attempt, got %+v", due)
	}
}
