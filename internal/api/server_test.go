package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samijaber1/cellguard/internal/agentconfig"
	"github.com/samijaber1/cellguard/internal/agents"
	"github.com/samijaber1/cellguard/internal/broadcast"
	"github.com/samijaber1/cellguard/internal/budget"
	"github.com/samijaber1/cellguard/internal/chaos"
	"github.com/samijaber1/cellguard/internal/classifier"
	"github.com/samijaber1/cellguard/internal/controlplane"
	"github.com/samijaber1/cellguard/internal/dispatch"
	"github.com/samijaber1/cellguard/internal/ledger"
	"github.com/samijaber1/cellguard/internal/metrics"
	"github.com/samijaber1/cellguard/internal/scheduler"
	"github.com/samijaber1/cellguard/internal/scorecard"
	"github.com/samijaber1/cellguard/internal/storage"
	"github.com/samijaber1/cellguard/internal/storage/sqlstore"
	"github.com/samijaber1/cellguard/internal/utils"
)

type failingChaos struct{}

func (failingChaos) Execute(_ context.Context, _ chaos.Operation, p chaos.Params) (chaos.Result, error) {
	return chaos.Result{Operation: "partition_docker", Status: chaos.StatusFailed, Duration: p.DurationSeconds, Error: "docker: no such network"}, nil
}

func (failingChaos) Heal(context.Context) chaos.HealResult {
	return chaos.HealResult{TCHeal: chaos.StepResult{Operation: "heal_tc", Success: true}}
}

type jobRecorder struct {
	mu   sync.Mutex
	jobs []dispatch.Job
}

func (j *jobRecorder) Dispatch(_ context.Context, job dispatch.Job) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jobs = append(j.jobs, job)
	return job.ID, nil
}

type eventSink struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (e *eventSink) Name() string { return "sink" }

func (e *eventSink) Broadcast(_ context.Context, evt broadcast.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
	return nil
}

type testEnv struct {
	store   *sqlstore.Store
	budgets *budget.Evaluator
	jobs    *jobRecorder
	sink    *eventSink
	handler http.Handler
}

type envOptions struct {
	cp     controlplane.Config
	opts   Options
	noSeed bool
}

func newTestEnv(t *testing.T, o envOptions) *testEnv {
	t.Helper()
	store, err := sqlstore.NewStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := utils.DiscardLogger()
	budgets := budget.NewEvaluator(store, logger)
	l := ledger.New(store, logger)
	config := agentconfig.NewResolver(store)
	config.SetEnv(func(string) string { return "" })

	var chaosSvc agents.ChaosService = failingChaos{}
	env := agents.NewEnv(store, budgets, chaosSvc, o.cp.DemoMode, logger)
	env.SetSleep(func(context.Context, time.Duration) error { return nil })
	runner := agents.NewRunner(env, l, config, broadcast.Noop{})
	registry := agents.DefaultRegistry(env)

	cp := controlplane.New(controlplane.Deps{
		Store:      store,
		Budgets:    budgets,
		Classifier: classifier.NewStub(),
		Chaos:      chaosSvc,
		Runner:     runner,
		Registry:   registry,
		Logger:     logger,
	}, o.cp)
	if !o.noSeed {
		_, err := cp.Seed(context.Background())
		require.NoError(t, err)
	}

	te := &testEnv{store: store, budgets: budgets, jobs: &jobRecorder{}, sink: &eventSink{}}
	sched := scheduler.New(runner, registry, l, scheduler.Options{}, logger)
	sched.SetDispatcher(te.jobs)

	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))

	te.handler = NewServer(Deps{
		ControlPlane: cp,
		Scheduler:    sched,
		Scorecards:   scorecard.New(store, config),
		Hub:          broadcast.NewHub(sched, logger),
		Broadcaster:  te.sink,
		Gatherer:     reg,
		Logger:       logger,
	}, o.opts).Routes()
	return te
}

func (te *testEnv) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	te.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (te *testEnv) lockGate(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	svc, err := te.store.GetService(ctx, controlplane.DefaultService)
	require.NoError(t, err)
	b, err := te.budgets.Ensure(ctx, svc.ID)
	require.NoError(t, err)
	now := te.budgets.Now()
	b.BudgetRemaining = 0
	b.BudgetConsumed = 1
	b.ReleaseGateOpen = false
	b.EvaluatedAt = &now
	b.ViolationStartedAt = &now
	require.NoError(t, te.store.SaveBudget(ctx, b))
	te.budgets.Invalidate(svc.ID)
}

func TestHealthAndReadiness(t *testing.T) {
	te := newTestEnv(t, envOptions{noSeed: true})

	rec := te.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])

	rec = te.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "no services seeded")

	seeded := newTestEnv(t, envOptions{})
	rec = seeded.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["services_loaded"])

	seeded.do(t, http.MethodGet, "/api/release-gate/check?service=shard-default", nil)
	rec = seeded.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, float64(1), decodeBody(t, rec)["budgets_cached"])
}

func TestMetricsEndpoint(t *testing.T) {
	te := newTestEnv(t, envOptions{})
	te.do(t, http.MethodGet, "/api/release-gate/check?service=shard-default", nil)

	rec := te.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cellguard_")
}

func TestGateCheck(t *testing.T) {
	te := newTestEnv(t, envOptions{})

	rec := te.do(t, http.MethodGet, "/api/release-gate/check?service=shard-default", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["allowed"])
	assert.Equal(t, "shard-default", body["service"])

	te.lockGate(t)
	rec = te.do(t, http.MethodGet, "/api/release-gate/check?service=shard-default", nil)
	require.Equal(t, http.StatusLocked, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, false, body["allowed"])
	assert.Equal(t, controlplane.LockedReason, body["reason"])

	rec = te.do(t, http.MethodGet, "/api/release-gate/check", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", decodeBody(t, rec)["error"])
}

func TestGateOverride(t *testing.T) {
	te := newTestEnv(t, envOptions{})

	rec := te.do(t, http.MethodPost, "/api/release-gate/override", map[string]any{
		"service": "shard-default", "actor": "oncall",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["message"], "justification")

	rec = te.do(t, http.MethodPost, "/api/release-gate/override", map[string]any{
		"service": "shard-default", "actor": "   ", "justification": "hotfix",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "blank actor is rejected after trimming")

	rec = te.do(t, http.MethodPost, "/api/release-gate/override", map[string]any{
		"service": "shard-default", "actor": "oncall", "justification": "Security hotfix",
	}, "User-Agent", "deploy-bot/1.0")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	audit := body["audit"].(map[string]any)
	assert.Equal(t, "override_gate", audit["action"])
	assert.Equal(t, "deploy-bot/1.0", audit["metadata"].(map[string]any)["user_agent"])

	rec = te.do(t, http.MethodPost, "/api/release-gate/override", `{"service":"shard-default","actor":"a","justification":"b","force":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")
}

func TestIngest_Authorization(t *testing.T) {
	te := newTestEnv(t, envOptions{cp: controlplane.Config{IngestToken: "s3cret"}})
	now := time.Now().UTC()
	stat := map[string]any{
		"service":         "shard-default",
		"queue_namespace": "default",
		"period_start":    now.Add(-5 * time.Minute),
		"period_end":      now,
		"job_count":       100,
		"error_count":     2,
		"latency_p95_ms":  300,
	}

	rec := te.do(t, http.MethodPost, "/api/ingest/job-stat", stat)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = te.do(t, http.MethodPost, "/api/ingest/job-stat", stat, TokenHeader, "wrong")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = te.do(t, http.MethodPost, "/api/ingest/job-stat", stat, TokenHeader, "s3cret")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, float64(100), decodeBody(t, rec)["job_count"])

	stat["job_count"] = -1
	rec = te.do(t, http.MethodPost, "/api/ingest/job-stat", stat, TokenHeader, "s3cret")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDemoOnlyEndpoints(t *testing.T) {
	te := newTestEnv(t, envOptions{})

	for _, path := range []string{"/api/inject-failures", "/api/chaos/partition", "/api/chaos/heal"} {
		rec := te.do(t, http.MethodPost, path, map[string]any{})
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
		assert.Equal(t, "forbidden", decodeBody(t, rec)["error"], path)
	}
}

func TestInjectAndEvaluate(t *testing.T) {
	te := newTestEnv(t, envOptions{cp: controlplane.Config{DemoMode: true}})

	rec := te.do(t, http.MethodPost, "/api/inject-failures", map[string]any{"error_rate": 0.5})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, true, decodeBody(t, rec)["meta"].(map[string]any)["injected"])

	rec = te.do(t, http.MethodPost, "/api/inject-failures", map[string]any{"error_rate": 2})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = te.do(t, http.MethodPost, "/api/evaluate", map[string]any{"service": "shard-default"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "shard-default", body["service"])
	assert.NotNil(t, body["incident_id"], "a 50% error rate opens an incident")

	rec = te.do(t, http.MethodGet, "/api/incidents?service=shard-default&status=active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["total"])

	rec = te.do(t, http.MethodPost, "/api/evaluate", map[string]any{"service": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChaosPartition(t *testing.T) {
	te := newTestEnv(t, envOptions{cp: controlplane.Config{DemoMode: true}})

	rec := te.do(t, http.MethodPost, "/api/chaos/partition", map[string]any{"mode": "iptables"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = te.do(t, http.MethodPost, "/api/chaos/partition", map[string]any{"mode": "docker", "duration_seconds": 10})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "chaos_failed", body["error"])
	assert.Equal(t, "failed", body["result"].(map[string]any)["status"])

	rec = te.do(t, http.MethodPost, "/api/chaos/heal", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestScheduleDrillAndAuditLogs(t *testing.T) {
	te := newTestEnv(t, envOptions{})

	rec := te.do(t, http.MethodPost, "/api/chaos/schedule", map[string]any{"service": "shard-default"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decodeBody(t, rec)["scheduled"])

	rec = te.do(t, http.MethodGet, "/api/audit-logs?service=shard-default&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["total"])
	entry := body["audit_logs"].([]any)[0].(map[string]any)
	assert.Equal(t, "drill_scheduled", entry["action"])
}

func TestIncidentStatus(t *testing.T) {
	te := newTestEnv(t, envOptions{})
	ctx := context.Background()
	svc, err := te.store.GetService(ctx, controlplane.DefaultService)
	require.NoError(t, err)
	inc := &storage.Incident{ServiceID: svc.ID, Title: "Shard violation: burning_error_budget"}
	require.NoError(t, te.store.CreateIncident(ctx, inc))

	rec := te.do(t, http.MethodPost, "/api/incidents/abc/status", map[string]any{"status": "resolved"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = te.do(t, http.MethodPost, "/api/incidents/99999/status", map[string]any{"status": "resolved"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = te.do(t, http.MethodPost, "/api/incidents/1/status", map[string]any{"status": "closed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = te.do(t, http.MethodPost, "/api/incidents/1/status", map[string]any{"status": "resolved"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "resolved", body["status"])
	assert.Contains(t, body["context"], "postmortem_draft")
}

func TestScorecard(t *testing.T) {
	te := newTestEnv(t, envOptions{})

	rec := te.do(t, http.MethodGet, "/api/scorecard", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "shard-default", body["service"])
	assert.Equal(t, "disabled", body["chaos_insight"].(map[string]any)["decision"])

	rec = te.do(t, http.MethodGet, "/api/scorecard?service=missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAgentsStatusAndActivity(t *testing.T) {
	te := newTestEnv(t, envOptions{})

	rec := te.do(t, http.MethodPost, "/api/agents/budget_guard/run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeBody(t, rec)
	assert.Equal(t, "budget_guard", out["agent"])
	assert.Equal(t, "shard-default", out["service"])

	rec = te.do(t, http.MethodGet, "/api/agents/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody(t, rec)
	assert.Equal(t, true, status["enabled"])
	assert.Len(t, status["agents"], 4)

	rec = te.do(t, http.MethodGet, "/api/agents/activity?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	activity := decodeBody(t, rec)["activity"].([]any)
	require.Len(t, activity, 1)
	assert.Equal(t, "budget_guard", activity[0].(map[string]any)["agent"])
}

func TestRunAgent_Errors(t *testing.T) {
	te := newTestEnv(t, envOptions{})

	rec := te.do(t, http.MethodPost, "/api/agents/unknown/run", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = te.do(t, http.MethodPost, "/api/agents/chaos_orchestrator/run", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, "chaos orchestrator is disabled by default")
	assert.Equal(t, "Agent disabled or service not found", decodeBody(t, rec)["message"])

	rec = te.do(t, http.MethodPost, "/api/agents/budget_guard/run?service=missing", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRunAll(t *testing.T) {
	te := newTestEnv(t, envOptions{})

	rec := te.do(t, http.MethodPost, "/api/agents/run-all", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, true, decodeBody(t, rec)["async"])
	te.jobs.mu.Lock()
	assert.Len(t, te.jobs.jobs, 3, "every enabled agent except the chaos orchestrator")
	te.jobs.mu.Unlock()

	rec = te.do(t, http.MethodPost, "/api/agents/run-all?async=false", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decodeBody(t, rec)["outcomes"], 3)

	rec = te.do(t, http.MethodPost, "/api/agents/run-all?async=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestToggleAgent(t *testing.T) {
	te := newTestEnv(t, envOptions{})

	rec := te.do(t, http.MethodPost, "/api/agents/healing/toggle", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "enabled is required")

	rec = te.do(t, http.MethodPost, "/api/agents/healing/toggle", map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, false, decodeBody(t, rec)["enabled"])

	te.sink.mu.Lock()
	require.Len(t, te.sink.events, 1)
	assert.Equal(t, broadcast.TypeAgentToggled, te.sink.events[0].Type)
	assert.Equal(t, "healing", te.sink.events[0].Agent)
	te.sink.mu.Unlock()

	rec = te.do(t, http.MethodPost, "/api/agents/healing/run", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = te.do(t, http.MethodPost, "/api/agents/unknown/toggle", map[string]any{"enabled": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerThrottle(t *testing.T) {
	te := newTestEnv(t, envOptions{opts: Options{TriggerRPS: 0.001, TriggerBurst: 1}})

	rec := te.do(t, http.MethodPost, "/api/agents/budget_guard/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = te.do(t, http.MethodPost, "/api/agents/budget_guard/run", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decodeBody(t, rec)["error"])

	rec = te.do(t, http.MethodGet, "/api/agents/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "reads are not throttled")
}

func TestRespondErr_Internal(t *testing.T) {
	s := NewServer(Deps{Logger: utils.DiscardLogger()}, Options{})

	rec := httptest.NewRecorder()
	s.respondErr(rec, httptest.NewRequest(http.MethodGet, "/x", nil), errors.New("disk on fire"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "internal_error", body["error"])
	assert.NotContains(t, body["message"], "disk")
}
