package classifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_Decide(t *testing.T) {
	engine := NewEngine()

	tests := []struct {
		name      string
		req       Request
		violation bool
	}{
		{"healthy", Request{ErrorRate: 0.01, P95LatencyMs: 200, BudgetRemaining: 0.8}, false},
		{"error rate at threshold", Request{ErrorRate: 0.12, P95LatencyMs: 200, BudgetRemaining: 0.8}, true},
		{"latency at threshold", Request{ErrorRate: 0.01, P95LatencyMs: 800, BudgetRemaining: 0.8}, true},
		{"budget exhausted", Request{ErrorRate: 0.01, P95LatencyMs: 200, BudgetRemaining: 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := engine.Decide(tt.req)
			assert.Equal(t, tt.violation, resp.IsViolation)
			if tt.violation {
				assert.Equal(t, ActionAlert, resp.Action)
				assert.Equal(t, ReasonBurning, resp.Reason)
			} else {
				assert.Equal(t, ActionNoop, resp.Action)
				assert.Equal(t, ReasonHealthy, resp.Reason)
			}
			require.NotNil(t, resp.DecisionTrace)
			assert.Equal(t, 0.12, resp.DecisionTrace.Thresholds["max_error_rate"])
		})
	}
}

func TestStub_IgnoresBudget(t *testing.T) {
	stub := NewStub()
	ctx := context.Background()

	resp, err := stub.Classify(ctx, Request{ErrorRate: 0.01, P95LatencyMs: 100, BudgetRemaining: 0})
	require.NoError(t, err)
	assert.False(t, resp.IsViolation)

	resp, err = stub.Classify(ctx, Request{ErrorRate: 0.2})
	require.NoError(t, err)
	assert.True(t, resp.IsViolation)
	assert.Nil(t, resp.DecisionTrace)

	stub.SetOverride("shard-x", Response{IsViolation: true, Action: ActionAlert, Reason: "latency_spike"})
	resp, err = stub.Classify(ctx, Request{ShardID: "shard-x"})
	require.NoError(t, err)
	assert.Equal(t, "latency_spike", resp.Reason)
}

func TestResponse_Map(t *testing.T) {
	m := Response{IsViolation: true, Action: ActionAlert, Reason: ReasonBurning}.Map()
	assert.Equal(t, ReasonBurning, m["reason"])
	_, hasTrace := m["decision_trace"]
	assert.False(t, hasTrace)
}

func TestHandler(t *testing.T) {
	h := &Handler{Engine: NewEngine()}
	server := httptest.NewServer(h.Routes())
	defer server.Close()

	resp, err := http.Post(server.URL+"/classify", "application/json",
		strings.NewReader(`{"shard_id":"shard-default","error_rate":0.5,"budget_remaining":0.5}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(server.URL+"/classify", "application/json", strings.NewReader(`{"unexpected":1}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(server.URL + "/classify")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
