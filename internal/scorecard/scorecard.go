package scorecard

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/samijaber1/cellguard/internal/agentconfig"
	"github.com/samijaber1/cellguard/internal/agents"
	"github.com/samijaber1/cellguard/internal/storage"
)

const (
	recentWindow    = 30 * 24 * time.Hour
	trendDays       = 7
	chaosScanLimit  = 200
	incidentScanCap = 1000
)

var sparkBars = []string{"▁", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

// ChaosScorecard summarizes recent chaos orchestrator decisions.
type ChaosScorecard struct {
	SuccessRate      *float64 `json:"success_rate"`
	SuccessRateLabel string   `json:"success_rate_label"`
	Successful       int      `json:"successful"`
	Executed         int      `json:"executed"`
	Skipped          int      `json:"skipped"`
	Recommended      int      `json:"recommended"`
	Total            int      `json:"total"`
}

// MTTRScorecard is the mean time to resolve recent incidents.
type MTTRScorecard struct {
	Minutes       *float64 `json:"minutes"`
	Label         string   `json:"label"`
	ResolvedCount int      `json:"resolved_count"`
}

// GateLockScorecard compares gate locks of the last week with the week before.
type GateLockScorecard struct {
	RecentTotal   int    `json:"recent_total"`
	PreviousTotal int    `json:"previous_total"`
	Trend         string `json:"trend"`
	TrendLabel    string `json:"trend_label"`
	Sparkline     string `json:"sparkline"`
	Series        []int  `json:"series"`
}

// ChaosInsight explains the latest chaos decision.
type ChaosInsight struct {
	Enabled          bool       `json:"enabled"`
	Decision         string     `json:"decision"`
	DecisionLabel    string     `json:"decision_label"`
	Reason           string     `json:"reason"`
	Reasons          []string   `json:"reasons"`
	LastRunAt        *time.Time `json:"last_run_at"`
	DrillRationale   string     `json:"drill_rationale,omitempty"`
	AutoChaosEnabled bool       `json:"auto_chaos_enabled"`
}

// Scorecards groups the three scorecards.
type Scorecards struct {
	Chaos     ChaosScorecard    `json:"chaos"`
	MTTR      MTTRScorecard     `json:"mttr"`
	GateLocks GateLockScorecard `json:"gate_locks"`
}

// Snapshot is the scorecard of one service.
type Snapshot struct {
	Service      string       `json:"service"`
	Scorecards   Scorecards   `json:"scorecards"`
	ChaosInsight ChaosInsight `json:"chaos_insight"`
}

// Service builds SRE scorecards from executions and incidents.
type Service struct {
	store  storage.Store
	config *agentconfig.Resolver
	now    func() time.Time
}

// New creates a scorecard service.
func New(store storage.Store, config *agentconfig.Resolver) *Service {
	return &Service{store: store, config: config, now: time.Now}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Snapshot computes every scorecard for a service.
func (s *Service) Snapshot(ctx context.Context, service string) (*Snapshot, error) {
	svc, err := s.store.GetService(ctx, service)
	if err != nil {
		return nil, err
	}
	snap, err := s.config.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve agent config: %w", err)
	}
	now := s.now().UTC()

	since := now.Add(-recentWindow)
	serviceID := svc.ID
	execs, err := s.store.ListExecutions(ctx, storage.ExecutionFilter{
		AgentName:    agents.NameChaosOrchestrator,
		ServiceID:    &serviceID,
		CreatedAfter: &since,
		Limit:        chaosScanLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list chaos executions: %w", err)
	}

	mttr, err := s.mttr(ctx, svc.ID, since)
	if err != nil {
		return nil, err
	}
	locks, err := s.gateLocks(ctx, svc.ID, now)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Service: svc.Name,
		Scorecards: Scorecards{
			Chaos:     chaosScorecard(execs),
			MTTR:      mttr,
			GateLocks: locks,
		},
		ChaosInsight: chaosInsight(execs, snap.AgentEnabled(agents.NameChaosOrchestrator), snap.Bool(agentconfig.KeyChaosOrchestratorEnabled)),
	}, nil
}

func chaosScorecard(execs []storage.AgentExecution) ChaosScorecard {
	sc := ChaosScorecard{Total: len(execs)}
	for _, e := range execs {
		switch decision(e) {
		case agents.DecisionExecuted:
			sc.Executed++
			if drillSucceeded(e) {
				sc.Successful++
			}
		case agents.DecisionSkipped, agents.DecisionSkip, "noop":
			sc.Skipped++
		case agents.DecisionRecommended:
			sc.Recommended++
		}
	}
	sc.SuccessRateLabel = "N/A"
	if sc.Executed > 0 {
		rate := round1(float64(sc.Successful) / float64(sc.Executed) * 100)
		sc.SuccessRate = &rate
		sc.SuccessRateLabel = fmt.Sprintf("%g%%", rate)
	}
	return sc
}

func (s *Service) mttr(ctx context.Context, serviceID int64, since time.Time) (MTTRScorecard, error) {
	resolved, err := s.store.ListIncidents(ctx, storage.IncidentFilter{
		ServiceID:    serviceID,
		Statuses:     []storage.IncidentStatus{storage.IncidentResolved},
		CreatedAfter: &since,
		Limit:        incidentScanCap,
	})
	if err != nil {
		return MTTRScorecard{}, fmt.Errorf("failed to list resolved incidents: %w", err)
	}

	sc := MTTRScorecard{Label: "N/A", ResolvedCount: len(resolved)}
	var (
		sum float64
		n   int
	)
	for _, inc := range resolved {
		if inc.CreatedAt.IsZero() || inc.UpdatedAt.IsZero() {
			continue
		}
		sum += round1(inc.UpdatedAt.Sub(inc.CreatedAt).Minutes())
		n++
	}
	if n > 0 {
		avg := round1(sum / float64(n))
		sc.Minutes = &avg
		sc.Label = fmt.Sprintf("%g min", avg)
	}
	return sc, nil
}

func (s *Service) gateLocks(ctx context.Context, serviceID int64, now time.Time) (GateLockScorecard, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	recentStart := today.AddDate(0, 0, -(trendDays - 1))
	previousStart := recentStart.AddDate(0, 0, -trendDays)

	// CreatedAfter is exclusive and CreatedBefore inclusive.
	list := func(from, to time.Time) ([]storage.Incident, error) {
		after := from.Add(-time.Nanosecond)
		return s.store.ListIncidents(ctx, storage.IncidentFilter{
			ServiceID:     serviceID,
			CreatedAfter:  &after,
			CreatedBefore: &to,
			GateLock:      true,
			Limit:         incidentScanCap,
		})
	}

	recent, err := list(recentStart, now)
	if err != nil {
		return GateLockScorecard{}, fmt.Errorf("failed to list gate locks: %w", err)
	}
	previous, err := list(previousStart, recentStart.Add(-time.Nanosecond))
	if err != nil {
		return GateLockScorecard{}, fmt.Errorf("failed to list gate locks: %w", err)
	}

	series := make([]int, trendDays)
	for _, inc := range recent {
		day := int(inc.CreatedAt.UTC().Sub(recentStart) / (24 * time.Hour))
		if day >= 0 && day < trendDays {
			series[day]++
		}
	}

	sc := GateLockScorecard{
		PreviousTotal: len(previous),
		Series:        series,
		Sparkline:     Sparkline(series),
	}
	for _, v := range series {
		sc.RecentTotal += v
	}
	switch {
	case sc.RecentTotal > sc.PreviousTotal:
		sc.Trend = "up"
	case sc.RecentTotal < sc.PreviousTotal:
		sc.Trend = "down"
	default:
		sc.Trend = "flat"
	}
	delta := sc.RecentTotal - sc.PreviousTotal
	deltaLabel := fmt.Sprint(delta)
	if delta > 0 {
		deltaLabel = "+" + deltaLabel
	}
	sc.TrendLabel = fmt.Sprintf("%s %s vs previous %dd", strings.ToUpper(sc.Trend), deltaLabel, trendDays)
	return sc, nil
}

func chaosInsight(execs []storage.AgentExecution, enabled, autoChaos bool) ChaosInsight {
	if !enabled {
		return ChaosInsight{
			Decision:      "disabled",
			DecisionLabel: "Disabled",
			Reason:        "Chaos orchestrator is disabled. Enable it to collect drill decisions.",
			Reasons:       []string{"Chaos orchestrator is disabled."},
		}
	}
	if len(execs) == 0 {
		return ChaosInsight{
			Enabled:          true,
			Decision:         "pending",
			DecisionLabel:    "No Runs Yet",
			Reason:           "No chaos decision recorded yet. Trigger a run to capture guardrail reasoning.",
			Reasons:          []string{},
			AutoChaosEnabled: autoChaos,
		}
	}

	latest := execs[0]
	d := decision(latest)
	reasons := reasonsOf(latest)
	at := latest.CreatedAt
	return ChaosInsight{
		Enabled:          true,
		Decision:         d,
		DecisionLabel:    storage.Humanize(d),
		Reason:           reasons[0],
		Reasons:          reasons,
		LastRunAt:        &at,
		DrillRationale:   drillRationale(latest),
		AutoChaosEnabled: autoChaos,
	}
}

func resultMap(e storage.AgentExecution) map[string]any {
	if len(e.Result) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(e.Result, &m); err != nil {
		return nil
	}
	return m
}

func decision(e storage.AgentExecution) string {
	if d, _ := resultMap(e)["decision"].(string); d != "" {
		return d
	}
	switch {
	case e.Status == storage.ExecutionFailed:
		return "failed"
	case e.ActionTaken == "drill_skipped":
		return agents.DecisionSkipped
	}
	return "unknown"
}

func reasonsOf(e storage.AgentExecution) []string {
	res := resultMap(e)
	reasons := stringsOf(res["reasons"])
	if len(reasons) == 0 {
		if r, _ := res["reason"].(string); r != "" {
			reasons = append(reasons, r)
		}
	}
	if len(reasons) == 0 && len(e.ActionDetails) > 0 {
		last := e.ActionDetails[len(e.ActionDetails)-1]
		reasons = stringsOf(last.Details["reasons"])
	}
	if len(reasons) == 0 {
		return []string{"No detailed reason recorded"}
	}
	return reasons
}

func drillRationale(e storage.AgentExecution) string {
	drill, _ := resultMap(e)["drill"].(map[string]any)
	r, _ := drill["rationale"].(string)
	return r
}

func drillSucceeded(e storage.AgentExecution) bool {
	res, _ := resultMap(e)["result"].(map[string]any)
	status, _ := res["status"].(string)
	return status == "success"
}

func stringsOf(v any) []string {
	var out []string
	switch vs := v.(type) {
	case []any:
		for _, x := range vs {
			if s, ok := x.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
	case []string:
		for _, s := range vs {
			if strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// Sparkline renders values as block characters scaled to the maximum.
func Sparkline(values []int) string {
	if len(values) == 0 {
		return "No data"
	}
	maxV := 0
	for _, v := range values {
		maxV = max(maxV, v)
	}
	if maxV == 0 {
		return strings.Repeat(sparkBars[0], len(values))
	}
	var b strings.Builder
	for _, v := range values {
		idx := int(math.Round(float64(v) / float64(maxV) * float64(len(sparkBars)-1)))
		b.WriteString(sparkBars[idx])
	}
	return b.String()
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
