package agents

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samijaber1/cellguard/internal/agentconfig"
	"github.com/samijaber1/cellguard/internal/storage"
)

const (
	unprocessedWindow = time.Hour
	unprocessedLimit  = 5
	similarWindow     = 30 * 24 * time.Hour
	similarLimit      = 3
)

// SeverityAssessment maps a severity label to a level and response SLA.
type SeverityAssessment struct {
	Level           string `json:"level"`
	ResponseTimeSLA string `json:"response_time_sla"`
}

// Cause is a likely cause of an incident.
type Cause struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ImpactScope is who and what an incident touches.
type ImpactScope struct {
	Service      string         `json:"service"`
	Team         string         `json:"team"`
	BudgetImpact map[string]any `json:"budget_impact,omitempty"`
}

// Analysis is the agent's read of one incident.
type Analysis struct {
	SeverityAssessment SeverityAssessment `json:"severity_assessment"`
	LikelyCauses       []Cause            `json:"likely_causes"`
	ImpactScope        ImpactScope        `json:"impact_scope"`
	Confidence         float64            `json:"confidence"`
}

// Runbook is a suggested response procedure.
type Runbook struct {
	Slug      string   `json:"slug"`
	Title     string   `json:"title"`
	Relevance float64  `json:"relevance"`
	Actions   []string `json:"actions"`
}

// SimilarIncident is a short reference to a related incident.
type SimilarIncident struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// TimelineEntry is one point in a postmortem timeline.
type TimelineEntry struct {
	Time  time.Time `json:"time"`
	Event string    `json:"event"`
}

// CorrectiveAction is a follow-up suggested by a postmortem.
type CorrectiveAction struct {
	Priority string `json:"priority"`
	Action   string `json:"action"`
}

// Postmortem is a draft produced for resolved incidents.
type Postmortem struct {
	Title             string             `json:"title"`
	Summary           string             `json:"summary"`
	Impact            map[string]any     `json:"impact"`
	Timeline          []TimelineEntry    `json:"timeline"`
	RootCause         string             `json:"root_cause,omitempty"`
	CorrectiveActions []CorrectiveAction `json:"corrective_actions"`
}

// IncidentReport is the result of processing one incident.
type IncidentReport struct {
	IncidentID         int64             `json:"incident_id"`
	Analysis           Analysis          `json:"analysis"`
	RunbookSuggestions []Runbook         `json:"runbook_suggestions"`
	SimilarIncidents   []SimilarIncident `json:"similar_incidents"`
	PostmortemDraft    *Postmortem       `json:"postmortem_draft"`
}

// SweepResult is the result of a periodic sweep.
type SweepResult struct {
	Processed []IncidentReport `json:"processed"`
}

// IncidentResponse analyses incidents and suggests runbooks.
type IncidentResponse struct {
	env *Env
}

// NewIncidentResponse creates the agent.
func NewIncidentResponse(env *Env) *IncidentResponse {
	return &IncidentResponse{env: env}
}

func (ir *IncidentResponse) Name() string { return NameIncidentResponse }

func (ir *IncidentResponse) Description() string {
	return "Auto-generates runbook suggestions for incidents"
}

// Execute sweeps recent open incidents that no execution has looked at since
// they were created.
func (ir *IncidentResponse) Execute(ctx context.Context, rc *RunContext) (any, error) {
	res := &SweepResult{Processed: []IncidentReport{}}

	incidents, err := ir.env.Store.ListUnprocessedIncidents(ctx, rc.Service.ID, rc.Now.Add(-unprocessedWindow), unprocessedLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed incidents: %w", err)
	}
	for i := range incidents {
		// A sweep run carries no incident id, so analysed incidents still
		// look unprocessed to the query.
		if _, done := incidents[i].Context["agent_analysis"]; done {
			continue
		}
		report, err := ir.Process(ctx, rc, &incidents[i])
		if err != nil {
			return nil, err
		}
		if report != nil {
			res.Processed = append(res.Processed, *report)
		}
	}
	return res, nil
}

// Process analyses one incident and merges the findings into its context.
func (ir *IncidentResponse) Process(ctx context.Context, rc *RunContext, inc *storage.Incident) (*IncidentReport, error) {
	if inc == nil {
		return nil, nil
	}

	similar, err := ir.similar(ctx, inc, rc.Now)
	if err != nil {
		return nil, err
	}

	report := &IncidentReport{
		IncidentID:         inc.ID,
		Analysis:           Analyze(inc),
		RunbookSuggestions: SuggestRunbooks(inc),
		SimilarIncidents:   similar,
		PostmortemDraft:    DraftPostmortem(inc),
	}

	if len(report.RunbookSuggestions) > 0 && rc.Config.Bool(agentconfig.KeyIncidentAutoRunbooks) {
		if err := rc.Audit(ctx, "runbook_suggested", map[string]any{
			"incident_id": inc.ID,
			"runbooks":    report.RunbookSuggestions,
		}, "Auto-suggested runbooks based on incident classification"); err != nil {
			return nil, err
		}
	}

	ids := make([]int64, 0, len(similar))
	for _, s := range similar {
		ids = append(ids, s.ID)
	}
	merged := make(map[string]any, len(inc.Context)+3)
	for k, v := range inc.Context {
		merged[k] = v
	}
	merged["agent_analysis"] = report.Analysis
	merged["suggested_runbooks"] = report.RunbookSuggestions
	merged["similar_incidents"] = ids
	if report.PostmortemDraft != nil {
		merged["postmortem_draft"] = report.PostmortemDraft
	}
	if err := ir.env.Store.UpdateIncidentContext(ctx, inc.ID, merged); err != nil {
		return nil, fmt.Errorf("failed to update incident %d: %w", inc.ID, err)
	}
	return report, nil
}

func (ir *IncidentResponse) similar(ctx context.Context, inc *storage.Incident, now time.Time) ([]SimilarIncident, error) {
	words := strings.Fields(inc.Title)
	if len(words) > 3 {
		words = words[:3]
	}
	found, err := ir.env.Store.FindSimilarIncidents(ctx, inc, strings.Join(words, " "), now.Add(-similarWindow), similarLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to find similar incidents: %w", err)
	}
	out := make([]SimilarIncident, 0, len(found))
	for _, f := range found {
		out = append(out, SimilarIncident{ID: f.ID, Title: f.Title, Status: string(f.Status), CreatedAt: f.CreatedAt})
	}
	return out, nil
}

// AssessSeverity maps severity::N labels to a level and SLA.
func AssessSeverity(label string) SeverityAssessment {
	switch {
	case strings.Contains(label, "severity::1"):
		return SeverityAssessment{Level: "critical", ResponseTimeSLA: "15 minutes"}
	case strings.Contains(label, "severity::2"):
		return SeverityAssessment{Level: "high", ResponseTimeSLA: "30 minutes"}
	case strings.Contains(label, "severity::3"):
		return SeverityAssessment{Level: "medium", ResponseTimeSLA: "2 hours"}
	}
	return SeverityAssessment{Level: "low", ResponseTimeSLA: "4 hours"}
}

// Analyze infers severity, causes, impact and a confidence score.
func Analyze(inc *storage.Incident) Analysis {
	a := Analysis{
		SeverityAssessment: AssessSeverity(inc.SeverityLabel),
		LikelyCauses:       []Cause{},
		ImpactScope: ImpactScope{
			Service: inc.ServiceLabel,
			Team:    inc.TeamLabel,
		},
	}

	if reason := classifierReason(inc.Context); reason != "" {
		a.LikelyCauses = append(a.LikelyCauses, Cause{Type: "classified", Description: reason})
	}
	if strings.Contains(inc.Title, "budget") {
		a.LikelyCauses = append(a.LikelyCauses, Cause{Type: "inferred", Description: "SLO budget exhaustion"})
	}
	if strings.Contains(inc.Title, "latency") {
		a.LikelyCauses = append(a.LikelyCauses, Cause{Type: "inferred", Description: "Performance degradation"})
	}

	if b := nestedMap(inc.Context, "budget"); b != nil {
		impact := map[string]any{}
		for _, k := range []string{"remaining", "burn_rate"} {
			if v, ok := b[k]; ok {
				impact[k] = v
			}
		}
		if len(impact) > 0 {
			a.ImpactScope.BudgetImpact = impact
		}
	}

	score := 0.5
	if len(a.LikelyCauses) > 0 {
		score += 0.2
	}
	if len(a.ImpactScope.BudgetImpact) > 0 {
		score += 0.2
	}
	if a.SeverityAssessment.Level != "" {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	a.Confidence = roundConfidence(score)
	return a
}

// SuggestRunbooks returns the matching runbooks by descending relevance. The
// general response runbook is always included.
func SuggestRunbooks(inc *storage.Incident) []Runbook {
	title := strings.ToLower(inc.Title)
	reason := classifierReason(inc.Context)

	var out []Runbook
	if strings.Contains(title, "budget") || lowBudget(inc.Context) {
		out = append(out, Runbook{
			Slug:      "budget-exhaustion",
			Title:     "Error Budget Exhaustion Response",
			Relevance: 0.95,
			Actions:   []string{"Verify error rate calculation", "Check for misconfiguration", "Consider gate override"},
		})
	}
	if strings.Contains(title, "latency") || strings.Contains(reason, "latency") {
		out = append(out, Runbook{
			Slug:      "high-latency",
			Title:     "High Latency Investigation",
			Relevance: 0.9,
			Actions:   []string{"Check database query performance", "Review recent deployments", "Analyze queue depth"},
		})
	}
	if strings.Contains(reason, "chaos") {
		out = append(out, Runbook{
			Slug:      "gameday",
			Title:     "Game Day Response",
			Relevance: 0.85,
			Actions:   []string{"Verify chaos is intentional", "Check auto-heal status", "Monitor recovery"},
		})
	}
	out = append(out, Runbook{
		Slug:      "incident-response",
		Title:     "General Incident Response",
		Relevance: 0.5,
		Actions:   []string{"Assess impact", "Notify stakeholders", "Begin timeline documentation"},
	})

	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	return out
}

// DraftPostmortem returns a draft for resolved incidents and nil otherwise.
func DraftPostmortem(inc *storage.Incident) *Postmortem {
	if inc.Status != storage.IncidentResolved {
		return nil
	}

	impact := nestedMap(inc.Context, "budget")
	if impact == nil {
		impact = map[string]any{}
	}
	reason := classifierReason(inc.Context)

	actions := []CorrectiveAction{}
	if numberAt(nestedMap(inc.Context, "budget"), "burn_rate") > 1.0 {
		actions = append(actions, CorrectiveAction{Priority: "high", Action: "Review and optimize error rate"})
	}
	if strings.Contains(reason, "latency") {
		actions = append(actions, CorrectiveAction{Priority: "medium", Action: "Performance optimization review"})
	}
	actions = append(actions, CorrectiveAction{Priority: "low", Action: "Update monitoring thresholds"})

	return &Postmortem{
		Title:   "Postmortem: " + inc.Title,
		Summary: "Incident detected at " + inc.CreatedAt.UTC().Format(time.RFC3339),
		Impact:  impact,
		Timeline: []TimelineEntry{
			{Time: inc.CreatedAt, Event: "Incident detected"},
			{Time: inc.UpdatedAt, Event: "Last status update"},
		},
		RootCause:         reason,
		CorrectiveActions: actions,
	}
}

// lowBudget reports whether an embedded budget snapshot has under 10% left.
func lowBudget(ctx map[string]any) bool {
	b := nestedMap(ctx, "budget")
	if _, ok := b["remaining"]; !ok {
		return false
	}
	return numberAt(b, "remaining") < 0.1
}

func classifierReason(ctx map[string]any) string {
	if c := nestedMap(ctx, "classifier"); c != nil {
		if s, ok := c["reason"].(string); ok {
			return s
		}
	}
	return ""
}

func nestedMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]any)
	return v
}

// numberAt reads a numeric field; missing or non-numeric values read as 0.
func numberAt(m map[string]any, key string) float64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

func roundConfidence(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
