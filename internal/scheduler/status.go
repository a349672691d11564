package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/samijaber1/cellguard/internal/agents"
	"github.com/samijaber1/cellguard/internal/broadcast"
	"github.com/samijaber1/cellguard/internal/storage"
)

// AgentStatus is one row of the status report.
type AgentStatus struct {
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	Enabled         bool       `json:"enabled"`
	ExecutionsToday int        `json:"executions_today"`
	LastExecution   *time.Time `json:"last_execution"`
}

// Status is the global agent status.
type Status struct {
	Enabled     bool          `json:"enabled"`
	Agents      []AgentStatus `json:"agents"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// Activity is one entry of the recent activity feed.
type Activity struct {
	ID          int64     `json:"id"`
	Agent       string    `json:"agent"`
	Service     string    `json:"service"`
	Status      string    `json:"status"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	Error       string    `json:"error,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// Status reports every registered agent with today's execution count.
func (s *Scheduler) Status(ctx context.Context) (*Status, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	now := s.runner.Env().Now()
	// CreatedAfter is exclusive, so start just before midnight.
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Add(-time.Nanosecond)

	st := &Status{Enabled: snap.GlobalEnabled(), Agents: []AgentStatus{}, GeneratedAt: now}
	for _, a := range s.registry.All() {
		row := AgentStatus{
			Name:        a.Name(),
			Description: a.Description(),
			Enabled:     snap.AgentEnabled(a.Name()),
		}
		row.ExecutionsToday, err = s.store.CountExecutions(ctx, storage.ExecutionFilter{
			AgentName:    a.Name(),
			CreatedAfter: &dayStart,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to count %s executions: %w", a.Name(), err)
		}
		last, err := s.store.ListExecutions(ctx, storage.ExecutionFilter{AgentName: a.Name(), Limit: 1})
		if err != nil {
			return nil, fmt.Errorf("failed to load last %s execution: %w", a.Name(), err)
		}
		if len(last) > 0 {
			at := last[0].CreatedAt
			row.LastExecution = &at
		}
		st.Agents = append(st.Agents, row)
	}
	return st, nil
}

// RecentActivity returns the latest executions, newest first.
func (s *Scheduler) RecentActivity(ctx context.Context, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	execs, err := s.store.ListExecutions(ctx, storage.ExecutionFilter{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	now := s.runner.Env().Now()
	out := make([]Activity, 0, len(execs))
	for _, e := range execs {
		out = append(out, Activity{
			ID:          e.ID,
			Agent:       e.AgentName,
			Service:     e.ServiceName,
			Status:      string(e.Status),
			Action:      e.ActionTaken,
			Description: e.Description(),
			Error:       e.ErrorMessage,
			DurationMs:  e.DurationMs(now),
			CreatedAt:   e.CreatedAt,
		})
	}
	return out, nil
}

var _ broadcast.Commander = (*Scheduler)(nil)

// Snapshot is the status sent to websocket clients.
func (s *Scheduler) Snapshot(ctx context.Context) (any, error) {
	st, err := s.Status(ctx)
	if err != nil {
		return nil, err
	}
	activity, err := s.RecentActivity(ctx, DefaultActivityLimit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": st, "activity": activity}, nil
}

// TriggerAgent runs an agent on a service for a websocket client and reports
// whether it ran.
func (s *Scheduler) TriggerAgent(ctx context.Context, agent, service string) (bool, error) {
	if service == "" {
		service = broadcast.DefaultService
	}
	o, err := s.RunAgentOnService(ctx, agent, service)
	if err != nil {
		return false, err
	}
	return o != nil, nil
}

// Agents lists the registered agents in run order.
func (s *Scheduler) Agents() []agents.Agent {
	return s.registry.All()
}
