package agents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/samijaber1/cellguard/internal/agentconfig"
	"github.com/samijaber1/cellguard/internal/broadcast"
	"github.com/samijaber1/cellguard/internal/ledger"
	"github.com/samijaber1/cellguard/internal/metrics"
	"github.com/samijaber1/cellguard/internal/storage"
	"github.com/samijaber1/cellguard/internal/telemetry"
	"github.com/samijaber1/cellguard/internal/utils"
)

// Outcome is a finished run.
type Outcome struct {
	ExecutionID int64  `json:"execution_id"`
	Agent       string `json:"agent"`
	Service     string `json:"service"`
	Result      any    `json:"result"`
}

// Runner wraps agent runs in a ledger execution. A run that returns an error
// is marked failed and the error is passed back, so a dispatcher can retry.
type Runner struct {
	env         *Env
	ledger      *ledger.Ledger
	config      *agentconfig.Resolver
	broadcaster broadcast.Broadcaster
	tracer      trace.Tracer
	logger      *slog.Logger
}

// NewRunner creates a runner. broadcaster may be nil.
func NewRunner(env *Env, l *ledger.Ledger, config *agentconfig.Resolver, b broadcast.Broadcaster) *Runner {
	if b == nil {
		b = broadcast.Noop{}
	}
	return &Runner{
		env:         env,
		ledger:      l,
		config:      config,
		broadcaster: b,
		tracer:      telemetry.Tracer(),
		logger:      env.Logger.With("component", "agent_runner"),
	}
}

// Env returns the shared agent environment.
func (r *Runner) Env() *Env {
	return r.env
}

// Config returns the settings resolver.
func (r *Runner) Config() *agentconfig.Resolver {
	return r.config
}

// Run executes a on svc. A disabled agent returns a nil outcome without
// creating an execution.
func (r *Runner) Run(ctx context.Context, a Agent, svc *storage.Service) (*Outcome, error) {
	return r.run(ctx, a.Name(), svc, nil, a.Execute)
}

// RunIncident runs incident processing for one incident, binding the
// execution to it.
func (r *Runner) RunIncident(ctx context.Context, ir *IncidentResponse, inc *storage.Incident) (*Outcome, error) {
	if inc == nil {
		return nil, nil
	}
	svc, err := r.env.Store.GetServiceByID(ctx, inc.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load service for incident %d: %w", inc.ID, err)
	}
	return r.run(ctx, ir.Name(), svc, inc, func(ctx context.Context, rc *RunContext) (any, error) {
		return ir.Process(ctx, rc, inc)
	})
}

func (r *Runner) run(ctx context.Context, name string, svc *storage.Service, inc *storage.Incident, execute func(context.Context, *RunContext) (any, error)) (*Outcome, error) {
	snap, err := r.config.Snapshot(ctx)
	if err != nil {
		return nil, utils.NewAppError("agents.run", "failed to resolve agent config", err)
	}
	if !snap.GlobalEnabled() {
		r.logger.Debug("agents globally disabled, skipping", "agent", name)
		return nil, nil
	}
	if !snap.AgentEnabled(name) {
		r.logger.Debug("agent disabled, skipping", "agent", name)
		return nil, nil
	}

	attrs := []attribute.KeyValue{
		attribute.String("cellguard.agent", name),
		attribute.String("cellguard.service", svc.Name),
	}
	ctx, span := r.tracer.Start(ctx, "agent."+name, trace.WithAttributes(attrs...))
	defer span.End()

	var incidentID *int64
	if inc != nil {
		id := inc.ID
		incidentID = &id
	}
	serviceID := svc.ID
	run, err := r.ledger.Start(ctx, name, &serviceID, incidentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int64("cellguard.execution_id", run.ID()))

	logger := r.logger.With("agent", name, "service", svc.Name, "execution_id", run.ID())
	logger.Info("agent execution started")
	started := r.env.Now()

	rc := &RunContext{
		Service:  svc,
		Incident: inc,
		Config:   snap,
		Now:      started,
		run:      run,
		env:      r.env,
	}

	result, execErr := execute(ctx, rc)
	elapsed := time.Since(started)
	if execErr != nil {
		if err := run.Fail(ctx, execErr.Error()); err != nil {
			logger.Error("failed to mark execution failed", "error", err)
		}
		metrics.ObserveAgentRun(name, string(storage.ExecutionFailed), elapsed)
		r.notify(ctx, run, svc)
		span.RecordError(execErr)
		span.SetStatus(codes.Error, execErr.Error())
		logger.Error("agent execution failed", "error", execErr)
		return nil, utils.NewAppError("agents.run", fmt.Sprintf("%s execution %d failed", name, run.ID()), execErr)
	}

	if err := run.Complete(ctx, result); err != nil {
		metrics.ObserveAgentRun(name, string(storage.ExecutionFailed), elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	metrics.ObserveAgentRun(name, string(storage.ExecutionCompleted), elapsed)
	r.notify(ctx, run, svc)
	logger.Info("agent execution completed", "action", run.Execution().ActionTaken, "duration_ms", elapsed.Milliseconds())

	return &Outcome{
		ExecutionID: run.ID(),
		Agent:       name,
		Service:     svc.Name,
		Result:      result,
	}, nil
}

func (r *Runner) notify(ctx context.Context, run *ledger.Run, svc *storage.Service) {
	exec := run.Execution()
	evt := broadcast.NewEvent(broadcast.TypeAgentActivity)
	evt.Agent = exec.AgentName
	evt.Action = exec.ActionTaken
	evt.Service = svc.Name
	evt.Status = string(exec.Status)
	evt.CreatedAt = exec.CreatedAt
	evt.Payload = map[string]any{"execution_id": exec.ID}
	broadcast.Notify(context.WithoutCancel(ctx), r.broadcaster, r.logger, evt)
}
