package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cellguard"

const (
	// OutcomeSuccess labels operations that finished without error.
	OutcomeSuccess = "success"
	// OutcomeError labels operations that returned an error.
	OutcomeError = "error"
)

var (
	agentRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_runs_total",
			Help:      "Agent executions by agent and terminal status.",
		},
		[]string{"agent", "status"},
	)

	agentRunSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_run_seconds",
			Help:      "Agent execution latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"agent"},
	)

	budgetRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_remaining_ratio",
			Help:      "Fraction of the error budget left in the current window.",
		},
		[]string{"service"},
	)

	burnRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "burn_rate",
			Help:      "Current error budget burn rate.",
		},
		[]string{"service"},
	)

	gateOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "release_gate_open",
			Help:      "1 when the release gate is open, 0 when locked.",
		},
		[]string{"service"},
	)

	evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_evaluations_total",
			Help:      "Budget evaluations by outcome.",
		},
		[]string{"outcome"},
	)

	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_jobs_total",
			Help:      "Dispatched agent jobs by dispatcher and outcome.",
		},
		[]string{"dispatcher", "outcome"},
	)

	chaosTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chaos_operations_total",
			Help:      "Chaos and heal commands by operation and status.",
		},
		[]string{"operation", "status"},
	)

	reversalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chaos_reversals_total",
			Help:      "Pending chaos reversals processed by outcome.",
		},
		[]string{"outcome"},
	)

	classifierTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_requests_total",
			Help:      "Classifier calls made by the control plane, by outcome.",
		},
		[]string{"outcome"},
	)

	classifierDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_decisions_total",
			Help:      "Decisions returned by the classifier service.",
		},
		[]string{"action"},
	)

	broadcastFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_failures_total",
			Help:      "Activity events that could not be delivered.",
		},
		[]string{"sink"},
	)

	reapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaped_executions_total",
			Help:      "Executions failed by the stale-execution reaper.",
		},
	)
)

// Register attaches cellguard collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		agentRunsTotal,
		agentRunSeconds,
		budgetRemaining,
		burnRate,
		gateOpen,
		evaluationsTotal,
		dispatchTotal,
		chaosTotal,
		reversalsTotal,
		classifierTotal,
		classifierDecisions,
		broadcastFailures,
		reapedTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAgentRun records one finished agent execution.
func ObserveAgentRun(agent, status string, duration time.Duration) {
	agentRunsTotal.WithLabelValues(agent, status).Inc()
	if duration < 0 {
		duration = 0
	}
	agentRunSeconds.WithLabelValues(agent).Observe(duration.Seconds())
}

// SetBudget publishes the latest evaluated budget of a service.
func SetBudget(service string, remaining, burn float64, open bool) {
	budgetRemaining.WithLabelValues(service).Set(remaining)
	burnRate.WithLabelValues(service).Set(burn)
	v := 0.0
	if open {
		v = 1
	}
	gateOpen.WithLabelValues(service).Set(v)
}

// ObserveEvaluation counts a budget evaluation.
func ObserveEvaluation(err error) {
	evaluationsTotal.WithLabelValues(outcome(err)).Inc()
}

// ObserveDispatch counts a dispatched job.
func ObserveDispatch(dispatcher string, err error) {
	dispatchTotal.WithLabelValues(dispatcher, outcome(err)).Inc()
}

// ObserveChaos counts a chaos or heal command.
func ObserveChaos(operation, status string) {
	chaosTotal.WithLabelValues(operation, status).Inc()
}

// ObserveReversal counts a processed reversal; outcome is "reversed", "retry" or "abandoned".
func ObserveReversal(outcome string) {
	reversalsTotal.WithLabelValues(outcome).Inc()
}

// ObserveClassifier counts an outbound classifier call.
func ObserveClassifier(err error) {
	classifierTotal.WithLabelValues(outcome(err)).Inc()
}

// ObserveDecision counts a decision served by the classifier service.
func ObserveDecision(action string) {
	classifierDecisions.WithLabelValues(action).Inc()
}

// BroadcastFailed counts an undeliverable activity event.
func BroadcastFailed(sink string) {
	broadcastFailures.WithLabelValues(sink).Inc()
}

// AddReaped counts executions failed by the reaper.
func AddReaped(n int64) {
	if n > 0 {
		reapedTotal.Add(float64(n))
	}
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}
