package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/samijaber1/cellguard/internal/metrics"
)

const (
	// DefaultSubject carries agent jobs.
	DefaultSubject = "cellguard.agents.run"
	// QueueGroup load-balances jobs across workers.
	QueueGroup = "cellguard-agents"
)

// NATS publishes jobs for a Worker to pick up.
type NATS struct {
	conn    *nats.Conn
	subject string
}

// NewNATS creates a publisher on conn.
func NewNATS(conn *nats.Conn, subject string) *NATS {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATS{conn: conn, subject: subject}
}

// Dispatch publishes job and returns its id.
func (n *NATS) Dispatch(_ context.Context, job Job) (string, error) {
	if job.Agent == "" {
		return "", fmt.Errorf("job has no agent")
	}
	if job.ID == "" {
		job.ID = NewJobID()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to encode job: %w", err)
	}
	err = n.conn.Publish(n.subject, data)
	metrics.ObserveDispatch("nats", err)
	if err != nil {
		return "", fmt.Errorf("failed to publish job: %w", err)
	}
	return job.ID, nil
}

// Worker consumes jobs from the queue group.
type Worker struct {
	conn    *nats.Conn
	subject string
	handler Handler
	retries int
	logger  *slog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewWorker creates a worker that runs handler for each job.
func NewWorker(conn *nats.Conn, subject string, handler Handler, logger *slog.Logger) *Worker {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		conn:    conn,
		subject: subject,
		handler: handler,
		retries: DefaultRetries,
		logger:  logger.With("component", "dispatch", "dispatcher", "nats"),
	}
}

// Start subscribes; handlers run with ctx until Stop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sub != nil {
		return fmt.Errorf("worker already started")
	}
	sub, err := w.conn.QueueSubscribe(w.subject, QueueGroup, func(msg *nats.Msg) {
		w.handle(ctx, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", w.subject, err)
	}
	w.sub = sub
	w.logger.Info("worker subscribed", "subject", w.subject, "queue", QueueGroup)
	return nil
}

// Stop drains the subscription, letting in-flight jobs finish.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sub == nil {
		return nil
	}
	err := w.sub.Drain()
	w.sub = nil
	return err
}

func (w *Worker) handle(ctx context.Context, data []byte) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		w.logger.Error("dropping malformed job", "error", err)
		metrics.ObserveDispatch("nats", err)
		return
	}
	if err := runWithRetry(ctx, w.handler, job, w.retries, w.logger); err != nil {
		w.logger.Error("job gave up", "jid", job.ID, "agent", job.Agent, "service", job.Service, "error", err)
	}
}
