package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/samijaber1/cellguard/internal/metrics"
)

// DefaultRetries is how many times a failed job is retried.
const DefaultRetries = 1

// Job is one agent run on one service.
type Job struct {
	ID      string `json:"jid"`
	Agent   string `json:"agent"`
	Service string `json:"service"`
}

// Handler executes a job.
type Handler func(ctx context.Context, job Job) error

// Dispatcher hands jobs off without waiting for them to finish.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) (string, error)
}

// NewJobID returns a fresh job id.
func NewJobID() string {
	return uuid.NewString()
}

// runWithRetry runs h, retrying up to retries times on error.
func runWithRetry(ctx context.Context, h Handler, job Job, retries int, logger *slog.Logger) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if err = h(ctx, job); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		logger.Warn("job failed",
			"jid", job.ID,
			"agent", job.Agent,
			"service", job.Service,
			"attempt", attempt+1,
			"error", err)
	}
	return err
}

// Local runs jobs on goroutines, at most concurrency at a time.
type Local struct {
	handler Handler
	sem     *semaphore.Weighted
	retries int
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewLocal creates an in-process dispatcher.
func NewLocal(handler Handler, concurrency int64, logger *slog.Logger) *Local {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		handler: handler,
		sem:     semaphore.NewWeighted(concurrency),
		retries: DefaultRetries,
		logger:  logger.With("component", "dispatch", "dispatcher", "local"),
	}
}

// Dispatch queues job and returns its id. The job outlives ctx's
// cancellation but keeps its values.
func (l *Local) Dispatch(ctx context.Context, job Job) (string, error) {
	if job.Agent == "" {
		return "", fmt.Errorf("job has no agent")
	}
	if job.ID == "" {
		job.ID = NewJobID()
	}

	detached := context.WithoutCancel(ctx)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := l.sem.Acquire(detached, 1); err != nil {
			metrics.ObserveDispatch("local", err)
			return
		}
		defer l.sem.Release(1)

		err := runWithRetry(detached, l.handler, job, l.retries, l.logger)
		metrics.ObserveDispatch("local", err)
		if err != nil {
			l.logger.Error("job gave up", "jid", job.ID, "agent", job.Agent, "service", job.Service, "error", err)
		}
	}()
	return job.ID, nil
}

// Wait blocks until every dispatched job has finished.
func (l *Local) Wait() {
	l.wg.Wait()
}
