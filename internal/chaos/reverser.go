package chaos

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samijaber1/cellguard/internal/metrics"
	"github.com/samijaber1/cellguard/internal/storage"
)

// Reverser completes pending reversals. Each disruption is persisted before
// its command runs, so a restart still undoes it once due.
type Reverser struct {
	store  storage.ReversalStore
	runner CommandRunner
	config Config
	logger *slog.Logger
	now    func() time.Time

	wake   chan struct{}
	mu     sync.Mutex
	timers map[int64]*time.Timer
}

// NewReverser creates a reverser.
func NewReverser(store storage.ReversalStore, runner CommandRunner, config Config, logger *slog.Logger) *Reverser {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.ReversalInterval <= 0 {
		config.ReversalInterval = 5 * time.Second
	}
	return &Reverser{
		store:  store,
		runner: runner,
		config: config,
		logger: logger.With("component", "reverser"),
		now:    time.Now,
		wake:   make(chan struct{}, 1),
		timers: make(map[int64]*time.Timer),
	}
}

// Schedule persists a reversal due at dueAt and arms a timer for it. It
// returns the reversal id so a disruption that never started can be cancelled.
func (r *Reverser) Schedule(ctx context.Context, operation string, params map[string]any, dueAt time.Time) (int64, error) {
	rev := &storage.PendingReversal{
		Operation: operation,
		Params:    params,
		DueAt:     dueAt,
		CreatedAt: r.now(),
	}
	if err := r.store.CreateReversal(ctx, rev); err != nil {
		return 0, err
	}

	delay := dueAt.Sub(r.now())
	if delay < 0 {
		delay = 0
	}
	id := rev.ID
	r.mu.Lock()
	r.timers[id] = time.AfterFunc(delay, func() {
		r.forget(id)
		r.poke()
	})
	r.mu.Unlock()
	return id, nil
}

// Cancel closes a reversal whose disruption failed to start, recording why.
func (r *Reverser) Cancel(ctx context.Context, id int64, reason string) error {
	r.mu.Lock()
	if t, ok := r.timers[id]; ok {
		t.Stop()
		delete(r.timers, id)
	}
	r.mu.Unlock()

	won, err := r.store.ClaimReversal(ctx, id, r.now())
	if err != nil || !won {
		return err
	}
	return r.store.AbandonReversal(ctx, id, "cancelled: "+reason)
}

// Pending returns how many reversal timers are armed.
func (r *Reverser) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

func (r *Reverser) forget(id int64) {
	r.mu.Lock()
	delete(r.timers, id)
	r.mu.Unlock()
}

func (r *Reverser) poke() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// RunOnce processes every due reversal and returns how many were undone.
func (r *Reverser) RunOnce(ctx context.Context) (int, error) {
	due, err := r.store.DueReversals(ctx, r.now(), 50)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, rev := range due {
		won, err := r.store.ClaimReversal(ctx, rev.ID, r.now())
		if err != nil {
			return done, err
		}
		if !won {
			continue
		}

		if err := r.config.reverse(ctx, r.runner, rev.Operation, rev.Params); err != nil {
			r.failed(ctx, rev, err)
			continue
		}
		metrics.ObserveReversal("reversed")
		r.logger.Info("reversed chaos disruption", "operation", rev.Operation, "reversal_id", rev.ID)
		done++
	}
	return done, nil
}

func (r *Reverser) failed(ctx context.Context, rev storage.PendingReversal, cause error) {
	if rev.Attempts+1 >= r.config.MaxAttempts {
		metrics.ObserveReversal("abandoned")
		r.logger.Error("giving up on chaos reversal",
			"operation", rev.Operation, "reversal_id", rev.ID, "attempts", rev.Attempts+1, "error", cause)
		if err := r.store.AbandonReversal(ctx, rev.ID, cause.Error()); err != nil {
			r.logger.Error("failed to record abandoned reversal", "reversal_id", rev.ID, "error", err)
		}
		return
	}

	metrics.ObserveReversal("retry")
	r.logger.Warn("chaos reversal failed, will retry",
		"operation", rev.Operation, "reversal_id", rev.ID, "error", cause)
	if err := r.store.ReleaseReversal(ctx, rev.ID, cause.Error()); err != nil {
		r.logger.Error("failed to release reversal", "reversal_id", rev.ID, "error", err)
	}
}

// Start processes overdue reversals immediately, then on every interval tick
// or timer wake-up until ctx is cancelled.
func (r *Reverser) Start(ctx context.Context) {
	ticker := time.NewTicker(r.config.ReversalInterval)
	defer ticker.Stop()
	defer r.stopTimers()

	r.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runLogged(ctx)
		case <-r.wake:
			r.runLogged(ctx)
		}
	}
}

func (r *Reverser) runLogged(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("reversal sweep failed", "error", err)
	}
}

func (r *Reverser) stopTimers() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}
