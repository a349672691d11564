package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/samijaber1/cellguard/internal/metrics"
)

// DefaultStaleAfter is how long a run may stay running before it is reaped.
const DefaultStaleAfter = 15 * time.Minute

// Reap fails every execution that has been running longer than staleAfter.
// Executions left running by a crashed process would otherwise stay open
// forever.
func (l *Ledger) Reap(ctx context.Context, staleAfter time.Duration) (int64, error) {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	now := l.now().UTC()
	msg := fmt.Sprintf("reaped: execution exceeded %s without completing", staleAfter)

	n, err := l.store.FailStaleExecutions(ctx, now.Add(-staleAfter), msg, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.logger.Warn("reaped stale executions", "count", n, "stale_after", staleAfter)
	}
	metrics.AddReaped(n)
	return n, nil
}
