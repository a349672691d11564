package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/samijaber1/cellguard/internal/storage"
)

// UpsertJobStat inserts or replaces the stat keyed by
// (service, queue, period_start, period_end). Existing meta keys survive
// unless the new stat overrides them.
func (s *Store) UpsertJobStat(ctx context.Context, stat *storage.JobStat) error {
	var existing string
	err := s.queryRow(ctx, `
		SELECT meta_json FROM job_stats
		WHERE service_id = ? AND queue_namespace = ? AND period_start = ? AND period_end = ?
	`, stat.ServiceID, stat.QueueNamespace, utc(stat.PeriodStart), utc(stat.PeriodEnd)).Scan(&existing)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read job stat: %w", err)
	}

	meta, err := decodeMap(existing)
	if err != nil {
		return fmt.Errorf("failed to unmarshal meta: %w", err)
	}
	for k, v := range stat.Meta {
		meta[k] = v
	}
	stat.Meta = meta

	metaJSON, err := encodeJSON(meta, "{}")
	if err != nil {
		return fmt.Errorf("failed to marshal meta: %w", err)
	}

	now := utc(time.Now())
	id, err := s.insertID(ctx, `
		INSERT INTO job_stats (
			service_id, queue_namespace, period_start, period_end,
			job_count, error_count, latency_p95_ms, meta_json, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(service_id, queue_namespace, period_start, period_end) DO UPDATE SET
			job_count = excluded.job_count,
			error_count = excluded.error_count,
			latency_p95_ms = excluded.latency_p95_ms,
			meta_json = excluded.meta_json,
			updated_at = excluded.updated_at
		RETURNING id
	`,
		stat.ServiceID,
		stat.QueueNamespace,
		utc(stat.PeriodStart),
		utc(stat.PeriodEnd),
		stat.JobCount,
		stat.ErrorCount,
		stat.LatencyP95Ms,
		metaJSON,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert job stat: %w", err)
	}
	stat.ID = id
	return nil
}

// SumJobStats totals stats with period_end >= from and period_start <= to.
func (s *Store) SumJobStats(ctx context.Context, serviceID int64, from, to time.Time) (storage.WindowTotals, error) {
	var totals storage.WindowTotals
	err := s.queryRow(ctx, `
		SELECT
			CAST(COALESCE(SUM(job_count), 0) AS BIGINT),
			CAST(COALESCE(SUM(error_count), 0) AS BIGINT),
			CAST(COALESCE(MAX(latency_p95_ms), 0) AS BIGINT)
		FROM job_stats
		WHERE service_id = ? AND period_end >= ? AND period_start <= ?
	`, serviceID, utc(from), utc(to)).Scan(&totals.Jobs, &totals.Errors, &totals.MaxLatencyMs)
	if err != nil {
		return storage.WindowTotals{}, fmt.Errorf("failed to sum job stats: %w", err)
	}
	return totals, nil
}
