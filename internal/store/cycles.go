package store

import (
	"context"
	"fmt"
	"time"
)

// CycleRecord is one ingestion cycle's persisted outcome.
type CycleRecord struct {
	Feed          string    `json:"feed"`
	Cycle         uint64    `json:"cycle"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Status        string    `json:"status"`
	Records       int       `json:"records"`
	Skipped       int       `json:"skipped"`
	FailedBatches int       `json:"failed_batches"`
	Error         string    `json:"error,omitempty"`
}

// RecordCycle appends a cycle outcome. Keyed (feed, cycle); a replay
// overwrites rather than duplicating.
func (s *Store) RecordCycle(ctx context.Context, rec CycleRecord) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO ingest_cycles (feed, cycle, started_at, finished_at, status, records, skipped, failed_batches, error)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (feed, cycle) DO UPDATE
SET started_at = EXCLUDED.started_at,
    finished_at = EXCLUDED.finished_at,
    status = EXCLUDED.status,
    records = EXCLUDED.records,
    skipped = EXCLUDED.skipped,
    failed_batches = EXCLUDED.failed_batches,
    error = EXCLUDED.error`,
		rec.Feed, rec.Cycle, rec.StartedAt, rec.FinishedAt, rec.Status,
		rec.Records, rec.Skipped, rec.FailedBatches, rec.Error)
	if err != nil {
		return fmt.Errorf("record cycle: %w", err)
	}
	return nil
}

// RecentCycles returns the newest cycle outcomes per feed, newest first.
func (s *Store) RecentCycles(ctx context.Context, limit int) ([]CycleRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
SELECT feed, cycle, started_at, finished_at, status, records, skipped, failed_batches, error
FROM ingest_cycles
ORDER BY finished_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent cycles: %w", err)
	}
	defer rows.Close()

	var out []CycleRecord
	for rows.Next() {
		var rec CycleRecord
		if err := rows.Scan(&rec.Feed, &rec.Cycle, &rec.StartedAt, &rec.FinishedAt,
			&rec.Status, &rec.Records, &rec.Skipped, &rec.FailedBatches, &rec.Error); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
