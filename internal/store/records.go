package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/nikhi3632/Stroomweg/internal/datex"
	logpkg "github.com/nikhi3632/Stroomweg/pkg/log"
)

// WriteStats accounts for one batched insert call.
type WriteStats struct {
	Records       int
	Batches       int
	FailedBatches int
}

// Partial reports whether some batches failed while others landed.
func (w WriteStats) Partial() bool { return w.FailedBatches > 0 }

const insertSpeedSQL = `INSERT INTO speeds_raw (ts, site_id, lane, speed_kmh, flow_veh_hr)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (ts, site_id, lane) DO NOTHING`

const insertJourneyTimeSQL = `INSERT INTO journey_times_raw (ts, site_id, duration_sec, ref_duration_sec, delay_sec, accuracy, quality, input_values)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (ts, site_id) DO NOTHING`

// InsertSpeeds writes speed records in bounded batches. Inserts are
// idempotent on (ts, site_id, lane); replaying a cycle cannot duplicate
// rows. A batch that exhausts its retries is counted and skipped, the
// remaining batches still run.
func (s *Store) InsertSpeeds(ctx context.Context, recs []datex.SpeedRecord) (WriteStats, error) {
	stats := WriteStats{Records: len(recs)}
	var lastErr error
	for _, r := range chunk(len(recs), s.batchSize) {
		batch := &pgx.Batch{}
		for _, rec := range recs[r[0]:r[1]] {
			batch.Queue(insertSpeedSQL, rec.Timestamp, rec.SiteID, rec.Lane, rec.SpeedKMH, rec.FlowVehHr)
		}
		stats.Batches++
		if err := s.sendBatchRetry(ctx, batch); err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.FailedBatches++
			lastErr = err
			s.logger.Warn("speed batch failed after retries",
				logpkg.Int("batch", stats.Batches), logpkg.Err(err))
		}
	}
	if lastErr != nil {
		return stats, fmt.Errorf("insert speeds: %d of %d batches failed: %w",
			stats.FailedBatches, stats.Batches, lastErr)
	}
	return stats, nil
}

// InsertJourneyTimes writes journey-time records in bounded batches,
// idempotent on (ts, site_id).
func (s *Store) InsertJourneyTimes(ctx context.Context, recs []datex.JourneyTimeRecord) (WriteStats, error) {
	stats := WriteStats{Records: len(recs)}
	var lastErr error
	for _, r := range chunk(len(recs), s.batchSize) {
		batch := &pgx.Batch{}
		for _, rec := range recs[r[0]:r[1]] {
			batch.Queue(insertJourneyTimeSQL, rec.Timestamp, rec.SiteID,
				rec.DurationSec, rec.RefDurationSec, rec.DelaySec(),
				rec.Accuracy, rec.Quality, rec.InputValues)
		}
		stats.Batches++
		if err := s.sendBatchRetry(ctx, batch); err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.FailedBatches++
			lastErr = err
			s.logger.Warn("journey time batch failed after retries",
				logpkg.Int("batch", stats.Batches), logpkg.Err(err))
		}
	}
	if lastErr != nil {
		return stats, fmt.Errorf("insert journey times: %d of %d batches failed: %w",
			stats.FailedBatches, stats.Batches, lastErr)
	}
	return stats, nil
}

// sendBatchRetry executes one batch with bounded exponential backoff.
func (s *Store) sendBatchRetry(ctx context.Context, batch *pgx.Batch) error {
	return retry.Call(retry.CallArgs{
		Func: func() error {
			return s.sendBatch(ctx, batch)
		},
		IsFatalError: func(err error) bool {
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		NotifyFunc: func(err error, attempt int) {
			s.logger.Debug("batch attempt failed",
				logpkg.Int("attempt", attempt), logpkg.Err(err))
		},
		Attempts:    s.attempts,
		Delay:       250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		BackoffFunc: retry.DoubleDelay,
		Clock:       clock.WallClock,
		Stop:        ctx.Done(),
	})
}
