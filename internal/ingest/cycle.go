package ingest

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nikhi3632/Stroomweg/internal/datex"
	"github.com/nikhi3632/Stroomweg/internal/store"
	logpkg "github.com/nikhi3632/Stroomweg/pkg/log"
)

// persistBatches streams decoded records into bounded persistence
// batches. At most inFlight batches await the writer at any moment, so
// a slow database applies back-pressure to the decoder instead of
// growing a queue. The full record list is returned for the cycle
// snapshot.
func persistBatches[T any](
	ctx context.Context,
	batchSize, inFlight int,
	decode func(emit func(T) error) (datex.DecodeStats, error),
	write func(ctx context.Context, batch []T) (store.WriteStats, error),
) ([]T, datex.DecodeStats, store.WriteStats, error) {
	var (
		records []T
		total   store.WriteStats
	)
	batches := make(chan []T, inFlight)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for batch := range batches {
			stats, err := write(gctx, batch)
			total.Records += stats.Records
			total.Batches += stats.Batches
			total.FailedBatches += stats.FailedBatches
			// Partial batch failures degrade the cycle but do not stop
			// the remaining batches. Only cancellation aborts.
			if err != nil && gctx.Err() != nil {
				return err
			}
		}
		return nil
	})

	var cur []T
	dstats, decodeErr := decode(func(rec T) error {
		records = append(records, rec)
		cur = append(cur, rec)
		if len(cur) >= batchSize {
			select {
			case batches <- cur:
				cur = nil
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	if decodeErr == nil && len(cur) > 0 {
		select {
		case batches <- cur:
		case <-gctx.Done():
			decodeErr = gctx.Err()
		}
	}
	close(batches)

	if err := g.Wait(); err != nil {
		return records, dstats, total, err
	}
	return records, dstats, total, decodeErr
}

// RunSpeedsCycle executes one speeds ingestion cycle end to end.
func (s *Service) RunSpeedsCycle(ctx context.Context) error {
	cycle := s.speedCycle.Add(1)
	started := time.Now()

	rc, err := s.fetch.Fetch(ctx, s.urls.Speeds)
	if err != nil {
		s.finishCycle(ctx, FeedSpeeds, cycle, started, StatusFailed, datex.DecodeStats{}, store.WriteStats{}, err)
		return err
	}
	defer rc.Close()

	mappings := s.sites.Mappings()
	records, dstats, wstats, err := persistBatches(ctx, s.batchSize, s.inFlight,
		func(emit func(datex.SpeedRecord) error) (datex.DecodeStats, error) {
			return datex.DecodeSpeeds(rc, mappings, emit)
		},
		s.store.InsertSpeeds,
	)
	if err != nil {
		// A broken stream leaves persisted batches behind; inserts are
		// idempotent so the next cycle covers the gap.
		s.finishCycle(ctx, FeedSpeeds, cycle, started, StatusFailed, dstats, wstats, err)
		return err
	}

	s.publishSpeeds(ctx, cycle, records)

	status := StatusOK
	if wstats.Partial() {
		status = StatusPartial
	}
	s.finishCycle(ctx, FeedSpeeds, cycle, started, status, dstats, wstats, nil)
	return nil
}

// RunJourneyTimesCycle executes one journey-times ingestion cycle.
func (s *Service) RunJourneyTimesCycle(ctx context.Context) error {
	cycle := s.jtCycle.Add(1)
	started := time.Now()

	rc, err := s.fetch.Fetch(ctx, s.urls.JourneyTimes)
	if err != nil {
		s.finishCycle(ctx, FeedJourneyTimes, cycle, started, StatusFailed, datex.DecodeStats{}, store.WriteStats{}, err)
		return err
	}
	defer rc.Close()

	records, dstats, wstats, err := persistBatches(ctx, s.batchSize, s.inFlight,
		func(emit func(datex.JourneyTimeRecord) error) (datex.DecodeStats, error) {
			return datex.DecodeJourneyTimes(rc, emit)
		},
		s.store.InsertJourneyTimes,
	)
	if err != nil {
		s.finishCycle(ctx, FeedJourneyTimes, cycle, started, StatusFailed, dstats, wstats, err)
		return err
	}

	s.publishJourneyTimes(ctx, cycle, records)

	status := StatusOK
	if wstats.Partial() {
		status = StatusPartial
	}
	s.finishCycle(ctx, FeedJourneyTimes, cycle, started, status, dstats, wstats, nil)
	return nil
}

// RunReferenceCycle refreshes site reference data: fetch, decode,
// upsert, then swap the in-memory index.
func (s *Service) RunReferenceCycle(ctx context.Context) error {
	cycle := s.refCycle.Add(1)
	started := time.Now()

	rc, err := s.fetch.Fetch(ctx, s.urls.Reference)
	if err != nil {
		s.finishCycle(ctx, FeedReference, cycle, started, StatusFailed, datex.DecodeStats{}, store.WriteStats{}, err)
		return err
	}
	defer rc.Close()

	var sites []datex.Site
	dstats, err := datex.DecodeSites(rc, func(site datex.Site) error {
		sites = append(sites, site)
		return nil
	})
	if err != nil {
		s.finishCycle(ctx, FeedReference, cycle, started, StatusFailed, dstats, store.WriteStats{}, err)
		return err
	}

	if err := s.store.UpsertSites(ctx, sites); err != nil {
		s.finishCycle(ctx, FeedReference, cycle, started, StatusFailed, dstats, store.WriteStats{}, err)
		return err
	}
	s.sites.ReplaceAll(sites)

	s.finishCycle(ctx, FeedReference, cycle, started, StatusOK,
		dstats, store.WriteStats{Records: len(sites)}, nil)
	return nil
}

func (s *Service) finishCycle(ctx context.Context, feed string, cycle uint64, started time.Time, status string, dstats datex.DecodeStats, wstats store.WriteStats, cause error) {
	finished := time.Now()
	errText := ""
	if cause != nil {
		errText = cause.Error()
	}

	s.setStatus(FeedStatus{
		Feed:          feed,
		Cycle:         cycle,
		Status:        status,
		Records:       dstats.Records,
		Skipped:       dstats.Skipped,
		FailedBatches: wstats.FailedBatches,
		FinishedAt:    finished,
		Error:         errText,
	})

	rec := store.CycleRecord{
		Feed:          feed,
		Cycle:         cycle,
		StartedAt:     started,
		FinishedAt:    finished,
		Status:        status,
		Records:       dstats.Records,
		Skipped:       dstats.Skipped,
		FailedBatches: wstats.FailedBatches,
		Error:         errText,
	}
	if err := s.store.RecordCycle(ctx, rec); err != nil {
		s.logger.Warn("failed to record cycle",
			logpkg.Str("feed", feed), logpkg.Uint64("cycle", cycle), logpkg.Err(err))
	}

	fields := []logpkg.Field{
		logpkg.Str("feed", feed),
		logpkg.Uint64("cycle", cycle),
		logpkg.Str("status", status),
		logpkg.Int("records", dstats.Records),
		logpkg.Int("skipped", dstats.Skipped),
		logpkg.Dur("elapsed", finished.Sub(started)),
	}
	switch {
	case status == StatusFailed:
		s.logger.Error("cycle failed", append(fields, logpkg.Err(cause))...)
	case status == StatusPartial:
		s.logger.Warn("cycle partially failed",
			append(fields, logpkg.Int("failed_batches", wstats.FailedBatches))...)
	default:
		s.logger.Info("cycle complete", fields...)
	}
}
