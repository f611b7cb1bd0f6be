package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/retracehq/retrace/internal/errors"
	"github.com/retracehq/retrace/server/internal/observability"
	"github.com/retracehq/retrace/server/notifier"
	"github.com/retracehq/retrace/store"
)

// Scheduler runs one consolidation pass per interval on its own ticker.
// Every tick it enumerates users with recent leaf activity and aggregates
// the just-closed window for each of them.
type Scheduler struct {
	aggregator *Aggregator
	dispatcher *notifier.Dispatcher
	store      *store.Store
	intervals  []Interval
}

// NewScheduler creates a scheduler for the given intervals. An empty list
// enables all of them.
func NewScheduler(a *Aggregator, d *notifier.Dispatcher, st *store.Store, intervals []Interval) *Scheduler {
	if len(intervals) == 0 {
		intervals = Intervals()
	}
	return &Scheduler{
		aggregator: a,
		dispatcher: d,
		store:      st,
		intervals:  intervals,
	}
}

// Run blocks until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, interval := range s.intervals {
		wg.Add(1)
		go func(interval Interval) {
			defer wg.Done()
			s.runInterval(ctx, interval)
		}(interval)
	}
	wg.Wait()
}

func (s *Scheduler) runInterval(ctx context.Context, interval Interval) {
	ticker := time.NewTicker(interval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, interval, now)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, interval Interval, endTime time.Time) {
	startTime := endTime.Add(-interval.Duration())
	userIDs, err := s.store.ListActiveUserIDs(ctx, startTime, endTime)
	if err != nil {
		slog.Error("failed to enumerate active users", "interval", interval, "error", err)
		return
	}

	for _, userID := range userIDs {
		rc := observability.NewRequestContext(slog.Default(), "aggregate."+string(interval), userID)
		digest, err := s.aggregator.Aggregate(observability.WithRequestContext(ctx, rc), userID, interval, endTime)
		if err != nil {
			if errors.IsCode(err, errors.ErrCodeNoData) {
				continue
			}
			rc.Error("aggregation failed", err)
			continue
		}

		rc.Info("aggregated window",
			slog.String("log", digest.ID),
			slog.Int64(observability.LogFieldDuration, rc.DurationMs()))
		if s.dispatcher != nil {
			title := fmt.Sprintf("Activity digest (%s)", interval)
			s.dispatcher.Dispatch(ctx, userID, title, *digest.Summary)
		}
	}
}
