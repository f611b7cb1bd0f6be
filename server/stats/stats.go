// Package stats computes simple per-user activity statistics. This is a
// lightweight local summary, not a monitoring system.
package stats

import (
	"context"
	"time"

	"github.com/retracehq/retrace/internal/errors"
	"github.com/retracehq/retrace/store"
)

// Stats is a point-in-time activity summary for one user.
type Stats struct {
	TotalCaptures     int64            `json:"total_captures"`
	CapturesLastDay   int64            `json:"captures_last_day"`
	CapturesLastWeek  int64            `json:"captures_last_week"`
	DigestsByInterval map[string]int64 `json:"digests_by_interval"`
	KnowledgeItems    int64            `json:"knowledge_items"`
	LastCaptureAt     *time.Time       `json:"last_capture_at,omitempty"`
	GeneratedAt       time.Time        `json:"generated_at"`
}

// Collector computes statistics from the store.
type Collector struct {
	store *store.Store
}

// NewCollector creates a statistics collector.
func NewCollector(st *store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers the current statistics for a user.
func (c *Collector) Collect(ctx context.Context, userID int32) (*Stats, error) {
	now := time.Now().UTC()
	stats := &Stats{
		DigestsByInterval: map[string]int64{},
		GeneratedAt:       now,
	}

	leafType := store.LogTypeScreenCapture
	total, err := c.store.CountActivityLogs(ctx, &store.FindActivityLog{
		UserID: &userID,
		Type:   &leafType,
	})
	if err != nil {
		return nil, errors.Storage("failed to count captures", err)
	}
	stats.TotalCaptures = total

	dayAgo := now.Add(-24 * time.Hour)
	weekAgo := now.Add(-7 * 24 * time.Hour)
	if stats.CapturesLastDay, err = c.store.CountActivityLogs(ctx, &store.FindActivityLog{
		UserID:       &userID,
		Type:         &leafType,
		StartedAfter: &dayAgo,
	}); err != nil {
		return nil, errors.Storage("failed to count captures", err)
	}
	if stats.CapturesLastWeek, err = c.store.CountActivityLogs(ctx, &store.FindActivityLog{
		UserID:       &userID,
		Type:         &leafType,
		StartedAfter: &weekAgo,
	}); err != nil {
		return nil, errors.Storage("failed to count captures", err)
	}

	one := 1
	latest, err := c.store.GetActivityLog(ctx, &store.FindActivityLog{
		UserID:               &userID,
		Type:                 &leafType,
		Limit:                &one,
		OrderByStartedAtDesc: true,
	})
	if err != nil {
		return nil, errors.Storage("failed to find latest capture", err)
	}
	if latest != nil {
		at := latest.StartedAt
		stats.LastCaptureAt = &at
	}

	for _, digestType := range []store.LogType{
		store.LogTypeSummary10Min,
		store.LogTypeSummary1Hour,
		store.LogTypeSummary24Hour,
	} {
		digestType := digestType
		count, err := c.store.CountActivityLogs(ctx, &store.FindActivityLog{
			UserID: &userID,
			Type:   &digestType,
		})
		if err != nil {
			return nil, errors.Storage("failed to count digests", err)
		}
		stats.DigestsByInterval[string(digestType)] = count
	}

	if stats.KnowledgeItems, err = c.store.CountKnowledgeItems(ctx, &store.FindKnowledgeItem{UserID: &userID}); err != nil {
		return nil, errors.Storage("failed to count knowledge items", err)
	}

	return stats, nil
}
