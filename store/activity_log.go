package store

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// LogType discriminates leaf capture logs from consolidated summaries.
// Leaves and aggregates share one table, distinguished by type and by
// whether SourceLogIDs is populated.
type LogType string

const (
	// LogTypeScreenCapture is a leaf log produced by the interpreter.
	LogTypeScreenCapture LogType = "screen_capture_analyze"
	// LogTypeSummary10Min is a 10-minute consolidation window.
	LogTypeSummary10Min LogType = "summary_10min"
	// LogTypeSummary1Hour is a 1-hour consolidation window.
	LogTypeSummary1Hour LogType = "summary_1hour"
	// LogTypeSummary24Hour is a daily consolidation window.
	LogTypeSummary24Hour LogType = "summary_24hour"
)

// ActivityLog is a leaf capture record or a consolidated summary.
type ActivityLog struct {
	ID string

	// Standard fields
	UserID    int32
	CreatedTs int64

	// Domain specific fields
	Type      LogType
	Summary   *string
	Details   map[string]any
	Tags      []string
	Embedding []float32
	StartedAt time.Time
	EndedAt   time.Time

	// SourceLogIDs back-references the leaves an aggregate consolidated.
	// Nil for leaf logs.
	SourceLogIDs []string
	// ParentID is reserved for deeper nesting. Unused by the aggregator.
	ParentID *string
}

// IsAggregate reports whether the log consolidates other logs.
func (l *ActivityLog) IsAggregate() bool {
	return len(l.SourceLogIDs) > 0
}

// FindActivityLog is the find condition for activity logs.
type FindActivityLog struct {
	ID            *string
	UserID        *int32
	Type          *LogType
	HasSummary    bool
	StartedAfter  *time.Time
	StartedBefore *time.Time
	Tags          []string // match logs whose tags overlap any of these
	Limit         *int
	Offset        *int

	// OrderByStartedAtAsc orders by started_at ascending instead of the
	// default created_ts descending.
	OrderByStartedAtAsc bool
	// OrderByStartedAtDesc orders by started_at descending.
	OrderByStartedAtDesc bool
}

// UpdateActivityLog carries the only mutations the lifecycle allows:
// the one-time embedding backfill and the lossy summary compaction.
type UpdateActivityLog struct {
	ID        string
	Summary   *string
	Details   map[string]any
	Tags      []string
	Embedding []float32
}

// LogWithScore is a vector search result with its similarity score.
type LogWithScore struct {
	Log   *ActivityLog
	Score float32 // cosine similarity, 0-1, higher is more similar
}

// VectorSearchLogsOptions are the options for log vector search.
type VectorSearchLogsOptions struct {
	UserID    int32
	Vector    []float32
	Threshold float32 // minimum cosine similarity
	Limit     int
}

// TextSearchLogsOptions are the options for the fallback text search.
type TextSearchLogsOptions struct {
	UserID int32
	Query  string   // case-insensitive substring match on summary
	Tags   []string // OR: array containment match on tags
	Limit  int
}

const maxTagLength = 64

// normalizeTags lower-cases and trims tags on every write path so that
// tag filters and the text-fallback containment match never miss on case.
// Blank tags are dropped; an empty set normalizes to nil.
func normalizeTags(tags []string) ([]string, error) {
	normalized := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if len(tag) > maxTagLength {
			return nil, errors.Errorf("tag too long: %q", tag)
		}
		normalized = append(normalized, tag)
	}
	if len(normalized) == 0 {
		return nil, nil
	}
	return normalized, nil
}

// CreateActivityLog inserts a log. Aggregates with the same
// (user, type, window) replace the previous run.
func (s *Store) CreateActivityLog(ctx context.Context, create *ActivityLog) (*ActivityLog, error) {
	if create.ID == "" {
		return nil, errors.New("log id is required")
	}
	tags, err := normalizeTags(create.Tags)
	if err != nil {
		return nil, err
	}
	create.Tags = tags
	return s.driver.CreateActivityLog(ctx, create)
}

// GetActivityLog finds a single log, nil when absent.
func (s *Store) GetActivityLog(ctx context.Context, find *FindActivityLog) (*ActivityLog, error) {
	logs, err := s.ListActivityLogs(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, nil
	}
	return logs[0], nil
}

// ListActivityLogs lists logs matching the find condition.
func (s *Store) ListActivityLogs(ctx context.Context, find *FindActivityLog) ([]*ActivityLog, error) {
	if find.Limit == nil {
		defaultLimit := 100
		find.Limit = &defaultLimit
	}
	return s.driver.ListActivityLogs(ctx, find)
}

// CountActivityLogs counts logs matching the find condition. Unlike the
// listing it is never capped, so totals stay exact.
func (s *Store) CountActivityLogs(ctx context.Context, find *FindActivityLog) (int64, error) {
	return s.driver.CountActivityLogs(ctx, find)
}

// UpdateActivityLog applies an embedding backfill or compaction update.
func (s *Store) UpdateActivityLog(ctx context.Context, update *UpdateActivityLog) error {
	if update.ID == "" {
		return errors.New("log id is required")
	}
	if update.Tags != nil {
		tags, err := normalizeTags(update.Tags)
		if err != nil {
			return err
		}
		update.Tags = tags
	}
	return s.driver.UpdateActivityLog(ctx, update)
}

// VectorSearchLogs performs vector similarity search over logs.
func (s *Store) VectorSearchLogs(ctx context.Context, opts *VectorSearchLogsOptions) ([]*LogWithScore, error) {
	return s.driver.VectorSearchLogs(ctx, opts)
}

// TextSearchLogs performs the fallback substring/tag-containment search.
func (s *Store) TextSearchLogs(ctx context.Context, opts *TextSearchLogsOptions) ([]*ActivityLog, error) {
	return s.driver.TextSearchLogs(ctx, opts)
}

// FindLogsWithoutEmbedding finds logs whose embedding is still missing.
func (s *Store) FindLogsWithoutEmbedding(ctx context.Context, limit int) ([]*ActivityLog, error) {
	return s.driver.FindLogsWithoutEmbedding(ctx, limit)
}

// ListActiveUserIDs returns the ids of users that have leaf activity in
// [start, end]. Used by the aggregation scheduler to scope its runs.
func (s *Store) ListActiveUserIDs(ctx context.Context, start, end time.Time) ([]int32, error) {
	return s.driver.ListActiveUserIDs(ctx, start, end)
}
