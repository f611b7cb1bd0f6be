// Package test provides an in-memory store driver for unit tests. It
// mirrors the Postgres driver's observable behavior: filtering, ordering,
// window-replacing aggregate upserts, cosine-similarity vector search and
// the substring/tag text fallback.
package test

import (
	"context"
	"database/sql"
	"math"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/retracehq/retrace/internal/profile"
	"github.com/retracehq/retrace/store"
)

// Driver is an in-memory store.Driver. Error fields inject failures for a
// single following call, then reset.
type Driver struct {
	mu sync.Mutex

	logs          map[string]*store.ActivityLog
	items         map[string]*store.KnowledgeItem
	subscriptions map[string]*store.PushSubscription

	// Failure injection. Consumed by the next matching call.
	CreateLogErr    error
	UpdateLogErr    error
	VectorSearchErr error
	TextSearchErr   error
}

// NewDriver creates an empty in-memory driver.
func NewDriver() *Driver {
	return &Driver{
		logs:          make(map[string]*store.ActivityLog),
		items:         make(map[string]*store.KnowledgeItem),
		subscriptions: make(map[string]*store.PushSubscription),
	}
}

// NewTestingStore creates a store backed by an in-memory driver.
func NewTestingStore(t *testing.T) (*store.Store, *Driver) {
	t.Helper()
	driver := NewDriver()
	st := store.New(driver, &profile.Profile{Mode: "dev"})
	t.Cleanup(func() { _ = st.Close() })
	return st, driver
}

func (d *Driver) GetDB() *sql.DB { return nil }

func (d *Driver) Close() error { return nil }

func (d *Driver) Migrate(ctx context.Context) error { return nil }

// LogCount returns the number of stored logs.
func (d *Driver) LogCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.logs)
}

func (d *Driver) CreateActivityLog(ctx context.Context, create *store.ActivityLog) (*store.ActivityLog, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.CreateLogErr; err != nil {
		d.CreateLogErr = nil
		return nil, err
	}

	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}

	// Window-replacing upsert for aggregates, like the unique partial
	// index in the Postgres schema.
	if len(create.SourceLogIDs) > 0 {
		for id, existing := range d.logs {
			if len(existing.SourceLogIDs) > 0 &&
				existing.UserID == create.UserID &&
				existing.Type == create.Type &&
				existing.StartedAt.Equal(create.StartedAt) &&
				existing.EndedAt.Equal(create.EndedAt) {
				delete(d.logs, id)
			}
		}
	}

	clone := cloneLog(create)
	d.logs[clone.ID] = clone
	return cloneLog(clone), nil
}

func matchActivityLog(log *store.ActivityLog, find *store.FindActivityLog) bool {
	if find.ID != nil && log.ID != *find.ID {
		return false
	}
	if find.UserID != nil && log.UserID != *find.UserID {
		return false
	}
	if find.Type != nil && log.Type != *find.Type {
		return false
	}
	if find.HasSummary && log.Summary == nil {
		return false
	}
	if find.StartedAfter != nil && log.StartedAt.Before(*find.StartedAfter) {
		return false
	}
	if find.StartedBefore != nil && log.StartedAt.After(*find.StartedBefore) {
		return false
	}
	if len(find.Tags) > 0 && !overlaps(log.Tags, find.Tags) {
		return false
	}
	return true
}

func (d *Driver) ListActivityLogs(ctx context.Context, find *store.FindActivityLog) ([]*store.ActivityLog, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	matched := []*store.ActivityLog{}
	for _, log := range d.logs {
		if matchActivityLog(log, find) {
			matched = append(matched, cloneLog(log))
		}
	}

	switch {
	case find.OrderByStartedAtAsc:
		sort.Slice(matched, func(i, j int) bool {
			return matched[i].StartedAt.Before(matched[j].StartedAt)
		})
	case find.OrderByStartedAtDesc:
		sort.Slice(matched, func(i, j int) bool {
			return matched[i].StartedAt.After(matched[j].StartedAt)
		})
	default:
		sort.Slice(matched, func(i, j int) bool {
			return matched[i].CreatedTs > matched[j].CreatedTs
		})
	}

	return paginateLogs(matched, find.Limit, find.Offset), nil
}

func (d *Driver) CountActivityLogs(ctx context.Context, find *store.FindActivityLog) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var count int64
	for _, log := range d.logs {
		if matchActivityLog(log, find) {
			count++
		}
	}
	return count, nil
}

func (d *Driver) UpdateActivityLog(ctx context.Context, update *store.UpdateActivityLog) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.UpdateLogErr; err != nil {
		d.UpdateLogErr = nil
		return err
	}

	log, ok := d.logs[update.ID]
	if !ok {
		return errors.Errorf("activity log %s not found", update.ID)
	}
	if update.Summary != nil {
		log.Summary = update.Summary
	}
	if update.Details != nil {
		log.Details = update.Details
	}
	if update.Tags != nil {
		log.Tags = update.Tags
	}
	if update.Embedding != nil {
		log.Embedding = update.Embedding
	}
	return nil
}

func (d *Driver) VectorSearchLogs(ctx context.Context, opts *store.VectorSearchLogsOptions) ([]*store.LogWithScore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.VectorSearchErr; err != nil {
		d.VectorSearchErr = nil
		return nil, err
	}

	results := []*store.LogWithScore{}
	for _, log := range d.logs {
		if log.UserID != opts.UserID || len(log.Embedding) == 0 {
			continue
		}
		score := cosineSimilarity(opts.Vector, log.Embedding)
		if score < opts.Threshold {
			continue
		}
		results = append(results, &store.LogWithScore{Log: cloneLog(log), Score: score})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (d *Driver) TextSearchLogs(ctx context.Context, opts *store.TextSearchLogsOptions) ([]*store.ActivityLog, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.TextSearchErr; err != nil {
		d.TextSearchErr = nil
		return nil, err
	}

	matched := []*store.ActivityLog{}
	for _, log := range d.logs {
		if log.UserID != opts.UserID {
			continue
		}
		if opts.Query != "" {
			summary := ""
			if log.Summary != nil {
				summary = *log.Summary
			}
			if !containsFold(summary, opts.Query) && !contains(log.Tags, strings.ToLower(opts.Query)) {
				continue
			}
		}
		if len(opts.Tags) > 0 && !overlaps(log.Tags, opts.Tags) {
			continue
		}
		matched = append(matched, cloneLog(log))
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedTs > matched[j].CreatedTs })
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (d *Driver) FindLogsWithoutEmbedding(ctx context.Context, limit int) ([]*store.ActivityLog, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	matched := []*store.ActivityLog{}
	for _, log := range d.logs {
		if len(log.Embedding) == 0 && log.Summary != nil {
			matched = append(matched, cloneLog(log))
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedTs > matched[j].CreatedTs })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (d *Driver) ListActiveUserIDs(ctx context.Context, start, end time.Time) ([]int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	seen := map[int32]bool{}
	for _, log := range d.logs {
		if log.Type != store.LogTypeScreenCapture || log.Summary == nil {
			continue
		}
		if log.StartedAt.Before(start) || log.StartedAt.After(end) {
			continue
		}
		seen[log.UserID] = true
	}

	ids := make([]int32, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (d *Driver) CreateKnowledgeItem(ctx context.Context, create *store.KnowledgeItem) (*store.KnowledgeItem, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	clone := cloneItem(create)
	d.items[clone.ID] = clone
	return cloneItem(clone), nil
}

func matchKnowledgeItem(item *store.KnowledgeItem, find *store.FindKnowledgeItem) bool {
	if find.ID != nil && item.ID != *find.ID {
		return false
	}
	if find.UserID != nil && item.UserID != *find.UserID {
		return false
	}
	if len(find.Tags) > 0 && !overlaps(item.Tags, find.Tags) {
		return false
	}
	return true
}

func (d *Driver) ListKnowledgeItems(ctx context.Context, find *store.FindKnowledgeItem) ([]*store.KnowledgeItem, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	matched := []*store.KnowledgeItem{}
	for _, item := range d.items {
		if matchKnowledgeItem(item, find) {
			matched = append(matched, cloneItem(item))
		}
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedTs > matched[j].CreatedTs })
	if find.Limit != nil && len(matched) > *find.Limit {
		matched = matched[:*find.Limit]
	}
	return matched, nil
}

func (d *Driver) CountKnowledgeItems(ctx context.Context, find *store.FindKnowledgeItem) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var count int64
	for _, item := range d.items {
		if matchKnowledgeItem(item, find) {
			count++
		}
	}
	return count, nil
}

func (d *Driver) UpdateKnowledgeItem(ctx context.Context, update *store.UpdateKnowledgeItem) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	item, ok := d.items[update.ID]
	if !ok {
		return errors.Errorf("knowledge item %s not found", update.ID)
	}
	if update.Title != nil {
		item.Title = *update.Title
	}
	if update.Content != nil {
		item.Content = *update.Content
	}
	if update.URL != nil {
		item.URL = *update.URL
	}
	if update.Tags != nil {
		item.Tags = update.Tags
	}
	if update.Embedding != nil {
		item.Embedding = update.Embedding
	}
	return nil
}

func (d *Driver) DeleteKnowledgeItem(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.items[id]; !ok {
		return errors.Errorf("knowledge item %s not found", id)
	}
	delete(d.items, id)
	return nil
}

func (d *Driver) VectorSearchKnowledge(ctx context.Context, opts *store.VectorSearchKnowledgeOptions) ([]*store.KnowledgeWithScore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.VectorSearchErr; err != nil {
		d.VectorSearchErr = nil
		return nil, err
	}

	results := []*store.KnowledgeWithScore{}
	for _, item := range d.items {
		if item.UserID != opts.UserID || len(item.Embedding) == 0 {
			continue
		}
		score := cosineSimilarity(opts.Vector, item.Embedding)
		if score < opts.Threshold {
			continue
		}
		results = append(results, &store.KnowledgeWithScore{Item: cloneItem(item), Score: score})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (d *Driver) TextSearchKnowledge(ctx context.Context, opts *store.TextSearchKnowledgeOptions) ([]*store.KnowledgeItem, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.TextSearchErr; err != nil {
		d.TextSearchErr = nil
		return nil, err
	}

	matched := []*store.KnowledgeItem{}
	for _, item := range d.items {
		if item.UserID != opts.UserID {
			continue
		}
		if opts.Query != "" {
			if !containsFold(item.Title, opts.Query) &&
				!containsFold(item.Content, opts.Query) &&
				!contains(item.Tags, strings.ToLower(opts.Query)) {
				continue
			}
		}
		if len(opts.Tags) > 0 && !overlaps(item.Tags, opts.Tags) {
			continue
		}
		matched = append(matched, cloneItem(item))
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedTs > matched[j].CreatedTs })
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (d *Driver) CreatePushSubscription(ctx context.Context, create *store.PushSubscription) (*store.PushSubscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	clone := *create
	d.subscriptions[clone.ID] = &clone
	out := clone
	return &out, nil
}

func (d *Driver) ListPushSubscriptions(ctx context.Context, find *store.FindPushSubscription) ([]*store.PushSubscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	matched := []*store.PushSubscription{}
	for _, sub := range d.subscriptions {
		if find.ID != nil && sub.ID != *find.ID {
			continue
		}
		if find.UserID != nil && sub.UserID != *find.UserID {
			continue
		}
		clone := *sub
		matched = append(matched, &clone)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedTs < matched[j].CreatedTs })
	return matched, nil
}

func (d *Driver) DeletePushSubscription(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.subscriptions[id]; !ok {
		return errors.Errorf("push subscription %s not found", id)
	}
	delete(d.subscriptions, id)
	return nil
}

func cloneLog(log *store.ActivityLog) *store.ActivityLog {
	clone := *log
	clone.Tags = append([]string(nil), log.Tags...)
	clone.SourceLogIDs = append([]string(nil), log.SourceLogIDs...)
	clone.Embedding = append([]float32(nil), log.Embedding...)
	if log.Details != nil {
		clone.Details = make(map[string]any, len(log.Details))
		for k, v := range log.Details {
			clone.Details[k] = v
		}
	}
	return &clone
}

func cloneItem(item *store.KnowledgeItem) *store.KnowledgeItem {
	clone := *item
	clone.Tags = append([]string(nil), item.Tags...)
	clone.Embedding = append([]float32(nil), item.Embedding...)
	return &clone
}

func paginateLogs(logs []*store.ActivityLog, limit, offset *int) []*store.ActivityLog {
	if offset != nil {
		if *offset >= len(logs) {
			return []*store.ActivityLog{}
		}
		logs = logs[*offset:]
	}
	if limit != nil && len(logs) > *limit {
		logs = logs[:*limit]
	}
	return logs
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
