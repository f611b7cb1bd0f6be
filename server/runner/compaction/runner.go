// Package compaction truncates overlong log summaries after the fact. The
// truncation is lossy and marked in details so readers can tell a shortened
// summary from an original one.
package compaction

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/retracehq/retrace/store"
)

// DefaultMaxSummaryLength bounds stored summaries. Vision models
// occasionally ramble far past the one-paragraph contract.
const DefaultMaxSummaryLength = 2000

const compressedKey = "compressed"

type Runner struct {
	store     *store.Store
	interval  time.Duration
	maxLength int
	scanLimit int
}

// NewRunner creates a compaction runner.
func NewRunner(st *store.Store) *Runner {
	return &Runner{
		store:     st,
		interval:  time.Hour,
		maxLength: DefaultMaxSummaryLength,
		scanLimit: 200,
	}
}

// Run starts the background task.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-ctx.Done():
			slog.Info("compaction runner stopped")
			return
		}
	}
}

// RunOnce scans recent logs and truncates any overlong summary.
func (r *Runner) RunOnce(ctx context.Context) {
	logs, err := r.store.ListActivityLogs(ctx, &store.FindActivityLog{
		HasSummary: true,
		Limit:      &r.scanLimit,
	})
	if err != nil {
		slog.Error("failed to list logs for compaction", "error", err)
		return
	}

	compacted := 0
	for _, log := range logs {
		if utf8.RuneCountInString(*log.Summary) <= r.maxLength {
			continue
		}
		if err := r.compact(ctx, log); err != nil {
			slog.Error("failed to compact summary", "log", log.ID, "error", err)
			continue
		}
		compacted++
	}
	if compacted > 0 {
		slog.Info("compacted overlong summaries", "count", compacted)
	}
}

func (r *Runner) compact(ctx context.Context, log *store.ActivityLog) error {
	truncated := Truncate(*log.Summary, r.maxLength)

	details := log.Details
	if details == nil {
		details = map[string]any{}
	}
	details[compressedKey] = true

	return r.store.UpdateActivityLog(ctx, &store.UpdateActivityLog{
		ID:      log.ID,
		Summary: &truncated,
		Details: details,
	})
}

// Truncate shortens text to at most maxRunes runes, cutting at a word
// boundary when one is close enough.
func Truncate(text string, maxRunes int) string {
	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}

	runes := []rune(text)
	cut := string(runes[:maxRunes])
	// The boundary heuristic counts runes; LastIndex yields bytes, which
	// overshoots on multibyte text.
	if idx := strings.LastIndex(cut, " "); idx > 0 && utf8.RuneCountInString(cut[:idx]) > maxRunes*3/4 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " ") + "…"
}
