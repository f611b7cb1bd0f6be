// Package aggregator consolidates leaf capture logs into interval digests.
// Each digest is a single LLM-written paragraph covering one time window,
// stored as an activity log that back-references its source logs.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/retracehq/retrace/internal/errors"
	"github.com/retracehq/retrace/plugin/ai"
	serverai "github.com/retracehq/retrace/server/ai"
	"github.com/retracehq/retrace/store"
)

const consolidatedTag = "consolidated"

const summarySystemPrompt = "You consolidate a person's screen activity records into one " +
	"digest. Given timestamped observations from a single time window, write one factual " +
	"paragraph summarizing what the person worked on, in chronological order. Merge " +
	"repeated observations. Do not evaluate or suggest."

// Aggregator builds interval digests from leaf activity logs.
type Aggregator struct {
	llm      ai.LLMService
	embedder *serverai.Embedder
	store    *store.Store
}

// New creates an aggregator.
func New(llm ai.LLMService, embedder *serverai.Embedder, st *store.Store) *Aggregator {
	return &Aggregator{
		llm:      llm,
		embedder: embedder,
		store:    st,
	}
}

// Aggregate consolidates the window ending at endTime into one digest log.
// An empty window returns a NO_DATA error and writes nothing. Re-running
// the same window replaces the previous digest instead of duplicating it.
func (a *Aggregator) Aggregate(ctx context.Context, userID int32, interval Interval, endTime time.Time) (*store.ActivityLog, error) {
	if interval.Duration() == 0 {
		return nil, errors.InvalidArgument("unknown interval: " + string(interval))
	}
	startTime := endTime.Add(-interval.Duration())

	leafType := store.LogTypeScreenCapture
	leaves, err := a.store.ListActivityLogs(ctx, &store.FindActivityLog{
		UserID:              &userID,
		Type:                &leafType,
		HasSummary:          true,
		StartedAfter:        &startTime,
		StartedBefore:       &endTime,
		OrderByStartedAtAsc: true,
	})
	if err != nil {
		return nil, errors.Storage("failed to list window logs", err)
	}
	if len(leaves) == 0 {
		return nil, errors.NoData(fmt.Sprintf("no activity between %s and %s",
			startTime.Format(time.RFC3339), endTime.Format(time.RFC3339)))
	}

	summary, err := a.llm.Describe(ctx, summarySystemPrompt, renderWindow(leaves))
	if err != nil {
		return nil, err
	}

	sourceIDs := make([]string, len(leaves))
	for i, leaf := range leaves {
		sourceIDs[i] = leaf.ID
	}

	tags := serverai.DeriveTags(summary)
	tags = append(tags, consolidatedTag, interval.Tag())

	digest := &store.ActivityLog{
		ID:           shortuuid.New(),
		UserID:       userID,
		Type:         interval.LogType(),
		StartedAt:    startTime,
		EndedAt:      endTime,
		Summary:      &summary,
		Tags:         tags,
		SourceLogIDs: sourceIDs,
		Details: map[string]any{
			"source_count": len(leaves),
			"interval":     string(interval),
		},
	}

	created, err := a.store.CreateActivityLog(ctx, digest)
	if err != nil {
		return nil, errors.Storage("failed to persist digest", err)
	}

	if err := a.embedder.EmbedLog(ctx, created); err != nil {
		slog.Warn("failed to embed digest", "log", created.ID, "error", err)
	}
	return created, nil
}

// renderWindow formats leaves as one timestamped observation per line.
func renderWindow(leaves []*store.ActivityLog) string {
	var b strings.Builder
	for _, leaf := range leaves {
		if leaf.Summary == nil {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", leaf.StartedAt.Format("15:04"), *leaf.Summary)
	}
	return b.String()
}
