// Package embedding backfills vectors for activity logs that were stored
// without one, typically because the provider was down when the log was
// written. The capture path treats embedding as best effort and relies on
// this runner to converge.
package embedding

import (
	"context"
	"log/slog"
	"time"

	serverai "github.com/retracehq/retrace/server/ai"
	"github.com/retracehq/retrace/store"
)

type Runner struct {
	store     *store.Store
	embedder  *serverai.Embedder
	interval  time.Duration
	batchSize int
}

// NewRunner creates an embedding backfill runner. Small batches keep
// provider requests and memory peaks bounded.
func NewRunner(st *store.Store, embedder *serverai.Embedder) *Runner {
	return &Runner{
		store:     st,
		embedder:  embedder,
		interval:  2 * time.Minute,
		batchSize: 8,
	}
}

// Run starts the background task.
func (r *Runner) Run(ctx context.Context) {
	// Process once on startup
	r.processPendingLogs(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.processPendingLogs(ctx)
		case <-ctx.Done():
			slog.Info("embedding runner stopped")
			return
		}
	}
}

// RunOnce processes pending logs once (for manual trigger and tests).
func (r *Runner) RunOnce(ctx context.Context) {
	r.processPendingLogs(ctx)
}

func (r *Runner) processPendingLogs(ctx context.Context) {
	// Fetch more than one batch, but embed in small groups so one provider
	// failure only loses that group.
	logs, err := r.store.FindLogsWithoutEmbedding(ctx, r.batchSize*20)
	if err != nil {
		slog.Error("failed to find logs without embedding", "error", err)
		return
	}
	if len(logs) == 0 {
		return
	}

	slog.Info("backfilling embeddings", "count", len(logs))

	for i := 0; i < len(logs); i += r.batchSize {
		select {
		case <-ctx.Done():
			slog.Info("embedding backfill cancelled", "processed", i, "total", len(logs))
			return
		default:
		}

		end := min(i+r.batchSize, len(logs))
		if err := r.processBatch(ctx, logs[i:end]); err != nil {
			slog.Error("failed to process embedding batch", "error", err)
			continue
		}
	}
}

func (r *Runner) processBatch(ctx context.Context, logs []*store.ActivityLog) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	var firstErr error
	for err := range r.embedder.EmbedLogBatch(ctx, logs) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
