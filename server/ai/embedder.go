package ai

import (
	"context"
	"log/slog"

	"github.com/retracehq/retrace/internal/errors"
	"github.com/retracehq/retrace/plugin/ai"
	"github.com/retracehq/retrace/store"
)

// Embedder handles embedding generation and storage for activity logs and
// knowledge items.
type Embedder struct {
	embedding ai.EmbeddingService
	store     *store.Store
}

// NewEmbedder creates a new embedder.
func NewEmbedder(embedding ai.EmbeddingService, store *store.Store) *Embedder {
	return &Embedder{
		embedding: embedding,
		store:     store,
	}
}

// EmbedText computes the embedding of an already-composed text.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return e.embedding.Embed(ctx, text)
}

// EmbedLog generates and stores the embedding for a single log. The input
// text is composed from the log's current summary, details and tags so the
// stored vector can never go stale relative to them.
func (e *Embedder) EmbedLog(ctx context.Context, log *store.ActivityLog) error {
	if log == nil {
		return errors.EmptyInput("log is nil")
	}
	summary := ""
	if log.Summary != nil {
		summary = *log.Summary
	}
	text := ComposeLogText(summary, log.Details, log.Tags)
	if text == "" {
		return errors.EmptyInput("log has no content to embed")
	}

	vector, err := e.embedding.Embed(ctx, text)
	if err != nil {
		return err
	}

	if err := e.store.UpdateActivityLog(ctx, &store.UpdateActivityLog{
		ID:        log.ID,
		Embedding: vector,
	}); err != nil {
		return errors.Storage("failed to store log embedding", err)
	}

	slog.Debug("log embedded",
		"log_id", log.ID,
		"embedding_dim", len(vector))
	return nil
}

// EmbedLogBatch generates and stores embeddings for multiple logs
// concurrently. Concurrency is bounded to avoid overwhelming the API;
// each log's failure is reported on the channel independently.
func (e *Embedder) EmbedLogBatch(ctx context.Context, logs []*store.ActivityLog) <-chan error {
	results := make(chan error, len(logs))

	sem := make(chan struct{}, 3)
	go func() {
		defer close(results)
		for _, log := range logs {
			sem <- struct{}{}
			go func(l *store.ActivityLog) {
				defer func() { <-sem }()
				results <- e.EmbedLog(ctx, l)
			}(log)
		}
		// Drain the semaphore so the channel closes only after every
		// goroutine finished.
		for i := 0; i < cap(sem); i++ {
			sem <- struct{}{}
		}
	}()

	return results
}

// EmbedKnowledgeItem generates and stores the embedding for a knowledge
// item.
func (e *Embedder) EmbedKnowledgeItem(ctx context.Context, item *store.KnowledgeItem) error {
	if item == nil {
		return errors.EmptyInput("knowledge item is nil")
	}
	text := ComposeKnowledgeText(item.Title, item.Content, item.Tags)
	if text == "" {
		return errors.EmptyInput("knowledge item has no content to embed")
	}

	vector, err := e.embedding.Embed(ctx, text)
	if err != nil {
		return err
	}

	if err := e.store.UpdateKnowledgeItem(ctx, &store.UpdateKnowledgeItem{
		ID:        item.ID,
		Embedding: vector,
	}); err != nil {
		return errors.Storage("failed to store knowledge embedding", err)
	}

	return nil
}
