package ai

import (
	"context"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/retracehq/retrace/internal/errors"
)

// EmbeddingService is the vector embedding service interface.
type EmbeddingService interface {
	// Embed generates a vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates vectors for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector dimension.
	Dimensions() int
}

// Embed generates an embedding vector for the given text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embedding vectors for multiple texts. The provider
// call is all-or-nothing: isolating per-text failures is the caller's
// concern (the backfill runner batches accordingly).
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.EmptyInput("no texts provided for embedding")
	}
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, errors.EmptyInput("cannot embed blank text")
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()
	defer p.observe(CallKindEmbedding, time.Now())

	var vectors [][]float32
	err := p.doWithRetry(ctx, func() error {
		req := openai.EmbeddingRequest{
			Input:      texts,
			Model:      openai.EmbeddingModel(p.config.EmbeddingModel),
			Dimensions: p.config.Dimensions,
		}

		resp, err := p.client.CreateEmbeddings(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Data) != len(texts) {
			return errors.Model("embedding response size mismatch", nil)
		}

		vectors = make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			vectors[i] = data.Embedding
		}
		return nil
	})
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeModel) || errors.IsCode(err, errors.ErrCodeEmptyInput) {
			return nil, err
		}
		return nil, errors.Model("failed to create embeddings", err)
	}

	return vectors, nil
}
