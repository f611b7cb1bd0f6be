package ai

import (
	"context"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/retracehq/retrace/internal/errors"
	"github.com/retracehq/retrace/plugin/ai/timeout"
)

// Provider provides the model clients: embedding, structured chat and
// vision description.
type Provider struct {
	client *openai.Client
	config *Config
}

// NewProvider creates a new provider. A missing API key is a configuration
// error: captures keep being stored without one, but no analysis can run.
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.applyDefaults()

	if cfg.APIKey == "" {
		return nil, errors.Config("AI API key is not configured (RETRACE_AI_API_KEY)")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &Provider{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}, nil
}

// Dimensions returns the embedding vector dimension.
func (p *Provider) Dimensions() int {
	return p.config.Dimensions
}

// Model call kinds reported to the configured Observer.
const (
	CallKindVision    = "vision"
	CallKindChat      = "chat"
	CallKindEmbedding = "embedding"
)

// observe reports a finished model call. Deferred with time.Now() at the
// call site so the argument captures the start time.
func (p *Provider) observe(kind string, start time.Time) {
	if p.config.Observer != nil {
		p.config.Observer(kind, time.Since(start))
	}
}

// doWithRetry executes a function with exponential backoff retry.
func (p *Provider) doWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < p.config.MaxRetries; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			if attempt < p.config.MaxRetries-1 {
				waitTime := timeout.RetryBaseDelay << attempt
				slog.Debug("model request failed, retrying",
					"attempt", attempt+1,
					"wait_time", waitTime,
					"error", err)
				select {
				case <-time.After(waitTime):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
	return lastErr
}
