// Package ai provides the model provider clients: embedding generation,
// structured chat completion and vision-based image description. All three
// speak to an OpenAI-compatible endpoint.
package ai

import (
	"time"

	"github.com/retracehq/retrace/internal/profile"
	"github.com/retracehq/retrace/plugin/ai/timeout"
)

// Config holds the provider configuration shared by all model clients.
type Config struct {
	BaseURL        string
	APIKey         string
	VisionModel    string
	ChatModel      string
	EmbeddingModel string
	Dimensions     int
	MaxRetries     int
	Timeout        time.Duration

	// Observer receives the wall-clock duration of every provider call,
	// including retries. Nil disables observation.
	Observer func(kind string, duration time.Duration)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "https://api.openai.com/v1",
		VisionModel:    "gpt-4o-mini",
		ChatModel:      "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
		Dimensions:     1536,
		MaxRetries:     timeout.MaxRetries,
		Timeout:        timeout.EmbeddingTimeout,
	}
}

// ConfigFromProfile builds the provider config from the server profile.
func ConfigFromProfile(p *profile.Profile) *Config {
	cfg := DefaultConfig()
	if p.AIBaseURL != "" {
		cfg.BaseURL = p.AIBaseURL
	}
	cfg.APIKey = p.AIAPIKey
	if p.VisionModel != "" {
		cfg.VisionModel = p.VisionModel
	}
	if p.ChatModel != "" {
		cfg.ChatModel = p.ChatModel
	}
	if p.EmbeddingModel != "" {
		cfg.EmbeddingModel = p.EmbeddingModel
	}
	if p.EmbeddingDimensions > 0 {
		cfg.Dimensions = p.EmbeddingDimensions
	}
	return cfg
}

func (c *Config) applyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = timeout.MaxRetries
	}
	if c.Timeout == 0 {
		c.Timeout = timeout.EmbeddingTimeout
	}
	if c.VisionModel == "" {
		c.VisionModel = "gpt-4o-mini"
	}
	if c.ChatModel == "" {
		c.ChatModel = "gpt-4o-mini"
	}
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = "text-embedding-3-small"
	}
}
