package ai

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retracehq/retrace/internal/errors"
	"github.com/retracehq/retrace/internal/profile"
)

func TestConfigFromProfile(t *testing.T) {
	p := &profile.Profile{
		AIBaseURL:           "https://example.test/v1",
		AIAPIKey:            "sk-test",
		ChatModel:           "gpt-4o",
		EmbeddingDimensions: 1024,
	}

	cfg := ConfigFromProfile(p)
	assert.Equal(t, "https://example.test/v1", cfg.BaseURL)
	assert.Equal(t, "sk-test", cfg.APIKey)
	assert.Equal(t, "gpt-4o", cfg.ChatModel)
	assert.Equal(t, 1024, cfg.Dimensions)
	// Unset fields keep defaults.
	assert.Equal(t, "gpt-4o-mini", cfg.VisionModel)
	assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
}

func TestNewProviderRequiresAPIKey(t *testing.T) {
	_, err := NewProvider(&Config{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfig))
}

func TestNewProviderAppliesDefaults(t *testing.T) {
	p, err := NewProvider(&Config{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, 3, p.config.MaxRetries)
	assert.Equal(t, 30*time.Second, p.config.Timeout)
	assert.Equal(t, "gpt-4o-mini", p.config.ChatModel)
}
