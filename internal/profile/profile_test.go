package profile

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "dev", p.Mode)
	assert.Equal(t, 8230, p.Port)
	assert.Equal(t, "text-embedding-3-small", p.EmbeddingModel)
	assert.Equal(t, 1536, p.EmbeddingDimensions)
	assert.InDelta(t, 0.5, p.SimilarityThreshold, 1e-6)
	assert.Equal(t, 5*time.Second, p.WebhookTimeout)
}

func TestFromEnvKeepsExplicitValues(t *testing.T) {
	p := &Profile{Port: 9000, ChatModel: "gpt-4o", SimilarityThreshold: 0.3}
	p.FromEnv()

	assert.Equal(t, 9000, p.Port)
	assert.Equal(t, "gpt-4o", p.ChatModel)
	assert.InDelta(t, 0.3, p.SimilarityThreshold, 1e-6)
}

func TestFromEnvReadsEnvironment(t *testing.T) {
	t.Setenv("RETRACE_DSN", "postgres://localhost/retrace_test")
	t.Setenv("RETRACE_SIMILARITY_THRESHOLD", "0.7")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "postgres://localhost/retrace_test", p.DSN)
	assert.InDelta(t, 0.7, p.SimilarityThreshold, 1e-6)
}

func TestValidate(t *testing.T) {
	t.Run("MissingDSN", func(t *testing.T) {
		p := &Profile{Mode: "dev"}
		assert.Error(t, p.Validate())
	})

	t.Run("ThresholdOutOfRange", func(t *testing.T) {
		p := &Profile{Mode: "dev", DSN: "postgres://localhost/x", SimilarityThreshold: 1.5}
		assert.Error(t, p.Validate())
	})

	t.Run("NormalizesModeAndData", func(t *testing.T) {
		dir := t.TempDir()
		p := &Profile{
			Mode:                "staging",
			DSN:                 "postgres://localhost/x",
			Data:                filepath.Join(dir, "data"),
			SimilarityThreshold: 0.5,
		}
		require.NoError(t, p.Validate())
		assert.Equal(t, "dev", p.Mode)
		assert.DirExists(t, p.Data)
	})

	t.Run("IsAIEnabled", func(t *testing.T) {
		p := &Profile{}
		assert.False(t, p.IsAIEnabled())
		p.AIAPIKey = "sk-test"
		assert.True(t, p.IsAIEnabled())
	})
}
