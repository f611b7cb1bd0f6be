// Package profile holds the runtime configuration of the server.
package profile

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Profile is the configuration to start the main server.
type Profile struct {
	// Mode can be "prod" or "dev"
	Mode string
	// Addr is the binding address for the server
	Addr string
	// Port is the binding port for the server
	Port int
	// Data is the data directory for locally stored capture artifacts
	Data string
	// DSN is the PostgreSQL connection string
	DSN string
	// Version is the current version of the server
	Version string

	// JWTSecret signs and verifies API tokens.
	JWTSecret string

	// AI provider configuration. A single OpenAI-compatible endpoint serves
	// vision, chat and embedding calls.
	AIBaseURL           string
	AIAPIKey            string
	VisionModel         string
	ChatModel           string
	EmbeddingModel      string
	EmbeddingDimensions int

	// SimilarityThreshold is the minimum cosine similarity for semantic
	// search results. One configured value for every call site.
	SimilarityThreshold float32

	// WebhookTimeout bounds each push notification delivery attempt.
	WebhookTimeout time.Duration
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if an API key is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.AIAPIKey != ""
}

// FromEnv populates unset fields from RETRACE_* environment variables.
func (p *Profile) FromEnv() {
	v := viper.New()
	v.SetEnvPrefix("retrace")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "dev")
	v.SetDefault("addr", "")
	v.SetDefault("port", 8230)
	v.SetDefault("data", "")
	v.SetDefault("dsn", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("ai_base_url", "https://api.openai.com/v1")
	v.SetDefault("ai_api_key", "")
	v.SetDefault("vision_model", "gpt-4o-mini")
	v.SetDefault("chat_model", "gpt-4o-mini")
	v.SetDefault("embedding_model", "text-embedding-3-small")
	v.SetDefault("embedding_dimensions", 1536)
	v.SetDefault("similarity_threshold", 0.5)
	v.SetDefault("webhook_timeout", "5s")

	if p.Mode == "" {
		p.Mode = v.GetString("mode")
	}
	if p.Addr == "" {
		p.Addr = v.GetString("addr")
	}
	if p.Port == 0 {
		p.Port = v.GetInt("port")
	}
	if p.Data == "" {
		p.Data = v.GetString("data")
	}
	if p.DSN == "" {
		p.DSN = v.GetString("dsn")
	}
	if p.JWTSecret == "" {
		p.JWTSecret = v.GetString("jwt_secret")
	}
	if p.AIBaseURL == "" {
		p.AIBaseURL = v.GetString("ai_base_url")
	}
	if p.AIAPIKey == "" {
		p.AIAPIKey = v.GetString("ai_api_key")
	}
	if p.VisionModel == "" {
		p.VisionModel = v.GetString("vision_model")
	}
	if p.ChatModel == "" {
		p.ChatModel = v.GetString("chat_model")
	}
	if p.EmbeddingModel == "" {
		p.EmbeddingModel = v.GetString("embedding_model")
	}
	if p.EmbeddingDimensions == 0 {
		p.EmbeddingDimensions = v.GetInt("embedding_dimensions")
	}
	if p.SimilarityThreshold == 0 {
		p.SimilarityThreshold = float32(v.GetFloat64("similarity_threshold"))
	}
	if p.WebhookTimeout == 0 {
		p.WebhookTimeout = v.GetDuration("webhook_timeout")
	}
}

// Validate checks the profile and normalizes the data directory.
func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}

	if p.DSN == "" {
		return errors.New("dsn is required (RETRACE_DSN)")
	}
	if p.SimilarityThreshold < 0 || p.SimilarityThreshold > 1 {
		return errors.Errorf("similarity threshold out of range: %f", p.SimilarityThreshold)
	}

	if p.Data == "" {
		p.Data = filepath.Join(os.TempDir(), "retrace")
	}
	if !filepath.IsAbs(p.Data) {
		absDir, err := filepath.Abs(p.Data)
		if err != nil {
			return errors.Wrap(err, "failed to resolve data directory")
		}
		p.Data = absDir
	}
	p.Data = strings.TrimRight(p.Data, "\\/")
	if err := os.MkdirAll(p.Data, 0o770); err != nil {
		return errors.Wrapf(err, "unable to create data folder %s", p.Data)
	}

	return nil
}
