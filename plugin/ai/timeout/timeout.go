// Package timeout defines centralized timeout constants for model calls.
package timeout

import "time"

const (
	// VisionTimeout is the timeout for a screenshot description call.
	VisionTimeout = 60 * time.Second

	// ChatTimeout is the timeout for a consolidation call.
	ChatTimeout = 90 * time.Second

	// EmbeddingTimeout is the timeout for embedding generation.
	EmbeddingTimeout = 30 * time.Second

	// MaxRetries is the number of attempts for a retryable provider call.
	MaxRetries = 3

	// RetryBaseDelay is the initial backoff delay, doubled per attempt.
	RetryBaseDelay = 500 * time.Millisecond
)
