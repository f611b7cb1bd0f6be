package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retracehq/retrace/plugin/ai/timeout"
)

const embeddingResponse = `{
	"object": "list",
	"data": [{"object": "embedding", "index": 0, "embedding": [0.1, 0.2, 0.3]}],
	"model": "text-embedding-3-small",
	"usage": {"prompt_tokens": 1, "total_tokens": 1}
}`

func newEmbeddingServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestObserverReceivesEmbeddingCalls(t *testing.T) {
	srv := newEmbeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(embeddingResponse))
	})

	var kind string
	var duration time.Duration
	p, err := NewProvider(&Config{
		APIKey:  "sk-test",
		BaseURL: srv.URL,
		Observer: func(k string, d time.Duration) {
			kind = k
			duration = d
		},
	})
	require.NoError(t, err)

	vector, err := p.Embed(context.Background(), "some activity")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vector)
	assert.Equal(t, CallKindEmbedding, kind)
	assert.Greater(t, duration, time.Duration(0))
}

func TestRetryWaitsBaseDelayBetweenAttempts(t *testing.T) {
	var requests atomic.Int32
	srv := newEmbeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			http.Error(w, `{"error": {"message": "overloaded"}}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(embeddingResponse))
	})

	p, err := NewProvider(&Config{
		APIKey:     "sk-test",
		BaseURL:    srv.URL,
		MaxRetries: 2,
	})
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Embed(context.Background(), "some activity")
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, int32(2), requests.Load())
	assert.GreaterOrEqual(t, elapsed, timeout.RetryBaseDelay)
	assert.Less(t, elapsed, time.Second)
}
