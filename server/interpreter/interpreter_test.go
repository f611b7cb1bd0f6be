package interpreter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/retracehq/retrace/internal/errors"
	serverai "github.com/retracehq/retrace/server/ai"
	"github.com/retracehq/retrace/store"
	"github.com/retracehq/retrace/store/cache"
	storetest "github.com/retracehq/retrace/store/test"
)

type fakeVision struct {
	description string
	err         error
	calls       int
}

func (f *fakeVision) DescribeImage(ctx context.Context, image []byte, contentType string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.description, nil
}

type fakeEmbedding struct {
	vector []float32
	err    error
}

func (f *fakeEmbedding) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

func (f *fakeEmbedding) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		v, err := f.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

func (f *fakeEmbedding) Dimensions() int { return len(f.vector) }

func TestInterpretMissingImage(t *testing.T) {
	vision := &fakeVision{err: errors.Model("should not be called", nil)}
	interp := New(vision, nil)

	description, err := interp.Interpret(context.Background(), nil, "image/png")
	require.NoError(t, err)
	require.Equal(t, placeholderDescription, description)
	require.Zero(t, vision.calls)
}

func TestInterpretCachesByImageHash(t *testing.T) {
	vision := &fakeVision{description: "A code editor with a terminal open."}
	analysisCache := cache.New(cache.Config{Capacity: 10, DefaultTTL: time.Minute})
	defer analysisCache.Close()
	interp := New(vision, analysisCache)

	image := []byte("frame-bytes")
	for i := 0; i < 3; i++ {
		description, err := interp.Interpret(context.Background(), image, "image/png")
		require.NoError(t, err)
		require.Equal(t, "A code editor with a terminal open.", description)
	}
	require.Equal(t, 1, vision.calls)

	_, err := interp.Interpret(context.Background(), []byte("other-frame"), "image/png")
	require.NoError(t, err)
	require.Equal(t, 2, vision.calls)
}

func TestInterpretModelFailure(t *testing.T) {
	vision := &fakeVision{err: errors.Model("provider unavailable", nil)}
	interp := New(vision, nil)

	_, err := interp.Interpret(context.Background(), []byte("frame"), "image/png")
	require.Error(t, err)
	require.True(t, errors.IsCode(err, errors.ErrCodeModel))
}

func TestAnalyzePersistsLeafLog(t *testing.T) {
	st, _ := storetest.NewTestingStore(t)
	vision := &fakeVision{description: "The quick brown fox jumps."}
	embedder := serverai.NewEmbedder(&fakeEmbedding{vector: []float32{0.1, 0.2}}, st)
	svc := NewService(New(vision, nil), embedder, st)

	capturedAt := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	result, err := svc.Analyze(context.Background(), &AnalyzeRequest{
		UserID:      1,
		Image:       []byte("frame"),
		ContentType: "image/png",
		CapturedAt:  capturedAt,
		Details:     map[string]any{"app": "firefox"},
	})
	require.NoError(t, err)
	require.NoError(t, result.PersistenceErr)
	require.Equal(t, "The quick brown fox jumps.", result.Description)
	require.NotNil(t, result.Log)
	require.Equal(t, store.LogTypeScreenCapture, result.Log.Type)
	require.Equal(t, []string{"quick", "brown", "jumps"}, result.Log.Tags)
	require.True(t, result.Log.StartedAt.Equal(capturedAt))
	require.True(t, result.Log.EndedAt.Equal(capturedAt))

	stored, err := st.GetActivityLog(context.Background(), &store.FindActivityLog{ID: &result.Log.ID})
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.NotEmpty(t, stored.Embedding)
}

func TestAnalyzeGracefulDegradation(t *testing.T) {
	st, driver := storetest.NewTestingStore(t)
	vision := &fakeVision{description: "A spreadsheet with quarterly numbers."}
	embedder := serverai.NewEmbedder(&fakeEmbedding{vector: []float32{0.1}}, st)
	svc := NewService(New(vision, nil), embedder, st)

	driver.CreateLogErr = errors.Storage("connection reset", nil)

	result, err := svc.Analyze(context.Background(), &AnalyzeRequest{
		UserID: 1,
		Image:  []byte("frame"),
	})
	require.NoError(t, err)
	require.Equal(t, "A spreadsheet with quarterly numbers.", result.Description)
	require.Error(t, result.PersistenceErr)
	require.True(t, errors.IsCode(result.PersistenceErr, errors.ErrCodeStorage))
	require.Nil(t, result.Log)
	require.Zero(t, driver.LogCount())
}
