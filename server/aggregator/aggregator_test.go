package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/stretchr/testify/require"

	"github.com/retracehq/retrace/internal/errors"
	serverai "github.com/retracehq/retrace/server/ai"
	"github.com/retracehq/retrace/store"
	storetest "github.com/retracehq/retrace/store/test"
)

type fakeLLM struct {
	summary string
	err     error
	prompts []string
}

func (f *fakeLLM) Describe(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.prompts = append(f.prompts, userPrompt)
	if f.err != nil {
		return "", f.err
	}
	return f.summary, nil
}

type fakeEmbedding struct {
	vector []float32
}

func (f *fakeEmbedding) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vector, nil
}

func (f *fakeEmbedding) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = f.vector
	}
	return vectors, nil
}

func (f *fakeEmbedding) Dimensions() int { return len(f.vector) }

func seedCapture(t *testing.T, st *store.Store, userID int32, at time.Time, summary string) *store.ActivityLog {
	t.Helper()
	created, err := st.CreateActivityLog(context.Background(), &store.ActivityLog{
		ID:        shortuuid.New(),
		UserID:    userID,
		Type:      store.LogTypeScreenCapture,
		StartedAt: at,
		EndedAt:   at,
		Summary:   &summary,
	})
	require.NoError(t, err)
	return created
}

func newAggregator(st *store.Store, llm *fakeLLM) *Aggregator {
	embedder := serverai.NewEmbedder(&fakeEmbedding{vector: []float32{0.5, 0.5}}, st)
	return New(llm, embedder, st)
}

func TestParseInterval(t *testing.T) {
	for _, name := range []string{"10min", "1hour", "1day"} {
		interval, err := ParseInterval(name)
		require.NoError(t, err)
		require.Equal(t, name, string(interval))
	}

	_, err := ParseInterval("5min")
	require.Error(t, err)
	require.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))
}

func TestIntervalMapping(t *testing.T) {
	require.Equal(t, 10*time.Minute, Interval10Min.Duration())
	require.Equal(t, time.Hour, Interval1Hour.Duration())
	require.Equal(t, 24*time.Hour, Interval1Day.Duration())

	require.Equal(t, store.LogTypeSummary10Min, Interval10Min.LogType())
	require.Equal(t, store.LogTypeSummary1Hour, Interval1Hour.LogType())
	require.Equal(t, store.LogTypeSummary24Hour, Interval1Day.LogType())
}

func TestAggregateBackReferencesSources(t *testing.T) {
	st, _ := storetest.NewTestingStore(t)
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	first := seedCapture(t, st, 1, base, "Reading pull request comments.")
	second := seedCapture(t, st, 1, base.Add(3*time.Minute), "Editing the review reply.")
	third := seedCapture(t, st, 1, base.Add(7*time.Minute), "Running the test suite.")
	// Outside the window and for another user. Neither may appear.
	seedCapture(t, st, 1, base.Add(15*time.Minute), "Browsing documentation.")
	seedCapture(t, st, 2, base.Add(2*time.Minute), "Watching a video.")

	llm := &fakeLLM{summary: "Reviewed a pull request, replied and verified with tests."}
	digest, err := newAggregator(st, llm).Aggregate(context.Background(), 1, Interval10Min, base.Add(10*time.Minute))
	require.NoError(t, err)

	require.Equal(t, store.LogTypeSummary10Min, digest.Type)
	require.Equal(t, []string{first.ID, second.ID, third.ID}, digest.SourceLogIDs)
	require.True(t, digest.StartedAt.Equal(base))
	require.True(t, digest.EndedAt.Equal(base.Add(10*time.Minute)))
	require.Contains(t, digest.Tags, "consolidated")
	require.Contains(t, digest.Tags, "10min")
	require.Equal(t, 3, digest.Details["source_count"])

	// Observations reach the model in chronological order with timestamps.
	require.Len(t, llm.prompts, 1)
	require.Equal(t,
		"[09:00] Reading pull request comments.\n"+
			"[09:03] Editing the review reply.\n"+
			"[09:07] Running the test suite.\n",
		llm.prompts[0])

	stored, err := st.GetActivityLog(context.Background(), &store.FindActivityLog{ID: &digest.ID})
	require.NoError(t, err)
	require.NotEmpty(t, stored.Embedding)
}

func TestAggregateEmptyWindowIsNoOp(t *testing.T) {
	st, driver := storetest.NewTestingStore(t)
	llm := &fakeLLM{summary: "unused"}

	end := time.Date(2026, 3, 14, 9, 10, 0, 0, time.UTC)
	_, err := newAggregator(st, llm).Aggregate(context.Background(), 1, Interval10Min, end)
	require.Error(t, err)
	require.True(t, errors.IsCode(err, errors.ErrCodeNoData))
	require.Empty(t, llm.prompts)
	require.Zero(t, driver.LogCount())
}

func TestAggregateRerunReplacesDigest(t *testing.T) {
	st, _ := storetest.NewTestingStore(t)
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	seedCapture(t, st, 1, base.Add(time.Minute), "Writing a design document.")

	agg := newAggregator(st, &fakeLLM{summary: "Worked on a design document."})
	end := base.Add(10 * time.Minute)

	_, err := agg.Aggregate(context.Background(), 1, Interval10Min, end)
	require.NoError(t, err)
	_, err = agg.Aggregate(context.Background(), 1, Interval10Min, end)
	require.NoError(t, err)

	digestType := store.LogTypeSummary10Min
	digests, err := st.ListActivityLogs(context.Background(), &store.FindActivityLog{
		Type: &digestType,
	})
	require.NoError(t, err)
	require.Len(t, digests, 1)
}

func TestAggregateModelFailureWritesNothing(t *testing.T) {
	st, _ := storetest.NewTestingStore(t)
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	seedCapture(t, st, 1, base.Add(time.Minute), "Debugging a flaky test.")

	llm := &fakeLLM{err: errors.Model("provider unavailable", nil)}
	_, err := newAggregator(st, llm).Aggregate(context.Background(), 1, Interval10Min, base.Add(10*time.Minute))
	require.Error(t, err)
	require.True(t, errors.IsCode(err, errors.ErrCodeModel))

	digestType := store.LogTypeSummary10Min
	digests, err := st.ListActivityLogs(context.Background(), &store.FindActivityLog{Type: &digestType})
	require.NoError(t, err)
	require.Empty(t, digests)
}
