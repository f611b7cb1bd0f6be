package stats

import (
	"context"
	"testing"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/stretchr/testify/require"

	"github.com/retracehq/retrace/store"
	storetest "github.com/retracehq/retrace/store/test"
)

func seed(t *testing.T, st *store.Store, logType store.LogType, at time.Time) {
	t.Helper()
	summary := "activity"
	log := &store.ActivityLog{
		ID:        shortuuid.New(),
		UserID:    1,
		Type:      logType,
		StartedAt: at,
		EndedAt:   at,
		Summary:   &summary,
	}
	if logType != store.LogTypeScreenCapture {
		log.SourceLogIDs = []string{shortuuid.New()}
	}
	_, err := st.CreateActivityLog(context.Background(), log)
	require.NoError(t, err)
}

func TestCollect(t *testing.T) {
	st, _ := storetest.NewTestingStore(t)
	now := time.Now().UTC()

	seed(t, st, store.LogTypeScreenCapture, now.Add(-time.Hour))
	seed(t, st, store.LogTypeScreenCapture, now.Add(-2*24*time.Hour))
	seed(t, st, store.LogTypeScreenCapture, now.Add(-30*24*time.Hour))
	seed(t, st, store.LogTypeSummary10Min, now.Add(-time.Hour))
	seed(t, st, store.LogTypeSummary1Hour, now.Add(-time.Hour))

	_, err := st.CreateKnowledgeItem(context.Background(), &store.KnowledgeItem{
		ID:     shortuuid.New(),
		UserID: 1,
		Title:  "Notes",
	})
	require.NoError(t, err)

	stats, err := NewCollector(st).Collect(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.TotalCaptures)
	require.Equal(t, int64(1), stats.CapturesLastDay)
	require.Equal(t, int64(2), stats.CapturesLastWeek)
	require.Equal(t, int64(1), stats.DigestsByInterval["summary_10min"])
	require.Equal(t, int64(1), stats.DigestsByInterval["summary_1hour"])
	require.Equal(t, int64(0), stats.DigestsByInterval["summary_24hour"])
	require.Equal(t, int64(1), stats.KnowledgeItems)
	require.NotNil(t, stats.LastCaptureAt)
}

func TestCollectCountsBeyondListingLimit(t *testing.T) {
	st, _ := storetest.NewTestingStore(t)
	now := time.Now().UTC()

	for i := 0; i < 150; i++ {
		seed(t, st, store.LogTypeScreenCapture, now.Add(-time.Duration(i)*time.Minute))
	}

	stats, err := NewCollector(st).Collect(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int64(150), stats.TotalCaptures)
	require.Equal(t, int64(150), stats.CapturesLastDay)
	require.Equal(t, int64(150), stats.CapturesLastWeek)
	require.NotNil(t, stats.LastCaptureAt)
	require.WithinDuration(t, now, *stats.LastCaptureAt, time.Second)
}

func TestCollectEmpty(t *testing.T) {
	st, _ := storetest.NewTestingStore(t)

	stats, err := NewCollector(st).Collect(context.Background(), 1)
	require.NoError(t, err)
	require.Zero(t, stats.TotalCaptures)
	require.Nil(t, stats.LastCaptureAt)
}
