package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid/v4"
	"github.com/stretchr/testify/require"

	"github.com/retracehq/retrace/internal/errors"
	"github.com/retracehq/retrace/internal/profile"
	"github.com/retracehq/retrace/server/aggregator"
	serverai "github.com/retracehq/retrace/server/ai"
	"github.com/retracehq/retrace/server/internal/observability"
	"github.com/retracehq/retrace/server/interpreter"
	"github.com/retracehq/retrace/server/middleware"
	"github.com/retracehq/retrace/server/search"
	"github.com/retracehq/retrace/store"
	storetest "github.com/retracehq/retrace/store/test"
)

type fakeProvider struct {
	description string
	summary     string
	vector      []float32
	err         error
}

func (f *fakeProvider) DescribeImage(ctx context.Context, image []byte, contentType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.description, nil
}

func (f *fakeProvider) Describe(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.summary, nil
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

func (f *fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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

func (f *fakeProvider) Dimensions() int { return len(f.vector) }

type testEnv struct {
	echo    *echo.Echo
	store   *store.Store
	driver  *storetest.Driver
	token   string
	service *APIV1Service
}

func newTestEnv(t *testing.T, provider *fakeProvider) *testEnv {
	t.Helper()
	st, driver := storetest.NewTestingStore(t)
	p := &profile.Profile{
		Mode:                "dev",
		JWTSecret:           "test-secret",
		SimilarityThreshold: 0.5,
	}

	embedder := serverai.NewEmbedder(provider, st)
	analyzer := interpreter.NewService(interpreter.New(provider, nil), embedder, st)
	agg := aggregator.New(provider, embedder, st)
	engine := search.New(embedder, st, p.SimilarityThreshold)
	service := NewAPIV1Service(p, st, analyzer, agg, engine, embedder, nil, nil, observability.NewMetrics())

	e := echo.New()
	service.Register(e.Group("/api/v1"))

	token, err := middleware.SignToken(p.JWTSecret, 1, time.Hour)
	require.NoError(t, err)

	return &testEnv{echo: e, store: st, driver: driver, token: token, service: service}
}

func (env *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+env.token)
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	return rec
}

func multipartCapture(t *testing.T, image []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if image != nil {
		part, err := writer.CreateFormFile("image", "frame.png")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestAnalyzeRequiresAuth(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})
	body, contentType := multipartCapture(t, []byte("frame"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/capture/analyze", body)
	req.Header.Set(echo.HeaderContentType, contentType)

	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAnalyzeSync(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{
		description: "Editing a terraform plan.",
		vector:      []float32{0.1, 0.2},
	})

	body, contentType := multipartCapture(t, []byte("frame"), map[string]string{
		"captured_at": "2026-03-14T09:00:00Z",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/capture/analyze?sync=true", body)
	req.Header.Set(echo.HeaderContentType, contentType)

	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp analyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "done", resp.Status)
	require.Equal(t, "Editing a terraform plan.", resp.Description)
	require.NotEmpty(t, resp.LogID)
	require.True(t, resp.EmbeddingStored)

	stored, err := env.store.GetActivityLog(context.Background(), &store.FindActivityLog{ID: &resp.LogID})
	require.NoError(t, err)
	require.Equal(t, store.LogTypeScreenCapture, stored.Type)
}

func TestAnalyzeAsyncAccepted(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{
		description: "Reading a changelog.",
		vector:      []float32{0.1},
	})

	body, contentType := multipartCapture(t, []byte("frame"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/capture/analyze", body)
	req.Header.Set(echo.HeaderContentType, contentType)

	rec := env.do(req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp analyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "accepted", resp.Status)
	require.NotEmpty(t, resp.SubmissionID)

	// The worker persists the log shortly after the response.
	require.Eventually(t, func() bool {
		return env.driver.LogCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAnalyzeSyncPersistenceFailure(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{
		description: "Filling out a timesheet.",
		vector:      []float32{0.1},
	})
	env.driver.CreateLogErr = errors.Storage("connection reset", nil)

	body, contentType := multipartCapture(t, []byte("frame"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/capture/analyze?sync=true", body)
	req.Header.Set(echo.HeaderContentType, contentType)

	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp analyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "persistence_failed", resp.Status)
	require.Equal(t, "Filling out a timesheet.", resp.Description)
	require.NotEmpty(t, resp.PersistenceErr)
}

func TestAnalyzeRejectsBadTimestamp(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})
	body, contentType := multipartCapture(t, []byte("frame"), map[string]string{
		"captured_at": "yesterday",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/capture/analyze?sync=true", body)
	req.Header.Set(echo.HeaderContentType, contentType)

	rec := env.do(req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func seedTestCapture(t *testing.T, env *testEnv, at time.Time, summary string) {
	t.Helper()
	_, err := env.store.CreateActivityLog(context.Background(), &store.ActivityLog{
		ID:        shortuuid.New(),
		UserID:    1,
		Type:      store.LogTypeScreenCapture,
		StartedAt: at,
		EndedAt:   at,
		Summary:   &summary,
	})
	require.NoError(t, err)
}

func TestAggregateSuccess(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{
		summary: "Worked through code review feedback.",
		vector:  []float32{0.3},
	})
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	seedTestCapture(t, env, base.Add(time.Minute), "Reading review comments.")
	seedTestCapture(t, env, base.Add(5*time.Minute), "Pushing fixes.")

	payload, _ := json.Marshal(map[string]string{
		"interval": "10min",
		"end_time": base.Add(10 * time.Minute).Format(time.RFC3339),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/aggregate", bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp aggregateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Worked through code review feedback.", resp.Summary)
	require.Equal(t, 2, resp.SourceCount)
	require.Equal(t, "2026-03-14T09:00:00Z", resp.TimeRange.Start)
	require.Equal(t, "2026-03-14T09:10:00Z", resp.TimeRange.End)
	require.NotEmpty(t, resp.LogID)
}

func TestAggregateNoData(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{summary: "unused"})

	payload, _ := json.Marshal(map[string]string{"interval": "10min"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/aggregate", bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"error":"no_data"}`, rec.Body.String())
}

func TestAggregateModelError(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{err: errors.Model("provider unavailable", nil)})
	seedTestCapture(t, env, time.Now().Add(-time.Minute), "Recent activity.")

	payload, _ := json.Marshal(map[string]string{"interval": "10min"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/aggregate", bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	rec := env.do(req)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.JSONEq(t, `{"error":"model_error"}`, rec.Body.String())
}

func TestAggregateRejectsUnknownInterval(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})

	payload, _ := json.Marshal(map[string]string{"interval": "5min"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/aggregate", bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	rec := env.do(req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchLogsListingWithoutQuery(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})
	seedTestCapture(t, env, time.Now(), "Drafting a proposal.")

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/logs/search", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var results []logSearchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	require.Equal(t, "listing", results[0].SearchType)
	require.Equal(t, "Drafting a proposal.", results[0].Record.Summary)
}

func TestSearchLogsTextFallback(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{err: errors.Model("provider unavailable", nil)})
	seedTestCapture(t, env, time.Now(), "Tuning the pomodoro timer settings.")

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/logs/search?query=pomodoro", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var results []logSearchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	require.Equal(t, "text", results[0].SearchType)
	require.InDelta(t, 0.5, float64(results[0].Similarity), 0.001)
}

func TestSearchLogsRejectsBadLimit(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})
	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/logs/search?limit=0", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/v1/logs/search?threshold=2", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKnowledgeLifecycle(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{vector: []float32{0.2, 0.8}})

	payload, _ := json.Marshal(map[string]any{
		"title":   "Retro notes",
		"content": "Keep the daily demos.",
		"tags":    []string{"process"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/knowledge", bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := env.do(req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created knowledgePayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/v1/knowledge", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []knowledgePayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/api/v1/knowledge/"+created.ID, nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/api/v1/knowledge/"+created.ID, nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestKnowledgeCreateRequiresContent(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})

	payload, _ := json.Marshal(map[string]string{"title": "  "})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/knowledge", bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	rec := env.do(req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubscriptionLifecycle(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})

	payload, _ := json.Marshal(map[string]string{
		"endpoint": "https://hooks.example.com/retrace",
		"secret":   "shared",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/subscriptions", bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := env.do(req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created subscriptionPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/v1/notifications/subscriptions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []subscriptionPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)

	rec = env.do(httptest.NewRequest(http.MethodDelete,
		fmt.Sprintf("/api/v1/notifications/subscriptions/%s", created.ID), nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSubscriptionRejectsBadEndpoint(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})

	payload, _ := json.Marshal(map[string]string{"endpoint": "not-a-url"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/subscriptions", bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	rec := env.do(req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
