package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/stretchr/testify/require"

	"github.com/retracehq/retrace/store"
	storetest "github.com/retracehq/retrace/store/test"
)

func TestWebhookNotify(t *testing.T) {
	var gotSecret string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get("X-Retrace-Secret")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	webhook := NewWebhook(time.Second)
	err := webhook.Notify(context.Background(), &store.PushSubscription{
		Endpoint: srv.URL,
		Secret:   "shared",
	}, "Activity digest (10min)", "Worked on the parser.")
	require.NoError(t, err)
	require.Equal(t, "shared", gotSecret)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	require.Equal(t, "Activity digest (10min)", payload["title"])
	require.Equal(t, "Worked on the parser.", payload["body"])
	require.NotZero(t, payload["sent_at"])
}

func TestWebhookNotifyErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	webhook := NewWebhook(time.Second)
	err := webhook.Notify(context.Background(), &store.PushSubscription{Endpoint: srv.URL}, "t", "b")
	require.Error(t, err)
}

func TestDispatchSwallowsFailures(t *testing.T) {
	st, _ := storetest.NewTestingStore(t)

	delivered := 0
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered++
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	for _, endpoint := range []string{bad.URL, good.URL} {
		_, err := st.CreatePushSubscription(context.Background(), &store.PushSubscription{
			ID:       shortuuid.New(),
			UserID:   1,
			Endpoint: endpoint,
		})
		require.NoError(t, err)
	}

	dispatcher := NewDispatcher(NewWebhook(time.Second), st)
	// Must not panic or error out even with a failing endpoint.
	dispatcher.Dispatch(context.Background(), 1, "title", "body")
	require.Equal(t, 1, delivered)
}
