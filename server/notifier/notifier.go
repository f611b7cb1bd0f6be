// Package notifier delivers push notifications to user-registered webhook
// endpoints. Delivery is strictly best effort: failures are logged and
// swallowed, and never affect the operation that triggered them.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/retracehq/retrace/store"
)

// Notifier sends one notification to one subscription endpoint.
type Notifier interface {
	Notify(ctx context.Context, sub *store.PushSubscription, title, body string) error
}

// Webhook posts notifications as JSON to the subscription endpoint. The
// shared secret is echoed in a header so the receiver can authenticate us.
type Webhook struct {
	client *http.Client
}

// NewWebhook creates a webhook notifier with the given request timeout.
func NewWebhook(timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{client: &http.Client{Timeout: timeout}}
}

type webhookPayload struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	SentAt int64  `json:"sent_at"`
}

func (w *Webhook) Notify(ctx context.Context, sub *store.PushSubscription, title, body string) error {
	payload, err := json.Marshal(webhookPayload{
		Title:  title,
		Body:   body,
		SentAt: time.Now().Unix(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if sub.Secret != "" {
		req.Header.Set("X-Retrace-Secret", sub.Secret)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// StatusError reports a non-2xx webhook response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return http.StatusText(e.Code)
}

// Dispatcher fans a notification out to every subscription of a user.
type Dispatcher struct {
	notifier Notifier
	store    *store.Store
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(n Notifier, st *store.Store) *Dispatcher {
	return &Dispatcher{notifier: n, store: st}
}

// Dispatch sends to all of the user's subscriptions. Errors are logged per
// endpoint and never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, userID int32, title, body string) {
	subs, err := d.store.ListPushSubscriptions(ctx, &store.FindPushSubscription{UserID: &userID})
	if err != nil {
		slog.Warn("failed to list push subscriptions", "user", userID, "error", err)
		return
	}
	for _, sub := range subs {
		if err := d.notifier.Notify(ctx, sub, title, body); err != nil {
			slog.Warn("push notification failed", "user", userID, "endpoint", sub.Endpoint, "error", err)
		}
	}
}
