package v1

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid/v4"

	"github.com/retracehq/retrace/store"
)

type subscriptionPayload struct {
	ID        string `json:"id"`
	Endpoint  string `json:"endpoint"`
	CreatedTs int64  `json:"created_ts"`
}

type createSubscriptionRequest struct {
	Endpoint string `json:"endpoint"`
	Secret   string `json:"secret"`
}

// createSubscription registers a webhook endpoint for digests and analysis
// notifications.
func (s *APIV1Service) createSubscription(c echo.Context) error {
	userID, err := mustUserID(c)
	if err != nil {
		return err
	}

	var req createSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	req.Endpoint = strings.TrimSpace(req.Endpoint)
	parsed, err := url.Parse(req.Endpoint)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "endpoint must be an absolute http(s) URL")
	}

	sub, err := s.Store.CreatePushSubscription(c.Request().Context(), &store.PushSubscription{
		ID:       shortuuid.New(),
		UserID:   userID,
		Endpoint: req.Endpoint,
		Secret:   req.Secret,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusCreated, subscriptionPayload{
		ID:        sub.ID,
		Endpoint:  sub.Endpoint,
		CreatedTs: sub.CreatedTs,
	})
}

func (s *APIV1Service) listSubscriptions(c echo.Context) error {
	userID, err := mustUserID(c)
	if err != nil {
		return err
	}

	subs, err := s.Store.ListPushSubscriptions(c.Request().Context(), &store.FindPushSubscription{UserID: &userID})
	if err != nil {
		return toHTTPError(err)
	}

	payload := make([]*subscriptionPayload, len(subs))
	for i, sub := range subs {
		payload[i] = &subscriptionPayload{
			ID:        sub.ID,
			Endpoint:  sub.Endpoint,
			CreatedTs: sub.CreatedTs,
		}
	}
	return c.JSON(http.StatusOK, payload)
}

func (s *APIV1Service) deleteSubscription(c echo.Context) error {
	userID, err := mustUserID(c)
	if err != nil {
		return err
	}

	id := c.Param("id")
	subs, err := s.Store.ListPushSubscriptions(c.Request().Context(), &store.FindPushSubscription{
		ID:     &id,
		UserID: &userID,
	})
	if err != nil {
		return toHTTPError(err)
	}
	if len(subs) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "subscription not found")
	}

	if err := s.Store.DeletePushSubscription(c.Request().Context(), id); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
