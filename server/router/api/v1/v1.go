// Package v1 exposes the HTTP API. Handlers are thin: they parse and
// validate input, call the service layer and translate typed errors into
// HTTP status codes with machine-readable bodies.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/semaphore"

	"github.com/retracehq/retrace/internal/errors"
	"github.com/retracehq/retrace/internal/objectstore"
	"github.com/retracehq/retrace/internal/profile"
	"github.com/retracehq/retrace/server/aggregator"
	serverai "github.com/retracehq/retrace/server/ai"
	"github.com/retracehq/retrace/server/internal/observability"
	"github.com/retracehq/retrace/server/interpreter"
	"github.com/retracehq/retrace/server/middleware"
	"github.com/retracehq/retrace/server/notifier"
	"github.com/retracehq/retrace/server/search"
	"github.com/retracehq/retrace/server/stats"
	"github.com/retracehq/retrace/store"
)

type APIV1Service struct {
	Secret  string
	Profile *profile.Profile
	Store   *store.Store

	Analyzer   *interpreter.Service
	Aggregator *aggregator.Aggregator
	Search     *search.Engine
	Embedder   *serverai.Embedder
	Dispatcher *notifier.Dispatcher
	Objects    objectstore.Store
	Metrics    *observability.Metrics
	Stats      *stats.Collector

	// analyzeSemaphore bounds concurrent background analyses so a burst of
	// captures cannot exhaust provider quota or memory.
	analyzeSemaphore *semaphore.Weighted
}

func NewAPIV1Service(
	p *profile.Profile,
	st *store.Store,
	analyzer *interpreter.Service,
	agg *aggregator.Aggregator,
	engine *search.Engine,
	embedder *serverai.Embedder,
	dispatcher *notifier.Dispatcher,
	objects objectstore.Store,
	metrics *observability.Metrics,
) *APIV1Service {
	return &APIV1Service{
		Secret:           p.JWTSecret,
		Profile:          p,
		Store:            st,
		Analyzer:         analyzer,
		Aggregator:       agg,
		Search:           engine,
		Embedder:         embedder,
		Dispatcher:       dispatcher,
		Objects:          objects,
		Metrics:          metrics,
		Stats:            stats.NewCollector(st),
		analyzeSemaphore: semaphore.NewWeighted(4),
	}
}

// Register mounts all v1 routes on the group.
func (s *APIV1Service) Register(g *echo.Group) {
	g.Use(middleware.Auth(s.Secret))
	g.Use(middleware.NewRateLimiter().Middleware())

	g.POST("/capture/analyze", s.analyzeCapture)
	g.POST("/aggregate", s.aggregate)
	g.GET("/logs", s.listLogs)
	g.GET("/logs/search", s.searchLogs)

	g.POST("/knowledge", s.createKnowledgeItem)
	g.GET("/knowledge", s.listKnowledgeItems)
	g.GET("/knowledge/search", s.searchKnowledge)
	g.DELETE("/knowledge/:id", s.deleteKnowledgeItem)

	g.POST("/notifications/subscriptions", s.createSubscription)
	g.GET("/notifications/subscriptions", s.listSubscriptions)
	g.DELETE("/notifications/subscriptions/:id", s.deleteSubscription)

	g.GET("/stats", s.getStats)
}

func (s *APIV1Service) getStats(c echo.Context) error {
	userID, err := mustUserID(c)
	if err != nil {
		return err
	}
	summary, err := s.Stats.Collect(c.Request().Context(), userID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, summary)
}

// errorBody is the machine-readable error response shape.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// toHTTPError maps typed service errors to HTTP responses.
func toHTTPError(err error) *echo.HTTPError {
	code := errors.CodeOf(err, errors.ErrCodeStorage)
	status := http.StatusInternalServerError
	switch code {
	case errors.ErrCodeInvalidArgument, errors.ErrCodeEmptyInput:
		status = http.StatusBadRequest
	case errors.ErrCodeNoData:
		status = http.StatusNotFound
	case errors.ErrCodeModel, errors.ErrCodeSearch:
		status = http.StatusBadGateway
	case errors.ErrCodeConfig:
		status = http.StatusServiceUnavailable
	}
	return echo.NewHTTPError(status, errorBody{Code: string(code), Message: err.Error()})
}

func mustUserID(c echo.Context) (int32, error) {
	userID, ok := middleware.UserIDFrom(c)
	if !ok {
		return 0, echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	return userID, nil
}
