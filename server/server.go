// Package server assembles the HTTP surface and the background runners.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/retracehq/retrace/internal/objectstore"
	"github.com/retracehq/retrace/internal/profile"
	"github.com/retracehq/retrace/plugin/ai"
	"github.com/retracehq/retrace/server/aggregator"
	serverai "github.com/retracehq/retrace/server/ai"
	"github.com/retracehq/retrace/server/internal/observability"
	"github.com/retracehq/retrace/server/interpreter"
	"github.com/retracehq/retrace/server/notifier"
	apiv1 "github.com/retracehq/retrace/server/router/api/v1"
	"github.com/retracehq/retrace/server/runner/compaction"
	"github.com/retracehq/retrace/server/runner/embedding"
	"github.com/retracehq/retrace/server/search"
	"github.com/retracehq/retrace/store"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	scheduler  *aggregator.Scheduler
	embedding  *embedding.Runner
	compaction *compaction.Runner
}

// NewServer wires the full service graph: AI provider, interpreter,
// aggregator, search engine, notifier and runners.
func NewServer(ctx context.Context, p *profile.Profile, st *store.Store) (*Server, error) {
	metrics := observability.NewMetrics()

	providerConfig := ai.ConfigFromProfile(p)
	providerConfig.Observer = metrics.ObserveModelCall
	provider, err := ai.NewProvider(providerConfig)
	if err != nil {
		return nil, err
	}

	objects, err := objectstore.NewLocalDisk(p.Data, fmt.Sprintf("http://%s:%d/captures", p.Addr, p.Port))
	if err != nil {
		return nil, err
	}
	embedder := serverai.NewEmbedder(provider, st)
	analyzer := interpreter.NewService(interpreter.New(provider, st.AnalysisCache()), embedder, st)
	agg := aggregator.New(provider, embedder, st)
	engine := search.New(embedder, st, p.SimilarityThreshold)
	dispatcher := notifier.NewDispatcher(notifier.NewWebhook(p.WebhookTimeout), st)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		var body any = map[string]string{"error": err.Error()}
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				body = he.Message
				if msg, ok := he.Message.(string); ok {
					body = map[string]string{"error": msg}
				}
			}
		}
		if code >= http.StatusInternalServerError {
			slog.Error("request failed", "method", c.Request().Method, "path", c.Request().URL.Path, "error", err)
		}
		if !c.Response().Committed {
			_ = c.JSON(code, body)
		}
	}

	e.GET("/healthz", func(c echo.Context) error {
		if err := st.GetDriver().GetDB().PingContext(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))
	e.Static("/captures", p.Data)

	apiService := apiv1.NewAPIV1Service(p, st, analyzer, agg, engine, embedder, dispatcher, objects, metrics)
	apiService.Register(e.Group("/api/v1"))

	return &Server{
		Profile:    p,
		Store:      st,
		echoServer: e,
		scheduler:  aggregator.NewScheduler(agg, dispatcher, st, nil),
		embedding:  embedding.NewRunner(st, embedder),
		compaction: compaction.NewRunner(st),
	}, nil
}

// Start launches the background runners and begins serving. It returns
// once the listener is up or fails to bind.
func (s *Server) Start(ctx context.Context) error {
	go s.scheduler.Run(ctx)
	go s.embedding.Run(ctx)
	go s.compaction.Run(ctx)

	addr := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	slog.Info("server listening", "addr", addr, "mode", s.Profile.Mode)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echoServer.Start(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(200 * time.Millisecond):
		return nil
	}
}

// Shutdown drains in-flight requests and closes the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shut down server", "error", err)
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
	slog.Info("server stopped")
}
