// Package interpreter turns screen captures into activity log entries. A
// vision model produces a factual description of the frame, which is then
// persisted as a leaf log with derived tags and an embedding.
package interpreter

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/retracehq/retrace/internal/errors"
	"github.com/retracehq/retrace/plugin/ai"
	serverai "github.com/retracehq/retrace/server/ai"
	"github.com/retracehq/retrace/server/internal/observability"
	"github.com/retracehq/retrace/store"
	"github.com/retracehq/retrace/store/cache"
)

// placeholderDescription is returned when a capture arrives without image
// data. This is a deliberate no-op path, not an error: the client may poll
// before the first frame is available.
const placeholderDescription = "Waiting for the first screen capture."

const analysisCacheTTL = 15 * time.Minute

// Interpreter describes a single screen capture.
type Interpreter struct {
	vision ai.VisionService
	cache  *cache.Cache
}

// New creates an interpreter. The cache may be nil, in which case every
// frame goes to the vision model.
func New(vision ai.VisionService, analysisCache *cache.Cache) *Interpreter {
	return &Interpreter{
		vision: vision,
		cache:  analysisCache,
	}
}

// Interpret returns a factual description of the captured frame. A missing
// image yields the placeholder description without calling the model.
// Identical frames are served from the analysis cache.
func (i *Interpreter) Interpret(ctx context.Context, image []byte, contentType string) (string, error) {
	if len(image) == 0 {
		return placeholderDescription, nil
	}

	key := imageCacheKey(image)
	if i.cache != nil {
		if cached, ok := i.cache.Get(key); ok {
			return string(cached), nil
		}
	}

	description, err := i.vision.DescribeImage(ctx, image, contentType)
	if err != nil {
		return "", err
	}

	if i.cache != nil {
		i.cache.Set(key, []byte(description), analysisCacheTTL)
	}
	return description, nil
}

func imageCacheKey(image []byte) string {
	h := fnv.New64a()
	_, _ = h.Write(image)
	return fmt.Sprintf("analysis:%x", h.Sum64())
}

// AnalyzeRequest is a single capture to analyze and persist.
type AnalyzeRequest struct {
	UserID      int32
	Image       []byte
	ContentType string
	CapturedAt  time.Time
	// Details carries structured context from the client, such as the
	// active application or window title.
	Details map[string]any
}

// AnalyzeResult is the outcome of one capture analysis.
type AnalyzeResult struct {
	Log         *store.ActivityLog
	Description string
	// PersistenceErr is set when the model call succeeded but the log
	// could not be stored. The description is still valid.
	PersistenceErr error
}

// Service orchestrates describe, persist and embed for incoming captures.
type Service struct {
	interpreter *Interpreter
	embedder    *serverai.Embedder
	store       *store.Store
}

// NewService creates a capture analysis service.
func NewService(interpreter *Interpreter, embedder *serverai.Embedder, st *store.Store) *Service {
	return &Service{
		interpreter: interpreter,
		embedder:    embedder,
		store:       st,
	}
}

// Analyze describes the capture and persists it as a leaf activity log.
// When persistence fails after a successful model call, the description is
// still returned with PersistenceErr set rather than being discarded.
func (s *Service) Analyze(ctx context.Context, req *AnalyzeRequest) (*AnalyzeResult, error) {
	description, err := s.interpreter.Interpret(ctx, req.Image, req.ContentType)
	if err != nil {
		return nil, err
	}

	capturedAt := req.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	summary := description
	log := &store.ActivityLog{
		ID:        shortuuid.New(),
		UserID:    req.UserID,
		Type:      store.LogTypeScreenCapture,
		StartedAt: capturedAt,
		EndedAt:   capturedAt,
		Summary:   &summary,
		Details:   req.Details,
		Tags:      serverai.DeriveTags(description),
	}

	created, err := s.store.CreateActivityLog(ctx, log)
	if err != nil {
		slog.Error("failed to persist capture analysis", "user", req.UserID, "error", err)
		return &AnalyzeResult{
			Description:    description,
			PersistenceErr: errors.Storage("failed to persist capture analysis", err),
		}, nil
	}

	// Embedding is best effort here. The backfill runner picks up any log
	// left without one.
	if err := s.embedder.EmbedLog(ctx, created); err != nil {
		if rc, ok := observability.FromContext(ctx); ok {
			rc.Warn("failed to embed capture analysis", slog.String("log", created.ID))
		} else {
			slog.Warn("failed to embed capture analysis", "log", created.ID, "error", err)
		}
	}

	return &AnalyzeResult{Log: created, Description: description}, nil
}
