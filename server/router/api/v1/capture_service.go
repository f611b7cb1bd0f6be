package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/retracehq/retrace/server/internal/observability"
	"github.com/retracehq/retrace/server/interpreter"
)

// Background analyses get their own deadline since the request context
// dies with the response.
const backgroundAnalyzeTimeout = 2 * time.Minute

const maxImageBytes = 10 << 20

type analyzeResponse struct {
	Status          string         `json:"status"`
	SubmissionID    string         `json:"submission_id,omitempty"`
	LogID           string         `json:"log_id,omitempty"`
	Description     string         `json:"description,omitempty"`
	EmbeddingStored bool           `json:"embedding_stored"`
	PersistenceErr  string         `json:"persistence_error,omitempty"`
	Details         map[string]any `json:"details,omitempty"`
}

// analyzeCapture accepts a multipart screenshot upload. The default path
// stores the raw image, responds 202 and analyzes in the background; the
// client learns the outcome from the log listing or a push notification.
// sync=true runs the full pipeline inline.
func (s *APIV1Service) analyzeCapture(c echo.Context) error {
	userID, err := mustUserID(c)
	if err != nil {
		return err
	}

	image, contentType, err := readImageFile(c)
	if err != nil {
		return err
	}

	capturedAt := time.Now().UTC()
	if raw := c.FormValue("captured_at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "captured_at must be RFC 3339")
		}
		capturedAt = parsed.UTC()
	}

	details := map[string]any{}
	if raw := c.FormValue("details"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &details); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "details must be a JSON object")
		}
	}

	// The raw capture is preserved before any model work so a failed
	// analysis never loses the frame.
	if len(image) > 0 && s.Objects != nil {
		path := fmt.Sprintf("%d/%s/%s", userID, capturedAt.Format("2006-01-02"), uuid.New().String())
		if err := s.Objects.Put(c.Request().Context(), path, image, contentType); err != nil {
			slog.Warn("failed to store raw capture", "user", userID, "error", err)
		} else {
			details["capture_url"] = s.Objects.PublicURL(path)
		}
	}

	req := &interpreter.AnalyzeRequest{
		UserID:      userID,
		Image:       image,
		ContentType: contentType,
		CapturedAt:  capturedAt,
		Details:     details,
	}

	if c.QueryParam("sync") == "true" {
		return s.analyzeSync(c, req)
	}

	submissionID := uuid.New().String()
	if err := s.analyzeSemaphore.Acquire(c.Request().Context(), 1); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "analysis queue unavailable")
	}
	go func() {
		defer s.analyzeSemaphore.Release(1)
		ctx, cancel := context.WithTimeout(context.Background(), backgroundAnalyzeTimeout)
		defer cancel()
		s.analyzeBackground(ctx, req, submissionID)
	}()

	return c.JSON(http.StatusAccepted, analyzeResponse{
		Status:       "accepted",
		SubmissionID: submissionID,
	})
}

func (s *APIV1Service) analyzeSync(c echo.Context, req *interpreter.AnalyzeRequest) error {
	result, err := s.Analyzer.Analyze(c.Request().Context(), req)
	if err != nil {
		s.Metrics.RecordAnalysis("model_error")
		return toHTTPError(err)
	}

	resp := analyzeResponse{
		Status:      "done",
		Description: result.Description,
	}
	if result.Log != nil {
		resp.LogID = result.Log.ID
		resp.EmbeddingStored = len(result.Log.Embedding) > 0
		resp.Details = result.Log.Details
	}
	if result.PersistenceErr != nil {
		resp.Status = "persistence_failed"
		resp.PersistenceErr = result.PersistenceErr.Error()
		s.Metrics.RecordAnalysis("storage_error")
	} else {
		s.Metrics.RecordAnalysis("ok")
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *APIV1Service) analyzeBackground(ctx context.Context, req *interpreter.AnalyzeRequest, submissionID string) {
	rc := observability.NewRequestContext(slog.Default(), "capture.analyze", req.UserID)
	ctx = observability.WithRequestContext(ctx, rc)

	result, err := s.Analyzer.Analyze(ctx, req)
	if err != nil {
		s.Metrics.RecordAnalysis("model_error")
		rc.Error("background analysis failed", err, slog.String("submission", submissionID))
		return
	}
	if result.PersistenceErr != nil {
		s.Metrics.RecordAnalysis("storage_error")
		rc.Error("background analysis not persisted", result.PersistenceErr, slog.String("submission", submissionID))
		return
	}
	s.Metrics.RecordAnalysis("ok")
	rc.Info("background analysis complete",
		slog.String("submission", submissionID),
		slog.Int64(observability.LogFieldDuration, rc.DurationMs()))

	if s.Dispatcher != nil {
		s.Dispatcher.Dispatch(ctx, req.UserID, "Capture analyzed", result.Description)
	}
}

// readImageFile reads the optional multipart image field. A request without
// an image is valid: the interpreter answers with a placeholder.
func readImageFile(c echo.Context) ([]byte, string, error) {
	fileHeader, err := c.FormFile("image")
	if err != nil {
		if err == http.ErrMissingFile || err == multipart.ErrMessageTooLarge {
			return nil, "", nil
		}
		// echo surfaces a missing multipart part as a generic error too.
		return nil, "", nil
	}
	if fileHeader.Size > maxImageBytes {
		return nil, "", echo.NewHTTPError(http.StatusRequestEntityTooLarge, "image exceeds 10 MiB")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, "", echo.NewHTTPError(http.StatusBadRequest, "unreadable image upload")
	}
	defer file.Close()

	image, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		return nil, "", echo.NewHTTPError(http.StatusBadRequest, "unreadable image upload")
	}
	if len(image) > maxImageBytes {
		return nil, "", echo.NewHTTPError(http.StatusRequestEntityTooLarge, "image exceeds 10 MiB")
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return image, contentType, nil
}
