package v1

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/retracehq/retrace/internal/errors"
	"github.com/retracehq/retrace/server/aggregator"
)

type aggregateRequest struct {
	Interval string `json:"interval"`
	EndTime  string `json:"end_time"`
}

type timeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type aggregateResponse struct {
	Summary     string    `json:"summary"`
	SourceCount int       `json:"source_count"`
	TimeRange   timeRange `json:"time_range"`
	LogID       string    `json:"log_id"`
}

type aggregateError struct {
	Error string `json:"error"`
}

// aggregate consolidates one window on demand. Failures come back as a
// reason string: no_data is a normal outcome, the other two are faults.
func (s *APIV1Service) aggregate(c echo.Context) error {
	userID, err := mustUserID(c)
	if err != nil {
		return err
	}

	var req aggregateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	interval, err := aggregator.ParseInterval(req.Interval)
	if err != nil {
		return toHTTPError(err)
	}

	endTime := time.Now().UTC()
	if req.EndTime != "" {
		parsed, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "end_time must be RFC 3339")
		}
		endTime = parsed.UTC()
	}

	digest, err := s.Aggregator.Aggregate(c.Request().Context(), userID, interval, endTime)
	if err != nil {
		switch errors.CodeOf(err, errors.ErrCodeStorage) {
		case errors.ErrCodeNoData:
			s.Metrics.RecordAggregation(string(interval), "no_data")
			return c.JSON(http.StatusOK, aggregateError{Error: "no_data"})
		case errors.ErrCodeModel:
			s.Metrics.RecordAggregation(string(interval), "model_error")
			return c.JSON(http.StatusBadGateway, aggregateError{Error: "model_error"})
		default:
			s.Metrics.RecordAggregation(string(interval), "storage_error")
			return c.JSON(http.StatusInternalServerError, aggregateError{Error: "storage_error"})
		}
	}

	s.Metrics.RecordAggregation(string(interval), "ok")
	sourceCount := len(digest.SourceLogIDs)
	return c.JSON(http.StatusOK, aggregateResponse{
		Summary:     *digest.Summary,
		SourceCount: sourceCount,
		TimeRange: timeRange{
			Start: digest.StartedAt.UTC().Format(time.RFC3339),
			End:   digest.EndedAt.UTC().Format(time.RFC3339),
		},
		LogID: digest.ID,
	})
}
