package v1

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/retracehq/retrace/server/search"
	"github.com/retracehq/retrace/store"
)

type logPayload struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Summary    string         `json:"summary"`
	Details    map[string]any `json:"details,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	SourceLogs []string       `json:"source_log_ids,omitempty"`
	StartedAt  string         `json:"started_at"`
	EndedAt    string         `json:"ended_at"`
	CreatedTs  int64          `json:"created_ts"`
}

type logSearchResult struct {
	Record     *logPayload `json:"record"`
	Similarity float32     `json:"similarity"`
	SearchType string      `json:"search_type"`
	Snippet    string      `json:"snippet,omitempty"`
}

func toLogPayload(log *store.ActivityLog) *logPayload {
	summary := ""
	if log.Summary != nil {
		summary = *log.Summary
	}
	return &logPayload{
		ID:         log.ID,
		Type:       string(log.Type),
		Summary:    summary,
		Details:    log.Details,
		Tags:       log.Tags,
		SourceLogs: log.SourceLogIDs,
		StartedAt:  log.StartedAt.UTC().Format(time.RFC3339),
		EndedAt:    log.EndedAt.UTC().Format(time.RFC3339),
		CreatedTs:  log.CreatedTs,
	}
}

func (s *APIV1Service) searchRequest(c echo.Context, userID int32) (*search.Request, error) {
	req := &search.Request{
		UserID: userID,
		Query:  c.QueryParam("query"),
	}
	if raw := c.QueryParam("tags"); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.ToLower(strings.TrimSpace(tag)); tag != "" {
				req.Tags = append(req.Tags, tag)
			}
		}
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > 100 {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "limit must be in [1, 100]")
		}
		req.Limit = limit
	}
	if raw := c.QueryParam("threshold"); raw != "" {
		threshold, err := strconv.ParseFloat(raw, 32)
		if err != nil || threshold < 0 || threshold > 1 {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "threshold must be in [0, 1]")
		}
		req.Threshold = float32(threshold)
	}
	return req, nil
}

// searchLogs answers "what was I doing" queries.
func (s *APIV1Service) searchLogs(c echo.Context) error {
	userID, err := mustUserID(c)
	if err != nil {
		return err
	}
	req, err := s.searchRequest(c, userID)
	if err != nil {
		return err
	}

	results, err := s.Search.SearchLogs(c.Request().Context(), req)
	if err != nil {
		return toHTTPError(err)
	}

	kind := search.KindListing
	payload := make([]*logSearchResult, len(results))
	for i, r := range results {
		kind = r.Kind
		payload[i] = &logSearchResult{
			Record:     toLogPayload(r.Log),
			Similarity: r.Similarity,
			SearchType: string(r.Kind),
			Snippet:    r.Snippet,
		}
	}
	s.Metrics.RecordSearch(string(kind))
	return c.JSON(http.StatusOK, payload)
}

// listLogs returns recent logs, optionally filtered by type and tags.
func (s *APIV1Service) listLogs(c echo.Context) error {
	userID, err := mustUserID(c)
	if err != nil {
		return err
	}

	find := &store.FindActivityLog{UserID: &userID}
	if raw := c.QueryParam("type"); raw != "" {
		logType := store.LogType(raw)
		switch logType {
		case store.LogTypeScreenCapture, store.LogTypeSummary10Min,
			store.LogTypeSummary1Hour, store.LogTypeSummary24Hour:
			find.Type = &logType
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "unknown log type")
		}
	}
	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be in [1, 100]")
		}
		limit = parsed
	}
	find.Limit = &limit

	logs, err := s.Store.ListActivityLogs(c.Request().Context(), find)
	if err != nil {
		return toHTTPError(err)
	}

	payload := make([]*logPayload, len(logs))
	for i, log := range logs {
		log.Embedding = nil
		payload[i] = toLogPayload(log)
	}
	return c.JSON(http.StatusOK, payload)
}
