package v1

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid/v4"

	"github.com/retracehq/retrace/server/search"
	"github.com/retracehq/retrace/store"
)

type knowledgePayload struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	URL       string   `json:"url,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	CreatedTs int64    `json:"created_ts"`
}

type knowledgeSearchResult struct {
	Record     *knowledgePayload `json:"record"`
	Similarity float32           `json:"similarity"`
	SearchType string            `json:"search_type"`
	Snippet    string            `json:"snippet,omitempty"`
}

func toKnowledgePayload(item *store.KnowledgeItem) *knowledgePayload {
	return &knowledgePayload{
		ID:        item.ID,
		Title:     item.Title,
		Content:   item.Content,
		URL:       item.URL,
		Tags:      item.Tags,
		CreatedTs: item.CreatedTs,
	}
}

type createKnowledgeRequest struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	URL     string   `json:"url"`
	Tags    []string `json:"tags"`
}

// createKnowledgeItem stores a reference entry and embeds it immediately
// so it is searchable right away.
func (s *APIV1Service) createKnowledgeItem(c echo.Context) error {
	userID, err := mustUserID(c)
	if err != nil {
		return err
	}

	var req createKnowledgeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Content = strings.TrimSpace(req.Content)
	if req.Title == "" && req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title or content is required")
	}

	item, err := s.Store.CreateKnowledgeItem(c.Request().Context(), &store.KnowledgeItem{
		ID:      shortuuid.New(),
		UserID:  userID,
		Title:   req.Title,
		Content: req.Content,
		URL:     strings.TrimSpace(req.URL),
		Tags:    req.Tags,
	})
	if err != nil {
		return toHTTPError(err)
	}

	if err := s.Embedder.EmbedKnowledgeItem(c.Request().Context(), item); err != nil {
		slog.Warn("failed to embed knowledge item", "item", item.ID, "error", err)
	}

	return c.JSON(http.StatusCreated, toKnowledgePayload(item))
}

func (s *APIV1Service) listKnowledgeItems(c echo.Context) error {
	userID, err := mustUserID(c)
	if err != nil {
		return err
	}

	limit := 20
	items, err := s.Store.ListKnowledgeItems(c.Request().Context(), &store.FindKnowledgeItem{
		UserID: &userID,
		Limit:  &limit,
	})
	if err != nil {
		return toHTTPError(err)
	}

	payload := make([]*knowledgePayload, len(items))
	for i, item := range items {
		payload[i] = toKnowledgePayload(item)
	}
	return c.JSON(http.StatusOK, payload)
}

func (s *APIV1Service) searchKnowledge(c echo.Context) error {
	userID, err := mustUserID(c)
	if err != nil {
		return err
	}
	req, err := s.searchRequest(c, userID)
	if err != nil {
		return err
	}

	results, err := s.Search.SearchKnowledge(c.Request().Context(), req)
	if err != nil {
		return toHTTPError(err)
	}

	kind := search.KindListing
	payload := make([]*knowledgeSearchResult, len(results))
	for i, r := range results {
		kind = r.Kind
		payload[i] = &knowledgeSearchResult{
			Record:     toKnowledgePayload(r.Item),
			Similarity: r.Similarity,
			SearchType: string(r.Kind),
			Snippet:    r.Snippet,
		}
	}
	s.Metrics.RecordSearch(string(kind))
	return c.JSON(http.StatusOK, payload)
}

func (s *APIV1Service) deleteKnowledgeItem(c echo.Context) error {
	userID, err := mustUserID(c)
	if err != nil {
		return err
	}

	id := c.Param("id")
	item, err := s.Store.GetKnowledgeItem(c.Request().Context(), &store.FindKnowledgeItem{
		ID:     &id,
		UserID: &userID,
	})
	if err != nil {
		return toHTTPError(err)
	}
	if item == nil {
		return echo.NewHTTPError(http.StatusNotFound, "knowledge item not found")
	}

	if err := s.Store.DeleteKnowledgeItem(c.Request().Context(), id); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
