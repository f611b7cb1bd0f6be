// Package search answers "what was I doing" queries over activity logs and
// knowledge items. Semantic search runs first and degrades to substring/tag
// matching whenever it fails or finds nothing, so a query never errors just
// because the embedding pipeline is down.
package search

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/retracehq/retrace/internal/errors"
	serverai "github.com/retracehq/retrace/server/ai"
	"github.com/retracehq/retrace/store"
)

// Kind reports which strategy produced a result.
type Kind string

const (
	// KindListing is a recency listing without a usable query.
	KindListing Kind = "listing"
	// KindSemantic is a vector similarity match.
	KindSemantic Kind = "semantic"
	// KindText is a substring or tag match from the fallback path.
	KindText Kind = "text"
)

// Queries shorter than this many characters are treated as absent.
const minQueryLength = 3

// Text fallback results carry this fixed similarity since no vector
// distance exists for them.
const textFallbackSimilarity = 0.5

const defaultLimit = 10

// LogResult is one activity log hit. Snippet is set on text matches only.
type LogResult struct {
	Kind       Kind               `json:"search_type"`
	Log        *store.ActivityLog `json:"record"`
	Similarity float32            `json:"similarity"`
	Snippet    string             `json:"snippet,omitempty"`
}

// KnowledgeResult is one knowledge item hit.
type KnowledgeResult struct {
	Kind       Kind                 `json:"search_type"`
	Item       *store.KnowledgeItem `json:"record"`
	Similarity float32              `json:"similarity"`
	Snippet    string               `json:"snippet,omitempty"`
}

// Request carries the common search parameters.
type Request struct {
	UserID int32
	Query  string
	Tags   []string
	Limit  int
	// Threshold overrides the configured similarity cutoff when positive.
	Threshold float32
}

// Engine executes hybrid searches.
type Engine struct {
	embedder  *serverai.Embedder
	store     *store.Store
	threshold float32
}

// New creates a search engine with the configured similarity threshold.
func New(embedder *serverai.Embedder, st *store.Store, threshold float32) *Engine {
	return &Engine{
		embedder:  embedder,
		store:     st,
		threshold: threshold,
	}
}

func (e *Engine) effectiveThreshold(req *Request) float32 {
	if req.Threshold > 0 {
		return req.Threshold
	}
	return e.threshold
}

func (e *Engine) effectiveLimit(req *Request) int {
	if req.Limit > 0 {
		return req.Limit
	}
	return defaultLimit
}

// hasQuery reports whether the query is long enough to search with. Short
// fragments match everything and are treated the same as no query.
func hasQuery(query string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(query)) >= minQueryLength
}

// SearchLogs searches activity logs. Without a usable query it lists the
// latest logs. Otherwise it tries semantic search and falls back to text
// matching on any semantic failure or empty result set.
func (e *Engine) SearchLogs(ctx context.Context, req *Request) ([]*LogResult, error) {
	limit := e.effectiveLimit(req)

	if !hasQuery(req.Query) {
		logs, err := e.store.ListActivityLogs(ctx, &store.FindActivityLog{
			UserID: &req.UserID,
			Tags:   req.Tags,
			Limit:  &limit,
		})
		if err != nil {
			return nil, errors.Search("failed to list activity logs", err)
		}
		results := make([]*LogResult, len(logs))
		for i, log := range logs {
			results[i] = &LogResult{Kind: KindListing, Log: scrubLog(log)}
		}
		return results, nil
	}

	if semantic := e.semanticLogs(ctx, req, limit); len(semantic) > 0 {
		return semantic, nil
	}

	logs, err := e.store.TextSearchLogs(ctx, &store.TextSearchLogsOptions{
		UserID: req.UserID,
		Query:  strings.TrimSpace(req.Query),
		Tags:   req.Tags,
		Limit:  limit,
	})
	if err != nil {
		return nil, errors.Search("text search failed", err)
	}
	results := make([]*LogResult, len(logs))
	for i, log := range logs {
		snippet := ""
		if log.Summary != nil {
			snippet = Snippet(*log.Summary, req.Query)
		}
		results[i] = &LogResult{Kind: KindText, Log: scrubLog(log), Similarity: textFallbackSimilarity, Snippet: snippet}
	}
	return results, nil
}

// semanticLogs returns nil on any failure. Semantic search is best effort
// while the text fallback is authoritative.
func (e *Engine) semanticLogs(ctx context.Context, req *Request, limit int) []*LogResult {
	vector, err := e.embedder.EmbedText(ctx, serverai.ComposeQueryText(req.Query))
	if err != nil {
		slog.Warn("query embedding failed, falling back to text search", "error", err)
		return nil
	}

	hits, err := e.store.VectorSearchLogs(ctx, &store.VectorSearchLogsOptions{
		UserID:    req.UserID,
		Vector:    vector,
		Threshold: e.effectiveThreshold(req),
		Limit:     limit,
	})
	if err != nil {
		slog.Warn("vector search failed, falling back to text search", "error", err)
		return nil
	}

	results := make([]*LogResult, 0, len(hits))
	for _, hit := range hits {
		if len(req.Tags) > 0 && !tagsOverlap(hit.Log.Tags, req.Tags) {
			continue
		}
		results = append(results, &LogResult{Kind: KindSemantic, Log: scrubLog(hit.Log), Similarity: hit.Score})
	}
	return results
}

// SearchKnowledge searches knowledge items with the same strategy as logs.
func (e *Engine) SearchKnowledge(ctx context.Context, req *Request) ([]*KnowledgeResult, error) {
	limit := e.effectiveLimit(req)

	if !hasQuery(req.Query) {
		items, err := e.store.ListKnowledgeItems(ctx, &store.FindKnowledgeItem{
			UserID: &req.UserID,
			Tags:   req.Tags,
			Limit:  &limit,
		})
		if err != nil {
			return nil, errors.Search("failed to list knowledge items", err)
		}
		results := make([]*KnowledgeResult, len(items))
		for i, item := range items {
			results[i] = &KnowledgeResult{Kind: KindListing, Item: scrubItem(item)}
		}
		return results, nil
	}

	if semantic := e.semanticKnowledge(ctx, req, limit); len(semantic) > 0 {
		return semantic, nil
	}

	items, err := e.store.TextSearchKnowledge(ctx, &store.TextSearchKnowledgeOptions{
		UserID: req.UserID,
		Query:  strings.TrimSpace(req.Query),
		Tags:   req.Tags,
		Limit:  limit,
	})
	if err != nil {
		return nil, errors.Search("text search failed", err)
	}
	results := make([]*KnowledgeResult, len(items))
	for i, item := range items {
		results[i] = &KnowledgeResult{Kind: KindText, Item: scrubItem(item), Similarity: textFallbackSimilarity, Snippet: Snippet(item.Content, req.Query)}
	}
	return results, nil
}

func (e *Engine) semanticKnowledge(ctx context.Context, req *Request, limit int) []*KnowledgeResult {
	vector, err := e.embedder.EmbedText(ctx, serverai.ComposeQueryText(req.Query))
	if err != nil {
		slog.Warn("query embedding failed, falling back to text search", "error", err)
		return nil
	}

	hits, err := e.store.VectorSearchKnowledge(ctx, &store.VectorSearchKnowledgeOptions{
		UserID:    req.UserID,
		Vector:    vector,
		Threshold: e.effectiveThreshold(req),
		Limit:     limit,
	})
	if err != nil {
		slog.Warn("vector search failed, falling back to text search", "error", err)
		return nil
	}

	results := make([]*KnowledgeResult, 0, len(hits))
	for _, hit := range hits {
		if len(req.Tags) > 0 && !tagsOverlap(hit.Item.Tags, req.Tags) {
			continue
		}
		results = append(results, &KnowledgeResult{Kind: KindSemantic, Item: scrubItem(hit.Item), Similarity: hit.Score})
	}
	return results
}

// scrubLog nulls the embedding before the log leaves the service layer.
func scrubLog(log *store.ActivityLog) *store.ActivityLog {
	log.Embedding = nil
	return log
}

func scrubItem(item *store.KnowledgeItem) *store.KnowledgeItem {
	item.Embedding = nil
	return item
}

func tagsOverlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
