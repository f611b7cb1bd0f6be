// Package ai composes embedding input text and manages embedding storage
// for activity logs and knowledge items.
package ai

import (
	"fmt"
	"sort"
	"strings"
)

// ComposeKnowledgeText builds the embedding input for a knowledge item:
// title, content and tags, with empty parts omitted.
func ComposeKnowledgeText(title, content string, tags []string) string {
	parts := []string{}
	if title = strings.TrimSpace(title); title != "" {
		parts = append(parts, title)
	}
	if content = strings.TrimSpace(content); content != "" {
		parts = append(parts, content)
	}
	if len(tags) > 0 {
		parts = append(parts, "Tags: "+strings.Join(tags, ", "))
	}
	return strings.Join(parts, "\n\n")
}

// ComposeLogText builds the embedding input for an activity log: summary,
// a flat rendering of the details payload, and tags, with empty parts
// omitted.
func ComposeLogText(summary string, details map[string]any, tags []string) string {
	parts := []string{}
	if summary = strings.TrimSpace(summary); summary != "" {
		parts = append(parts, summary)
	}
	if rendered := renderDetails(details); rendered != "" {
		parts = append(parts, "Structured: "+rendered)
	}
	if len(tags) > 0 {
		parts = append(parts, "Tags: "+strings.Join(tags, ", "))
	}
	return strings.Join(parts, "\n\n")
}

// ComposeQueryText builds the embedding input for a search query.
func ComposeQueryText(query string) string {
	return strings.TrimSpace(query)
}

// renderDetails flattens the details payload to "key: value, ..." with
// keys sorted so the composed text is deterministic.
func renderDetails(details map[string]any) string {
	if len(details) == 0 {
		return ""
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s: %v", k, details[k]))
	}
	return strings.Join(pairs, ", ")
}
