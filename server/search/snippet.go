package search

import (
	"strings"
	"unicode"
)

// Snippet windows for text fallback results, so API clients can show the
// matched context instead of the whole summary.
const (
	snippetContextRunes = 50
	snippetMaxRunes     = 200
)

// tokenize lowercases and splits a query into word tokens.
func tokenize(text string) []string {
	var tokens []string
	seen := map[string]bool{}

	var current strings.Builder
	flush := func() {
		if current.Len() == 0 {
			return
		}
		word := strings.ToLower(current.String())
		current.Reset()
		if !seen[word] {
			tokens = append(tokens, word)
			seen[word] = true
		}
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// Snippet extracts a window of content centered on the first query token
// match, adjusted to word boundaries and marked with ellipses when cut.
// Without a match it returns the beginning of the content.
func Snippet(content, query string) string {
	runes := []rune(content)
	if len(runes) <= snippetContextRunes*2 {
		return content
	}

	center := matchPosition(content, query)
	if center < 0 {
		end := adjustToBoundary(runes, snippetContextRunes*2, true)
		return strings.TrimSpace(string(runes[:end])) + "..."
	}

	start := center - snippetContextRunes
	end := center + snippetContextRunes
	if start < 0 {
		end += -start
		start = 0
	}
	if end > len(runes) {
		start -= end - len(runes)
		end = len(runes)
	}
	if start < 0 {
		start = 0
	}
	if end-start > snippetMaxRunes {
		end = start + snippetMaxRunes
	}

	start = adjustToBoundary(runes, start, false)
	end = adjustToBoundary(runes, end, true)

	snippet := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(runes) {
		snippet += "..."
	}
	return snippet
}

// matchPosition returns the rune index of the first query token found in
// content, or -1.
func matchPosition(content, query string) int {
	lowered := strings.ToLower(content)
	for _, token := range tokenize(query) {
		if idx := strings.Index(lowered, token); idx >= 0 {
			// Convert the byte offset to a rune offset.
			return len([]rune(lowered[:idx]))
		}
	}
	return -1
}

// adjustToBoundary nudges a cut position to the nearest word separator,
// scanning at most a few characters.
func adjustToBoundary(runes []rune, pos int, forward bool) int {
	const maxAdjust = 10
	if pos <= 0 {
		return 0
	}
	if pos >= len(runes) {
		return len(runes)
	}

	if forward {
		for i := pos; i < len(runes) && i < pos+maxAdjust; i++ {
			if isSeparator(runes[i]) {
				return i
			}
		}
	} else {
		for i := pos - 1; i >= 0 && i >= pos-maxAdjust; i-- {
			if isSeparator(runes[i]) {
				return i + 1
			}
		}
	}
	return pos
}

func isSeparator(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(".,!?;:", r)
}
