package ai

import "strings"

// MaxDerivedTags caps the number of tags derived from a description.
const MaxDerivedTags = 5

// DeriveTags extracts coarse filter tags from a description: lower-cased
// words longer than 3 characters, in encounter order, capped at
// MaxDerivedTags. Punctuation around words is stripped.
func DeriveTags(text string) []string {
	tags := []string{}
	for _, word := range strings.Fields(text) {
		word = strings.ToLower(strings.Trim(word, ".,!?;:()[]{}\"'"))
		if len(word) <= 3 {
			continue
		}
		tags = append(tags, word)
		if len(tags) >= MaxDerivedTags {
			break
		}
	}
	return tags
}
