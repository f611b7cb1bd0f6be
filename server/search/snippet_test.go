package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	require.Equal(t, []string{"fixing", "the", "pomodoro", "timer"},
		tokenize("Fixing the pomodoro timer!"))
	require.Empty(t, tokenize("  ...  "))
	// Duplicates collapse.
	require.Equal(t, []string{"go"}, tokenize("go go go"))
}

func TestSnippetShortContentUnchanged(t *testing.T) {
	require.Equal(t, "Reading email.", Snippet("Reading email.", "email"))
}

func TestSnippetCentersOnMatch(t *testing.T) {
	content := strings.Repeat("padding words before the match ", 10) +
		"configuring the pomodoro timer for deep work" +
		strings.Repeat(" trailing context after the match", 10)

	snippet := Snippet(content, "pomodoro")
	require.Contains(t, snippet, "pomodoro")
	require.True(t, strings.HasPrefix(snippet, "..."))
	require.True(t, strings.HasSuffix(snippet, "..."))
	require.Less(t, len(snippet), len(content))
}

func TestSnippetNoMatchReturnsPrefix(t *testing.T) {
	content := strings.Repeat("sentence about unrelated things. ", 20)
	snippet := Snippet(content, "zzzmissing")
	require.True(t, strings.HasSuffix(snippet, "..."))
	require.True(t, strings.HasPrefix(content, strings.TrimSuffix(snippet, "...")))
}
