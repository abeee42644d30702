package truncate

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numberedLines(n int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i+1)
	}
	return strings.Join(lines, "\n")
}

func TestTruncate_WithinBudget(t *testing.T) {
	res := Truncate("short\ntext\n", DefaultLimits(), "")
	assert.False(t, res.Truncated)
	assert.Equal(t, "short\ntext\n", res.Text)
}

func TestTruncate_LineBudget(t *testing.T) {
	res := Truncate(numberedLines(10), Limits{Bytes: Unlimited, Lines: 5}, "")

	require.True(t, res.Truncated)
	lines := strings.Split(res.Text, "\n")
	require.Len(t, lines, 6)
	assert.Contains(t, lines[0], "first 5 of 10 lines")
	assert.Equal(t, []string{"line 1", "line 2", "line 3", "line 4", "line 5"}, lines[1:])
	assert.Equal(t, 10, res.OriginalLines)
}

func TestTruncate_ByteBudgetCutsOnLineBoundary(t *testing.T) {
	text := "aaaa\nbbbb\ncccc\ndddd"
	res := Truncate(text, Limits{Bytes: 12, Lines: Unlimited}, "/tmp/out.md")

	require.True(t, res.Truncated)
	_, kept, _ := strings.Cut(res.Text, "\n")
	assert.Equal(t, "aaaa\nbbbb", kept)
	assert.Contains(t, res.Text, "Full output: /tmp/out.md]")
	assert.Equal(t, len(text), res.OriginalBytes)
}

func TestTruncate_ExactLineBoundary(t *testing.T) {
	res := Truncate("aaaa\nbbbb\ncccc", Limits{Bytes: 9, Lines: Unlimited}, "")
	_, kept, _ := strings.Cut(res.Text, "\n")
	assert.Equal(t, "aaaa\nbbbb", kept)
}

func TestTruncate_MultibyteNeverSplitsRunes(t *testing.T) {
	text := "ääää\nöööö\nüüüü"
	res := Truncate(text, Limits{Bytes: 12, Lines: Unlimited}, "")

	_, kept, _ := strings.Cut(res.Text, "\n")
	assert.Equal(t, "ääää", kept)
}

func TestTruncate_ZeroBudget(t *testing.T) {
	res := Truncate("anything", Limits{Bytes: 0, Lines: 10}, "")
	assert.True(t, res.Truncated)
	assert.Empty(t, res.Text)
}

func TestTruncate_Idempotent(t *testing.T) {
	limits := []Limits{
		{Bytes: Unlimited, Lines: 5},
		{Bytes: 40, Lines: Unlimited},
		{Bytes: 60, Lines: 3},
	}
	for _, l := range limits {
		t.Run(fmt.Sprintf("%d/%d", l.Bytes, l.Lines), func(t *testing.T) {
			first := Truncate(numberedLines(20), l, "/a/b")
			second := Truncate(first.Text, l, "/a/b")
			assert.Equal(t, first.Text, second.Text)
		})
	}
}

func TestTruncate_BoundaryInvariant(t *testing.T) {
	for _, budget := range []int{1, 7, 13, 30, 55, 200} {
		text := numberedLines(25)
		res := Truncate(text, Limits{Bytes: budget, Lines: 8}, "")
		if !res.Truncated {
			continue
		}
		_, kept, _ := strings.Cut(res.Text, "\n")
		assert.LessOrEqual(t, len(strings.Split(kept, "\n")), res.OriginalLines)
		if kept != "" {
			assert.True(t, strings.HasPrefix(text, kept+"\n"), "kept text must end on a line boundary: %q", kept)
		}
	}
}
