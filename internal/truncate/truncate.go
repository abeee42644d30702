// Package truncate enforces byte and line budgets on final agent output.
package truncate

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
)

// Defaults applied when a budget is not configured
const (
	DefaultMaxBytes = 200 * 1024
	DefaultMaxLines = 5000
)

// Unlimited disables a budget
const Unlimited = -1

const markerPrefix = "[Output truncated: "

// Limits is a byte and line budget. Negative values are unlimited; zero keeps nothing.
type Limits struct {
	Bytes int `json:"bytes" yaml:"bytes" toml:"max_bytes"`
	Lines int `json:"lines" yaml:"lines" toml:"max_lines"`
}

// DefaultLimits returns the default budget
func DefaultLimits() Limits {
	return Limits{Bytes: DefaultMaxBytes, Lines: DefaultMaxLines}
}

// Result is the outcome of Truncate
type Result struct {
	Text          string
	Truncated     bool
	OriginalBytes int
	OriginalLines int
}

// Truncate caps text by line count first and then by bytes, always cutting on
// a line boundary. When truncation happens a marker line is prepended that
// points at artifactPath if it is non-empty. Text that already carries a
// marker and fits the budget is returned unchanged.
func Truncate(text string, limits Limits, artifactPath string) Result {
	if limits.Bytes == 0 || limits.Lines == 0 {
		return Result{Truncated: true, OriginalBytes: len(text), OriginalLines: countLines(text)}
	}

	if body, ok := stripMarker(text); ok && fits(body, limits) {
		return Result{Text: text, Truncated: true}
	}
	if fits(text, limits) {
		return Result{Text: text}
	}

	origBytes := len(text)
	origLines := countLines(text)
	kept := strings.TrimSuffix(text, "\n")

	if limits.Lines > 0 && origLines > limits.Lines {
		kept = strings.Join(strings.SplitN(kept, "\n", limits.Lines+1)[:limits.Lines], "\n")
	}
	if limits.Bytes > 0 && len(kept) > limits.Bytes {
		kept = cutBytes(kept, limits.Bytes)
	}

	marker := fmt.Sprintf("%sfirst %d of %d lines (%s of %s).",
		markerPrefix, countLines(kept), origLines,
		humanize.IBytes(uint64(len(kept))), humanize.IBytes(uint64(origBytes)))
	if artifactPath != "" {
		marker += " Full output: " + artifactPath
	}
	marker += "]"

	return Result{
		Text:          marker + "\n" + kept,
		Truncated:     true,
		OriginalBytes: origBytes,
		OriginalLines: origLines,
	}
}

// cutBytes returns the longest prefix of s within max bytes that ends on a
// rune boundary, with any trailing partial line dropped.
func cutBytes(s string, max int) string {
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if s[cut] == '\n' {
		return s[:cut]
	}
	idx := strings.LastIndexByte(s[:cut], '\n')
	if idx < 0 {
		return ""
	}
	return s[:idx]
}

func fits(text string, limits Limits) bool {
	if limits.Bytes >= 0 && len(text) > limits.Bytes {
		return false
	}
	if limits.Lines >= 0 && countLines(text) > limits.Lines {
		return false
	}
	return true
}

// countLines counts newline-separated lines; a single trailing newline does
// not start a new line.
func countLines(text string) int {
	if text == "" {
		return 0
	}
	return strings.Count(strings.TrimSuffix(text, "\n"), "\n") + 1
}

func stripMarker(text string) (string, bool) {
	if !strings.HasPrefix(text, markerPrefix) {
		return "", false
	}
	first, body, found := strings.Cut(text, "\n")
	if !found || !strings.HasSuffix(first, "]") {
		return "", false
	}
	return body, true
}
