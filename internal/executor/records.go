package executor

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/hochfrequenz/claude-subagents/internal/domain"
)

// Record types emitted by the subordinate agent in JSON mode
const (
	RecordToolStart     = "tool_execution_start"
	RecordToolEnd       = "tool_execution_end"
	RecordMessageEnd    = "message_end"
	RecordToolResultEnd = "tool_result_end"
)

// Record is one newline-delimited JSON record from the child's stdout
type Record struct {
	Type string
	Raw  []byte
}

// Get returns a field of the record by gjson path
func (r Record) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Raw, path)
}

// RecordReader frames a byte stream into records. Lines that are blank or not
// JSON objects are skipped. There is no line length limit.
type RecordReader struct {
	r *bufio.Reader
}

// NewRecordReader wraps r
func NewRecordReader(r io.Reader) *RecordReader {
	return &RecordReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next record, or io.EOF when the stream ends
func (rr *RecordReader) Next() (Record, error) {
	for {
		line, err := rr.r.ReadBytes('\n')
		if len(line) > 0 {
			if rec, ok := parseRecord(line); ok {
				return rec, nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Record{}, io.EOF
			}
			return Record{}, err
		}
	}
}

func parseRecord(line []byte) (Record, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' || !gjson.ValidBytes(line) {
		return Record{}, false
	}
	raw := append([]byte(nil), line...)
	return Record{Type: gjson.GetBytes(raw, "type").String(), Raw: raw}, true
}

// parseMessage converts a record's `message` object into a transcript entry
func parseMessage(msg gjson.Result) domain.Message {
	m := domain.Message{
		Role:         msg.Get("role").String(),
		ToolName:     msg.Get("toolName").String(),
		IsError:      msg.Get("isError").Bool(),
		StopReason:   msg.Get("stopReason").String(),
		ErrorMessage: msg.Get("errorMessage").String(),
		Model:        msg.Get("model").String(),
	}

	content := msg.Get("content")
	if content.Type == gjson.String {
		m.Text = content.String()
		return m
	}
	var parts []string
	content.ForEach(func(_, part gjson.Result) bool {
		if part.Get("type").String() == "text" {
			parts = append(parts, part.Get("text").String())
		}
		return true
	})
	m.Text = strings.Join(parts, "\n")
	return m
}

// parseUsage reads the usage block of an assistant message
func parseUsage(msg gjson.Result) domain.Usage {
	u := msg.Get("usage")
	usage := domain.Usage{
		Input:      int(u.Get("input").Int()),
		Output:     int(u.Get("output").Int()),
		CacheRead:  int(u.Get("cacheRead").Int()),
		CacheWrite: int(u.Get("cacheWrite").Int()),
		Turns:      1,
	}
	cost := u.Get("cost.total")
	if !cost.Exists() {
		cost = u.Get("cost")
	}
	if cost.Exists() && cost.Type == gjson.Number {
		usage.Cost = decimalFromJSON(cost.Raw)
	}
	return usage
}
