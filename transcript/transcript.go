// Package transcript models agent session transcripts as ordered chunks and
// loads them from raw JSONL session logs.
package transcript

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// ToolCall is one structured tool invocation recorded in a chunk.
type ToolCall struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Chunk is one ordered unit of a session transcript: free text plus any
// structured tool-call records.
type Chunk struct {
	Index     int        `json:"index"`
	Role      string     `json:"role,omitempty"`
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Timestamp time.Time  `json:"timestamp,omitempty"`
}

// Loader reads session JSONL logs into chunks. Malformed lines are skipped
// in isolation rather than failing the whole load.
type Loader struct {
	logger *zap.Logger
}

// NewLoader creates a transcript loader.
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger.With(zap.String("component", "transcript_loader"))}
}

// LoadJSONL parses one-JSON-object-per-line session logs. It understands
// both flat {"role","text"} records and nested assistant messages whose
// content is a list of text and tool_use blocks.
func (l *Loader) LoadJSONL(r io.Reader) ([]Chunk, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var chunks []Chunk
	skipped := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !gjson.Valid(line) {
			skipped++
			continue
		}
		chunk, ok := parseLine(line)
		if !ok {
			skipped++
			continue
		}
		chunk.Index = len(chunks)
		chunks = append(chunks, chunk)
	}
	if err := scanner.Err(); err != nil {
		return chunks, err
	}
	if skipped > 0 {
		l.logger.Debug("skipped malformed transcript lines", zap.Int("skipped", skipped))
	}
	return chunks, nil
}

func parseLine(line string) (Chunk, bool) {
	var chunk Chunk

	chunk.Role = gjson.Get(line, "message.role").String()
	if chunk.Role == "" {
		chunk.Role = gjson.Get(line, "role").String()
	}
	if ts := gjson.Get(line, "timestamp"); ts.Exists() {
		if t, err := time.Parse(time.RFC3339, ts.String()); err == nil {
			chunk.Timestamp = t
		}
	}

	var texts []string
	content := gjson.Get(line, "message.content")
	if !content.Exists() {
		content = gjson.Get(line, "content")
	}
	switch {
	case content.IsArray():
		content.ForEach(func(_, block gjson.Result) bool {
			switch block.Get("type").String() {
			case "text":
				if t := block.Get("text").String(); t != "" {
					texts = append(texts, t)
				}
			case "tool_use":
				tc := ToolCall{Name: block.Get("name").String()}
				if in := block.Get("input"); in.Exists() {
					tc.Input = json.RawMessage(in.Raw)
				}
				chunk.ToolCalls = append(chunk.ToolCalls, tc)
			case "tool_result":
				if t := block.Get("content").String(); t != "" {
					texts = append(texts, t)
				}
			}
			return true
		})
	case content.Type == gjson.String:
		texts = append(texts, content.String())
	default:
		if t := gjson.Get(line, "text"); t.Exists() {
			texts = append(texts, t.String())
		}
	}

	chunk.Text = strings.Join(texts, "\n")
	if chunk.Text == "" && len(chunk.ToolCalls) == 0 {
		return chunk, false
	}
	return chunk, true
}
