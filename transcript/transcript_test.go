package transcript

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, lines ...string) []Chunk {
	t.Helper()
	chunks, err := NewLoader(nil).LoadJSONL(strings.NewReader(strings.Join(lines, "\n")))
	require.NoError(t, err)
	return chunks
}

func TestLoadJSONLFlatRecords(t *testing.T) {
	chunks := load(t,
		`{"role":"user","text":"fix the failing build"}`,
		`{"role":"assistant","text":"looking at the compiler output"}`,
	)

	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "user", chunks[0].Role)
	assert.Equal(t, "fix the failing build", chunks[0].Text)
	assert.Equal(t, 1, chunks[1].Index)
	assert.Equal(t, "assistant", chunks[1].Role)
}

func TestLoadJSONLNestedMessageContent(t *testing.T) {
	chunks := load(t,
		`{"message":{"role":"assistant","content":[{"type":"text","text":"running the tests"},{"type":"tool_use","name":"bash","input":{"command":"go test ./..."}}]}}`,
		`{"message":{"role":"user","content":[{"type":"tool_result","content":"ok  \tpkg\t0.5s"}]}}`,
	)

	require.Len(t, chunks, 2)
	assert.Equal(t, "assistant", chunks[0].Role)
	assert.Equal(t, "running the tests", chunks[0].Text)
	require.Len(t, chunks[0].ToolCalls, 1)
	assert.Equal(t, "bash", chunks[0].ToolCalls[0].Name)
	assert.JSONEq(t, `{"command":"go test ./..."}`, string(chunks[0].ToolCalls[0].Input))

	assert.Equal(t, "user", chunks[1].Role)
	assert.Contains(t, chunks[1].Text, "ok")
}

func TestLoadJSONLStringContent(t *testing.T) {
	chunks := load(t, `{"message":{"role":"user","content":"plain string content"}}`)
	require.Len(t, chunks, 1)
	assert.Equal(t, "plain string content", chunks[0].Text)
}

func TestLoadJSONLJoinsMultipleTextBlocks(t *testing.T) {
	chunks := load(t,
		`{"message":{"role":"assistant","content":[{"type":"text","text":"first"},{"type":"text","text":"second"}]}}`,
	)
	require.Len(t, chunks, 1)
	assert.Equal(t, "first\nsecond", chunks[0].Text)
}

func TestLoadJSONLSkipsMalformedAndEmptyLines(t *testing.T) {
	chunks := load(t,
		`{"role":"user","text":"valid"}`,
		``,
		`{not json at all`,
		`{"role":"assistant"}`, // no text, no tool calls
		`   `,
		`{"role":"assistant","text":"also valid"}`,
	)

	require.Len(t, chunks, 2)
	assert.Equal(t, "valid", chunks[0].Text)
	assert.Equal(t, "also valid", chunks[1].Text)
	// Indices are dense despite skipped lines.
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 1, chunks[1].Index)
}

func TestLoadJSONLParsesTimestamps(t *testing.T) {
	chunks := load(t,
		`{"role":"user","text":"with time","timestamp":"2026-03-01T10:30:00Z"}`,
		`{"role":"user","text":"bad time","timestamp":"yesterday"}`,
	)

	require.Len(t, chunks, 2)
	want := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	assert.True(t, chunks[0].Timestamp.Equal(want))
	assert.True(t, chunks[1].Timestamp.IsZero())
}

func TestLoadJSONLToolUseOnlyChunkIsKept(t *testing.T) {
	chunks := load(t,
		`{"message":{"role":"assistant","content":[{"type":"tool_use","name":"read_file","input":{"path":"main.go"}}]}}`,
	)
	require.Len(t, chunks, 1)
	assert.Empty(t, chunks[0].Text)
	require.Len(t, chunks[0].ToolCalls, 1)
	assert.Equal(t, "read_file", chunks[0].ToolCalls[0].Name)
}

func TestLoadJSONLEmptyInput(t *testing.T) {
	chunks, err := NewLoader(nil).LoadJSONL(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
