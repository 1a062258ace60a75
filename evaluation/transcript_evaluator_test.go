package evaluation

import (
	"fmt"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nakamura-labs/kaizen/transcript"
	"github.com/nakamura-labs/kaizen/types"
)

func chunksOf(texts ...string) []transcript.Chunk {
	out := make([]transcript.Chunk, len(texts))
	for i, text := range texts {
		out[i] = transcript.Chunk{Index: i, Role: "assistant", Text: text}
	}
	return out
}

// fillerChunks returns n neutral chunks that trip no scoring pattern.
func fillerChunks(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("inspecting the code path, step %d", i)
	}
	return out
}

func TestEvaluateEmptyTranscript(t *testing.T) {
	e := NewEvaluator(zap.NewNop())
	eval := e.Evaluate("s-empty", nil, Timing{})

	require.NotNil(t, eval)
	assert.Equal(t, "s-empty", eval.SessionID)
	assert.Equal(t, 0.5, eval.Completion)
	assert.Equal(t, 1.0, eval.Efficiency)
	assert.Equal(t, 1.0, eval.ErrorScore)
	assert.Equal(t, types.OutcomePartial, eval.Outcome)
	assert.Empty(t, eval.Errors)
}

func TestEvaluateMixedSession(t *testing.T) {
	// 3 distinct type errors: two resolved 2 chunks after first sight, one
	// never resolved. Completion keyword at the end, nothing inefficient.
	texts := make([]string, 0, 30)
	texts = append(texts, fillerChunks(2)...)
	texts = append(texts, "TypeError: cannot assign string to int in foo.go")
	texts = append(texts, fillerChunks(1)...)
	texts = append(texts, "✓ compile clean again")
	texts = append(texts, fillerChunks(1)...)
	texts = append(texts, "TypeError: missing field Bar in struct literal")
	texts = append(texts, fillerChunks(1)...)
	texts = append(texts, "build succeeded")
	texts = append(texts, fillerChunks(16)...)
	texts = append(texts, "TypeError: int is not a valid receiver here")
	texts = append(texts, fillerChunks(3)...)
	texts = append(texts, "task complete, all changes are in place")
	require.Len(t, texts, 30)

	e := NewEvaluator(zap.NewNop())
	eval := e.Evaluate("s-mixed", chunksOf(texts...), Timing{})

	require.Len(t, eval.Errors, 3)
	resolved := 0
	for _, er := range eval.Errors {
		assert.Equal(t, types.ErrorClassType, er.Type)
		if er.Resolved {
			resolved++
			assert.Equal(t, 2, er.TurnsToResolve)
		}
	}
	assert.Equal(t, 2, resolved)
	assert.Equal(t, 1, eval.UnresolvedErrors())

	assert.InDelta(t, 0.7, eval.Completion, 1e-9)
	assert.InDelta(t, 1.0, eval.Efficiency, 1e-9)
	assert.InDelta(t, 0.8*2.0/3.0+0.2, eval.ErrorScore, 1e-9)
	assert.InDelta(t, 0.5*0.7+0.3*1.0+0.2*(0.8*2.0/3.0+0.2), eval.Overall, 1e-9)
	assert.Equal(t, types.OutcomePartial, eval.Outcome)
	assert.Empty(t, eval.Inefficiencies)
	assert.Equal(t, 30, eval.Metrics.Turns)
}

func TestErrorResolutionDistance(t *testing.T) {
	texts := append(fillerChunks(1),
		"panic: runtime error: index out of range",
	)
	texts = append(texts, fillerChunks(3)...)
	texts = append(texts, "all tests pass")

	e := NewEvaluator(zap.NewNop())
	eval := e.Evaluate("s-resolve", chunksOf(texts...), Timing{})

	require.Len(t, eval.Errors, 1)
	assert.Equal(t, types.ErrorClassRuntime, eval.Errors[0].Type)
	assert.True(t, eval.Errors[0].Resolved)
	assert.Equal(t, 4, eval.Errors[0].TurnsToResolve)
}

func TestClassifyOutcome(t *testing.T) {
	tests := []struct {
		name       string
		texts      []string
		completion float64
		unresolved int
		want       types.Outcome
	}{
		{
			name:  "interrupt keyword in final chunks wins",
			texts: []string{"doing work", "the user cancelled the session"},
			// Even a would-be success is interrupted.
			completion: 0.9,
			unresolved: 0,
			want:       types.OutcomeInterrupted,
		},
		{
			name:       "more than two unresolved errors is failure",
			texts:      fillerChunks(3),
			completion: 0.6,
			unresolved: 3,
			want:       types.OutcomeFailure,
		},
		{
			name:       "very low completion is failure",
			texts:      fillerChunks(3),
			completion: 0.2,
			unresolved: 0,
			want:       types.OutcomeFailure,
		},
		{
			name:       "exactly 0.7 completion is partial, not success",
			texts:      fillerChunks(3),
			completion: 0.7,
			unresolved: 0,
			want:       types.OutcomePartial,
		},
		{
			name:       "above 0.7 with zero unresolved is success",
			texts:      fillerChunks(3),
			completion: 0.71,
			unresolved: 0,
			want:       types.OutcomeSuccess,
		},
		{
			name:       "above 0.7 with one unresolved is partial",
			texts:      fillerChunks(3),
			completion: 0.9,
			unresolved: 1,
			want:       types.OutcomePartial,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyOutcome(chunksOf(tt.texts...), tt.completion, tt.unresolved)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectInefficiencies(t *testing.T) {
	texts := []string{
		"searching... no matches found in the repo",
		"let me try again with a narrower pattern",
		"actually let me reconsider the approach",
		"sorry, my mistake, that file was fine",
	}
	e := NewEvaluator(zap.NewNop())
	eval := e.Evaluate("s-ineff", chunksOf(texts...), Timing{})

	require.Len(t, eval.Inefficiencies, 4)
	assert.Contains(t, eval.Inefficiencies[0], "not found")
	assert.Equal(t, 1, eval.Metrics.Retries)
}

func TestDuplicateErrorsKeyedOnce(t *testing.T) {
	line := "TypeError: cannot assign string to int"
	texts := []string{line, "still looking", line, line}

	eval := NewEvaluator(zap.NewNop()).Evaluate("s-dup", chunksOf(texts...), Timing{})
	require.Len(t, eval.Errors, 1)
	assert.False(t, eval.Errors[0].Resolved)
}

func TestDistinctErrorsInOneChunkKeyedSeparately(t *testing.T) {
	// One tool-output chunk reporting two different compile errors must
	// yield two records, not just the first match of the family.
	text := "TypeError: cannot assign string to int\nTypeError: missing return value"

	eval := NewEvaluator(zap.NewNop()).Evaluate("s-multi", chunksOf(text), Timing{})
	require.Len(t, eval.Errors, 2)
	assert.NotEqual(t, eval.Errors[0].Message, eval.Errors[1].Message)
}

func TestFailureKeywordOnlyCountsNearEnd(t *testing.T) {
	// The failure phrase appears early, then the session recovers; the
	// last-5 window must not see it.
	texts := append([]string{"I am unable to complete this without the schema"}, fillerChunks(8)...)
	texts = append(texts, "task complete, all changes are in place")

	eval := NewEvaluator(zap.NewNop()).Evaluate("s-recover", chunksOf(texts...), Timing{})
	assert.InDelta(t, 0.8, eval.Completion, 1e-9)
	assert.Equal(t, types.OutcomeSuccess, eval.Outcome)
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	assert.Equal(t, "héllo", truncate("héllo", 10))
	assert.Equal(t, "hél", truncate("héllo", 3))
	assert.Equal(t, "日本語のエ", truncate("日本語のエラーメッセージ", 5))
	assert.True(t, utf8.ValidString(truncate("日本語のエラー", 4)))
}

func TestCollectMetricsTiming(t *testing.T) {
	start := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	e := NewEvaluator(zap.NewNop())
	eval := e.Evaluate("s-timing", chunksOf("did the thing"), Timing{Start: start, End: start.Add(7 * time.Minute)})
	assert.Equal(t, 7*time.Minute, eval.Metrics.Duration)

	eval = e.Evaluate("s-no-timing", chunksOf("did the thing"), Timing{End: start})
	assert.Zero(t, eval.Metrics.Duration)
}

func TestTokenEstimator(t *testing.T) {
	eval := NewEvaluator(zap.NewNop()).Evaluate("s-tokens", chunksOf("abcdefgh"), Timing{})
	assert.Equal(t, 2, eval.Metrics.EstimatedTokens)

	fixed := fixedEstimator{n: 42}
	eval = NewEvaluator(zap.NewNop(), WithTokenEstimator(fixed)).Evaluate("s-tokens-2", chunksOf("abcdefgh"), Timing{})
	assert.Equal(t, 42, eval.Metrics.EstimatedTokens)
}

type fixedEstimator struct{ n int }

func (f fixedEstimator) EstimateTokens(string) int { return f.n }
