// Package testutil provides shared helpers for kaizen package tests:
// scoped contexts, a deterministic embedding provider, and fixture
// builders for evaluations, reflections and episodes.
package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"testing"
	"time"

	"github.com/nakamura-labs/kaizen/types"
)

// TestContext returns a context with a 30s timeout tied to the test.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext returns an already cancelled context.
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// MockEmbedder is a deterministic embedding provider. The vector for a
// string depends only on the string, so tests can rely on identical texts
// embedding identically and on distinct texts being separable.
type MockEmbedder struct {
	Dim   int
	Calls int
	// Err, when set, is returned by every call.
	Err error
}

// NewMockEmbedder returns a MockEmbedder with the given dimensionality.
func NewMockEmbedder(dim int) *MockEmbedder {
	return &MockEmbedder{Dim: dim}
}

func (m *MockEmbedder) Name() string { return "mock" }

func (m *MockEmbedder) Dimensions() int { return m.Dim }

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	return deterministicVector(text, m.Dim), nil
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		out[i] = deterministicVector(text, m.Dim)
	}
	return out, nil
}

// deterministicVector hashes the text into a unit vector. Seeded per
// component so different texts diverge in every dimension.
func deterministicVector(text string, dim int) []float64 {
	v := make([]float64, dim)
	var norm float64
	for i := range v {
		h := fnv.New64a()
		h.Write([]byte(text))
		h.Write([]byte{byte(i), byte(i >> 8)})
		// Map the hash into [-1, 1).
		v[i] = float64(int64(h.Sum64())%1000) / 1000
		norm += v[i] * v[i]
	}
	if norm > 0 {
		scale := 1 / math.Sqrt(norm)
		for i := range v {
			v[i] *= scale
		}
	}
	return v
}

// Evaluation returns a minimal successful evaluation for sessionID,
// mutated by the given options.
func Evaluation(sessionID string, opts ...func(*types.TranscriptEvaluation)) *types.TranscriptEvaluation {
	e := &types.TranscriptEvaluation{
		SessionID:  sessionID,
		Outcome:    types.OutcomeSuccess,
		Completion: 0.8,
		Efficiency: 0.9,
		ErrorScore: 1.0,
		Overall:    0.87,
		Metrics: types.TranscriptMetrics{
			Turns:    12,
			Duration: 5 * time.Minute,
		},
		EvaluatedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithOutcome sets the evaluation outcome.
func WithOutcome(o types.Outcome) func(*types.TranscriptEvaluation) {
	return func(e *types.TranscriptEvaluation) { e.Outcome = o }
}

// WithErrors adds n unresolved errors of the given class.
func WithErrors(class types.ErrorClass, n int) func(*types.TranscriptEvaluation) {
	return func(e *types.TranscriptEvaluation) {
		for i := 0; i < n; i++ {
			e.Errors = append(e.Errors, types.ErrorRecord{
				Type:    class,
				Message: "induced error",
			})
		}
		e.Metrics.Errors = len(e.Errors)
	}
}

// WithDuration sets the session duration.
func WithDuration(d time.Duration) func(*types.TranscriptEvaluation) {
	return func(e *types.TranscriptEvaluation) { e.Metrics.Duration = d }
}

// Reflection returns a reflection with one high-confidence action.
func Reflection(sessionID string, priority types.Priority) *types.Reflection {
	return &types.Reflection{
		SessionID:   sessionID,
		Reflections: []string{"test reflection"},
		Confidence:  0.6,
		Actions: []types.SuggestedAction{
			{
				Type:        types.ActionAddGotcha,
				Title:       "watch out for flaky fixture",
				Description: "the fixture server needs a warm-up request",
				Confidence:  0.8,
			},
		},
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}
}

// Episode returns a stored-shape episode for search tests.
func Episode(id, task string, outcome types.EpisodeOutcome) *types.Episode {
	return &types.Episode{
		ID:      id,
		Type:    types.EpisodeTaskExecution,
		Outcome: outcome,
		Context: task,
		Result: types.EpisodeResult{
			Result:   "done",
			Duration: 2 * time.Minute,
		},
		Reflection: types.EpisodeReflection{
			KeyInsights: []string{"insight from " + id},
		},
		CreatedAt: time.Now().UTC(),
	}
}
