// Package episode implements the episodic-memory store: task experiences
// persisted as embedded vectors and retrieved by similarity with custom
// score blending.
package episode

import (
	"context"
	"math"

	"github.com/nakamura-labs/kaizen/types"
)

// Row is one stored episode plus its embedding vector.
type Row struct {
	ID        string        `json:"id"`
	Episode   types.Episode `json:"episode"`
	Embedding []float64     `json:"embedding"`
}

// RowFilter is the structured predicate applied server-side during a query.
// Zero values mean "no constraint".
type RowFilter struct {
	Types      []types.EpisodeType
	Outcomes   []types.EpisodeOutcome
	FolderID   string
	MinQuality float64
}

// Matches reports whether a row passes the filter.
func (f RowFilter) Matches(row Row) bool {
	if len(f.Types) > 0 && !containsType(f.Types, row.Episode.Type) {
		return false
	}
	if len(f.Outcomes) > 0 && !containsOutcome(f.Outcomes, row.Episode.Outcome) {
		return false
	}
	if f.FolderID != "" && row.Episode.FolderID != f.FolderID {
		return false
	}
	if f.MinQuality > 0 && row.Episode.QualityScore < f.MinQuality {
		return false
	}
	return true
}

// Match is one query hit with its vector distance (0 = identical).
type Match struct {
	Row      Row
	Distance float64
}

// VectorTable is the storage contract the episode store builds on. Query
// returns matches ordered by ascending distance, already filtered.
// Implementations own their concurrency guarantees for insert/query after
// Init has completed once.
type VectorTable interface {
	// Init prepares the underlying table. Called exactly once per store
	// through a shared in-flight guard.
	Init(ctx context.Context) error

	Insert(ctx context.Context, row Row) error
	Get(ctx context.Context, id string) (*Row, error)
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, embedding []float64, limit int, filter RowFilter) ([]Match, error)
	List(ctx context.Context) ([]Row, error)
	Count(ctx context.Context) (int, error)
}

func containsType(list []types.EpisodeType, v types.EpisodeType) bool {
	for _, t := range list {
		if t == v {
			return true
		}
	}
	return false
}

func containsOutcome(list []types.EpisodeOutcome, v types.EpisodeOutcome) bool {
	for _, o := range list {
		if o == v {
			return true
		}
	}
	return false
}

// cosineDistance is 1 minus cosine similarity; 0 for identical directions.
func cosineDistance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1.0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 1.0
	}
	return 1.0 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
