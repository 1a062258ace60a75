package episode

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/nakamura-labs/kaizen/embedding"
	"github.com/nakamura-labs/kaizen/internal/metrics"
	"github.com/nakamura-labs/kaizen/types"
)

// SearchOptions filters and tunes a similarity search.
type SearchOptions struct {
	Limit           int
	MinScore        float64
	Types           []types.EpisodeType
	Outcomes        []types.EpisodeOutcome
	FolderID        string
	MinQualityScore float64
	PreferRecent    bool
}

// SearchResult is one retrieved episode with its blended score and a
// human-readable relevance phrase.
type SearchResult struct {
	Episode   types.Episode `json:"episode"`
	Score     float64       `json:"score"`
	Relevance string        `json:"relevance"`
}

// SimilarExperiences bundles precedent for a new task: past successes,
// past failures, and the key insights pooled from both.
type SimilarExperiences struct {
	Successes   []SearchResult `json:"successes"`
	Failures    []SearchResult `json:"failures"`
	KeyInsights []string       `json:"key_insights"`
}

const (
	defaultSearchLimit = 5
	overFetchFactor    = 3
	recencyWindowDays  = 30.0
	compactKeepSteps   = 5
	compactMinActions  = 10
)

// Store is a per-scope episodic memory backed by a vector table and an
// embedding provider. The table is initialized lazily exactly once; a
// single in-flight initialization is shared by concurrent first callers.
type Store struct {
	table    VectorTable
	embedder embedding.Provider
	logger   *zap.Logger
	metrics  *metrics.Collector

	initGroup   singleflight.Group
	initialized atomic.Bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) StoreOption {
	return func(s *Store) { s.metrics = c }
}

// NewStore creates an episode store over the given table and embedder.
func NewStore(table VectorTable, embedder embedding.Provider, logger *zap.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		table:    table,
		embedder: embedder,
		logger:   logger.With(zap.String("component", "episode_store")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ensureInit performs the one-shot lazy table initialization. Concurrent
// first callers share one attempt; a failed attempt is retried by the next
// caller.
func (s *Store) ensureInit(ctx context.Context) error {
	if s.initialized.Load() {
		return nil
	}
	_, err, _ := s.initGroup.Do("init", func() (any, error) {
		if s.initialized.Load() {
			return nil, nil
		}
		if err := s.table.Init(ctx); err != nil {
			return nil, err
		}
		s.initialized.Store(true)
		return nil, nil
	})
	return err
}

// Store persists one episode: derives its quality score, embeds its
// reflective text, and inserts it into the table.
func (s *Store) Store(ctx context.Context, ep types.Episode) (string, error) {
	if err := s.ensureInit(ctx); err != nil {
		return "", err
	}
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now()
	}
	ep.UpdatedAt = time.Now()
	ep.QualityScore = DeriveQualityScore(ep)

	vector, err := s.embedder.Embed(ctx, BuildEmbedText(ep))
	if err != nil {
		return "", fmt.Errorf("embed episode: %w", err)
	}
	if err := s.table.Insert(ctx, Row{ID: ep.ID, Episode: ep, Embedding: vector}); err != nil {
		return "", err
	}

	s.metrics.IncEpisodeStored()
	s.logger.Debug("episode stored",
		zap.String("id", ep.ID),
		zap.String("type", string(ep.Type)),
		zap.Float64("quality", ep.QualityScore))
	return ep.ID, nil
}

// Search embeds the query, over-fetches 3x the limit from the table,
// blends the distance-derived score with recency and quality boosts, and
// returns up to limit results with score >= MinScore, best first.
func (s *Store) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	if err := s.ensureInit(ctx); err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	matches, err := s.table.Query(ctx, vector, limit*overFetchFactor, RowFilter{
		Types:      opts.Types,
		Outcomes:   opts.Outcomes,
		FolderID:   opts.FolderID,
		MinQuality: opts.MinQualityScore,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	results := make([]SearchResult, 0, limit)
	for _, m := range matches {
		score := blendScore(m, now, opts.PreferRecent)
		if score < opts.MinScore {
			continue
		}
		results = append(results, SearchResult{
			Episode:   m.Row.Episode,
			Score:     score,
			Relevance: relevancePhrase(score, m.Row.Episode),
		})
		if len(results) >= limit {
			break
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	s.metrics.ObserveSearch(len(results))
	return results, nil
}

func blendScore(m Match, now time.Time, preferRecent bool) float64 {
	score := 1.0 - m.Distance
	if score < 0 {
		score = 0
	}
	if preferRecent {
		ageDays := now.Sub(m.Row.Episode.CreatedAt).Hours() / 24
		boost := 1.0 - ageDays/recencyWindowDays
		if boost > 0 {
			score += boost * 0.1
		}
	}
	score += m.Row.Episode.QualityScore / 100 * 0.1
	if score > 1 {
		score = 1
	}
	return score
}

func relevancePhrase(score float64, ep types.Episode) string {
	var tier string
	switch {
	case score >= 0.8:
		tier = "highly similar"
	case score >= 0.6:
		tier = "similar"
	default:
		tier = "somewhat related"
	}

	var outcome string
	switch ep.Outcome {
	case types.EpisodeOutcomeSuccess:
		outcome = "successful"
	case types.EpisodeOutcomeFailure:
		outcome = "failed"
	case types.EpisodeOutcomePartial:
		outcome = "partially successful"
	default:
		outcome = string(ep.Outcome)
	}

	phrase := fmt.Sprintf("%s %s experience", tier, outcome)
	if ep.QualityScore >= 70 {
		phrase += " (high quality)"
	}
	return phrase
}

// FindSimilarExperiences retrieves precedent for a new task description:
// up to 3 successful and 2 failed episodes, plus up to 5 pooled insights.
func (s *Store) FindSimilarExperiences(ctx context.Context, description string) (*SimilarExperiences, error) {
	successes, err := s.Search(ctx, description, SearchOptions{
		Limit:    3,
		MinScore: 0.3,
		Outcomes: []types.EpisodeOutcome{types.EpisodeOutcomeSuccess},
	})
	if err != nil {
		return nil, err
	}
	failures, err := s.Search(ctx, description, SearchOptions{
		Limit:    2,
		MinScore: 0.3,
		Outcomes: []types.EpisodeOutcome{types.EpisodeOutcomeFailure},
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var insights []string
	for _, group := range [][]SearchResult{successes, failures} {
		for _, r := range group {
			for _, insight := range r.Episode.Reflection.KeyInsights {
				key := strings.ToLower(strings.TrimSpace(insight))
				if key == "" || seen[key] {
					continue
				}
				seen[key] = true
				insights = append(insights, insight)
				if len(insights) >= 5 {
					return &SimilarExperiences{Successes: successes, Failures: failures, KeyInsights: insights}, nil
				}
			}
		}
	}
	return &SimilarExperiences{Successes: successes, Failures: failures, KeyInsights: insights}, nil
}

// Update replaces a stored episode behind a single method so callers never
// observe the intermediate deleted state. The quality score and embedding
// are re-derived from the updated fields.
func (s *Store) Update(ctx context.Context, ep types.Episode) error {
	if err := s.ensureInit(ctx); err != nil {
		return err
	}
	if ep.ID == "" {
		return types.NewError(types.ErrInvalidRequest, "episode id required for update")
	}
	existing, err := s.table.Get(ctx, ep.ID)
	if err != nil {
		return err
	}
	ep.CreatedAt = existing.Episode.CreatedAt
	ep.UpdatedAt = time.Now()
	ep.QualityScore = DeriveQualityScore(ep)

	vector, err := s.embedder.Embed(ctx, BuildEmbedText(ep))
	if err != nil {
		return fmt.Errorf("embed episode: %w", err)
	}
	if err := s.table.Delete(ctx, ep.ID); err != nil {
		return err
	}
	return s.table.Insert(ctx, Row{ID: ep.ID, Episode: ep, Embedding: vector})
}

// AddUserFeedback attaches a user rating and optional note to a stored
// episode and re-derives its quality score.
func (s *Store) AddUserFeedback(ctx context.Context, id string, rating int, note string) error {
	if err := s.ensureInit(ctx); err != nil {
		return err
	}
	if rating < 1 || rating > 5 {
		return types.NewError(types.ErrInvalidRequest, "rating must be between 1 and 5")
	}
	row, err := s.table.Get(ctx, id)
	if err != nil {
		return err
	}
	ep := row.Episode
	ep.Reflection.UserRating = &rating
	if note != "" {
		ep.Reflection.Notes = note
	}
	return s.Update(ctx, ep)
}

// Delete removes an episode.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.ensureInit(ctx); err != nil {
		return err
	}
	return s.table.Delete(ctx, id)
}

// CompressOldEpisodes truncates the trajectories of episodes older than
// the threshold that recorded more than 10 actions, keeping the first 5
// actions and first 5 observations. Returns the number compressed.
// Embeddings are preserved: trajectories do not feed the embed text.
func (s *Store) CompressOldEpisodes(ctx context.Context, olderThanDays int) (int, error) {
	if err := s.ensureInit(ctx); err != nil {
		return 0, err
	}
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)

	rows, err := s.table.List(ctx)
	if err != nil {
		return 0, err
	}

	compressed := 0
	for _, row := range rows {
		ep := row.Episode
		if !ep.CreatedAt.Before(cutoff) || len(ep.Trajectory.Actions) <= compactMinActions {
			continue
		}
		ep.Trajectory.Actions = firstN(ep.Trajectory.Actions, compactKeepSteps)
		ep.Trajectory.Observations = firstN(ep.Trajectory.Observations, compactKeepSteps)
		ep.UpdatedAt = time.Now()

		if err := s.table.Delete(ctx, row.ID); err != nil {
			return compressed, err
		}
		if err := s.table.Insert(ctx, Row{ID: row.ID, Episode: ep, Embedding: row.Embedding}); err != nil {
			return compressed, err
		}
		compressed++
	}

	if compressed > 0 {
		s.metrics.AddCompacted(compressed)
		s.logger.Info("old episodes compacted",
			zap.Int("compressed", compressed),
			zap.Int("older_than_days", olderThanDays))
	}
	return compressed, nil
}

// BuildEmbedText concatenates the episode's retrievable content: task
// description, result text, and the reflection lists with ✓/✗/💡 prefixes.
func BuildEmbedText(ep types.Episode) string {
	var b strings.Builder
	b.WriteString(ep.Context)
	if ep.Result.Result != "" {
		b.WriteString("\nResult: ")
		b.WriteString(ep.Result.Result)
	}
	for _, w := range ep.Reflection.WhatWorked {
		b.WriteString("\n✓ ")
		b.WriteString(w)
	}
	for _, f := range ep.Reflection.WhatFailed {
		b.WriteString("\n✗ ")
		b.WriteString(f)
	}
	for _, i := range ep.Reflection.KeyInsights {
		b.WriteString("\n💡 ")
		b.WriteString(i)
	}
	if ep.Reflection.Notes != "" {
		b.WriteString("\n")
		b.WriteString(ep.Reflection.Notes)
	}
	return b.String()
}

// DeriveQualityScore computes the 0-100 retrieval-usefulness score from
// the episode's own fields. It is recomputed on every write, never stored
// independently of the fields it derives from.
func DeriveQualityScore(ep types.Episode) float64 {
	score := 50.0
	switch ep.Outcome {
	case types.EpisodeOutcomeSuccess:
		score += 20
	case types.EpisodeOutcomePartial:
		score += 5
	case types.EpisodeOutcomeFailure:
		score -= 10
	case types.EpisodeOutcomeCancelled:
		score -= 20
	}
	if len(ep.Reflection.WhatWorked) > 0 {
		score += 5
	}
	if len(ep.Reflection.WhatFailed) > 0 {
		score += 5
	}
	if len(ep.Reflection.KeyInsights) > 0 {
		score += 10
	}
	if ep.Reflection.Notes != "" {
		score += 5
	}
	if ep.Reflection.UserRating != nil {
		score += float64(*ep.Reflection.UserRating-3) * 10
	}
	errPenalty := float64(ep.Result.Errors) * 2
	if errPenalty > 10 {
		errPenalty = 10
	}
	score -= errPenalty

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func firstN(list []string, n int) []string {
	if len(list) <= n {
		return list
	}
	return list[:n]
}
