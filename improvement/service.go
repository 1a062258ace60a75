// Package improvement closes the loop: it analyzes recent session
// evaluations, proposes and safety-filters config changes, versions them
// through the archive, and applies verbal learnings to project files.
package improvement

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nakamura-labs/kaizen/archive"
	"github.com/nakamura-labs/kaizen/internal/metrics"
	"github.com/nakamura-labs/kaizen/types"
)

// Default A/B test parameters for versions created by an improvement cycle.
const (
	defaultTrafficSplit    = 0.30
	defaultMinSampleSize   = 10
	defaultMaxDurationDays = 3
)

// CycleInput is the evidence one improvement cycle runs on.
type CycleInput struct {
	RecentEvaluations []*types.TranscriptEvaluation `json:"recent_evaluations,omitempty"`
	RecentReflections []*types.Reflection           `json:"recent_reflections,omitempty"`
	ProjectPath       string                        `json:"project_path,omitempty"`
}

// CycleResult reports what a cycle did.
type CycleResult struct {
	NewVersionCreated bool    `json:"new_version_created"`
	VersionID         string  `json:"version_id,omitempty"`
	TestID            string  `json:"test_id,omitempty"`
	ChangesApplied    int     `json:"changes_applied"`
	ChangesSkipped    int     `json:"changes_skipped"`
	Reason            string  `json:"reason"`
	Issues            []Issue `json:"issues,omitempty"`
}

// Service runs the improvement loop: analyze recent sessions, propose and
// safety-filter config deltas, snapshot them into a new version, and put
// the version under A/B test against the current active one.
type Service struct {
	archive archive.Archive
	logger  *zap.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) ServiceOption {
	return func(s *Service) { s.metrics = c }
}

// NewService creates a Service over the given version archive.
func NewService(arc archive.Archive, opts ...ServiceOption) *Service {
	s := &Service{
		archive: arc,
		logger:  zap.NewNop(),
		tracer:  otel.Tracer("kaizen/improvement"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "improvement_service"))
	return s
}

// RunImprovementCycle performs one full analyze-propose-version-test pass
// for an orchestrator. When no significant issue is found it returns
// without creating anything; the active version keeps serving.
func (s *Service) RunImprovementCycle(ctx context.Context, orchestratorID string, input CycleInput) (*CycleResult, error) {
	ctx, span := s.tracer.Start(ctx, "improvement.cycle",
		trace.WithAttributes(attribute.String("orchestrator.id", orchestratorID)))
	defer span.End()
	start := time.Now()

	active, err := s.archive.GetActiveVersion(ctx, orchestratorID)
	if err != nil {
		s.metrics.ObserveCycle("error", time.Since(start))
		return nil, err
	}

	analysis := analyze(active, input.RecentEvaluations, input.RecentReflections)
	span.SetAttributes(
		attribute.Int("analysis.issues", len(analysis.Issues)),
		attribute.Float64("analysis.confidence", analysis.Confidence),
	)
	if len(analysis.Issues) == 0 {
		s.logger.Info("improvement cycle found nothing to change",
			zap.String("orchestrator_id", orchestratorID),
			zap.Float64("success_rate", analysis.SuccessRate))
		s.metrics.ObserveCycle("no_issues", time.Since(start))
		return &CycleResult{Reason: "No significant issues identified"}, nil
	}

	proposed := proposeChanges(active.Config, analysis.Issues, input.RecentReflections)
	kept, skipped := filterChanges(proposed)
	s.metrics.AddChanges(len(kept), len(skipped))
	for _, reason := range skipped {
		s.logger.Debug("change skipped", zap.String("reason", reason))
	}
	if len(kept) == 0 {
		s.metrics.ObserveCycle("all_filtered", time.Since(start))
		return &CycleResult{
			ChangesSkipped: len(skipped),
			Reason:         "all proposed changes were filtered out",
			Issues:         analysis.Issues,
		}, nil
	}

	newConfig, improvements, err := s.buildCandidate(active.Config, kept)
	if err != nil {
		s.metrics.ObserveCycle("error", time.Since(start))
		return nil, err
	}

	candidate, err := s.archive.CreateNewVersion(ctx, orchestratorID, archive.CreateVersionRequest{
		Config:       newConfig,
		Improvements: improvements,
	})
	if err != nil {
		s.metrics.ObserveCycle("error", time.Since(start))
		return nil, err
	}
	s.metrics.IncVersionCreated()

	test, err := s.archive.StartABTest(ctx, candidate.ID, active.ID, archive.ABTestConfig{
		TrafficSplit:    defaultTrafficSplit,
		MinSampleSize:   defaultMinSampleSize,
		MaxDurationDays: defaultMaxDurationDays,
	})
	if err != nil {
		// The version stays as a draft; a later cycle can retry once the
		// current candidate's test ends.
		if types.IsCode(err, types.ErrCandidateExists) {
			s.logger.Info("candidate already under test, keeping new version as draft",
				zap.String("orchestrator_id", orchestratorID),
				zap.String("version_id", candidate.ID))
			s.metrics.ObserveCycle("test_blocked", time.Since(start))
			return &CycleResult{
				NewVersionCreated: true,
				VersionID:         candidate.ID,
				ChangesApplied:    len(kept),
				ChangesSkipped:    len(skipped),
				Reason:            "another candidate is already under test",
				Issues:            analysis.Issues,
			}, nil
		}
		s.metrics.ObserveCycle("error", time.Since(start))
		return nil, err
	}
	s.metrics.IncTestStarted()

	s.logger.Info("improvement cycle created candidate version",
		zap.String("orchestrator_id", orchestratorID),
		zap.String("version_id", candidate.ID),
		zap.String("test_id", test.ID),
		zap.Int("changes", len(kept)),
		zap.Int("skipped", len(skipped)))
	s.metrics.ObserveCycle("candidate_created", time.Since(start))

	return &CycleResult{
		NewVersionCreated: true,
		VersionID:         candidate.ID,
		TestID:            test.ID,
		ChangesApplied:    len(kept),
		ChangesSkipped:    len(skipped),
		Reason:            fmt.Sprintf("created version %d to address %d issue(s)", candidate.Version, len(analysis.Issues)),
		Issues:            analysis.Issues,
	}, nil
}

// buildCandidate applies config deltas to a copy of the active config and
// collects the improvement descriptions for the version record. Heuristic
// changes carry no path and only contribute a description.
func (s *Service) buildCandidate(config types.OrchestratorConfig, changes []ProposedChange) (types.OrchestratorConfig, []string, error) {
	var deltas []archive.ConfigDelta
	improvements := make([]string, 0, len(changes))
	for _, c := range changes {
		if c.Type == ChangeTypeConfig {
			deltas = append(deltas, archive.ConfigDelta{Path: c.Path, Value: c.Value})
			improvements = append(improvements, fmt.Sprintf("%s -> %v: %s", c.Path, c.Value, c.Rationale))
			continue
		}
		improvements = append(improvements, c.Rationale)
	}
	patched, err := archive.PatchConfig(config, deltas)
	if err != nil {
		return config, nil, err
	}
	return patched, improvements, nil
}

// EvaluateAndActOnTest evaluates a running test and acts on the verdict:
// promote swaps the candidate in as active and ends the test, rollback
// ends the test (retiring the candidate), continue leaves it running.
func (s *Service) EvaluateAndActOnTest(ctx context.Context, testID string) (*archive.TestEvaluation, error) {
	ctx, span := s.tracer.Start(ctx, "improvement.evaluate_test",
		trace.WithAttributes(attribute.String("test.id", testID)))
	defer span.End()

	eval, err := s.archive.EvaluateABTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("test.recommendation", string(eval.Recommendation)))

	switch eval.Recommendation {
	case archive.RecommendPromote:
		if err := s.archive.PromoteVersion(ctx, eval.CandidateID); err != nil {
			return nil, err
		}
		if err := s.archive.EndABTest(ctx, testID); err != nil {
			return nil, err
		}
		s.metrics.IncTestPromoted()
		s.logger.Info("candidate promoted",
			zap.String("test_id", testID),
			zap.String("version_id", eval.CandidateID),
			zap.String("reason", eval.Reason))
	case archive.RecommendRollback:
		if err := s.archive.EndABTest(ctx, testID); err != nil {
			return nil, err
		}
		s.metrics.IncTestRolledBack()
		s.logger.Info("candidate rolled back",
			zap.String("test_id", testID),
			zap.String("version_id", eval.CandidateID),
			zap.String("reason", eval.Reason))
	default:
		s.logger.Debug("test continues",
			zap.String("test_id", testID),
			zap.String("reason", eval.Reason))
	}
	return eval, nil
}
