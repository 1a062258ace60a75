// Package archive owns orchestrator version records and their A/B test
// lifecycle. Versions are immutable copy-on-write snapshots; the "active"
// pointer moves only on promotion. The archive enforces the invariant that
// at most one candidate is under test per orchestrator.
package archive

import (
	"context"
	"time"

	"github.com/nakamura-labs/kaizen/types"
)

// CreateVersionRequest carries the config snapshot and the human-readable
// improvement descriptions for a new version.
type CreateVersionRequest struct {
	Config       types.OrchestratorConfig `json:"config"`
	Improvements []string                 `json:"improvements,omitempty"`
}

// ABTestConfig tunes one experiment.
type ABTestConfig struct {
	TrafficSplit    float64 `json:"traffic_split"` // fraction routed to the candidate
	MinSampleSize   int     `json:"min_sample_size"`
	MaxDurationDays int     `json:"max_duration_days"`
}

// ABTestStatus is the experiment lifecycle state.
type ABTestStatus string

const (
	ABTestStatusRunning ABTestStatus = "running"
	ABTestStatusEnded   ABTestStatus = "ended"
)

// ABTest is one live experiment routing a traffic fraction to a candidate
// version against the active baseline.
type ABTest struct {
	ID             string       `json:"id"`
	OrchestratorID string       `json:"orchestrator_id"`
	CandidateID    string       `json:"candidate_id"`
	BaselineID     string       `json:"baseline_id"`
	Config         ABTestConfig `json:"config"`
	Status         ABTestStatus `json:"status"`
	StartedAt      time.Time    `json:"started_at"`
	EndedAt        *time.Time   `json:"ended_at,omitempty"`
}

// Recommendation is the verdict of evaluating a running test.
type Recommendation string

const (
	RecommendPromote  Recommendation = "promote"
	RecommendRollback Recommendation = "rollback"
	RecommendContinue Recommendation = "continue"
)

// TestEvaluation is the outcome of evaluating one A/B test.
type TestEvaluation struct {
	TestID         string                    `json:"test_id"`
	CandidateID    string                    `json:"candidate_id"`
	Recommendation Recommendation            `json:"recommendation"`
	Reason         string                    `json:"reason"`
	Confidence     float64                   `json:"confidence"`
	Config         *types.OrchestratorConfig `json:"config,omitempty"` // candidate config, set on promote
}

// Archive is the version CRUD and experiment lifecycle contract consumed
// by the self-improvement service.
type Archive interface {
	// EnsureOrchestrator returns the active version for the orchestrator,
	// creating version 1 with the given config if none exists yet.
	EnsureOrchestrator(ctx context.Context, orchestratorID string, config types.OrchestratorConfig) (*types.OrchestratorVersion, error)

	// GetActiveVersion returns the single active version, or an error
	// carrying the NO_ACTIVE_VERSION code.
	GetActiveVersion(ctx context.Context, orchestratorID string) (*types.OrchestratorVersion, error)

	// CreateNewVersion creates a draft version with the next monotonic
	// version number. The active version is never mutated.
	CreateNewVersion(ctx context.Context, orchestratorID string, req CreateVersionRequest) (*types.OrchestratorVersion, error)

	// StartABTest moves the candidate to candidate_under_test and starts
	// the experiment. Fails with CANDIDATE_EXISTS if another candidate is
	// already under test for the same orchestrator.
	StartABTest(ctx context.Context, candidateID, baselineID string, cfg ABTestConfig) (*ABTest, error)

	// RecordSample records one scored outcome for a version under test.
	RecordSample(ctx context.Context, testID, versionID string, score float64) error

	// EvaluateABTest compares candidate and baseline samples and returns a
	// promote/rollback/continue recommendation.
	EvaluateABTest(ctx context.Context, testID string) (*TestEvaluation, error)

	// PromoteVersion makes the version active and retires the previously
	// active one. The swap is atomic within the archive.
	PromoteVersion(ctx context.Context, versionID string) error

	// EndABTest ends the experiment. A candidate that was not promoted is
	// retired.
	EndABTest(ctx context.Context, testID string) error

	// GetVersionHistory returns all versions, newest first.
	GetVersionHistory(ctx context.Context, orchestratorID string) ([]*types.OrchestratorVersion, error)
}
