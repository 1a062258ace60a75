package improvement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nakamura-labs/kaizen/archive"
	"github.com/nakamura-labs/kaizen/testutil"
	"github.com/nakamura-labs/kaizen/types"
)

func newServiceFixture(t *testing.T) (*Service, *archive.MemoryArchive, *types.OrchestratorVersion) {
	t.Helper()
	arc := archive.NewMemoryArchive(zap.NewNop())
	active, err := arc.EnsureOrchestrator(testutil.TestContext(t), "orch-1", types.DefaultOrchestratorConfig())
	require.NoError(t, err)
	return NewService(arc, WithLogger(zap.NewNop())), arc, active
}

func TestRunImprovementCycleNoIssues(t *testing.T) {
	ctx := testutil.TestContext(t)
	svc, arc, _ := newServiceFixture(t)

	result, err := svc.RunImprovementCycle(ctx, "orch-1", CycleInput{
		RecentEvaluations: mixedEvals(10, 9),
	})
	require.NoError(t, err)

	assert.False(t, result.NewVersionCreated)
	assert.Empty(t, result.VersionID)
	assert.Equal(t, "No significant issues identified", result.Reason)

	// Nothing was created.
	history, err := arc.GetVersionHistory(ctx, "orch-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRunImprovementCycleCreatesCandidate(t *testing.T) {
	ctx := testutil.TestContext(t)
	svc, arc, active := newServiceFixture(t)

	result, err := svc.RunImprovementCycle(ctx, "orch-1", CycleInput{
		RecentEvaluations: mixedEvals(12, 5),
	})
	require.NoError(t, err)

	assert.True(t, result.NewVersionCreated)
	assert.NotEmpty(t, result.VersionID)
	assert.NotEmpty(t, result.TestID)
	assert.Equal(t, 1, result.ChangesApplied)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, IssueLowSuccessRate, result.Issues[0].Type)

	history, err := arc.GetVersionHistory(ctx, "orch-1")
	require.NoError(t, err)
	require.Len(t, history, 2)

	candidate := history[0]
	assert.Equal(t, result.VersionID, candidate.ID)
	assert.Equal(t, types.VersionStatusCandidate, candidate.Status)
	// The candidate carries the patched config; the active one is untouched.
	assert.Equal(t, 20, candidate.Config.Monitoring.CheckIntervalSeconds)
	assert.NotEmpty(t, candidate.Improvements)

	current, err := arc.GetActiveVersion(ctx, "orch-1")
	require.NoError(t, err)
	assert.Equal(t, active.ID, current.ID)
	assert.Equal(t, 30, current.Config.Monitoring.CheckIntervalSeconds)
}

func TestRunImprovementCycleBlockedByRunningTest(t *testing.T) {
	ctx := testutil.TestContext(t)
	svc, arc, _ := newServiceFixture(t)

	input := CycleInput{RecentEvaluations: mixedEvals(12, 5)}
	first, err := svc.RunImprovementCycle(ctx, "orch-1", input)
	require.NoError(t, err)
	require.NotEmpty(t, first.TestID)

	// A second cycle still creates a draft but cannot start another test.
	second, err := svc.RunImprovementCycle(ctx, "orch-1", input)
	require.NoError(t, err)
	assert.True(t, second.NewVersionCreated)
	assert.Empty(t, second.TestID)
	assert.Contains(t, second.Reason, "already under test")

	history, err := arc.GetVersionHistory(ctx, "orch-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, types.VersionStatusDraft, history[0].Status)
}

func TestRunImprovementCycleNoActiveVersion(t *testing.T) {
	ctx := testutil.TestContext(t)
	svc := NewService(archive.NewMemoryArchive(zap.NewNop()))

	_, err := svc.RunImprovementCycle(ctx, "ghost", CycleInput{})
	assert.True(t, types.IsCode(err, types.ErrNoActiveVersion))
}

func TestEvaluateAndActOnTestPromotes(t *testing.T) {
	ctx := testutil.TestContext(t)
	svc, arc, active := newServiceFixture(t)

	result, err := svc.RunImprovementCycle(ctx, "orch-1", CycleInput{
		RecentEvaluations: mixedEvals(12, 5),
	})
	require.NoError(t, err)

	for i := 0; i < 12; i++ {
		jitter := float64(i%3-1) * 0.01
		require.NoError(t, arc.RecordSample(ctx, result.TestID, active.ID, 0.5+jitter))
		require.NoError(t, arc.RecordSample(ctx, result.TestID, result.VersionID, 0.8+jitter))
	}

	eval, err := svc.EvaluateAndActOnTest(ctx, result.TestID)
	require.NoError(t, err)
	assert.Equal(t, archive.RecommendPromote, eval.Recommendation)

	current, err := arc.GetActiveVersion(ctx, "orch-1")
	require.NoError(t, err)
	assert.Equal(t, result.VersionID, current.ID)
	assert.Equal(t, 20, current.Config.Monitoring.CheckIntervalSeconds)
}

func TestEvaluateAndActOnTestRollsBack(t *testing.T) {
	ctx := testutil.TestContext(t)
	svc, arc, active := newServiceFixture(t)

	result, err := svc.RunImprovementCycle(ctx, "orch-1", CycleInput{
		RecentEvaluations: mixedEvals(12, 5),
	})
	require.NoError(t, err)

	for i := 0; i < 12; i++ {
		jitter := float64(i%3-1) * 0.01
		require.NoError(t, arc.RecordSample(ctx, result.TestID, active.ID, 0.8+jitter))
		require.NoError(t, arc.RecordSample(ctx, result.TestID, result.VersionID, 0.5+jitter))
	}

	eval, err := svc.EvaluateAndActOnTest(ctx, result.TestID)
	require.NoError(t, err)
	assert.Equal(t, archive.RecommendRollback, eval.Recommendation)

	// The baseline stays active and the candidate is retired.
	current, err := arc.GetActiveVersion(ctx, "orch-1")
	require.NoError(t, err)
	assert.Equal(t, active.ID, current.ID)

	history, err := arc.GetVersionHistory(ctx, "orch-1")
	require.NoError(t, err)
	for _, v := range history {
		if v.ID == result.VersionID {
			assert.Equal(t, types.VersionStatusRetired, v.Status)
		}
	}
}

func TestEvaluateAndActOnTestContinues(t *testing.T) {
	ctx := testutil.TestContext(t)
	svc, _, _ := newServiceFixture(t)

	result, err := svc.RunImprovementCycle(ctx, "orch-1", CycleInput{
		RecentEvaluations: mixedEvals(12, 5),
	})
	require.NoError(t, err)

	eval, err := svc.EvaluateAndActOnTest(ctx, result.TestID)
	require.NoError(t, err)
	assert.Equal(t, archive.RecommendContinue, eval.Recommendation)
}
