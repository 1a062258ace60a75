package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nakamura-labs/kaizen/testutil"
	"github.com/nakamura-labs/kaizen/types"
)

func TestMemoryArchiveEnsureOrchestrator(t *testing.T) {
	ctx := testutil.TestContext(t)
	a := NewMemoryArchive(zap.NewNop())

	v1, err := a.EnsureOrchestrator(ctx, "orch-1", types.DefaultOrchestratorConfig())
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, types.VersionStatusActive, v1.Status)

	// Idempotent: a second call returns the same active version.
	again, err := a.EnsureOrchestrator(ctx, "orch-1", types.DefaultOrchestratorConfig())
	require.NoError(t, err)
	assert.Equal(t, v1.ID, again.ID)

	active, err := a.GetActiveVersion(ctx, "orch-1")
	require.NoError(t, err)
	assert.Equal(t, v1.ID, active.ID)
}

func TestMemoryArchiveNoActiveVersion(t *testing.T) {
	ctx := testutil.TestContext(t)
	a := NewMemoryArchive(zap.NewNop())

	_, err := a.GetActiveVersion(ctx, "unknown")
	assert.True(t, types.IsCode(err, types.ErrNoActiveVersion))
}

func TestMemoryArchiveVersionNumbersAreMonotonic(t *testing.T) {
	ctx := testutil.TestContext(t)
	a := NewMemoryArchive(zap.NewNop())

	_, err := a.EnsureOrchestrator(ctx, "orch-1", types.DefaultOrchestratorConfig())
	require.NoError(t, err)

	v2, err := a.CreateNewVersion(ctx, "orch-1", CreateVersionRequest{
		Config:       types.DefaultOrchestratorConfig(),
		Improvements: []string{"tighter monitoring"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, types.VersionStatusDraft, v2.Status)

	v3, err := a.CreateNewVersion(ctx, "orch-1", CreateVersionRequest{Config: types.DefaultOrchestratorConfig()})
	require.NoError(t, err)
	assert.Equal(t, 3, v3.Version)

	history, err := a.GetVersionHistory(ctx, "orch-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 3, history[0].Version)
	assert.Equal(t, 1, history[2].Version)
}

func TestMemoryArchiveSingleCandidateInvariant(t *testing.T) {
	ctx := testutil.TestContext(t)
	a := NewMemoryArchive(zap.NewNop())

	baseline, err := a.EnsureOrchestrator(ctx, "orch-1", types.DefaultOrchestratorConfig())
	require.NoError(t, err)
	c1, err := a.CreateNewVersion(ctx, "orch-1", CreateVersionRequest{Config: types.DefaultOrchestratorConfig()})
	require.NoError(t, err)
	c2, err := a.CreateNewVersion(ctx, "orch-1", CreateVersionRequest{Config: types.DefaultOrchestratorConfig()})
	require.NoError(t, err)

	cfg := ABTestConfig{TrafficSplit: 0.3, MinSampleSize: 5, MaxDurationDays: 3}
	_, err = a.StartABTest(ctx, c1.ID, baseline.ID, cfg)
	require.NoError(t, err)

	_, err = a.StartABTest(ctx, c2.ID, baseline.ID, cfg)
	assert.True(t, types.IsCode(err, types.ErrCandidateExists))
}

func TestMemoryArchiveStartABTestUnknownVersions(t *testing.T) {
	ctx := testutil.TestContext(t)
	a := NewMemoryArchive(zap.NewNop())

	baseline, err := a.EnsureOrchestrator(ctx, "orch-1", types.DefaultOrchestratorConfig())
	require.NoError(t, err)

	cfg := ABTestConfig{MinSampleSize: 5}
	_, err = a.StartABTest(ctx, "nope", baseline.ID, cfg)
	assert.True(t, types.IsCode(err, types.ErrVersionNotFound))
	_, err = a.StartABTest(ctx, baseline.ID, "nope", cfg)
	assert.True(t, types.IsCode(err, types.ErrVersionNotFound))
}

func TestMemoryArchivePromoteRetiresOldActive(t *testing.T) {
	ctx := testutil.TestContext(t)
	a := NewMemoryArchive(zap.NewNop())

	v1, err := a.EnsureOrchestrator(ctx, "orch-1", types.DefaultOrchestratorConfig())
	require.NoError(t, err)
	v2, err := a.CreateNewVersion(ctx, "orch-1", CreateVersionRequest{Config: types.DefaultOrchestratorConfig()})
	require.NoError(t, err)

	require.NoError(t, a.PromoteVersion(ctx, v2.ID))

	active, err := a.GetActiveVersion(ctx, "orch-1")
	require.NoError(t, err)
	assert.Equal(t, v2.ID, active.ID)

	history, err := a.GetVersionHistory(ctx, "orch-1")
	require.NoError(t, err)
	for _, v := range history {
		if v.ID == v1.ID {
			assert.Equal(t, types.VersionStatusRetired, v.Status)
		}
	}
}

func TestMemoryArchiveABTestLifecycle(t *testing.T) {
	ctx := testutil.TestContext(t)
	a := NewMemoryArchive(zap.NewNop())

	baseline, err := a.EnsureOrchestrator(ctx, "orch-1", types.DefaultOrchestratorConfig())
	require.NoError(t, err)
	candidate, err := a.CreateNewVersion(ctx, "orch-1", CreateVersionRequest{Config: types.DefaultOrchestratorConfig()})
	require.NoError(t, err)

	test, err := a.StartABTest(ctx, candidate.ID, baseline.ID, ABTestConfig{
		TrafficSplit: 0.3, MinSampleSize: 4, MaxDurationDays: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, ABTestStatusRunning, test.Status)

	// Candidate scores are clearly better than baseline scores.
	for i := 0; i < 6; i++ {
		jitter := float64(i%3-1) * 0.01
		require.NoError(t, a.RecordSample(ctx, test.ID, baseline.ID, 0.5+jitter))
		require.NoError(t, a.RecordSample(ctx, test.ID, candidate.ID, 0.8+jitter))
	}

	eval, err := a.EvaluateABTest(ctx, test.ID)
	require.NoError(t, err)
	assert.Equal(t, RecommendPromote, eval.Recommendation)
	assert.Equal(t, candidate.ID, eval.CandidateID)

	require.NoError(t, a.PromoteVersion(ctx, eval.CandidateID))
	require.NoError(t, a.EndABTest(ctx, test.ID))

	active, err := a.GetActiveVersion(ctx, "orch-1")
	require.NoError(t, err)
	assert.Equal(t, candidate.ID, active.ID)
}

func TestMemoryArchiveEndABTestRetiresUnpromotedCandidate(t *testing.T) {
	ctx := testutil.TestContext(t)
	a := NewMemoryArchive(zap.NewNop())

	baseline, err := a.EnsureOrchestrator(ctx, "orch-1", types.DefaultOrchestratorConfig())
	require.NoError(t, err)
	candidate, err := a.CreateNewVersion(ctx, "orch-1", CreateVersionRequest{Config: types.DefaultOrchestratorConfig()})
	require.NoError(t, err)

	test, err := a.StartABTest(ctx, candidate.ID, baseline.ID, ABTestConfig{MinSampleSize: 5})
	require.NoError(t, err)

	require.NoError(t, a.EndABTest(ctx, test.ID))
	// Ending twice is a no-op.
	require.NoError(t, a.EndABTest(ctx, test.ID))

	history, err := a.GetVersionHistory(ctx, "orch-1")
	require.NoError(t, err)
	for _, v := range history {
		if v.ID == candidate.ID {
			assert.Equal(t, types.VersionStatusRetired, v.Status)
		}
	}
	// The baseline stays active throughout.
	active, err := a.GetActiveVersion(ctx, "orch-1")
	require.NoError(t, err)
	assert.Equal(t, baseline.ID, active.ID)
}

func TestMemoryArchiveRecordSampleUnknownTest(t *testing.T) {
	ctx := testutil.TestContext(t)
	a := NewMemoryArchive(zap.NewNop())
	err := a.RecordSample(ctx, "nope", "v", 0.5)
	assert.True(t, types.IsCode(err, types.ErrTestNotFound))
}
