package episode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nakamura-labs/kaizen/testutil"
	"github.com/nakamura-labs/kaizen/types"
)

func rowWithVector(id string, vec []float64, ep types.Episode) Row {
	ep.ID = id
	return Row{ID: id, Episode: ep, Embedding: vec}
}

func TestMemoryTableCRUD(t *testing.T) {
	ctx := testutil.TestContext(t)
	table := NewMemoryTable(zap.NewNop())
	require.NoError(t, table.Init(ctx))

	ep := *testutil.Episode("", "add caching to the API", types.EpisodeOutcomeSuccess)
	require.NoError(t, table.Insert(ctx, rowWithVector("ep-1", []float64{1, 0}, ep)))

	got, err := table.Get(ctx, "ep-1")
	require.NoError(t, err)
	assert.Equal(t, "add caching to the API", got.Episode.Context)

	count, err := table.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, table.Delete(ctx, "ep-1"))
	_, err = table.Get(ctx, "ep-1")
	assert.True(t, types.IsCode(err, types.ErrEpisodeNotFound))
}

func TestMemoryTableQueryOrdersByDistance(t *testing.T) {
	ctx := testutil.TestContext(t)
	table := NewMemoryTable(zap.NewNop())

	ep := *testutil.Episode("", "task", types.EpisodeOutcomeSuccess)
	require.NoError(t, table.Insert(ctx, rowWithVector("far", []float64{0, 1}, ep)))
	require.NoError(t, table.Insert(ctx, rowWithVector("near", []float64{1, 0.1}, ep)))
	require.NoError(t, table.Insert(ctx, rowWithVector("exact", []float64{1, 0}, ep)))

	matches, err := table.Query(ctx, []float64{1, 0}, 2, RowFilter{})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "exact", matches[0].Row.ID)
	assert.Equal(t, "near", matches[1].Row.ID)
	assert.InDelta(t, 0, matches[0].Distance, 1e-9)
	assert.Less(t, matches[0].Distance, matches[1].Distance)
}

func TestMemoryTableQueryFilters(t *testing.T) {
	ctx := testutil.TestContext(t)
	table := NewMemoryTable(zap.NewNop())

	success := *testutil.Episode("", "task a", types.EpisodeOutcomeSuccess)
	success.FolderID = "proj-1"
	success.QualityScore = 80

	failure := *testutil.Episode("", "task b", types.EpisodeOutcomeFailure)
	failure.FolderID = "proj-2"
	failure.QualityScore = 30

	require.NoError(t, table.Insert(ctx, rowWithVector("s", []float64{1, 0}, success)))
	require.NoError(t, table.Insert(ctx, rowWithVector("f", []float64{1, 0}, failure)))

	matches, err := table.Query(ctx, []float64{1, 0}, 0, RowFilter{
		Outcomes: []types.EpisodeOutcome{types.EpisodeOutcomeSuccess},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "s", matches[0].Row.ID)

	matches, err = table.Query(ctx, []float64{1, 0}, 0, RowFilter{FolderID: "proj-2"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "f", matches[0].Row.ID)

	matches, err = table.Query(ctx, []float64{1, 0}, 0, RowFilter{MinQuality: 50})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "s", matches[0].Row.ID)
}

func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0, cosineDistance([]float64{1, 0}, []float64{2, 0}), 1e-9)
	assert.InDelta(t, 1, cosineDistance([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, 2, cosineDistance([]float64{1, 0}, []float64{-1, 0}), 1e-9)
	// Mismatched or zero vectors yield the maximum distance.
	assert.InDelta(t, 1, cosineDistance([]float64{1, 0}, []float64{1}), 1e-9)
	assert.InDelta(t, 1, cosineDistance([]float64{0, 0}, []float64{1, 0}), 1e-9)
}

func TestMemoryTableContextCancelled(t *testing.T) {
	table := NewMemoryTable(zap.NewNop())
	ctx := testutil.CancelledContext()

	assert.Error(t, table.Init(ctx))
	assert.Error(t, table.Insert(ctx, Row{ID: "x"}))
	_, err := table.List(ctx)
	assert.Error(t, err)
}

func TestRowFilterMinQualityZeroMatchesAll(t *testing.T) {
	ep := *testutil.Episode("", "task", types.EpisodeOutcomeFailure)
	ep.QualityScore = 0
	ep.CreatedAt = time.Now()
	assert.True(t, RowFilter{}.Matches(Row{ID: "x", Episode: ep}))
}
