package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.ObserveCycle("no_issues", time.Second)
		c.IncVersionCreated()
		c.IncTestStarted()
		c.IncTestPromoted()
		c.IncTestRolledBack()
		c.AddChanges(2, 1)
		c.IncEvaluation("success")
		c.IncEpisodeStored()
		c.ObserveSearch(3)
		c.AddCompacted(5)
		c.IncImprovementWritten("applied")
	})
}

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("testns", reg)

	c.ObserveCycle("candidate_created", 250*time.Millisecond)
	c.ObserveCycle("candidate_created", 100*time.Millisecond)
	c.ObserveCycle("no_issues", 50*time.Millisecond)
	c.IncVersionCreated()
	c.AddChanges(3, 2)
	c.IncEvaluation("success")
	c.IncEvaluation("success")
	c.IncEvaluation("failure")
	c.ObserveSearch(4)
	c.IncImprovementWritten("applied")

	counter := func(vec *prometheus.CounterVec, label string) float64 {
		return testutil.ToFloat64(vec.WithLabelValues(label))
	}
	assert.Equal(t, 2.0, counter(c.cyclesTotal, "candidate_created"))
	assert.Equal(t, 1.0, counter(c.cyclesTotal, "no_issues"))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.versionsCreated))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.changesApplied))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.changesSkipped))
	assert.Equal(t, 2.0, counter(c.evaluationsTotal, "success"))
	assert.Equal(t, 1.0, counter(c.evaluationsTotal, "failure"))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.episodeSearches))
	assert.Equal(t, 1.0, counter(c.improvementsWritten, "applied"))
}

func TestCollectorDefaultNamespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("", reg)
	c.IncVersionCreated()

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if f.GetName() == "kaizen_versions_created_total" {
			found = true
		}
	}
	assert.True(t, found)
}
