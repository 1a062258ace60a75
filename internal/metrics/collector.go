// Package metrics provides internal metrics collection for the
// self-improvement core. This package is internal and should not be
// imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector aggregates the core's prometheus metrics. A nil *Collector is
// valid and records nothing, so instrumentation points need no guards.
type Collector struct {
	cyclesTotal         *prometheus.CounterVec
	cycleDuration       prometheus.Histogram
	versionsCreated     prometheus.Counter
	testsStarted        prometheus.Counter
	testsPromoted       prometheus.Counter
	testsRolledBack     prometheus.Counter
	changesApplied      prometheus.Counter
	changesSkipped      prometheus.Counter
	evaluationsTotal    *prometheus.CounterVec
	episodesStored      prometheus.Counter
	episodeSearches     prometheus.Counter
	episodeSearchHits   prometheus.Histogram
	episodesCompacted   prometheus.Counter
	improvementsWritten *prometheus.CounterVec
}

// NewCollector registers the core's metrics against the given registerer.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if namespace == "" {
		namespace = "kaizen"
	}
	factory := promauto.With(reg)

	return &Collector{
		cyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "improvement_cycles_total",
			Help:      "Improvement cycles run, by result.",
		}, []string{"result"}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "improvement_cycle_duration_seconds",
			Help:      "Wall time of one improvement cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		versionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "versions_created_total",
			Help:      "Candidate orchestrator versions created.",
		}),
		testsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ab_tests_started_total",
			Help:      "A/B tests started.",
		}),
		testsPromoted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ab_tests_promoted_total",
			Help:      "A/B tests ending in candidate promotion.",
		}),
		testsRolledBack: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ab_tests_rolled_back_total",
			Help:      "A/B tests ending in rollback.",
		}),
		changesApplied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposed_changes_applied_total",
			Help:      "Proposed config changes that passed the safety filter.",
		}),
		changesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposed_changes_skipped_total",
			Help:      "Proposed config changes rejected by the safety filter or confidence cut.",
		}),
		evaluationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_evaluations_total",
			Help:      "Transcript evaluations, by outcome.",
		}, []string{"outcome"}),
		episodesStored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "episodes_stored_total",
			Help:      "Episodes written to the episodic store.",
		}),
		episodeSearches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "episode_searches_total",
			Help:      "Similarity searches issued against the episodic store.",
		}),
		episodeSearchHits: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "episode_search_results",
			Help:      "Result count per episodic search.",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20},
		}),
		episodesCompacted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "episodes_compacted_total",
			Help:      "Episodes whose trajectories were truncated by compaction.",
		}),
		improvementsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instruction_improvements_total",
			Help:      "Improvement actions written to project instructions, by result.",
		}, []string{"result"}),
	}
}

func (c *Collector) ObserveCycle(result string, d time.Duration) {
	if c == nil {
		return
	}
	c.cyclesTotal.WithLabelValues(result).Inc()
	c.cycleDuration.Observe(d.Seconds())
}

func (c *Collector) IncVersionCreated() {
	if c == nil {
		return
	}
	c.versionsCreated.Inc()
}

func (c *Collector) IncTestStarted() {
	if c == nil {
		return
	}
	c.testsStarted.Inc()
}

func (c *Collector) IncTestPromoted() {
	if c == nil {
		return
	}
	c.testsPromoted.Inc()
}

func (c *Collector) IncTestRolledBack() {
	if c == nil {
		return
	}
	c.testsRolledBack.Inc()
}

func (c *Collector) AddChanges(applied, skipped int) {
	if c == nil {
		return
	}
	c.changesApplied.Add(float64(applied))
	c.changesSkipped.Add(float64(skipped))
}

func (c *Collector) IncEvaluation(outcome string) {
	if c == nil {
		return
	}
	c.evaluationsTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) IncEpisodeStored() {
	if c == nil {
		return
	}
	c.episodesStored.Inc()
}

func (c *Collector) ObserveSearch(results int) {
	if c == nil {
		return
	}
	c.episodeSearches.Inc()
	c.episodeSearchHits.Observe(float64(results))
}

func (c *Collector) AddCompacted(n int) {
	if c == nil {
		return
	}
	c.episodesCompacted.Add(float64(n))
}

func (c *Collector) IncImprovementWritten(result string) {
	if c == nil {
		return
	}
	c.improvementsWritten.WithLabelValues(result).Inc()
}
