package improvement

import (
	"fmt"
	"time"

	"github.com/nakamura-labs/kaizen/types"
)

// IssueType tags one detected orchestration problem. Each type maps to
// exactly one candidate config delta in proposeChanges; the mapping is a
// flat rule table, not a hierarchy.
type IssueType string

const (
	IssueLowSuccessRate     IssueType = "low_success_rate"
	IssueHighDuration       IssueType = "high_duration"
	IssuePoorAgentSelection IssueType = "poor_agent_selection"
	IssueParsingErrors      IssueType = "parsing_errors"
	IssueStallFrequency     IssueType = "stall_frequency"
)

// Severity ranks an issue.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// Issue is one detected problem with the current orchestration behavior.
type Issue struct {
	Type     IssueType `json:"type"`
	Severity Severity  `json:"severity"`
	Detail   string    `json:"detail"`
}

// Analysis summarizes recent performance against the active version.
type Analysis struct {
	SuccessRate float64 `json:"success_rate"`
	AvgDuration float64 `json:"avg_duration_seconds"`
	Issues      []Issue `json:"issues"`
	Confidence  float64 `json:"confidence"`
}

const (
	baselineDurationSeconds = 600.0
	analysisFullConfidence  = 20 // evaluations needed for confidence 1.0
)

// analyze mines recent evaluations and reflections for issues. All checks
// are independent; any subset may fire.
func analyze(version *types.OrchestratorVersion, evals []*types.TranscriptEvaluation, reflections []*types.Reflection) Analysis {
	a := Analysis{}
	if len(evals) > 0 {
		successes := 0
		var totalDuration time.Duration
		errored := 0
		for _, e := range evals {
			if e.Outcome == types.OutcomeSuccess {
				successes++
			}
			if len(e.Errors) > 0 {
				errored++
			}
			totalDuration += e.Metrics.Duration
		}
		a.SuccessRate = float64(successes) / float64(len(evals))
		a.AvgDuration = totalDuration.Seconds() / float64(len(evals))

		if a.SuccessRate < 0.7 {
			severity := SeverityMedium
			if a.SuccessRate < 0.5 {
				severity = SeverityHigh
			}
			a.Issues = append(a.Issues, Issue{
				Type:     IssueLowSuccessRate,
				Severity: severity,
				Detail:   fmt.Sprintf("success rate %.2f over %d evaluations", a.SuccessRate, len(evals)),
			})
		}
		if a.AvgDuration > 1.5*baselineDurationSeconds {
			severity := SeverityMedium
			if a.AvgDuration > 2*baselineDurationSeconds {
				severity = SeverityHigh
			}
			a.Issues = append(a.Issues, Issue{
				Type:     IssueHighDuration,
				Severity: severity,
				Detail:   fmt.Sprintf("average duration %.0fs against a %.0fs baseline", a.AvgDuration, baselineDurationSeconds),
			})
		}
		if float64(errored) > float64(len(evals))*0.5 {
			a.Issues = append(a.Issues, Issue{
				Type:     IssueParsingErrors,
				Severity: SeverityMedium,
				Detail:   fmt.Sprintf("%d of %d evaluations recorded errors", errored, len(evals)),
			})
		}
	}

	if version.Metrics.AgentSelectionAccuracy < 0.7 && version.Metrics.TasksEvaluated >= 5 {
		a.Issues = append(a.Issues, Issue{
			Type:     IssuePoorAgentSelection,
			Severity: SeverityMedium,
			Detail: fmt.Sprintf("agent selection accuracy %.2f over %d tasks",
				version.Metrics.AgentSelectionAccuracy, version.Metrics.TasksEvaluated),
		})
	}
	for _, r := range reflections {
		if r.Priority == types.PriorityHigh {
			a.Issues = append(a.Issues, Issue{
				Type:     IssueStallFrequency,
				Severity: SeverityMedium,
				Detail:   "high-priority reflection present among recent sessions",
			})
			break
		}
	}

	a.Confidence = float64(len(evals)) / analysisFullConfidence
	if a.Confidence > 1 {
		a.Confidence = 1
	}
	return a
}

// proposeChanges maps each issue to its fixed config delta, then turns
// every high-confidence suggested action from recent reflections into a
// heuristic change.
func proposeChanges(config types.OrchestratorConfig, issues []Issue, reflections []*types.Reflection) []ProposedChange {
	var changes []ProposedChange

	for _, issue := range issues {
		switch issue.Type {
		case IssueLowSuccessRate:
			next := config.Monitoring.CheckIntervalSeconds - 10
			if next < 15 {
				next = 15
			}
			changes = append(changes, ProposedChange{
				Type:           ChangeTypeConfig,
				Path:           "monitoring.check_interval_seconds",
				Value:          next,
				Rationale:      "tighten monitoring to catch failing tasks earlier",
				Confidence:     0.7,
				ExpectedImpact: 0.1,
			})
		case IssueHighDuration:
			next := config.Monitoring.StallThresholdSeconds - 60
			if next < 120 {
				next = 120
			}
			changes = append(changes, ProposedChange{
				Type:           ChangeTypeConfig,
				Path:           "monitoring.stall_threshold_seconds",
				Value:          next,
				Rationale:      "lower the stall threshold so slow tasks are intervened on sooner",
				Confidence:     0.6,
				ExpectedImpact: 0.08,
			})
		case IssuePoorAgentSelection:
			next := config.AgentSelection.PerformanceWeight + 0.1
			if next > 0.95 {
				next = 0.95
			}
			changes = append(changes, ProposedChange{
				Type:           ChangeTypeConfig,
				Path:           "agent_selection.performance_weight",
				Value:          next,
				Rationale:      "weight past performance more heavily when picking agents",
				Confidence:     0.65,
				ExpectedImpact: 0.08,
			})
		case IssueParsingErrors:
			next := config.TaskParsingHeuristics.ConfidenceThreshold + 0.1
			if next > 0.85 {
				next = 0.85
			}
			changes = append(changes, ProposedChange{
				Type:           ChangeTypeConfig,
				Path:           "task_parsing_heuristics.confidence_threshold",
				Value:          next,
				Rationale:      "require higher parsing confidence before dispatching tasks",
				Confidence:     0.55,
				ExpectedImpact: 0.05,
			})
		case IssueStallFrequency:
			changes = append(changes, ProposedChange{
				Type:           ChangeTypeConfig,
				Path:           "monitoring.max_retries",
				Value:          config.Monitoring.MaxRetries + 1,
				Rationale:      "allow one more retry for sessions that stall",
				Confidence:     0.6,
				ExpectedImpact: 0.05,
			})
		}
	}

	for _, r := range reflections {
		for _, action := range r.Actions {
			if action.Confidence < 0.7 {
				continue
			}
			changes = append(changes, ProposedChange{
				Type:           ChangeTypeHeuristic,
				Rationale:      fmt.Sprintf("adopt heuristic from reflection: %s", action.Title),
				Confidence:     action.Confidence,
				ExpectedImpact: action.Confidence * 0.2,
			})
		}
	}
	return changes
}
