package types

import "time"

// VersionStatus is the lifecycle state of an orchestrator version.
// Transitions: draft/active → candidate_under_test → {active | retired}.
type VersionStatus string

const (
	VersionStatusDraft     VersionStatus = "draft"
	VersionStatusCandidate VersionStatus = "candidate_under_test"
	VersionStatusActive    VersionStatus = "active"
	VersionStatusRetired   VersionStatus = "retired"
)

// MonitoringConfig tunes the orchestrator's task-monitoring loop.
type MonitoringConfig struct {
	CheckIntervalSeconds  int `json:"check_interval_seconds"`
	StallThresholdSeconds int `json:"stall_threshold_seconds"`
	MaxRetries            int `json:"max_retries"`
}

// AgentSelectionConfig tunes how agents are picked for tasks.
type AgentSelectionConfig struct {
	PerformanceWeight float64 `json:"performance_weight"`
}

// TaskParsingConfig tunes how natural-language task requests are parsed.
type TaskParsingConfig struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

// AutonomyConfig bounds what the orchestrator may do without a human.
// auto_apply_improvements is protected by the safety filter and can never
// be changed by the improvement cycle itself.
type AutonomyConfig struct {
	MaxConcurrentTasks    int  `json:"max_concurrent_tasks"`
	AutoApplyImprovements bool `json:"auto_apply_improvements"`
}

// OrchestratorConfig is the structured configuration carried by a version.
type OrchestratorConfig struct {
	Monitoring            MonitoringConfig     `json:"monitoring"`
	AgentSelection        AgentSelectionConfig `json:"agent_selection"`
	TaskParsingHeuristics TaskParsingConfig    `json:"task_parsing_heuristics"`
	Autonomy              AutonomyConfig       `json:"autonomy"`
}

// DefaultOrchestratorConfig returns the baseline configuration for a fresh
// orchestrator version.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Monitoring: MonitoringConfig{
			CheckIntervalSeconds:  30,
			StallThresholdSeconds: 300,
			MaxRetries:            2,
		},
		AgentSelection: AgentSelectionConfig{
			PerformanceWeight: 0.5,
		},
		TaskParsingHeuristics: TaskParsingConfig{
			ConfidenceThreshold: 0.6,
		},
		Autonomy: AutonomyConfig{
			MaxConcurrentTasks:    3,
			AutoApplyImprovements: false,
		},
	}
}

// VersionMetrics accumulates outcome statistics for a version.
type VersionMetrics struct {
	SuccessRate            float64 `json:"success_rate"`
	AgentSelectionAccuracy float64 `json:"agent_selection_accuracy"`
	TasksEvaluated         int     `json:"tasks_evaluated"`
}

// OrchestratorVersion is one immutable configuration snapshot of an
// orchestrator. Exactly one version per orchestrator is active at a time;
// at most one is candidate_under_test (enforced by the version archive).
type OrchestratorVersion struct {
	ID             string             `json:"id"`
	OrchestratorID string             `json:"orchestrator_id"`
	Version        int                `json:"version"`
	Status         VersionStatus      `json:"status"`
	Config         OrchestratorConfig `json:"config"`
	Metrics        VersionMetrics     `json:"metrics"`
	Improvements   []string           `json:"improvements,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}
