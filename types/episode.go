package types

import "time"

// EpisodeType classifies what kind of experience an episode records.
type EpisodeType string

const (
	EpisodeTaskExecution    EpisodeType = "task_execution"
	EpisodeErrorRecovery    EpisodeType = "error_recovery"
	EpisodeToolDiscovery    EpisodeType = "tool_discovery"
	EpisodeAgentInteraction EpisodeType = "agent_interaction"
	EpisodeUserFeedback     EpisodeType = "user_feedback"
)

// EpisodeOutcome records how the underlying task ended.
type EpisodeOutcome string

const (
	EpisodeOutcomeSuccess   EpisodeOutcome = "success"
	EpisodeOutcomeFailure   EpisodeOutcome = "failure"
	EpisodeOutcomePartial   EpisodeOutcome = "partial"
	EpisodeOutcomeCancelled EpisodeOutcome = "cancelled"
)

// EpisodeResult captures what happened when the task ran.
type EpisodeResult struct {
	Result    string        `json:"result,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Errors    int           `json:"errors,omitempty"`
	ToolCalls int           `json:"tool_calls,omitempty"`
}

// EpisodeReflection holds the reflective content attached to an episode.
type EpisodeReflection struct {
	WhatWorked  []string `json:"what_worked,omitempty"`
	WhatFailed  []string `json:"what_failed,omitempty"`
	KeyInsights []string `json:"key_insights,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	UserRating  *int     `json:"user_rating,omitempty"` // 1-5
}

// TrajectoryStep is one ordered action/observation pair from the run.
type TrajectoryStep struct {
	Action      string `json:"action"`
	Observation string `json:"observation,omitempty"`
}

// Trajectory is the bounded record of what the agent did.
type Trajectory struct {
	Actions      []string `json:"actions,omitempty"`
	Observations []string `json:"observations,omitempty"`
}

// Episode is one stored unit of task experience used for similarity
// retrieval. QualityScore is always recomputed from the episode's own
// fields; it is derived, never authoritative on its own.
type Episode struct {
	ID           string            `json:"id"`
	TaskID       string            `json:"task_id,omitempty"`
	FolderID     string            `json:"folder_id,omitempty"`
	Type         EpisodeType       `json:"type"`
	Outcome      EpisodeOutcome    `json:"outcome"`
	Context      string            `json:"context"` // task description
	Result       EpisodeResult     `json:"result"`
	Reflection   EpisodeReflection `json:"reflection"`
	Tags         []string          `json:"tags,omitempty"`
	Trajectory   Trajectory        `json:"trajectory"`
	QualityScore float64           `json:"quality_score"` // 0-100, derived
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}
