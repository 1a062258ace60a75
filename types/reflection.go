package types

import "time"

// Priority ranks how urgently a reflection should be acted on.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ActionType identifies which writer an improvement action dispatches to.
type ActionType string

const (
	ActionAddToClaudeMD      ActionType = "add_to_claudemd"
	ActionAddGotcha          ActionType = "add_gotcha"
	ActionAddConvention      ActionType = "add_convention"
	ActionAddPattern         ActionType = "add_pattern"
	ActionAddSkill           ActionType = "add_skill"
	ActionCreateTool         ActionType = "create_tool"
	ActionAddPlanningPattern ActionType = "add_planning_pattern"
)

// SuggestedAction is one confidence-scored improvement derived from a
// reflection. Confidence is always in [0,1].
type SuggestedAction struct {
	Type           ActionType `json:"type"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Implementation string     `json:"implementation,omitempty"`
	Confidence     float64    `json:"confidence"`
	Source         string     `json:"source,omitempty"`
}

// Reflection holds verbal learnings plus suggested actions derived from one
// transcript evaluation. Created once; consumed by the applicator and the
// self-improvement service.
type Reflection struct {
	SessionID   string            `json:"session_id"`
	Reflections []string          `json:"reflections"`
	Actions     []SuggestedAction `json:"actions,omitempty"` // deduped by (type,title), max 5
	Priority    Priority          `json:"priority"`
	Confidence  float64           `json:"confidence"`
	CreatedAt   time.Time         `json:"created_at"`
}
