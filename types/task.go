package types

import (
	"encoding/json"
	"time"
)

// TaskType classifies the kind of work a task represents.
type TaskType string

const (
	TaskTypeFeature       TaskType = "feature"
	TaskTypeBug           TaskType = "bug"
	TaskTypeRefactor      TaskType = "refactor"
	TaskTypeTest          TaskType = "test"
	TaskTypeDocumentation TaskType = "documentation"
	TaskTypeResearch      TaskType = "research"
	TaskTypeReview        TaskType = "review"
	TaskTypeMaintenance   TaskType = "maintenance"
)

// TaskStatus represents the lifecycle state of a task.
// Valid transitions: queued → planning → executing → monitoring →
// {completed | failed | cancelled}. Terminal states are immutable.
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusPlanning   TaskStatus = "planning"
	TaskStatusExecuting  TaskStatus = "executing"
	TaskStatusMonitoring TaskStatus = "monitoring"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// IsTerminal returns true if the status is a terminal state.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a transition from s to next is legal.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case TaskStatusQueued:
		return next == TaskStatusPlanning || next == TaskStatusCancelled
	case TaskStatusPlanning:
		return next == TaskStatusExecuting || next == TaskStatusFailed || next == TaskStatusCancelled
	case TaskStatusExecuting:
		return next == TaskStatusMonitoring || next == TaskStatusCompleted || next == TaskStatusFailed || next == TaskStatusCancelled
	case TaskStatusMonitoring:
		return next == TaskStatusCompleted || next == TaskStatusFailed || next == TaskStatusCancelled
	default:
		return false
	}
}

// Task is one unit of work dispatched to a coding agent.
// Result and Error are mutually exclusive and both nil until a terminal
// status is reached.
type Task struct {
	ID                string          `json:"id"`
	OrchestratorID    string          `json:"orchestrator_id"`
	UserID            string          `json:"user_id,omitempty"`
	FolderID          string          `json:"folder_id,omitempty"`
	Description       string          `json:"description"`
	Type              TaskType        `json:"type"`
	Status            TaskStatus      `json:"status"`
	Confidence        float64         `json:"confidence"` // 0-1, planning certainty
	EstimatedDuration time.Duration   `json:"estimated_duration,omitempty"`
	AssignedAgent     string          `json:"assigned_agent,omitempty"`
	DelegationID      string          `json:"delegation_id,omitempty"`
	IssueID           string          `json:"issue_id,omitempty"`
	InjectedContext   string          `json:"injected_context,omitempty"`
	Result            json.RawMessage `json:"result,omitempty"`
	Error             string          `json:"error,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}

// DelegationStatus represents the state of one execution attempt.
type DelegationStatus string

const (
	DelegationStatusPending   DelegationStatus = "pending"
	DelegationStatusRunning   DelegationStatus = "running"
	DelegationStatusCompleted DelegationStatus = "completed"
	DelegationStatusFailed    DelegationStatus = "failed"
)

// ExecutionLog is one ordered log entry recorded during a delegation.
type ExecutionLog struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Delegation is one agent's execution attempt for a task. A task may
// accumulate multiple delegations across retries; exactly one is current.
type Delegation struct {
	ID             string           `json:"id"`
	TaskID         string           `json:"task_id"`
	SessionID      string           `json:"session_id"`
	WorktreeID     string           `json:"worktree_id,omitempty"`
	AgentProvider  string           `json:"agent_provider"`
	Status         DelegationStatus `json:"status"`
	ExecutionLogs  []ExecutionLog   `json:"execution_logs,omitempty"`
	Result         json.RawMessage  `json:"result,omitempty"`
	Error          string           `json:"error,omitempty"`
	TranscriptPath string           `json:"transcript_path,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}
