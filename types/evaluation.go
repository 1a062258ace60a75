package types

import "time"

// Outcome classifies how a session ended.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomePartial     Outcome = "partial"
	OutcomeFailure     Outcome = "failure"
	OutcomeInterrupted Outcome = "interrupted"
)

// ErrorClass buckets a detected transcript error.
type ErrorClass string

const (
	ErrorClassType    ErrorClass = "type"
	ErrorClassSyntax  ErrorClass = "syntax"
	ErrorClassRuntime ErrorClass = "runtime"
	ErrorClassTest    ErrorClass = "test"
	ErrorClassLint    ErrorClass = "lint"
	ErrorClassOther   ErrorClass = "other"
)

// ErrorRecord is one error detected while scanning a transcript.
// TurnsToResolve is only meaningful when Resolved is true.
type ErrorRecord struct {
	Type           ErrorClass `json:"type"`
	Message        string     `json:"message"`
	Resolved       bool       `json:"resolved"`
	TurnsToResolve int        `json:"turns_to_resolve,omitempty"`
}

// TranscriptMetrics holds the raw quantitative signals mined from a session.
type TranscriptMetrics struct {
	Turns           int           `json:"turns"`
	EstimatedTokens int           `json:"estimated_tokens"`
	Duration        time.Duration `json:"duration"`
	ToolCalls       int           `json:"tool_calls"`
	Errors          int           `json:"errors"`
	Retries         int           `json:"retries"`
}

// TranscriptEvaluation is the derived, immutable analysis of one session's
// transcript. Created once per completed session; never mutated.
type TranscriptEvaluation struct {
	SessionID      string            `json:"session_id"`
	Completion     float64           `json:"completion"`  // 0-1
	Efficiency     float64           `json:"efficiency"`  // 0-1
	ErrorScore     float64           `json:"error_score"` // 0-1
	Overall        float64           `json:"overall"`     // 0-1
	WhatWorked     []string          `json:"what_worked,omitempty"`
	WhatFailed     []string          `json:"what_failed,omitempty"`
	Inefficiencies []string          `json:"inefficiencies,omitempty"`
	Errors         []ErrorRecord     `json:"errors,omitempty"`
	Outcome        Outcome           `json:"outcome"`
	Metrics        TranscriptMetrics `json:"metrics"`
	EvaluatedAt    time.Time         `json:"evaluated_at"`
}

// UnresolvedErrors counts detected errors that were never resolved.
func (e *TranscriptEvaluation) UnresolvedErrors() int {
	n := 0
	for _, er := range e.Errors {
		if !er.Resolved {
			n++
		}
	}
	return n
}
