package improvement

import "strings"

// ChangeType distinguishes config deltas from heuristic adoptions.
type ChangeType string

const (
	ChangeTypeConfig    ChangeType = "config"
	ChangeTypeHeuristic ChangeType = "heuristic"
)

// ProposedChange is one candidate modification produced by the analysis
// step. Config changes carry a dotted path into the orchestrator config;
// heuristic changes carry only a description and feed the version's
// improvement notes. Confidence is always in [0,1].
type ProposedChange struct {
	Type           ChangeType `json:"type"`
	Path           string     `json:"path,omitempty"`
	Value          any        `json:"value,omitempty"`
	Rationale      string     `json:"rationale"`
	Confidence     float64    `json:"confidence"`
	ExpectedImpact float64    `json:"expected_impact"`
}

// Paths the cycle may never touch, regardless of confidence. The loop
// must not be able to loosen its own guardrails.
var blockedPathFragments = []string{
	"safety",
	"oversight",
	"autonomy.auto_apply_improvements",
}

const (
	minCheckIntervalSeconds  = 10
	minStallThresholdSeconds = 60
	minChangeConfidence      = 0.6
)

// IsSafeChange reports whether a proposed change passes the safety rules,
// with a human-readable reason when it does not. The blocked-path rule is
// unconditional: a confidence of 0.95 is rejected the same as 0.1.
func IsSafeChange(change ProposedChange) (bool, string) {
	path := strings.ToLower(change.Path)
	for _, fragment := range blockedPathFragments {
		if strings.Contains(path, fragment) {
			return false, "path " + change.Path + " is protected from self-modification"
		}
	}

	if path == "monitoring.check_interval_seconds" {
		if v, ok := asFloat(change.Value); ok && v < minCheckIntervalSeconds {
			return false, "check interval may not drop below 10 seconds"
		}
	}
	if path == "monitoring.stall_threshold_seconds" {
		if v, ok := asFloat(change.Value); ok && v < minStallThresholdSeconds {
			return false, "stall threshold may not drop below 60 seconds"
		}
	}
	return true, ""
}

// filterChanges keeps changes that pass the safety rules and carry
// confidence of at least 0.6. Returns kept changes and skip reasons.
func filterChanges(changes []ProposedChange) (kept []ProposedChange, skipped []string) {
	for _, change := range changes {
		if ok, reason := IsSafeChange(change); !ok {
			skipped = append(skipped, reason)
			continue
		}
		if change.Confidence < minChangeConfidence {
			skipped = append(skipped, "confidence below threshold: "+change.Rationale)
			continue
		}
		kept = append(kept, change)
	}
	return kept, skipped
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
