package evaluation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nakamura-labs/kaizen/types"
)

// TaskContext is optional surrounding context for reflection generation.
type TaskContext struct {
	Description string
	TechStack   []string
}

const maxActions = 5

// ReflectionGenerator turns a transcript evaluation into verbal reflections
// and confidence-scored suggested actions. It never fails; sparse input
// yields fewer reflections with lower confidence.
type ReflectionGenerator struct {
	logger *zap.Logger
}

// NewReflectionGenerator creates a reflection generator.
func NewReflectionGenerator(logger *zap.Logger) *ReflectionGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReflectionGenerator{logger: logger.With(zap.String("component", "reflection_generator"))}
}

// Generate derives a reflection from one evaluation.
func (g *ReflectionGenerator) Generate(eval *types.TranscriptEvaluation, taskCtx *TaskContext) *types.Reflection {
	var reflections []string
	var actions []types.SuggestedAction

	r, a := g.reflectOnErrors(eval)
	reflections, actions = append(reflections, r...), append(actions, a...)

	r, a = g.reflectOnInefficiencies(eval)
	reflections, actions = append(reflections, r...), append(actions, a...)

	r, a = g.reflectOnOutcomeText(eval, taskCtx)
	reflections, actions = append(reflections, r...), append(actions, a...)

	reflections = append(reflections, g.reflectOnOutcome(eval)...)

	reflections = dedupeStrings(reflections)
	actions = dedupeActions(actions)

	reflection := &types.Reflection{
		SessionID:   eval.SessionID,
		Reflections: reflections,
		Actions:     actions,
		Priority:    derivePriority(eval),
		Confidence:  deriveConfidence(eval, actions),
		CreatedAt:   time.Now(),
	}

	g.logger.Debug("reflection generated",
		zap.String("session_id", eval.SessionID),
		zap.Int("reflections", len(reflections)),
		zap.Int("actions", len(actions)),
		zap.String("priority", string(reflection.Priority)))

	return reflection
}

func (g *ReflectionGenerator) reflectOnErrors(eval *types.TranscriptEvaluation) ([]string, []types.SuggestedAction) {
	if len(eval.Errors) == 0 {
		return nil, nil
	}

	byClass := make(map[types.ErrorClass][]types.ErrorRecord)
	for _, er := range sortErrorsByType(eval.Errors) {
		byClass[er.Type] = append(byClass[er.Type], er)
	}

	var reflections []string
	var actions []types.SuggestedAction

	for _, class := range []types.ErrorClass{
		types.ErrorClassType, types.ErrorClassSyntax, types.ErrorClassRuntime,
		types.ErrorClassTest, types.ErrorClassLint, types.ErrorClassOther,
	} {
		errs := byClass[class]
		if len(errs) == 0 {
			continue
		}
		unresolved := 0
		for _, er := range errs {
			if !er.Resolved {
				unresolved++
			}
		}

		reflections = append(reflections, errorPhrase(class, len(errs), unresolved))

		if unresolved == 0 {
			continue
		}
		switch class {
		case types.ErrorClassType:
			actions = append(actions, types.SuggestedAction{
				Type:           types.ActionAddGotcha,
				Title:          "Document recurring type errors",
				Description:    fmt.Sprintf("%d type error(s) remained unresolved; record the failing constructs as gotchas.", unresolved),
				Implementation: fmt.Sprintf("Add a gotcha entry for: %s", truncate(errs[0].Message, 120)),
				Confidence:     0.75,
				Source:         "error_analysis",
			})
		case types.ErrorClassTest:
			actions = append(actions, types.SuggestedAction{
				Type:           types.ActionAddToClaudeMD,
				Title:          "Document test-running expectations",
				Description:    fmt.Sprintf("%d test failure(s) remained unresolved; document how tests are expected to be run and fixed.", unresolved),
				Implementation: fmt.Sprintf("Note the failing test context: %s", truncate(errs[0].Message, 120)),
				Confidence:     0.7,
				Source:         "error_analysis",
			})
		}
	}
	return reflections, actions
}

func errorPhrase(class types.ErrorClass, total, unresolved int) string {
	var kind string
	switch class {
	case types.ErrorClassType:
		kind = "type errors"
	case types.ErrorClassSyntax:
		kind = "syntax errors"
	case types.ErrorClassRuntime:
		kind = "runtime failures"
	case types.ErrorClassTest:
		kind = "test failures"
	case types.ErrorClassLint:
		kind = "lint findings"
	default:
		kind = "errors"
	}
	if unresolved == 0 {
		return fmt.Sprintf("Hit %d %s but resolved all of them.", total, kind)
	}
	return fmt.Sprintf("Hit %d %s; %d remained unresolved at the end of the session.", total, kind, unresolved)
}

// Inefficiencies map 1:1 to fixed remediation suggestions.
func (g *ReflectionGenerator) reflectOnInefficiencies(eval *types.TranscriptEvaluation) ([]string, []types.SuggestedAction) {
	var reflections []string
	var actions []types.SuggestedAction

	for _, ineff := range eval.Inefficiencies {
		reflections = append(reflections, "Inefficiency observed: "+ineff+".")
		switch {
		case strings.Contains(ineff, "not found"):
			actions = append(actions, types.SuggestedAction{
				Type:        types.ActionAddToClaudeMD,
				Title:       "Document key file locations",
				Description: "The agent searched for content it could not find; documenting where things live avoids blind searching.",
				Confidence:  0.7,
				Source:      "inefficiency_analysis",
			})
		case strings.Contains(ineff, "tool-call"):
			actions = append(actions, types.SuggestedAction{
				Type:        types.ActionCreateTool,
				Title:       "Create a specialized tool for the repeated operation",
				Description: "An unusually high tool-call count suggests a missing higher-level tool.",
				Confidence:  0.6,
				Source:      "inefficiency_analysis",
			})
		case strings.Contains(ineff, "backtrack"):
			actions = append(actions, types.SuggestedAction{
				Type:        types.ActionAddPlanningPattern,
				Title:       "Plan before implementing",
				Description: "Backtracking mid-session suggests a pre-implementation planning pass would have helped.",
				Confidence:  0.65,
				Source:      "inefficiency_analysis",
			})
		case strings.Contains(ineff, "retries"):
			actions = append(actions, types.SuggestedAction{
				Type:        types.ActionAddGotcha,
				Title:       "Record the approach that needed retries",
				Description: "Repeated retries of one approach are worth a gotcha so the next session starts differently.",
				Confidence:  0.6,
				Source:      "inefficiency_analysis",
			})
		}
	}
	return reflections, actions
}

func (g *ReflectionGenerator) reflectOnOutcomeText(eval *types.TranscriptEvaluation, taskCtx *TaskContext) ([]string, []types.SuggestedAction) {
	var reflections []string
	var actions []types.SuggestedAction

	if len(eval.WhatWorked) > 0 {
		reflections = append(reflections, "What worked: "+summarize(eval.WhatWorked)+".")
	}
	if len(eval.WhatFailed) > 0 {
		reflections = append(reflections, "What failed: "+summarize(eval.WhatFailed)+".")
	}

	for _, worked := range eval.WhatWorked {
		lower := strings.ToLower(worked)
		if strings.Contains(lower, "test") {
			actions = append(actions, types.SuggestedAction{
				Type:           types.ActionAddPattern,
				Title:          "Capture the working test approach as a pattern",
				Description:    "A test-related step worked; record it so future sessions reuse it.",
				Implementation: truncate(worked, 120),
				Confidence:     0.65,
				Source:         "success_analysis",
			})
		}
		if strings.Contains(lower, "fix") {
			actions = append(actions, types.SuggestedAction{
				Type:           types.ActionAddSkill,
				Title:          "Capture the fix technique as a skill",
				Description:    "A fix succeeded; record the technique for reuse.",
				Implementation: truncate(worked, 120),
				Confidence:     0.6,
				Source:         "success_analysis",
			})
		}
	}

	if taskCtx != nil && len(taskCtx.TechStack) > 0 && len(eval.WhatFailed) > 0 {
		reflections = append(reflections, fmt.Sprintf(
			"Failures occurred in a %s context; conventions for that stack may be missing.",
			strings.Join(taskCtx.TechStack, "/")))
	}
	return reflections, actions
}

func (g *ReflectionGenerator) reflectOnOutcome(eval *types.TranscriptEvaluation) []string {
	var out []string
	switch eval.Outcome {
	case types.OutcomeSuccess:
		out = append(out, "The session completed its task successfully.")
	case types.OutcomePartial:
		out = append(out, "The session made progress but did not fully complete the task.")
	case types.OutcomeFailure:
		out = append(out, "The session failed to complete the task.")
	case types.OutcomeInterrupted:
		out = append(out, "The session was interrupted before reaching a conclusion.")
	}
	if eval.Efficiency < 0.5 {
		out = append(out, fmt.Sprintf("Efficiency was low (%.2f); the session spent effort on detours.", eval.Efficiency))
	}
	if eval.ErrorScore < 0.5 {
		out = append(out, fmt.Sprintf("Error handling was weak (%.2f); errors lingered unresolved.", eval.ErrorScore))
	}
	return out
}

func derivePriority(eval *types.TranscriptEvaluation) types.Priority {
	if eval.Outcome == types.OutcomeFailure || eval.Overall < 0.4 {
		return types.PriorityHigh
	}
	if eval.Outcome == types.OutcomePartial || eval.Overall < 0.7 {
		return types.PriorityMedium
	}
	return types.PriorityLow
}

func deriveConfidence(eval *types.TranscriptEvaluation, actions []types.SuggestedAction) float64 {
	confidence := 0.5
	if eval.Metrics.Turns > 20 {
		confidence += 0.1
	}
	if len(eval.Errors) > 0 {
		confidence += 0.1
	}
	if len(eval.WhatWorked) > 0 {
		confidence += 0.1
	}
	if len(eval.WhatFailed) > 0 {
		confidence += 0.1
	}

	if len(actions) > 0 {
		var sum float64
		for _, a := range actions {
			sum += a.Confidence
		}
		confidence = (confidence + sum/float64(len(actions))) / 2
	}
	return clip01(confidence)
}

func summarize(items []string) string {
	const maxItems = 3
	if len(items) <= maxItems {
		return strings.Join(items, "; ")
	}
	return strings.Join(items[:maxItems], "; ") + fmt.Sprintf(" (and %d more)", len(items)-maxItems)
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		key := strings.ToLower(strings.TrimSpace(s))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

// dedupeActions keeps one action per (type,title) pair, sorted by
// confidence descending, truncated to maxActions.
func dedupeActions(in []types.SuggestedAction) []types.SuggestedAction {
	seen := make(map[string]bool, len(in))
	out := make([]types.SuggestedAction, 0, len(in))
	for _, a := range in {
		key := string(a.Type) + ":" + strings.ToLower(a.Title)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	if len(out) > maxActions {
		out = out[:maxActions]
	}
	return out
}
