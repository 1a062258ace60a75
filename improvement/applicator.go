package improvement

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/nakamura-labs/kaizen/internal/metrics"
	"github.com/nakamura-labs/kaizen/types"
)

// ApplyOptions controls how reflection actions are written into a project.
type ApplyOptions struct {
	// AutoApply must be set for any file to be written. Off by default.
	// A dry run still reports would-be applications without it.
	AutoApply bool
	// ConfidenceThreshold drops actions below it. Zero means the default.
	ConfidenceThreshold float64
	// DryRun reports what would be applied without touching files.
	DryRun bool
}

const defaultApplyConfidence = 0.6

// ApplyResult reports what an ApplyImprovements call did per action.
type ApplyResult struct {
	Applied []string `json:"applied,omitempty"`
	Skipped []string `json:"skipped,omitempty"`
	Summary string   `json:"summary"`
}

// sectionFor maps an action type to the CLAUDE.md section it lands in.
// Actions without a section (tool creation) cannot be applied as a file
// edit and are recorded as skipped.
var sectionFor = map[types.ActionType]string{
	types.ActionAddToClaudeMD:      "## Notes",
	types.ActionAddGotcha:          "## Gotchas",
	types.ActionAddConvention:      "## Conventions",
	types.ActionAddPattern:         "## Patterns",
	types.ActionAddPlanningPattern: "## Patterns",
	types.ActionAddSkill:           "## Patterns",
}

// Applicator writes accepted reflection actions into a project's
// CLAUDE.md. Writes to the same project path are serialized through an
// in-process advisory lock so concurrent reflections do not interleave.
type Applicator struct {
	logger  *zap.Logger
	metrics *metrics.Collector

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// ApplicatorOption customizes an Applicator.
type ApplicatorOption func(*Applicator)

// WithApplicatorLogger sets the applicator logger.
func WithApplicatorLogger(logger *zap.Logger) ApplicatorOption {
	return func(a *Applicator) { a.logger = logger }
}

// WithApplicatorMetrics sets the metrics collector.
func WithApplicatorMetrics(c *metrics.Collector) ApplicatorOption {
	return func(a *Applicator) { a.metrics = c }
}

// NewApplicator creates an Applicator.
func NewApplicator(opts ...ApplicatorOption) *Applicator {
	a := &Applicator{
		logger: zap.NewNop(),
		locks:  map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(zap.String("component", "applicator"))
	return a
}

// ApplyImprovements writes the reflection's suggested actions into the
// project at projectPath. Each action is applied independently; one
// failure does not abort the rest.
func (a *Applicator) ApplyImprovements(reflection *types.Reflection, projectPath string, opts ApplyOptions) (*ApplyResult, error) {
	if reflection == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "reflection is required")
	}
	if projectPath == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "project path is required")
	}
	threshold := opts.ConfidenceThreshold
	if threshold == 0 {
		threshold = defaultApplyConfidence
	}

	result := &ApplyResult{}
	if !opts.AutoApply && !opts.DryRun {
		for _, action := range reflection.Actions {
			result.Skipped = append(result.Skipped, fmt.Sprintf("%s: auto-apply disabled", action.Title))
		}
		result.Summary = "auto-apply disabled, no changes written"
		return result, nil
	}

	lock := a.pathLock(projectPath)
	lock.Lock()
	defer lock.Unlock()

	for _, action := range reflection.Actions {
		if action.Confidence < threshold {
			result.Skipped = append(result.Skipped,
				fmt.Sprintf("%s: confidence %.2f below threshold %.2f", action.Title, action.Confidence, threshold))
			continue
		}
		section, ok := sectionFor[action.Type]
		if !ok {
			result.Skipped = append(result.Skipped,
				fmt.Sprintf("%s: no writer for action type %q", action.Title, action.Type))
			a.metrics.IncImprovementWritten("unsupported")
			continue
		}
		if opts.DryRun {
			result.Applied = append(result.Applied, fmt.Sprintf("%s (dry run)", action.Title))
			continue
		}
		if err := a.appendToSection(projectPath, section, action); err != nil {
			result.Skipped = append(result.Skipped, fmt.Sprintf("%s: %v", action.Title, err))
			a.metrics.IncImprovementWritten("error")
			a.logger.Warn("failed to apply action",
				zap.String("title", action.Title),
				zap.String("project_path", projectPath),
				zap.Error(err))
			continue
		}
		result.Applied = append(result.Applied, action.Title)
		a.metrics.IncImprovementWritten("applied")
	}

	result.Summary = fmt.Sprintf("applied %d action(s), skipped %d", len(result.Applied), len(result.Skipped))
	a.logger.Info("improvements applied",
		zap.String("project_path", projectPath),
		zap.Int("applied", len(result.Applied)),
		zap.Int("skipped", len(result.Skipped)))
	return result, nil
}

func (a *Applicator) pathLock(projectPath string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.locks[projectPath]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[projectPath] = lock
	}
	return lock
}

// appendToSection inserts the action under the named markdown section of
// the project's CLAUDE.md, creating the file or the section as needed.
func (a *Applicator) appendToSection(projectPath, section string, action types.SuggestedAction) error {
	path := filepath.Join(projectPath, "CLAUDE.md")
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return types.NewError(types.ErrInternalError, "reading CLAUDE.md").WithCause(err)
	}

	entry := fmt.Sprintf("- %s", action.Title)
	if action.Description != "" {
		entry += ": " + action.Description
	}

	content := string(data)
	if strings.Contains(content, entry) {
		return nil // already present
	}

	idx := strings.Index(content, section)
	if idx < 0 {
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		content += "\n" + section + "\n\n" + entry + "\n"
	} else {
		// Insert at the end of the section, before the next heading.
		rest := content[idx:]
		next := strings.Index(rest[len(section):], "\n## ")
		var insertAt int
		if next < 0 {
			insertAt = len(content)
		} else {
			insertAt = idx + len(section) + next + 1
		}
		head := strings.TrimRight(content[:insertAt], "\n")
		tail := content[insertAt:]
		content = head + "\n" + entry + "\n"
		if tail != "" {
			content += "\n" + tail
		}
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return types.NewError(types.ErrInternalError, "writing CLAUDE.md").WithCause(err)
	}
	return nil
}
