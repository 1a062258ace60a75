// Package evaluation scores finished agent session transcripts and derives
// verbal reflections and suggested improvement actions from the scores.
package evaluation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nakamura-labs/kaizen/internal/metrics"
	"github.com/nakamura-labs/kaizen/transcript"
	"github.com/nakamura-labs/kaizen/types"
)

// Timing carries the wall-clock context of a session. Either bound may be
// zero; duration then degrades to 0 instead of failing.
type Timing struct {
	Start time.Time
	End   time.Time
}

// Error-family patterns, scanned per chunk in order. The family determines
// the ErrorRecord type; the containing line becomes the message.
var errorPatterns = []struct {
	class types.ErrorClass
	re    *regexp.Regexp
}{
	{types.ErrorClassType, regexp.MustCompile(`(?i)type\s?error|is not assignable to|type mismatch|incompatible type`)},
	{types.ErrorClassSyntax, regexp.MustCompile(`(?i)syntax error|unexpected token|parse error|unexpected end of`)},
	{types.ErrorClassRuntime, regexp.MustCompile(`(?i)panic:|runtime error|uncaught exception|segmentation fault|null pointer|undefined is not a function`)},
	{types.ErrorClassTest, regexp.MustCompile(`(?i)tests? failed|FAIL:|assertion failed|expected .+ but got`)},
	{types.ErrorClassLint, regexp.MustCompile(`(?i)lint error|eslint|golangci-lint|declared and not used`)},
	{types.ErrorClassOther, regexp.MustCompile(`(?i)\berror:\s`)},
}

var (
	successIndicatorRe = regexp.MustCompile(`(?i)✓|✅|\bpassed\b|\bsuccess\b|\bsucceeded\b|build succeeded|all tests pass|works now|now working`)
	retryRe            = regexp.MustCompile(`(?i)let me try again|retrying|try a different|trying again|try another|second attempt|one more time`)
	backtrackRe        = regexp.MustCompile(`(?i)going back to|let me revert|undo that|let me reconsider|actually,? let me|taking a different approach`)
	apologyRe          = regexp.MustCompile(`(?i)\bsorry\b|apologi[sz]e|my mistake|i was wrong|i misunderstood`)
	searchMissRe       = regexp.MustCompile(`(?i)no matches found|no results found|couldn't find|could not find|file not found`)
	toolMarkerRe       = regexp.MustCompile(`(?i)calling tool|running tool|tool call:|invoking\s+\w+\(`)

	completionKeywordRe = regexp.MustCompile(`(?i)task complete|completed successfully|all done|implementation complete|finished implementing|everything is done`)
	failureKeywordRe    = regexp.MustCompile(`(?i)\bgave up\b|\bcannot proceed\b|\bunable to complete\b|\btask failed\b`)
	interruptRe         = regexp.MustCompile(`(?i)\binterrupt(ed)?\b|\bcancel(led)?\b|\babort(ed)?\b|\bstopp?(ed|ing)?\b`)

	workedRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)successfully ([^.\n!]{3,80})`),
		regexp.MustCompile(`(?i)\bcreated ([^.\n!]{3,80})`),
		regexp.MustCompile(`(?i)\bfixed ([^.\n!]{3,80})`),
		regexp.MustCompile(`(?i)(tests passed)`),
		regexp.MustCompile(`(?i)(build succeeded)`),
	}
	failedRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)failed to ([^.\n!]{3,80})`),
		regexp.MustCompile(`(?i)could not ([^.\n!]{3,80})`),
		regexp.MustCompile(`(?i)error with ([^.\n!]{3,80})`),
		regexp.MustCompile(`(?i)(tests failed)`),
	}
)

const qualitativeCap = 10

// Evaluator scores one session transcript. It never fails: absence of
// signal degrades scores rather than producing an error.
type Evaluator struct {
	tokens    TokenEstimator
	logger    *zap.Logger
	collector *metrics.Collector
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithTokenEstimator replaces the default characters/4 token heuristic.
func WithTokenEstimator(te TokenEstimator) Option {
	return func(e *Evaluator) { e.tokens = te }
}

// WithCollector sets the metrics collector.
func WithCollector(c *metrics.Collector) Option {
	return func(e *Evaluator) { e.collector = c }
}

// NewEvaluator creates a transcript evaluator.
func NewEvaluator(logger *zap.Logger, opts ...Option) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Evaluator{
		tokens: CharEstimator{},
		logger: logger.With(zap.String("component", "transcript_evaluator")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate analyzes the ordered transcript chunks of one session and
// produces an immutable evaluation.
func (e *Evaluator) Evaluate(sessionID string, chunks []transcript.Chunk, timing Timing) *types.TranscriptEvaluation {
	metrics := e.collectMetrics(chunks, timing)
	errs := detectErrors(chunks)
	metrics.Errors = len(errs)

	worked := mineQualitative(chunks, workedRes)
	failed := mineQualitative(chunks, failedRes)
	inefficiencies := detectInefficiencies(chunks, metrics)

	completion := completionScore(chunks, errs)
	efficiency := efficiencyScore(metrics, len(inefficiencies))
	errScore := errorScore(errs)
	overall := 0.5*completion + 0.3*efficiency + 0.2*errScore

	eval := &types.TranscriptEvaluation{
		SessionID:      sessionID,
		Completion:     completion,
		Efficiency:     efficiency,
		ErrorScore:     errScore,
		Overall:        overall,
		WhatWorked:     worked,
		WhatFailed:     failed,
		Inefficiencies: inefficiencies,
		Errors:         errs,
		Metrics:        metrics,
		EvaluatedAt:    time.Now(),
	}
	eval.Outcome = classifyOutcome(chunks, completion, eval.UnresolvedErrors())
	e.collector.IncEvaluation(string(eval.Outcome))

	e.logger.Debug("transcript evaluated",
		zap.String("session_id", sessionID),
		zap.Float64("overall", overall),
		zap.String("outcome", string(eval.Outcome)),
		zap.Int("errors", len(errs)))

	return eval
}

func (e *Evaluator) collectMetrics(chunks []transcript.Chunk, timing Timing) types.TranscriptMetrics {
	m := types.TranscriptMetrics{Turns: len(chunks)}

	var text strings.Builder
	for _, c := range chunks {
		text.WriteString(c.Text)
		m.ToolCalls += len(c.ToolCalls)
		m.ToolCalls += len(toolMarkerRe.FindAllStringIndex(c.Text, -1))
		m.Retries += len(retryRe.FindAllStringIndex(c.Text, -1))
	}
	m.EstimatedTokens = e.tokens.EstimateTokens(text.String())

	if !timing.Start.IsZero() && !timing.End.IsZero() {
		m.Duration = timing.End.Sub(timing.Start)
	}
	return m
}

// detectedError tracks one keyed error across the transcript scan.
type detectedError struct {
	record     types.ErrorRecord
	firstIndex int
	lastIndex  int
}

// detectErrors scans chunks in order, keys errors by type plus the first 50
// characters of the containing line, and resolves each one by looking for a
// success indicator after its last occurrence.
func detectErrors(chunks []transcript.Chunk) []types.ErrorRecord {
	seen := make(map[string]*detectedError)
	var order []string

	for idx, chunk := range chunks {
		for _, family := range errorPatterns {
			for _, loc := range family.re.FindAllStringIndex(chunk.Text, -1) {
				message := containingLine(chunk.Text, loc[0])
				key := string(family.class) + ":" + truncate(message, 50)
				if existing, ok := seen[key]; ok {
					existing.lastIndex = idx
					continue
				}
				seen[key] = &detectedError{
					record:     types.ErrorRecord{Type: family.class, Message: message},
					firstIndex: idx,
					lastIndex:  idx,
				}
				order = append(order, key)
			}
		}
	}

	records := make([]types.ErrorRecord, 0, len(order))
	for _, key := range order {
		de := seen[key]
		for idx := de.lastIndex + 1; idx < len(chunks); idx++ {
			if successIndicatorRe.MatchString(chunks[idx].Text) {
				de.record.Resolved = true
				de.record.TurnsToResolve = idx - de.firstIndex
				break
			}
		}
		records = append(records, de.record)
	}
	return records
}

func mineQualitative(chunks []transcript.Chunk, patterns []*regexp.Regexp) []string {
	seen := make(map[string]bool)
	var out []string
	for _, chunk := range chunks {
		for _, re := range patterns {
			for _, match := range re.FindAllStringSubmatch(chunk.Text, -1) {
				phrase := strings.TrimSpace(match[0])
				key := strings.ToLower(phrase)
				if phrase == "" || seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, phrase)
				if len(out) >= qualitativeCap {
					return out
				}
			}
		}
	}
	return out
}

func detectInefficiencies(chunks []transcript.Chunk, metrics types.TranscriptMetrics) []string {
	var out []string
	flagged := map[string]bool{}
	flag := func(label string) {
		if !flagged[label] {
			flagged[label] = true
			out = append(out, label)
		}
	}

	for _, chunk := range chunks {
		if searchMissRe.MatchString(chunk.Text) {
			flag("searched for content that was not found")
		}
		if retryRe.MatchString(chunk.Text) {
			flag("repeated retries of the same approach")
		}
		if backtrackRe.MatchString(chunk.Text) {
			flag("backtracked on an earlier decision")
		}
		if apologyRe.MatchString(chunk.Text) {
			flag("made and acknowledged a mistake")
		}
	}
	if metrics.ToolCalls > 50 {
		flag(fmt.Sprintf("high tool-call count (%d)", metrics.ToolCalls))
	}
	if metrics.Turns > 100 {
		flag(fmt.Sprintf("very long transcript (%d turns)", metrics.Turns))
	}
	return out
}

func completionScore(chunks []transcript.Chunk, errs []types.ErrorRecord) float64 {
	score := 0.5

	for _, chunk := range chunks {
		if completionKeywordRe.MatchString(chunk.Text) {
			score += 0.3
			break
		}
	}
	for _, er := range errs {
		if !er.Resolved {
			score -= 0.1
		}
	}
	for _, chunk := range lastN(chunks, 5) {
		if failureKeywordRe.MatchString(chunk.Text) {
			score -= 0.2
			break
		}
	}
	return clip01(score)
}

func efficiencyScore(metrics types.TranscriptMetrics, inefficiencies int) float64 {
	score := 1.0
	if metrics.Turns > 50 {
		score -= 0.1
	}
	if metrics.Turns > 100 {
		score -= 0.2
	}
	score -= 0.05 * float64(metrics.Retries)
	score -= 0.1 * float64(inefficiencies)
	return clip01(score)
}

func errorScore(errs []types.ErrorRecord) float64 {
	if len(errs) == 0 {
		return 1.0
	}

	resolved := 0
	ttrSum, ttrCount := 0, 0
	for _, er := range errs {
		if er.Resolved {
			resolved++
			ttrSum += er.TurnsToResolve
			ttrCount++
		}
	}

	score := 0.8 * float64(resolved) / float64(len(errs))
	if ttrCount > 0 {
		mean := float64(ttrSum) / float64(ttrCount)
		switch {
		case mean < 3:
			score += 0.2
		case mean < 5:
			score += 0.1
		}
	}
	return clip01(score)
}

// classifyOutcome buckets the session. Success requires completion strictly
// above 0.7 with zero unresolved errors; exactly 0.7 classifies as partial.
// Downstream thresholds are tuned against this boundary, so it stays.
func classifyOutcome(chunks []transcript.Chunk, completion float64, unresolved int) types.Outcome {
	for _, chunk := range lastN(chunks, 5) {
		if interruptRe.MatchString(chunk.Text) {
			return types.OutcomeInterrupted
		}
	}
	if unresolved > 2 || completion < 0.3 {
		return types.OutcomeFailure
	}
	if completion > 0.7 && unresolved == 0 {
		return types.OutcomeSuccess
	}
	return types.OutcomePartial
}

func containingLine(text string, offset int) string {
	start := strings.LastIndexByte(text[:offset], '\n') + 1
	end := strings.IndexByte(text[offset:], '\n')
	if end < 0 {
		end = len(text)
	} else {
		end += offset
	}
	return strings.TrimSpace(text[start:end])
}

// truncate keeps at most n runes so sliced text stays valid UTF-8.
func truncate(s string, n int) string {
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}

func lastN(chunks []transcript.Chunk, n int) []transcript.Chunk {
	if len(chunks) <= n {
		return chunks
	}
	return chunks[len(chunks)-n:]
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// sortErrorsByType orders error records by class then message, for stable
// grouping in reflection output.
func sortErrorsByType(errs []types.ErrorRecord) []types.ErrorRecord {
	out := make([]types.ErrorRecord, len(errs))
	copy(out, errs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Message < out[j].Message
	})
	return out
}
