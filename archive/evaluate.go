package archive

import (
	"fmt"
	"time"

	"github.com/nakamura-labs/kaizen/types"
)

const significanceLevel = 0.95

// evaluateTest is the store-independent verdict logic shared by the
// archive implementations.
func evaluateTest(test *ABTest, candidate *types.OrchestratorVersion, baseline, samples []float64, now time.Time) *TestEvaluation {
	eval := &TestEvaluation{TestID: test.ID, CandidateID: test.CandidateID, Recommendation: RecommendContinue}

	maxDuration := time.Duration(test.Config.MaxDurationDays) * 24 * time.Hour
	expired := test.Config.MaxDurationDays > 0 && now.Sub(test.StartedAt) > maxDuration

	if len(samples) < test.Config.MinSampleSize {
		if expired {
			eval.Recommendation = RecommendRollback
			eval.Reason = fmt.Sprintf("test exceeded %d days with only %d of %d required samples",
				test.Config.MaxDurationDays, len(samples), test.Config.MinSampleSize)
			return eval
		}
		eval.Reason = fmt.Sprintf("collected %d of %d required samples", len(samples), test.Config.MinSampleSize)
		return eval
	}

	confidence := welchConfidence(baseline, samples)
	improvement := mean(samples) - mean(baseline)
	eval.Confidence = confidence

	switch {
	case improvement > 0 && confidence >= significanceLevel:
		eval.Recommendation = RecommendPromote
		eval.Reason = fmt.Sprintf("candidate improves mean score by %.3f with %.1f%% confidence",
			improvement, confidence*100)
		cfg := candidate.Config
		eval.Config = &cfg
	case improvement < 0 && confidence >= significanceLevel:
		eval.Recommendation = RecommendRollback
		eval.Reason = fmt.Sprintf("candidate regresses mean score by %.3f with %.1f%% confidence",
			-improvement, confidence*100)
	case expired && improvement <= 0:
		eval.Recommendation = RecommendRollback
		eval.Reason = fmt.Sprintf("test exceeded %d days without the candidate winning", test.Config.MaxDurationDays)
	case expired && improvement > 0:
		eval.Recommendation = RecommendPromote
		eval.Reason = fmt.Sprintf("test exceeded %d days with the candidate ahead by %.3f", test.Config.MaxDurationDays, improvement)
		cfg := candidate.Config
		eval.Config = &cfg
	default:
		eval.Reason = fmt.Sprintf("no significant difference yet (%.1f%% confidence)", confidence*100)
	}
	return eval
}
