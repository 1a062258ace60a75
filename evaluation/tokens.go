package evaluation

import (
	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimator estimates how many tokens a stretch of transcript text
// would cost. Estimates feed the efficiency metrics only; exactness is not
// required.
type TokenEstimator interface {
	EstimateTokens(text string) int
}

// CharEstimator is the default heuristic: total characters divided by 4.
type CharEstimator struct{}

// EstimateTokens implements TokenEstimator.
func (CharEstimator) EstimateTokens(text string) int {
	return len(text) / 4
}

// TiktokenEstimator counts tokens with a real BPE encoding. Falls back to
// the character heuristic when the encoding cannot be loaded.
type TiktokenEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenEstimator loads the named encoding (e.g. "cl100k_base").
func NewTiktokenEstimator(encoding string) (*TiktokenEstimator, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &TiktokenEstimator{enc: enc}, nil
}

// EstimateTokens implements TokenEstimator.
func (t *TiktokenEstimator) EstimateTokens(text string) int {
	if t.enc == nil {
		return CharEstimator{}.EstimateTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}
