package archive

import "math"

// Statistical helpers for test evaluation: Welch's t-test with a normal
// approximation of the t distribution, which is adequate at the sample
// sizes experiments run with.

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func variance(values []float64, m float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sumSquares float64
	for _, v := range values {
		diff := v - m
		sumSquares += diff * diff
	}
	return sumSquares / float64(len(values)-1)
}

// welchConfidence returns 1 - p for the two-tailed Welch t-test comparing
// the two samples. Returns 0 when either sample is too small to test.
func welchConfidence(baseline, candidate []float64) float64 {
	if len(baseline) < 2 || len(candidate) < 2 {
		return 0
	}

	meanB := mean(baseline)
	meanC := mean(candidate)
	varB := variance(baseline, meanB)
	varC := variance(candidate, meanC)

	n1 := float64(len(baseline))
	n2 := float64(len(candidate))
	se := math.Sqrt(varB/n1 + varC/n2)
	if se == 0 {
		if meanB == meanC {
			return 0
		}
		return 1
	}

	tStat := math.Abs(meanC-meanB) / se
	pValue := 2 * (1 - normalCDF(tStat))
	if pValue < 0 {
		pValue = 0
	}
	return 1 - pValue
}

// normalCDF approximates the standard normal CDF (Abramowitz and Stegun).
func normalCDF(x float64) float64 {
	const (
		a1 = 0.254829592
		a2 = -0.284496736
		a3 = 1.421413741
		a4 = -1.453152027
		a5 = 1.061405429
		p  = 0.3275911
	)

	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	x = math.Abs(x) / math.Sqrt2

	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)

	return 0.5 * (1.0 + sign*y)
}
