package scoring

import "fmt"

// Trend term tuning. Slopes are per-reading, fit by least squares over the
// tail of the rolling history.
const (
	minTrendSamples = 5

	tempTrendTail  = 10
	tempSlopeLimit = 1.0 // °C per reading

	currentTrendTail  = 10
	currentSlopeLimit = 0.5 // A per reading

	healthTrendTail  = 20
	healthTrendMin   = 10
	healthSlopeLimit = -1.0 // overall points per reading
)

// Predictive scores the direction of travel rather than the instantaneous
// values: sustained temperature rise, current instability and overall-score
// degradation each deduct. Below minTrendSamples the term is neutral — no
// penalty, flagged as insufficient history. Only unfavorable trends
// penalize; a rapid recovery is deliberately not treated as a fault.
func Predictive(history []Sample) (float64, []string, bool) {
	if len(history) < minTrendSamples {
		return 100, []string{"Insufficient history for trend analysis"}, true
	}

	score := 100.0
	var issues []string

	temps := tailValues(history, tempTrendTail, func(s Sample) (float64, bool) {
		if s.MotorTempC == nil {
			return 0, false
		}
		return *s.MotorTempC, true
	})
	if len(temps) >= minTrendSamples {
		if slope := fitSlope(temps); slope > tempSlopeLimit {
			score -= 30
			issues = append(issues, fmt.Sprintf("Rising temperature trend: +%.1f°C/reading", slope))
		}
	}

	currents := tailValues(history, currentTrendTail, func(s Sample) (float64, bool) {
		if s.CurrentA == nil {
			return 0, false
		}
		return *s.CurrentA, true
	})
	if len(currents) >= minTrendSamples {
		if slope := fitSlope(currents); abs(slope) > currentSlopeLimit {
			score -= 25
			issues = append(issues, fmt.Sprintf("Current instability: ±%.1fA/reading", abs(slope)))
		}
	}

	overalls := tailValues(history, healthTrendTail, func(s Sample) (float64, bool) {
		return s.Overall, true
	})
	if len(overalls) >= healthTrendMin {
		if slope := fitSlope(overalls); slope < healthSlopeLimit {
			score -= 35
			issues = append(issues, fmt.Sprintf("Health degradation: %.1f points/reading", slope))
		}
	}

	return clamp(score, 0, 100), issues, false
}

// tailValues extracts up to n trailing values from history, skipping samples
// where the extractor reports no data. History is ordered oldest first.
func tailValues(history []Sample, n int, get func(Sample) (float64, bool)) []float64 {
	vals := make([]float64, 0, len(history))
	for _, s := range history {
		if v, ok := get(s); ok {
			vals = append(vals, v)
		}
	}
	if len(vals) > n {
		vals = vals[len(vals)-n:]
	}
	return vals
}

// fitSlope returns the least-squares slope of vals against their index.
// Returns 0 for fewer than two points.
func fitSlope(vals []float64) float64 {
	n := float64(len(vals))
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range vals {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}
