package scoring

import (
	"time"

	"github.com/motorwatch/motorwatch/internal/config"
	"github.com/motorwatch/motorwatch/pkg/models"
)

// Band boundaries for the overall score. Boundaries are inclusive on the
// lower bound.
const (
	ThresholdExcellent = 90.0
	ThresholdGood      = 75.0
	ThresholdWarning   = 60.0
)

// Sample is one historical observation fed into the trend-sensitive
// predictive term. The pipeline builds Samples from previously processed
// readings; scoring itself keeps no state.
type Sample struct {
	MotorTempC *float64
	CurrentA   *float64
	Overall    float64
}

// Score computes the full health assessment for one reading against the
// given thresholds and weights. It is pure: the same reading, history and
// config always produce the same result.
func Score(r models.Reading, history []Sample, cfg config.ScoringConfig, now time.Time) models.HealthScore {
	th := cfg.Thresholds

	electrical, elIssues := Electrical(r, th)
	thermal, thIssues := Thermal(r, th)
	mechanical, meIssues := Mechanical(r, th)
	predictive, prIssues, insufficient := Predictive(history)

	// Category scores are stored at one-decimal precision; the overall is
	// the weighted sum of those stored values, so the stored record stays
	// internally consistent.
	electrical = round1(electrical)
	thermal = round1(thermal)
	mechanical = round1(mechanical)
	predictive = round1(predictive)

	w := cfg.Weights
	overall := clamp(
		electrical*w.Electrical+
			thermal*w.Thermal+
			mechanical*w.Mechanical+
			predictive*w.Predictive,
		0, 100)

	issues := map[models.Category][]string{}
	if len(elIssues) > 0 {
		issues[models.CategoryElectrical] = elIssues
	}
	if len(thIssues) > 0 {
		issues[models.CategoryThermal] = thIssues
	}
	if len(meIssues) > 0 {
		issues[models.CategoryMechanical] = meIssues
	}
	if len(prIssues) > 0 {
		issues[models.CategoryPredictive] = prIssues
	}

	return models.HealthScore{
		Timestamp:           now,
		Electrical:          electrical,
		Thermal:             thermal,
		Mechanical:          mechanical,
		Predictive:          predictive,
		Overall:             round1(overall),
		Efficiency:          round1(Efficiency(r, th)),
		Band:                BandFromScore(overall),
		Issues:              issues,
		InsufficientHistory: insufficient,
	}
}

// BandFromScore maps an overall score to its named status band.
func BandFromScore(score float64) models.StatusBand {
	switch {
	case score >= ThresholdExcellent:
		return models.BandExcellent
	case score >= ThresholdGood:
		return models.BandGood
	case score >= ThresholdWarning:
		return models.BandWarning
	default:
		return models.BandCritical
	}
}

// BandRank orders bands for crossing detection (higher is healthier).
func BandRank(b models.StatusBand) int {
	switch b {
	case models.BandExcellent:
		return 3
	case models.BandGood:
		return 2
	case models.BandWarning:
		return 1
	default:
		return 0
	}
}

// LowestCategory returns the category with the lowest score and that score.
func LowestCategory(hs models.HealthScore) (models.Category, float64) {
	lowest := models.CategoryElectrical
	val := hs.Electrical
	for _, c := range []struct {
		cat models.Category
		v   float64
	}{
		{models.CategoryThermal, hs.Thermal},
		{models.CategoryMechanical, hs.Mechanical},
		{models.CategoryPredictive, hs.Predictive},
	} {
		if c.v < val {
			lowest, val = c.cat, c.v
		}
	}
	return lowest, val
}

// CategoryScore returns the score of the named category, or -1 for an
// unknown category.
func CategoryScore(hs models.HealthScore, c models.Category) float64 {
	switch c {
	case models.CategoryElectrical:
		return hs.Electrical
	case models.CategoryThermal:
		return hs.Thermal
	case models.CategoryMechanical:
		return hs.Mechanical
	case models.CategoryPredictive:
		return hs.Predictive
	default:
		return -1
	}
}

// clamp restricts v to the range [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// round1 rounds to one decimal place, matching the stored precision.
func round1(v float64) float64 {
	if v < 0 {
		return float64(int(v*10-0.5)) / 10
	}
	return float64(int(v*10+0.5)) / 10
}
