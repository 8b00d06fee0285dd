package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/motorwatch/motorwatch/internal/config"
	"github.com/motorwatch/motorwatch/pkg/models"
)

func fp(v float64) *float64 { return &v }

func optimalReading() models.Reading {
	return models.Reading{
		SourceID:     models.SourceESP,
		Timestamp:    time.Now(),
		CurrentA:     fp(6.25),
		VoltageV:     fp(24.0),
		RPM:          fp(2750),
		MotorTempC:   fp(28),
		AmbientTempC: fp(26),
		HumidityPct:  fp(45),
		Relays:       [3]models.RelayState{models.RelayUnknown, models.RelayUnknown, models.RelayUnknown},
	}
}

func scoringCfg() config.ScoringConfig { return config.Default().Scoring }

func TestScore_OptimalReadingIsExcellent(t *testing.T) {
	hs := Score(optimalReading(), nil, scoringCfg(), time.Now())

	if hs.Overall < 90 {
		t.Errorf("Overall: got %v, want >= 90", hs.Overall)
	}
	if hs.Band != models.BandExcellent {
		t.Errorf("Band: got %q, want Excellent", hs.Band)
	}
	if !hs.InsufficientHistory {
		t.Error("InsufficientHistory: want true with empty history")
	}
}

func TestScore_HotMotorDegradesThermalAndOverall(t *testing.T) {
	r := optimalReading()
	r.MotorTempC = fp(65)

	hs := Score(r, nil, scoringCfg(), time.Now())

	if hs.Thermal >= 60 {
		t.Errorf("Thermal: got %v, want < 60", hs.Thermal)
	}
	if hs.Overall >= 75 {
		t.Errorf("Overall: got %v, want < 75", hs.Overall)
	}
	if len(hs.Issues[models.CategoryThermal]) == 0 {
		t.Error("Issues: want a thermal issue reported")
	}
}

func TestScore_OverallIsWeightedSum(t *testing.T) {
	cfg := scoringCfg()
	readings := []models.Reading{
		optimalReading(),
		func() models.Reading { r := optimalReading(); r.VoltageV = fp(19); return r }(),
		func() models.Reading { r := optimalReading(); r.MotorTempC = fp(55); return r }(),
		func() models.Reading { r := optimalReading(); r.RPM = fp(3300); r.CurrentA = fp(13); return r }(),
		func() models.Reading { r := optimalReading(); r.CurrentA = nil; r.VoltageV = nil; return r }(),
	}

	for i, r := range readings {
		hs := Score(r, nil, cfg, time.Now())

		if hs.Overall < 0 || hs.Overall > 100 {
			t.Errorf("reading %d: Overall %v out of [0,100]", i, hs.Overall)
		}
		w := cfg.Weights
		want := hs.Electrical*w.Electrical + hs.Thermal*w.Thermal +
			hs.Mechanical*w.Mechanical + hs.Predictive*w.Predictive
		// The stored overall is the weighted sum of the stored category
		// values, rounded to the same one-decimal precision.
		if math.Abs(hs.Overall-want) > 0.05+1e-9 {
			t.Errorf("reading %d: Overall %v, weighted sum of stored categories %v", i, hs.Overall, want)
		}
	}
}

func TestScore_ThresholdIsolation(t *testing.T) {
	r := optimalReading()
	r.VoltageV = fp(21) // inside the warning band

	base := scoringCfg()
	moved := scoringCfg()
	moved.Thresholds.VoltageMinWarningV = 20.5 // 21V now acceptable

	before := Score(r, nil, base, time.Now())
	after := Score(r, nil, moved, time.Now())

	if before.Electrical == after.Electrical {
		t.Error("Electrical: expected the moved voltage threshold to change the score")
	}
	if before.Thermal != after.Thermal {
		t.Errorf("Thermal changed with a voltage threshold: %v -> %v", before.Thermal, after.Thermal)
	}
	if before.Mechanical != after.Mechanical {
		t.Errorf("Mechanical changed with a voltage threshold: %v -> %v", before.Mechanical, after.Mechanical)
	}
	if before.Predictive != after.Predictive {
		t.Errorf("Predictive changed with a voltage threshold: %v -> %v", before.Predictive, after.Predictive)
	}
}

func TestElectrical_Curves(t *testing.T) {
	th := scoringCfg().Thresholds
	tests := []struct {
		name     string
		voltage  *float64
		current  *float64
		maxScore float64
		minScore float64
	}{
		{"nominal", fp(24), fp(6.25), 100, 100},
		{"low voltage warning", fp(21.5), fp(6.25), 80, 80},
		{"critical undervoltage", fp(19), fp(6.25), 55, 0},
		{"high voltage warning", fp(27), fp(6.25), 80, 80},
		{"underload", fp(24), fp(2), 70, 70},
		{"critical overcurrent", fp(24), fp(13), 40, 0},
		{"no data at all", nil, nil, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := models.Reading{VoltageV: tt.voltage, CurrentA: tt.current}
			got, _ := Electrical(r, th)
			if got > tt.maxScore || got < tt.minScore {
				t.Errorf("Electrical: got %v, want in [%v, %v]", got, tt.minScore, tt.maxScore)
			}
		})
	}
}

func TestElectrical_SteeperBeyondCritical(t *testing.T) {
	th := scoringCfg().Thresholds

	at, _ := Electrical(models.Reading{VoltageV: fp(19.9)}, th)
	deep, _ := Electrical(models.Reading{VoltageV: fp(17)}, th)
	if deep >= at {
		t.Errorf("penalty not steeper past critical: 17V=%v, 19.9V=%v", deep, at)
	}
}

func TestThermal_HeatIndexScalesMotorPenalty(t *testing.T) {
	th := scoringCfg().Thresholds

	cool := models.Reading{MotorTempC: fp(45), AmbientTempC: fp(24), HumidityPct: fp(40)}
	hot := models.Reading{MotorTempC: fp(45), AmbientTempC: fp(24), HumidityPct: fp(40), HeatIndexC: fp(37)}

	coolScore, _ := Thermal(cool, th)
	hotScore, _ := Thermal(hot, th)
	if hotScore >= coolScore {
		t.Errorf("same motor temp should score worse in hot air: cool=%v hot=%v", coolScore, hotScore)
	}
}

func TestMechanical_RelayInconsistency(t *testing.T) {
	th := scoringCfg().Thresholds

	normal := models.Reading{RPM: fp(2750), CurrentA: fp(6.25)}
	tripped := normal
	tripped.Relays[0] = models.RelayOpen

	okScore, _ := Mechanical(normal, th)
	badScore, issues := Mechanical(tripped, th)
	if badScore >= okScore {
		t.Errorf("open protection relay at normal RPM should deduct: %v >= %v", badScore, okScore)
	}
	if len(issues) == 0 {
		t.Error("expected a relay inconsistency issue")
	}

	// An open relay with the motor outside its normal band is consistent.
	stopped := models.Reading{RPM: fp(100)}
	stopped.Relays[0] = models.RelayOpen
	s1, _ := Mechanical(stopped, th)
	noRelay := models.Reading{RPM: fp(100)}
	s2, _ := Mechanical(noRelay, th)
	if s1 != s2 {
		t.Errorf("relay penalty applied outside the normal band: %v != %v", s1, s2)
	}
}

func TestMechanical_CurrentRPMImbalance(t *testing.T) {
	th := scoringCfg().Thresholds

	balanced := models.Reading{RPM: fp(2750), CurrentA: fp(6.25)}
	imbalanced := models.Reading{RPM: fp(2750), CurrentA: fp(1.0)}

	s1, _ := Mechanical(balanced, th)
	s2, _ := Mechanical(imbalanced, th)
	if s2 >= s1 {
		t.Errorf("50%%+ current deviation should deduct: %v >= %v", s2, s1)
	}
}

func TestPredictive_InsufficientHistoryIsNeutral(t *testing.T) {
	score, _, insufficient := Predictive([]Sample{{Overall: 10}, {Overall: 5}})
	if score != 100 {
		t.Errorf("score: got %v, want neutral 100", score)
	}
	if !insufficient {
		t.Error("insufficient: want true below the minimum window")
	}
}

func TestPredictive_RisingTemperature(t *testing.T) {
	var history []Sample
	for i := 0; i < 10; i++ {
		history = append(history, Sample{MotorTempC: fp(40 + 2*float64(i)), Overall: 90})
	}

	score, issues, insufficient := Predictive(history)
	if insufficient {
		t.Fatal("insufficient: want false with 10 samples")
	}
	if score != 70 {
		t.Errorf("score: got %v, want 70 (one -30 temperature deduction)", score)
	}
	if len(issues) != 1 {
		t.Errorf("issues: got %d, want 1", len(issues))
	}
}

func TestPredictive_FlatTrendsDoNotPenalize(t *testing.T) {
	var history []Sample
	for i := 0; i < 20; i++ {
		history = append(history, Sample{MotorTempC: fp(38), CurrentA: fp(6.2), Overall: 95})
	}

	score, _, _ := Predictive(history)
	if score != 100 {
		t.Errorf("score: got %v, want 100 for flat history", score)
	}
}

func TestPredictive_ImprovementIsNotPenalized(t *testing.T) {
	// Overall score rising fast: only unfavorable trends deduct.
	var history []Sample
	for i := 0; i < 15; i++ {
		history = append(history, Sample{Overall: 40 + 4*float64(i)})
	}
	score, _, _ := Predictive(history)
	if score != 100 {
		t.Errorf("score: got %v, want 100 for improving trend", score)
	}
}

func TestFitSlope(t *testing.T) {
	tests := []struct {
		name string
		vals []float64
		want float64
	}{
		{"increasing by 2", []float64{0, 2, 4, 6}, 2},
		{"flat", []float64{5, 5, 5, 5}, 0},
		{"decreasing", []float64{9, 6, 3, 0}, -3},
		{"single point", []float64{7}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fitSlope(tt.vals); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("fitSlope: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBandFromScore_Boundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  models.StatusBand
	}{
		{100, models.BandExcellent},
		{90, models.BandExcellent},
		{89.9, models.BandGood},
		{75, models.BandGood},
		{74.9, models.BandWarning},
		{60, models.BandWarning},
		{59.9, models.BandCritical},
		{0, models.BandCritical},
	}
	for _, tt := range tests {
		if got := BandFromScore(tt.score); got != tt.want {
			t.Errorf("BandFromScore(%v): got %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestEfficiency(t *testing.T) {
	th := scoringCfg().Thresholds

	if got := Efficiency(optimalReading(), th); math.Abs(got-100) > 1e-9 {
		t.Errorf("optimal efficiency: got %v, want 100", got)
	}

	r := optimalReading()
	r.RPM = nil
	if got := Efficiency(r, th); got != 0 {
		t.Errorf("efficiency without RPM: got %v, want 0", got)
	}
}

func TestLowestCategory(t *testing.T) {
	hs := models.HealthScore{Electrical: 80, Thermal: 40, Mechanical: 90, Predictive: 100}
	cat, val := LowestCategory(hs)
	if cat != models.CategoryThermal || val != 40 {
		t.Errorf("LowestCategory: got %v/%v, want THERMAL/40", cat, val)
	}
}
