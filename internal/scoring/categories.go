package scoring

import (
	"fmt"

	"github.com/motorwatch/motorwatch/internal/config"
	"github.com/motorwatch/motorwatch/pkg/models"
)

// Penalty slopes applied past the critical limits. The curves are
// deliberately asymmetric: deductions grow linearly with the excess beyond
// the critical threshold, so a value far past the limit can zero out its
// category on its own.
const (
	voltageCriticalSlope = 6.0  // points per volt beyond the critical bound
	currentCriticalSlope = 10.0 // points per ampere beyond critical
	motorTempSlope       = 8.0  // points per °C beyond critical
	rpmCriticalSlope     = 0.1  // points per RPM beyond critical
)

// Electrical scores the voltage and current channels. Both under- and
// over-voltage are penalized; an underload condition (current far below the
// optimal load point) also penalizes, modeling a disengaged or miswired
// load. Returns 0 with a single issue when no electrical data is present.
func Electrical(r models.Reading, th config.Thresholds) (float64, []string) {
	if r.VoltageV == nil && r.CurrentA == nil {
		return 0, []string{"No electrical data available"}
	}

	score := 100.0
	var issues []string

	if r.VoltageV != nil {
		v := *r.VoltageV
		switch {
		case v < th.VoltageMinCriticalV:
			score -= 40 + voltageCriticalSlope*(th.VoltageMinCriticalV-v)
			issues = append(issues, fmt.Sprintf("Critical undervoltage: %.1fV (min: %.0fV)", v, th.VoltageMinCriticalV))
		case v < th.VoltageMinWarningV:
			score -= 20
			issues = append(issues, fmt.Sprintf("Low voltage: %.1fV (nominal: %.0fV)", v, th.VoltageNominalV))
		case v > th.VoltageMaxCriticalV:
			score -= 40 + voltageCriticalSlope*(v-th.VoltageMaxCriticalV)
			issues = append(issues, fmt.Sprintf("Critical overvoltage: %.1fV (max: %.0fV)", v, th.VoltageMaxCriticalV))
		case v > th.VoltageMaxWarningV:
			score -= 20
			issues = append(issues, fmt.Sprintf("High voltage: %.1fV (nominal: %.0fV)", v, th.VoltageNominalV))
		}
	}

	if r.CurrentA != nil {
		c := *r.CurrentA
		switch {
		case c < th.CurrentMinWarningA:
			score -= 30
			issues = append(issues, fmt.Sprintf("Motor underloaded: %.1fA (optimal: %.2fA)", c, th.CurrentOptimalA))
		case c > th.CurrentMaxCriticalA:
			score -= 50 + currentCriticalSlope*(c-th.CurrentMaxCriticalA)
			issues = append(issues, fmt.Sprintf("Critical overcurrent: %.1fA (max: %.0fA)", c, th.CurrentMaxCriticalA))
		case c > th.CurrentMaxWarningA:
			score -= 25
			issues = append(issues, fmt.Sprintf("Motor overloaded: %.1fA (optimal: %.2fA)", c, th.CurrentOptimalA))
		}
	}

	return clamp(score, 0, 100), issues
}

// Thermal scores the motor temperature against its bands, scaled by the
// ambient heat-index term: the same motor temperature deducts more when the
// surrounding air is already hot and humid. Ambient and humidity excursions
// add their own smaller deductions.
func Thermal(r models.Reading, th config.Thresholds) (float64, []string) {
	if r.MotorTempC == nil && r.AmbientTempC == nil {
		return 0, []string{"No thermal data available"}
	}

	score := 100.0
	var issues []string

	if r.MotorTempC != nil {
		t := *r.MotorTempC
		var penalty float64
		switch {
		case t > th.MotorTempCriticalC:
			penalty = 60 + motorTempSlope*(t-th.MotorTempCriticalC)
			issues = append(issues, fmt.Sprintf("Critical motor temperature: %.1f°C (max: %.0f°C)", t, th.MotorTempCriticalC))
		case t > th.MotorTempWarningC:
			// Linear 30..60 across the warning-to-critical band.
			penalty = 30 + 30*(t-th.MotorTempWarningC)/(th.MotorTempCriticalC-th.MotorTempWarningC)
			issues = append(issues, fmt.Sprintf("High motor temperature: %.1f°C (optimal: <%.0f°C)", t, th.MotorTempGoodC))
		case t > th.MotorTempGoodC:
			penalty = 15 * (t - th.MotorTempGoodC) / (th.MotorTempWarningC - th.MotorTempGoodC)
			issues = append(issues, fmt.Sprintf("Elevated motor temperature: %.1f°C", t))
		}
		score -= penalty * heatIndexFactor(r, th)
	}

	if r.AmbientTempC != nil {
		a := *r.AmbientTempC
		switch {
		case a > th.AmbientCriticalC:
			score -= 25
			issues = append(issues, fmt.Sprintf("Critical ambient temperature: %.1f°C", a))
		case a > th.AmbientWarningC:
			score -= 15
			issues = append(issues, fmt.Sprintf("High ambient temperature: %.1f°C", a))
		}
	}

	if r.HumidityPct != nil {
		h := *r.HumidityPct
		switch {
		case h > th.HumidityMaxCriticalPct:
			score -= 20
			issues = append(issues, fmt.Sprintf("Critical humidity: %.1f%% (condensation risk)", h))
		case h > th.HumidityMaxWarningPct:
			score -= 10
			issues = append(issues, fmt.Sprintf("High humidity: %.1f%%", h))
		case h < th.HumidityMinWarningPct:
			score -= 5
			issues = append(issues, fmt.Sprintf("Low humidity: %.1f%% (static risk)", h))
		}
	}

	return clamp(score, 0, 100), issues
}

// heatIndexFactor scales the motor-temperature penalty by the ambient
// conditions. 1.0 in comfortable air, up to 1.5 when the heat index has
// passed the critical ambient bound.
func heatIndexFactor(r models.Reading, th config.Thresholds) float64 {
	hi := r.HeatIndexC
	if hi == nil {
		hi = r.AmbientTempC
	}
	if hi == nil {
		return 1.0
	}
	switch {
	case *hi > th.AmbientCriticalC:
		return 1.5
	case *hi > th.AmbientWarningC:
		return 1.25
	default:
		return 1.0
	}
}

// Mechanical scores RPM deviation as a symmetric band around the optimal
// point and flags relay-state inconsistency and current/RPM imbalance.
func Mechanical(r models.Reading, th config.Thresholds) (float64, []string) {
	if r.RPM == nil {
		return 0, []string{"No RPM data available"}
	}

	score := 100.0
	var issues []string
	rpm := *r.RPM

	switch {
	case rpm < th.RPMMinCritical:
		score -= 50 + rpmCriticalSlope*(th.RPMMinCritical-rpm)
		issues = append(issues, fmt.Sprintf("Critical low RPM: %.0f (min: %.0f)", rpm, th.RPMMinCritical))
	case rpm < th.RPMMinWarning:
		score -= 30
		issues = append(issues, fmt.Sprintf("Low RPM: %.0f (optimal: %.0f)", rpm, th.RPMOptimal))
	case rpm > th.RPMMaxCritical:
		score -= 50 + rpmCriticalSlope*(rpm-th.RPMMaxCritical)
		issues = append(issues, fmt.Sprintf("Critical high RPM: %.0f (max: %.0f)", rpm, th.RPMMaxCritical))
	case rpm > th.RPMMaxWarning:
		score -= 30
		issues = append(issues, fmt.Sprintf("High RPM: %.0f (optimal: %.0f)", rpm, th.RPMOptimal))
	}

	// Load balance: the current drawn should track RPM. A deviation above
	// 50% of the expected draw points at a slipping coupling or load fault.
	if r.CurrentA != nil && rpm > 0 && th.RPMOptimal > 0 {
		expected := (rpm / th.RPMOptimal) * th.CurrentOptimalA
		if expected > 0 {
			deviation := abs(*r.CurrentA-expected) / expected
			if deviation > 0.5 {
				score -= 20
				issues = append(issues, fmt.Sprintf("Current/RPM imbalance: %.1fA drawn, %.1fA expected", *r.CurrentA, expected))
			}
		}
	}

	// Relay consistency: the protection relay (channel 0) open while the
	// motor spins inside its normal band means the trip signal and the
	// mechanical indicators disagree.
	if r.Relays[0] == models.RelayOpen && rpm >= th.RPMMinWarning && rpm <= th.RPMMaxWarning {
		score -= 20
		issues = append(issues, "Protection relay open during normal operation")
	}

	return clamp(score, 0, 100), issues
}

// Efficiency is the supplementary efficiency figure: the mean of RPM
// efficiency against the optimal point and power efficiency against the
// theoretical draw. Not part of the weighted overall score.
func Efficiency(r models.Reading, th config.Thresholds) float64 {
	if r.VoltageV == nil || r.CurrentA == nil || r.RPM == nil {
		return 0
	}
	v, c, rpm := *r.VoltageV, *r.CurrentA, *r.RPM
	if v == 0 || c == 0 || rpm == 0 || th.RPMOptimal == 0 {
		return 0
	}

	rpmEff := min100(rpm / th.RPMOptimal * 100)

	actual := v * c / 1000
	theoretical := th.VoltageNominalV * th.CurrentOptimalA / 1000
	var powerEff float64
	if actual > 0 {
		powerEff = min100(theoretical / actual * 100)
	}

	return clamp((rpmEff+powerEff)/2, 0, 100)
}

func min100(v float64) float64 {
	if v > 100 {
		return 100
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
