package anomaly

import (
	"math"

	"github.com/motorwatch/motorwatch/pkg/models"
)

// featureNames is the fixed feature order of the model vectors.
var featureNames = []string{
	"current_a",
	"voltage_v",
	"rpm",
	"motor_temp_c",
	"ambient_temp_c",
	"humidity_pct",
}

// vectorize maps a Reading onto the model feature order. Channels the
// source did not report become NaN and are imputed to the window mean at
// scoring time.
func vectorize(r models.Reading) []float64 {
	opt := func(p *float64) float64 {
		if p == nil {
			return math.NaN()
		}
		return *p
	}
	return []float64{
		opt(r.CurrentA),
		opt(r.VoltageV),
		opt(r.RPM),
		opt(r.MotorTempC),
		opt(r.AmbientTempC),
		opt(r.HumidityPct),
	}
}
