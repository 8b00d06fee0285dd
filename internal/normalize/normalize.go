package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/motorwatch/motorwatch/pkg/models"
)

// Range policies for physically implausible values.
const (
	PolicyClamp  = "clamp"
	PolicyReject = "reject"
)

// ValidationError reports a malformed or out-of-range payload. Readings
// failing validation are rejected, never silently passed downstream.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid reading: field %q: %s", e.Field, e.Reason)
}

// PLC register scaling. D100 is a 12-bit ADC count over a 0-30V range,
// D102 converts with a fixed per-count coefficient.
const (
	plcVoltageFullScaleV = 30.0
	plcADCMax            = 4095.0
	plcTempPerCount      = 0.05175
)

// physicalRange bounds one measured channel. Values outside are clamped or
// rejected per the configured policy.
type physicalRange struct {
	lo, hi float64
}

var ranges = map[string]physicalRange{
	"current_a":      {0, 50},
	"voltage_v":      {0, 60},
	"rpm":            {0, 10000},
	"motor_temp_c":   {-20, 200},
	"ambient_temp_c": {-40, 60},
	"humidity_pct":   {0, 100},
	"heat_index_c":   {-40, 80},
}

// Normalizer converts raw source payloads into canonical Readings.
type Normalizer struct {
	// Policy is PolicyClamp or PolicyReject.
	Policy string
}

// New returns a Normalizer with the given range policy.
func New(policy string) *Normalizer {
	return &Normalizer{Policy: policy}
}

// Normalize parses the raw payload for the named source and returns the
// canonical Reading. receivedAt becomes the Reading timestamp.
func (n *Normalizer) Normalize(sourceID string, raw json.RawMessage, receivedAt time.Time) (models.Reading, error) {
	switch sourceID {
	case models.SourceESP:
		return n.normalizeESP(raw, receivedAt)
	case models.SourcePLC:
		return n.normalizePLC(raw, receivedAt)
	default:
		return models.Reading{}, &ValidationError{Field: "source_id", Reason: fmt.Sprintf("unknown source %q", sourceID)}
	}
}

// normalizeESP handles the push source's keyed payload:
//
//	VAL1 current (A)     VAL5 humidity (%)       VAL9..VAL11 relay states
//	VAL2 voltage (V)     VAL6 ambient temp (°F)  VAL12 combined status text
//	VAL3 RPM             VAL7 heat index (°C)
//	VAL4 ambient (°C)    VAL8 heat index (°F)
//
// Numeric values arrive as JSON numbers or numeric strings; empty strings
// and nulls mean the channel was not sampled.
func (n *Normalizer) normalizeESP(raw json.RawMessage, receivedAt time.Time) (models.Reading, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return models.Reading{}, &ValidationError{Field: "payload", Reason: "not a JSON object"}
	}
	if len(fields) == 0 {
		return models.Reading{}, &ValidationError{Field: "payload", Reason: "empty payload"}
	}

	r := models.Reading{
		SourceID:  models.SourceESP,
		Timestamp: receivedAt,
		Raw:       raw,
		Relays:    [3]models.RelayState{models.RelayUnknown, models.RelayUnknown, models.RelayUnknown},
	}

	var err error
	if r.CurrentA, err = numField(fields, "VAL1"); err != nil {
		return models.Reading{}, err
	}
	if r.VoltageV, err = numField(fields, "VAL2"); err != nil {
		return models.Reading{}, err
	}
	if r.RPM, err = numField(fields, "VAL3"); err != nil {
		return models.Reading{}, err
	}
	if r.AmbientTempC, err = numField(fields, "VAL4"); err != nil {
		return models.Reading{}, err
	}
	if r.HumidityPct, err = numField(fields, "VAL5"); err != nil {
		return models.Reading{}, err
	}

	// Fahrenheit channels back-fill their Celsius twins when those are
	// missing from the sample.
	if r.AmbientTempC == nil {
		f, err := numField(fields, "VAL6")
		if err != nil {
			return models.Reading{}, err
		}
		if f != nil {
			c := fahrenheitToCelsius(*f)
			r.AmbientTempC = &c
		}
	}
	if r.HeatIndexC, err = numField(fields, "VAL7"); err != nil {
		return models.Reading{}, err
	}
	if r.HeatIndexC == nil {
		f, err := numField(fields, "VAL8")
		if err != nil {
			return models.Reading{}, err
		}
		if f != nil {
			c := fahrenheitToCelsius(*f)
			r.HeatIndexC = &c
		}
	}
	if r.HeatIndexC == nil && r.AmbientTempC != nil && r.HumidityPct != nil {
		hi := heatIndexC(*r.AmbientTempC, *r.HumidityPct)
		r.HeatIndexC = &hi
	}

	for i, key := range []string{"VAL9", "VAL10", "VAL11"} {
		if v, ok := fields[key]; ok {
			r.Relays[i] = relayState(v)
		}
	}

	if err := n.enforceRanges(&r); err != nil {
		return models.Reading{}, err
	}
	finish(&r)
	return r, nil
}

// plcPayload is the register snapshot the poll adapter submits: raw word
// values straight off the device.
type plcPayload struct {
	D100 *int `json:"d100"` // voltage ADC count
	D102 *int `json:"d102"` // motor temperature count
	RPM  *int `json:"rpm,omitempty"`
}

// normalizePLC converts raw register counts to engineering units. A count
// at or below zero means the channel had no signal and is omitted.
func (n *Normalizer) normalizePLC(raw json.RawMessage, receivedAt time.Time) (models.Reading, error) {
	var p plcPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.Reading{}, &ValidationError{Field: "payload", Reason: "not a JSON register map"}
	}
	if p.D100 == nil && p.D102 == nil && p.RPM == nil {
		return models.Reading{}, &ValidationError{Field: "payload", Reason: "no registers present"}
	}

	r := models.Reading{
		SourceID:  models.SourcePLC,
		Timestamp: receivedAt,
		Raw:       raw,
		Relays:    [3]models.RelayState{models.RelayUnknown, models.RelayUnknown, models.RelayUnknown},
	}

	if p.D100 != nil && *p.D100 > 0 {
		v := round1(float64(*p.D100) / plcADCMax * plcVoltageFullScaleV)
		r.VoltageV = &v
	}
	if p.D102 != nil && *p.D102 > 0 {
		t := round1(plcTempPerCount * float64(*p.D102))
		r.MotorTempC = &t
	}
	if p.RPM != nil && *p.RPM > 0 {
		rpm := float64(*p.RPM)
		r.RPM = &rpm
	}

	if err := n.enforceRanges(&r); err != nil {
		return models.Reading{}, err
	}
	finish(&r)
	return r, nil
}

// enforceRanges applies the physical range table under the configured
// policy. Clamping mutates in place; rejection fails the whole reading.
func (n *Normalizer) enforceRanges(r *models.Reading) error {
	channels := []struct {
		name string
		val  *float64
	}{
		{"current_a", r.CurrentA},
		{"voltage_v", r.VoltageV},
		{"rpm", r.RPM},
		{"motor_temp_c", r.MotorTempC},
		{"ambient_temp_c", r.AmbientTempC},
		{"humidity_pct", r.HumidityPct},
		{"heat_index_c", r.HeatIndexC},
	}
	for _, ch := range channels {
		if ch.val == nil {
			continue
		}
		b := ranges[ch.name]
		if *ch.val >= b.lo && *ch.val <= b.hi {
			continue
		}
		if n.Policy == PolicyReject {
			return &ValidationError{
				Field:  ch.name,
				Reason: fmt.Sprintf("%v outside physical range [%v, %v]", *ch.val, b.lo, b.hi),
			}
		}
		if *ch.val < b.lo {
			*ch.val = b.lo
		} else {
			*ch.val = b.hi
		}
	}
	return nil
}

// finish derives the fields computed from normalized channels.
func finish(r *models.Reading) {
	if r.VoltageV != nil && r.CurrentA != nil {
		r.PowerKW = *r.VoltageV * *r.CurrentA / 1000
	}
}

// numField reads a numeric field that may arrive as a JSON number or a
// numeric string. Absent, null and empty-string values mean "not sampled";
// a non-numeric string is a validation failure.
func numField(fields map[string]any, key string) (*float64, error) {
	v, ok := fields[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case float64:
		return &t, nil
	case string:
		if t == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, &ValidationError{Field: key, Reason: fmt.Sprintf("non-numeric value %q", t)}
		}
		return &f, nil
	default:
		return nil, &ValidationError{Field: key, Reason: fmt.Sprintf("unsupported type %T", v)}
	}
}

// relayState maps the source's relay text to the canonical enumeration.
// Relays are energized-closed: ON means the contact is made.
func relayState(v any) models.RelayState {
	s, ok := v.(string)
	if !ok {
		return models.RelayUnknown
	}
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ON", "CLOSED", "1":
		return models.RelayClosed
	case "OFF", "OPEN", "0":
		return models.RelayOpen
	default:
		return models.RelayUnknown
	}
}

func fahrenheitToCelsius(f float64) float64 {
	return round1((f - 32) * 5 / 9)
}

// heatIndexC approximates the felt temperature from dry-bulb temperature
// and relative humidity (Rothfusz regression, computed in Fahrenheit).
// Below 27°C the felt temperature tracks the dry-bulb value closely.
func heatIndexC(tempC, humidity float64) float64 {
	if tempC < 27 {
		return round1(tempC)
	}
	t := tempC*9/5 + 32
	h := humidity
	hi := -42.379 + 2.04901523*t + 10.14333127*h -
		0.22475541*t*h - 0.00683783*t*t - 0.05481717*h*h +
		0.00122874*t*t*h + 0.00085282*t*h*h - 0.00000199*t*t*h*h
	return fahrenheitToCelsius(hi)
}

func round1(v float64) float64 {
	if v < 0 {
		return float64(int(v*10-0.5)) / 10
	}
	return float64(int(v*10+0.5)) / 10
}
