package models

import (
	"encoding/json"
	"time"
)

// RelayState is the canonical state of one protection relay channel.
type RelayState string

const (
	RelayOpen    RelayState = "OPEN"
	RelayClosed  RelayState = "CLOSED"
	RelayUnknown RelayState = "UNKNOWN"
)

// Source identifiers for the two physical data origins.
const (
	SourceESP = "esp"
	SourcePLC = "plc"
)

// Reading is one canonical, unit-normalized sensor sample. It is immutable
// once produced by the normalizer. Optional channels are pointers: a nil
// field means the source did not report that quantity in this sample.
type Reading struct {
	SourceID     string          `json:"source_id"`
	Timestamp    time.Time       `json:"timestamp"`
	CurrentA     *float64        `json:"current_a,omitempty"`
	VoltageV     *float64        `json:"voltage_v,omitempty"`
	RPM          *float64        `json:"rpm,omitempty"`
	MotorTempC   *float64        `json:"motor_temp_c,omitempty"`
	AmbientTempC *float64        `json:"ambient_temp_c,omitempty"`
	HumidityPct  *float64        `json:"humidity_pct,omitempty"`
	HeatIndexC   *float64        `json:"heat_index_c,omitempty"`
	Relays       [3]RelayState   `json:"relays"`
	PowerKW      float64         `json:"power_kw"`
	Raw          json.RawMessage `json:"-"`
}

// Category identifies one health subcategory or alert domain.
type Category string

const (
	CategoryElectrical   Category = "ELECTRICAL"
	CategoryThermal      Category = "THERMAL"
	CategoryMechanical   Category = "MECHANICAL"
	CategoryPredictive   Category = "PREDICTIVE"
	CategoryHealth       Category = "HEALTH"
	CategoryAnomaly      Category = "ANOMALY"
	CategoryConnectivity Category = "CONNECTIVITY"
	CategoryPersistence  Category = "PERSISTENCE"
)

// StatusBand is the named band an overall score falls into.
type StatusBand string

const (
	BandExcellent StatusBand = "Excellent"
	BandGood      StatusBand = "Good"
	BandWarning   StatusBand = "Warning"
	BandCritical  StatusBand = "Critical"
)

// HealthScore is the derived per-reading health assessment. One is produced
// for every processed Reading; it is never mutated afterwards.
type HealthScore struct {
	Timestamp  time.Time             `json:"timestamp"`
	Electrical float64               `json:"electrical"`
	Thermal    float64               `json:"thermal"`
	Mechanical float64               `json:"mechanical"`
	Predictive float64               `json:"predictive"`
	Overall    float64               `json:"overall"`
	Efficiency float64               `json:"efficiency"`
	Band       StatusBand            `json:"status"`
	Issues     map[Category][]string `json:"issues,omitempty"`

	// InsufficientHistory is set when the predictive term had too few
	// samples and returned its neutral score.
	InsufficientHistory bool `json:"insufficient_history,omitempty"`
}

// FeatureContribution names one feature and its standardized deviation from
// the fitted window, ordered most-deviant first in AnomalyVerdict.
type FeatureContribution struct {
	Feature   string  `json:"feature"`
	Deviation float64 `json:"deviation"`
}

// AnomalyVerdict is the outlier assessment for one Reading. Score is
// normalized to [0,1]; higher means more isolated from the rolling window.
type AnomalyVerdict struct {
	Timestamp    time.Time             `json:"timestamp"`
	IsAnomaly    bool                  `json:"is_anomaly"`
	Score        float64               `json:"score"`
	Contributing []FeatureContribution `json:"contributing_features,omitempty"`

	// Unscored is set before the rolling window reaches its minimum
	// population; such verdicts are non-anomalous by definition.
	Unscored bool `json:"unscored,omitempty"`
}

// Severity of a maintenance alert.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities for priority sorting (higher is more urgent).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// MaintenanceAlert is one alert produced by the recommendation engine.
// RootCause together with Category deduplicates alerts: at most one
// unacknowledged alert exists per (Category, RootCause) pair. Alerts are
// archived forever; acknowledgment is the only mutation.
type MaintenanceAlert struct {
	ID             string     `json:"id"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Category       Category   `json:"category"`
	Severity       Severity   `json:"severity"`
	RootCause      string     `json:"root_cause"`
	Message        string     `json:"message"`
	Action         string     `json:"action,omitempty"`
	Confidence     float64    `json:"confidence"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}

// SystemEvent kinds recorded in the audit trail.
const (
	EventConnectionLost     = "connection_lost"
	EventConnectionRestored = "connection_restored"
	EventSourceDegraded     = "source_degraded"
	EventBandCrossing       = "band_crossing"
	EventReadingRejected    = "reading_rejected"
	EventManualCommand      = "manual_command"
	EventPersistenceFailure = "persistence_failure"
	EventUnitDropped        = "unit_dropped"
)

// SystemEvent is one append-only audit record of a state transition or
// operator action.
type SystemEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
}

// LivenessState is the connectivity state of a source, distinct from the
// health of the monitored asset.
type LivenessState string

const (
	LivenessConnected LivenessState = "CONNECTED"
	LivenessDegraded  LivenessState = "DEGRADED"
	LivenessLost      LivenessState = "LOST"
)

// SourceLiveness is the connection state of one source. Transitioned only by
// the liveness monitor; never deleted.
type SourceLiveness struct {
	SourceID   string        `json:"source_id"`
	State      LivenessState `json:"state"`
	LastSeenAt time.Time     `json:"last_seen_at"`
	Timeout    time.Duration `json:"timeout"`
}

// Unit bundles every record derived from one Reading. The store persists a
// Unit atomically: either all of it becomes visible or none of it does.
type Unit struct {
	Reading Reading            `json:"reading"`
	Health  HealthScore        `json:"health"`
	Anomaly AnomalyVerdict     `json:"anomaly"`
	Alerts  []MaintenanceAlert `json:"alerts,omitempty"`
	Events  []SystemEvent      `json:"events,omitempty"`
}
