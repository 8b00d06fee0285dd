package alerting

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/motorwatch/motorwatch/pkg/models"
)

// maxRecommendations caps the advisory list handed to operators.
const maxRecommendations = 10

// criticalScore is the category/overall score below which rules fire.
const criticalScore = 60.0

// categoryRule describes the degraded-category rule for one scoring
// category: the stable root-cause key and the recommended operator action.
type categoryRule struct {
	category  models.Category
	rootCause string
	action    string
}

var categoryRules = []categoryRule{
	{models.CategoryElectrical, "electrical_degraded", "Inspect supply voltage, wiring and motor load"},
	{models.CategoryThermal, "thermal_degraded", "Check cooling, ventilation and thermal coupling"},
	{models.CategoryMechanical, "mechanical_degraded", "Inspect bearings, coupling and drive train"},
	{models.CategoryPredictive, "trend_degraded", "Schedule preventive inspection before the trend worsens"},
}

type alertKey struct {
	category  models.Category
	rootCause string
}

// Input is one pipeline result evaluated against the rule set.
type Input struct {
	Health  models.HealthScore
	Anomaly models.AnomalyVerdict

	// StrictThreshold is the anomaly score above which the ANOMALY rule
	// fires; it sits above the detector's own flagging threshold.
	StrictThreshold float64
}

// Engine owns the alert lifecycle. All methods are safe for concurrent use;
// creation and acknowledgment for the same root cause serialize on the
// engine mutex.
type Engine struct {
	mu      sync.Mutex
	active  map[alertKey]*models.MaintenanceAlert
	archive []*models.MaintenanceAlert
	log     zerolog.Logger

	// newID is swappable for deterministic tests.
	newID func() string
}

// New returns an empty Engine.
func New(log zerolog.Logger) *Engine {
	return &Engine{
		active: make(map[alertKey]*models.MaintenanceAlert),
		log:    log.With().Str("component", "alerting").Logger(),
		newID:  uuid.NewString,
	}
}

// Evaluate runs the rule set against one pipeline result and returns the
// alerts created or updated by it, most urgent first.
func (e *Engine) Evaluate(in Input, now time.Time) []models.MaintenanceAlert {
	e.mu.Lock()
	defer e.mu.Unlock()

	var touched []models.MaintenanceAlert
	hs := in.Health

	if hs.Overall < criticalScore {
		cat, val := lowestCategory(hs)
		touched = append(touched, e.upsert(
			models.CategoryHealth, "overall_critical",
			models.SeverityCritical,
			fmt.Sprintf("Overall health critical at %.1f; worst subcategory %s at %.1f", hs.Overall, cat, val),
			"Stop the motor and inspect before continued operation",
			severityConfidence(hs.Overall),
			now,
		))
	} else {
		// Degraded single categories only matter while the overall rule
		// is not already firing.
		for _, rule := range categoryRules {
			score := categoryScore(hs, rule.category)
			if score >= criticalScore {
				continue
			}
			msg := fmt.Sprintf("%s health degraded at %.1f", rule.category, score)
			if issues := hs.Issues[rule.category]; len(issues) > 0 {
				msg = fmt.Sprintf("%s health degraded at %.1f: %s", rule.category, score, issues[0])
			}
			touched = append(touched, e.upsert(
				rule.category, rule.rootCause,
				models.SeverityWarning,
				msg, rule.action,
				severityConfidence(score),
				now,
			))
		}
	}

	if in.Anomaly.IsAnomaly && in.Anomaly.Score >= in.StrictThreshold {
		sev := models.SeverityWarning
		if anyCategoryBelow(hs, criticalScore) {
			sev = models.SeverityCritical
		}
		msg := fmt.Sprintf("Anomalous operating pattern (score %.2f)", in.Anomaly.Score)
		if len(in.Anomaly.Contributing) > 0 {
			msg = fmt.Sprintf("Anomalous operating pattern (score %.2f), led by %s",
				in.Anomaly.Score, in.Anomaly.Contributing[0].Feature)
		}
		touched = append(touched, e.upsert(
			models.CategoryAnomaly, "anomalous_behavior",
			sev, msg,
			"Compare recent readings against the operating baseline",
			in.Anomaly.Score,
			now,
		))
	}

	sortBySeverity(touched)
	return touched
}

// ConnectionLost raises the CRITICAL connectivity alert for a source.
func (e *Engine) ConnectionLost(sourceID string, now time.Time) models.MaintenanceAlert {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.upsert(
		models.CategoryConnectivity, connectivityRootCause(sourceID),
		models.SeverityCritical,
		fmt.Sprintf("Data source %q lost: no readings within its timeout", sourceID),
		"Check device power, cabling and network path",
		1.0,
		now,
	)
}

// ConnectionRestored auto-acknowledges the open connectivity alert for the
// source, if any, and returns the terminal alert state.
func (e *Engine) ConnectionRestored(sourceID string, now time.Time) (models.MaintenanceAlert, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := alertKey{models.CategoryConnectivity, connectivityRootCause(sourceID)}
	a, ok := e.active[key]
	if !ok {
		return models.MaintenanceAlert{}, false
	}
	e.ackLocked(a, now)
	return *a, true
}

// PersistenceFailure raises the CRITICAL persistence alert.
func (e *Engine) PersistenceFailure(detail string, now time.Time) models.MaintenanceAlert {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.upsert(
		models.CategoryPersistence, "store_unavailable",
		models.SeverityCritical,
		fmt.Sprintf("Persistence failing: %s", detail),
		"Check storage availability; recent units are buffered in memory",
		1.0,
		now,
	)
}

// Acknowledge marks the alert acknowledged. Acknowledging an alert that is
// already acknowledged is a no-op success: the same terminal state is
// returned and changed is false.
func (e *Engine) Acknowledge(id string, now time.Time) (alert models.MaintenanceAlert, changed, found bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, a := range e.archive {
		if a.ID != id {
			continue
		}
		if a.Acknowledged {
			return *a, false, true
		}
		e.ackLocked(a, now)
		return *a, true, true
	}
	return models.MaintenanceAlert{}, false, false
}

// Active returns the unacknowledged alerts, most urgent first, most
// recently updated first within a severity.
func (e *Engine) Active() []models.MaintenanceAlert {
	e.mu.Lock()
	out := make([]models.MaintenanceAlert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, *a)
	}
	e.mu.Unlock()

	sortBySeverity(out)
	return out
}

// Recommendations is the operator-facing advisory list: active alerts in
// priority order, capped.
func (e *Engine) Recommendations() []models.MaintenanceAlert {
	out := e.Active()
	if len(out) > maxRecommendations {
		out = out[:maxRecommendations]
	}
	return out
}

// History returns every alert ever raised, newest first.
func (e *Engine) History() []models.MaintenanceAlert {
	e.mu.Lock()
	out := make([]models.MaintenanceAlert, 0, len(e.archive))
	for i := len(e.archive) - 1; i >= 0; i-- {
		out = append(out, *e.archive[i])
	}
	e.mu.Unlock()
	return out
}

// upsert creates the ACTIVE alert for the key or refreshes the existing
// one. Callers hold the mutex.
func (e *Engine) upsert(cat models.Category, rootCause string, sev models.Severity, msg, action string, confidence float64, now time.Time) models.MaintenanceAlert {
	key := alertKey{cat, rootCause}
	if a, ok := e.active[key]; ok {
		a.Severity = sev
		a.Message = msg
		a.Action = action
		a.Confidence = confidence
		a.UpdatedAt = now
		return *a
	}

	a := &models.MaintenanceAlert{
		ID:         e.newID(),
		CreatedAt:  now,
		UpdatedAt:  now,
		Category:   cat,
		Severity:   sev,
		RootCause:  rootCause,
		Message:    msg,
		Action:     action,
		Confidence: confidence,
	}
	e.active[key] = a
	e.archive = append(e.archive, a)
	e.log.Warn().
		Str("category", string(cat)).
		Str("root_cause", rootCause).
		Str("severity", string(sev)).
		Msg("alert raised")
	return *a
}

func (e *Engine) ackLocked(a *models.MaintenanceAlert, now time.Time) {
	a.Acknowledged = true
	t := now
	a.AcknowledgedAt = &t
	a.UpdatedAt = now
	delete(e.active, alertKey{a.Category, a.RootCause})
	e.log.Info().Str("id", a.ID).Str("root_cause", a.RootCause).Msg("alert acknowledged")
}

func connectivityRootCause(sourceID string) string {
	return "connection:" + sourceID
}

// severityConfidence maps a degraded score onto [0,1]: the further below
// the critical bound, the more confident the rule.
func severityConfidence(score float64) float64 {
	c := (criticalScore - score) / criticalScore
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c
}

func anyCategoryBelow(hs models.HealthScore, bound float64) bool {
	return hs.Electrical < bound || hs.Thermal < bound ||
		hs.Mechanical < bound || hs.Predictive < bound
}

func categoryScore(hs models.HealthScore, c models.Category) float64 {
	switch c {
	case models.CategoryElectrical:
		return hs.Electrical
	case models.CategoryThermal:
		return hs.Thermal
	case models.CategoryMechanical:
		return hs.Mechanical
	default:
		return hs.Predictive
	}
}

func lowestCategory(hs models.HealthScore) (models.Category, float64) {
	cat, val := models.CategoryElectrical, hs.Electrical
	for _, c := range categoryRules[1:] {
		if v := categoryScore(hs, c.category); v < val {
			cat, val = c.category, v
		}
	}
	return cat, val
}

func sortBySeverity(alerts []models.MaintenanceAlert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].Severity.Rank() != alerts[j].Severity.Rank() {
			return alerts[i].Severity.Rank() > alerts[j].Severity.Rank()
		}
		return alerts[i].UpdatedAt.After(alerts[j].UpdatedAt)
	})
}
