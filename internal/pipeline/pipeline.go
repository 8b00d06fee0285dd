package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/motorwatch/motorwatch/internal/alerting"
	"github.com/motorwatch/motorwatch/internal/anomaly"
	"github.com/motorwatch/motorwatch/internal/config"
	"github.com/motorwatch/motorwatch/internal/export"
	"github.com/motorwatch/motorwatch/internal/liveness"
	"github.com/motorwatch/motorwatch/internal/metrics"
	"github.com/motorwatch/motorwatch/internal/normalize"
	"github.com/motorwatch/motorwatch/internal/scoring"
	"github.com/motorwatch/motorwatch/internal/storage"
	"github.com/motorwatch/motorwatch/internal/ws"
	"github.com/motorwatch/motorwatch/pkg/models"
)

// Publisher is the fan-out surface the coordinator publishes to after a
// unit persists. Implementations must never block.
type Publisher interface {
	Publish(topic string, data any)
}

// Snapshot is the latest engine state, versioned by Seq. Handed to the API
// and to new WebSocket subscribers.
type Snapshot struct {
	Seq       int64                   `json:"seq"`
	UpdatedAt time.Time               `json:"updated_at"`
	Reading   *models.Reading         `json:"reading,omitempty"`
	Health    *models.HealthScore     `json:"health,omitempty"`
	Anomaly   *models.AnomalyVerdict  `json:"anomaly,omitempty"`
	Sources   []models.SourceLiveness `json:"sources"`
}

// Coordinator runs the pipeline. Shared rolling buffers (scoring history,
// anomaly window, snapshot) are guarded by a single mutex; normalization
// and persistence run outside it so sources do not stall each other on
// store latency.
type Coordinator struct {
	cfg      *config.Config
	log      zerolog.Logger
	norm     *normalize.Normalizer
	monitor  *liveness.Monitor
	detector *anomaly.Detector
	engine   *alerting.Engine
	store    storage.Store
	pub      Publisher
	exporter *export.Appender

	mu       sync.Mutex
	history  []scoring.Sample
	lastBand models.StatusBand
	snapshot Snapshot

	// fused is the latest-channels view across sources: each source
	// contributes only the channels it measures, so a register snapshot
	// does not erase the push source's RPM or current. Scoring and anomaly
	// detection always run against this view. fusedSrc attributes each
	// channel to the source that last supplied it so a lost source's
	// stale channels can be dropped.
	fused    models.Reading
	fusedSrc map[string]string

	// pending accumulates events and alerts raised outside the per-reading
	// path (liveness sweeps, operator commands); they ride along with the
	// next persisted unit.
	pendingMu     sync.Mutex
	pendingEvents []models.SystemEvent
	pendingAlerts []models.MaintenanceAlert

	// overflow holds units whose persistence exhausted the retry budget.
	overflowMu sync.Mutex
	overflow   []models.Unit

	wg    sync.WaitGroup
	now   func() time.Time
	newID func() string

	// retryInterval seeds the persistence backoff; tests shorten it.
	retryInterval time.Duration
}

// New wires a Coordinator. exporter may be nil to disable CSV export.
func New(cfg *config.Config, store storage.Store, pub Publisher, exporter *export.Appender, log zerolog.Logger) *Coordinator {
	c := &Coordinator{
		cfg:           cfg,
		log:           log.With().Str("component", "pipeline").Logger(),
		norm:          normalize.New(cfg.Sources.RangePolicy),
		engine:        alerting.New(log),
		store:         store,
		pub:           pub,
		exporter:      exporter,
		fusedSrc:      make(map[string]string),
		now:           time.Now,
		newID:         uuid.NewString,
		retryInterval: 250 * time.Millisecond,
	}
	c.detector = anomaly.New(cfg.Anomaly, log, time.Now().UnixNano())
	c.monitor = liveness.New(log, c.onTransition)

	now := c.now()
	c.monitor.Register(models.SourceESP, cfg.Sources.ESPTimeout, now)
	c.monitor.Register(models.SourcePLC, cfg.Sources.PLCTimeout, now)
	metrics.SourceUp.WithLabelValues(models.SourceESP).Set(1)
	metrics.SourceUp.WithLabelValues(models.SourcePLC).Set(1)
	return c
}

// ApplyConfig swaps the hot-reloadable tuning: scoring weights and
// thresholds, the anomaly strict threshold, the range policy and the source
// timeouts. Ports, buffer sizes and the sweep cadence keep their boot-time
// values and need a restart.
func (c *Coordinator) ApplyConfig(next *config.Config) {
	c.mu.Lock()
	c.cfg.Scoring = next.Scoring
	c.cfg.Anomaly.StrictThreshold = next.Anomaly.StrictThreshold
	c.cfg.Sources.RangePolicy = next.Sources.RangePolicy
	c.norm = normalize.New(next.Sources.RangePolicy)
	c.mu.Unlock()

	now := c.now()
	c.monitor.Register(models.SourceESP, next.Sources.ESPTimeout, now)
	c.monitor.Register(models.SourcePLC, next.Sources.PLCTimeout, now)
	c.log.Info().Msg("tuning configuration reapplied")
}

// Run drives the periodic liveness sweep until ctx is cancelled, then waits
// for in-flight ingests to drain.
func (c *Coordinator) Run(ctx context.Context) {
	t := time.NewTicker(c.cfg.Sources.SweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			c.reportPending()
			return
		case <-t.C:
			c.monitor.Sweep(c.now())
		}
	}
}

// Ingest processes one raw payload end to end. Liveness is updated even
// when the payload fails validation; a malformed reading is skipped, never
// fatal.
func (c *Coordinator) Ingest(ctx context.Context, sourceID string, raw json.RawMessage, receivedAt time.Time) error {
	c.wg.Add(1)
	defer c.wg.Done()

	c.monitor.RecordArrival(sourceID, receivedAt)

	c.mu.Lock()
	norm := c.norm
	c.mu.Unlock()

	reading, err := norm.Normalize(sourceID, raw, receivedAt)
	if err != nil {
		var verr *normalize.ValidationError
		if errors.As(err, &verr) {
			metrics.ReadingsRejected.WithLabelValues(sourceID).Inc()
			c.queueEvent(models.EventReadingRejected, fmt.Sprintf("source %s: %v", sourceID, verr), receivedAt)
			c.log.Warn().Str("source", sourceID).Err(verr).Msg("reading rejected")
			return err
		}
		return err
	}

	unit := c.process(reading)

	if err := c.persist(ctx, unit); err != nil {
		return err
	}
	c.afterPersist(unit)
	return nil
}

// process runs scoring, anomaly detection and the alert rules under the
// shared-buffer lock.
func (c *Coordinator) process(reading models.Reading) models.Unit {
	now := reading.Timestamp

	c.mu.Lock()
	fused := c.mergeFusedLocked(reading)
	health := scoring.Score(fused, c.history, c.cfg.Scoring, now)
	c.history = append(c.history, scoring.Sample{
		MotorTempC: fused.MotorTempC,
		CurrentA:   fused.CurrentA,
		Overall:    health.Overall,
	})
	if len(c.history) > c.cfg.Scoring.HistorySize {
		c.history = c.history[len(c.history)-c.cfg.Scoring.HistorySize:]
	}

	var events []models.SystemEvent
	if c.lastBand != "" && scoring.BandRank(health.Band) < scoring.BandRank(c.lastBand) {
		events = append(events, models.SystemEvent{
			ID:        c.newID(),
			Timestamp: now,
			Kind:      models.EventBandCrossing,
			Detail:    fmt.Sprintf("health dropped from %s to %s (%.1f)", c.lastBand, health.Band, health.Overall),
		})
	}
	c.lastBand = health.Band

	verdict := c.detector.Observe(fused, now)
	strict := c.cfg.Anomaly.StrictThreshold
	c.mu.Unlock()

	alerts := c.engine.Evaluate(alerting.Input{
		Health:          health,
		Anomaly:         verdict,
		StrictThreshold: strict,
	}, now)

	if verdict.IsAnomaly {
		metrics.AnomaliesFlagged.Inc()
	}
	for _, a := range alerts {
		metrics.AlertsRaised.WithLabelValues(string(a.Category)).Inc()
	}
	metrics.HealthScore.WithLabelValues("overall").Set(health.Overall)
	metrics.HealthScore.WithLabelValues("electrical").Set(health.Electrical)
	metrics.HealthScore.WithLabelValues("thermal").Set(health.Thermal)
	metrics.HealthScore.WithLabelValues("mechanical").Set(health.Mechanical)
	metrics.HealthScore.WithLabelValues("predictive").Set(health.Predictive)

	unit := models.Unit{
		Reading: reading,
		Health:  health,
		Anomaly: verdict,
		Alerts:  alerts,
		Events:  events,
	}
	c.attachPending(&unit)
	return unit
}

// persist writes the unit with bounded exponential backoff. Exhausting the
// budget raises the persistence alert and parks the unit in the overflow
// buffer instead of dropping it silently.
func (c *Coordinator) persist(ctx context.Context, unit models.Unit) error {
	attempt := 0
	op := func() error {
		if attempt > 0 {
			metrics.PersistRetries.Inc()
		}
		attempt++
		wctx, cancel := context.WithTimeout(ctx, c.cfg.Pipeline.PersistTimeout)
		defer cancel()
		return c.store.AppendUnit(wctx, unit)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	policy := backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(c.cfg.Pipeline.PersistAttempts-1)), ctx)

	err := backoff.Retry(op, policy)
	if err == nil {
		c.flushOverflow(ctx)
		return nil
	}

	metrics.PersistFailures.Inc()
	now := c.now()
	alert := c.engine.PersistenceFailure(err.Error(), now)
	c.queueAlert(alert)
	c.queueEvent(models.EventPersistenceFailure,
		fmt.Sprintf("unit at %s: %v", unit.Reading.Timestamp.Format(time.RFC3339), err), now)
	c.park(unit)
	c.log.Error().Err(err).Int("attempts", attempt).Msg("persistence exhausted retry budget")
	return fmt.Errorf("pipeline: persist unit: %w", err)
}

// afterPersist publishes the unit's fan-out topics and appends the CSV row.
// Both are best-effort.
func (c *Coordinator) afterPersist(unit models.Unit) {
	metrics.ReadingsProcessed.WithLabelValues(unit.Reading.SourceID).Inc()

	snap := c.updateSnapshot(unit)

	// Dashboards consume the fused latest-channels view, not the raw
	// per-source payload.
	c.pub.Publish(ws.TopicSensorUpdate, snap.Reading)
	c.pub.Publish(ws.TopicHealthUpdate, unit.Health)
	for _, a := range unit.Alerts {
		c.pub.Publish(ws.TopicAlert, a)
	}
	if len(unit.Alerts) > 0 {
		c.pub.Publish(ws.TopicRecommendations, c.engine.Recommendations())
	}
	c.pub.Publish(ws.TopicStatusUpdate, snap)

	if c.exporter != nil {
		if err := c.exporter.Append(unit); err != nil {
			c.log.Warn().Err(err).Msg("csv export append")
		}
	}
}

// onTransition handles liveness state changes from arrivals and sweeps.
func (c *Coordinator) onTransition(tr liveness.Transition) {
	up := 0.0
	if tr.To == models.LivenessConnected {
		up = 1.0
	}
	metrics.SourceUp.WithLabelValues(tr.SourceID).Set(up)

	switch tr.To {
	case models.LivenessLost:
		c.clearSourceChannels(tr.SourceID)
		alert := c.engine.ConnectionLost(tr.SourceID, tr.At)
		metrics.AlertsRaised.WithLabelValues(string(models.CategoryConnectivity)).Inc()
		c.queueAlert(alert)
		c.queueEvent(models.EventConnectionLost,
			fmt.Sprintf("source %s lost after silence past its threshold", tr.SourceID), tr.At)
		c.pub.Publish(ws.TopicConnectionLost, map[string]any{
			"source_id": tr.SourceID,
			"at":        tr.At,
			"alert":     alert,
		})

	case models.LivenessDegraded:
		c.queueEvent(models.EventSourceDegraded,
			fmt.Sprintf("source %s silent past its timeout", tr.SourceID), tr.At)

	case models.LivenessConnected:
		if acked, ok := c.engine.ConnectionRestored(tr.SourceID, tr.At); ok {
			c.queueAlert(acked)
		}
		if tr.From == models.LivenessLost {
			c.queueEvent(models.EventConnectionRestored,
				fmt.Sprintf("source %s reporting again", tr.SourceID), tr.At)
		}
	}

	c.pub.Publish(ws.TopicStatusUpdate, c.CurrentSnapshot())
}

// Acknowledge marks an alert acknowledged in the engine and the store.
// Idempotent: a second acknowledgment of the same alert is a no-op success.
func (c *Coordinator) Acknowledge(ctx context.Context, id string) (models.MaintenanceAlert, error) {
	now := c.now()
	alert, changed, found := c.engine.Acknowledge(id, now)
	if !found {
		return models.MaintenanceAlert{}, storage.ErrNotFound
	}
	if changed {
		if err := c.store.AcknowledgeAlert(ctx, id, now); err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				return alert, fmt.Errorf("pipeline: acknowledge %s: %w", id, err)
			}
			// The alert was raised out of band and has not reached the
			// store yet; queue the acknowledged copy so the terminal state
			// rides the next persisted unit, after the pending unacked one.
			c.queueAlert(alert)
		}
		c.pub.Publish(ws.TopicRecommendations, c.engine.Recommendations())
	}
	return alert, nil
}

// Command records an operator action (e.g. a manual motor start/stop relay
// command) in the audit trail and publishes the refreshed status.
func (c *Coordinator) Command(action, detail string) models.SystemEvent {
	now := c.now()
	ev := models.SystemEvent{
		ID:        c.newID(),
		Timestamp: now,
		Kind:      models.EventManualCommand,
		Detail:    fmt.Sprintf("%s: %s", action, detail),
	}
	c.queue(ev)
	c.log.Info().Str("action", action).Msg("manual command")
	c.pub.Publish(ws.TopicStatusUpdate, c.CurrentSnapshot())
	return ev
}

// CurrentSnapshot returns the latest versioned engine state.
func (c *Coordinator) CurrentSnapshot() Snapshot {
	c.mu.Lock()
	snap := c.snapshot
	c.mu.Unlock()
	snap.Sources = c.monitor.Snapshot()
	return snap
}

// Recommendations exposes the engine's capped advisory list.
func (c *Coordinator) Recommendations() []models.MaintenanceAlert {
	return c.engine.Recommendations()
}

// ActiveAlerts exposes the unacknowledged alerts, most urgent first.
func (c *Coordinator) ActiveAlerts() []models.MaintenanceAlert {
	return c.engine.Active()
}

// AlertHistory exposes every alert ever raised, newest first.
func (c *Coordinator) AlertHistory() []models.MaintenanceAlert {
	return c.engine.History()
}

// --- internal ---------------------------------------------------------------

// fusedChannels enumerates the mergeable numeric channels of a reading.
func fusedChannels(r *models.Reading) [7]struct {
	name string
	val  **float64
} {
	return [7]struct {
		name string
		val  **float64
	}{
		{"current_a", &r.CurrentA},
		{"voltage_v", &r.VoltageV},
		{"rpm", &r.RPM},
		{"motor_temp_c", &r.MotorTempC},
		{"ambient_temp_c", &r.AmbientTempC},
		{"humidity_pct", &r.HumidityPct},
		{"heat_index_c", &r.HeatIndexC},
	}
}

// mergeFusedLocked folds the reading's present channels into the fused view
// and returns a copy of it. Channel values are never mutated in place, so
// the returned copy stays valid after later merges. Caller holds c.mu.
func (c *Coordinator) mergeFusedLocked(r models.Reading) models.Reading {
	dst := fusedChannels(&c.fused)
	for i, ch := range fusedChannels(&r) {
		if *ch.val != nil {
			v := **ch.val
			*dst[i].val = &v
			c.fusedSrc[ch.name] = r.SourceID
		}
	}

	known := [3]models.RelayState{models.RelayUnknown, models.RelayUnknown, models.RelayUnknown}
	if r.Relays != known {
		c.fused.Relays = r.Relays
		c.fusedSrc["relays"] = r.SourceID
	} else if c.fusedSrc["relays"] == "" {
		c.fused.Relays = known
	}

	c.fused.SourceID = r.SourceID
	c.fused.Timestamp = r.Timestamp
	c.fused.Raw = nil
	c.fused.PowerKW = 0
	if c.fused.VoltageV != nil && c.fused.CurrentA != nil {
		c.fused.PowerKW = *c.fused.VoltageV * *c.fused.CurrentA / 1000
	}
	return c.fused
}

// clearSourceChannels drops a lost source's contributions from the fused
// view so scoring stops trusting channels that stopped updating.
func (c *Coordinator) clearSourceChannels(sourceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range fusedChannels(&c.fused) {
		if c.fusedSrc[ch.name] == sourceID {
			*ch.val = nil
			delete(c.fusedSrc, ch.name)
		}
	}
	if c.fusedSrc["relays"] == sourceID {
		c.fused.Relays = [3]models.RelayState{models.RelayUnknown, models.RelayUnknown, models.RelayUnknown}
		delete(c.fusedSrc, "relays")
	}
	c.fused.PowerKW = 0
	if c.fused.VoltageV != nil && c.fused.CurrentA != nil {
		c.fused.PowerKW = *c.fused.VoltageV * *c.fused.CurrentA / 1000
	}
}

func (c *Coordinator) updateSnapshot(unit models.Unit) Snapshot {
	c.mu.Lock()
	c.snapshot.Seq++
	c.snapshot.UpdatedAt = unit.Reading.Timestamp
	r, h, a := c.fused, unit.Health, unit.Anomaly
	c.snapshot.Reading = &r
	c.snapshot.Health = &h
	c.snapshot.Anomaly = &a
	snap := c.snapshot
	c.mu.Unlock()

	snap.Sources = c.monitor.Snapshot()
	return snap
}

func (c *Coordinator) queueEvent(kind, detail string, at time.Time) {
	c.queue(models.SystemEvent{ID: c.newID(), Timestamp: at, Kind: kind, Detail: detail})
}

func (c *Coordinator) queue(ev models.SystemEvent) {
	c.pendingMu.Lock()
	c.pendingEvents = append(c.pendingEvents, ev)
	c.pendingMu.Unlock()
}

func (c *Coordinator) queueAlert(a models.MaintenanceAlert) {
	c.pendingMu.Lock()
	c.pendingAlerts = append(c.pendingAlerts, a)
	c.pendingMu.Unlock()
}

// attachPending moves queued out-of-band events and alerts onto the unit so
// they persist with it.
func (c *Coordinator) attachPending(unit *models.Unit) {
	c.pendingMu.Lock()
	unit.Events = append(unit.Events, c.pendingEvents...)
	unit.Alerts = append(unit.Alerts, c.pendingAlerts...)
	c.pendingEvents = nil
	c.pendingAlerts = nil
	c.pendingMu.Unlock()
}

// park holds an unpersisted unit in the bounded overflow buffer, dropping
// the oldest when full.
func (c *Coordinator) park(unit models.Unit) {
	c.overflowMu.Lock()
	defer c.overflowMu.Unlock()

	if len(c.overflow) >= c.cfg.Pipeline.OverflowSize {
		dropped := c.overflow[0]
		c.overflow = c.overflow[1:]
		metrics.OverflowDropped.Inc()
		c.queueEvent(models.EventUnitDropped,
			fmt.Sprintf("overflow full, dropped unit at %s", dropped.Reading.Timestamp.Format(time.RFC3339)), c.now())
		c.log.Error().Time("unit", dropped.Reading.Timestamp).Msg("overflow buffer full, dropping oldest unit")
	}
	c.overflow = append(c.overflow, unit)
}

// flushOverflow retries parked units once each after a successful write.
func (c *Coordinator) flushOverflow(ctx context.Context) {
	c.overflowMu.Lock()
	parked := c.overflow
	c.overflow = nil
	c.overflowMu.Unlock()

	for i, unit := range parked {
		wctx, cancel := context.WithTimeout(ctx, c.cfg.Pipeline.PersistTimeout)
		err := c.store.AppendUnit(wctx, unit)
		cancel()
		if err != nil {
			// Put the remainder back and stop; the store is still unwell.
			c.overflowMu.Lock()
			c.overflow = append(parked[i:], c.overflow...)
			c.overflowMu.Unlock()
			return
		}
		c.log.Info().Time("unit", unit.Reading.Timestamp).Msg("recovered parked unit")
	}
}

// OverflowLen reports the number of parked units.
func (c *Coordinator) OverflowLen() int {
	c.overflowMu.Lock()
	defer c.overflowMu.Unlock()
	return len(c.overflow)
}

func (c *Coordinator) reportPending() {
	c.overflowMu.Lock()
	parked := len(c.overflow)
	c.overflowMu.Unlock()
	if parked > 0 {
		c.log.Warn().Int("units", parked).Msg("shutting down with unpersisted units in overflow")
	}
}
