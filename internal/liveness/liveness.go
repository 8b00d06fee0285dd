package liveness

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/motorwatch/motorwatch/pkg/models"
)

// lostMultiplier is applied to a source's timeout for the LOST tier;
// DEGRADED starts at 1x the timeout.
const lostMultiplier = 2

// Transition reports one state change of one source.
type Transition struct {
	SourceID string
	From     models.LivenessState
	To       models.LivenessState
	At       time.Time
}

// Monitor owns the SourceLiveness records. All mutation goes through
// RecordArrival and Sweep; both serialize on an internal mutex.
type Monitor struct {
	mu      sync.Mutex
	sources map[string]*models.SourceLiveness
	log     zerolog.Logger

	// onTransition is invoked, outside the lock, for every state change.
	onTransition func(Transition)
}

// New returns an empty Monitor. onTransition may be nil.
func New(log zerolog.Logger, onTransition func(Transition)) *Monitor {
	return &Monitor{
		sources:      make(map[string]*models.SourceLiveness),
		log:          log.With().Str("component", "liveness").Logger(),
		onTransition: onTransition,
	}
}

// Register adds a source with its silence timeout. Registration counts as a
// sighting: the source starts CONNECTED and degrades if nothing arrives.
// Re-registering an existing source only updates its timeout.
func (m *Monitor) Register(sourceID string, timeout time.Duration, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sources[sourceID]; ok {
		s.Timeout = timeout
		return
	}
	m.sources[sourceID] = &models.SourceLiveness{
		SourceID:   sourceID,
		State:      models.LivenessConnected,
		LastSeenAt: now,
		Timeout:    timeout,
	}
	m.log.Info().Str("source", sourceID).Dur("timeout", timeout).Msg("source registered")
}

// RecordArrival marks the source seen at the given time and transitions it
// back to CONNECTED if it had degraded. Arrivals for unregistered sources
// are ignored.
func (m *Monitor) RecordArrival(sourceID string, at time.Time) {
	m.mu.Lock()
	s, ok := m.sources[sourceID]
	if !ok {
		m.mu.Unlock()
		m.log.Debug().Str("source", sourceID).Msg("arrival for unregistered source")
		return
	}
	s.LastSeenAt = at
	var tr *Transition
	if s.State != models.LivenessConnected {
		tr = &Transition{SourceID: sourceID, From: s.State, To: models.LivenessConnected, At: at}
		s.State = models.LivenessConnected
	}
	m.mu.Unlock()

	m.fire(tr)
}

// Sweep applies the two-tier silence thresholds at the given instant.
// Sweeping never restores a source to CONNECTED; only an arrival does.
func (m *Monitor) Sweep(now time.Time) {
	m.mu.Lock()
	var fired []Transition
	for _, s := range m.sources {
		elapsed := now.Sub(s.LastSeenAt)
		var want models.LivenessState
		switch {
		case elapsed > time.Duration(lostMultiplier)*s.Timeout:
			want = models.LivenessLost
		case elapsed > s.Timeout:
			want = models.LivenessDegraded
		default:
			continue
		}
		if s.State == want || s.State == models.LivenessLost {
			// Already there, or already past DEGRADED; a LOST source
			// never steps back up without an arrival.
			continue
		}
		fired = append(fired, Transition{SourceID: s.SourceID, From: s.State, To: want, At: now})
		s.State = want
	}
	m.mu.Unlock()

	for i := range fired {
		m.fire(&fired[i])
	}
}

// State returns the current record for one source.
func (m *Monitor) State(sourceID string) (models.SourceLiveness, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[sourceID]
	if !ok {
		return models.SourceLiveness{}, false
	}
	return *s, true
}

// Snapshot returns all source records ordered by source id.
func (m *Monitor) Snapshot() []models.SourceLiveness {
	m.mu.Lock()
	out := make([]models.SourceLiveness, 0, len(m.sources))
	for _, s := range m.sources {
		out = append(out, *s)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

func (m *Monitor) fire(tr *Transition) {
	if tr == nil {
		return
	}
	m.log.Info().
		Str("source", tr.SourceID).
		Str("from", string(tr.From)).
		Str("to", string(tr.To)).
		Msg("liveness transition")
	if m.onTransition != nil {
		m.onTransition(*tr)
	}
}
