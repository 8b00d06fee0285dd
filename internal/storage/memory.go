package storage

import (
	"context"
	"sync"
	"time"

	"github.com/motorwatch/motorwatch/pkg/models"
)

// defaultMemoryCap bounds the in-memory unit history.
const defaultMemoryCap = 10000

// Memory is the in-process Store used in development and tests. Safe for
// concurrent use.
type Memory struct {
	mu     sync.RWMutex
	units  []models.Unit
	alerts map[string]*models.MaintenanceAlert
	order  []string // alert ids in creation order
	events []models.SystemEvent
	cap    int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		alerts: make(map[string]*models.MaintenanceAlert),
		cap:    defaultMemoryCap,
	}
}

// AppendUnit implements Store.
func (m *Memory) AppendUnit(ctx context.Context, u models.Unit) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.units = append(m.units, u)
	if len(m.units) > m.cap {
		m.units = m.units[len(m.units)-m.cap:]
	}
	for _, a := range u.Alerts {
		alert := a
		if _, ok := m.alerts[a.ID]; !ok {
			m.order = append(m.order, a.ID)
		}
		m.alerts[a.ID] = &alert
	}
	m.events = append(m.events, u.Events...)
	return nil
}

// AcknowledgeAlert implements Store.
func (m *Memory) AcknowledgeAlert(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return ErrNotFound
	}
	if !a.Acknowledged {
		a.Acknowledged = true
		t := at
		a.AcknowledgedAt = &t
		a.UpdatedAt = at
	}
	return nil
}

// QueryRecent implements Store.
func (m *Memory) QueryRecent(ctx context.Context, now time.Time, window time.Duration, limit int) ([]models.Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := now.Add(-window)
	out := make([]models.Unit, 0, limit)
	for i := len(m.units) - 1; i >= 0 && len(out) < limit; i-- {
		if m.units[i].Reading.Timestamp.Before(cutoff) {
			break
		}
		out = append(out, m.units[i])
	}
	return out, nil
}

// QueryAlerts implements Store.
func (m *Memory) QueryAlerts(ctx context.Context, f AlertFilter) ([]models.MaintenanceAlert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.MaintenanceAlert
	for i := len(m.order) - 1; i >= 0; i-- {
		a := m.alerts[m.order[i]]
		if f.Category != "" && a.Category != f.Category {
			continue
		}
		if f.OnlyActive && a.Acknowledged {
			continue
		}
		out = append(out, *a)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// QueryEvents implements Store.
func (m *Memory) QueryEvents(ctx context.Context, limit int) ([]models.SystemEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.events)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]models.SystemEvent, 0, n)
	for i := len(m.events) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.events[i])
	}
	return out, nil
}

// Close implements Store.
func (m *Memory) Close() {}
