package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/motorwatch/motorwatch/pkg/models"
)

var t0 = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func unitAt(ts time.Time) models.Unit {
	return models.Unit{
		Reading: models.Reading{SourceID: models.SourceESP, Timestamp: ts},
		Health:  models.HealthScore{Timestamp: ts, Overall: 90},
	}
}

func TestMemory_QueryRecentWindow(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := m.AppendUnit(ctx, unitAt(t0.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("AppendUnit: %v", err)
		}
	}

	now := t0.Add(9 * time.Minute)
	units, err := m.QueryRecent(ctx, now, 3*time.Minute, 100)
	if err != nil {
		t.Fatalf("QueryRecent: %v", err)
	}
	if len(units) != 4 {
		t.Fatalf("units: got %d, want 4 inside the window", len(units))
	}
	if !units[0].Reading.Timestamp.Equal(now) {
		t.Errorf("ordering: first unit at %v, want newest %v", units[0].Reading.Timestamp, now)
	}

	limited, err := m.QueryRecent(ctx, now, 3*time.Minute, 2)
	if err != nil {
		t.Fatalf("QueryRecent limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limit: got %d units, want 2", len(limited))
	}
}

func TestMemory_AlertUpsertByID(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	u := unitAt(t0)
	u.Alerts = []models.MaintenanceAlert{{
		ID: "a1", Category: models.CategoryThermal, Severity: models.SeverityWarning,
		RootCause: "thermal_degraded", Message: "first", CreatedAt: t0, UpdatedAt: t0,
	}}
	if err := m.AppendUnit(ctx, u); err != nil {
		t.Fatal(err)
	}

	u2 := unitAt(t0.Add(time.Minute))
	u2.Alerts = []models.MaintenanceAlert{{
		ID: "a1", Category: models.CategoryThermal, Severity: models.SeverityCritical,
		RootCause: "thermal_degraded", Message: "updated", CreatedAt: t0, UpdatedAt: t0.Add(time.Minute),
	}}
	if err := m.AppendUnit(ctx, u2); err != nil {
		t.Fatal(err)
	}

	alerts, err := m.QueryAlerts(ctx, AlertFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 {
		t.Fatalf("alerts: got %d, want 1 after upsert", len(alerts))
	}
	if alerts[0].Message != "updated" || alerts[0].Severity != models.SeverityCritical {
		t.Errorf("upsert did not replace fields: %+v", alerts[0])
	}
}

func TestMemory_QueryAlertsFilter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	u := unitAt(t0)
	u.Alerts = []models.MaintenanceAlert{
		{ID: "a1", Category: models.CategoryThermal, UpdatedAt: t0},
		{ID: "a2", Category: models.CategoryConnectivity, UpdatedAt: t0},
		{ID: "a3", Category: models.CategoryThermal, Acknowledged: true, UpdatedAt: t0},
	}
	if err := m.AppendUnit(ctx, u); err != nil {
		t.Fatal(err)
	}

	thermal, err := m.QueryAlerts(ctx, AlertFilter{Category: models.CategoryThermal})
	if err != nil {
		t.Fatal(err)
	}
	if len(thermal) != 2 {
		t.Errorf("category filter: got %d, want 2", len(thermal))
	}

	active, err := m.QueryAlerts(ctx, AlertFilter{Category: models.CategoryThermal, OnlyActive: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ID != "a1" {
		t.Errorf("active filter: got %+v, want only a1", active)
	}
}

func TestMemory_AcknowledgeAlert(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	u := unitAt(t0)
	u.Alerts = []models.MaintenanceAlert{{ID: "a1", Category: models.CategoryHealth, UpdatedAt: t0}}
	if err := m.AppendUnit(ctx, u); err != nil {
		t.Fatal(err)
	}

	at := t0.Add(time.Minute)
	if err := m.AcknowledgeAlert(ctx, "a1", at); err != nil {
		t.Fatalf("AcknowledgeAlert: %v", err)
	}
	// Second ack is a no-op, not an error.
	if err := m.AcknowledgeAlert(ctx, "a1", at.Add(time.Minute)); err != nil {
		t.Fatalf("second AcknowledgeAlert: %v", err)
	}

	alerts, _ := m.QueryAlerts(ctx, AlertFilter{})
	if !alerts[0].Acknowledged || !alerts[0].AcknowledgedAt.Equal(at) {
		t.Errorf("ack state: %+v, want acknowledged at %v", alerts[0], at)
	}

	if err := m.AcknowledgeAlert(ctx, "missing", at); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id: got %v, want ErrNotFound", err)
	}
}

func TestMemory_EventsNewestFirst(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		u := unitAt(t0.Add(time.Duration(i) * time.Second))
		u.Events = []models.SystemEvent{{
			ID: fmt.Sprintf("e%d", i), Timestamp: u.Reading.Timestamp, Kind: models.EventBandCrossing,
		}}
		if err := m.AppendUnit(ctx, u); err != nil {
			t.Fatal(err)
		}
	}

	events, err := m.QueryEvents(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 || events[0].ID != "e4" {
		t.Errorf("events: got %+v, want newest 3 starting with e4", events)
	}
}

func TestMemory_CancelledContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.AppendUnit(ctx, unitAt(t0)); err == nil {
		t.Error("AppendUnit: want error on cancelled context")
	}
	if _, err := m.QueryRecent(ctx, t0, time.Minute, 10); err == nil {
		t.Error("QueryRecent: want error on cancelled context")
	}
}
