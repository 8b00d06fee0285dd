package liveness

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/motorwatch/motorwatch/pkg/models"
)

var t0 = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestMonitor(sink *[]Transition) *Monitor {
	return New(zerolog.Nop(), func(tr Transition) {
		if sink != nil {
			*sink = append(*sink, tr)
		}
	})
}

func TestSweep_JustUnderThresholdStaysConnected(t *testing.T) {
	var fired []Transition
	m := newTestMonitor(&fired)
	m.Register(models.SourceESP, 30*time.Second, t0)

	m.Sweep(t0.Add(30 * time.Second)) // exactly at the bound is still fine

	s, _ := m.State(models.SourceESP)
	if s.State != models.LivenessConnected {
		t.Errorf("state: got %v, want CONNECTED", s.State)
	}
	if len(fired) != 0 {
		t.Errorf("transitions: got %d, want 0", len(fired))
	}
}

func TestSweep_TwoTierDegradation(t *testing.T) {
	var fired []Transition
	m := newTestMonitor(&fired)
	m.Register(models.SourceESP, 30*time.Second, t0)

	m.Sweep(t0.Add(31 * time.Second))
	if s, _ := m.State(models.SourceESP); s.State != models.LivenessDegraded {
		t.Fatalf("after 31s: got %v, want DEGRADED", s.State)
	}

	m.Sweep(t0.Add(61 * time.Second))
	if s, _ := m.State(models.SourceESP); s.State != models.LivenessLost {
		t.Fatalf("after 61s: got %v, want LOST", s.State)
	}

	if len(fired) != 2 {
		t.Fatalf("transitions: got %d, want 2", len(fired))
	}
	if fired[0].To != models.LivenessDegraded || fired[1].To != models.LivenessLost {
		t.Errorf("transition order: %v -> %v", fired[0].To, fired[1].To)
	}
}

func TestSweep_LostFiresExactlyOnce(t *testing.T) {
	var fired []Transition
	m := newTestMonitor(&fired)
	m.Register(models.SourcePLC, time.Minute, t0)

	for i := 0; i < 5; i++ {
		m.Sweep(t0.Add(3*time.Minute + time.Duration(i)*10*time.Second))
	}

	lost := 0
	for _, tr := range fired {
		if tr.To == models.LivenessLost {
			lost++
		}
	}
	if lost != 1 {
		t.Errorf("LOST transitions: got %d, want exactly 1", lost)
	}
}

func TestRecordArrival_Recovers(t *testing.T) {
	var fired []Transition
	m := newTestMonitor(&fired)
	m.Register(models.SourceESP, 30*time.Second, t0)

	m.Sweep(t0.Add(2 * time.Minute)) // straight to LOST
	fired = fired[:0]

	at := t0.Add(3 * time.Minute)
	m.RecordArrival(models.SourceESP, at)

	s, _ := m.State(models.SourceESP)
	if s.State != models.LivenessConnected {
		t.Errorf("state: got %v, want CONNECTED", s.State)
	}
	if !s.LastSeenAt.Equal(at) {
		t.Errorf("LastSeenAt: got %v, want %v", s.LastSeenAt, at)
	}
	if len(fired) != 1 || fired[0].From != models.LivenessLost || fired[0].To != models.LivenessConnected {
		t.Errorf("transitions: got %+v, want single LOST->CONNECTED", fired)
	}
}

func TestRecordArrival_ConnectedIsIdempotent(t *testing.T) {
	var fired []Transition
	m := newTestMonitor(&fired)
	m.Register(models.SourceESP, 30*time.Second, t0)

	m.RecordArrival(models.SourceESP, t0.Add(time.Second))
	m.RecordArrival(models.SourceESP, t0.Add(2*time.Second))

	if len(fired) != 0 {
		t.Errorf("transitions: got %d, want 0 while already CONNECTED", len(fired))
	}
}

func TestRecordArrival_KeepsSourceAliveAcrossSweeps(t *testing.T) {
	var fired []Transition
	m := newTestMonitor(&fired)
	m.Register(models.SourceESP, 30*time.Second, t0)
	m.Register(models.SourcePLC, time.Minute, t0)

	// ESP keeps reporting; PLC goes silent.
	now := t0
	for i := 0; i < 20; i++ {
		now = now.Add(10 * time.Second)
		m.RecordArrival(models.SourceESP, now)
		m.Sweep(now)
	}

	esp, _ := m.State(models.SourceESP)
	plc, _ := m.State(models.SourcePLC)
	if esp.State != models.LivenessConnected {
		t.Errorf("esp: got %v, want CONNECTED", esp.State)
	}
	if plc.State != models.LivenessLost {
		t.Errorf("plc: got %v, want LOST", plc.State)
	}
}

func TestRecordArrival_UnregisteredIsIgnored(t *testing.T) {
	var fired []Transition
	m := newTestMonitor(&fired)

	m.RecordArrival("modbus", t0)

	if len(fired) != 0 {
		t.Errorf("transitions: got %d, want 0", len(fired))
	}
	if _, ok := m.State("modbus"); ok {
		t.Error("unregistered source should not appear")
	}
}

func TestRegister_UpdatesTimeoutOnly(t *testing.T) {
	m := newTestMonitor(nil)
	m.Register(models.SourceESP, 30*time.Second, t0)
	m.Sweep(t0.Add(45 * time.Second))

	m.Register(models.SourceESP, 2*time.Minute, t0.Add(time.Minute))

	s, _ := m.State(models.SourceESP)
	if s.State != models.LivenessDegraded {
		t.Errorf("state: got %v, want DEGRADED preserved", s.State)
	}
	if s.Timeout != 2*time.Minute {
		t.Errorf("timeout: got %v, want updated", s.Timeout)
	}
}

func TestSnapshot_Ordered(t *testing.T) {
	m := newTestMonitor(nil)
	m.Register(models.SourcePLC, time.Minute, t0)
	m.Register(models.SourceESP, 30*time.Second, t0)

	snap := m.Snapshot()
	if len(snap) != 2 || snap[0].SourceID != models.SourceESP || snap[1].SourceID != models.SourcePLC {
		t.Errorf("snapshot: got %+v, want esp then plc", snap)
	}
}
