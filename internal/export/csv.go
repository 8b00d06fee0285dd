package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/motorwatch/motorwatch/pkg/models"
)

var header = []string{
	"timestamp", "source_id",
	"current_a", "voltage_v", "rpm",
	"motor_temp_c", "ambient_temp_c", "humidity_pct", "heat_index_c",
	"power_kw",
	"relay_1", "relay_2", "relay_3",
	"electrical", "thermal", "mechanical", "predictive", "overall", "status",
	"anomaly_score", "is_anomaly",
}

// Appender writes pipeline units to a CSV file, one row per unit. Safe for
// concurrent use.
type Appender struct {
	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
}

// NewAppender opens (or creates) the CSV file at path and writes the header
// if the file is empty.
func NewAppender(path string) (*Appender, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("export: open %q: %w", path, err)
	}

	a := &Appender{file: f, w: csv.NewWriter(f)}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("export: stat %q: %w", path, err)
	}
	if info.Size() == 0 {
		if err := a.w.Write(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("export: write header: %w", err)
		}
		a.w.Flush()
		if err := a.w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("export: flush header: %w", err)
		}
	}
	return a, nil
}

// Append writes one unit row and flushes it.
func (a *Appender) Append(u models.Unit) error {
	r := u.Reading
	row := []string{
		r.Timestamp.UTC().Format(time.RFC3339),
		r.SourceID,
		optStr(r.CurrentA), optStr(r.VoltageV), optStr(r.RPM),
		optStr(r.MotorTempC), optStr(r.AmbientTempC), optStr(r.HumidityPct), optStr(r.HeatIndexC),
		strconv.FormatFloat(r.PowerKW, 'f', 3, 64),
		string(r.Relays[0]), string(r.Relays[1]), string(r.Relays[2]),
		numStr(u.Health.Electrical), numStr(u.Health.Thermal),
		numStr(u.Health.Mechanical), numStr(u.Health.Predictive),
		numStr(u.Health.Overall), string(u.Health.Band),
		strconv.FormatFloat(u.Anomaly.Score, 'f', 3, 64),
		strconv.FormatBool(u.Anomaly.IsAnomaly),
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.w.Write(row); err != nil {
		return fmt.Errorf("export: write row: %w", err)
	}
	a.w.Flush()
	if err := a.w.Error(); err != nil {
		return fmt.Errorf("export: flush row: %w", err)
	}
	return nil
}

// Path returns the file path backing the appender.
func (a *Appender) Path() string { return a.file.Name() }

// Close flushes and closes the file.
func (a *Appender) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.w.Flush()
	return a.file.Close()
}

func optStr(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func numStr(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
