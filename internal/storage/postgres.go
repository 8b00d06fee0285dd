package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/motorwatch/motorwatch/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS units (
	id          BIGSERIAL PRIMARY KEY,
	ts          TIMESTAMPTZ NOT NULL,
	source_id   TEXT        NOT NULL,
	reading     JSONB       NOT NULL,
	health      JSONB       NOT NULL,
	anomaly     JSONB       NOT NULL
);
CREATE INDEX IF NOT EXISTS units_ts_idx ON units (ts DESC);

CREATE TABLE IF NOT EXISTS alerts (
	id              TEXT PRIMARY KEY,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	category        TEXT        NOT NULL,
	severity        TEXT        NOT NULL,
	root_cause      TEXT        NOT NULL,
	message         TEXT        NOT NULL,
	action          TEXT        NOT NULL DEFAULT '',
	confidence      DOUBLE PRECISION NOT NULL,
	acknowledged    BOOLEAN     NOT NULL DEFAULT FALSE,
	acknowledged_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS alerts_active_idx ON alerts (acknowledged, updated_at DESC);

CREATE TABLE IF NOT EXISTS events (
	id     TEXT PRIMARY KEY,
	ts     TIMESTAMPTZ NOT NULL,
	kind   TEXT NOT NULL,
	detail TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS events_ts_idx ON events (ts DESC);
`

// Postgres is the production Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewPostgres connects to the database and ensures the schema exists.
func NewPostgres(ctx context.Context, url string, log zerolog.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("storage: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ensure schema: %w", err)
	}
	return &Postgres{
		pool: pool,
		log:  log.With().Str("component", "storage").Logger(),
	}, nil
}

// AppendUnit implements Store. The whole unit lands in one transaction.
func (p *Postgres) AppendUnit(ctx context.Context, u models.Unit) error {
	reading, err := json.Marshal(u.Reading)
	if err != nil {
		return fmt.Errorf("storage: marshal reading: %w", err)
	}
	health, err := json.Marshal(u.Health)
	if err != nil {
		return fmt.Errorf("storage: marshal health: %w", err)
	}
	anomaly, err := json.Marshal(u.Anomaly)
	if err != nil {
		return fmt.Errorf("storage: marshal anomaly: %w", err)
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO units (ts, source_id, reading, health, anomaly) VALUES ($1, $2, $3, $4, $5)`,
		u.Reading.Timestamp, u.Reading.SourceID, reading, health, anomaly)
	if err != nil {
		return fmt.Errorf("storage: insert unit: %w", err)
	}

	for _, a := range u.Alerts {
		_, err = tx.Exec(ctx, `
			INSERT INTO alerts (id, created_at, updated_at, category, severity, root_cause,
				message, action, confidence, acknowledged, acknowledged_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				updated_at = EXCLUDED.updated_at,
				severity = EXCLUDED.severity,
				message = EXCLUDED.message,
				action = EXCLUDED.action,
				confidence = EXCLUDED.confidence,
				acknowledged = EXCLUDED.acknowledged,
				acknowledged_at = EXCLUDED.acknowledged_at`,
			a.ID, a.CreatedAt, a.UpdatedAt, a.Category, a.Severity, a.RootCause,
			a.Message, a.Action, a.Confidence, a.Acknowledged, a.AcknowledgedAt)
		if err != nil {
			return fmt.Errorf("storage: upsert alert %s: %w", a.ID, err)
		}
	}

	for _, e := range u.Events {
		_, err = tx.Exec(ctx,
			`INSERT INTO events (id, ts, kind, detail) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO NOTHING`,
			e.ID, e.Timestamp, e.Kind, e.Detail)
		if err != nil {
			return fmt.Errorf("storage: insert event %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	return nil
}

// AcknowledgeAlert implements Store.
func (p *Postgres) AcknowledgeAlert(ctx context.Context, id string, at time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE alerts SET acknowledged = TRUE, acknowledged_at = $2, updated_at = $2
		WHERE id = $1 AND NOT acknowledged`,
		id, at)
	if err != nil {
		return fmt.Errorf("storage: acknowledge %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Either unknown or already acknowledged; distinguish for callers.
		var exists bool
		if err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM alerts WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("storage: acknowledge %s: %w", id, err)
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

// QueryRecent implements Store.
func (p *Postgres) QueryRecent(ctx context.Context, now time.Time, window time.Duration, limit int) ([]models.Unit, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT reading, health, anomaly FROM units
		WHERE ts >= $1 AND ts <= $2
		ORDER BY ts DESC LIMIT $3`,
		now.Add(-window), now, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query recent: %w", err)
	}
	defer rows.Close()

	var out []models.Unit
	for rows.Next() {
		var reading, health, anomaly []byte
		if err := rows.Scan(&reading, &health, &anomaly); err != nil {
			return nil, fmt.Errorf("storage: scan unit: %w", err)
		}
		var u models.Unit
		if err := json.Unmarshal(reading, &u.Reading); err != nil {
			return nil, fmt.Errorf("storage: decode reading: %w", err)
		}
		if err := json.Unmarshal(health, &u.Health); err != nil {
			return nil, fmt.Errorf("storage: decode health: %w", err)
		}
		if err := json.Unmarshal(anomaly, &u.Anomaly); err != nil {
			return nil, fmt.Errorf("storage: decode anomaly: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// QueryAlerts implements Store.
func (p *Postgres) QueryAlerts(ctx context.Context, f AlertFilter) ([]models.MaintenanceAlert, error) {
	q := `SELECT id, created_at, updated_at, category, severity, root_cause,
		message, action, confidence, acknowledged, acknowledged_at FROM alerts WHERE TRUE`
	args := []any{}
	if f.Category != "" {
		args = append(args, string(f.Category))
		q += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if f.OnlyActive {
		q += " AND NOT acknowledged"
	}
	q += " ORDER BY updated_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query alerts: %w", err)
	}
	defer rows.Close()

	var out []models.MaintenanceAlert
	for rows.Next() {
		var a models.MaintenanceAlert
		if err := rows.Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt, &a.Category, &a.Severity,
			&a.RootCause, &a.Message, &a.Action, &a.Confidence, &a.Acknowledged, &a.AcknowledgedAt); err != nil {
			return nil, fmt.Errorf("storage: scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// QueryEvents implements Store.
func (p *Postgres) QueryEvents(ctx context.Context, limit int) ([]models.SystemEvent, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, ts, kind, detail FROM events ORDER BY ts DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query events: %w", err)
	}
	defer rows.Close()

	var out []models.SystemEvent
	for rows.Next() {
		var e models.SystemEvent
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Kind, &e.Detail); err != nil {
			return nil, fmt.Errorf("storage: scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close implements Store.
func (p *Postgres) Close() { p.pool.Close() }
