package storage

import (
	"context"
	"errors"
	"time"

	"github.com/motorwatch/motorwatch/pkg/models"
)

// ErrNotFound is returned for lookups of unknown records.
var ErrNotFound = errors.New("storage: not found")

// AlertFilter narrows QueryAlerts. Zero values mean "no constraint".
type AlertFilter struct {
	Category   models.Category
	OnlyActive bool
	Limit      int
}

// Store is the append-only persistence surface the coordinator writes to.
// All writes carry the caller's context deadline; implementations must not
// block past it.
type Store interface {
	// AppendUnit persists one pipeline unit atomically. Alerts carried by
	// the unit are upserted by id, so re-fired alerts update in place.
	AppendUnit(ctx context.Context, u models.Unit) error

	// AcknowledgeAlert records the acknowledgment of an alert.
	AcknowledgeAlert(ctx context.Context, id string, at time.Time) error

	// QueryRecent returns units whose reading timestamp falls inside the
	// window ending at now, newest first, capped at limit.
	QueryRecent(ctx context.Context, now time.Time, window time.Duration, limit int) ([]models.Unit, error)

	// QueryAlerts returns alerts matching the filter, newest first.
	QueryAlerts(ctx context.Context, f AlertFilter) ([]models.MaintenanceAlert, error)

	// QueryEvents returns the newest events, capped at limit.
	QueryEvents(ctx context.Context, limit int) ([]models.SystemEvent, error)

	// Close releases the store's resources.
	Close()
}
