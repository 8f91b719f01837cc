// Package storage persists readings and alerts. The Postgres store backs
// production; the memory store backs tests and database-less runs.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/agrisense/crop-fusion-service/internal/domain"
)

// ErrNotFound is returned when an alert ID does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence boundary for the fusion and alerting pipeline.
type Store interface {
	CreateReading(ctx context.Context, r domain.Reading) error
	CreateAlert(ctx context.Context, a domain.Alert) error

	// RecentReadings returns up to limit readings for one user, zone, and
	// sensor type, newest first.
	RecentReadings(ctx context.Context, userID int64, zone, sensorType string, limit int) ([]domain.Reading, error)

	// UnacknowledgedAlerts returns unacknowledged alerts for the user
	// created at or after since.
	UnacknowledgedAlerts(ctx context.Context, userID int64, since time.Time) ([]domain.Alert, error)

	// AcknowledgeAlert marks one alert acknowledged; ErrNotFound if absent.
	AcknowledgeAlert(ctx context.Context, id string) error

	// ActiveUsers lists users with readings in the trailing day.
	ActiveUsers(ctx context.Context) ([]int64, error)

	// Cleanup deletes readings and acknowledged alerts older than before,
	// returning the number of rows removed.
	Cleanup(ctx context.Context, before time.Time) (int64, error)

	Close() error
}
