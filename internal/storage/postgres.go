package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/agrisense/crop-fusion-service/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS sensor_readings (
	id          UUID PRIMARY KEY,
	user_id     BIGINT NOT NULL,
	zone        TEXT NOT NULL,
	sensor_type TEXT NOT NULL,
	value       DOUBLE PRECISION NOT NULL,
	unit        TEXT NOT NULL DEFAULT '',
	source      TEXT NOT NULL,
	device_id   TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_readings_lookup
	ON sensor_readings (user_id, zone, sensor_type, created_at DESC);

CREATE TABLE IF NOT EXISTS alerts (
	id             UUID PRIMARY KEY,
	user_id        BIGINT NOT NULL,
	reason         TEXT NOT NULL,
	severity       TEXT NOT NULL,
	value          DOUBLE PRECISION NOT NULL,
	threshold      DOUBLE PRECISION NOT NULL,
	recommendation TEXT NOT NULL DEFAULT '',
	zone           TEXT NOT NULL,
	sensor_type    TEXT NOT NULL,
	device_id      TEXT NOT NULL DEFAULT '',
	acknowledged   BOOLEAN NOT NULL DEFAULT FALSE,
	created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_unacked
	ON alerts (user_id, created_at DESC) WHERE NOT acknowledged;
`

// Postgres implements Store on a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens the database, verifies connectivity, and creates the
// schema if absent.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) CreateReading(ctx context.Context, r domain.Reading) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sensor_readings (id, user_id, zone, sensor_type, value, unit, source, device_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.UserID, r.Zone, r.SensorType, r.Value, r.Unit, string(r.Source), r.DeviceID, r.Timestamp)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

func (p *Postgres) CreateAlert(ctx context.Context, a domain.Alert) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO alerts (id, user_id, reason, severity, value, threshold, recommendation, zone, sensor_type, device_id, acknowledged, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.UserID, a.Reason, string(a.Severity), a.Value, a.Threshold,
		a.Recommendation, a.Zone, a.SensorType, a.DeviceID, a.Acknowledged, a.Timestamp)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (p *Postgres) RecentReadings(ctx context.Context, userID int64, zone, sensorType string, limit int) ([]domain.Reading, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, zone, sensor_type, value, unit, source, device_id, created_at
		FROM sensor_readings
		WHERE user_id = $1 AND zone = $2 AND sensor_type = $3
		ORDER BY created_at DESC
		LIMIT $4`,
		userID, zone, sensorType, limit)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	var out []domain.Reading
	for rows.Next() {
		var r domain.Reading
		var source string
		if err := rows.Scan(&r.ID, &r.UserID, &r.Zone, &r.SensorType, &r.Value, &r.Unit, &source, &r.DeviceID, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		r.Source = domain.Source(source)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) UnacknowledgedAlerts(ctx context.Context, userID int64, since time.Time) ([]domain.Alert, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, reason, severity, value, threshold, recommendation, zone, sensor_type, device_id, acknowledged, created_at
		FROM alerts
		WHERE user_id = $1 AND NOT acknowledged AND created_at >= $2
		ORDER BY created_at DESC`,
		userID, since)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var severity string
		if err := rows.Scan(&a.ID, &a.UserID, &a.Reason, &severity, &a.Value, &a.Threshold,
			&a.Recommendation, &a.Zone, &a.SensorType, &a.DeviceID, &a.Acknowledged, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Severity = domain.Severity(severity)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) AcknowledgeAlert(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE alerts SET acknowledged = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ActiveUsers(ctx context.Context) ([]int64, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM sensor_readings
		WHERE created_at >= NOW() - INTERVAL '24 hours'
		ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("query active users: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (p *Postgres) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	var total int64

	res, err := p.db.ExecContext(ctx, `DELETE FROM sensor_readings WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("cleanup readings: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	res, err = p.db.ExecContext(ctx, `DELETE FROM alerts WHERE acknowledged AND created_at < $1`, before)
	if err != nil {
		return total, fmt.Errorf("cleanup alerts: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}
	return total, nil
}

func (p *Postgres) Close() error {
	if p.db == nil {
		return nil
	}
	if err := p.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
