package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/agrisense/crop-fusion-service/internal/domain"
)

// Memory is an in-process Store for tests and database-less deployments.
// All methods are safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	readings []domain.Reading
	alerts   []domain.Alert
	clock    clockwork.Clock
}

// NewMemory creates an empty in-memory store.
func NewMemory(clk clockwork.Clock) *Memory {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Memory{clock: clk}
}

func (m *Memory) CreateReading(_ context.Context, r domain.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings = append(m.readings, r)
	return nil
}

func (m *Memory) CreateAlert(_ context.Context, a domain.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
	return nil
}

func (m *Memory) RecentReadings(_ context.Context, userID int64, zone, sensorType string, limit int) ([]domain.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Reading
	for _, r := range m.readings {
		if r.UserID == userID && r.Zone == zone && r.SensorType == sensorType {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UnacknowledgedAlerts(_ context.Context, userID int64, since time.Time) ([]domain.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Alert
	for _, a := range m.alerts {
		if a.UserID == userID && !a.Acknowledged && !a.Timestamp.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) AcknowledgeAlert(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.alerts {
		if m.alerts[i].ID == id {
			m.alerts[i].Acknowledged = true
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) ActiveUsers(_ context.Context) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := m.clock.Now().UTC().Add(-24 * time.Hour)
	seen := map[int64]bool{}
	var out []int64
	for _, r := range m.readings {
		if !r.Timestamp.Before(cutoff) && !seen[r.UserID] {
			seen[r.UserID] = true
			out = append(out, r.UserID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *Memory) Cleanup(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	kept := m.readings[:0]
	for _, r := range m.readings {
		if r.Timestamp.Before(before) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	m.readings = kept

	keptAlerts := m.alerts[:0]
	for _, a := range m.alerts {
		if a.Acknowledged && a.Timestamp.Before(before) {
			removed++
			continue
		}
		keptAlerts = append(keptAlerts, a)
	}
	m.alerts = keptAlerts

	return removed, nil
}

func (m *Memory) Close() error { return nil }
