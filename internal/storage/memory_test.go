package storage

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrisense/crop-fusion-service/internal/domain"
)

var baseTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (*Memory, *clockwork.FakeClock) {
	t.Helper()
	clk := clockwork.NewFakeClockAt(baseTime)
	domain.SetClock(clk)
	t.Cleanup(func() { domain.SetClock(nil) })
	return NewMemory(clk), clk
}

func mustReading(t *testing.T, userID int64, zone, sensor string, value float64) domain.Reading {
	t.Helper()
	r, err := domain.NewReading(userID, zone, sensor, value, "", domain.SourceSimulated, "")
	require.NoError(t, err)
	return r
}

func TestRecentReadingsFiltersAndOrders(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	for i, v := range []float64{50, 55, 60} {
		r := mustReading(t, 1, "zone1", domain.SensorSoilMoisture, v)
		r.Timestamp = baseTime.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.CreateReading(ctx, r))
	}
	// Different user, zone, and sensor must not leak in.
	require.NoError(t, store.CreateReading(ctx, mustReading(t, 2, "zone1", domain.SensorSoilMoisture, 70)))
	require.NoError(t, store.CreateReading(ctx, mustReading(t, 1, "zone2", domain.SensorSoilMoisture, 70)))
	require.NoError(t, store.CreateReading(ctx, mustReading(t, 1, "zone1", domain.SensorTemperature, 22)))

	got, err := store.RecentReadings(ctx, 1, "zone1", domain.SensorSoilMoisture, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 60.0, got[0].Value)
	assert.Equal(t, 55.0, got[1].Value)
}

func TestUnacknowledgedAlertsWindow(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	old := domain.NewAlert(1, "soil_moisture in zone1 is critically low: 20.0", domain.SeverityCritical, 20, 25, "", "zone1", domain.SensorSoilMoisture, "")
	old.Timestamp = baseTime.Add(-2 * time.Hour)
	require.NoError(t, store.CreateAlert(ctx, old))

	fresh := domain.NewAlert(1, "temperature in zone1 is critically high: 36.0", domain.SeverityCritical, 36, 35, "", "zone1", domain.SensorTemperature, "")
	require.NoError(t, store.CreateAlert(ctx, fresh))

	acked := domain.NewAlert(1, "acked reason", domain.SeverityWarning, 1, 2, "", "zone1", domain.SensorLightLevel, "")
	require.NoError(t, store.CreateAlert(ctx, acked))
	require.NoError(t, store.AcknowledgeAlert(ctx, acked.ID))

	got, err := store.UnacknowledgedAlerts(ctx, 1, baseTime.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, fresh.ID, got[0].ID)
}

func TestAcknowledgeAlertNotFound(t *testing.T) {
	store, _ := newStore(t)
	err := store.AcknowledgeAlert(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActiveUsers(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	stale := mustReading(t, 7, "zone1", domain.SensorTemperature, 20)
	stale.Timestamp = baseTime.Add(-25 * time.Hour)
	require.NoError(t, store.CreateReading(ctx, stale))

	require.NoError(t, store.CreateReading(ctx, mustReading(t, 3, "zone1", domain.SensorTemperature, 21)))
	require.NoError(t, store.CreateReading(ctx, mustReading(t, 1, "zone1", domain.SensorTemperature, 22)))
	require.NoError(t, store.CreateReading(ctx, mustReading(t, 1, "zone2", domain.SensorTemperature, 23)))

	users, err := store.ActiveUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, users)
}

func TestCleanupRemovesOldRows(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	old := mustReading(t, 1, "zone1", domain.SensorTemperature, 20)
	old.Timestamp = baseTime.Add(-91 * 24 * time.Hour)
	require.NoError(t, store.CreateReading(ctx, old))
	require.NoError(t, store.CreateReading(ctx, mustReading(t, 1, "zone1", domain.SensorTemperature, 21)))

	oldAcked := domain.NewAlert(1, "old acked", domain.SeverityWarning, 1, 2, "", "zone1", domain.SensorTemperature, "")
	oldAcked.Timestamp = baseTime.Add(-91 * 24 * time.Hour)
	oldAcked.Acknowledged = true
	require.NoError(t, store.CreateAlert(ctx, oldAcked))

	// Unacknowledged alerts survive cleanup regardless of age.
	oldOpen := domain.NewAlert(1, "old open", domain.SeverityWarning, 1, 2, "", "zone1", domain.SensorTemperature, "")
	oldOpen.Timestamp = baseTime.Add(-91 * 24 * time.Hour)
	require.NoError(t, store.CreateAlert(ctx, oldOpen))

	removed, err := store.Cleanup(ctx, baseTime.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	readings, err := store.RecentReadings(ctx, 1, "zone1", domain.SensorTemperature, 10)
	require.NoError(t, err)
	assert.Len(t, readings, 1)

	alerts, err := store.UnacknowledgedAlerts(ctx, 1, baseTime.Add(-200*24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}
