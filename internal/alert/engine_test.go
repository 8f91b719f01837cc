package alert

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrisense/crop-fusion-service/internal/domain"
	"github.com/agrisense/crop-fusion-service/internal/observability"
	"github.com/agrisense/crop-fusion-service/internal/storage"
)

var baseTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T) (*Engine, *storage.Memory) {
	t.Helper()
	clk := clockwork.NewFakeClockAt(baseTime)
	domain.SetClock(clk)
	t.Cleanup(func() { domain.SetClock(nil) })

	store := storage.NewMemory(clk)
	eng := NewEngine(store, Options{
		Rules:         domain.DefaultRuleSet(),
		DedupWindow:   time.Hour,
		AnomalyWindow: 10,
		ZThreshold:    2.5,
		Clock:         clk,
	}, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	return eng, store
}

func reading(t *testing.T, sensor string, value float64) domain.Reading {
	t.Helper()
	r, err := domain.NewReading(1, "zone1", sensor, value, "", domain.SourceSimulated, "")
	require.NoError(t, err)
	return r
}

func TestEvaluateCriticalWinsOverWarning(t *testing.T) {
	eng, _ := newEngine(t)

	// 20 violates both the critical min (25) and the warning min (40); the
	// critical tier runs first and dedup absorbs the warning duplicate.
	alerts, err := eng.Evaluate(context.Background(), 1, []domain.Reading{
		reading(t, domain.SensorSoilMoisture, 20),
	})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, "soil_moisture in zone1 is critically low: 20.0", alerts[0].Reason)
	assert.Equal(t, 25.0, alerts[0].Threshold)
	assert.Equal(t, "Increase soil_moisture levels immediately", alerts[0].Recommendation)
}

func TestEvaluateWarningOnlyBreach(t *testing.T) {
	eng, _ := newEngine(t)

	alerts, err := eng.Evaluate(context.Background(), 1, []domain.Reading{
		reading(t, domain.SensorSoilMoisture, 30),
	})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.SeverityWarning, alerts[0].Severity)
	assert.Equal(t, 40.0, alerts[0].Threshold)
}

func TestEvaluateMinWinsOverMax(t *testing.T) {
	eng, _ := newEngine(t)

	// Light below the warning min also sits below the max; only the low
	// alert fires.
	alerts, err := eng.Evaluate(context.Background(), 1, []domain.Reading{
		reading(t, domain.SensorLightLevel, 500),
	})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Reason, "critically low")
	assert.Equal(t, 1000.0, alerts[0].Threshold)
}

func TestEvaluateHighBreach(t *testing.T) {
	eng, _ := newEngine(t)

	alerts, err := eng.Evaluate(context.Background(), 1, []domain.Reading{
		reading(t, domain.SensorTemperature, 38.2),
	})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "temperature in zone1 is critically high: 38.2", alerts[0].Reason)
	assert.Equal(t, domain.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, "Reduce temperature levels immediately", alerts[0].Recommendation)
}

func TestEvaluateInRangeProducesNothing(t *testing.T) {
	eng, _ := newEngine(t)

	alerts, err := eng.Evaluate(context.Background(), 1, []domain.Reading{
		reading(t, domain.SensorSoilMoisture, 60),
		reading(t, domain.SensorTemperature, 24),
		reading(t, domain.SensorLightLevel, 45000),
	})
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestEvaluateDedupAgainstStoredAlerts(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	first, err := eng.Evaluate(ctx, 1, []domain.Reading{reading(t, domain.SensorTemperature, 38.2)})
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Same value in the next cycle yields the same reason string.
	second, err := eng.Evaluate(ctx, 1, []domain.Reading{reading(t, domain.SensorTemperature, 38.2)})
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestEvaluateDedupExpiresWithWindow(t *testing.T) {
	eng, store := newEngine(t)
	ctx := context.Background()

	stale := domain.NewAlert(1, "temperature in zone1 is critically high: 38.2",
		domain.SeverityCritical, 38.2, 35, "", "zone1", domain.SensorTemperature, "")
	stale.Timestamp = baseTime.Add(-2 * time.Hour)
	require.NoError(t, store.CreateAlert(ctx, stale))

	alerts, err := eng.Evaluate(ctx, 1, []domain.Reading{reading(t, domain.SensorTemperature, 38.2)})
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestEvaluateAcknowledgedAlertDoesNotDedup(t *testing.T) {
	eng, store := newEngine(t)
	ctx := context.Background()

	first, err := eng.Evaluate(ctx, 1, []domain.Reading{reading(t, domain.SensorTemperature, 38.2)})
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.NoError(t, store.AcknowledgeAlert(ctx, first[0].ID))

	second, err := eng.Evaluate(ctx, 1, []domain.Reading{reading(t, domain.SensorTemperature, 38.2)})
	require.NoError(t, err)
	assert.Len(t, second, 1)
}

func seedHistory(t *testing.T, store *storage.Memory, values []float64) {
	t.Helper()
	for i, v := range values {
		r, err := domain.NewReading(1, "zone1", domain.SensorTemperature, v, "", domain.SourceSimulated, "")
		require.NoError(t, err)
		r.Timestamp = baseTime.Add(time.Duration(i-len(values)) * time.Minute)
		require.NoError(t, store.CreateReading(context.Background(), r))
	}
}

func TestEvaluateAnomalySpike(t *testing.T) {
	eng, store := newEngine(t)

	// Stable baseline with slight variation, then a spike. The spike is the
	// newest stored reading and the fresh reading under evaluation.
	seedHistory(t, store, []float64{20, 21, 20, 19, 20, 21, 20, 19, 21, 33})

	fresh := reading(t, domain.SensorTemperature, 33)
	alerts, err := eng.Evaluate(context.Background(), 1, []domain.Reading{fresh})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.SeverityWarning, alerts[0].Severity)
	assert.Equal(t, "Unusual temperature reading detected in zone1", alerts[0].Reason)
	assert.Equal(t, 33.0, alerts[0].Value)
}

func TestEvaluateAnomalySkipsShortHistory(t *testing.T) {
	eng, store := newEngine(t)

	seedHistory(t, store, []float64{20, 21, 20, 19, 33})

	alerts, err := eng.Evaluate(context.Background(), 1, []domain.Reading{
		reading(t, domain.SensorTemperature, 33),
	})
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestEvaluateAnomalySkipsZeroDeviation(t *testing.T) {
	eng, store := newEngine(t)

	// Identical baseline values make the standard deviation zero.
	seedHistory(t, store, []float64{20, 20, 20, 20, 20, 20, 20, 20, 20, 33})

	alerts, err := eng.Evaluate(context.Background(), 1, []domain.Reading{
		reading(t, domain.SensorTemperature, 33),
	})
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestEvaluateAnomalyDedupsAcrossCycles(t *testing.T) {
	eng, store := newEngine(t)
	ctx := context.Background()

	seedHistory(t, store, []float64{20, 21, 20, 19, 20, 21, 20, 19, 21, 33})

	first, err := eng.Evaluate(ctx, 1, []domain.Reading{reading(t, domain.SensorTemperature, 33)})
	require.NoError(t, err)
	require.Len(t, first, 1)

	// A different spike value produces the same reason string and dedups.
	spike, err := domain.NewReading(1, "zone1", domain.SensorTemperature, 35, "", domain.SourceSimulated, "")
	require.NoError(t, err)
	spike.Timestamp = baseTime.Add(time.Minute)
	require.NoError(t, store.CreateReading(ctx, spike))

	second, err := eng.Evaluate(ctx, 1, []domain.Reading{spike})
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestMeanStd(t *testing.T) {
	mean, std := meanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5, mean, 0.001)
	assert.InDelta(t, 2, std, 0.001)

	mean, std = meanStd(nil)
	assert.Zero(t, mean)
	assert.Zero(t, std)
}
