package domain

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReadingStampsClockTime(t *testing.T) {
	frozen := time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC)
	SetClock(clockwork.NewFakeClockAt(frozen))
	t.Cleanup(func() { SetClock(nil) })

	r, err := NewReading(42, "zone1", SensorTemperature, 21.5, "celsius", SourceWeather, "weather_service")
	require.NoError(t, err)

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, int64(42), r.UserID)
	assert.Equal(t, frozen, r.Timestamp)
	assert.Equal(t, SourceWeather, r.Source)
}

func TestNewReadingRejectsOutOfRange(t *testing.T) {
	cases := []struct {
		sensor string
		value  float64
	}{
		{SensorSoilMoisture, -1},
		{SensorSoilMoisture, 101},
		{SensorHumidity, 120},
		{SensorLightLevel, 200000},
		{SensorWindSpeed, -3},
	}
	for _, tc := range cases {
		_, err := NewReading(1, "zone1", tc.sensor, tc.value, "", SourceSimulated, "")
		require.Error(t, err, "%s=%v", tc.sensor, tc.value)
		assert.ErrorIs(t, err, ErrOutOfRange)
	}
}

func TestNewReadingRequiresZone(t *testing.T) {
	_, err := NewReading(1, "", SensorTemperature, 20, "celsius", SourceSimulated, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zone is required")
}

func TestNewReadingUnboundedSensorAccepted(t *testing.T) {
	// Temperature has no physical bounds table entry.
	_, err := NewReading(1, "zone1", SensorTemperature, -40, "celsius", SourceSatellite, "")
	assert.NoError(t, err)
}

func TestErrorRecordCarriesMessage(t *testing.T) {
	rec := ErrorRecord(SourceSatellite, assert.AnError)
	assert.Equal(t, QualityError, rec.Quality)
	assert.False(t, rec.Usable())
	assert.Equal(t, assert.AnError.Error(), rec.Err)
	assert.Nil(t, rec.Temperature)
}
