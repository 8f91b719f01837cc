package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Source identifies where a reading's value came from.
type Source string

const (
	SourceSimulated Source = "simulated"
	SourceSatellite Source = "satellite"
	SourceWeather   Source = "weather"
	SourceExternal  Source = "external"
)

// Quality classifies how trustworthy an adapter record is.
type Quality string

const (
	QualityHigh       Quality = "high"
	QualityFallback   Quality = "fallback"
	QualityCalculated Quality = "calculated"
	QualityError      Quality = "error"
)

// Sensor types produced by the fusion cycle.
const (
	SensorSoilMoisture = "soil_moisture"
	SensorTemperature  = "temperature"
	SensorHumidity     = "humidity"
	SensorPressure     = "pressure"
	SensorWindSpeed    = "wind_speed"
	SensorLightLevel   = "light_level"
)

// Reading is a single persisted measurement for one zone.
// Immutable once created; physical bounds are enforced by NewReading.
type Reading struct {
	ID         string    `json:"id"`
	UserID     int64     `json:"user_id"`
	Zone       string    `json:"zone"`
	SensorType string    `json:"sensor_type"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	Source     Source    `json:"source"`
	DeviceID   string    `json:"device_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// valueBounds holds the physically plausible range per sensor type.
// Sensor types without an entry are accepted as-is.
var valueBounds = map[string][2]float64{
	SensorSoilMoisture: {0, 100},
	SensorHumidity:     {0, 100},
	SensorLightLevel:   {MinLux, MaxLux},
	SensorWindSpeed:    {0, 120},
}

// ErrOutOfRange is returned by NewReading for physically impossible values.
var ErrOutOfRange = fmt.Errorf("value out of physical range")

// NewReading builds a validated Reading with a fresh ID and the current
// clock time as timestamp.
func NewReading(userID int64, zone, sensorType string, value float64, unit string, source Source, deviceID string) (Reading, error) {
	if zone == "" {
		return Reading{}, fmt.Errorf("reading for %s: zone is required", sensorType)
	}
	if b, ok := valueBounds[sensorType]; ok {
		if value < b[0] || value > b[1] {
			return Reading{}, fmt.Errorf("%s=%.2f outside [%.0f, %.0f]: %w", sensorType, value, b[0], b[1], ErrOutOfRange)
		}
	}
	return Reading{
		ID:         uuid.NewString(),
		UserID:     userID,
		Zone:       zone,
		SensorType: sensorType,
		Value:      value,
		Unit:       unit,
		Source:     source,
		DeviceID:   deviceID,
		Timestamp:  clock.Now().UTC(),
	}, nil
}
