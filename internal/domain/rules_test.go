package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRuleSetValid(t *testing.T) {
	rs := DefaultRuleSet()
	require.NoError(t, rs.Validate())

	crit := rs.ForSensor(SensorSoilMoisture, SeverityCritical)
	require.Len(t, crit, 1)
	assert.Equal(t, 25.0, *crit[0].Min)
	assert.Nil(t, crit[0].Max)

	warn := rs.ForSensor(SensorLightLevel, SeverityWarning)
	require.Len(t, warn, 1)
	assert.Equal(t, 1000.0, *warn[0].Min)
	assert.Equal(t, 80000.0, *warn[0].Max)
}

func TestRuleSetValidateErrors(t *testing.T) {
	cases := []struct {
		name string
		rs   RuleSet
		want string
	}{
		{
			"missing sensor type",
			RuleSet{Thresholds: []ThresholdRule{{Severity: SeverityWarning, Min: Float(1)}}},
			"sensor_type is required",
		},
		{
			"bad severity",
			RuleSet{Thresholds: []ThresholdRule{{SensorType: SensorTemperature, Severity: "fatal", Max: Float(1)}}},
			"severity must be",
		},
		{
			"no bounds",
			RuleSet{Thresholds: []ThresholdRule{{SensorType: SensorTemperature, Severity: SeverityWarning}}},
			"at least one of min or max",
		},
		{
			"inverted bounds",
			RuleSet{Thresholds: []ThresholdRule{{SensorType: SensorTemperature, Severity: SeverityWarning, Min: Float(10), Max: Float(5)}}},
			"exceeds max",
		},
		{
			"non-positive multiplier",
			RuleSet{ZoneScale: map[string]map[string]float64{"zone1": {SensorLightLevel: 0}}},
			"must be positive",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.rs.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestRuleSetScale(t *testing.T) {
	rs := DefaultRuleSet()

	assert.InDelta(t, 45000, rs.Scale("zone2", SensorLightLevel, 50000), 0.001)
	assert.InDelta(t, 40, rs.Scale("zone2", SensorSoilMoisture, 50), 0.001)
	// Unscaled zone and sensor pass through.
	assert.Equal(t, 50000.0, rs.Scale("zone1", SensorLightLevel, 50000))
	assert.Equal(t, 20.0, rs.Scale("zone2", SensorTemperature, 20))
}

func TestRuleSetScaleReclamps(t *testing.T) {
	rs := RuleSet{ZoneScale: map[string]map[string]float64{
		"hot": {SensorSoilMoisture: 3},
	}}
	assert.Equal(t, 100.0, rs.Scale("hot", SensorSoilMoisture, 90))
}
