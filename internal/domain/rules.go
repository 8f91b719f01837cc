package domain

import (
	"fmt"
	"math"
)

// ThresholdRule bounds one sensor type at one severity tier. Min and Max are
// optional; a rule with neither set is invalid.
type ThresholdRule struct {
	SensorType string   `yaml:"sensor_type"`
	Severity   Severity `yaml:"severity"`
	Min        *float64 `yaml:"min,omitempty"`
	Max        *float64 `yaml:"max,omitempty"`
}

// RuleSet is the full alerting configuration: threshold rules plus per-zone
// value multipliers applied before evaluation.
type RuleSet struct {
	Thresholds []ThresholdRule `yaml:"thresholds"`
	// ZoneScale maps zone -> sensor type -> multiplier.
	ZoneScale map[string]map[string]float64 `yaml:"zone_scale"`
}

// DefaultRuleSet returns the built-in agronomic thresholds, used when no
// rules file is configured.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		Thresholds: []ThresholdRule{
			{SensorType: SensorSoilMoisture, Severity: SeverityCritical, Min: Float(25)},
			{SensorType: SensorSoilMoisture, Severity: SeverityWarning, Min: Float(40), Max: Float(85)},
			{SensorType: SensorTemperature, Severity: SeverityCritical, Max: Float(35)},
			{SensorType: SensorLightLevel, Severity: SeverityWarning, Min: Float(1000), Max: Float(80000)},
		},
		ZoneScale: map[string]map[string]float64{
			"zone2": {
				SensorLightLevel:   0.9,
				SensorSoilMoisture: 0.8,
			},
		},
	}
}

// Validate rejects rule sets a reader most likely mistyped.
func (rs RuleSet) Validate() error {
	for i, r := range rs.Thresholds {
		if r.SensorType == "" {
			return fmt.Errorf("threshold rule %d: sensor_type is required", i)
		}
		if r.Severity != SeverityWarning && r.Severity != SeverityCritical {
			return fmt.Errorf("threshold rule %d (%s): severity must be %q or %q, got %q",
				i, r.SensorType, SeverityWarning, SeverityCritical, r.Severity)
		}
		if r.Min == nil && r.Max == nil {
			return fmt.Errorf("threshold rule %d (%s): at least one of min or max is required", i, r.SensorType)
		}
		if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
			return fmt.Errorf("threshold rule %d (%s): min %.2f exceeds max %.2f", i, r.SensorType, *r.Min, *r.Max)
		}
	}
	for zone, scales := range rs.ZoneScale {
		for sensor, mult := range scales {
			if mult <= 0 {
				return fmt.Errorf("zone_scale[%s][%s]: multiplier must be positive, got %.2f", zone, sensor, mult)
			}
		}
	}
	return nil
}

// ForSensor returns the rules matching one sensor type at one severity tier,
// in declaration order.
func (rs RuleSet) ForSensor(sensorType string, severity Severity) []ThresholdRule {
	var out []ThresholdRule
	for _, r := range rs.Thresholds {
		if r.SensorType == sensorType && r.Severity == severity {
			out = append(out, r)
		}
	}
	return out
}

// Scale applies the zone multiplier for a sensor value, re-clamping to the
// sensor's physical bounds so scaling can never produce an invalid reading.
func (rs RuleSet) Scale(zone, sensorType string, value float64) float64 {
	mult, ok := rs.ZoneScale[zone][sensorType]
	if !ok {
		return value
	}
	v := value * mult
	if b, bounded := valueBounds[sensorType]; bounded {
		v = math.Min(math.Max(v, b[0]), b[1])
	}
	return v
}
