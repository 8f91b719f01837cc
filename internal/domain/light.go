package domain

import (
	"math"
	"strings"
	"time"
)

// Illuminance clamp bounds in lux.
const (
	MinLux = 10.0
	MaxLux = 120000.0
)

// luxPerWattSqm converts global horizontal irradiance to illuminance.
const luxPerWattSqm = 126.7

// defaultBaseLux is assumed full-daylight illuminance when no irradiance
// measurement is available.
const defaultBaseLux = 100000.0

// LightConditions carries the inputs to EstimateIlluminance. Irradiance and
// CloudCover are pointers so "not reported" is distinct from zero.
type LightConditions struct {
	Irradiance  *float64 // W/m2; takes precedence over the weather keyword ladder
	CloudCover  *float64 // percent, 0-100
	Description string   // free-text weather description
	Latitude    float64  // hemisphere selector for the seasonal factor
	At          time.Time
}

// EstimateIlluminance estimates ambient light in lux from whatever
// meteorological signals are on hand. Factors multiply a base value derived
// from irradiance (or an assumed daylight base): time of day, cloud cover,
// weather description, season. The result is clamped to [MinLux, MaxLux].
func EstimateIlluminance(c LightConditions) float64 {
	base := defaultBaseLux
	if c.Irradiance != nil && *c.Irradiance > 0 {
		base = math.Min(math.Max(*c.Irradiance*luxPerWattSqm, 0), MaxLux)
	}

	lux := base * timeOfDayFactor(c.At) * cloudFactor(c.CloudCover) *
		weatherFactor(c.Description) * seasonFactor(c.At.Month(), c.Latitude)

	return math.Min(math.Max(lux, MinLux), MaxLux)
}

// SolarRadiationToLux converts an irradiance measurement directly, with only
// the physical clamp applied.
func SolarRadiationToLux(irradiance float64) float64 {
	if irradiance <= 0 {
		return MinLux
	}
	return math.Min(irradiance*luxPerWattSqm, MaxLux)
}

// timeOfDayFactor follows a half sine over the 06:00-18:00 solar window with
// a 0.1 floor, and drops to 0.01 outside it.
func timeOfDayFactor(at time.Time) float64 {
	h := float64(at.Hour()) + float64(at.Minute())/60
	if h < 6 || h > 18 {
		return 0.01
	}
	return math.Max(0.1, math.Sin(math.Pi*(h-6)/12))
}

// cloudFactor blends linearly from 1.0 (clear) down to a 0.2 overcast floor.
func cloudFactor(pct *float64) float64 {
	if pct == nil {
		return 1.0
	}
	switch {
	case *pct <= 0:
		return 1.0
	case *pct >= 100:
		return 0.2
	default:
		return math.Max(0.2, 1-(*pct/100)*0.8)
	}
}

// weatherFactor maps a free-text description onto an attenuation factor.
// Ladder order matters: "light rain" must match before "rain".
func weatherFactor(desc string) float64 {
	if desc == "" {
		return 1.0
	}
	d := strings.ToLower(desc)
	ladder := []struct {
		keywords []string
		factor   float64
	}{
		{[]string{"clear", "sunny", "fair"}, 1.0},
		{[]string{"partly", "scattered", "few"}, 0.7},
		{[]string{"cloudy", "overcast", "broken"}, 0.4},
		{[]string{"drizzle", "light rain", "mist", "fog"}, 0.3},
		{[]string{"rain", "shower", "precipitation"}, 0.2},
		{[]string{"storm", "thunder", "heavy rain", "downpour"}, 0.1},
		{[]string{"snow", "sleet", "hail"}, 0.4},
	}
	for _, rung := range ladder {
		for _, kw := range rung.keywords {
			if strings.Contains(d, kw) {
				return rung.factor
			}
		}
	}
	return 0.5
}

// seasonFactor boosts summer months and damps winter ones. Negative latitude
// flips the hemisphere, so December is summer south of the equator.
func seasonFactor(month time.Month, latitude float64) float64 {
	m := int(month)
	summer := m >= 5 && m <= 7
	winter := m == 12 || m <= 2
	if latitude < 0 {
		summer, winter = winter, summer
	}
	switch {
	case summer:
		return 1.2
	case winter:
		return 0.6
	default:
		return 0.9
	}
}

// FallbackIlluminance is the coarse estimate used when the full conditions
// are unavailable: hour-linear daylight ramp and a reduced weather ladder,
// no seasonal or minute-level terms.
func FallbackIlluminance(cloudCoverPct float64, desc string, at time.Time) float64 {
	hour := at.Hour()
	hourFactor := 0.01
	if hour >= 6 && hour <= 18 {
		hourFactor = math.Max(0.1, 1-math.Abs(float64(hour)-12)/6)
	}

	cloud := math.Max(0.2, 1-(cloudCoverPct/100)*0.8)

	weather := 0.5
	d := strings.ToLower(desc)
	switch {
	case strings.Contains(d, "clear") || strings.Contains(d, "sunny"):
		weather = 1.0
	case strings.Contains(d, "cloud"):
		weather = 0.4
	case strings.Contains(d, "rain") || strings.Contains(d, "storm"):
		weather = 0.2
	}

	lux := defaultBaseLux * hourFactor * cloud * weather
	return math.Min(math.Max(lux, MinLux), MaxLux)
}
