// Package simulate generates synthetic sensor readings with realistic
// diurnal and weather-driven dynamics, used when no physical sensors report
// and by the standalone generator binary.
package simulate

import (
	"math"
	"math/rand"

	"github.com/jonboulle/clockwork"

	"github.com/agrisense/crop-fusion-service/internal/domain"
)

// zoneConfig tunes baseline soil moisture per zone.
type zoneConfig struct {
	baseMoisture float64
}

var zoneConfigs = map[string]zoneConfig{
	"zone1": {baseMoisture: 65}, // vegetables prefer more moisture
	"zone2": {baseMoisture: 55}, // flowers tolerate drier conditions
}

const defaultBaseMoisture = 65.0

// Simulator produces synthetic readings. Seeded construction gives
// reproducible sequences; the clock drives diurnal variation.
type Simulator struct {
	rng   *rand.Rand
	clock clockwork.Clock
}

// New creates a simulator. A zero seed produces a different sequence each
// process start.
func New(seed int64, clk clockwork.Clock) *Simulator {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	src := rand.NewSource(seed)
	if seed == 0 {
		src = rand.NewSource(clk.Now().UnixNano())
	}
	return &Simulator{rng: rand.New(src), clock: clk}
}

// Conditions are the ambient inputs the simulator modulates around. Zero
// values fall back to mild defaults.
type Conditions struct {
	Temperature    float64 // degrees C
	Humidity       float64 // percent
	SolarRadiation float64 // W/m2
	Precipitation  float64 // mm/day
}

func (c Conditions) withDefaults() Conditions {
	if c.Temperature == 0 {
		c.Temperature = 22
	}
	if c.Humidity == 0 {
		c.Humidity = 65
	}
	if c.SolarRadiation == 0 {
		c.SolarRadiation = 5
	}
	return c
}

// SoilMoisture simulates soil moisture dynamics for a zone: precipitation
// recharges, temperature and radiation evaporate, clamped to [10, 95].
func (s *Simulator) SoilMoisture(zone string, cond Conditions) float64 {
	cond = cond.withDefaults()
	cfg, ok := zoneConfigs[zone]
	base := defaultBaseMoisture
	if ok {
		base = cfg.baseMoisture
	}

	change := cond.Precipitation * 15
	evaporation := (cond.Temperature-20)*0.5 + cond.SolarRadiation*0.8
	change -= evaporation

	v := base + change + s.uniform(-2, 2)
	return math.Max(10, math.Min(95, v))
}

// Temperature adds a 2 PM-peaked diurnal swing and sensor noise to the
// ambient temperature.
func (s *Simulator) Temperature(cond Conditions) float64 {
	cond = cond.withDefaults()
	hour := float64(s.clock.Now().Hour())
	diurnal := math.Sin((hour-14)*math.Pi/12) * 8
	return cond.Temperature + diurnal + s.uniform(-1.5, 1.5)
}

// Humidity swings opposite to temperature: higher at night, lower by day.
func (s *Simulator) Humidity(cond Conditions) float64 {
	cond = cond.withDefaults()
	hour := float64(s.clock.Now().Hour())
	diurnal := math.Sin((hour-4)*math.Pi/12) * 15
	return math.Max(10, math.Min(95, cond.Humidity+diurnal+s.uniform(-5, 5)))
}

// LightLevel converts irradiance to an approximate lux reading with noise.
func (s *Simulator) LightLevel(cond Conditions) float64 {
	cond = cond.withDefaults()
	v := cond.SolarRadiation*200 + s.uniform(-50, 50)
	return math.Max(0, math.Min(domain.MaxLux, v))
}

// Record bundles a full synthetic fetch for one zone, quality-tagged as
// fallback data.
func (s *Simulator) Record(zone string, cond Conditions) domain.SourceRecord {
	return domain.SourceRecord{
		Source:       domain.SourceSimulated,
		Quality:      domain.QualityFallback,
		FetchedAt:    s.clock.Now().UTC(),
		SoilMoisture: domain.Float(s.SoilMoisture(zone, cond)),
		Temperature:  domain.Float(s.Temperature(cond)),
		Humidity:     domain.Float(s.Humidity(cond)),
	}
}

func (s *Simulator) uniform(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}
