package domain

import "time"

// SourceRecord is the raw output of one source adapter for one fetch.
// Measurement fields are pointers: nil means the source did not report
// that quantity. Adapters never fail outright; a fetch that exhausts its
// retries comes back with Quality = QualityError and nil fields.
type SourceRecord struct {
	Source  Source
	Quality Quality

	SoilMoisture   *float64 // percent, 0-100
	Temperature    *float64 // degrees C
	Humidity       *float64 // percent, 0-100
	Pressure       *float64 // kPa
	WindSpeed      *float64 // m/s
	Precipitation  *float64 // mm/day
	CloudCover     *float64 // percent, 0-100
	SolarRadiation *float64 // W/m2
	ET0            *float64 // reference evapotranspiration, mm/day

	Description string // free-text weather description, e.g. "scattered clouds"
	FetchedAt   time.Time
	Err         string // set when Quality == QualityError
}

// Usable reports whether the record carries data a cycle may consume.
func (r SourceRecord) Usable() bool {
	return r.Quality != QualityError
}

// ErrorRecord builds the degraded record returned after retries are exhausted.
func ErrorRecord(source Source, err error) SourceRecord {
	rec := SourceRecord{
		Source:    source,
		Quality:   QualityError,
		FetchedAt: clock.Now().UTC(),
	}
	if err != nil {
		rec.Err = err.Error()
	}
	return rec
}

// Float returns a pointer to v, for building records literal-style.
func Float(v float64) *float64 { return &v }

// Forecast summarizes the next day's outlook for irrigation planning:
// whether rain is coming and the temperature envelope to expect.
type Forecast struct {
	RainExpected bool    `json:"rain_expected"`
	MaxTemp      float64 `json:"max_temp"`
	MinTemp      float64 `json:"min_temp"`
	Hours        int     `json:"hours"`
}
