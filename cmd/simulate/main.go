// Command simulate generates synthetic sensor reading fixtures using the
// service's own simulator, so fixture dynamics match runtime behavior. Output
// goes to a JSON file or, with -post, to a running service's ingest endpoint.
//
// Usage:
//
//	go run ./cmd/simulate -zones zone1,zone2 -hours 24 -seed 42 -out fixtures/readings.json
//	go run ./cmd/simulate -zones zone1 -hours 6 -post http://localhost:8080/v1/sensor-data
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/agrisense/crop-fusion-service/internal/domain"
	"github.com/agrisense/crop-fusion-service/internal/simulate"
)

var baseTime = time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	zonesFlag := flag.String("zones", "zone1,zone2", "comma-separated zones to simulate")
	hours := flag.Int("hours", 24, "hours of data to generate, one sample per hour per zone")
	seed := flag.Int64("seed", 42, "simulator seed for reproducible output")
	userID := flag.Int64("user", 1, "user ID stamped on generated readings")
	out := flag.String("out", "", "output path for the JSON fixture (default stdout)")
	post := flag.String("post", "", "POST readings to this ingest URL instead of writing JSON")
	flag.Parse()

	zones := strings.Split(*zonesFlag, ",")
	if *hours <= 0 {
		return fmt.Errorf("-hours must be positive, got %d", *hours)
	}

	// A fake clock drives both the reading timestamps and the simulator's
	// diurnal curves, stepping one hour per sample.
	clk := clockwork.NewFakeClockAt(baseTime)
	domain.SetClock(clk)
	defer domain.SetClock(nil)

	sim := simulate.New(*seed, clk)

	var readings []domain.Reading
	for h := 0; h < *hours; h++ {
		for _, zone := range zones {
			zone = strings.TrimSpace(zone)
			batch, err := sampleZone(sim, *userID, zone)
			if err != nil {
				return fmt.Errorf("sampling %s at hour %d: %w", zone, h, err)
			}
			readings = append(readings, batch...)
		}
		clk.Advance(time.Hour)
	}

	log.Printf("generated %d readings across %d zones over %d hours", len(readings), len(zones), *hours)

	if *post != "" {
		return postReadings(*post, readings)
	}
	if err := writeJSON(*out, readings); err != nil {
		return fmt.Errorf("writing fixture: %w", err)
	}
	printStats(readings)
	return nil
}

// sampleZone takes one full sample of every simulated sensor for a zone.
func sampleZone(sim *simulate.Simulator, userID int64, zone string) ([]domain.Reading, error) {
	cond := simulate.Conditions{}
	samples := []struct {
		sensorType string
		value      float64
		unit       string
	}{
		{domain.SensorSoilMoisture, sim.SoilMoisture(zone, cond), "%"},
		{domain.SensorTemperature, sim.Temperature(cond), "celsius"},
		{domain.SensorHumidity, sim.Humidity(cond), "%"},
		{domain.SensorLightLevel, sim.LightLevel(cond), "lux"},
	}

	out := make([]domain.Reading, 0, len(samples))
	for _, s := range samples {
		r, err := domain.NewReading(userID, zone, s.sensorType, s.value, s.unit, domain.SourceSimulated, "sensor_sim")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.sensorType, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func postReadings(url string, readings []domain.Reading) error {
	client := &http.Client{Timeout: 10 * time.Second}
	for i, r := range readings {
		body, err := json.Marshal(map[string]any{
			"user_id":     r.UserID,
			"zone":        r.Zone,
			"sensor_type": r.SensorType,
			"value":       r.Value,
			"unit":        r.Unit,
			"device_id":   r.DeviceID,
		})
		if err != nil {
			return err
		}
		resp, err := client.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("posting reading %d: %w", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("posting reading %d: server returned %s", i, resp.Status)
		}
	}
	log.Printf("posted %d readings to %s", len(readings), url)
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	log.Printf("wrote fixture: %s", path)
	return nil
}

// sensorStats aggregates per-sensor ranges for updating test assertions.
type sensorStats struct {
	count    int
	min, max float64
	sum      float64
}

func printStats(readings []domain.Reading) {
	stats := map[string]*sensorStats{}
	for _, r := range readings {
		s, ok := stats[r.SensorType]
		if !ok {
			s = &sensorStats{min: math.Inf(1), max: math.Inf(-1)}
			stats[r.SensorType] = s
		}
		s.count++
		s.sum += r.Value
		s.min = math.Min(s.min, r.Value)
		s.max = math.Max(s.max, r.Value)
	}

	fmt.Fprintln(os.Stderr, "\n=== Per-sensor ranges ===")
	for _, sensor := range []string{
		domain.SensorSoilMoisture, domain.SensorTemperature,
		domain.SensorHumidity, domain.SensorLightLevel,
	} {
		s, ok := stats[sensor]
		if !ok {
			continue
		}
		fmt.Fprintf(os.Stderr, "%-14s n=%-4d min=%8.1f max=%8.1f mean=%8.1f\n",
			sensor, s.count, s.min, s.max, s.sum/float64(s.count))
	}
}
