// Package fusion orchestrates the periodic collect-fuse-alert-broadcast
// cycle that drives the service.
package fusion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/agrisense/crop-fusion-service/internal/alert"
	"github.com/agrisense/crop-fusion-service/internal/broadcast"
	"github.com/agrisense/crop-fusion-service/internal/domain"
	"github.com/agrisense/crop-fusion-service/internal/observability"
	"github.com/agrisense/crop-fusion-service/internal/simulate"
	"github.com/agrisense/crop-fusion-service/internal/storage"
)

// ErrCycleRunning is returned when a collection is requested while another
// is already in flight. Requests are skipped, never queued.
var ErrCycleRunning = errors.New("collection cycle already running")

// SatelliteSource fetches daily climatology for a coordinate.
type SatelliteSource interface {
	Fetch(ctx context.Context, lat, lon float64, start, end time.Time) domain.SourceRecord
}

// WeatherSource fetches current conditions and the next-day outlook for a
// coordinate.
type WeatherSource interface {
	Current(ctx context.Context, lat, lon float64) domain.SourceRecord
	NextDay(ctx context.Context, lat, lon float64) (domain.Forecast, error)
}

// Options bundles Service construction parameters.
type Options struct {
	Latitude  float64
	Longitude float64
	Zones     []string
	Rules     domain.RuleSet

	// DefaultUserIDs is used when the store reports no active users.
	DefaultUserIDs []int64

	CollectionInterval time.Duration
	ErrorBackoff       time.Duration
	ExtendedBackoff    time.Duration
	// ErrorThreshold is the consecutive-failure count that switches the
	// loop from ErrorBackoff to ExtendedBackoff.
	ErrorThreshold int

	RetentionDays   int
	CleanupInterval time.Duration

	Clock clockwork.Clock
}

// Service runs collection cycles: fetch every source, fuse per user and
// zone, persist, evaluate alerts, broadcast.
type Service struct {
	opts        Options
	store       storage.Store
	satellite   SatelliteSource
	weather     WeatherSource
	sim         *simulate.Simulator
	engine      *alert.Engine
	broadcaster *broadcast.Broadcaster
	pool        *Pool
	metrics     *observability.Metrics
	logger      *slog.Logger
	clock       clockwork.Clock

	running           atomic.Bool
	ready             atomic.Bool
	consecutiveErrors atomic.Int64
}

// New creates a fusion service. Satellite, weather, and sim may each be nil
// when that source is disabled; at least one must be set.
func New(opts Options, store storage.Store, satellite SatelliteSource, weather WeatherSource,
	sim *simulate.Simulator, engine *alert.Engine, broadcaster *broadcast.Broadcaster,
	pool *Pool, metrics *observability.Metrics, logger *slog.Logger) (*Service, error) {

	if satellite == nil && weather == nil && sim == nil {
		return nil, errors.New("at least one data source is required")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Service{
		opts:        opts,
		store:       store,
		satellite:   satellite,
		weather:     weather,
		sim:         sim,
		engine:      engine,
		broadcaster: broadcaster,
		pool:        pool,
		metrics:     metrics,
		logger:      logger,
		clock:       opts.Clock,
	}, nil
}

// CheckReadiness returns nil once at least one cycle has completed
// successfully.
func (s *Service) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("no collection cycle has completed yet")
	}
	return nil
}

// Run executes collection cycles until the context is cancelled. Failed
// cycles wait ErrorBackoff; after ErrorThreshold consecutive failures the
// wait escalates to ExtendedBackoff.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("fusion service started",
		"interval", s.opts.CollectionInterval, "zones", s.opts.Zones)

	for {
		err := s.Collect(ctx)
		if ctx.Err() != nil {
			s.logger.Info("fusion service stopping", "reason", ctx.Err())
			return nil
		}

		wait := s.opts.CollectionInterval
		if err != nil {
			n := s.consecutiveErrors.Add(1)
			s.metrics.ConsecutiveErrors.Set(float64(n))
			wait = s.opts.ErrorBackoff
			if n > int64(s.opts.ErrorThreshold) {
				wait = s.opts.ExtendedBackoff
			}
			s.logger.Error("collection cycle failed",
				"error", err, "consecutive_errors", n, "next_attempt_in", wait)
		} else {
			s.consecutiveErrors.Store(0)
			s.metrics.ConsecutiveErrors.Set(0)
		}

		if !s.sleep(ctx, wait) {
			s.logger.Info("fusion service stopping", "reason", ctx.Err())
			return nil
		}
	}
}

// Collect runs one full cycle over all active users. A cycle already in
// flight makes this a no-op returning ErrCycleRunning.
func (s *Service) Collect(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.CyclesTotal.WithLabelValues("skipped").Inc()
		return ErrCycleRunning
	}
	defer s.running.Store(false)

	s.metrics.CollectorRunning.Set(1)
	defer s.metrics.CollectorRunning.Set(0)

	start := s.clock.Now()
	users, err := s.activeUsers(ctx)
	if err != nil {
		s.metrics.CyclesTotal.WithLabelValues("error").Inc()
		return err
	}

	s.metrics.ActiveUsers.Set(float64(len(users)))

	sat, weather, forecast := s.fetchSources(ctx)

	failed := 0
	for _, userID := range users {
		if err := s.processUser(ctx, userID, sat, weather); err != nil {
			failed++
			s.logger.Error("user cycle failed", "user_id", userID, "error", err)
		}
	}

	s.metrics.CycleDuration.Observe(s.clock.Now().Sub(start).Seconds())

	switch {
	case failed == len(users):
		s.metrics.CyclesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("all %d users failed", len(users))
	case failed > 0:
		s.metrics.CyclesTotal.WithLabelValues("partial").Inc()
	default:
		s.metrics.CyclesTotal.WithLabelValues("success").Inc()
	}
	s.metrics.LastSuccessTimestamp.Set(float64(s.clock.Now().Unix()))
	s.ready.Store(true)
	s.publishStatus(ctx, len(users), failed, forecast)
	return nil
}

// RefreshUser runs an out-of-band cycle for one user. It shares the running
// flag with Collect, so a refresh during a scheduled cycle is rejected.
func (s *Service) RefreshUser(ctx context.Context, userID int64) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrCycleRunning
	}
	defer s.running.Store(false)

	sat, weather, _ := s.fetchSources(ctx)
	if err := s.processUser(ctx, userID, sat, weather); err != nil {
		return fmt.Errorf("refresh user %d: %w", userID, err)
	}
	s.logger.Info("manual refresh completed", "user_id", userID)
	return nil
}

// RunCleanup deletes rows older than the retention horizon on a fixed
// interval until the context is cancelled.
func (s *Service) RunCleanup(ctx context.Context) error {
	for {
		if !s.sleep(ctx, s.opts.CleanupInterval) {
			return nil
		}
		before := s.clock.Now().UTC().AddDate(0, 0, -s.opts.RetentionDays)
		removed, err := s.store.Cleanup(ctx, before)
		if err != nil {
			s.logger.Error("retention cleanup failed", "error", err)
			continue
		}
		s.logger.Info("retention cleanup completed", "rows_removed", removed, "before", before)
	}
}

func (s *Service) activeUsers(ctx context.Context) ([]int64, error) {
	users, err := s.store.ActiveUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	if len(users) == 0 {
		users = s.opts.DefaultUserIDs
	}
	return users, nil
}

// fetchSources runs the enabled upstream fetches concurrently through the
// worker pool. Disabled sources come back as unusable records; the forecast
// is nil when the weather source is disabled or its fetch fails.
func (s *Service) fetchSources(ctx context.Context) (domain.SourceRecord, domain.SourceRecord, *domain.Forecast) {
	satRec := domain.ErrorRecord(domain.SourceSatellite, errors.New("source disabled"))
	weatherRec := domain.ErrorRecord(domain.SourceWeather, errors.New("source disabled"))
	var forecast *domain.Forecast

	var wg sync.WaitGroup
	if s.satellite != nil {
		wg.Add(1)
		if err := s.pool.Submit(ctx, func() {
			defer wg.Done()
			start := s.clock.Now()
			// Daily climatology lags by a few days, so ask for a week.
			end := s.clock.Now().UTC()
			satRec = s.satellite.Fetch(ctx, s.opts.Latitude, s.opts.Longitude, end.AddDate(0, 0, -7), end)
			s.metrics.SourceFetchDuration.WithLabelValues(string(domain.SourceSatellite)).
				Observe(s.clock.Now().Sub(start).Seconds())
		}); err != nil {
			wg.Done()
		}
	}
	if s.weather != nil {
		wg.Add(1)
		if err := s.pool.Submit(ctx, func() {
			defer wg.Done()
			start := s.clock.Now()
			weatherRec = s.weather.Current(ctx, s.opts.Latitude, s.opts.Longitude)
			s.metrics.SourceFetchDuration.WithLabelValues(string(domain.SourceWeather)).
				Observe(s.clock.Now().Sub(start).Seconds())
		}); err != nil {
			wg.Done()
		}

		wg.Add(1)
		if err := s.pool.Submit(ctx, func() {
			defer wg.Done()
			fc, err := s.weather.NextDay(ctx, s.opts.Latitude, s.opts.Longitude)
			if err != nil {
				s.logger.Warn("forecast fetch failed", "error", err)
				return
			}
			forecast = &fc
		}); err != nil {
			wg.Done()
		}
	}
	wg.Wait()

	s.recordSourceHealth(domain.SourceSatellite, satRec)
	s.recordSourceHealth(domain.SourceWeather, weatherRec)
	return satRec, weatherRec, forecast
}

func (s *Service) recordSourceHealth(source domain.Source, rec domain.SourceRecord) {
	v := 0.0
	if rec.Usable() {
		v = 1.0
	}
	s.metrics.SourceHealth.WithLabelValues(string(source)).Set(v)
}

// processUser fuses the source records into per-zone readings for one user,
// persists them, evaluates alerts, and broadcasts both.
func (s *Service) processUser(ctx context.Context, userID int64, sat, weather domain.SourceRecord) error {
	var all []domain.Reading
	for _, zone := range s.opts.Zones {
		all = append(all, s.fuseZone(ctx, userID, zone, sat, weather)...)
	}
	if len(all) == 0 {
		return fmt.Errorf("no readings produced for user %d", userID)
	}

	alerts, err := s.engine.Evaluate(ctx, userID, all)
	if err != nil {
		return fmt.Errorf("evaluate alerts: %w", err)
	}

	s.broadcastReadings(ctx, userID, all)
	s.broadcastAlerts(ctx, alerts)
	return nil
}

// fuseZone builds the zone's readings from the best available source per
// sensor. Persistence failures drop the single reading, never the zone.
func (s *Service) fuseZone(ctx context.Context, userID int64, zone string, sat, weather domain.SourceRecord) []domain.Reading {
	var out []domain.Reading

	var simRec domain.SourceRecord
	if s.sim != nil {
		simRec = s.sim.Record(zone, simConditions(sat, weather))
	}

	persist := func(sensorType string, value float64, unit string, source domain.Source, deviceID string) {
		value = s.opts.Rules.Scale(zone, sensorType, value)
		r, err := domain.NewReading(userID, zone, sensorType, value, unit, source, deviceID)
		if err != nil {
			s.metrics.ReadingsDropped.Inc()
			s.logger.Warn("reading rejected", "zone", zone, "sensor", sensorType, "error", err)
			return
		}
		if err := s.store.CreateReading(ctx, r); err != nil {
			s.metrics.ReadingsDropped.Inc()
			s.logger.Warn("reading not persisted", "zone", zone, "sensor", sensorType, "error", err)
			return
		}
		s.metrics.ReadingsProduced.Inc()
		out = append(out, r)
	}

	// Soil moisture: satellite wetness, then a weather-derived estimate,
	// then the simulator.
	switch {
	case sat.Usable() && sat.SoilMoisture != nil:
		persist(domain.SensorSoilMoisture, *sat.SoilMoisture, "%", domain.SourceSatellite, "satellite_service")
	case weather.Usable() && weather.Temperature != nil && weather.Humidity != nil:
		persist(domain.SensorSoilMoisture, soilFromWeather(weather), "%", domain.SourceWeather, "weather_service")
	case simRec.SoilMoisture != nil:
		persist(domain.SensorSoilMoisture, *simRec.SoilMoisture, "%", domain.SourceSimulated, "sensor_sim")
	}

	// Temperature and humidity: current weather beats daily climatology.
	switch {
	case weather.Usable() && weather.Temperature != nil:
		persist(domain.SensorTemperature, *weather.Temperature, "celsius", domain.SourceWeather, "weather_service")
	case sat.Usable() && sat.Temperature != nil:
		persist(domain.SensorTemperature, *sat.Temperature, "celsius", domain.SourceSatellite, "satellite_service")
	case simRec.Temperature != nil:
		persist(domain.SensorTemperature, *simRec.Temperature, "celsius", domain.SourceSimulated, "sensor_sim")
	}
	switch {
	case weather.Usable() && weather.Humidity != nil:
		persist(domain.SensorHumidity, *weather.Humidity, "%", domain.SourceWeather, "weather_service")
	case sat.Usable() && sat.Humidity != nil:
		persist(domain.SensorHumidity, *sat.Humidity, "%", domain.SourceSatellite, "satellite_service")
	case simRec.Humidity != nil:
		persist(domain.SensorHumidity, *simRec.Humidity, "%", domain.SourceSimulated, "sensor_sim")
	}

	if weather.Usable() && weather.Pressure != nil {
		persist(domain.SensorPressure, *weather.Pressure, "kPa", domain.SourceWeather, "weather_service")
	}
	switch {
	case weather.Usable() && weather.WindSpeed != nil:
		persist(domain.SensorWindSpeed, *weather.WindSpeed, "m/s", domain.SourceWeather, "weather_service")
	case sat.Usable() && sat.WindSpeed != nil:
		persist(domain.SensorWindSpeed, *sat.WindSpeed, "m/s", domain.SourceSatellite, "satellite_service")
	}

	// Light is guaranteed: every zone gets a light_level reading each cycle,
	// estimated from whatever conditions are on hand.
	persist(domain.SensorLightLevel, s.estimateLight(sat, weather), "lux", domain.SourceSimulated, "light_estimator")

	return out
}

// estimateLight prefers measured irradiance, then weather conditions, then a
// mid-range assumption so the reading always exists.
func (s *Service) estimateLight(sat, weather domain.SourceRecord) float64 {
	cond := domain.LightConditions{
		Latitude: s.opts.Latitude,
		At:       s.clock.Now().UTC(),
	}
	switch {
	case sat.Usable() && sat.SolarRadiation != nil:
		cond.Irradiance = sat.SolarRadiation
		if weather.Usable() {
			cond.CloudCover = weather.CloudCover
			cond.Description = weather.Description
		}
	case weather.Usable():
		cond.Irradiance = weather.SolarRadiation
		cond.CloudCover = weather.CloudCover
		cond.Description = weather.Description
	default:
		cond.CloudCover = domain.Float(50)
		cond.Description = "partly cloudy"
	}
	return domain.EstimateIlluminance(cond)
}

// soilFromWeather estimates soil moisture from current conditions when no
// direct measurement exists: humidity recharges, heat dries, rain recharges.
func soilFromWeather(w domain.SourceRecord) float64 {
	moisture := 60.0

	switch {
	case *w.Humidity > 80:
		moisture += 15
	case *w.Humidity < 40:
		moisture -= 20
	}
	switch {
	case *w.Temperature > 25:
		moisture -= 10
	case *w.Temperature < 10:
		moisture += 5
	}
	if w.Precipitation != nil {
		switch {
		case *w.Precipitation > 5:
			moisture += 25
		case *w.Precipitation > 1:
			moisture += 10
		}
	}
	return math.Max(20, math.Min(85, moisture))
}

// simConditions feeds the simulator whatever ambient values the real
// sources produced.
func simConditions(sat, weather domain.SourceRecord) simulate.Conditions {
	var cond simulate.Conditions
	pick := func(dst *float64, vals ...*float64) {
		for _, v := range vals {
			if v != nil {
				*dst = *v
				return
			}
		}
	}
	var satTemp, satHum, satSolar, satPrecip *float64
	if sat.Usable() {
		satTemp, satHum, satSolar, satPrecip = sat.Temperature, sat.Humidity, sat.SolarRadiation, sat.Precipitation
	}
	var wTemp, wHum, wSolar *float64
	if weather.Usable() {
		wTemp, wHum, wSolar = weather.Temperature, weather.Humidity, weather.SolarRadiation
	}
	pick(&cond.Temperature, wTemp, satTemp)
	pick(&cond.Humidity, wHum, satHum)
	pick(&cond.SolarRadiation, satSolar, wSolar)
	pick(&cond.Precipitation, satPrecip)
	return cond
}

func (s *Service) broadcastReadings(ctx context.Context, userID int64, readings []domain.Reading) {
	if s.broadcaster == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"user_id":  userID,
		"readings": readings,
	})
	if err != nil {
		s.logger.Error("marshal readings", "error", err)
		return
	}
	if err := s.broadcaster.Broadcast(ctx, broadcast.KindSensorData, payload); err != nil {
		s.logger.Warn("sensor data broadcast failed", "user_id", userID, "error", err)
	}
}

func (s *Service) broadcastAlerts(ctx context.Context, alerts []domain.Alert) {
	if s.broadcaster == nil {
		return
	}
	for _, a := range alerts {
		payload, err := json.Marshal(a)
		if err != nil {
			s.logger.Error("marshal alert", "error", err)
			continue
		}
		if err := s.broadcaster.Broadcast(ctx, broadcast.KindAlert, payload); err != nil {
			s.logger.Warn("alert broadcast failed", "alert_id", a.ID, "error", err)
		}
	}
}

func (s *Service) publishStatus(ctx context.Context, users, failed int, forecast *domain.Forecast) {
	if s.broadcaster == nil {
		return
	}
	msg := map[string]any{
		"status":       "cycle_completed",
		"users":        users,
		"failed_users": failed,
		"timestamp":    s.clock.Now().UTC(),
	}
	if forecast != nil {
		msg["forecast"] = forecast
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := s.broadcaster.Broadcast(ctx, broadcast.KindSystemStatus, payload); err != nil {
		s.logger.Debug("status broadcast failed", "error", err)
	}
}

// sleep waits for d or until the context is cancelled, reporting whether the
// full duration elapsed.
func (s *Service) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-s.clock.After(d):
		return true
	}
}
