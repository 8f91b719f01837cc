// Package alert evaluates fresh readings against threshold rules and a
// statistical anomaly detector, deduplicating by reason string.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/agrisense/crop-fusion-service/internal/domain"
	"github.com/agrisense/crop-fusion-service/internal/observability"
	"github.com/agrisense/crop-fusion-service/internal/storage"
)

// severity tiers in evaluation order. Critical runs first so a duplicate
// warning for the same condition is absorbed by dedup.
var tiers = []domain.Severity{domain.SeverityCritical, domain.SeverityWarning}

// Engine turns rule violations and statistical outliers into persisted
// alerts. One Engine serves all users.
type Engine struct {
	store         storage.Store
	rules         domain.RuleSet
	dedupWindow   time.Duration
	anomalyWindow int
	zThreshold    float64
	metrics       *observability.Metrics
	logger        *slog.Logger
	clock         clockwork.Clock
}

// Options bundles Engine construction parameters.
type Options struct {
	Rules         domain.RuleSet
	DedupWindow   time.Duration
	AnomalyWindow int
	ZThreshold    float64
	Clock         clockwork.Clock
}

// NewEngine creates an alert engine.
func NewEngine(store storage.Store, opts Options, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Engine{
		store:         store,
		rules:         opts.Rules,
		dedupWindow:   opts.DedupWindow,
		anomalyWindow: opts.AnomalyWindow,
		zThreshold:    opts.ZThreshold,
		metrics:       metrics,
		logger:        logger,
		clock:         opts.Clock,
	}
}

// Evaluate checks one user's fresh readings and persists every alert that
// survives deduplication, returning the created alerts.
func (e *Engine) Evaluate(ctx context.Context, userID int64, readings []domain.Reading) ([]domain.Alert, error) {
	seen, err := e.recentReasons(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load dedup window: %w", err)
	}

	var created []domain.Alert
	emit := func(a domain.Alert, detector string) error {
		if seen[a.Reason] {
			e.metrics.AlertsSuppressed.Inc()
			e.logger.Debug("alert suppressed", "user_id", userID, "reason", a.Reason)
			return nil
		}
		if err := e.store.CreateAlert(ctx, a); err != nil {
			return fmt.Errorf("persist alert: %w", err)
		}
		seen[a.Reason] = true
		created = append(created, a)
		e.metrics.AlertsProduced.WithLabelValues(detector, string(a.Severity)).Inc()
		e.logger.Info("alert created",
			"user_id", userID, "severity", a.Severity, "reason", a.Reason)
		return nil
	}

	for _, tier := range tiers {
		for _, r := range readings {
			for _, rule := range e.rules.ForSensor(r.SensorType, tier) {
				a, violated := thresholdAlert(r, rule)
				if !violated {
					continue
				}
				if err := emit(a, "threshold"); err != nil {
					return created, err
				}
			}
		}
	}

	anomalies, err := e.detectAnomalies(ctx, userID, readings)
	if err != nil {
		return created, err
	}
	for _, a := range anomalies {
		if err := emit(a, "anomaly"); err != nil {
			return created, err
		}
	}

	return created, nil
}

// recentReasons collects the reason strings of unacknowledged alerts inside
// the trailing dedup window.
func (e *Engine) recentReasons(ctx context.Context, userID int64) (map[string]bool, error) {
	since := e.clock.Now().UTC().Add(-e.dedupWindow)
	existing, err := e.store.UnacknowledgedAlerts(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(existing))
	for _, a := range existing {
		seen[a.Reason] = true
	}
	return seen, nil
}

// thresholdAlert builds the alert for one rule violation. The minimum bound
// is checked first and wins when both are violated.
func thresholdAlert(r domain.Reading, rule domain.ThresholdRule) (domain.Alert, bool) {
	if rule.Min != nil && r.Value < *rule.Min {
		reason := fmt.Sprintf("%s in %s is critically low: %.1f", r.SensorType, r.Zone, r.Value)
		rec := fmt.Sprintf("Increase %s levels immediately", r.SensorType)
		return domain.NewAlert(r.UserID, reason, rule.Severity, r.Value, *rule.Min, rec, r.Zone, r.SensorType, r.DeviceID), true
	}
	if rule.Max != nil && r.Value > *rule.Max {
		reason := fmt.Sprintf("%s in %s is critically high: %.1f", r.SensorType, r.Zone, r.Value)
		rec := fmt.Sprintf("Reduce %s levels immediately", r.SensorType)
		return domain.NewAlert(r.UserID, reason, rule.Severity, r.Value, *rule.Max, rec, r.Zone, r.SensorType, r.DeviceID), true
	}
	return domain.Alert{}, false
}

// detectAnomalies z-scores the latest reading of each fresh zone and sensor
// pair against its trailing history. Anomalies are always warnings; the
// reason omits the value so repeats dedup across cycles.
func (e *Engine) detectAnomalies(ctx context.Context, userID int64, readings []domain.Reading) ([]domain.Alert, error) {
	type key struct{ zone, sensor string }
	fresh := map[key]domain.Reading{}
	for _, r := range readings {
		fresh[key{r.Zone, r.SensorType}] = r
	}

	var out []domain.Alert
	for k, latest := range fresh {
		history, err := e.store.RecentReadings(ctx, userID, k.zone, k.sensor, e.anomalyWindow)
		if err != nil {
			return nil, fmt.Errorf("load history for %s/%s: %w", k.zone, k.sensor, err)
		}
		if len(history) < e.anomalyWindow {
			continue
		}

		// history is newest first; index 0 is the value under test and the
		// rest form the baseline.
		baseline := make([]float64, 0, len(history)-1)
		for _, h := range history[1:] {
			baseline = append(baseline, h.Value)
		}
		mean, std := meanStd(baseline)
		if std == 0 {
			continue
		}

		z := math.Abs(history[0].Value-mean) / std
		if z <= e.zThreshold {
			continue
		}

		reason := fmt.Sprintf("Unusual %s reading detected in %s", k.sensor, k.zone)
		rec := "Check sensor placement and recent conditions"
		out = append(out, domain.NewAlert(userID, reason, domain.SeverityWarning,
			latest.Value, mean, rec, k.zone, k.sensor, latest.DeviceID))
	}
	return out, nil
}

// meanStd returns the mean and population standard deviation.
func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}
