package domain

import (
	"time"

	"github.com/google/uuid"
)

// Severity of an alert. Threshold alerts inherit the matched rule tier;
// anomaly alerts are always warnings.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is raised by the alert engine when a reading violates a rule or
// deviates statistically. Reason doubles as the deduplication key: within
// the dedup window a user never gets two unacknowledged alerts with the
// same reason string.
type Alert struct {
	ID             string    `json:"id"`
	UserID         int64     `json:"user_id"`
	Reason         string    `json:"reason"`
	Severity       Severity  `json:"severity"`
	Value          float64   `json:"value"`
	Threshold      float64   `json:"threshold"`
	Recommendation string    `json:"recommendation"`
	Zone           string    `json:"zone"`
	SensorType     string    `json:"sensor_type"`
	DeviceID       string    `json:"device_id,omitempty"`
	Acknowledged   bool      `json:"acknowledged"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewAlert stamps an alert with an ID and the current clock time.
func NewAlert(userID int64, reason string, severity Severity, value, threshold float64, recommendation, zone, sensorType, deviceID string) Alert {
	return Alert{
		ID:             uuid.NewString(),
		UserID:         userID,
		Reason:         reason,
		Severity:       severity,
		Value:          value,
		Threshold:      threshold,
		Recommendation: recommendation,
		Zone:           zone,
		SensorType:     sensorType,
		DeviceID:       deviceID,
		Timestamp:      clock.Now().UTC(),
	}
}
