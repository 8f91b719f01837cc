package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Farm location used for satellite and weather lookups.
	Latitude  float64
	Longitude float64
	Zones     []string

	// Collection cycle timing.
	CollectionInterval time.Duration
	ErrorBackoff       time.Duration
	ExtendedBackoff    time.Duration
	ErrorThreshold     int
	WorkerPoolSize     int

	// Upstream fetch policy.
	FetchTimeout time.Duration
	FetchRetries int

	// Source toggles and credentials.
	OpenWeatherAPIKey string
	SimulateEnabled   bool
	SimulateSeed      int64

	// Alerting.
	RulesFile     string
	DedupWindow   time.Duration
	AnomalyWindow int
	AnomalyZScore float64

	// Storage. Empty DatabaseURL selects the in-memory store.
	DatabaseURL     string
	DefaultUserIDs  []int64
	RetentionDays   int
	CleanupInterval time.Duration

	// Broadcast channels. An empty setting disables that channel.
	KafkaBrokers     []string
	KafkaTopicPrefix string
	MQTTBrokerURL    string
	MQTTClientID     string
	MQTTTopicPrefix  string
	WebhookURL       string
}

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDurationEnv("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	collectionInterval, err := parseDurationEnv("COLLECTION_INTERVAL", 300*time.Second)
	if err != nil {
		return nil, err
	}
	errorBackoff, err := parseDurationEnv("ERROR_BACKOFF", 60*time.Second)
	if err != nil {
		return nil, err
	}
	extendedBackoff, err := parseDurationEnv("EXTENDED_ERROR_BACKOFF", 300*time.Second)
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := parseDurationEnv("FETCH_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	dedupWindow, err := parseDurationEnv("ALERT_DEDUP_WINDOW", time.Hour)
	if err != nil {
		return nil, err
	}
	cleanupInterval, err := parseDurationEnv("CLEANUP_INTERVAL", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	lat, err := parseFloatEnv("FARM_LATITUDE", -29.8587)
	if err != nil {
		return nil, err
	}
	lon, err := parseFloatEnv("FARM_LONGITUDE", 31.0218)
	if err != nil {
		return nil, err
	}
	zScore, err := parseFloatEnv("ANOMALY_Z_SCORE", 2.5)
	if err != nil {
		return nil, err
	}

	errorThreshold, err := parseIntEnv("ERROR_THRESHOLD", 5, 1, 100)
	if err != nil {
		return nil, err
	}
	poolSize, err := parseIntEnv("WORKER_POOL_SIZE", 4, 1, 64)
	if err != nil {
		return nil, err
	}
	fetchRetries, err := parseIntEnv("FETCH_RETRIES", 3, 1, 10)
	if err != nil {
		return nil, err
	}
	anomalyWindow, err := parseIntEnv("ANOMALY_WINDOW", 10, 2, 1000)
	if err != nil {
		return nil, err
	}
	retentionDays, err := parseIntEnv("RETENTION_DAYS", 90, 1, 3650)
	if err != nil {
		return nil, err
	}

	seed, err := parseInt64Env("SIMULATE_SEED", 0)
	if err != nil {
		return nil, err
	}
	userIDs, err := parseInt64ListEnv("DEFAULT_USER_IDS", []int64{1})
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		Latitude:  lat,
		Longitude: lon,
		Zones:     parseList(envOrDefault("FARM_ZONES", "zone1,zone2")),

		CollectionInterval: collectionInterval,
		ErrorBackoff:       errorBackoff,
		ExtendedBackoff:    extendedBackoff,
		ErrorThreshold:     errorThreshold,
		WorkerPoolSize:     poolSize,

		FetchTimeout: fetchTimeout,
		FetchRetries: fetchRetries,

		OpenWeatherAPIKey: envOrDefault("OPENWEATHER_API_KEY", ""),
		SimulateEnabled:   parseBoolEnv("SIMULATE_ENABLED", true),
		SimulateSeed:      seed,

		RulesFile:     envOrDefault("RULES_FILE", ""),
		DedupWindow:   dedupWindow,
		AnomalyWindow: anomalyWindow,
		AnomalyZScore: zScore,

		DatabaseURL:     envOrDefault("DATABASE_URL", ""),
		DefaultUserIDs:  userIDs,
		RetentionDays:   retentionDays,
		CleanupInterval: cleanupInterval,

		KafkaBrokers:     parseList(envOrDefault("KAFKA_BROKERS", "")),
		KafkaTopicPrefix: envOrDefault("KAFKA_TOPIC_PREFIX", "crop-monitoring"),
		MQTTBrokerURL:    envOrDefault("MQTT_BROKER_URL", ""),
		MQTTClientID:     envOrDefault("MQTT_CLIENT_ID", "crop-fusion-service"),
		MQTTTopicPrefix:  envOrDefault("MQTT_TOPIC_PREFIX", "crop_monitoring"),
		WebhookURL:       envOrDefault("WEBHOOK_URL", ""),
	}

	if cfg.Latitude < -90 || cfg.Latitude > 90 {
		return nil, fmt.Errorf("FARM_LATITUDE %.4f outside [-90, 90]", cfg.Latitude)
	}
	if cfg.Longitude < -180 || cfg.Longitude > 180 {
		return nil, fmt.Errorf("FARM_LONGITUDE %.4f outside [-180, 180]", cfg.Longitude)
	}
	if len(cfg.Zones) == 0 {
		return nil, errors.New("FARM_ZONES is required")
	}
	if cfg.ZScoreInvalid() {
		return nil, fmt.Errorf("ANOMALY_Z_SCORE must be positive, got %.2f", cfg.AnomalyZScore)
	}
	if cfg.CollectionInterval < time.Second {
		return nil, errors.New("COLLECTION_INTERVAL must be at least 1s")
	}

	return cfg, nil
}

// ZScoreInvalid reports whether the configured anomaly threshold is unusable.
func (c *Config) ZScoreInvalid() bool { return c.AnomalyZScore <= 0 }

// BroadcastConfigured reports whether at least one broadcast channel has
// enough configuration to initialize.
func (c *Config) BroadcastConfigured() bool {
	return len(c.KafkaBrokers) > 0 || c.MQTTBrokerURL != "" || c.WebhookURL != ""
}
