package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/agrisense/crop-fusion-service/internal/adapter/httpapi"
	"github.com/agrisense/crop-fusion-service/internal/adapter/nasapower"
	"github.com/agrisense/crop-fusion-service/internal/adapter/openweather"
	"github.com/agrisense/crop-fusion-service/internal/alert"
	"github.com/agrisense/crop-fusion-service/internal/broadcast"
	"github.com/agrisense/crop-fusion-service/internal/config"
	"github.com/agrisense/crop-fusion-service/internal/fusion"
	"github.com/agrisense/crop-fusion-service/internal/observability"
	"github.com/agrisense/crop-fusion-service/internal/simulate"
	"github.com/agrisense/crop-fusion-service/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogFormat, cfg.LogLevel)
	metrics := observability.NewMetrics()

	rules, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		logger.Error("failed to load alert rules", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage: Postgres when DATABASE_URL is set, in-memory otherwise.
	var store storage.Store
	if cfg.DatabaseURL != "" {
		pg, err := storage.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		store = pg
		logger.Info("postgres storage enabled")
	} else {
		store = storage.NewMemory(nil)
		logger.Warn("no DATABASE_URL set, using in-memory storage")
	}

	// Sources. The satellite feed needs no credentials and is always on;
	// weather requires an API key; the simulator is feature-flagged.
	var satellite fusion.SatelliteSource = nasapower.NewClient(cfg.FetchTimeout, cfg.FetchRetries, logger)

	var weather fusion.WeatherSource
	if cfg.OpenWeatherAPIKey != "" {
		weather = openweather.NewClient(cfg.OpenWeatherAPIKey, cfg.FetchTimeout, cfg.FetchRetries, logger)
		logger.Info("openweather source enabled")
	} else {
		logger.Info("openweather source disabled, no API key")
	}

	var sim *simulate.Simulator
	if cfg.SimulateEnabled {
		sim = simulate.New(cfg.SimulateSeed, nil)
		logger.Info("simulated source enabled", "seed", cfg.SimulateSeed)
	}

	broadcaster, closeChannels, err := buildBroadcaster(cfg, metrics, logger)
	if err != nil {
		logger.Error("failed to initialize broadcast channels", "error", err)
		os.Exit(1)
	}

	engine := alert.NewEngine(store, alert.Options{
		Rules:         rules,
		DedupWindow:   cfg.DedupWindow,
		AnomalyWindow: cfg.AnomalyWindow,
		ZThreshold:    cfg.AnomalyZScore,
	}, metrics, logger)

	pool := fusion.NewPool(cfg.WorkerPoolSize)

	svc, err := fusion.New(fusion.Options{
		Latitude:           cfg.Latitude,
		Longitude:          cfg.Longitude,
		Zones:              cfg.Zones,
		Rules:              rules,
		DefaultUserIDs:     cfg.DefaultUserIDs,
		CollectionInterval: cfg.CollectionInterval,
		ErrorBackoff:       cfg.ErrorBackoff,
		ExtendedBackoff:    cfg.ExtendedBackoff,
		ErrorThreshold:     cfg.ErrorThreshold,
		RetentionDays:      cfg.RetentionDays,
		CleanupInterval:    cfg.CleanupInterval,
	}, store, satellite, weather, sim, engine, broadcaster, pool, metrics, logger)
	if err != nil {
		logger.Error("failed to build fusion service", "error", err)
		os.Exit(1)
	}

	srv := httpapi.NewServer(cfg.HTTPAddr, svc, svc, engine, store, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := svc.Run(ctx); err != nil {
			logger.Error("fusion service error", "error", err)
		}
	}()

	go func() {
		if err := svc.RunCleanup(ctx); err != nil {
			logger.Error("cleanup loop error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	// The run loop submits to the pool, so join it before closing.
	<-runDone
	pool.Close()
	closeChannels()
	if err := store.Close(); err != nil {
		logger.Error("storage close error", "error", err)
	}

	logger.Info("shutdown complete")
}

// buildBroadcaster assembles the configured channels. A service with no
// working channel has no way to surface anything to clients, so zero
// channels is a startup error.
func buildBroadcaster(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (*broadcast.Broadcaster, func(), error) {
	if !cfg.BroadcastConfigured() {
		return nil, nil, errors.New("no broadcast channels configured, set KAFKA_BROKERS, MQTT_BROKER_URL, or WEBHOOK_URL")
	}

	var channels []broadcast.Channel
	if len(cfg.KafkaBrokers) > 0 {
		channels = append(channels, broadcast.NewKafkaChannel(cfg.KafkaBrokers, cfg.KafkaTopicPrefix))
		logger.Info("kafka channel enabled", "brokers", cfg.KafkaBrokers)
	}
	if cfg.MQTTBrokerURL != "" {
		ch, err := broadcast.NewMQTTChannel(cfg.MQTTBrokerURL, cfg.MQTTClientID, cfg.MQTTTopicPrefix)
		if err != nil {
			return nil, nil, err
		}
		channels = append(channels, ch)
		logger.Info("mqtt channel enabled", "broker", cfg.MQTTBrokerURL)
	}
	if cfg.WebhookURL != "" {
		channels = append(channels, broadcast.NewWebhookChannel(cfg.WebhookURL, cfg.FetchTimeout))
		logger.Info("webhook channel enabled")
	}

	b, err := broadcast.New(channels, metrics, logger)
	if err != nil {
		return nil, nil, err
	}
	return b, func() {
		if err := b.Close(); err != nil {
			logger.Error("broadcast close error", "error", err)
		}
	}, nil
}
