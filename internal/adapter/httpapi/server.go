// Package httpapi exposes the service's operational endpoints: health,
// readiness, metrics, command dispatch, and external sensor ingest.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agrisense/crop-fusion-service/internal/domain"
	"github.com/agrisense/crop-fusion-service/internal/fusion"
	"github.com/agrisense/crop-fusion-service/internal/storage"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Refresher triggers an out-of-band collection for one user.
type Refresher interface {
	RefreshUser(ctx context.Context, userID int64) error
}

// AlertEvaluator checks freshly ingested readings for alert conditions.
type AlertEvaluator interface {
	Evaluate(ctx context.Context, userID int64, readings []domain.Reading) ([]domain.Alert, error)
}

// Server exposes the HTTP API.
type Server struct {
	httpServer *http.Server
	ready      ReadinessChecker
	refresher  Refresher
	evaluator  AlertEvaluator
	store      storage.Store
	logger     *slog.Logger
}

// NewServer wires all routes.
func NewServer(addr string, ready ReadinessChecker, refresher Refresher, evaluator AlertEvaluator, store storage.Store, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		ready:     ready,
		refresher: refresher,
		evaluator: evaluator,
		store:     store,
		logger:    logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /v1/commands", s.handleCommand)
	mux.HandleFunc("POST /v1/sensor-data", s.handleSensorData)
	mux.HandleFunc("POST /v1/alerts/{id}/ack", s.handleAcknowledge)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.ready.CheckReadiness(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type commandRequest struct {
	Command string `json:"command"`
	UserID  int64  `json:"user_id"`
}

// handleCommand dispatches operator commands. Unknown commands and busy
// states produce structured errors, never bare 500s.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "error",
			"error":  "invalid JSON body",
		})
		return
	}

	switch req.Command {
	case "refresh_data":
		if req.UserID <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"status": "error",
				"error":  "user_id is required for refresh_data",
			})
			return
		}
		s.dispatchRefresh(w, req.UserID)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "error",
			"error":  fmt.Sprintf("unknown command %q", req.Command),
		})
	}
}

func (s *Server) dispatchRefresh(w http.ResponseWriter, userID int64) {
	// The refresh runs in the background; the response only reports that it
	// was accepted or that a cycle already holds the collector.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	done := make(chan error, 1)
	go func() {
		defer cancel()
		done <- s.refresher.RefreshUser(ctx, userID)
	}()

	select {
	case err := <-done:
		if errors.Is(err, fusion.ErrCycleRunning) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"status": "busy",
				"error":  "collection cycle already running",
			})
			return
		}
		if err != nil {
			s.logger.Error("manual refresh failed", "user_id", userID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"status": "error",
				"error":  "refresh failed",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "completed",
			"user_id": userID,
		})
	case <-time.After(500 * time.Millisecond):
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":  "started",
			"user_id": userID,
		})
	}
}

type sensorDataRequest struct {
	UserID     int64   `json:"user_id"`
	Zone       string  `json:"zone"`
	SensorType string  `json:"sensor_type"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	DeviceID   string  `json:"device_id"`
}

// handleSensorData ingests a reading from an external device, persists it,
// and runs alert evaluation on it.
func (s *Server) handleSensorData(w http.ResponseWriter, r *http.Request) {
	var req sensorDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "error",
			"error":  "invalid JSON body",
		})
		return
	}
	if req.UserID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "error",
			"error":  "user_id is required",
		})
		return
	}

	reading, err := domain.NewReading(req.UserID, req.Zone, req.SensorType, req.Value, req.Unit, domain.SourceExternal, req.DeviceID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}
	if err := s.store.CreateReading(r.Context(), reading); err != nil {
		s.logger.Error("ingest persist failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status": "error",
			"error":  "failed to store reading",
		})
		return
	}

	alerts, err := s.evaluator.Evaluate(r.Context(), req.UserID, []domain.Reading{reading})
	if err != nil {
		s.logger.Error("ingest evaluation failed", "error", err)
		// The reading is stored; report partial success.
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "stored",
			"reading_id": reading.ID,
			"warning":    "alert evaluation failed",
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"status":     "stored",
		"reading_id": reading.ID,
		"alerts":     len(alerts),
	})
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.store.AcknowledgeAlert(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"status": "error",
			"error":  "alert not found",
		})
		return
	}
	if err != nil {
		s.logger.Error("acknowledge failed", "alert_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status": "error",
			"error":  "failed to acknowledge alert",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "acknowledged",
		"alert_id": id,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
