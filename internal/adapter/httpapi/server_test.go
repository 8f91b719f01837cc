package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrisense/crop-fusion-service/internal/domain"
	"github.com/agrisense/crop-fusion-service/internal/fusion"
	"github.com/agrisense/crop-fusion-service/internal/storage"
)

type fakeReady struct{ err error }

func (f fakeReady) CheckReadiness(context.Context) error { return f.err }

type fakeRefresher struct {
	err    error
	gotID  int64
	called bool
}

func (f *fakeRefresher) RefreshUser(_ context.Context, userID int64) error {
	f.called = true
	f.gotID = userID
	return f.err
}

type fakeEvaluator struct {
	alerts []domain.Alert
	err    error
}

func (f fakeEvaluator) Evaluate(context.Context, int64, []domain.Reading) ([]domain.Alert, error) {
	return f.alerts, f.err
}

func newTestServer(t *testing.T, ready ReadinessChecker, refresher Refresher, evaluator AlertEvaluator, store storage.Store) *Server {
	t.Helper()
	if store == nil {
		store = storage.NewMemory(nil)
	}
	return NewServer(":0", ready, refresher, evaluator,
		store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, fakeReady{}, &fakeRefresher{}, fakeEvaluator{}, nil)
	rec := doRequest(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestReadyzNotReady(t *testing.T) {
	s := newTestServer(t, fakeReady{err: errors.New("no cycle yet")}, &fakeRefresher{}, fakeEvaluator{}, nil)
	rec := doRequest(s, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "no cycle yet")
}

func TestReadyzReady(t *testing.T) {
	s := newTestServer(t, fakeReady{}, &fakeRefresher{}, fakeEvaluator{}, nil)
	rec := doRequest(s, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCommandRefreshCompleted(t *testing.T) {
	refresher := &fakeRefresher{}
	s := newTestServer(t, fakeReady{}, refresher, fakeEvaluator{}, nil)

	rec := doRequest(s, http.MethodPost, "/v1/commands", `{"command":"refresh_data","user_id":7}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "completed")
	assert.True(t, refresher.called)
	assert.Equal(t, int64(7), refresher.gotID)
}

func TestCommandRefreshBusy(t *testing.T) {
	refresher := &fakeRefresher{err: fusion.ErrCycleRunning}
	s := newTestServer(t, fakeReady{}, refresher, fakeEvaluator{}, nil)

	rec := doRequest(s, http.MethodPost, "/v1/commands", `{"command":"refresh_data","user_id":7}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "busy")
}

func TestCommandRefreshMissingUser(t *testing.T) {
	s := newTestServer(t, fakeReady{}, &fakeRefresher{}, fakeEvaluator{}, nil)
	rec := doRequest(s, http.MethodPost, "/v1/commands", `{"command":"refresh_data"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "user_id is required")
}

func TestCommandUnknown(t *testing.T) {
	s := newTestServer(t, fakeReady{}, &fakeRefresher{}, fakeEvaluator{}, nil)
	rec := doRequest(s, http.MethodPost, "/v1/commands", `{"command":"reboot_farm"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown command")
	assert.Contains(t, rec.Body.String(), "reboot_farm")
}

func TestCommandInvalidJSON(t *testing.T) {
	s := newTestServer(t, fakeReady{}, &fakeRefresher{}, fakeEvaluator{}, nil)
	rec := doRequest(s, http.MethodPost, "/v1/commands", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid JSON")
}

func TestSensorDataIngest(t *testing.T) {
	store := storage.NewMemory(nil)
	s := newTestServer(t, fakeReady{}, &fakeRefresher{}, fakeEvaluator{}, store)

	rec := doRequest(s, http.MethodPost, "/v1/sensor-data",
		`{"user_id":3,"zone":"zone1","sensor_type":"soil_moisture","value":44.5,"unit":"%","device_id":"probe-7"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	stored, err := store.RecentReadings(context.Background(), 3, "zone1", domain.SensorSoilMoisture, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 44.5, stored[0].Value)
	assert.Equal(t, domain.SourceExternal, stored[0].Source)
	assert.Equal(t, "probe-7", stored[0].DeviceID)
}

func TestSensorDataRejectsOutOfRange(t *testing.T) {
	s := newTestServer(t, fakeReady{}, &fakeRefresher{}, fakeEvaluator{}, nil)
	rec := doRequest(s, http.MethodPost, "/v1/sensor-data",
		`{"user_id":3,"zone":"zone1","sensor_type":"soil_moisture","value":140}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "outside")
}

func TestSensorDataEvaluationFailureStillStores(t *testing.T) {
	store := storage.NewMemory(nil)
	s := newTestServer(t, fakeReady{}, &fakeRefresher{}, fakeEvaluator{err: errors.New("engine down")}, store)

	rec := doRequest(s, http.MethodPost, "/v1/sensor-data",
		`{"user_id":3,"zone":"zone1","sensor_type":"temperature","value":22}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alert evaluation failed")

	stored, err := store.RecentReadings(context.Background(), 3, "zone1", domain.SensorTemperature, 10)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestAcknowledgeAlert(t *testing.T) {
	store := storage.NewMemory(nil)
	a := domain.NewAlert(1, "x", domain.SeverityWarning, 1, 2, "", "zone1", domain.SensorTemperature, "")
	require.NoError(t, store.CreateAlert(context.Background(), a))

	s := newTestServer(t, fakeReady{}, &fakeRefresher{}, fakeEvaluator{}, store)
	rec := doRequest(s, http.MethodPost, "/v1/alerts/"+a.ID+"/ack", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodPost, "/v1/alerts/nope/ack", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
