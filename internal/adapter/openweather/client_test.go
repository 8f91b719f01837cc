package openweather

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrisense/crop-fusion-service/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-key", 5*time.Second, 3, testLogger(),
		WithBaseURL(srv.URL),
		WithBackoffs(time.Millisecond, time.Millisecond))
}

const weatherBody = `{
  "main": {"temp": 24.5, "humidity": 68, "pressure": 1013},
  "weather": [{"description": "scattered clouds"}],
  "wind": {"speed": 4.2},
  "clouds": {"all": 40}
}`

func TestCurrentMapsFields(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("appid"))
		assert.Equal(t, "metric", r.URL.Query().Get("units"))
		w.Write([]byte(weatherBody))
	})

	rec := c.Current(context.Background(), -29.8587, 31.0218)
	require.True(t, rec.Usable())
	assert.Equal(t, domain.SourceWeather, rec.Source)
	assert.Equal(t, domain.QualityHigh, rec.Quality)
	assert.InDelta(t, 24.5, *rec.Temperature, 0.001)
	assert.InDelta(t, 68, *rec.Humidity, 0.001)
	// hPa converted to kPa.
	assert.InDelta(t, 101.3, *rec.Pressure, 0.001)
	assert.InDelta(t, 4.2, *rec.WindSpeed, 0.001)
	assert.InDelta(t, 40, *rec.CloudCover, 0.001)
	assert.Equal(t, "scattered clouds", rec.Description)
	// 1000 * (1 - 0.4*0.7) = 720.
	assert.InDelta(t, 720, *rec.SolarRadiation, 0.001)
	require.NotNil(t, rec.ET0)
	assert.GreaterOrEqual(t, *rec.ET0, 0.1)
	assert.LessOrEqual(t, *rec.ET0, 10.0)
}

func TestCurrentInvalidKeyNoRetry(t *testing.T) {
	attempts := 0
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
	})

	rec := c.Current(context.Background(), 0, 0)
	assert.False(t, rec.Usable())
	assert.Contains(t, rec.Err, "invalid API key")
	assert.Equal(t, 1, attempts)
}

func TestCurrentRateLimitRetries(t *testing.T) {
	attempts := 0
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(weatherBody))
	})

	rec := c.Current(context.Background(), 0, 0)
	assert.True(t, rec.Usable())
	assert.Equal(t, 2, attempts)
}

func TestCurrentIncompleteDataDegrades(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"main": {"temp": 24.5}}`))
	})

	rec := c.Current(context.Background(), 0, 0)
	assert.False(t, rec.Usable())
	assert.Contains(t, rec.Err, "incomplete data")
}

func TestCurrentExhaustedRetriesDegrades(t *testing.T) {
	attempts := 0
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	rec := c.Current(context.Background(), 0, 0)
	assert.False(t, rec.Usable())
	assert.Equal(t, domain.QualityError, rec.Quality)
	assert.Equal(t, 3, attempts)
}

func TestNextDayForecast(t *testing.T) {
	body := `{"list": [
	  {"main": {"temp": 18.0}, "weather": [{"description": "clear sky"}], "rain": {}},
	  {"main": {"temp": 26.5}, "weather": [{"description": "light rain"}], "rain": {"3h": 0.4}},
	  {"main": {"temp": 15.2}, "weather": [{"description": "clear sky"}], "rain": {}}
	]}`
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "8", r.URL.Query().Get("cnt"))
		w.Write([]byte(body))
	})

	fc, err := c.NextDay(context.Background(), 0, 0)
	require.NoError(t, err)

	want := domain.Forecast{RainExpected: true, MaxTemp: 26.5, MinTemp: 15.2, Hours: 9}
	if diff := cmp.Diff(want, fc); diff != "" {
		t.Errorf("forecast mismatch (-want +got):\n%s", diff)
	}
}

func TestEstimateSolarRadiation(t *testing.T) {
	assert.InDelta(t, 1000, estimateSolarRadiation(nil), 0.001)
	assert.InDelta(t, 1000, estimateSolarRadiation(domain.Float(0)), 0.001)
	assert.InDelta(t, 300, estimateSolarRadiation(domain.Float(100)), 0.001)
}

func TestCalculateET0Clamped(t *testing.T) {
	// Cold saturated still air bottoms out at the floor.
	assert.InDelta(t, 0.1, calculateET0(-5, 100, nil, 0), 0.001)
	// Hot dry windy conditions cap at the ceiling.
	assert.InDelta(t, 10, calculateET0(60, 0, domain.Float(40), 1000), 0.001)
}
