// Package openweather fetches current conditions and short-range forecasts
// from the OpenWeatherMap API.
package openweather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/agrisense/crop-fusion-service/internal/domain"
)

const defaultBaseURL = "https://api.openweathermap.org/data/2.5"

// errInvalidKey aborts the retry loop; a bad key never heals on retry.
var errInvalidKey = fmt.Errorf("invalid API key")

// Client fetches weather data. Current never returns an error: exhausted
// retries or a rejected key produce a degraded record tagged QualityError.
type Client struct {
	apiKey       string
	httpClient   *http.Client
	baseURL      string
	retries      int
	retryBackoff time.Duration
	rateBackoff  time.Duration
	clock        clockwork.Clock
	logger       *slog.Logger
}

// Option adjusts client construction, mainly for tests.
type Option func(*Client)

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = u } }

// WithClock injects a fake clock so retry waits are instant in tests.
func WithClock(clk clockwork.Clock) Option { return func(c *Client) { c.clock = clk } }

// WithBackoffs overrides the base waits for errors and rate limiting.
func WithBackoffs(retry, rate time.Duration) Option {
	return func(c *Client) {
		c.retryBackoff = retry
		c.rateBackoff = rate
	}
}

// NewClient creates an OpenWeather client with the given per-attempt timeout
// and retry count.
func NewClient(apiKey string, timeout time.Duration, retries int, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      defaultBaseURL,
		retries:      retries,
		retryBackoff: 10 * time.Second,
		rateBackoff:  30 * time.Second,
		clock:        clockwork.NewRealClock(),
		logger:       logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current fetches current conditions at the coordinate, deriving estimated
// solar radiation and reference evapotranspiration on the way out.
func (c *Client) Current(ctx context.Context, lat, lon float64) domain.SourceRecord {
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		rec, err := c.currentOnce(ctx, lat, lon)
		if err == nil {
			return rec
		}
		if err == errInvalidKey {
			return domain.ErrorRecord(domain.SourceWeather, err)
		}
		lastErr = err
		c.logger.Warn("weather fetch failed",
			"attempt", attempt, "retries", c.retries, "error", err)

		if attempt < c.retries {
			wait := c.retryBackoff * time.Duration(attempt)
			if isRateLimited(err) {
				wait = c.rateBackoff * time.Duration(attempt)
			}
			if err := c.wait(ctx, wait); err != nil {
				return domain.ErrorRecord(domain.SourceWeather, err)
			}
		}
	}
	return domain.ErrorRecord(domain.SourceWeather, fmt.Errorf("all %d attempts failed: %w", c.retries, lastErr))
}

type rateLimitError struct{ status int }

func (e rateLimitError) Error() string { return fmt.Sprintf("rate limited: status %d", e.status) }

func isRateLimited(err error) bool {
	_, ok := err.(rateLimitError)
	return ok
}

func (c *Client) currentOnce(ctx context.Context, lat, lon float64) (domain.SourceRecord, error) {
	body, err := c.get(ctx, "/weather", lat, lon, nil)
	if err != nil {
		return domain.SourceRecord{}, err
	}

	var w weatherResponse
	if err := json.Unmarshal(body, &w); err != nil {
		return domain.SourceRecord{}, fmt.Errorf("decode response: %w", err)
	}
	if w.Main.Temp == nil || w.Main.Humidity == nil || w.Main.Pressure == nil {
		return domain.SourceRecord{}, fmt.Errorf("incomplete data: temp, humidity, and pressure are required")
	}

	rec := domain.SourceRecord{
		Source:      domain.SourceWeather,
		Quality:     domain.QualityHigh,
		FetchedAt:   domain.Now().UTC(),
		Temperature: w.Main.Temp,
		Humidity:    w.Main.Humidity,
		// OpenWeather reports hPa; readings use kPa.
		Pressure:   domain.Float(*w.Main.Pressure / 10),
		WindSpeed:  w.Wind.Speed,
		CloudCover: w.Clouds.All,
	}
	if len(w.Weather) > 0 {
		rec.Description = w.Weather[0].Description
	}

	solar := estimateSolarRadiation(w.Clouds.All)
	rec.SolarRadiation = domain.Float(solar)
	rec.ET0 = domain.Float(calculateET0(*w.Main.Temp, *w.Main.Humidity, w.Wind.Speed, solar))

	return rec, nil
}

// NextDay fetches the 3-hourly forecast and reduces it to rain expectation
// and the temperature envelope.
func (c *Client) NextDay(ctx context.Context, lat, lon float64) (domain.Forecast, error) {
	body, err := c.get(ctx, "/forecast", lat, lon, url.Values{"cnt": {"8"}})
	if err != nil {
		return domain.Forecast{}, err
	}

	var f forecastResponse
	if err := json.Unmarshal(body, &f); err != nil {
		return domain.Forecast{}, fmt.Errorf("decode forecast: %w", err)
	}
	if len(f.List) == 0 {
		return domain.Forecast{}, fmt.Errorf("no forecast entries")
	}

	out := domain.Forecast{MaxTemp: math.Inf(-1), MinTemp: math.Inf(1), Hours: len(f.List) * 3}
	for _, entry := range f.List {
		out.MaxTemp = math.Max(out.MaxTemp, entry.Main.Temp)
		out.MinTemp = math.Min(out.MinTemp, entry.Main.Temp)
		if entry.Rain.ThreeHours > 0 {
			out.RainExpected = true
		}
		for _, w := range entry.Weather {
			if strings.Contains(strings.ToLower(w.Description), "rain") {
				out.RainExpected = true
			}
		}
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, lat, lon float64, extra url.Values) ([]byte, error) {
	params := url.Values{
		"lat":   {fmt.Sprintf("%.4f", lat)},
		"lon":   {fmt.Sprintf("%.4f", lon)},
		"appid": {c.apiKey},
		"units": {"metric"},
	}
	for k, vs := range extra {
		params[k] = vs
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	case http.StatusUnauthorized:
		return nil, errInvalidKey
	case http.StatusTooManyRequests:
		return nil, rateLimitError{status: resp.StatusCode}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("weather API error: status %d: %s", resp.StatusCode, body)
	}
}

// estimateSolarRadiation derives irradiance from cloud cover against a
// 1000 W/m2 clear-sky baseline.
func estimateSolarRadiation(cloudCover *float64) float64 {
	const clearSky = 1000.0
	if cloudCover == nil {
		return clearSky
	}
	return clearSky * (1 - (*cloudCover/100)*0.7)
}

// calculateET0 approximates reference evapotranspiration (mm/day) with a
// simplified Penman-Monteith, clamped to [0.1, 10].
func calculateET0(temp, humidity float64, windSpeed *float64, solarRadiation float64) float64 {
	wind := 0.0
	if windSpeed != nil {
		wind = *windSpeed
	}
	et0 := (math.Max(0, temp) / 25) *
		((100 - humidity) / 100) *
		(1 + wind/10) *
		(solarRadiation / 1000) * 4
	return math.Max(0.1, math.Min(10, et0))
}

func (c *Client) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(d):
		return nil
	}
}

// OpenWeather API response shapes.

type weatherResponse struct {
	Main struct {
		Temp     *float64 `json:"temp"`
		Humidity *float64 `json:"humidity"`
		Pressure *float64 `json:"pressure"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed *float64 `json:"speed"`
	} `json:"wind"`
	Clouds struct {
		All *float64 `json:"all"`
	} `json:"clouds"`
}

type forecastResponse struct {
	List []struct {
		Main struct {
			Temp float64 `json:"temp"`
		} `json:"main"`
		Weather []struct {
			Description string `json:"description"`
		} `json:"weather"`
		Rain struct {
			ThreeHours float64 `json:"3h"`
		} `json:"rain"`
	} `json:"list"`
}
