// Package nasapower fetches agricultural climatology from the NASA POWER
// daily point API.
package nasapower

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

const (
	defaultBaseURL = "https://power.larc.nasa.gov/api/temporal/daily/point"

	// fillValue marks missing data in POWER responses.
	fillValue = -999.0
)

// requested POWER parameters, AG community.
var parameters = []string{
	"T2M",               // temperature at 2m, degrees C
	"RH2M",              // relative humidity at 2m, percent
	"PRECTOTCORR",       // precipitation, mm/day
	"ALLSKY_SFC_SW_DWN", // all-sky surface shortwave irradiance, W/m2
	"WS2M",              // wind speed at 2m, m/s
	"GWETTOP",           // surface soil wetness, fraction 0-1
}

// Client fetches satellite-derived agricultural data. Fetch never returns an
// error: exhausted retries produce a degraded record tagged QualityError.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	retries      int
	retryBackoff time.Duration
	clock        clockwork.Clock
	logger       *slog.Logger
}

// Option adjusts client construction, mainly for tests.
type Option func(*Client)

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = u } }

// WithClock injects a fake clock so retry waits are instant in tests.
func WithClock(clk clockwork.Clock) Option { return func(c *Client) { c.clock = clk } }

// WithRetryBackoff overrides the base wait between attempts.
func WithRetryBackoff(d time.Duration) Option { return func(c *Client) { c.retryBackoff = d } }

// NewClient creates a NASA POWER client with the given per-attempt timeout
// and retry count.
func NewClient(timeout time.Duration, retries int, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      defaultBaseURL,
		retries:      retries,
		retryBackoff: 10 * time.Second,
		clock:        clockwork.NewRealClock(),
		logger:       logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch retrieves daily climatology for the coordinate over [start, end] and
// condenses it to the most recent date holding any valid value.
func (c *Client) Fetch(ctx context.Context, lat, lon float64, start, end time.Time) domain.SourceRecord {
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		rec, err := c.fetchOnce(ctx, lat, lon, start, end)
		if err == nil {
			return rec
		}
		lastErr = err
		c.logger.Warn("satellite fetch failed",
			"attempt", attempt, "retries", c.retries, "error", err)

		if attempt < c.retries {
			if err := c.wait(ctx, c.retryBackoff*time.Duration(attempt)); err != nil {
				return domain.ErrorRecord(domain.SourceSatellite, err)
			}
		}
	}
	return domain.ErrorRecord(domain.SourceSatellite, fmt.Errorf("all %d attempts failed: %w", c.retries, lastErr))
}

func (c *Client) fetchOnce(ctx context.Context, lat, lon float64, start, end time.Time) (domain.SourceRecord, error) {
	params := url.Values{
		"parameters": {strings.Join(parameters, ",")},
		"community":  {"AG"},
		"latitude":   {fmt.Sprintf("%.4f", lat)},
		"longitude":  {fmt.Sprintf("%.4f", lon)},
		"start":      {start.Format("20060102")},
		"end":        {end.Format("20060102")},
		"format":     {"JSON"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return domain.SourceRecord{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.SourceRecord{}, fmt.Errorf("satellite request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.SourceRecord{}, fmt.Errorf("satellite API error: status %d: %s", resp.StatusCode, body)
	}

	var powerResp response
	if err := json.NewDecoder(resp.Body).Decode(&powerResp); err != nil {
		return domain.SourceRecord{}, fmt.Errorf("decode response: %w", err)
	}

	return condense(powerResp)
}

// condense reduces the per-date parameter grids to a single record for the
// most recent date carrying any valid value.
func condense(resp response) (domain.SourceRecord, error) {
	grids := resp.Properties.Parameter
	if len(grids) == 0 {
		return domain.SourceRecord{}, fmt.Errorf("no parameters in response")
	}

	latest := ""
	for _, grid := range grids {
		for date, v := range grid {
			if validValue(v) && date > latest {
				latest = date
			}
		}
	}
	if latest == "" {
		return domain.SourceRecord{}, fmt.Errorf("no valid data points in response")
	}

	rec := domain.SourceRecord{
		Source:    domain.SourceSatellite,
		Quality:   domain.QualityHigh,
		FetchedAt: domain.Now().UTC(),

		Temperature:    pick(grids, "T2M", latest),
		Humidity:       pick(grids, "RH2M", latest),
		Precipitation:  pick(grids, "PRECTOTCORR", latest),
		SolarRadiation: pick(grids, "ALLSKY_SFC_SW_DWN", latest),
		WindSpeed:      pick(grids, "WS2M", latest),
	}

	// GWETTOP is a 0-1 wetness fraction; readings use percent.
	if wet := pick(grids, "GWETTOP", latest); wet != nil {
		rec.SoilMoisture = domain.Float(*wet * 100)
	}

	if rec.Temperature == nil && rec.Humidity == nil && rec.SoilMoisture == nil {
		return domain.SourceRecord{}, fmt.Errorf("no core measurements on %s", latest)
	}
	return rec, nil
}

func pick(grids map[string]map[string]float64, param, date string) *float64 {
	v, ok := grids[param][date]
	if !ok || !validValue(v) {
		return nil
	}
	return domain.Float(v)
}

// validValue rejects the POWER fill marker and physically absurd magnitudes.
func validValue(v float64) bool {
	return v != fillValue && math.Abs(v) <= 10000
}

func (c *Client) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(d):
		return nil
	}
}

// POWER API response shape.

type response struct {
	Properties struct {
		Parameter map[string]map[string]float64 `json:"parameter"`
	} `json:"properties"`
}
