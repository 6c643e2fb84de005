package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wxdecoder/wxdecoder/internal/config"
	"github.com/wxdecoder/wxdecoder/pkg/logger"
	"golang.org/x/time/rate"
)

// ErrNoReport is returned when the provider answered but has nothing for the station
var ErrNoReport = errors.New("no weather report for station")

const userAgent = "wxdecoder/1.0 (+https://github.com/wxdecoder/wxdecoder)"

// StatusError is a non-retryable HTTP status from an upstream
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

// Client talks to the AviationWeather data API for METAR/TAF and station info
type Client struct {
	baseURL    string
	maxRetries int
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logger.Logger
}

// NewClient creates a new weather API client
func NewClient(cfg config.WeatherConfig, log *logger.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.APIBaseURL, "/"),
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.UpstreamRPS), cfg.UpstreamBurst),
		logger:  log.Named("weather-client"),
	}
}

// FetchWeather fetches the METAR and TAF for one station
func (c *Client) FetchWeather(ctx context.Context, station string) (*Observation, error) {
	station = strings.ToUpper(strings.TrimSpace(station))
	if station == "" {
		return nil, ErrNoReport
	}

	body, err := c.fetchWithRetry(ctx, "metar", station, c.metarURL(station))
	if err != nil {
		return nil, err
	}

	obs := SplitReport(string(body), station)
	if obs == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoReport, station)
	}
	return obs, nil
}

// FetchWeatherBatch fetches observations for several stations in one request
func (c *Client) FetchWeatherBatch(ctx context.Context, stations []string) (map[string]*Observation, error) {
	if len(stations) == 0 {
		return map[string]*Observation{}, nil
	}
	ids := make([]string, len(stations))
	for i, s := range stations {
		ids[i] = strings.ToUpper(strings.TrimSpace(s))
	}

	joined := strings.Join(ids, ",")
	body, err := c.fetchWithRetry(ctx, "metar-batch", joined, c.metarURL(joined))
	if err != nil {
		return nil, err
	}
	return SplitBatch(string(body), ids), nil
}

// LookupCoordinates resolves a station the airport directory does not know
func (c *Client) LookupCoordinates(ctx context.Context, code string) (float64, float64, string, error) {
	u := fmt.Sprintf("%s/station?ids=%s&format=json", c.baseURL, url.QueryEscape(code))
	body, err := c.fetchWithRetry(ctx, "station", code, u)
	if err != nil {
		return 0, 0, "", err
	}

	var stations []stationResponse
	if len(body) == 0 {
		return 0, 0, "", fmt.Errorf("%w: %s", ErrNoReport, code)
	}
	if err := json.Unmarshal(body, &stations); err != nil {
		return 0, 0, "", fmt.Errorf("error decoding station info: %w", err)
	}
	if len(stations) == 0 {
		return 0, 0, "", fmt.Errorf("%w: %s", ErrNoReport, code)
	}

	site := stations[0].Site
	if site == "" {
		site = code
	}
	return stations[0].Lat, stations[0].Lon, site, nil
}

// Probe checks that the provider returns a report naming the station
func (c *Client) Probe(ctx context.Context, station string) error {
	body, err := c.fetchWithRetry(ctx, "probe", station, fmt.Sprintf("%s/metar?ids=%s", c.baseURL, url.QueryEscape(station)))
	if err != nil {
		return err
	}
	if !strings.Contains(string(body), station) {
		return fmt.Errorf("%w: probe response missing %s", ErrUpstreamUnavailable, station)
	}
	return nil
}

func (c *Client) metarURL(ids string) string {
	return fmt.Sprintf("%s/metar?ids=%s&format=raw&taf=true", c.baseURL, url.QueryEscape(ids))
}

// fetchWithRetry performs a GET with retry and exponential backoff. Transport
// errors and 5xx are retried; other statuses are returned immediately.
func (c *Client) fetchWithRetry(ctx context.Context, kind, id, target string) ([]byte, error) {
	return doWithRetry(ctx, c.httpClient, c.limiter, c.maxRetries, c.logger, kind, id, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", userAgent)
		return req, nil
	})
}

// doWithRetry is shared by the weather and NOTAM clients
func doWithRetry(
	ctx context.Context,
	httpClient *http.Client,
	limiter *rate.Limiter,
	maxRetries int,
	log *logger.Logger,
	kind, id string,
	newRequest func(context.Context) (*http.Request, error),
) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(500*(1<<uint(attempt-1))) * time.Millisecond
			log.Info("Retrying upstream fetch",
				logger.String("type", kind),
				logger.String("id", id),
				logger.Int("attempt", attempt),
				logger.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, ctx.Err())
			case <-time.After(backoff):
			}
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
			}
		}

		req, err := newRequest(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			lastErr = err
			log.Warn("Upstream request failed, may retry",
				logger.String("type", kind),
				logger.String("id", id),
				logger.Error(err),
				logger.Int("attempt", attempt+1),
				logger.Int("max_attempts", maxRetries+1))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 500 {
			lastErr = &StatusError{Code: resp.StatusCode}
			log.Warn("Upstream returned server error, may retry",
				logger.String("type", kind),
				logger.String("id", id),
				logger.Int("status_code", resp.StatusCode),
				logger.Int("attempt", attempt+1),
				logger.Int("max_attempts", maxRetries+1))
			continue
		}
		if resp.StatusCode == http.StatusNoContent {
			return nil, nil
		}
		if resp.StatusCode != http.StatusOK {
			return nil, &StatusError{Code: resp.StatusCode}
		}
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if attempt > 0 {
			log.Info("Fetched upstream data after retries",
				logger.String("type", kind),
				logger.String("id", id),
				logger.Int("attempts_needed", attempt+1))
		}
		return body, nil
	}

	log.Error("All upstream fetch attempts failed",
		logger.String("type", kind),
		logger.String("id", id),
		logger.Error(lastErr),
		logger.Int("max_attempts", maxRetries+1))
	return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, lastErr)
}
