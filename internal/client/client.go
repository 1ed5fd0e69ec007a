package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/city-weather-sync/internal/models"
	"github.com/kjstillabower/city-weather-sync/internal/observability"
	"github.com/kjstillabower/city-weather-sync/internal/traffic"
)

// WeatherClient fetches the current observation for a coordinate pair.
type WeatherClient interface {
	GetCurrentWeather(ctx context.Context, latitude, longitude float64) (models.Observation, error)
}

var (
	// ErrProvider wraps every failure returned by GetCurrentWeather.
	ErrProvider = errors.New("weather provider error")

	ErrMalformedResponse = errors.New("malformed response")
	ErrUpstreamFailure   = errors.New("upstream failure")
	ErrRejected          = errors.New("request rejected")
	ErrRateLimited       = errors.New("rate limited")
	ErrCircuitOpen       = errors.New("circuit breaker open")
)

// maxBodyBytes caps how much of a provider response is read.
const maxBodyBytes = 1 << 20

// OpenMeteoClient calls the Open-Meteo forecast endpoint with current_weather=true.
// It performs exactly one request per call; retry policy belongs to the caller.
type OpenMeteoClient struct {
	apiURL   string
	timezone string
	timeout  time.Duration
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
}

// NewOpenMeteoClient returns a client for apiURL. timezone is passed to the
// provider as-is (empty omits it). A zero timeout leaves calls unbounded.
func NewOpenMeteoClient(apiURL, timezone string, timeout time.Duration) (*OpenMeteoClient, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API URL %q: scheme and host required", apiURL)
	}
	return &OpenMeteoClient{
		apiURL:   apiURL,
		timezone: timezone,
		timeout:  timeout,
		client:   &http.Client{},
	}, nil
}

// SetCircuitBreaker installs cb around every call. Nil disables it.
func (c *OpenMeteoClient) SetCircuitBreaker(cb *gobreaker.CircuitBreaker) {
	c.breaker = cb
}

// GetCurrentWeather returns the provider's current observation for the coordinates.
// Any failure is wrapped in ErrProvider together with its cause.
func (c *OpenMeteoClient) GetCurrentWeather(ctx context.Context, latitude, longitude float64) (models.Observation, error) {
	obs, err := c.guardedFetch(ctx, latitude, longitude)
	if err != nil {
		traffic.RecordFetchError()
		return models.Observation{}, err
	}
	traffic.RecordFetchSuccess()
	return obs, nil
}

func (c *OpenMeteoClient) guardedFetch(ctx context.Context, latitude, longitude float64) (models.Observation, error) {
	if c.breaker == nil {
		return c.fetch(ctx, latitude, longitude)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, latitude, longitude)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			observability.WeatherAPIErrorsTotal.WithLabelValues(string(ErrorCategoryCircuitOpen)).Inc()
			return models.Observation{}, fmt.Errorf("%w: %w: %v", ErrProvider, ErrCircuitOpen, err)
		}
		return models.Observation{}, err
	}
	return result.(models.Observation), nil
}

func (c *OpenMeteoClient) fetch(ctx context.Context, latitude, longitude float64) (models.Observation, error) {
	obs, err := c.callAPI(ctx, latitude, longitude)
	if err != nil {
		observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
		return models.Observation{}, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	return obs, nil
}

func (c *OpenMeteoClient) callAPI(ctx context.Context, latitude, longitude float64) (models.Observation, error) {
	start := time.Now()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := c.buildRequest(ctx, latitude, longitude)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return models.Observation{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.Observation{}, fmt.Errorf("request timeout: %w", err)
		}
		return models.Observation{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.Observation{}, fmt.Errorf("read response body: %w", err)
	}

	if err := handleErrorResponse(resp.StatusCode, body); err != nil {
		return models.Observation{}, err
	}

	return decodeObservation(body)
}

func (c *OpenMeteoClient) buildRequest(ctx context.Context, latitude, longitude float64) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := baseURL.Query()
	params.Set("latitude", strconv.FormatFloat(latitude, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(longitude, 'f', -1, 64))
	params.Set("current_weather", "true")
	if c.timezone != "" {
		params.Set("timezone", c.timezone)
	}
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationIDFrom(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

// openMeteoResponse mirrors the fields this service consumes. Pointers let
// decodeObservation tell a missing field from a zero value.
type openMeteoResponse struct {
	CurrentWeather *struct {
		Temperature *float64 `json:"temperature"`
		Time        *string  `json:"time"`
	} `json:"current_weather"`
}

// openMeteoError is the body Open-Meteo returns with 4xx responses.
type openMeteoError struct {
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

// decodeObservation parses a provider body. Missing or mistyped required
// fields are reported as ErrMalformedResponse, never defaulted. An empty time
// string decodes fine and is passed through.
func decodeObservation(body []byte) (models.Observation, error) {
	var resp openMeteoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.Observation{}, fmt.Errorf("%w: parse response: %v", ErrMalformedResponse, err)
	}
	if resp.CurrentWeather == nil {
		return models.Observation{}, fmt.Errorf("%w: missing current_weather", ErrMalformedResponse)
	}
	if resp.CurrentWeather.Temperature == nil {
		return models.Observation{}, fmt.Errorf("%w: missing current_weather.temperature", ErrMalformedResponse)
	}
	if resp.CurrentWeather.Time == nil {
		return models.Observation{}, fmt.Errorf("%w: missing current_weather.time", ErrMalformedResponse)
	}
	return models.Observation{
		Temperature: *resp.CurrentWeather.Temperature,
		Time:        *resp.CurrentWeather.Time,
	}, nil
}

func handleErrorResponse(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, statusCode)
	}

	var apiErr openMeteoError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Reason != "" {
		return fmt.Errorf("%w: HTTP %d: %s", ErrRejected, statusCode, apiErr.Reason)
	}
	return fmt.Errorf("%w: HTTP %d", ErrRejected, statusCode)
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
