package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/city-weather-sync/internal/client"
	"github.com/kjstillabower/city-weather-sync/internal/lifecycle"
	"github.com/kjstillabower/city-weather-sync/internal/models"
	"github.com/kjstillabower/city-weather-sync/internal/service"
	"github.com/kjstillabower/city-weather-sync/internal/store"
	"github.com/kjstillabower/city-weather-sync/internal/syncer"
	"github.com/kjstillabower/city-weather-sync/internal/traffic"
)

type mockWeatherClient struct {
	obs models.Observation
	err error
}

func (m *mockWeatherClient) GetCurrentWeather(ctx context.Context, latitude, longitude float64) (models.Observation, error) {
	if err := ctx.Err(); err != nil {
		return models.Observation{}, err
	}
	if m.err != nil {
		return models.Observation{}, m.err
	}
	return m.obs, nil
}

type stubSync struct {
	state syncer.State
	last  *syncer.PassResult
}

func (s *stubSync) State() syncer.State { return s.state }

func (s *stubSync) LastPass() (syncer.PassResult, bool) {
	if s.last == nil {
		return syncer.PassResult{}, false
	}
	return *s.last, true
}

// newTestRouter builds the full router over a temp SQLite store.
func newTestRouter(t *testing.T, wc client.WeatherClient) (http.Handler, *store.SQLStore) {
	t.Helper()
	st, err := store.Open(context.Background(), store.DriverSQLite, "file:"+filepath.Join(t.TempDir(), "http.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	catalog := service.NewCatalogService(st, wc, zap.NewNop())
	h := NewHandler(catalog, nil, nil, zap.NewNop())
	return NewRouter(h, zap.NewNop(), nil), st
}

func do(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestRoutes_RegisterListConditionsRemove(t *testing.T) {
	router, _ := newTestRouter(t, &mockWeatherClient{obs: models.Observation{Temperature: 4.2, Time: "2024-01-02T13:00"}})

	w := do(t, router, "/add_city/Andorra%20la%20Vella/42.5/1.52")
	if w.Code != http.StatusCreated || w.Body.String() != "Inserted city Andorra la Vella!" {
		t.Fatalf("add_city = %d %q", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}

	w = do(t, router, "/add_city/Andorra%20la%20Vella/42.5/1.52")
	if w.Code != http.StatusConflict || w.Body.String() != "City Andorra la Vella already exists" {
		t.Errorf("repeat add_city = %d %q", w.Code, w.Body.String())
	}

	w = do(t, router, "/city_names")
	if w.Code != http.StatusOK || w.Body.String() != "Andorra la Vella\n" {
		t.Errorf("city_names = %d %q", w.Code, w.Body.String())
	}

	w = do(t, router, "/conditions/Andorra%20la%20Vella")
	want := "Conditions for Andorra la Vella:\n\n2024-01-02 13:00\t4.2\n"
	if w.Code != http.StatusOK || w.Body.String() != want {
		t.Errorf("conditions = %d %q, want %q", w.Code, w.Body.String(), want)
	}

	w = do(t, router, "/remove_city/Andorra%20la%20Vella")
	if w.Code != http.StatusOK || w.Body.String() != "City Andorra la Vella removed!" {
		t.Errorf("remove_city = %d %q", w.Code, w.Body.String())
	}

	w = do(t, router, "/remove_city/Andorra%20la%20Vella")
	if w.Code != http.StatusNotFound || w.Body.String() != "No city Andorra la Vella found to remove!" {
		t.Errorf("second remove_city = %d %q", w.Code, w.Body.String())
	}

	w = do(t, router, "/conditions/Andorra%20la%20Vella")
	if w.Code != http.StatusNotFound || !strings.HasPrefix(w.Body.String(), "Couldn't find Andorra la Vella: ") {
		t.Errorf("conditions after remove = %d %q", w.Code, w.Body.String())
	}
}

func TestAddCity_ProviderFailure(t *testing.T) {
	wc := &mockWeatherClient{err: errors.New("weather provider error: upstream failure: HTTP 503")}
	router, st := newTestRouter(t, wc)

	w := do(t, router, "/add_city/Encamp/42.32/1.35")

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
	if !strings.HasPrefix(w.Body.String(), "Couldn't get weather info: ") {
		t.Errorf("body = %q", w.Body.String())
	}
	names, _ := st.ListCityNames(context.Background())
	if len(names) != 0 {
		t.Errorf("names = %v, want none after provider failure", names)
	}
}

func TestAddCity_BadInput(t *testing.T) {
	router, _ := newTestRouter(t, &mockWeatherClient{obs: models.Observation{Time: "t"}})

	tests := []struct {
		name string
		path string
	}{
		{"latitude not a number", "/add_city/Encamp/north/1.35"},
		{"longitude not a number", "/add_city/Encamp/42.32/east"},
		{"latitude NaN", "/add_city/Encamp/NaN/1.35"},
		{"name with invalid chars", "/add_city/En%23camp/42.32/1.35"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, router, tt.path); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %q)", w.Code, w.Body.String())
			}
		})
	}
}

// TestAddCity_IgnoresClientDisconnect verifies the catalog call runs with a
// context that is not canceled when the request's context is.
func TestAddCity_IgnoresClientDisconnect(t *testing.T) {
	router, st := newTestRouter(t, &mockWeatherClient{obs: models.Observation{Temperature: 1, Time: "2024-01-02T13:00"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/add_city/Soldeu/42.34/1.4", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d %q, want 201", w.Code, w.Body.String())
	}
	if _, err := st.FindCityWithConditions(context.Background(), "Soldeu"); err != nil {
		t.Errorf("city not stored: %v", err)
	}
}

func TestMenu(t *testing.T) {
	router, _ := newTestRouter(t, &mockWeatherClient{})
	w := do(t, router, "/")
	if w.Code != http.StatusOK || !strings.HasPrefix(w.Body.String(), "Routes:") {
		t.Errorf("menu = %d %q", w.Code, w.Body.String())
	}
}

func TestStatusFor(t *testing.T) {
	tests := map[service.Outcome]int{
		service.OutcomeOK:              http.StatusOK,
		service.OutcomeCreated:         http.StatusCreated,
		service.OutcomePartialSuccess:  http.StatusMultiStatus,
		service.OutcomeConflict:        http.StatusConflict,
		service.OutcomeNotFound:        http.StatusNotFound,
		service.OutcomeInvalid:         http.StatusBadRequest,
		service.OutcomeProviderFailure: http.StatusBadGateway,
		service.OutcomeStoreFailure:    http.StatusInternalServerError,
	}
	for outcome, want := range tests {
		if got := statusFor(outcome); got != want {
			t.Errorf("statusFor(%s) = %d, want %d", outcome, got, want)
		}
	}
}

func getHealth(t *testing.T, h *Handler) (int, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	h.GetHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	return w.Code, body
}

func TestGetHealth_Lifecycle(t *testing.T) {
	lifecycle.Reset()
	defer lifecycle.Reset()
	traffic.Reset()
	h := NewHandler(nil, nil, &HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 50}, zap.NewNop())

	code, body := getHealth(t, h)
	if code != http.StatusServiceUnavailable || body["status"] != "starting" {
		t.Errorf("before ready: %d %v", code, body["status"])
	}

	lifecycle.SetReady()
	code, body = getHealth(t, h)
	if code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("ready: %d %v", code, body["status"])
	}

	lifecycle.SetShuttingDown()
	code, body = getHealth(t, h)
	if code != http.StatusServiceUnavailable || body["status"] != "shutting-down" {
		t.Errorf("shutting down: %d %v", code, body["status"])
	}
}

func TestGetHealth_DegradedOnStorePing(t *testing.T) {
	lifecycle.Reset()
	lifecycle.SetReady()
	defer lifecycle.Reset()
	traffic.Reset()

	h := NewHandler(nil, nil, &HealthConfig{
		StorePing: func(ctx context.Context) error { return errors.New("sql: database is closed") },
	}, zap.NewNop())

	code, body := getHealth(t, h)
	if code != http.StatusServiceUnavailable || body["status"] != "degraded" || body["reason"] != "store_unreachable" {
		t.Errorf("health = %d %v", code, body)
	}
	checks, _ := body["checks"].(map[string]interface{})
	if checks["store"] != "unhealthy" {
		t.Errorf("checks = %v, want store unhealthy", checks)
	}
}

func TestGetHealth_DegradedOnProviderErrorRate(t *testing.T) {
	lifecycle.Reset()
	lifecycle.SetReady()
	defer lifecycle.Reset()
	traffic.Reset()
	defer traffic.Reset()

	h := NewHandler(nil, nil, &HealthConfig{
		DegradedWindow:   time.Minute,
		DegradedErrorPct: 50,
		StorePing:        func(ctx context.Context) error { return nil },
	}, zap.NewNop())

	traffic.RecordFetchSuccess()
	traffic.RecordFetchError()
	code, body := getHealth(t, h)
	if code != http.StatusServiceUnavailable || body["reason"] != "error_rate_breach" {
		t.Errorf("at 50%% errors: %d %v", code, body)
	}

	traffic.RecordFetchSuccess()
	traffic.RecordFetchSuccess()
	code, body = getHealth(t, h)
	if code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("at 25%% errors: %d %v", code, body)
	}
}

func TestGetHealth_IncludesSyncState(t *testing.T) {
	lifecycle.Reset()
	lifecycle.SetReady()
	defer lifecycle.Reset()

	sync := &stubSync{
		state: syncer.Syncing,
		last: &syncer.PassResult{
			Started:  time.Date(2024, 1, 2, 13, 0, 0, 0, time.UTC),
			Duration: 1500 * time.Millisecond,
			Cities:   6,
			Inserted: 5,
			Err:      nil,
		},
	}
	h := NewHandler(nil, sync, nil, zap.NewNop())

	_, body := getHealth(t, h)
	info, ok := body["sync"].(map[string]interface{})
	if !ok {
		t.Fatalf("sync section missing: %v", body)
	}
	if info["state"] != "syncing" {
		t.Errorf("sync.state = %v, want syncing", info["state"])
	}
	last, _ := info["last_pass"].(map[string]interface{})
	if last["cities"] != float64(6) || last["inserted"] != float64(5) || last["duration_ms"] != float64(1500) {
		t.Errorf("last_pass = %v", last)
	}
}

func TestGetHealth_ReportsTrafficWindow(t *testing.T) {
	lifecycle.Reset()
	lifecycle.SetReady()
	defer lifecycle.Reset()
	traffic.Reset()
	defer traffic.Reset()

	h := NewHandler(nil, nil, &HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 90}, zap.NewNop())
	router := NewRouter(h, zap.NewNop(), rate.NewLimiter(rate.Limit(0), 0))

	traffic.RecordFetchSuccess()
	traffic.RecordFetchError()
	if w := do(t, router, "/city_names"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("/city_names status = %d, want 429", w.Code)
	}

	_, body := getHealth(t, h)
	tr, ok := body["traffic"].(map[string]interface{})
	if !ok {
		t.Fatalf("traffic section missing: %v", body)
	}
	if tr["denied_requests_in_window"] != float64(1) {
		t.Errorf("denied_requests_in_window = %v, want 1", tr["denied_requests_in_window"])
	}
	if tr["fetches_in_window"] != float64(2) || tr["fetch_errors_in_window"] != float64(1) {
		t.Errorf("fetch counts = %v / %v, want 2 / 1", tr["fetches_in_window"], tr["fetch_errors_in_window"])
	}
	if tr["window_seconds"] != float64(60) {
		t.Errorf("window_seconds = %v, want 60", tr["window_seconds"])
	}
}
