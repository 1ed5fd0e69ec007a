package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/city-weather-sync/internal/observability"
	"github.com/kjstillabower/city-weather-sync/internal/traffic"
)

func TestMiddleware_CorrelationIDGenerated(t *testing.T) {
	router, _ := newTestRouter(t, &mockWeatherClient{})

	w := do(t, router, "/city_names")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get(CorrelationIDHeader) == "" {
		t.Error("X-Correlation-ID header missing")
	}
}

func TestMiddleware_CorrelationIDPropagated(t *testing.T) {
	logger := zap.NewNop()
	var seen string
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.HandleFunc("/probe", func(w http.ResponseWriter, r *http.Request) {
		seen = observability.CorrelationIDFrom(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set(CorrelationIDHeader, "client-provided-id")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get(CorrelationIDHeader); got != "client-provided-id" {
		t.Errorf("X-Correlation-ID = %q, want client-provided-id", got)
	}
	if seen != "client-provided-id" {
		t.Errorf("context correlation ID = %q, want client-provided-id", seen)
	}
}

func TestGetRoute_UsesTemplate(t *testing.T) {
	var route string
	router := mux.NewRouter()
	router.HandleFunc("/conditions/{name}", func(w http.ResponseWriter, r *http.Request) {
		route = getRoute(r)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/conditions/Encamp", nil))

	if route != "/conditions/{name}" {
		t.Errorf("getRoute = %q, want /conditions/{name}", route)
	}
}

func TestGetRoute_Unmatched(t *testing.T) {
	if got := getRoute(httptest.NewRequest(http.MethodGet, "/nowhere", nil)); got != "unmatched" {
		t.Errorf("getRoute = %q, want unmatched", got)
	}
}

func TestStatusCodeString(t *testing.T) {
	tests := map[int]string{200: "2xx", 201: "2xx", 207: "2xx", 404: "4xx", 429: "4xx", 502: "5xx"}
	for code, want := range tests {
		if got := statusCodeString(code); got != want {
			t.Errorf("statusCodeString(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestRateLimitMiddleware_Denies(t *testing.T) {
	traffic.Reset()
	defer traffic.Reset()

	limiter := rate.NewLimiter(rate.Limit(1), 1)
	router := mux.NewRouter()
	router.Use(RateLimitMiddleware(limiter))
	router.HandleFunc("/city_names", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	first := do(t, router, "/city_names")
	second := do(t, router, "/city_names")

	if first.Code != http.StatusOK {
		t.Errorf("first status = %d, want 200", first.Code)
	}
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", second.Code)
	}
	if second.Body.String() != "Too many requests" {
		t.Errorf("second body = %q", second.Body.String())
	}
	if n := traffic.DenialCount(traffic.DefaultRetention); n != 1 {
		t.Errorf("DenialCount = %d, want 1", n)
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	router := mux.NewRouter()
	router.Use(RateLimitMiddleware(nil))
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 20; i++ {
		if w := do(t, router, "/"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}
}

func TestNewRouter_RateLimitSparesHealth(t *testing.T) {
	traffic.Reset()
	defer traffic.Reset()

	h := NewHandler(nil, nil, nil, zap.NewNop())
	router := NewRouter(h, zap.NewNop(), rate.NewLimiter(rate.Limit(0), 0))

	for i := 0; i < 3; i++ {
		if w := do(t, router, "/health"); w.Code == http.StatusTooManyRequests {
			t.Fatalf("/health was rate limited")
		}
	}
	if w := do(t, router, "/city_names"); w.Code != http.StatusTooManyRequests {
		t.Errorf("/city_names status = %d, want 429", w.Code)
	}
}
