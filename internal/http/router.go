package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/city-weather-sync/internal/observability"
)

// NewRouter wires the catalog routes, /health and /metrics. limiter, when
// non-nil, applies to the catalog routes only.
func NewRouter(h *Handler, logger *zap.Logger, limiter *rate.Limiter) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler())

	catalog := router.NewRoute().Subrouter()
	catalog.Use(RateLimitMiddleware(limiter))
	catalog.HandleFunc("/", h.Menu).Methods(http.MethodGet)
	catalog.HandleFunc("/add_city/{name}/{latitude}/{longitude}", h.AddCity).Methods(http.MethodGet)
	catalog.HandleFunc("/remove_city/{name}", h.RemoveCity).Methods(http.MethodGet)
	catalog.HandleFunc("/city_names", h.CityNames).Methods(http.MethodGet)
	catalog.HandleFunc("/conditions/{name}", h.Conditions).Methods(http.MethodGet)
	return router
}
