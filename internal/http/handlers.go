package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather-sync/internal/lifecycle"
	"github.com/kjstillabower/city-weather-sync/internal/observability"
	"github.com/kjstillabower/city-weather-sync/internal/service"
	"github.com/kjstillabower/city-weather-sync/internal/syncer"
	"github.com/kjstillabower/city-weather-sync/internal/traffic"
	"github.com/kjstillabower/city-weather-sync/internal/validation"
)

// Catalog is the set of operations the routes expose.
type Catalog interface {
	Menu() service.Response
	RegisterCity(ctx context.Context, name string, latitude, longitude float64) service.Response
	RemoveCity(ctx context.Context, name string) service.Response
	ListCityNames(ctx context.Context) service.Response
	ConditionsForCity(ctx context.Context, name string) service.Response
}

// SyncStatus exposes the synchronizer state for /health.
type SyncStatus interface {
	State() syncer.State
	LastPass() (syncer.PassResult, bool)
}

// HealthConfig holds thresholds and probes for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// StorePing, when set, is called to check store reachability.
	StorePing func(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	catalog      Catalog
	syncStatus   SyncStatus
	healthConfig *HealthConfig
	logger       *zap.Logger

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. syncStatus and healthConfig may be nil.
func NewHandler(catalog Catalog, syncStatus SyncStatus, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		catalog:      catalog,
		syncStatus:   syncStatus,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// statusFor maps a catalog outcome to an HTTP status code.
func statusFor(o service.Outcome) int {
	switch o {
	case service.OutcomeOK:
		return http.StatusOK
	case service.OutcomeCreated:
		return http.StatusCreated
	case service.OutcomePartialSuccess:
		return http.StatusMultiStatus
	case service.OutcomeConflict:
		return http.StatusConflict
	case service.OutcomeNotFound:
		return http.StatusNotFound
	case service.OutcomeInvalid:
		return http.StatusBadRequest
	case service.OutcomeProviderFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeResponse(w http.ResponseWriter, resp service.Response) {
	writeText(w, statusFor(resp.Outcome), resp.Text)
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(text))
}

// detached keeps request-scoped values but ignores client disconnects, so a
// registration or removal is never abandoned halfway.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// Menu handles GET /.
func (h *Handler) Menu(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, h.catalog.Menu())
}

// AddCity handles GET /add_city/{name}/{latitude}/{longitude}.
func (h *Handler) AddCity(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	lat, err := validation.ParseCoordinate(vars["latitude"])
	if err != nil {
		writeText(w, http.StatusBadRequest, fmt.Sprintf("Invalid latitude %q: %v", vars["latitude"], err))
		return
	}
	lon, err := validation.ParseCoordinate(vars["longitude"])
	if err != nil {
		writeText(w, http.StatusBadRequest, fmt.Sprintf("Invalid longitude %q: %v", vars["longitude"], err))
		return
	}
	writeResponse(w, h.catalog.RegisterCity(detached(r), vars["name"], lat, lon))
}

// RemoveCity handles GET /remove_city/{name}.
func (h *Handler) RemoveCity(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, h.catalog.RemoveCity(detached(r), mux.Vars(r)["name"]))
}

// CityNames handles GET /city_names.
func (h *Handler) CityNames(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, h.catalog.ListCityNames(detached(r)))
}

// Conditions handles GET /conditions/{name}.
func (h *Handler) Conditions(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, h.catalog.ConditionsForCity(detached(r), mux.Vars(r)["name"]))
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
	checks     map[string]string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	resp := map[string]interface{}{
		"status":    result.status,
		"service":   observability.ServiceName,
		"checks":    result.checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if result.reason != "" {
		resp["reason"] = result.reason
	}
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 {
		window := h.healthConfig.DegradedWindow
		fetchErrors, fetches := traffic.FetchErrorRate(window)
		resp["traffic"] = map[string]interface{}{
			"window_seconds":            window.Seconds(),
			"fetches_in_window":         fetches,
			"fetch_errors_in_window":    fetchErrors,
			"denied_requests_in_window": traffic.DenialCount(window),
		}
	}
	if h.syncStatus != nil {
		syncInfo := map[string]interface{}{"state": h.syncStatus.State().String()}
		if last, ok := h.syncStatus.LastPass(); ok {
			pass := map[string]interface{}{
				"started":        last.Started.UTC().Format(time.RFC3339),
				"duration_ms":    last.Duration.Milliseconds(),
				"cities":         last.Cities,
				"inserted":       last.Inserted,
				"duplicates":     last.Duplicates,
				"fetch_failures": last.FetchFailures,
				"store_failures": last.StoreFailures,
			}
			if last.Err != nil {
				pass["error"] = last.Err.Error()
			}
			syncInfo["last_pass"] = pass
		}
		resp["sync"] = syncInfo
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > starting > store unreachable > provider error rate > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	checks := map[string]string{}

	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal", checks}
	}
	if lifecycle.Current() == lifecycle.Starting {
		return healthResult{"starting", http.StatusServiceUnavailable, "seeding", checks}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, "", checks}
	}

	if h.healthConfig.StorePing != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := h.healthConfig.StorePing(pingCtx)
		cancel()
		if err != nil {
			checks["store"] = "unhealthy"
			h.logger.Warn("store ping failed", zap.Error(err))
			return healthResult{"degraded", http.StatusServiceUnavailable, "store_unreachable", checks}
		}
		checks["store"] = "healthy"
	}

	checks["weatherApi"] = "healthy"
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errs, total := traffic.FetchErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 && float64(errs)*100/float64(total) >= float64(h.healthConfig.DegradedErrorPct) {
			checks["weatherApi"] = "unhealthy"
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach", checks}
		}
	}
	return healthResult{"healthy", http.StatusOK, "", checks}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
