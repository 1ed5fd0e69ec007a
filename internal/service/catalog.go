// Package service implements the catalog operations behind the HTTP routes:
// register, remove, list and describe cities, plus startup seeding.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather-sync/internal/client"
	"github.com/kjstillabower/city-weather-sync/internal/models"
	"github.com/kjstillabower/city-weather-sync/internal/observability"
	"github.com/kjstillabower/city-weather-sync/internal/store"
	"github.com/kjstillabower/city-weather-sync/internal/validation"
)

// Outcome classifies a catalog response so the transport can pick a status code.
type Outcome string

const (
	OutcomeOK              Outcome = "ok"
	OutcomeCreated         Outcome = "created"
	OutcomePartialSuccess  Outcome = "partial_success"
	OutcomeConflict        Outcome = "conflict"
	OutcomeNotFound        Outcome = "not_found"
	OutcomeInvalid         Outcome = "invalid"
	OutcomeProviderFailure Outcome = "provider_failure"
	OutcomeStoreFailure    Outcome = "store_failure"
)

// Response is what every catalog operation returns: a classification and the
// human-readable text served to the caller.
type Response struct {
	Outcome Outcome
	Text    string
}

// Menu lists the public routes.
const Menu = `Routes:
            /conditions/<name>
            /add_city/<name>/<latitude>/<longitude>
            /remove_city/<name>
            /city_names`

// CatalogService mediates between callers and the store. It holds no state of
// its own; concurrent calls are coordinated by the store's constraints.
type CatalogService struct {
	store  store.Store
	client client.WeatherClient
	logger *zap.Logger
}

// NewCatalogService returns a CatalogService over st and wc.
func NewCatalogService(st store.Store, wc client.WeatherClient, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{store: st, client: wc, logger: logger}
}

// Menu returns the route list.
func (s *CatalogService) Menu() Response {
	return Response{Outcome: OutcomeOK, Text: Menu}
}

// RegisterCity verifies the provider can serve the coordinates, then stores
// the city and its first observation. A provider failure leaves the store
// untouched.
func (s *CatalogService) RegisterCity(ctx context.Context, name string, latitude, longitude float64) Response {
	logger := observability.LoggerFrom(ctx, s.logger).With(zap.String("city", name))

	if err := validation.ValidateCityName(name); err != nil {
		return s.record("register", Response{OutcomeInvalid, fmt.Sprintf("Invalid city name %q: %v", name, err)})
	}

	obs, err := s.client.GetCurrentWeather(ctx, latitude, longitude)
	if err != nil {
		logger.Warn("couldn't get weather info", zap.Error(err))
		return s.record("register", Response{OutcomeProviderFailure, fmt.Sprintf("Couldn't get weather info: %v", err)})
	}

	if err := s.store.InsertCity(ctx, name, latitude, longitude); err != nil {
		if errors.Is(err, store.ErrConstraintViolation) {
			logger.Info("city already exists")
			return s.record("register", Response{OutcomeConflict, fmt.Sprintf("City %s already exists", name)})
		}
		logger.Error("couldn't insert city", zap.Error(err))
		return s.record("register", Response{OutcomeStoreFailure, err.Error()})
	}

	c := obs.Conditions()
	if err := s.store.InsertConditions(ctx, name, c.Temperature, c.Time); err != nil {
		logger.Warn("inserted city but not its conditions", zap.Error(err))
		return s.record("register", Response{OutcomePartialSuccess,
			fmt.Sprintf("Inserted City %s but couldn't insert conditions: %v", name, err)})
	}

	logger.Info("city registered",
		zap.Float64("latitude", latitude),
		zap.Float64("longitude", longitude),
		zap.Float64("temperature", c.Temperature),
		zap.String("time", c.Time))
	return s.record("register", Response{OutcomeCreated, fmt.Sprintf("Inserted city %s!", name)})
}

// RemoveCity deletes the named city and its conditions.
func (s *CatalogService) RemoveCity(ctx context.Context, name string) Response {
	n, err := s.store.DeleteCity(ctx, name)
	switch {
	case err != nil:
		observability.LoggerFrom(ctx, s.logger).Error("couldn't remove city", zap.String("city", name), zap.Error(err))
		return s.record("remove", Response{OutcomeStoreFailure, err.Error()})
	case n == 0:
		return s.record("remove", Response{OutcomeNotFound, fmt.Sprintf("No city %s found to remove!", name)})
	default:
		observability.LoggerFrom(ctx, s.logger).Info("city removed", zap.String("city", name))
		return s.record("remove", Response{OutcomeOK, fmt.Sprintf("City %s removed!", name)})
	}
}

// ListCityNames returns every city name, one per line, in ascending order.
func (s *CatalogService) ListCityNames(ctx context.Context) Response {
	names, err := s.store.ListCityNames(ctx)
	if err != nil {
		observability.LoggerFrom(ctx, s.logger).Error("couldn't list city names", zap.Error(err))
		return s.record("list_names", Response{OutcomeStoreFailure, err.Error()})
	}
	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('\n')
	}
	return s.record("list_names", Response{OutcomeOK, b.String()})
}

// ConditionsForCity renders the named city's observation history.
func (s *CatalogService) ConditionsForCity(ctx context.Context, name string) Response {
	city, err := s.store.FindCityWithConditions(ctx, name)
	if err != nil {
		outcome := OutcomeStoreFailure
		if errors.Is(err, store.ErrNotFound) {
			outcome = OutcomeNotFound
		} else {
			observability.LoggerFrom(ctx, s.logger).Error("couldn't load conditions", zap.String("city", name), zap.Error(err))
		}
		return s.record("conditions", Response{outcome, fmt.Sprintf("Couldn't find %s: %v", name, err)})
	}
	return s.record("conditions", Response{OutcomeOK, RenderConditions(city)})
}

// RenderConditions formats a city's history as a header followed by one
// "<date> <time>\t<temperature>" line per observation.
func RenderConditions(city models.City) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conditions for %s:\n\n", city.Name)
	for _, c := range city.Conditions {
		date, hour := splitTimestamp(c.Time)
		b.WriteString(date)
		b.WriteByte(' ')
		b.WriteString(hour)
		b.WriteByte('\t')
		b.WriteString(strconv.FormatFloat(c.Temperature, 'f', -1, 64))
		b.WriteByte('\n')
	}
	return b.String()
}

// splitTimestamp splits "2024-01-02T13:00" on its T separator. Without one the
// whole value is the date and the time is empty.
func splitTimestamp(ts string) (date, hour string) {
	date, hour, _ = strings.Cut(ts, "T")
	return date, hour
}

// Seed inserts each city that is not already stored. It never fails: a city
// already present is logged at info, any other error at error.
func (s *CatalogService) Seed(ctx context.Context, cities []models.City) {
	for _, c := range cities {
		err := s.store.InsertCity(ctx, c.Name, c.Latitude, c.Longitude)
		switch {
		case err == nil:
			s.logger.Info("city inserted", zap.String("city", c.Name))
		case errors.Is(err, store.ErrConstraintViolation):
			s.logger.Info("city already in db", zap.String("city", c.Name))
		default:
			s.logger.Error("couldn't seed city", zap.String("city", c.Name), zap.Error(err))
		}
	}
}

func (s *CatalogService) record(op string, resp Response) Response {
	observability.CatalogOperationsTotal.WithLabelValues(op, string(resp.Outcome)).Inc()
	return resp
}
