// Package store persists cities and their weather conditions in a SQL
// database. Uniqueness of city names and of (city, time) pairs is enforced by
// the database itself; callers see a breach as ErrConstraintViolation.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/kjstillabower/city-weather-sync/internal/models"
)

var (
	// ErrConstraintViolation is returned when a write would duplicate a unique key.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrNotFound is returned when a lookup matches zero cities, or more than one.
	ErrNotFound = errors.New("not found")

	// ErrAmbiguous accompanies ErrNotFound when more than one city matched a name.
	ErrAmbiguous = errors.New("ambiguous match")
)

// Store is the persistence contract shared by the synchronizer and the catalog service.
// Implementations must be safe for concurrent use.
type Store interface {
	InsertCity(ctx context.Context, name string, latitude, longitude float64) error
	InsertConditions(ctx context.Context, cityName string, temperature float64, observedAt string) error
	ListCities(ctx context.Context, includeConditions bool) ([]models.City, error)
	ListCityNames(ctx context.Context) ([]string, error)
	FindCityWithConditions(ctx context.Context, name string) (models.City, error)
	DeleteCity(ctx context.Context, name string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

func cityNotFound(name string) error {
	return fmt.Errorf("%w: no city named %q", ErrNotFound, name)
}

func cityAmbiguous(name string, n int) error {
	return fmt.Errorf("%w: %w: %d cities named %q", ErrNotFound, ErrAmbiguous, n, name)
}
