//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/city-weather-sync/internal/client"
	"github.com/kjstillabower/city-weather-sync/internal/store"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIURL      string
	PostgresDSN string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if INTEGRATION_POSTGRES_DSN is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	dsn := os.Getenv("INTEGRATION_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("INTEGRATION_POSTGRES_DSN not set, skipping integration test")
	}

	apiURL := os.Getenv("WEATHER_API_URL")
	if apiURL == "" {
		apiURL = "https://api.open-meteo.com/v1/forecast"
	}

	return IntegrationTestConfig{
		APIURL:      apiURL,
		PostgresDSN: dsn,
	}
}

// SetupPostgresStore opens the Postgres store and truncates both tables so
// each test starts empty. The store is closed on test cleanup.
func SetupPostgresStore(t *testing.T, cfg IntegrationTestConfig) *store.SQLStore {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := store.Open(ctx, store.DriverPostgres, cfg.PostgresDSN)
	if err != nil {
		t.Fatalf("store.Open(postgres) error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	for _, name := range mustNames(t, ctx, s) {
		if _, err := s.DeleteCity(ctx, name); err != nil {
			t.Fatalf("DeleteCity(%q) error = %v", name, err)
		}
	}
	return s
}

// SetupIntegrationClient creates a weather client for integration tests.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) client.WeatherClient {
	c, err := client.NewOpenMeteoClient(cfg.APIURL, "CET", 10*time.Second)
	if err != nil {
		t.Fatalf("NewOpenMeteoClient() error = %v", err)
	}
	return c
}

func mustNames(t *testing.T, ctx context.Context, s store.Store) []string {
	names, err := s.ListCityNames(ctx)
	if err != nil {
		t.Fatalf("ListCityNames() error = %v", err)
	}
	return names
}
