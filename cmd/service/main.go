package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/city-weather-sync/internal/client"
	"github.com/kjstillabower/city-weather-sync/internal/config"
	httphandler "github.com/kjstillabower/city-weather-sync/internal/http"
	"github.com/kjstillabower/city-weather-sync/internal/lifecycle"
	"github.com/kjstillabower/city-weather-sync/internal/models"
	"github.com/kjstillabower/city-weather-sync/internal/observability"
	"github.com/kjstillabower/city-weather-sync/internal/service"
	"github.com/kjstillabower/city-weather-sync/internal/store"
	"github.com/kjstillabower/city-weather-sync/internal/syncer"
	"github.com/kjstillabower/city-weather-sync/internal/traffic"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger, lerr := observability.NewLogger()
		if lerr != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		logger.Fatal("config", zap.Error(err))
	}

	logger, err := observability.NewLoggerWithLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	traffic.SetRetention(cfg.DegradedWindow)

	openCtx, openCancel := context.WithTimeout(context.Background(), 30*time.Second)
	st, err := store.Open(openCtx, cfg.StoreDriver, cfg.StoreDSN)
	openCancel()
	if err != nil {
		logger.Fatal("store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	logger.Info("store ready", zap.String("driver", cfg.StoreDriver))

	weatherClient, err := client.NewOpenMeteoClient(cfg.WeatherAPIURL, cfg.WeatherAPITimezone, cfg.WeatherAPITimeout)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}
	if cfg.CircuitBreakerEnabled {
		weatherClient.SetCircuitBreaker(client.NewCircuitBreaker(client.BreakerConfig{
			FailureThreshold: cfg.CircuitBreakerThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
		}, logger))
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	catalog := service.NewCatalogService(st, weatherClient, logger)

	catalog.Seed(context.Background(), seedCities(cfg.SeedCities))
	lifecycle.SetReady()

	sync, err := syncer.New(st, weatherClient, syncerConfig(cfg), logger)
	if err != nil {
		logger.Fatal("synchronizer", zap.Error(err))
	}
	syncCtx, syncCancel := context.WithCancel(context.Background())
	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		if err := sync.Run(syncCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("synchronizer stopped", zap.Error(err))
		}
	}()

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	handler := httphandler.NewHandler(catalog, sync, &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		StorePing:        st.Ping,
	}, logger)
	router := httphandler.NewRouter(handler, logger, limiter)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("shutdown triggered")
	lifecycle.SetShuttingDown()

	// No drain phase: in-flight passes and requests are abandoned.
	syncCancel()
	if err := srv.Close(); err != nil {
		logger.Error("server close", zap.Error(err))
	}
	<-syncDone

	if err := st.Close(); err != nil {
		logger.Error("store close", zap.Error(err))
	}
	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func seedCities(seeds []config.SeedCity) []models.City {
	cities := make([]models.City, 0, len(seeds))
	for _, c := range seeds {
		cities = append(cities, models.City{Name: c.Name, Latitude: c.Latitude, Longitude: c.Longitude})
	}
	return cities
}

func syncerConfig(cfg *config.Config) syncer.Config {
	return syncer.Config{
		Interval:     cfg.SyncInterval,
		StartupDelay: cfg.SyncStartupDelay,
		Schedule:     cfg.SyncSchedule,
		Concurrency:  cfg.SyncConcurrency,
	}
}
