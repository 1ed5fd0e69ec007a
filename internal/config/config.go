package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// SeedCity is one entry of the startup city list.
type SeedCity struct {
	Name      string  `yaml:"name" validate:"required"`
	Latitude  float64 `yaml:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `yaml:"longitude" validate:"gte=-180,lte=180"`
}

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string `validate:"required,numeric"`
	LogLevel   string `validate:"omitempty,oneof=DEBUG INFO WARN WARNING ERROR"`

	WeatherAPIURL      string `validate:"required,url"`
	WeatherAPITimezone string
	// WeatherAPITimeout of zero leaves provider calls unbounded.
	WeatherAPITimeout time.Duration `validate:"gte=0"`

	CircuitBreakerEnabled   bool
	CircuitBreakerThreshold int           `validate:"gte=1"`
	CircuitBreakerTimeout   time.Duration `validate:"gt=0"`

	StoreDriver string `validate:"oneof=sqlite postgres"`
	StoreDSN    string `validate:"required"`

	SyncInterval     time.Duration `validate:"gt=0"`
	SyncStartupDelay time.Duration `validate:"gte=0"`
	SyncSchedule     string
	SyncConcurrency  int `validate:"gte=1,lte=64"`

	// RateLimitRPS of zero disables the limiter.
	RateLimitRPS   int `validate:"gte=0"`
	RateLimitBurst int `validate:"gte=0"`

	DegradedWindow   time.Duration `validate:"gt=0"`
	DegradedErrorPct int           `validate:"gte=1,lte=100"`

	SeedCities []SeedCity `validate:"dive"`
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	WeatherAPI struct {
		URL            string  `yaml:"url"`
		Timezone       *string `yaml:"timezone"`
		Timeout        string  `yaml:"timeout"`
		CircuitBreaker struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"weather_api"`

	Store struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"store"`

	Sync struct {
		Interval     string `yaml:"interval"`
		StartupDelay string `yaml:"startup_delay"`
		Schedule     string `yaml:"schedule"`
		Concurrency  int    `yaml:"concurrency"`
	} `yaml:"sync"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	Seed struct {
		Cities *[]SeedCity `yaml:"cities"`
	} `yaml:"seed"`
}

// DefaultSeedCities is used when the config file has no seed section.
var DefaultSeedCities = []SeedCity{
	{Name: "Andorra la Vella", Latitude: 42.3, Longitude: 1.3},
	{Name: "El Serrat", Latitude: 42.37, Longitude: 1.33},
	{Name: "Encamp", Latitude: 42.32, Longitude: 1.35},
	{Name: "Les Escaldes", Latitude: 42.3, Longitude: 1.32},
	{Name: "Sant Julià de Lòria", Latitude: 42.28, Longitude: 1.29},
	{Name: "Soldeu", Latitude: 42.34, Longitude: 1.4},
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev). A .env
// file in the working directory, if present, is loaded into the environment
// first; environment variables override the file. Call from project root.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := fromFile(fc)
	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromFile(fc fileConfig) *Config {
	cfg := &Config{}

	cfg.ServerPort = strings.TrimSpace(fc.Server.Port)
	if cfg.ServerPort == "" {
		cfg.ServerPort = "3000"
	}
	cfg.LogLevel = strings.ToUpper(strings.TrimSpace(fc.Log.Level))

	cfg.WeatherAPIURL = strings.TrimSpace(fc.WeatherAPI.URL)
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.open-meteo.com/v1/forecast"
	}
	cfg.WeatherAPITimezone = "CET"
	if fc.WeatherAPI.Timezone != nil {
		cfg.WeatherAPITimezone = strings.TrimSpace(*fc.WeatherAPI.Timezone)
	}
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 0)

	cb := fc.WeatherAPI.CircuitBreaker
	cfg.CircuitBreakerEnabled = cb.Enabled
	cfg.CircuitBreakerThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerThreshold <= 0 {
		cfg.CircuitBreakerThreshold = 5
	}
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)

	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(fc.Store.Driver))
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = "sqlite"
	}
	cfg.StoreDSN = strings.TrimSpace(fc.Store.DSN)
	if cfg.StoreDSN == "" && cfg.StoreDriver == "sqlite" {
		cfg.StoreDSN = "file:weather.db"
	}

	cfg.SyncInterval = parseDuration(fc.Sync.Interval, 60*time.Second)
	cfg.SyncStartupDelay = parseDurationOrZero(fc.Sync.StartupDelay, 100*time.Millisecond)
	cfg.SyncSchedule = strings.TrimSpace(fc.Sync.Schedule)
	cfg.SyncConcurrency = fc.Sync.Concurrency
	if cfg.SyncConcurrency <= 0 {
		cfg.SyncConcurrency = 1
	}

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = cfg.RateLimitRPS
	}

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 5*time.Minute)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}

	if fc.Seed.Cities != nil {
		cfg.SeedCities = *fc.Seed.Cities
	} else {
		cfg.SeedCities = append([]SeedCity(nil), DefaultSeedCities...)
	}
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("SERVER_PORT")); v != "" {
		cfg.ServerPort = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.LogLevel = strings.ToUpper(v)
	}
	if v := strings.TrimSpace(os.Getenv("WEATHER_API_URL")); v != "" {
		cfg.WeatherAPIURL = v
	}
	if v := strings.TrimSpace(os.Getenv("STORE_DRIVER")); v != "" {
		cfg.StoreDriver = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("STORE_DSN")); v != "" {
		cfg.StoreDSN = v
	}
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero is returned as-is.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

var structValidator = validator.New()

// validate checks struct tags, then the rules tags cannot express.
func validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.SyncSchedule != "" {
		if _, err := cron.ParseStandard(cfg.SyncSchedule); err != nil {
			return fmt.Errorf("invalid config: sync.schedule %q: %w", cfg.SyncSchedule, err)
		}
	}
	if cfg.RateLimitRPS == 0 && cfg.RateLimitBurst > 0 {
		return fmt.Errorf("invalid config: reliability.rate_limit_burst set without rate_limit_rps")
	}
	seen := make(map[string]bool, len(cfg.SeedCities))
	for _, c := range cfg.SeedCities {
		if seen[c.Name] {
			return fmt.Errorf("invalid config: seed city %q listed twice", c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}
