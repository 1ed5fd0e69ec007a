// Package syncer runs the background loop that keeps every city's conditions
// current: list cities, fetch an observation for each, insert it. Failures are
// isolated per city and never stop the loop.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/city-weather-sync/internal/client"
	"github.com/kjstillabower/city-weather-sync/internal/models"
	"github.com/kjstillabower/city-weather-sync/internal/observability"
	"github.com/kjstillabower/city-weather-sync/internal/store"
)

// State is the synchronizer's position in its two-state cycle.
type State int32

const (
	Idle State = iota
	Syncing
)

func (s State) String() string {
	if s == Syncing {
		return "syncing"
	}
	return "idle"
}

// Per-city outcomes, used as metric labels.
const (
	outcomeInserted     = "inserted"
	outcomeDuplicate    = "duplicate"
	outcomeFetchFailed  = "fetch_failed"
	outcomeStoreFailed  = "store_failed"
	outcomeCityVanished = "city_vanished"
)

// Config controls pass cadence and fan-out.
type Config struct {
	// Interval separates the end of one pass from the start of the next.
	Interval time.Duration
	// StartupDelay precedes the first pass.
	StartupDelay time.Duration
	// Schedule, when set, is a cron expression that replaces Interval.
	Schedule string
	// Concurrency bounds how many cities are processed at once. <= 1 is sequential.
	Concurrency int
}

// PassResult summarizes one pass.
type PassResult struct {
	Started       time.Time     `json:"started"`
	Duration      time.Duration `json:"duration"`
	Cities        int           `json:"cities"`
	Inserted      int           `json:"inserted"`
	Duplicates    int           `json:"duplicates"`
	FetchFailures int           `json:"fetch_failures"`
	StoreFailures int           `json:"store_failures"`
	Vanished      int           `json:"vanished"`
	// Err is set when the city list could not be read.
	Err error `json:"-"`
}

// Synchronizer owns the refresh loop. Create with New; safe for concurrent
// State and LastPass calls while Run is active.
type Synchronizer struct {
	store    store.Store
	client   client.WeatherClient
	cfg      Config
	schedule cron.Schedule
	logger   *zap.Logger

	state atomic.Int32

	mu       sync.Mutex
	lastPass *PassResult
}

// New validates cfg and returns a Synchronizer. An unparsable Schedule is an error.
func New(st store.Store, wc client.WeatherClient, cfg Config, logger *zap.Logger) (*Synchronizer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 && cfg.Schedule == "" {
		return nil, errors.New("sync interval must be positive when no schedule is set")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	s := &Synchronizer{
		store:  st,
		client: wc,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "syncer")),
	}
	if cfg.Schedule != "" {
		sched, err := cron.ParseStandard(cfg.Schedule)
		if err != nil {
			return nil, fmt.Errorf("parse sync schedule %q: %w", cfg.Schedule, err)
		}
		s.schedule = sched
	}
	return s, nil
}

// State reports whether a pass is in progress.
func (s *Synchronizer) State() State {
	return State(s.state.Load())
}

// LastPass returns the most recent completed pass, if any.
func (s *Synchronizer) LastPass() (PassResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastPass == nil {
		return PassResult{}, false
	}
	return *s.lastPass, true
}

// Run waits StartupDelay, runs a pass, then keeps running passes until ctx is
// done. It always returns ctx.Err().
func (s *Synchronizer) Run(ctx context.Context) error {
	timer := time.NewTimer(s.cfg.StartupDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	s.RunPass(ctx)

	if s.schedule != nil {
		return s.runScheduled(ctx)
	}

	for {
		timer.Reset(s.cfg.Interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			s.RunPass(ctx)
		}
	}
}

func (s *Synchronizer) runScheduled(ctx context.Context) error {
	cl := cronLogger{s.logger.Sugar()}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	c.Schedule(s.schedule, cron.FuncJob(func() { s.RunPass(ctx) }))
	c.Start()
	s.logger.Info("sync schedule started", zap.String("schedule", s.cfg.Schedule))

	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// RunPass performs one synchronization pass. Per-city failures are logged and
// counted, never returned.
func (s *Synchronizer) RunPass(ctx context.Context) (res PassResult) {
	s.state.Store(int32(Syncing))
	observability.SyncState.Set(1)
	defer func() {
		s.state.Store(int32(Idle))
		observability.SyncState.Set(0)
	}()

	res = PassResult{Started: time.Now()}
	defer func() {
		res.Duration = time.Since(res.Started)
		observability.SyncPassDuration.Observe(res.Duration.Seconds())
		s.mu.Lock()
		last := res
		s.lastPass = &last
		s.mu.Unlock()
	}()

	cities, err := s.store.ListCities(ctx, false)
	if err != nil {
		res.Err = err
		observability.SyncPassesTotal.WithLabelValues("list_failed").Inc()
		s.logger.Error("couldn't list cities", zap.Error(err))
		return res
	}
	res.Cities = len(cities)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, city := range cities {
		if ctx.Err() != nil {
			break
		}
		city := city
		g.Go(func() error {
			outcome := s.syncCity(ctx, city)
			observability.SyncCityOutcomesTotal.WithLabelValues(outcome).Inc()
			mu.Lock()
			res.tally(outcome)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	observability.SyncPassesTotal.WithLabelValues("ok").Inc()
	s.logger.Info("sync pass complete",
		zap.Int("cities", res.Cities),
		zap.Int("inserted", res.Inserted),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("fetch_failures", res.FetchFailures),
		zap.Int("store_failures", res.StoreFailures),
		zap.Duration("duration", time.Since(res.Started)),
	)
	return res
}

func (s *Synchronizer) syncCity(ctx context.Context, city models.City) string {
	log := s.logger.With(zap.String("city", city.Name))

	obs, err := s.client.GetCurrentWeather(ctx, city.Latitude, city.Longitude)
	if err != nil {
		log.Warn("couldn't get weather info",
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err))
		return outcomeFetchFailed
	}

	c := obs.Conditions()
	err = s.store.InsertConditions(ctx, city.Name, c.Temperature, c.Time)
	switch {
	case err == nil:
		log.Info("inserted new conditions",
			zap.Float64("temperature", c.Temperature),
			zap.String("time", c.Time))
		return outcomeInserted
	case errors.Is(err, store.ErrConstraintViolation):
		log.Debug("conditions already stored", zap.String("time", c.Time))
		return outcomeDuplicate
	case errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrAmbiguous):
		// Removed between ListCities and the insert.
		log.Debug("city removed during pass")
		return outcomeCityVanished
	default:
		log.Error("couldn't insert conditions", zap.Error(err))
		return outcomeStoreFailed
	}
}

func (r *PassResult) tally(outcome string) {
	switch outcome {
	case outcomeInserted:
		r.Inserted++
	case outcomeDuplicate:
		r.Duplicates++
	case outcomeFetchFailed:
		r.FetchFailures++
	case outcomeStoreFailed:
		r.StoreFailures++
	case outcomeCityVanished:
		r.Vanished++
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
