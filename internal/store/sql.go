package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kjstillabower/city-weather-sync/internal/models"
	"github.com/kjstillabower/city-weather-sync/internal/observability"
)

// SQLStore implements Store over database/sql. One *SQLStore is shared by
// every goroutine in the process.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// Open connects to the database, verifies it is reachable and applies the
// schema. driver is "sqlite" (default) or "postgres".
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.driverName, d.dsn(dsn))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}
	s := &SQLStore{db: db, dialect: d}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// InsertCity persists a new city. A duplicate name yields ErrConstraintViolation.
func (s *SQLStore) InsertCity(ctx context.Context, name string, latitude, longitude float64) (err error) {
	defer s.observe("insert_city", time.Now(), &err)

	_, err = s.db.ExecContext(ctx,
		s.dialect.rebind(`INSERT INTO cities (name, latitude, longitude) VALUES (?, ?, ?)`),
		name, latitude, longitude)
	if err != nil {
		if s.dialect.constraintViolated(err) {
			return fmt.Errorf("%w: city %q already exists", ErrConstraintViolation, name)
		}
		return fmt.Errorf("insert city %q: %w", name, err)
	}
	return nil
}

// InsertConditions attaches one observation to the named city. The city must
// resolve to exactly one row; a repeated (city, time) pair yields ErrConstraintViolation.
func (s *SQLStore) InsertConditions(ctx context.Context, cityName string, temperature float64, observedAt string) (err error) {
	defer s.observe("insert_conditions", time.Now(), &err)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert conditions for %q: begin: %w", cityName, err)
	}
	defer tx.Rollback()

	cityID, err := s.resolveCityID(ctx, tx, cityName)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		s.dialect.rebind(`INSERT INTO conditions (city_id, temperature, observed_at) VALUES (?, ?, ?)`),
		cityID, temperature, observedAt)
	if err != nil {
		if s.dialect.constraintViolated(err) {
			return fmt.Errorf("%w: conditions for %q at %s already exist", ErrConstraintViolation, cityName, observedAt)
		}
		if s.dialect.cityMissing(err) {
			return cityNotFound(cityName)
		}
		return fmt.Errorf("insert conditions for %q: %w", cityName, err)
	}
	if err := tx.Commit(); err != nil {
		if s.dialect.constraintViolated(err) {
			return fmt.Errorf("%w: conditions for %q at %s already exist", ErrConstraintViolation, cityName, observedAt)
		}
		if s.dialect.cityMissing(err) {
			return cityNotFound(cityName)
		}
		return fmt.Errorf("insert conditions for %q: commit: %w", cityName, err)
	}
	return nil
}

func (s *SQLStore) resolveCityID(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	rows, err := tx.QueryContext(ctx, s.dialect.rebind(`SELECT id FROM cities WHERE name = ?`), name)
	if err != nil {
		return 0, fmt.Errorf("resolve city %q: %w", name, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("resolve city %q: %w", name, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("resolve city %q: %w", name, err)
	}

	switch len(ids) {
	case 0:
		return 0, cityNotFound(name)
	case 1:
		return ids[0], nil
	default:
		return 0, cityAmbiguous(name, len(ids))
	}
}

// ListCities returns every city ordered by name, each with its conditions
// ordered by time when includeConditions is set.
func (s *SQLStore) ListCities(ctx context.Context, includeConditions bool) (cities []models.City, err error) {
	defer s.observe("list_cities", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, latitude, longitude FROM cities ORDER BY name`+s.dialect.nameOrder)
	if err != nil {
		return nil, fmt.Errorf("list cities: %w", err)
	}
	defer rows.Close()

	var ids []int64
	cities = make([]models.City, 0)
	for rows.Next() {
		var id int64
		var c models.City
		if err := rows.Scan(&id, &c.Name, &c.Latitude, &c.Longitude); err != nil {
			return nil, fmt.Errorf("list cities: %w", err)
		}
		ids = append(ids, id)
		cities = append(cities, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cities: %w", err)
	}
	if !includeConditions || len(cities) == 0 {
		return cities, nil
	}

	byCity, err := s.allConditions(ctx)
	if err != nil {
		return nil, err
	}
	for i, id := range ids {
		cities[i].Conditions = byCity[id]
	}
	return cities, nil
}

func (s *SQLStore) allConditions(ctx context.Context) (map[int64][]models.Conditions, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT city_id, temperature, observed_at FROM conditions ORDER BY city_id, observed_at`)
	if err != nil {
		return nil, fmt.Errorf("list conditions: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]models.Conditions)
	for rows.Next() {
		var cityID int64
		var c models.Conditions
		if err := rows.Scan(&cityID, &c.Temperature, &c.Time); err != nil {
			return nil, fmt.Errorf("list conditions: %w", err)
		}
		out[cityID] = append(out[cityID], c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conditions: %w", err)
	}
	return out, nil
}

// ListCityNames returns all city names in ascending bytewise order.
func (s *SQLStore) ListCityNames(ctx context.Context) (names []string, err error) {
	defer s.observe("list_city_names", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx, `SELECT name FROM cities ORDER BY name`+s.dialect.nameOrder)
	if err != nil {
		return nil, fmt.Errorf("list city names: %w", err)
	}
	defer rows.Close()

	names = make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list city names: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list city names: %w", err)
	}
	return names, nil
}

// FindCityWithConditions returns the single city named name with its full
// history. Zero or several matches yield ErrNotFound.
func (s *SQLStore) FindCityWithConditions(ctx context.Context, name string) (city models.City, err error) {
	defer s.observe("find_city", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx,
		s.dialect.rebind(`SELECT id, name, latitude, longitude FROM cities WHERE name = ?`), name)
	if err != nil {
		return models.City{}, fmt.Errorf("find city %q: %w", name, err)
	}
	var ids []int64
	var matches []models.City
	for rows.Next() {
		var id int64
		var c models.City
		if err := rows.Scan(&id, &c.Name, &c.Latitude, &c.Longitude); err != nil {
			rows.Close()
			return models.City{}, fmt.Errorf("find city %q: %w", name, err)
		}
		ids = append(ids, id)
		matches = append(matches, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return models.City{}, fmt.Errorf("find city %q: %w", name, err)
	}

	switch len(matches) {
	case 0:
		return models.City{}, cityNotFound(name)
	case 1:
	default:
		return models.City{}, cityAmbiguous(name, len(matches))
	}

	city = matches[0]
	city.Conditions, err = s.conditionsFor(ctx, ids[0])
	if err != nil {
		return models.City{}, fmt.Errorf("find city %q: %w", name, err)
	}
	return city, nil
}

func (s *SQLStore) conditionsFor(ctx context.Context, cityID int64) ([]models.Conditions, error) {
	rows, err := s.db.QueryContext(ctx,
		s.dialect.rebind(`SELECT temperature, observed_at FROM conditions WHERE city_id = ? ORDER BY observed_at`), cityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Conditions, 0)
	for rows.Next() {
		var c models.Conditions
		if err := rows.Scan(&c.Temperature, &c.Time); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCity removes the named city and, by cascade, its conditions.
// It returns the number of cities removed; zero is not an error.
func (s *SQLStore) DeleteCity(ctx context.Context, name string) (n int64, err error) {
	defer s.observe("delete_city", time.Now(), &err)

	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`DELETE FROM cities WHERE name = ?`), name)
	if err != nil {
		return 0, fmt.Errorf("delete city %q: %w", name, err)
	}
	n, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete city %q: rows affected: %w", name, err)
	}
	return n, nil
}

// Ping checks that the database is reachable. Used by /health.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) observe(op string, start time.Time, errp *error) {
	observability.StoreOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	observability.StoreOperationsTotal.WithLabelValues(op, resultLabel(*errp)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConstraintViolation):
		return "constraint"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
