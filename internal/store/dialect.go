package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Supported values for the store.driver setting.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLSTATE codes the store classifies.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// dialect captures what differs between the SQL backends.
type dialect struct {
	name       string
	driverName string
	schema     []string
	// nameOrder is appended to ORDER BY name so both backends sort bytewise.
	nameOrder string
	// numbered placeholders ($1, $2, ...) instead of ?.
	numbered           bool
	constraintViolated func(err error) bool
	// cityMissing reports a conditions insert whose city row was deleted
	// after it was resolved.
	cityMissing func(err error) bool
	dsn         func(dsn string) string
}

var sqliteDialect = dialect{
	name:       DriverSQLite,
	driverName: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS cities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conditions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			city_id INTEGER NOT NULL REFERENCES cities(id) ON DELETE CASCADE,
			temperature REAL NOT NULL,
			observed_at TEXT NOT NULL,
			UNIQUE (city_id, observed_at)
		)`,
	},
	constraintViolated: sqliteConstraintViolated,
	cityMissing:        sqliteForeignKeyViolated,
	dsn:                sqliteDSN,
}

var postgresDialect = dialect{
	name:       DriverPostgres,
	driverName: "pgx",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS cities (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conditions (
			id BIGSERIAL PRIMARY KEY,
			city_id BIGINT NOT NULL REFERENCES cities(id) ON DELETE CASCADE,
			temperature DOUBLE PRECISION NOT NULL,
			observed_at TEXT NOT NULL,
			UNIQUE (city_id, observed_at)
		)`,
	},
	nameOrder:          ` COLLATE "C"`,
	numbered:           true,
	constraintViolated: postgresConstraintViolated,
	cityMissing:        postgresForeignKeyViolated,
	dsn:                func(dsn string) string { return dsn },
}

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "":
		return sqliteDialect, nil
	case DriverPostgres, "postgresql", "pgx":
		return postgresDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported store driver %q", driver)
	}
}

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func sqliteConstraintViolated(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	// Without extended result codes only the primary code is set.
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE constraint failed")
}

func sqliteForeignKeyViolated(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}

func postgresConstraintViolated(err error) bool {
	return pgErrorCode(err) == pgUniqueViolation
}

func postgresForeignKeyViolated(err error) bool {
	return pgErrorCode(err) == pgForeignKeyViolation
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// sqliteDefaults are added to every SQLite DSN unless it already sets the
// same key. foreign_keys drives the delete cascade and _txlock=immediate
// serializes competing inserts.
var sqliteDefaults = []struct {
	key   string
	param string
}{
	{"_pragma=foreign_keys", "_pragma=foreign_keys(1)"},
	{"_pragma=journal_mode", "_pragma=journal_mode(WAL)"},
	{"_pragma=busy_timeout", "_pragma=busy_timeout(5000)"},
	{"_txlock=", "_txlock=immediate"},
}

// sqliteDSN appends each default the DSN does not set itself.
func sqliteDSN(dsn string) string {
	lower := strings.ToLower(dsn)
	var params []string
	for _, d := range sqliteDefaults {
		if !strings.Contains(lower, d.key) {
			params = append(params, d.param)
		}
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}
