package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"regexp"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	sqlite "modernc.org/sqlite"

	"github.com/pulp/pulp-manager/internal/config"
)

// Querier is the subset of database/sql satisfied by both *sql.DB and
// *sql.Tx. Stores are constructed over a Querier so a service can run a
// group of writes inside one transaction and commit when it chooses.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var registerRegexpOnce sync.Once

// registerSQLiteRegexp makes `col REGEXP ?` work on the sqlite driver the
// way MySQL supports it natively. SQLite rewrites X REGEXP Y as regexp(Y, X).
func registerSQLiteRegexp() {
	registerRegexpOnce.Do(func() {
		sqlite.MustRegisterDeterministicScalarFunction("regexp", 2,
			func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
				pattern, ok := args[0].(string)
				if !ok {
					return nil, fmt.Errorf("regexp: pattern must be a string")
				}
				var s string
				switch v := args[1].(type) {
				case string:
					s = v
				case nil:
					return int64(0), nil
				default:
					s = fmt.Sprintf("%v", v)
				}
				re, err := regexp.Compile(pattern)
				if err != nil {
					return nil, fmt.Errorf("regexp: %w", err)
				}
				if re.MatchString(s) {
					return int64(1), nil
				}
				return int64(0), nil
			})
	})
}

// DB wraps the sql.DB with driver knowledge for schema initialization.
type DB struct {
	*sql.DB
	driver string
}

// Open opens the configured database and initializes the schema.
// Use driver "sqlite" with DSN ":memory:" for tests.
func Open(cfg config.DatabaseConfig) (*DB, error) {
	var driverName string
	switch cfg.Driver {
	case "sqlite", "":
		registerSQLiteRegexp()
		driverName = "sqlite"
	case "mysql":
		driverName = "mysql"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driverName, err)
	}

	if driverName == "sqlite" && cfg.DSN == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &DB{DB: db, driver: driverName}
	if err := store.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

// Begin starts a transaction. Stores constructed over the returned *sql.Tx
// see each other's uncommitted writes; readers on the DB itself do not.
func (db *DB) Begin(ctx context.Context) (*sql.Tx, error) {
	return db.BeginTx(ctx, nil)
}

func (db *DB) initialize() error {
	stmts := sqliteSchema
	if db.driver == "mysql" {
		stmts = mysqlSchema
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// timeLayout is fixed-width so lexicographic comparison equals chronological
// comparison for the stored UTC timestamps.
const timeLayout = "2006-01-02T15:04:05.000000Z"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func healthPtr(n sql.NullInt64) *HealthStatus {
	if !n.Valid {
		return nil
	}
	h := HealthStatus(n.Int64)
	return &h
}
