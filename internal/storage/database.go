package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Dialect names a supported SQL engine. The value doubles as the database/sql driver name.
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite3"
)

// ErrMissingDSN is returned by Open when no connection string was configured.
var ErrMissingDSN = errors.New("database connection string is required")

// Options configures Open.
type Options struct {
	DSN             string
	Driver          string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Logger          zerolog.Logger
}

// Store is the process-wide handle to the relational database.
// It is safe for concurrent use.
type Store struct {
	db      *sql.DB
	dialect Dialect
	log     zerolog.Logger
}

// Open connects to the database described by opts and verifies it with a ping.
func Open(ctx context.Context, opts Options) (*Store, error) {
	dsn := strings.TrimSpace(opts.DSN)
	if dsn == "" {
		return nil, ErrMissingDSN
	}
	dialect, err := detectDialect(opts.Driver, dsn)
	if err != nil {
		return nil, err
	}
	driverDSN, err := normalizeDSN(dialect, dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(string(dialect), driverDSN)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}

	if dialect == SQLite {
		// every sqlite connection is its own in-memory database; keep exactly one alive.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log := opts.Logger.With().Str("component", "storage").Str("dialect", string(dialect)).Logger()
	log.Info().Msg("database connected")
	return &Store{db: db, dialect: dialect, log: log}, nil
}

// Dialect reports the SQL engine behind the store.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ExecContext runs a statement written with ? placeholders.
func (s *Store) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, rebind(s.dialect, query), args...)
}

// QueryContext runs a query written with ? placeholders.
func (s *Store) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, rebind(s.dialect, query), args...)
}

// QueryRowContext runs a single-row query written with ? placeholders.
func (s *Store) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, rebind(s.dialect, query), args...)
}

// LockClause returns the row-locking suffix for SELECT statements, empty when
// the engine serializes writers on its own.
func (d Dialect) LockClause() string {
	switch d {
	case Postgres, MySQL:
		return " FOR UPDATE"
	default:
		return ""
	}
}

func detectDialect(driver, dsn string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "":
	default:
		return "", fmt.Errorf("unsupported driver: %s", driver)
	}

	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return Postgres, nil
	case strings.HasPrefix(lower, "mysql://"):
		return MySQL, nil
	case strings.HasPrefix(lower, "sqlite:"), strings.HasPrefix(lower, "file:"), lower == ":memory:":
		return SQLite, nil
	case strings.Contains(lower, "host=") || strings.Contains(lower, "dbname="):
		return Postgres, nil
	default:
		return "", fmt.Errorf("cannot infer database driver from connection string")
	}
}

func normalizeDSN(dialect Dialect, dsn string) (string, error) {
	switch dialect {
	case Postgres:
		return dsn, nil
	case MySQL:
		return mysqlDSN(dsn)
	case SQLite:
		return sqliteDSN(dsn), nil
	default:
		return "", fmt.Errorf("unsupported driver: %s", dialect)
	}
}

// mysqlDSN accepts either a mysql:// URL or a native driver DSN and forces the
// options the store relies on.
func mysqlDSN(dsn string) (string, error) {
	var cfg *mysql.Config
	if strings.HasPrefix(strings.ToLower(dsn), "mysql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parse mysql url: %w", err)
		}
		cfg = mysql.NewConfig()
		cfg.Net = "tcp"
		cfg.Addr = u.Host
		if u.Port() == "" {
			cfg.Addr = u.Hostname() + ":3306"
		}
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
		cfg.DBName = strings.TrimPrefix(u.Path, "/")
		for key, values := range u.Query() {
			if len(values) == 0 {
				continue
			}
			if cfg.Params == nil {
				cfg.Params = make(map[string]string)
			}
			cfg.Params[key] = values[0]
		}
	} else {
		parsed, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg = parsed
	}
	cfg.ParseTime = true
	cfg.MultiStatements = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

func sqliteDSN(dsn string) string {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "sqlite://"):
		dsn = dsn[len("sqlite://"):]
	case strings.HasPrefix(lower, "sqlite:"):
		dsn = dsn[len("sqlite:"):]
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on&_busy_timeout=5000"
}

// rebind rewrites ? placeholders into the engine's native form.
func rebind(dialect Dialect, query string) string {
	if dialect != Postgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
