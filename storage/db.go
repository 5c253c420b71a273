package storage

import (
	"context"
	"database/sql"
	"io/fs"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/schema"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultPingTimeout bounds the connection check done when opening a client
const DefaultPingTimeout = 5 * time.Second

// Config selects and tunes the database connection. It satisfies
// persistence.Config.
type Config struct {
	Driver      string
	DSN         string
	Debug       bool
	Tracing     bool
	Name        string
	PingTimeout time.Duration
}

func (c Config) GetDebug() bool { return c.Debug }

func (c Config) GetDriver() string {
	if c.Driver == "" {
		return DriverSQLite
	}
	return strings.ToLower(c.Driver)
}

func (c Config) GetServer() string { return c.DSN }

func (c Config) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return DefaultPingTimeout
	}
	return c.PingTimeout
}

// GetOtelIdentifier names the database in query spans. Tracing is off when
// it returns an empty string.
func (c Config) GetOtelIdentifier() string {
	if !c.Tracing {
		return ""
	}
	if c.Name == "" {
		return "portal"
	}
	return c.Name
}

type options struct {
	migrations fs.FS
	fixtures   fs.FS
	logger     glog.Logger
}

type Option func(*options)

// WithMigrations registers per dialect migrations rooted at fsys. The
// directory holds one "sqlite" and one "postgres" folder with matching files.
func WithMigrations(fsys fs.FS) Option {
	return func(o *options) {
		o.migrations = fsys
	}
}

// WithFixtures registers YAML fixtures loaded by Client.Seed. Tables named
// in the fixtures are truncated before loading.
func WithFixtures(fsys fs.FS) Option {
	return func(o *options) {
		o.fixtures = fsys
	}
}

func WithLogger(logger glog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Open connects to the configured database and wraps it in a persistence
// client. SQLite connections are limited to a single open connection and
// have foreign keys enabled. Registered migrations are validated for every
// supported dialect before the client is returned.
func Open(ctx context.Context, cfg Config, opts ...Option) (*persistence.Client, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	sqldb, dialect, err := openSQL(cfg)
	if err != nil {
		return nil, err
	}

	client, err := persistence.New(cfg, sqldb, dialect)
	if err != nil {
		_ = sqldb.Close()
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "failed to initialize persistence").
			WithMetadata(map[string]any{"driver": cfg.GetDriver()})
	}

	if o.logger != nil {
		client.SetLogger(o.logger)
	}

	if cfg.GetDriver() == DriverSQLite {
		if _, err := client.DB().ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
			_ = client.DB().Close()
			return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "failed to enable sqlite foreign keys")
		}
	}

	if o.migrations != nil {
		client.RegisterDialectMigrations(
			o.migrations,
			persistence.WithDialectSourceLabel("data/sql/migrations"),
			persistence.WithValidationTargets(DriverPostgres, DriverSQLite),
		)
		if err := client.ValidateDialects(ctx); err != nil {
			_ = client.DB().Close()
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "migration dialects out of sync")
		}
	}

	if o.fixtures != nil {
		client.RegisterFixtures(o.fixtures).AddOptions(persistence.WithTrucateTables())
	}

	return client, nil
}

func openSQL(cfg Config) (*sql.DB, schema.Dialect, error) {
	switch cfg.GetDriver() {
	case DriverSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, nil, goerrors.Wrap(err, goerrors.CategoryExternal, "failed to open sqlite database")
		}
		sqldb.SetMaxOpenConns(1)
		return sqldb, sqlitedialect.New(), nil
	case DriverPostgres:
		sqldb, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, nil, goerrors.Wrap(err, goerrors.CategoryExternal, "failed to open postgres database")
		}
		return sqldb, pgdialect.New(), nil
	default:
		return nil, nil, goerrors.New("unsupported database driver", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest).
			WithTextCode("UNSUPPORTED_DRIVER").
			WithMetadata(map[string]any{"driver": cfg.Driver})
	}
}

// RegisterModels makes models known to the persistence layer so fixtures
// can refer to them by type name.
func RegisterModels(models ...any) {
	for _, m := range models {
		persistence.RegisterModel(m)
	}
}
