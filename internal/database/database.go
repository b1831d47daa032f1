package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/schema"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/chefeye/internal/config"
)

const pingTimeout = 5 * time.Second

// Connections bundles writer and reader bun instances. Reader is the writer
// itself unless a distinct replica DSN is configured.
type Connections struct {
	Writer *bun.DB
	Reader *bun.DB

	driver Driver
}

// Module registers the database connections with Fx.
var Module = fx.Provide(New)

// Driver describes one supported relational backend.
type Driver struct {
	// Name is the canonical DB_DRIVER value.
	Name string
	// Goose is the dialect name the migrator registers.
	Goose string

	dialect func() schema.Dialect
	open    func(dsn string) (*sql.DB, error)
}

var (
	postgresDriver = Driver{
		Name:    "postgres",
		Goose:   "postgres",
		dialect: func() schema.Dialect { return pgdialect.New() },
		open: func(dsn string) (*sql.DB, error) {
			return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn))), nil
		},
	}
	mysqlDriver = Driver{
		Name:    "mysql",
		Goose:   "mysql",
		dialect: func() schema.Dialect { return mysqldialect.New() },
		open:    func(dsn string) (*sql.DB, error) { return sql.Open("mysql", dsn) },
	}
	// The sqlite3 database/sql driver is linked by the binary that needs it.
	sqliteDriver = Driver{
		Name:    "sqlite",
		Goose:   "sqlite3",
		dialect: func() schema.Dialect { return sqlitedialect.New() },
		open:    func(dsn string) (*sql.DB, error) { return sql.Open("sqlite3", dsn) },
	}
)

// LookupDriver resolves a DB_DRIVER value, accepting the usual aliases.
func LookupDriver(name string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pg":
		return postgresDriver, nil
	case "mysql", "mariadb":
		return mysqlDriver, nil
	case "sqlite", "sqlite3":
		return sqliteDriver, nil
	default:
		return Driver{}, fmt.Errorf("unsupported database driver: %q", name)
	}
}

// New opens the pools and ties their health check and shutdown to the Fx lifecycle.
func New(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*Connections, error) {
	conns, err := Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := conns.Ping(ctx); err != nil {
				return err
			}
			logger.Info("database connected",
				zap.String("driver", conns.driver.Name),
				zap.Bool("replica", conns.HasReplica()))
			return nil
		},
		OnStop: func(context.Context) error {
			return conns.Close()
		},
	})

	return conns, nil
}

// Open builds the writer pool and, when the reader DSN differs from the
// writer's, a separate reader pool. Nothing is dialled until first use.
func Open(cfg config.Database, logger *zap.Logger) (*Connections, error) {
	drv, err := LookupDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}

	writer, err := drv.pool(cfg, cfg.WriterDSN, "writer", logger)
	if err != nil {
		return nil, err
	}
	conns := &Connections{Writer: writer, Reader: writer, driver: drv}

	if cfg.ReaderDSN != "" && cfg.ReaderDSN != cfg.WriterDSN {
		reader, err := drv.pool(cfg, cfg.ReaderDSN, "reader", logger)
		if err != nil {
			_ = writer.Close()
			return nil, err
		}
		conns.Reader = reader
	}
	return conns, nil
}

func (d Driver) pool(cfg config.Database, dsn, role string, logger *zap.Logger) (*bun.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("open %s: empty DSN", role)
	}
	sqldb, err := d.open(dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", role, err)
	}
	applyPoolSettings(sqldb, cfg)
	return d.wrap(sqldb, role, logger), nil
}

// wrap attaches the dialect and the slow/failed query logger to a pool.
func (d Driver) wrap(sqldb *sql.DB, role string, logger *zap.Logger) *bun.DB {
	db := bun.NewDB(sqldb, d.dialect())
	db.AddQueryHook(newQueryLogger(logger, role))
	return db
}

// Driver returns the backend the pools were opened with.
func (c *Connections) Driver() Driver { return c.driver }

// HasReplica reports whether reads go to their own pool.
func (c *Connections) HasReplica() bool { return c.Reader != c.Writer }

// Ping checks every distinct pool.
func (c *Connections) Ping(ctx context.Context) error {
	if err := pingContext(ctx, c.Writer); err != nil {
		return fmt.Errorf("ping writer: %w", err)
	}
	if c.HasReplica() {
		if err := pingContext(ctx, c.Reader); err != nil {
			return fmt.Errorf("ping reader: %w", err)
		}
	}
	return nil
}

// Close closes every distinct pool and reports all failures.
func (c *Connections) Close() error {
	var errs []error
	if err := c.Writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close writer: %w", err))
	}
	if c.HasReplica() {
		if err := c.Reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close reader: %w", err))
		}
	}
	return errors.Join(errs...)
}

func applyPoolSettings(db *sql.DB, cfg config.Database) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	}
}

// isBenign filters errors that callers handle as regular outcomes.
func isBenign(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, context.Canceled)
}

func pingContext(ctx context.Context, db *bun.DB) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return db.PingContext(pingCtx)
}
