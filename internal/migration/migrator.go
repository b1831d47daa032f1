package migration

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/pressly/goose/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/chefeye/internal/database"
)

// The schema uses postgres types (UUID, NUMERIC, TIMESTAMPTZ).
//
//go:embed sql/*.sql
var embedded embed.FS

// Module provides the migrator to Fx.
var Module = fx.Provide(New)

// Migrator applies the embedded schema through a goose provider bound to the writer.
type Migrator struct {
	provider *goose.Provider
	logger   *zap.Logger
}

// AppliedVersion describes one migration and whether the database has it.
type AppliedVersion struct {
	Version int64
	Applied bool
}

// New constructs a goose-backed migrator for the configured driver.
func New(conns *database.Connections, logger *zap.Logger) (*Migrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsys, err := sources()
	if err != nil {
		return nil, err
	}
	provider, err := goose.NewProvider(goose.Dialect(conns.Driver().Goose), conns.Writer.DB, fsys)
	if err != nil {
		return nil, fmt.Errorf("init migrations: %w", err)
	}
	return &Migrator{provider: provider, logger: logger}, nil
}

func sources() (fs.FS, error) {
	return fs.Sub(embedded, "sql")
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	results, err := m.provider.Up(ctx)
	if err != nil {
		if isNoMigrationErr(err) {
			m.logger.Info("no migrations to apply")
			return nil
		}
		return err
	}
	if len(results) == 0 {
		m.logger.Info("no migrations to apply")
		return nil
	}
	for _, res := range results {
		m.logger.Info("migration applied",
			zap.Int64("version", res.Source.Version),
			zap.Duration("took", res.Duration))
	}

	version, err := m.provider.GetDBVersion(ctx)
	if err != nil {
		return err
	}
	m.logger.Info("migrations applied", zap.Int64("version", version))
	return nil
}

// Down rolls back migrations. Steps <=0 defaults to 1; all=true rolls everything back.
func (m *Migrator) Down(ctx context.Context, steps int, all bool) error {
	if all {
		results, err := m.provider.DownTo(ctx, 0)
		if err != nil && !isNoMigrationErr(err) {
			return err
		}
		if len(results) == 0 {
			m.logger.Info("no migrations to rollback")
			return nil
		}
		m.logger.Info("migrations rolled back", zap.String("mode", "all"), zap.Int("count", len(results)))
		return nil
	}

	if steps <= 0 {
		steps = 1
	}

	rolled := 0
	for ; rolled < steps; rolled++ {
		res, err := m.provider.Down(ctx)
		if err != nil {
			if isNoMigrationErr(err) {
				break
			}
			return err
		}
		if res == nil {
			break
		}
		m.logger.Info("migration rolled back", zap.Int64("version", res.Source.Version))
	}

	if rolled == 0 {
		m.logger.Info("no migrations to rollback")
		return nil
	}
	m.logger.Info("migrations rolled back", zap.Int("steps", rolled))
	return nil
}

// Status lists every embedded migration in version order with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]AppliedVersion, error) {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]AppliedVersion, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, AppliedVersion{
			Version: st.Source.Version,
			Applied: st.State == goose.StateApplied,
		})
	}
	return out, nil
}

func isNoMigrationErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, goose.ErrNoNextVersion) || errors.Is(err, goose.ErrNoMigrationFiles) {
		return true
	}

	return strings.Contains(err.Error(), "no migrations")
}
