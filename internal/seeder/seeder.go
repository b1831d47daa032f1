package seeder

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/chefeye/internal/database"
	"github.com/Additional-Code/chefeye/internal/entity"
)

// Module provides the seeder to Fx.
var Module = fx.Provide(New)

// Seeder performs database seeding for local/dev setups.
type Seeder struct {
	db     bun.IDB
	logger *zap.Logger
}

// New constructs a Seeder backed by the primary database connection.
func New(conns *database.Connections, logger *zap.Logger) *Seeder {
	return &Seeder{db: conns.Writer, logger: logger}
}

// Menu returns the starter menu. Identifiers are fixed so seeding is repeatable
// and clients can hard-code them in local setups.
func Menu() []entity.MenuItem {
	return []entity.MenuItem{
		{
			ID:          uuid.MustParse("98758B15-218D-4711-A0DD-F7A87E80197F"),
			Name:        "Pancake",
			Description: "Fluffy pancakes with maple syrup",
			Price:       decimal.RequireFromString("4.50"),
		},
		{
			ID:          uuid.MustParse("1CEDFF26-8134-4C53-B22A-7F3E61ABB594"),
			Name:        "Coffee",
			Description: "Freshly brewed filter coffee",
			Price:       decimal.RequireFromString("3.50"),
		},
		{
			ID:          uuid.MustParse("E71FFCD6-01C2-48E9-8A11-B9E8CE2E9AEF"),
			Name:        "Pasta",
			Description: "Spaghetti with tomato sauce",
			Price:       decimal.RequireFromString("13.00"),
		},
	}
}

// MenuItems seeds the starter menu, leaving existing rows untouched.
func (s *Seeder) MenuItems(ctx context.Context) error {
	items := Menu()
	res, err := s.db.NewInsert().Model(&items).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}

	if s.logger != nil {
		inserted, _ := res.RowsAffected()
		s.logger.Info("seeded menu items", zap.Int("count", len(items)), zap.Int64("inserted", inserted))
	}
	return nil
}
