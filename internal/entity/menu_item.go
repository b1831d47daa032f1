package entity

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// MenuItem is a dish that can be ordered.
type MenuItem struct {
	bun.BaseModel `bun:"table:menu_items"`

	ID          uuid.UUID       `bun:"id,pk,type:uuid"`
	Name        string          `bun:"name,notnull"`
	Description string          `bun:"description"`
	Price       decimal.Decimal `bun:"price,type:numeric(12,2),notnull"`
}
