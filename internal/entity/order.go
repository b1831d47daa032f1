package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Order is a customer order. TotalAmount is fixed at creation from the menu
// prices of that moment and never recomputed.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID          uuid.UUID       `bun:"id,pk,type:uuid"`
	CustomerID  string          `bun:"customer_id,notnull"`
	Status      OrderStatus     `bun:"status,notnull"`
	TotalAmount decimal.Decimal `bun:"total_amount,type:numeric(12,2),notnull"`
	CreatedAt   time.Time       `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time       `bun:"updated_at,nullzero"`

	Items []*OrderItem `bun:"rel:has-many,join:id=order_id"`
}

// OrderItem is an immutable line of an order.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	ID         uuid.UUID       `bun:"id,pk,type:uuid"`
	OrderID    uuid.UUID       `bun:"order_id,type:uuid,notnull"`
	MenuItemID uuid.UUID       `bun:"menu_item_id,type:uuid,notnull"`
	Quantity   int             `bun:"quantity,notnull"`
	UnitPrice  decimal.Decimal `bun:"unit_price,type:numeric(12,2),notnull"`
}

// LineTotal returns unit price times quantity.
func (i *OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
