package dto

import (
	"time"

	"github.com/Additional-Code/chefeye/internal/entity"
)

// CreateOrderItemRequest is one line of an order placement.
type CreateOrderItemRequest struct {
	MenuItemID string `json:"menu_item_id"`
	Quantity   int    `json:"quantity"`
}

// CreateOrderRequest is the order placement payload.
type CreateOrderRequest struct {
	Items []CreateOrderItemRequest `json:"items"`
}

// UpdateStatusRequest moves an order along the fulfillment pipeline.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// OrderItemResponse represents an order line as exposed via transport layers.
type OrderItemResponse struct {
	ID         string `json:"id"`
	MenuItemID string `json:"menu_item_id"`
	Quantity   int    `json:"quantity"`
	UnitPrice  string `json:"unit_price"`
	LineTotal  string `json:"line_total"`
}

// OrderResponse represents an order as exposed via transport layers.
type OrderResponse struct {
	ID          string              `json:"id"`
	CustomerID  string              `json:"customer_id"`
	Status      string              `json:"status"`
	TotalAmount string              `json:"total_amount"`
	Items       []OrderItemResponse `json:"items"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at,omitempty"`
}

// NewOrderResponse maps an order entity to its transport shape.
func NewOrderResponse(order *entity.Order) OrderResponse {
	items := make([]OrderItemResponse, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, OrderItemResponse{
			ID:         it.ID.String(),
			MenuItemID: it.MenuItemID.String(),
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice.StringFixed(2),
			LineTotal:  it.LineTotal().StringFixed(2),
		})
	}
	return OrderResponse{
		ID:          order.ID.String(),
		CustomerID:  order.CustomerID,
		Status:      string(order.Status),
		TotalAmount: order.TotalAmount.StringFixed(2),
		Items:       items,
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.UpdatedAt,
	}
}
