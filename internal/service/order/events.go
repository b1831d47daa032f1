package order

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/Additional-Code/chefeye/internal/entity"
)

// Event types published on the orders topic.
const (
	EventOrderCreated       = "order.created"
	EventOrderCancelled     = "order.cancelled"
	EventOrderStatusChanged = "order.status_changed"
)

// OrderEvent is emitted after an order change has been committed.
type OrderEvent struct {
	Type        string    `json:"type"`
	ID          string    `json:"id"`
	CustomerID  string    `json:"customer_id"`
	Status      string    `json:"status"`
	TotalAmount string    `json:"total_amount"`
	Items       int       `json:"items"`
	CreatedAt   time.Time `json:"created_at"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func (s *Service) publish(ctx context.Context, eventType string, order *entity.Order) {
	if !s.messaging.enabled || s.publisher == nil {
		return
	}
	event := OrderEvent{
		Type:        eventType,
		ID:          order.ID.String(),
		CustomerID:  order.CustomerID,
		Status:      string(order.Status),
		TotalAmount: order.TotalAmount.StringFixed(2),
		Items:       len(order.Items),
		CreatedAt:   order.CreatedAt,
		OccurredAt:  s.now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal order event", zap.String("type", eventType), zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, []byte("order-"+event.ID), payload); err != nil {
		s.logger.Error("publish order event", zap.String("type", eventType), zap.Error(err))
	}
}
