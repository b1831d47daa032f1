package order

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/chefeye/internal/config"
	"github.com/Additional-Code/chefeye/internal/messaging"
	ordersvc "github.com/Additional-Code/chefeye/internal/service/order"
	"github.com/Additional-Code/chefeye/internal/worker"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/chefeye/worker/order")

// Module registers order-related worker handlers.
var Module = fx.Module("worker_order",
	fx.Provide(
		fx.Annotate(
			NewOrderEventsHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// NewOrderEventsHandler sets up a worker handler that records the order
// lifecycle published on the orders topic.
func NewOrderEventsHandler(logger *zap.Logger, cfg config.Config) worker.HandlerRegistration {
	return worker.HandlerRegistration{
		Topic:   cfg.Messaging.Kafka.Topic,
		Handler: handleOrderEvent(logger),
	}
}

func handleOrderEvent(logger *zap.Logger) messaging.Handler {
	return func(ctx context.Context, msg messaging.Message) error {
		_, span := workerTracer.Start(ctx, "worker.orders.process", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
			attribute.Int64("messaging.offset", msg.Offset),
		))
		defer span.End()

		var event ordersvc.OrderEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			// A malformed payload never decodes on retry; drop it.
			logger.Error("failed to decode order event", zap.Int64("offset", msg.Offset), zap.Error(err))

			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return nil
		}
		span.SetAttributes(
			attribute.String("order.id", event.ID),
			attribute.String("order.event", event.Type),
		)

		fields := []zap.Field{
			zap.String("id", event.ID),
			zap.String("customer_id", event.CustomerID),
			zap.String("status", event.Status),
			zap.Time("occurred_at", event.OccurredAt),
		}
		switch event.Type {
		case ordersvc.EventOrderCreated:
			logger.Info("order created",
				append(fields, zap.String("total_amount", event.TotalAmount), zap.Int("items", event.Items))...)
		case ordersvc.EventOrderCancelled:
			logger.Info("order cancelled", append(fields, zap.Time("created_at", event.CreatedAt))...)
		case ordersvc.EventOrderStatusChanged:
			logger.Info("order status changed", fields...)
		default:
			logger.Warn("unknown order event type", append(fields, zap.String("type", event.Type))...)
		}
		return nil
	}
}
