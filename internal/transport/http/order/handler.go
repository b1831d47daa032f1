package order

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/chefeye/internal/dto"
	"github.com/Additional-Code/chefeye/internal/entity"
	"github.com/Additional-Code/chefeye/internal/presentation/http/response"
	service "github.com/Additional-Code/chefeye/internal/service/order"
	"github.com/Additional-Code/chefeye/pkg/errorbank"
)

// CustomerHeader identifies the authenticated customer. Authentication itself
// happens upstream of this service.
const CustomerHeader = "X-Customer-ID"

var httpTracer = otel.Tracer("github.com/Additional-Code/chefeye/transport/http/order")

// Service is the order use-case surface the handler drives.
type Service interface {
	Create(ctx context.Context, customerID string, items []service.LineItem) (*entity.Order, error)
	Cancel(ctx context.Context, id uuid.UUID, customerID string) (*entity.Order, error)
	Get(ctx context.Context, id uuid.UUID) (*entity.Order, error)
	AdvanceStatus(ctx context.Context, id uuid.UUID, next entity.OrderStatus) (*entity.Order, error)
}

// Handler exposes order endpoints over HTTP.
type Handler struct {
	svc Service
}

// NewHandler constructs an order Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with provided Echo group.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/orders")
	g.POST("", h.create)
	g.GET("/:id", h.getByID)
	g.PATCH("/:id/cancel", h.cancel)
	g.PATCH("/:id/status", h.updateStatus)
}

func (h *Handler) create(c echo.Context) error {
	b := response.New(c)

	customerID := c.Request().Header.Get(CustomerHeader)
	if customerID == "" {
		return b.WithError(missingCustomer()).Build()
	}

	var payload dto.CreateOrderRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	items := make([]service.LineItem, 0, len(payload.Items))
	for _, it := range payload.Items {
		var id uuid.UUID
		if it.MenuItemID != "" {
			parsed, err := uuid.Parse(it.MenuItemID)
			if err != nil {
				return b.WithError(errorbank.BadRequest("invalid menu item id",
					errorbank.WithCause(err),
					errorbank.WithReasons("Menu item ID "+it.MenuItemID+" is not a valid identifier."))).Build()
			}
			id = parsed
		}
		items = append(items, service.LineItem{MenuItemID: id, Quantity: it.Quantity})
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.create", trace.WithAttributes(
		attribute.String("order.customer_id", customerID),
	))
	defer span.End()

	order, err := h.svc.Create(ctx, customerID, items)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithStatus(http.StatusCreated).WithData(dto.NewOrderResponse(order)).Build()
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c)

	id, err := parseID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.getByID", trace.WithAttributes(attribute.String("order.id", id.String())))
	defer span.End()

	order, err := h.svc.Get(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(dto.NewOrderResponse(order)).Build()
}

func (h *Handler) cancel(c echo.Context) error {
	b := response.New(c)

	id, err := parseID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	customerID := c.Request().Header.Get(CustomerHeader)
	if customerID == "" {
		return b.WithError(missingCustomer()).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.cancel", trace.WithAttributes(attribute.String("order.id", id.String())))
	defer span.End()

	order, err := h.svc.Cancel(ctx, id, customerID)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(dto.NewOrderResponse(order)).Build()
}

func (h *Handler) updateStatus(c echo.Context) error {
	b := response.New(c)

	id, err := parseID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	var payload dto.UpdateStatusRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	next, err := entity.ParseOrderStatus(payload.Status)
	if err != nil {
		return b.WithError(errorbank.BadRequest("invalid status", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.updateStatus", trace.WithAttributes(
		attribute.String("order.id", id.String()),
		attribute.String("order.status", string(next)),
	))
	defer span.End()

	order, err := h.svc.AdvanceStatus(ctx, id, next)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(dto.NewOrderResponse(order)).Build()
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, errorbank.BadRequest("invalid id", errorbank.WithCause(err))
	}
	return id, nil
}

func missingCustomer() error {
	return errorbank.BadRequest("missing customer",
		errorbank.WithReasons(CustomerHeader+" header is required."))
}
