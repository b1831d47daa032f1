package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/chefeye/internal/admission"
	"github.com/Additional-Code/chefeye/internal/cache"
	"github.com/Additional-Code/chefeye/internal/config"
	"github.com/Additional-Code/chefeye/internal/entity"
	"github.com/Additional-Code/chefeye/internal/messaging"
	repo "github.com/Additional-Code/chefeye/internal/repository/order"
	"github.com/Additional-Code/chefeye/internal/saga"
	"github.com/Additional-Code/chefeye/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/chefeye/service/order")

const maxQuantity = 100

// Repository is the persistence the service needs.
type Repository interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx repo.Tx) error) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Order, error)
	FindForCustomer(ctx context.Context, id uuid.UUID, customerID string) (*entity.Order, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to entity.OrderStatus) (bool, error)
}

// LineItem is one requested menu item and its quantity.
type LineItem struct {
	MenuItemID uuid.UUID
	Quantity   int
}

// Service encapsulates business logic around orders.
type Service struct {
	repo      Repository
	limiter   *admission.Limiter
	sagas     *saga.Runner
	cache     cache.Store
	cacheTTL  time.Duration
	logger    *zap.Logger
	publisher messaging.Client
	messaging messagingConfig
	now       admission.Clock
}

// messagingConfig contains messaging specific knobs we care about.
type messagingConfig struct {
	enabled bool
	topic   string
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository Repository
	Limiter    *admission.Limiter
	Cache      cache.Store
	Config     config.Config
	Logger     *zap.Logger
	Publisher  messaging.Client
	Clock      admission.Clock `optional:"true"`
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := p.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:      p.Repository,
		limiter:   p.Limiter,
		sagas:     saga.New(logger, p.Config.Admission.CompensationTimeout),
		cache:     p.Cache,
		cacheTTL:  p.Config.Cache.DefaultTTL,
		logger:    logger,
		publisher: p.Publisher,
		messaging: messagingConfig{
			enabled: p.Config.Messaging.Enabled,
			topic:   p.Config.Messaging.Kafka.Topic,
		},
		now: now,
	}
}

// Create admits the order into the current shift quota and persists it with
// prices captured from the menu. The counter and the database share no
// transaction, so creation runs as a saga: the admission step is compensated
// by a counter decrement when persisting fails or ctx is cancelled.
func (s *Service) Create(ctx context.Context, customerID string, items []LineItem) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Create", trace.WithAttributes(
		attribute.String("order.customer_id", customerID),
		attribute.Int("order.items", len(items)),
	))
	defer span.End()

	if err := validateLineItems(customerID, items); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	var (
		ticket *admission.Ticket
		order  *entity.Order
	)
	err := s.sagas.Run(ctx, "order.create",
		saga.Step{
			Name: "admit",
			Do: func(ctx context.Context) error {
				t, err := s.limiter.Admit(ctx, now)
				ticket = t
				return err
			},
			Compensate: func(ctx context.Context) error {
				return ticket.Release(ctx)
			},
		},
		saga.Step{
			Name: "persist",
			Do: func(ctx context.Context) error {
				o, err := s.persist(ctx, customerID, items, now)
				order = o
				return err
			},
		},
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create rejected")
		var appErr *errorbank.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		s.logger.Error("order creation failed", zap.String("customer_id", customerID), zap.Error(err))
		return nil, errorbank.Internal("failed to create order",
			errorbank.WithCause(err),
			errorbank.WithReasons("Failed to create order"))
	}

	span.SetAttributes(attribute.String("order.id", order.ID.String()))
	s.logger.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("customer_id", customerID),
		zap.String("shift", ticket.Shift().String()),
		zap.String("total_amount", order.TotalAmount.StringFixed(2)),
	)

	s.publish(ctx, EventOrderCreated, order)
	return order, nil
}

func (s *Service) persist(ctx context.Context, customerID string, items []LineItem, now time.Time) (*entity.Order, error) {
	var order *entity.Order
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx repo.Tx) error {
		ids := make([]uuid.UUID, 0, len(items))
		for _, it := range items {
			ids = append(ids, it.MenuItemID)
		}
		prices, err := tx.MenuItemPrices(ctx, ids)
		if err != nil {
			return err
		}

		var missing []string
		for _, id := range ids {
			if _, ok := prices[id]; !ok {
				missing = append(missing, fmt.Sprintf("Menu item %s does not exist.", id))
			}
		}
		if len(missing) > 0 {
			return errorbank.Unprocessable("unknown menu items", errorbank.WithReasons(missing...))
		}

		order = buildOrder(customerID, items, prices, now)
		return tx.InsertOrder(ctx, order)
	})
	if err != nil {
		var appErr *errorbank.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, errorbank.Internal("failed to create order",
			errorbank.WithCause(err),
			errorbank.WithReasons("Failed to create order"))
	}
	return order, nil
}

func buildOrder(customerID string, items []LineItem, prices map[uuid.UUID]decimal.Decimal, now time.Time) *entity.Order {
	order := &entity.Order{
		ID:          uuid.New(),
		CustomerID:  customerID,
		Status:      entity.StatusCreated,
		TotalAmount: decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
		Items:       make([]*entity.OrderItem, 0, len(items)),
	}
	for _, it := range items {
		line := &entity.OrderItem{
			ID:         uuid.New(),
			OrderID:    order.ID,
			MenuItemID: it.MenuItemID,
			Quantity:   it.Quantity,
			UnitPrice:  prices[it.MenuItemID],
		}
		order.Items = append(order.Items, line)
		order.TotalAmount = order.TotalAmount.Add(line.LineTotal())
	}
	return order
}

func validateLineItems(customerID string, items []LineItem) error {
	var reasons []string
	if customerID == "" {
		reasons = append(reasons, "Customer is required.")
	}
	if len(items) == 0 {
		reasons = append(reasons, "Order must contain at least one item.")
	}

	seen := make(map[uuid.UUID]struct{}, len(items))
	duplicate := false
	for _, it := range items {
		if it.MenuItemID == uuid.Nil {
			reasons = append(reasons, "Menu item ID is required.")
		}
		if it.Quantity <= 0 {
			reasons = append(reasons, "Quantity must be greater than 0.")
		} else if it.Quantity > maxQuantity {
			reasons = append(reasons, fmt.Sprintf("Quantity must not exceed %d.", maxQuantity))
		}
		if _, ok := seen[it.MenuItemID]; ok {
			duplicate = true
		}
		seen[it.MenuItemID] = struct{}{}
	}
	if duplicate {
		reasons = append(reasons, "Order must not contain duplicate menu items.")
	}

	if len(reasons) > 0 {
		return errorbank.BadRequest("invalid order", errorbank.WithReasons(reasons...))
	}
	return nil
}

// Cancel cancels an order of customerID that has not entered fulfillment yet
// and gives its slot back to the shift it was created in. The status change
// is conditional, so only one of several concurrent cancellations releases
// the slot. A failed release is logged and does not block the cancellation.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, customerID string) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Cancel", trace.WithAttributes(attribute.String("order.id", id.String())))
	defer span.End()

	order, err := s.repo.FindForCustomer(ctx, id, customerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errorbank.NotFound("order not found", errorbank.WithReasons("Order not found"))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to load order", errorbank.WithCause(err))
	}

	if !order.Status.Cancellable() {
		return nil, invalidState(order.Status)
	}

	ok, err := s.repo.TransitionStatus(ctx, id, entity.StatusCreated, entity.StatusCancelled)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to cancel order", errorbank.WithCause(err))
	}
	if !ok {
		// Another request moved the order on between the read and the update.
		return nil, invalidState(entity.StatusCancelled)
	}

	if err := s.limiter.Release(ctx, order.CreatedAt); err != nil {
		s.logger.Warn("cancelled order slot not released",
			zap.String("order_id", id.String()),
			zap.Time("created_at", order.CreatedAt),
			zap.Error(err))
	}

	order.Status = entity.StatusCancelled
	order.UpdatedAt = s.now().UTC()
	s.invalidate(ctx, id)
	s.publish(ctx, EventOrderCancelled, order)
	return order, nil
}

// AdvanceStatus moves an order along the fulfillment pipeline.
func (s *Service) AdvanceStatus(ctx context.Context, id uuid.UUID, next entity.OrderStatus) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.AdvanceStatus", trace.WithAttributes(
		attribute.String("order.id", id.String()),
		attribute.String("order.status", string(next)),
	))
	defer span.End()

	if next == entity.StatusCancelled {
		return nil, errorbank.BadRequest("orders are cancelled through the cancel operation")
	}

	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.loadError(span, err)
	}
	if !order.Status.CanTransitionTo(next) {
		return nil, errorbank.Conflict(
			fmt.Sprintf("cannot move order from %s to %s", order.Status, next),
			errorbank.WithDetail("status", string(order.Status)))
	}

	ok, err := s.repo.TransitionStatus(ctx, id, order.Status, next)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to update order", errorbank.WithCause(err))
	}
	if !ok {
		return nil, errorbank.Conflict("order status changed concurrently")
	}

	order.Status = next
	order.UpdatedAt = s.now().UTC()
	s.invalidate(ctx, id)
	s.publish(ctx, EventOrderStatusChanged, order)
	return order, nil
}

// Get retrieves an order by id, consulting cache when available. Only orders
// in a terminal status are written back, so a read racing a status change can
// never park an outdated row in the cache.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Get", trace.WithAttributes(attribute.String("order.id", id.String())))
	defer span.End()

	if order, err := s.getFromCache(ctx, id); err == nil {
		return order, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("orders cache read failed", zap.String("id", id.String()), zap.Error(err))
	}

	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.loadError(span, err)
	}

	if err := s.storeInCache(ctx, order); err != nil {
		s.logger.Warn("orders cache write failed", zap.String("id", id.String()), zap.Error(err))
	}
	return order, nil
}

func (s *Service) loadError(span trace.Span, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return errorbank.NotFound("order not found")
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "repository error")
	return errorbank.Internal("failed to load order", errorbank.WithCause(err))
}

func invalidState(status entity.OrderStatus) error {
	msg := fmt.Sprintf("Cannot cancel order in status %s", status)
	return errorbank.Conflict(msg,
		errorbank.WithReasons(msg),
		errorbank.WithDetail("status", string(status)))
}

func (s *Service) cacheKey(id uuid.UUID) string {
	return "orders:id:" + id.String()
}

func (s *Service) getFromCache(ctx context.Context, id uuid.UUID) (*entity.Order, error) {
	if s.cache == nil {
		return nil, cache.ErrCacheMiss
	}
	bytes, err := s.cache.Get(ctx, s.cacheKey(id))
	if err != nil {
		return nil, err
	}
	var order entity.Order
	if err := json.Unmarshal(bytes, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Service) storeInCache(ctx context.Context, order *entity.Order) error {
	if s.cache == nil || order == nil || !order.Status.Terminal() {
		return nil
	}
	bytes, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, s.cacheKey(order.ID), bytes, s.cacheTTL)
}

func (s *Service) invalidate(ctx context.Context, id uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, s.cacheKey(id)); err != nil {
		s.logger.Warn("orders cache invalidation failed", zap.String("id", id.String()), zap.Error(err))
	}
}
