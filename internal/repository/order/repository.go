package order

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/chefeye/internal/admission"
	"github.com/Additional-Code/chefeye/internal/database"
	"github.com/Additional-Code/chefeye/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/chefeye/repository/order")

// ErrNotFound is returned when an order is missing.
var ErrNotFound = errors.New("order not found")

// Tx is the set of writes that must commit or roll back together.
type Tx interface {
	// MenuItemPrices returns the current price of every id that exists.
	MenuItemPrices(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error)
	// InsertOrder stores the order and its items.
	InsertOrder(ctx context.Context, order *entity.Order) error
}

// Repository encapsulates read/write access for orders.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// RunInTx runs fn inside a read-committed transaction on the writer; any
// error returned by fn rolls the transaction back.
func (r *Repository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.RunInTx")
	defer span.End()

	err := r.writer.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &txRepository{db: tx})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction failed")
	}
	return err
}

type txRepository struct {
	db bun.IDB
}

func (t *txRepository) MenuItemPrices(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.MenuItemPrices", trace.WithAttributes(attribute.Int("menu_item.count", len(ids))))
	defer span.End()

	prices := make(map[uuid.UUID]decimal.Decimal, len(ids))
	if len(ids) == 0 {
		return prices, nil
	}

	var items []entity.MenuItem
	if err := priceQuery(t.db, &items, ids).Scan(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	for _, item := range items {
		prices[item.ID] = item.Price
	}
	return prices, nil
}

func (t *txRepository) InsertOrder(ctx context.Context, order *entity.Order) error {
	if order == nil {
		return errors.New("nil order")
	}
	ctx, span := repoTracer.Start(ctx, "OrderRepository.InsertOrder", trace.WithAttributes(attribute.String("order.id", order.ID.String())))
	defer span.End()

	if _, err := insertOrderQuery(t.db, order).Exec(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert order failed")
		return err
	}
	if len(order.Items) == 0 {
		return nil
	}
	if _, err := insertItemsQuery(t.db, order).Exec(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert items failed")
		return err
	}
	return nil
}

// GetByID fetches an order with its items using the read replica when available.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.GetByID", trace.WithAttributes(attribute.String("order.id", id.String())))
	defer span.End()

	order := new(entity.Order)
	err := r.reader.NewSelect().
		Model(order).
		Relation("Items").
		Where("?TableAlias.id = ?", id).
		Scan(ctx)
	if err := notFound(span, err); err != nil {
		return nil, err
	}
	return order, nil
}

// FindForCustomer fetches an order owned by customerID, items included, from
// the writer so a cancellation never acts on a stale replica row.
func (r *Repository) FindForCustomer(ctx context.Context, id uuid.UUID, customerID string) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.FindForCustomer", trace.WithAttributes(attribute.String("order.id", id.String())))
	defer span.End()

	order := new(entity.Order)
	err := r.writer.NewSelect().
		Model(order).
		Relation("Items").
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.customer_id = ?", customerID).
		Scan(ctx)
	if err := notFound(span, err); err != nil {
		return nil, err
	}
	return order, nil
}

// TransitionStatus moves an order from one status to another. It reports
// false when the order was no longer in from, which makes concurrent
// transitions of the same order mutually exclusive.
func (r *Repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to entity.OrderStatus) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.TransitionStatus", trace.WithAttributes(
		attribute.String("order.id", id.String()),
		attribute.String("order.status.from", string(from)),
		attribute.String("order.status.to", string(to)),
	))
	defer span.End()

	res, err := transitionQuery(r.writer, id, from, to, time.Now().UTC()).Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return false, err
	}
	return transitioned(res)
}

// CountCreated counts orders created inside any of the ranges. It reads from
// the writer so the baseline includes the latest commits.
func (r *Repository) CountCreated(ctx context.Context, ranges []admission.TimeRange, includeCancelled bool) (int64, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.CountCreated", trace.WithAttributes(attribute.Int("ranges", len(ranges))))
	defer span.End()

	if len(ranges) == 0 {
		return 0, nil
	}

	n, err := countCreatedQuery(r.writer, ranges, includeCancelled).Count(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "count failed")
		return 0, err
	}
	return int64(n), nil
}

func priceQuery(db bun.IDB, dest *[]entity.MenuItem, ids []uuid.UUID) *bun.SelectQuery {
	return db.NewSelect().
		Model(dest).
		Column("id", "price").
		Where("id IN (?)", bun.In(ids))
}

func insertOrderQuery(db bun.IDB, order *entity.Order) *bun.InsertQuery {
	return db.NewInsert().Model(order)
}

func insertItemsQuery(db bun.IDB, order *entity.Order) *bun.InsertQuery {
	return db.NewInsert().Model(&order.Items)
}

func transitionQuery(db bun.IDB, id uuid.UUID, from, to entity.OrderStatus, now time.Time) *bun.UpdateQuery {
	return db.NewUpdate().
		Model((*entity.Order)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", from)
}

// transitioned reports whether the conditional update matched exactly one row.
func transitioned(res sql.Result) (bool, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// countCreatedQuery matches rows created inside any of the ranges. The ranges
// are OR-ed inside one group so the status filter applies to all of them.
func countCreatedQuery(db bun.IDB, ranges []admission.TimeRange, includeCancelled bool) *bun.SelectQuery {
	q := db.NewSelect().
		Model((*entity.Order)(nil)).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			for _, tr := range ranges {
				q = q.WhereOr("created_at >= ? AND created_at < ?", tr.From, tr.To)
			}
			return q
		})
	if !includeCancelled {
		q = q.Where("status <> ?", entity.StatusCancelled)
	}
	return q
}

func notFound(span trace.Span, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
	}
	return err
}
