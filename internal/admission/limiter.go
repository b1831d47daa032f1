package admission

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Additional-Code/chefeye/internal/cache"
	"github.com/Additional-Code/chefeye/pkg/errorbank"
)

const instrumentationName = "github.com/Additional-Code/chefeye/admission"

var tracer = otel.Tracer(instrumentationName)

// Limits are the per-shift order quotas.
type Limits struct {
	Day   int64
	Night int64
}

// For returns the quota of the given shift type.
func (l Limits) For(t ShiftType) int64 {
	if t == Night {
		return l.Night
	}
	return l.Day
}

// Limiter enforces shift quotas on top of an atomic counter.
// No in-process lock is held; correctness rests on the counter's atomic Incr/Decr.
type Limiter struct {
	counter             cache.Counter
	scheme              KeyScheme
	limits              Limits
	compensationTimeout time.Duration
	logger              *zap.Logger

	admitted      metric.Int64Counter
	rejected      metric.Int64Counter
	compensations metric.Int64Counter
}

// NewLimiter wires a Limiter. A non-positive compensationTimeout defaults to five seconds.
func NewLimiter(counter cache.Counter, scheme KeyScheme, limits Limits, compensationTimeout time.Duration, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if compensationTimeout <= 0 {
		compensationTimeout = 5 * time.Second
	}

	meter := otel.Meter(instrumentationName)
	admitted, _ := meter.Int64Counter("chefeye.admission.admitted",
		metric.WithDescription("Orders admitted into a shift quota"))
	rejected, _ := meter.Int64Counter("chefeye.admission.rejected",
		metric.WithDescription("Orders rejected by admission control"))
	compensations, _ := meter.Int64Counter("chefeye.admission.compensations",
		metric.WithDescription("Compensating counter decrements"))

	l := &Limiter{
		counter:             counter,
		scheme:              scheme,
		limits:              limits,
		compensationTimeout: compensationTimeout,
		logger:              logger,
		admitted:            admitted,
		rejected:            rejected,
		compensations:       compensations,
	}

	_, err := meter.Int64ObservableGauge("chefeye.admission.current",
		metric.WithDescription("Orders counted against the current shift quota"),
		metric.WithInt64Callback(l.observeCurrent))
	if err != nil {
		logger.Warn("admission gauge not registered", zap.Error(err))
	}
	return l
}

// observeCurrent reports the current shift's counter. Backend errors skip
// the observation.
func (l *Limiter) observeCurrent(ctx context.Context, o metric.Int64Observer) error {
	shift := Classify(time.Now())
	value, err := l.counter.Get(ctx, l.scheme.Key(shift))
	if err != nil {
		return nil
	}
	o.Observe(value, metric.WithAttributes(
		attribute.String("shift", string(shift.Type)),
		attribute.Int64("limit", l.limits.For(shift.Type)),
	))
	return nil
}

// Scheme exposes the key scheme in use.
func (l *Limiter) Scheme() KeyScheme { return l.scheme }

// Admit takes one slot of the shift containing now. The counter is incremented
// first and checked afterwards; an over-limit increment is undone before the
// rejection is returned, so rejections leave no net effect.
// A counter backend failure rejects the order.
func (l *Limiter) Admit(ctx context.Context, now time.Time) (*Ticket, error) {
	shift := Classify(now)
	key := l.scheme.Key(shift)
	limit := l.limits.For(shift.Type)

	ctx, span := tracer.Start(ctx, "Limiter.Admit", trace.WithAttributes(
		attribute.String("admission.key", key),
		attribute.Int64("admission.limit", limit),
	))
	defer span.End()

	value, err := l.counter.Incr(ctx, key, l.scheme.TTL())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "counter unavailable")
		l.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "unavailable")))
		l.logger.Error("admission counter unavailable; rejecting order",
			zap.String("key", key), zap.Error(err))
		return nil, errorbank.Unavailable("order admission is temporarily unavailable",
			errorbank.WithCause(err),
			errorbank.WithReasons("Order admission is temporarily unavailable, please retry later."))
	}

	if value > limit {
		l.compensate(ctx, key, "limit_exceeded")
		l.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "limit_exceeded")))
		span.SetAttributes(attribute.Bool("admission.admitted", false))
		msg := fmt.Sprintf("Out of limit, reached maximum %d.", limit)
		return nil, errorbank.LimitExceeded(msg,
			errorbank.WithReasons(msg),
			errorbank.WithDetail("limit", limit),
			errorbank.WithDetail("shift", shift.String()))
	}

	l.admitted.Add(ctx, 1, metric.WithAttributes(attribute.String("shift", string(shift.Type))))
	span.SetAttributes(attribute.Bool("admission.admitted", true), attribute.Int64("admission.count", value))
	return &Ticket{limiter: l, key: key, shift: shift}, nil
}

// Release gives back the slot of the shift an existing order was created in.
// It runs detached from ctx cancellation and returns the backend error, if any.
func (l *Limiter) Release(ctx context.Context, createdAt time.Time) error {
	return l.compensate(ctx, l.scheme.Key(Classify(createdAt)), "release")
}

func (l *Limiter) compensate(ctx context.Context, key, cause string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.compensationTimeout)
	defer cancel()

	value, err := l.counter.Decr(ctx, key)
	if err != nil {
		l.compensations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("cause", cause), attribute.String("result", "failed")))
		l.logger.Warn("admission counter compensation failed",
			zap.String("key", key), zap.String("cause", cause), zap.Error(err))
		return err
	}
	l.compensations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cause", cause), attribute.String("result", "ok")))
	if value < 0 {
		l.logger.Warn("admission counter went negative", zap.String("key", key), zap.Int64("value", value))
	}
	return nil
}

// Ticket is an admitted slot that can be handed back once.
type Ticket struct {
	limiter  *Limiter
	key      string
	shift    Shift
	released atomic.Bool
}

// Key returns the counter key the slot was taken from.
func (t *Ticket) Key() string { return t.key }

// Shift returns the shift the slot belongs to.
func (t *Ticket) Shift() Shift { return t.shift }

// Release undoes the admission. Calls after the first are no-ops.
func (t *Ticket) Release(ctx context.Context) error {
	if t == nil || !t.released.CompareAndSwap(false, true) {
		return nil
	}
	return t.limiter.compensate(ctx, t.key, "rollback")
}
