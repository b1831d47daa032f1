package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Additional-Code/chefeye/internal/cache"
)

// OrderCounter counts durable orders created inside any of the given ranges.
type OrderCounter interface {
	CountCreated(ctx context.Context, ranges []TimeRange, includeCancelled bool) (int64, error)
}

// Clock returns the current instant.
type Clock func() time.Time

// Baseline is the value written to one counter key by a reconciliation.
type Baseline struct {
	Key   string
	Count int64
}

// Initializer rebuilds the admission counters from order history.
type Initializer struct {
	orders           OrderCounter
	counter          cache.Counter
	scheme           KeyScheme
	now              Clock
	includeCancelled bool
	interval         time.Duration
	logger           *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// InitializerOptions tune reconciliation.
type InitializerOptions struct {
	IncludeCancelled  bool
	ReconcileInterval time.Duration
	Clock             Clock
}

// NewInitializer wires an Initializer.
func NewInitializer(orders OrderCounter, counter cache.Counter, scheme KeyScheme, opts InitializerOptions, logger *zap.Logger) *Initializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Initializer{
		orders:           orders,
		counter:          counter,
		scheme:           scheme,
		now:              now,
		includeCancelled: opts.IncludeCancelled,
		interval:         opts.ReconcileInterval,
		logger:           logger,
	}
}

// Initialize recounts every window of the key scheme and overwrites the counters.
func (i *Initializer) Initialize(ctx context.Context) ([]Baseline, error) {
	ctx, span := tracer.Start(ctx, "Initializer.Initialize")
	defer span.End()

	windows := i.scheme.Windows(i.now())
	out := make([]Baseline, 0, len(windows))
	for _, w := range windows {
		count, err := i.orders.CountCreated(ctx, w.Ranges, i.includeCancelled)
		if err != nil {
			span.RecordError(err)
			return out, fmt.Errorf("count orders for %s: %w", w.Key, err)
		}
		if err := i.counter.Set(ctx, w.Key, count, i.scheme.TTL()); err != nil {
			span.RecordError(err)
			return out, fmt.Errorf("set counter %s: %w", w.Key, err)
		}
		out = append(out, Baseline{Key: w.Key, Count: count})
	}

	fields := make([]zap.Field, 0, len(out)+1)
	fields = append(fields, zap.String("scheme", i.scheme.Name()))
	for _, b := range out {
		fields = append(fields, zap.Int64(b.Key, b.Count))
	}
	i.logger.Info("admission counters initialised", fields...)
	return out, nil
}

// Start runs Initialize once and, when an interval is configured, keeps
// reconciling in the background until Stop.
func (i *Initializer) Start(ctx context.Context) error {
	if _, err := i.Initialize(ctx); err != nil {
		return err
	}
	if i.interval <= 0 {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	i.cancel = cancel
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		i.reconcileLoop(runCtx)
	}()
	i.logger.Info("periodic counter reconciliation enabled", zap.Duration("interval", i.interval))
	return nil
}

// Stop halts periodic reconciliation.
func (i *Initializer) Stop(ctx context.Context) error {
	if i.cancel == nil {
		return nil
	}
	i.cancel()
	done := make(chan struct{})
	go func() {
		i.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (i *Initializer) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := i.Initialize(ctx); err != nil && ctx.Err() == nil {
				i.logger.Error("counter reconciliation failed", zap.Error(err))
			}
		}
	}
}
