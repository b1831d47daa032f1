package database

import (
	"context"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

const slowQueryThreshold = 250 * time.Millisecond

// queryLogger reports failed and slow statements. The admission initializer
// and order creation both run inside request latency budgets, so slow
// statements are worth surfacing.
type queryLogger struct {
	logger    *zap.Logger
	role      string
	threshold time.Duration
}

var _ bun.QueryHook = (*queryLogger)(nil)

func newQueryLogger(logger *zap.Logger, role string) *queryLogger {
	return &queryLogger{logger: logger, role: role, threshold: slowQueryThreshold}
}

func (h *queryLogger) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *queryLogger) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	elapsed := time.Since(event.StartTime)
	switch {
	case event.Err != nil && !isBenign(event.Err):
		h.logger.Warn("database query failed",
			zap.String("role", h.role),
			zap.String("operation", event.Operation()),
			zap.Duration("duration", elapsed),
			zap.Error(event.Err))
	case elapsed >= h.threshold:
		h.logger.Warn("slow database query",
			zap.String("role", h.role),
			zap.String("operation", event.Operation()),
			zap.Duration("duration", elapsed),
			zap.String("query", event.Query))
	}
}
