package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Step is one forward action of a saga and its optional compensation.
// Do must leave no partial effect behind when it fails; Compensate undoes a
// Do that succeeded.
type Step struct {
	Name       string
	Do         func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Runner executes sagas spanning systems that share no transaction.
type Runner struct {
	logger  *zap.Logger
	timeout time.Duration
}

// New builds a Runner. Compensations get their own deadline of timeout.
func New(logger *zap.Logger, timeout time.Duration) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Runner{logger: logger, timeout: timeout}
}

// Run executes steps in order. When a step fails, or ctx is cancelled between
// steps, the compensations of every completed step run in reverse order on a
// context detached from ctx cancellation. Compensation failures are logged and
// never replace the original error, which is returned as is.
func (r *Runner) Run(ctx context.Context, name string, steps ...Step) error {
	for i, step := range steps {
		err := ctx.Err()
		if err == nil {
			err = step.Do(ctx)
		}
		if err != nil {
			r.compensate(ctx, name, steps[:i])
			return err
		}
	}
	return nil
}

func (r *Runner) compensate(ctx context.Context, name string, done []Step) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.Compensate == nil {
			continue
		}
		if err := runCompensation(ctx, step); err != nil {
			r.logger.Error("saga compensation failed",
				zap.String("saga", name),
				zap.String("step", step.Name),
				zap.Error(err),
			)
			continue
		}
		r.logger.Debug("saga step compensated", zap.String("saga", name), zap.String("step", step.Name))
	}
}

func runCompensation(ctx context.Context, step Step) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Join(err, fmt.Errorf("panic: %v", rec))
		}
	}()
	return step.Compensate(ctx)
}
