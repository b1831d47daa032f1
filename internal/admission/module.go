package admission

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/chefeye/internal/cache"
	"github.com/Additional-Code/chefeye/internal/config"
)

// Module provides the key scheme, the limiter and the initializer.
var Module = fx.Provide(
	newKeyScheme,
	newLimiter,
	newInitializer,
)

// Startup recounts the counters before the servers start accepting traffic
// and keeps the optional periodic reconciliation running until shutdown.
var Startup = fx.Invoke(func(lc fx.Lifecycle, initializer *Initializer) {
	lc.Append(fx.Hook{
		OnStart: initializer.Start,
		OnStop:  initializer.Stop,
	})
})

func newKeyScheme(cfg config.Config) (KeyScheme, error) {
	return NewKeyScheme(cfg.Admission.KeyScheme, cfg.Admission.KeyTTL)
}

func newLimiter(counter cache.Counter, scheme KeyScheme, cfg config.Config, logger *zap.Logger) *Limiter {
	return NewLimiter(counter, scheme, Limits{
		Day:   cfg.Admission.DayLimit,
		Night: cfg.Admission.NightLimit,
	}, cfg.Admission.CompensationTimeout, logger)
}

func newInitializer(orders OrderCounter, counter cache.Counter, scheme KeyScheme, cfg config.Config, logger *zap.Logger) *Initializer {
	return NewInitializer(orders, counter, scheme, InitializerOptions{
		IncludeCancelled:  cfg.Admission.CountCancelled,
		ReconcileInterval: cfg.Admission.ReconcileInterval,
	}, logger)
}
