package order

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/chefeye/internal/admission"
)

// Module provides the order repository to Fx, also as the initializer's order counter.
var Module = fx.Provide(
	NewRepository,
	func(r *Repository) admission.OrderCounter { return r },
)
