package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/chefeye/internal/admission"
	"github.com/Additional-Code/chefeye/internal/cache"
	"github.com/Additional-Code/chefeye/internal/config"
	"github.com/Additional-Code/chefeye/internal/database"
	"github.com/Additional-Code/chefeye/internal/logger"
	"github.com/Additional-Code/chefeye/internal/messaging"
	"github.com/Additional-Code/chefeye/internal/observability"
	repositoryorder "github.com/Additional-Code/chefeye/internal/repository/order"
	grpcserver "github.com/Additional-Code/chefeye/internal/server/grpc"
	httpserver "github.com/Additional-Code/chefeye/internal/server/http"
	serviceorder "github.com/Additional-Code/chefeye/internal/service/order"
	transporthttp "github.com/Additional-Code/chefeye/internal/transport/http"
	"github.com/Additional-Code/chefeye/internal/worker"
	workerorder "github.com/Additional-Code/chefeye/internal/worker/order"
)

// Core provides the foundational modules shared across executables.
// It never touches the admission counters on start.
var Core = fx.Options(
	config.Module,
	cache.Module,
	database.Module,
	logger.Module,
	messaging.Module,
	observability.Module,
	repositoryorder.Module,
	admission.Module,
	serviceorder.Module,
)

// HTTP wires the HTTP and gRPC servers on top of the core modules. The
// admission counters are recounted from the database before either server
// starts; fx runs start hooks in registration order.
var HTTP = fx.Options(
	Core,
	admission.Startup,
	httpserver.Module,
	grpcserver.Module,
	transporthttp.Module,
)

// Worker exposes background worker processing.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerorder.Module,
)

// Module is the default application wiring.
var Module = HTTP
