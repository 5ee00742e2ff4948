package app

import (
	"go.uber.org/fx"

	"github.com/sudspoint/washcore/internal/cache"
	"github.com/sudspoint/washcore/internal/config"
	"github.com/sudspoint/washcore/internal/database"
	"github.com/sudspoint/washcore/internal/event"
	"github.com/sudspoint/washcore/internal/logger"
	"github.com/sudspoint/washcore/internal/messaging"
	"github.com/sudspoint/washcore/internal/observability"
	repositorydirectory "github.com/sudspoint/washcore/internal/repository/directory"
	repositorydocument "github.com/sudspoint/washcore/internal/repository/document"
	repositoryorder "github.com/sudspoint/washcore/internal/repository/order"
	repositorypricing "github.com/sudspoint/washcore/internal/repository/pricing"
	httpserver "github.com/sudspoint/washcore/internal/server/http"
	servicedirectory "github.com/sudspoint/washcore/internal/service/directory"
	servicedocument "github.com/sudspoint/washcore/internal/service/document"
	serviceorder "github.com/sudspoint/washcore/internal/service/order"
	servicepayment "github.com/sudspoint/washcore/internal/service/payment"
	servicepricing "github.com/sudspoint/washcore/internal/service/pricing"
	transporthttp "github.com/sudspoint/washcore/internal/transport/http"
	"github.com/sudspoint/washcore/internal/worker"
	workeraudit "github.com/sudspoint/washcore/internal/worker/audit"
	workernotify "github.com/sudspoint/washcore/internal/worker/notify"
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	config.Module,
	cache.Module,
	database.Module,
	logger.Module,
	messaging.Module,
	observability.Module,
	event.Module,
	repositorydirectory.Module,
	repositorypricing.Module,
	repositoryorder.Module,
	repositorydocument.Module,
	servicedirectory.Module,
	servicepricing.Module,
	serviceorder.Module,
	servicepayment.Module,
	servicedocument.Module,
)

// HTTP wires the HTTP transport on top of the core modules.
var HTTP = fx.Options(
	Core,
	httpserver.Module,
	transporthttp.Module,
)

// Worker exposes background event processing.
var Worker = fx.Options(
	Core,
	worker.Module,
	workeraudit.Module,
	workernotify.Module,
)

// Module is the default application wiring (HTTP only).
var Module = HTTP
