package notify

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/sudspoint/washcore/internal/event"
	"github.com/sudspoint/washcore/internal/worker"
)

var workerTracer = otel.Tracer("github.com/sudspoint/washcore/worker/notify")

// Module registers the notification dispatcher handler.
var Module = fx.Module("worker_notify",
	fx.Provide(
		fx.Annotate(
			NewHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// NewHandler builds the notification dispatcher. It fires after an order
// finishes or a document is issued; delivery is fire-and-forget and never
// part of the originating transaction.
func NewHandler(logger *zap.Logger) worker.HandlerRegistration {
	handler := func(ctx context.Context, ev event.Event) error {
		_, span := workerTracer.Start(ctx, "worker.notify.dispatch", trace.WithAttributes(
			attribute.String("event.type", string(ev.Type)),
			attribute.Int64("order.id", ev.OrderID),
		))
		defer span.End()

		logger.Info("notification dispatched",
			zap.String("type", string(ev.Type)),
			zap.Int64("tenant_id", ev.TenantID),
			zap.Int64("order_id", ev.OrderID),
		)

		return nil
	}

	return worker.HandlerRegistration{
		Name:    "notify",
		Types:   []event.Type{event.OrderFinished, event.DocumentIssued},
		Handler: handler,
	}
}
