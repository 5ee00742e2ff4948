package audit

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

var workerTracer = otel.Tracer("github.com/sudspoint/washcore/worker/audit")

// Module registers the audit sink handler.
var Module = fx.Module("worker_audit",
	fx.Provide(
		fx.Annotate(
			NewHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// NewHandler builds the audit sink: a structured record of every state
// transition, pricing change, payment, and issuance, written out of band.
func NewHandler(logger *zap.Logger) worker.HandlerRegistration {
	audit := logger.Named("audit")

	handler := func(ctx context.Context, ev event.Event) error {
		_, span := workerTracer.Start(ctx, "worker.audit.record", trace.WithAttributes(
			attribute.String("event.type", string(ev.Type)),
		))
		defer span.End()

		audit.Info("domain event",
			zap.String("event_id", ev.ID),
			zap.String("type", string(ev.Type)),
			zap.Int64("tenant_id", ev.TenantID),
			zap.Int64("order_id", ev.OrderID),
			zap.String("actor", ev.Actor),
			zap.Time("occurred_at", ev.OccurredAt),
			zap.ByteString("payload", ev.Payload),
		)

		return nil
	}

	return worker.HandlerRegistration{
		Name:    "audit",
		Handler: handler, // subscribes to every event
	}
}
