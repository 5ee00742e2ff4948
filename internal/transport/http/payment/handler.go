package payment

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sudspoint/washcore/internal/dto"
	"github.com/sudspoint/washcore/internal/presentation/http/response"
	service "github.com/sudspoint/washcore/internal/service/payment"
	"github.com/sudspoint/washcore/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/sudspoint/washcore/transport/http/payment")

// Handler exposes the payment ledger over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs a payment Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with the provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	e.POST("/orders/:id/payments", h.register)
}

func (h *Handler) register(c echo.Context) error {
	b := response.New(c)

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return b.WithError(errorbank.BadRequest("invalid id", errorbank.WithCause(err))).Build()
	}

	var payload struct {
		Method         string          `json:"method"`
		Amount         decimal.Decimal `json:"amount"`
		IsTip          bool            `json:"is_tip"`
		Reference      *string         `json:"reference"`
		IdempotencyKey *string         `json:"idempotency_key"`
		ConfirmOverpay bool            `json:"confirm_overpay"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "payments.register", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.Bool("payment.is_tip", payload.IsTip),
	))
	defer span.End()

	payments, order, err := h.svc.Register(ctx, orderID, service.RegisterInput{
		Method:         payload.Method,
		Amount:         payload.Amount,
		IsTip:          payload.IsTip,
		Reference:      payload.Reference,
		IdempotencyKey: payload.IdempotencyKey,
		ConfirmOverpay: payload.ConfirmOverpay,
		Actor:          c.Request().Header.Get("X-Actor"),
	})
	if err != nil {
		return b.WithError(err).Build()
	}

	out := make([]dto.PaymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, dto.FromPayment(p))
	}
	return b.WithStatus(http.StatusCreated).
		WithData(out).
		WithMeta("order", dto.FromOrder(order)).
		Build()
}
