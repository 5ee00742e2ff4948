package pricing

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sudspoint/washcore/internal/dto"
	"github.com/sudspoint/washcore/internal/entity"
	"github.com/sudspoint/washcore/internal/presentation/http/response"
	service "github.com/sudspoint/washcore/internal/service/pricing"
	"github.com/sudspoint/washcore/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/sudspoint/washcore/transport/http/pricing")

// Handler exposes pricing endpoints over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs a pricing Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with the provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/pricing")
	g.GET("/quote", h.quote)
	g.POST("/rules", h.defineRule)
	g.POST("/rules/supersede", h.supersede)
}

func (h *Handler) quote(c echo.Context) error {
	b := response.New(c)

	tuple, err := tupleFromQuery(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	asOf := time.Now().UTC()
	if raw := c.QueryParam("as_of"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return b.WithError(errorbank.BadRequest("as_of must be YYYY-MM-DD", errorbank.WithCause(err))).Build()
		}
		asOf = parsed
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "pricing.quote", trace.WithAttributes(
		attribute.Int64("price.branch_id", tuple.BranchID),
		attribute.Int64("price.service_id", tuple.ServiceID),
	))
	defer span.End()

	quote, err := h.svc.Resolve(ctx, tuple, asOf)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(dto.QuoteResponse{Amount: quote.Amount, Currency: quote.Currency}).Build()
}

func (h *Handler) defineRule(c echo.Context) error {
	return h.mutateRules(c, "pricing.defineRule", h.svc.DefineRule)
}

func (h *Handler) supersede(c echo.Context) error {
	return h.mutateRules(c, "pricing.supersede", h.svc.Supersede)
}

type rulePayload struct {
	BranchID      int64           `json:"branch_id"`
	ServiceID     int64           `json:"service_id"`
	VehicleTypeID int64           `json:"vehicle_type_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	StartsOn      string          `json:"starts_on"`
	EndsOn        *string         `json:"ends_on"`
}

func (h *Handler) mutateRules(c echo.Context, spanName string, op func(ctx context.Context, in service.RuleInput) (*entity.PriceRule, error)) error {
	b := response.New(c)

	var payload rulePayload
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	if payload.BranchID == 0 || payload.ServiceID == 0 || payload.VehicleTypeID == 0 {
		return b.WithError(errorbank.BadRequest("branch_id, service_id and vehicle_type_id are required")).Build()
	}

	start, err := time.Parse(time.DateOnly, payload.StartsOn)
	if err != nil {
		return b.WithError(errorbank.BadRequest("starts_on must be YYYY-MM-DD", errorbank.WithCause(err))).Build()
	}
	in := service.RuleInput{
		Tuple: entity.PriceTuple{
			BranchID:      payload.BranchID,
			ServiceID:     payload.ServiceID,
			VehicleTypeID: payload.VehicleTypeID,
		},
		Amount:   payload.Amount,
		Currency: payload.Currency,
		StartsOn: start,
	}
	if payload.EndsOn != nil {
		end, err := time.Parse(time.DateOnly, *payload.EndsOn)
		if err != nil {
			return b.WithError(errorbank.BadRequest("ends_on must be YYYY-MM-DD", errorbank.WithCause(err))).Build()
		}
		in.EndsOn = &end
	}

	ctx, span := httpTracer.Start(c.Request().Context(), spanName, trace.WithAttributes(
		attribute.Int64("price.branch_id", in.Tuple.BranchID),
		attribute.Int64("price.service_id", in.Tuple.ServiceID),
	))
	defer span.End()

	rule, err := op(ctx, in)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithStatus(http.StatusCreated).WithData(dto.FromPriceRule(rule)).Build()
}

func tupleFromQuery(c echo.Context) (entity.PriceTuple, error) {
	var tuple entity.PriceTuple
	for _, field := range []struct {
		name string
		dst  *int64
	}{
		{"branch_id", &tuple.BranchID},
		{"service_id", &tuple.ServiceID},
		{"vehicle_type_id", &tuple.VehicleTypeID},
	} {
		v, err := strconv.ParseInt(c.QueryParam(field.name), 10, 64)
		if err != nil {
			return entity.PriceTuple{}, errorbank.BadRequest(field.name+" is required", errorbank.WithCause(err))
		}
		*field.dst = v
	}
	return tuple, nil
}
