package order

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
	service "github.com/sudspoint/washcore/internal/service/order"
	"github.com/sudspoint/washcore/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/sudspoint/washcore/transport/http/order")

// Handler exposes order endpoints over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs an order Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with the provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/orders")
	g.POST("", h.create)
	g.GET("/:id", h.getByID)
	g.POST("/:id/items", h.addItem)
	g.PATCH("/:id/items/:itemID", h.updateQuantity)
	g.DELETE("/:id/items/:itemID", h.removeItem)
	g.POST("/:id/adjustments", h.applyAdjustment)
	g.DELETE("/:id/adjustments/:adjustmentID", h.removeAdjustment)
	g.POST("/:id/start", h.start)
	g.POST("/:id/finish", h.finish)
	g.POST("/:id/cancel", h.cancel)
}

func actor(c echo.Context) string {
	return c.Request().Header.Get("X-Actor")
}

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		return 0, errorbank.BadRequest("invalid "+name, errorbank.WithCause(err))
	}
	return id, nil
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.getByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.Get(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(dto.FromOrder(order)).Build()
}

func (h *Handler) create(c echo.Context) error {
	b := response.New(c)

	var payload struct {
		TenantID   int64 `json:"tenant_id"`
		BranchID   int64 `json:"branch_id"`
		CustomerID int64 `json:"customer_id"`
		VehicleID  int64 `json:"vehicle_id"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	if payload.TenantID == 0 || payload.BranchID == 0 || payload.CustomerID == 0 || payload.VehicleID == 0 {
		return b.WithError(errorbank.BadRequest("tenant_id, branch_id, customer_id and vehicle_id are required")).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.create", trace.WithAttributes(attribute.Int64("order.branch_id", payload.BranchID)))
	defer span.End()

	order, err := h.svc.Create(ctx, service.CreateInput{
		TenantID:   payload.TenantID,
		BranchID:   payload.BranchID,
		CustomerID: payload.CustomerID,
		VehicleID:  payload.VehicleID,
		Actor:      actor(c),
	})
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithStatus(http.StatusCreated).WithData(dto.FromOrder(order)).Build()
}

func (h *Handler) addItem(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}

	var payload struct {
		ServiceID int64  `json:"service_id"`
		Quantity  int    `json:"quantity"`
		AsOf      string `json:"as_of"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	asOf := time.Now().UTC()
	if payload.AsOf != "" {
		parsed, err := time.Parse(time.DateOnly, payload.AsOf)
		if err != nil {
			return b.WithError(errorbank.BadRequest("as_of must be YYYY-MM-DD", errorbank.WithCause(err))).Build()
		}
		asOf = parsed
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.addItem", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.Int64("service.id", payload.ServiceID),
	))
	defer span.End()

	order, err := h.svc.AddItem(ctx, id, payload.ServiceID, payload.Quantity, asOf, actor(c))
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithStatus(http.StatusCreated).WithData(dto.FromOrder(order)).Build()
}

func (h *Handler) updateQuantity(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}
	itemID, err := pathID(c, "itemID")
	if err != nil {
		return b.WithError(err).Build()
	}

	var payload struct {
		Quantity int `json:"quantity"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.updateQuantity", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.UpdateQuantity(ctx, id, itemID, payload.Quantity, actor(c))
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(dto.FromOrder(order)).Build()
}

func (h *Handler) removeItem(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}
	itemID, err := pathID(c, "itemID")
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.removeItem", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.RemoveItem(ctx, id, itemID, actor(c))
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(dto.FromOrder(order)).Build()
}

func (h *Handler) applyAdjustment(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}

	var payload struct {
		ItemID       *int64          `json:"item_id"`
		Kind         string          `json:"kind"`
		Mode         string          `json:"mode"`
		Value        decimal.Decimal `json:"value"`
		PromotionRef *string         `json:"promotion_ref"`
		Label        string          `json:"label"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.applyAdjustment", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.ApplyAdjustment(ctx, id, service.AdjustmentInput{
		ItemID:       payload.ItemID,
		Kind:         entity.AdjustmentKind(payload.Kind),
		Mode:         entity.AdjustmentMode(payload.Mode),
		Value:        payload.Value,
		PromotionRef: payload.PromotionRef,
		Label:        payload.Label,
		Actor:        actor(c),
	})
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithStatus(http.StatusCreated).WithData(dto.FromOrder(order)).Build()
}

func (h *Handler) removeAdjustment(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}
	adjustmentID, err := pathID(c, "adjustmentID")
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.removeAdjustment", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.RemoveAdjustment(ctx, id, adjustmentID, actor(c))
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(dto.FromOrder(order)).Build()
}

func (h *Handler) start(c echo.Context) error {
	return h.transition(c, "orders.start", h.svc.Start)
}

func (h *Handler) finish(c echo.Context) error {
	return h.transition(c, "orders.finish", h.svc.Finish)
}

func (h *Handler) cancel(c echo.Context) error {
	return h.transition(c, "orders.cancel", h.svc.Cancel)
}

func (h *Handler) transition(c echo.Context, spanName string, op func(ctx context.Context, orderID int64, actor string) (*entity.Order, error)) error {
	b := response.New(c)

	id, err := pathID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), spanName, trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := op(ctx, id, actor(c))
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(dto.FromOrder(order)).Build()
}
