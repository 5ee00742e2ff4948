package document

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sudspoint/washcore/internal/dto"
	"github.com/sudspoint/washcore/internal/entity"
	"github.com/sudspoint/washcore/internal/presentation/http/response"
	service "github.com/sudspoint/washcore/internal/service/document"
	"github.com/sudspoint/washcore/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/sudspoint/washcore/transport/http/document")

// Handler exposes document issuance over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs a document Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with the provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	e.POST("/orders/:id/documents", h.issue)
	e.GET("/orders/:id/documents", h.getByOrder)
}

func (h *Handler) issue(c echo.Context) error {
	b := response.New(c)

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return b.WithError(errorbank.BadRequest("invalid id", errorbank.WithCause(err))).Build()
	}

	var payload struct {
		DocType       string `json:"doc_type"`
		PointOfSaleID int64  `json:"point_of_sale_id"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "documents.issue", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("document.type", payload.DocType),
	))
	defer span.End()

	doc, err := h.svc.Issue(ctx, service.IssueInput{
		OrderID:       orderID,
		DocType:       entity.DocumentType(payload.DocType),
		PointOfSaleID: payload.PointOfSaleID,
		Actor:         c.Request().Header.Get("X-Actor"),
	})
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithStatus(http.StatusCreated).WithData(dto.FromDocument(doc)).Build()
}

func (h *Handler) getByOrder(c echo.Context) error {
	b := response.New(c)

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return b.WithError(errorbank.BadRequest("invalid id", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "documents.getByOrder", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	doc, err := h.svc.Get(ctx, orderID)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(dto.FromDocument(doc)).Build()
}
