package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/sudspoint/washcore/internal/config"
	"github.com/sudspoint/washcore/internal/entity"
	"github.com/sudspoint/washcore/internal/event"
	repo "github.com/sudspoint/washcore/internal/repository/document"
	orderrepo "github.com/sudspoint/washcore/internal/repository/order"
	"github.com/sudspoint/washcore/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/sudspoint/washcore/service/document")

// Sequencer is the persistence contract for numbered documents.
type Sequencer interface {
	GetByOrder(ctx context.Context, orderID int64) (*entity.Document, error)
	Allocate(ctx context.Context, branchID int64, docType entity.DocumentType, posID int64) (int64, error)
	Issue(ctx context.Context, orderID int64, branchID int64, docType entity.DocumentType, posID int64, build func(number int64) (*entity.Document, error)) (*entity.Document, bool, error)
}

// Orders is the read access the sequencer needs into the order engine.
type Orders interface {
	Get(ctx context.Context, id int64) (*entity.Order, error)
}

// IssueInput describes a document issuance request.
type IssueInput struct {
	OrderID       int64
	DocType       entity.DocumentType
	PointOfSaleID int64
	Actor         string
}

// Service issues gap-free numbered documents for paid orders.
type Service struct {
	sequencer Sequencer
	orders    Orders
	logger    *zap.Logger
	emitter   *event.Emitter
	retries   uint64
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository *repo.Repository
	Orders     *orderrepo.Repository
	Config     config.Config
	Logger     *zap.Logger
	Emitter    *event.Emitter
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{
		sequencer: p.Repository,
		orders:    p.Orders,
		logger:    p.Logger,
		emitter:   p.Emitter,
		retries:   p.Config.Engine.BusyRetries,
	}
}

// Get returns the document issued for an order.
func (s *Service) Get(ctx context.Context, orderID int64) (*entity.Document, error) {
	ctx, span := serviceTracer.Start(ctx, "DocumentService.Get", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	doc, err := s.sequencer.GetByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errorbank.NotFound("document not found")
		}
		return nil, errorbank.Internal("failed to load document", errorbank.WithCause(err))
	}
	return doc, nil
}

// NextNumber allocates and returns the next sequence number for the triple.
// The number is consumed: callers who discard it create a gap, so issuance
// goes through Issue instead.
func (s *Service) NextNumber(ctx context.Context, branchID int64, docType entity.DocumentType, posID int64) (int64, error) {
	ctx, span := serviceTracer.Start(ctx, "DocumentService.NextNumber")
	defer span.End()

	if err := validateDocType(docType); err != nil {
		return 0, err
	}
	var number int64
	err := errorbank.RetryBusy(ctx, s.retries, func(ctx context.Context) error {
		n, err := s.sequencer.Allocate(ctx, branchID, docType, posID)
		if err != nil {
			return err
		}
		number = n
		return nil
	})
	return number, err
}

// Issue creates the numbered document for a paid order, freezing its current
// state into the snapshot. Calling it again for the same order returns the
// existing document unchanged and advances no counter.
func (s *Service) Issue(ctx context.Context, in IssueInput) (*entity.Document, error) {
	ctx, span := serviceTracer.Start(ctx, "DocumentService.Issue", trace.WithAttributes(
		attribute.Int64("order.id", in.OrderID),
		attribute.String("document.type", string(in.DocType)),
	))
	defer span.End()

	if err := validateDocType(in.DocType); err != nil {
		return nil, err
	}

	o, err := s.orders.Get(ctx, in.OrderID)
	if err != nil {
		if errors.Is(err, orderrepo.ErrNotFound) {
			return nil, errorbank.NotFound("order not found")
		}
		return nil, errorbank.Internal("failed to load order", errorbank.WithCause(err))
	}
	if o.Status != entity.OrderPaid {
		return nil, errorbank.Unprocessable(
			fmt.Sprintf("order is %s; only paid orders can be documented", o.Status),
			errorbank.WithCode(errorbank.CodeNotPayable),
		)
	}

	var (
		doc     *entity.Document
		created bool
	)
	err = errorbank.RetryBusy(ctx, s.retries, func(ctx context.Context) error {
		d, fresh, err := s.sequencer.Issue(ctx, in.OrderID, o.BranchID, in.DocType, in.PointOfSaleID, func(number int64) (*entity.Document, error) {
			return buildDocument(o, in, number)
		})
		if err != nil {
			return err
		}
		doc, created = d, fresh
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created {
		ev := event.New(event.DocumentIssued, map[string]any{
			"doc_type": doc.DocType,
			"number":   doc.Number,
			"total":    doc.Total,
		})
		ev.TenantID = o.TenantID
		ev.OrderID = o.ID
		ev.Actor = in.Actor
		s.emitter.Emit(ctx, ev)
	}
	return doc, nil
}

// buildDocument freezes the order into an immutable snapshot document.
func buildDocument(o *entity.Order, in IssueInput, number int64) (*entity.Document, error) {
	snapshot := entity.DocumentSnapshot{
		OrderID:    o.ID,
		BranchID:   o.BranchID,
		CustomerID: o.CustomerID,
		VehicleID:  o.VehicleID,
		Currency:   o.Currency,
		Subtotal:   o.Subtotal,
		Discount:   o.DiscountTotal,
		Tip:        o.TipTotal,
		Total:      o.GrandTotal,
	}
	for _, item := range o.Items {
		snapshot.Items = append(snapshot.Items, entity.SnapshotItem{
			ServiceID: item.ServiceID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal,
		})
	}
	for _, adj := range o.Adjustments {
		scope := "order"
		if adj.ItemID != nil {
			scope = "item"
		}
		snapshot.Discounts = append(snapshot.Discounts, entity.SnapshotDiscount{
			Scope:        scope,
			Kind:         adj.Kind,
			Mode:         adj.Mode,
			Value:        adj.Value,
			PromotionRef: adj.PromotionRef,
			Label:        adj.Label,
		})
	}

	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, errorbank.Internal("failed to encode document snapshot", errorbank.WithCause(err))
	}
	return &entity.Document{
		OrderID:       o.ID,
		BranchID:      o.BranchID,
		DocType:       in.DocType,
		PointOfSaleID: in.PointOfSaleID,
		Number:        number,
		Currency:      o.Currency,
		Total:         o.GrandTotal,
		Snapshot:      raw,
		IssuedBy:      in.Actor,
		IssuedAt:      time.Now().UTC(),
	}, nil
}

func validateDocType(t entity.DocumentType) error {
	switch t {
	case entity.DocumentReceipt, entity.DocumentInvoice:
		return nil
	default:
		return errorbank.BadRequest("unknown document type", errorbank.WithCode(errorbank.CodeValidation))
	}
}
