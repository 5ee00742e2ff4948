package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/sudspoint/washcore/internal/config"
	"github.com/sudspoint/washcore/internal/entity"
	"github.com/sudspoint/washcore/internal/event"
	"github.com/sudspoint/washcore/internal/money"
	repo "github.com/sudspoint/washcore/internal/repository/order"
	directorysvc "github.com/sudspoint/washcore/internal/service/directory"
	pricingsvc "github.com/sudspoint/washcore/internal/service/pricing"
	"github.com/sudspoint/washcore/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/sudspoint/washcore/service/order")

// Store is the persistence contract the order engine needs.
type Store interface {
	Create(ctx context.Context, o *entity.Order) error
	Get(ctx context.Context, id int64) (*entity.Order, error)
	Mutate(ctx context.Context, id int64, fn func(o *entity.Order) error) (*entity.Order, error)
}

// Directory answers membership and liveness questions about referenced
// entities.
type Directory interface {
	Branch(ctx context.Context, id int64) (*entity.Branch, error)
	Customer(ctx context.Context, id, tenantID int64) (*entity.Customer, error)
	Vehicle(ctx context.Context, id, tenantID int64) (*entity.Vehicle, error)
	ActiveService(ctx context.Context, id int64) (*entity.Service, error)
	Promotion(ctx context.Context, tenantID int64, code string) (*entity.Promotion, error)
}

// Pricer resolves the unit price snapshot for a new item.
type Pricer interface {
	Resolve(ctx context.Context, tuple entity.PriceTuple, asOf time.Time) (pricingsvc.Quote, error)
}

// CreateInput carries the fields for opening an order.
type CreateInput struct {
	TenantID   int64
	BranchID   int64
	CustomerID int64
	VehicleID  int64
	Actor      string
}

// AdjustmentInput describes a discount to apply.
type AdjustmentInput struct {
	ItemID       *int64
	Kind         entity.AdjustmentKind
	Mode         entity.AdjustmentMode
	Value        decimal.Decimal
	PromotionRef *string
	Label        string
	Actor        string
}

// Service owns the order lifecycle and total computation.
type Service struct {
	store     Store
	directory Directory
	pricer    Pricer
	logger    *zap.Logger
	emitter   *event.Emitter
	retries   uint64
	currency  string
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository *repo.Repository
	Directory  *directorysvc.Service
	Pricing    *pricingsvc.Service
	Config     config.Config
	Logger     *zap.Logger
	Emitter    *event.Emitter
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{
		store:     p.Repository,
		directory: p.Directory,
		pricer:    p.Pricing,
		logger:    p.Logger,
		emitter:   p.Emitter,
		retries:   p.Config.Engine.BusyRetries,
		currency:  p.Config.Engine.DefaultCurrency,
	}
}

// Get retrieves an order aggregate by id.
func (s *Service) Get(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Get", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	o, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errorbank.NotFound("order not found")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to load order", errorbank.WithCause(err))
	}
	return o, nil
}

// Create opens a draft order after verifying the branch, customer, and
// vehicle all belong to the tenant.
func (s *Service) Create(ctx context.Context, in CreateInput) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Create", trace.WithAttributes(attribute.Int64("order.branch_id", in.BranchID)))
	defer span.End()

	branch, err := s.directory.Branch(ctx, in.BranchID)
	if err != nil {
		return nil, err
	}
	if branch.TenantID != in.TenantID {
		return nil, errorbank.Unprocessable("branch does not belong to tenant", errorbank.WithCode(errorbank.CodeValidation))
	}
	if _, err := s.directory.Customer(ctx, in.CustomerID, in.TenantID); err != nil {
		return nil, err
	}
	if _, err := s.directory.Vehicle(ctx, in.VehicleID, in.TenantID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	o := &entity.Order{
		TenantID:   in.TenantID,
		BranchID:   in.BranchID,
		CustomerID: in.CustomerID,
		VehicleID:  in.VehicleID,
		Status:     entity.OrderDraft,
		Currency:   s.currency,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	Recompute(o)

	if err := s.store.Create(ctx, o); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to create order", errorbank.WithCause(err))
	}

	s.logger.Info("order created",
		zap.Int64("order_id", o.ID),
		zap.Int64("branch_id", o.BranchID),
		zap.Int64("customer_id", o.CustomerID),
	)
	s.emitter.Emit(ctx, orderEvent(event.OrderCreated, o, in.Actor))
	return o, nil
}

// AddItem appends a priced line. The unit price is resolved at asOf and
// frozen; later rule changes never touch it.
func (s *Service) AddItem(ctx context.Context, orderID, serviceID int64, quantity int, asOf time.Time, actor string) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.AddItem", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.Int64("service.id", serviceID),
	))
	defer span.End()

	if quantity < 1 {
		return nil, errorbank.BadRequest("quantity must be at least 1", errorbank.WithCode(errorbank.CodeValidation))
	}
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	if _, err := s.directory.ActiveService(ctx, serviceID); err != nil {
		return nil, err
	}

	// Branch and vehicle type are immutable on the order, so the price can
	// be resolved before taking the order lock.
	current, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	vehicle, err := s.directory.Vehicle(ctx, current.VehicleID, current.TenantID)
	if err != nil {
		return nil, err
	}
	quote, err := s.pricer.Resolve(ctx, entity.PriceTuple{
		BranchID:      current.BranchID,
		ServiceID:     serviceID,
		VehicleTypeID: vehicle.VehicleTypeID,
	}, asOf)
	if err != nil {
		return nil, err
	}
	if quote.Currency != current.Currency {
		return nil, errorbank.Unprocessable(
			fmt.Sprintf("price currency %s does not match order currency %s", quote.Currency, current.Currency),
			errorbank.WithCode(errorbank.CodeValidation),
		)
	}

	o, err := s.mutate(ctx, orderID, func(o *entity.Order) error {
		if err := requireEditable(o); err != nil {
			return err
		}
		o.Items = append(o.Items, &entity.OrderItem{
			ServiceID: serviceID,
			Quantity:  quantity,
			UnitPrice: quote.Amount,
			CreatedAt: time.Now().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitter.Emit(ctx, orderEvent(event.OrderItemAdded, o, actor))
	return o, nil
}

// RemoveItem drops a line and any adjustments scoped to it.
func (s *Service) RemoveItem(ctx context.Context, orderID, itemID int64, actor string) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.RemoveItem", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	o, err := s.mutate(ctx, orderID, func(o *entity.Order) error {
		if err := requireEditable(o); err != nil {
			return err
		}
		if o.Item(itemID) == nil {
			return errorbank.NotFound("order item not found")
		}
		items := o.Items[:0]
		for _, it := range o.Items {
			if it.ID != itemID {
				items = append(items, it)
			}
		}
		o.Items = items
		adjustments := o.Adjustments[:0]
		for _, adj := range o.Adjustments {
			if adj.ItemID == nil || *adj.ItemID != itemID {
				adjustments = append(adjustments, adj)
			}
		}
		o.Adjustments = adjustments
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitter.Emit(ctx, orderEvent(event.OrderItemRemoved, o, actor))
	return o, nil
}

// UpdateQuantity changes a line's quantity.
func (s *Service) UpdateQuantity(ctx context.Context, orderID, itemID int64, quantity int, actor string) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.UpdateQuantity", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	if quantity < 1 {
		return nil, errorbank.BadRequest("quantity must be at least 1", errorbank.WithCode(errorbank.CodeValidation))
	}

	o, err := s.mutate(ctx, orderID, func(o *entity.Order) error {
		if err := requireEditable(o); err != nil {
			return err
		}
		item := o.Item(itemID)
		if item == nil {
			return errorbank.NotFound("order item not found")
		}
		item.Quantity = quantity
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitter.Emit(ctx, orderEvent(event.OrderItemUpdated, o, actor))
	return o, nil
}

// ApplyAdjustment attaches a discount at order or item scope. A promotion
// reference may appear only once per target and must be inside its window.
func (s *Service) ApplyAdjustment(ctx context.Context, orderID int64, in AdjustmentInput) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.ApplyAdjustment", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	adj := &entity.Adjustment{
		ItemID:       in.ItemID,
		Kind:         in.Kind,
		Mode:         in.Mode,
		Value:        in.Value,
		PromotionRef: in.PromotionRef,
		Label:        in.Label,
		CreatedAt:    time.Now().UTC(),
	}

	if in.Kind == entity.AdjustmentPromotion {
		if in.PromotionRef == nil || *in.PromotionRef == "" {
			return nil, errorbank.BadRequest("promotion reference is required", errorbank.WithCode(errorbank.CodeValidation))
		}
		current, err := s.Get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		promo, err := s.directory.Promotion(ctx, current.TenantID, *in.PromotionRef)
		if err != nil {
			return nil, err
		}
		if !promo.InWindow(time.Now().UTC()) {
			return nil, errorbank.Unprocessable("promotion outside its validity window", errorbank.WithCode(errorbank.CodeValidation))
		}
		adj.Mode = promo.Mode
		adj.Value = promo.Value
		if adj.Label == "" {
			adj.Label = promo.Label
		}
	}

	if err := validateAdjustment(adj); err != nil {
		return nil, err
	}

	o, err := s.mutate(ctx, orderID, func(o *entity.Order) error {
		if err := requireEditable(o); err != nil {
			return err
		}
		if adj.ItemID != nil && o.Item(*adj.ItemID) == nil {
			return errorbank.NotFound("order item not found")
		}
		if adj.PromotionRef != nil {
			for _, existing := range o.Adjustments {
				if existing.PromotionRef == nil || *existing.PromotionRef != *adj.PromotionRef {
					continue
				}
				if sameTarget(existing.ItemID, adj.ItemID) {
					return errorbank.Conflict("promotion already applied to this target",
						errorbank.WithCode(errorbank.CodeDuplicatePromotion))
				}
			}
		}
		o.Adjustments = append(o.Adjustments, adj)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitter.Emit(ctx, orderEvent(event.OrderAdjusted, o, in.Actor))
	return o, nil
}

// RemoveAdjustment deletes a discount from an editable order.
func (s *Service) RemoveAdjustment(ctx context.Context, orderID, adjustmentID int64, actor string) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.RemoveAdjustment", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	o, err := s.mutate(ctx, orderID, func(o *entity.Order) error {
		if err := requireEditable(o); err != nil {
			return err
		}
		found := false
		adjustments := o.Adjustments[:0]
		for _, adj := range o.Adjustments {
			if adj.ID == adjustmentID {
				found = true
				continue
			}
			adjustments = append(adjustments, adj)
		}
		if !found {
			return errorbank.NotFound("adjustment not found")
		}
		o.Adjustments = adjustments
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitter.Emit(ctx, orderEvent(event.OrderAdjusted, o, actor))
	return o, nil
}

// Start moves a draft order into progress.
func (s *Service) Start(ctx context.Context, orderID int64, actor string) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Start", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	o, err := s.mutate(ctx, orderID, func(o *entity.Order) error {
		if o.Status != entity.OrderDraft {
			return invalidTransition(o.Status, entity.OrderInProgress)
		}
		o.Status = entity.OrderInProgress
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitter.Emit(ctx, orderEvent(event.OrderStarted, o, actor))
	return o, nil
}

// Finish completes the work on an in-progress order with at least one item.
func (s *Service) Finish(ctx context.Context, orderID int64, actor string) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Finish", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	o, err := s.mutate(ctx, orderID, func(o *entity.Order) error {
		if o.Status != entity.OrderInProgress {
			return invalidTransition(o.Status, entity.OrderFinished)
		}
		if len(o.Items) == 0 {
			return errorbank.Unprocessable("order has no items", errorbank.WithCode(errorbank.CodeValidation))
		}
		o.Status = entity.OrderFinished
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitter.Emit(ctx, orderEvent(event.OrderFinished, o, actor))
	return o, nil
}

// Cancel aborts any non-terminal order.
func (s *Service) Cancel(ctx context.Context, orderID int64, actor string) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Cancel", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	o, err := s.mutate(ctx, orderID, func(o *entity.Order) error {
		if o.Status.Terminal() {
			return invalidTransition(o.Status, entity.OrderCancelled)
		}
		o.Status = entity.OrderCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitter.Emit(ctx, orderEvent(event.OrderCancelled, o, actor))
	return o, nil
}

// mutate wraps the store's serialized read-modify-write with recomputation
// and the bounded busy retry.
func (s *Service) mutate(ctx context.Context, orderID int64, fn func(o *entity.Order) error) (*entity.Order, error) {
	var result *entity.Order
	err := errorbank.RetryBusy(ctx, s.retries, func(ctx context.Context) error {
		o, err := s.store.Mutate(ctx, orderID, func(o *entity.Order) error {
			if err := fn(o); err != nil {
				return err
			}
			Recompute(o)
			o.UpdatedAt = time.Now().UTC()
			return nil
		})
		if err != nil {
			return err
		}
		result = o
		return nil
	})
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errorbank.NotFound("order not found")
		}
		return nil, err
	}
	return result, nil
}

// requireEditable admits item and adjustment mutation only while the work is
// still open. A finished order is frozen even though payments may still land.
func requireEditable(o *entity.Order) error {
	switch o.Status {
	case entity.OrderDraft, entity.OrderInProgress:
		return nil
	default:
		return errorbank.Unprocessable(
			fmt.Sprintf("order is %s and cannot be modified", o.Status),
			errorbank.WithCode(errorbank.CodeInvalidStateTransition),
		)
	}
}

func invalidTransition(from, to entity.OrderStatus) error {
	return errorbank.Unprocessable(
		fmt.Sprintf("cannot transition order from %s to %s", from, to),
		errorbank.WithCode(errorbank.CodeInvalidStateTransition),
	)
}

func validateAdjustment(adj *entity.Adjustment) error {
	switch adj.Mode {
	case entity.AdjustmentPercentage:
		if !money.IsPositive(adj.Value) || adj.Value.GreaterThan(decimal.NewFromInt(100)) {
			return errorbank.BadRequest("percentage must be in (0, 100]", errorbank.WithCode(errorbank.CodeValidation))
		}
	case entity.AdjustmentFixed:
		if !money.IsPositive(adj.Value) {
			return errorbank.BadRequest("fixed amount must be positive", errorbank.WithCode(errorbank.CodeValidation))
		}
	default:
		return errorbank.BadRequest("unknown adjustment mode", errorbank.WithCode(errorbank.CodeValidation))
	}
	switch adj.Kind {
	case entity.AdjustmentManual, entity.AdjustmentPromotion:
	default:
		return errorbank.BadRequest("unknown adjustment kind", errorbank.WithCode(errorbank.CodeValidation))
	}
	return nil
}

func sameTarget(a, b *int64) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

func orderEvent(t event.Type, o *entity.Order, actor string) event.Event {
	ev := event.New(t, map[string]any{
		"status":      o.Status,
		"grand_total": o.GrandTotal,
		"balance":     o.Balance,
	})
	ev.TenantID = o.TenantID
	ev.OrderID = o.ID
	ev.Actor = actor
	return ev
}
