package payment

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/sudspoint/washcore/internal/config"
	"github.com/sudspoint/washcore/internal/entity"
	"github.com/sudspoint/washcore/internal/event"
	"github.com/sudspoint/washcore/internal/money"
	repo "github.com/sudspoint/washcore/internal/repository/order"
	ordersvc "github.com/sudspoint/washcore/internal/service/order"
	"github.com/sudspoint/washcore/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/sudspoint/washcore/service/payment")

// Store is the slice of order persistence the ledger needs: the serialized
// read-modify-write under the order lock.
type Store interface {
	Mutate(ctx context.Context, id int64, fn func(o *entity.Order) error) (*entity.Order, error)
}

// RegisterInput describes one payment registration request.
type RegisterInput struct {
	Method         string
	Amount         decimal.Decimal
	IsTip          bool
	Reference      *string
	IdempotencyKey *string
	// ConfirmOverpay acknowledges that any amount beyond the outstanding
	// balance is to be recorded as a tip.
	ConfirmOverpay bool
	Actor          string
}

// Service is the append-only payment ledger over the order aggregate.
type Service struct {
	store   Store
	logger  *zap.Logger
	emitter *event.Emitter
	retries uint64
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository *repo.Repository
	Config     config.Config
	Logger     *zap.Logger
	Emitter    *event.Emitter
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{
		store:   p.Repository,
		logger:  p.Logger,
		emitter: p.Emitter,
		retries: p.Config.Engine.BusyRetries,
	}
}

// Register appends one or two payments to the order and recomputes its
// balance. Replays carrying a known idempotency key return the previously
// recorded payments without writing anything. When a non-tip amount exceeds
// the outstanding balance, registration fails unless ConfirmOverpay is set,
// in which case the amount is split into an exact-balance payment and a tip
// for the excess, written atomically under derived keys. An order whose
// balance reaches zero moves to paid.
func (s *Service) Register(ctx context.Context, orderID int64, in RegisterInput) ([]*entity.Payment, *entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "PaymentService.Register", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.Bool("payment.is_tip", in.IsTip),
	))
	defer span.End()

	if !money.IsPositive(in.Amount) {
		return nil, nil, errorbank.BadRequest("payment amount must be positive",
			errorbank.WithCode(errorbank.CodeInvalidAmount))
	}
	if in.Method == "" {
		return nil, nil, errorbank.BadRequest("payment method is required",
			errorbank.WithCode(errorbank.CodeValidation))
	}

	var (
		recorded []*entity.Payment
		replayed bool
		paid     bool
	)
	var result *entity.Order
	err := errorbank.RetryBusy(ctx, s.retries, func(ctx context.Context) error {
		o, err := s.store.Mutate(ctx, orderID, func(o *entity.Order) error {
			if o.Status == entity.OrderCancelled {
				return errorbank.Unprocessable("cancelled orders do not accept payments",
					errorbank.WithCode(errorbank.CodeNotPayable))
			}

			if existing := replay(o, in); len(existing) > 0 {
				recorded, replayed = existing, true
				return nil
			}

			payments, err := buildPayments(o, in)
			if err != nil {
				return err
			}
			o.Payments = append(o.Payments, payments...)
			recorded = payments

			ordersvc.Recompute(o)
			o.UpdatedAt = time.Now().UTC()
			if o.Balance.IsZero() && o.Status != entity.OrderPaid {
				o.Status = entity.OrderPaid
				paid = true
			}
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
			return nil, nil, errorbank.NotFound("order not found")
		}
		return nil, nil, err
	}

	if replayed {
		s.logger.Debug("payment replay",
			zap.Int64("order_id", orderID),
			zap.Stringp("idempotency_key", in.IdempotencyKey),
		)
		return recorded, result, nil
	}

	s.emitter.Emit(ctx, paymentEvent(event.PaymentRegistered, result, in.Actor))
	if paid {
		s.emitter.Emit(ctx, paymentEvent(event.OrderPaid, result, in.Actor))
	}
	return recorded, result, nil
}

// replay returns previously recorded payments matching the request's
// idempotency key, covering both the plain and split-key forms.
func replay(o *entity.Order, in RegisterInput) []*entity.Payment {
	if in.IdempotencyKey == nil || *in.IdempotencyKey == "" {
		return nil
	}
	key := *in.IdempotencyKey
	if p := o.PaymentByKey(key); p != nil {
		return []*entity.Payment{p}
	}
	var out []*entity.Payment
	if p := o.PaymentByKey(key + ":balance"); p != nil {
		out = append(out, p)
	}
	if p := o.PaymentByKey(key + ":tip"); p != nil {
		out = append(out, p)
	}
	return out
}

func buildPayments(o *entity.Order, in RegisterInput) ([]*entity.Payment, error) {
	now := time.Now().UTC()
	base := entity.Payment{
		OrderID:    o.ID,
		Method:     in.Method,
		Reference:  in.Reference,
		RecordedBy: in.Actor,
		CreatedAt:  now,
	}

	if in.IsTip || !in.Amount.GreaterThan(o.Balance) {
		p := base
		p.Amount = in.Amount
		p.IsTip = in.IsTip
		p.IdempotencyKey = in.IdempotencyKey
		return []*entity.Payment{&p}, nil
	}

	excess := in.Amount.Sub(o.Balance)
	if !in.ConfirmOverpay {
		return nil, errorbank.Unprocessable("payment exceeds outstanding balance",
			errorbank.WithCode(errorbank.CodeOverpayConfirmation),
			errorbank.WithDetail("excess", excess.StringFixed(money.Scale)),
			errorbank.WithDetail("balance", o.Balance.StringFixed(money.Scale)),
		)
	}

	var payments []*entity.Payment
	if money.IsPositive(o.Balance) {
		settle := base
		settle.Amount = o.Balance
		settle.IdempotencyKey = derivedKey(in.IdempotencyKey, "balance")
		payments = append(payments, &settle)
	}
	tip := base
	tip.Amount = excess
	tip.IsTip = true
	tip.IdempotencyKey = derivedKey(in.IdempotencyKey, "tip")
	payments = append(payments, &tip)
	return payments, nil
}

func derivedKey(key *string, suffix string) *string {
	if key == nil || *key == "" {
		return nil
	}
	derived := *key + ":" + suffix
	return &derived
}

func paymentEvent(t event.Type, o *entity.Order, actor string) event.Event {
	ev := event.New(t, map[string]any{
		"status":    o.Status,
		"balance":   o.Balance,
		"tip_total": o.TipTotal,
	})
	ev.TenantID = o.TenantID
	ev.OrderID = o.ID
	ev.Actor = actor
	return ev
}
