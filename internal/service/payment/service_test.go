package payment

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sudspoint/washcore/internal/entity"
	ordersvc "github.com/sudspoint/washcore/internal/service/order"
	"github.com/sudspoint/washcore/pkg/errorbank"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeStore struct {
	order  *entity.Order
	nextID int64
}

func (f *fakeStore) Mutate(_ context.Context, id int64, fn func(o *entity.Order) error) (*entity.Order, error) {
	if f.order == nil || f.order.ID != id {
		return nil, errorbank.NotFound("order not found")
	}
	if err := fn(f.order); err != nil {
		return nil, err
	}
	for _, p := range f.order.Payments {
		if p.ID == 0 {
			f.nextID++
			p.ID = f.nextID
		}
	}
	return f.order, nil
}

func key(s string) *string { return &s }

// finishedOrder builds an order with one line and recomputed totals.
func finishedOrder(unitPrice string, adjustments ...*entity.Adjustment) *entity.Order {
	o := &entity.Order{
		ID:       1,
		TenantID: 1,
		Status:   entity.OrderFinished,
		Currency: "USD",
		Items: []*entity.OrderItem{
			{ID: 1, OrderID: 1, Quantity: 1, UnitPrice: dec(unitPrice)},
		},
		Adjustments: adjustments,
	}
	ordersvc.Recompute(o)
	return o
}

func newTestService(store *fakeStore) *Service {
	return &Service{store: store, logger: zap.NewNop(), retries: 3}
}

func TestRegisterSettlesBalanceAndTransitionsToPaid(t *testing.T) {
	o := finishedOrder("35000", &entity.Adjustment{
		ID: 1, Mode: entity.AdjustmentPercentage, Value: dec("10"),
	})
	require.True(t, o.Balance.Equal(dec("31500")))
	s := newTestService(&fakeStore{order: o})

	payments, got, err := s.Register(context.Background(), 1, RegisterInput{
		Method: "cash",
		Amount: dec("31500"),
		Actor:  "cashier",
	})
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.True(t, got.Balance.IsZero())
	assert.Equal(t, entity.OrderPaid, got.Status)
}

func TestRegisterPartialPaymentKeepsStatus(t *testing.T) {
	o := finishedOrder("100")
	s := newTestService(&fakeStore{order: o})

	_, got, err := s.Register(context.Background(), 1, RegisterInput{Method: "card", Amount: dec("40")})
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(dec("60")))
	assert.Equal(t, entity.OrderFinished, got.Status)
}

func TestRegisterRejectsNonPositiveAmount(t *testing.T) {
	s := newTestService(&fakeStore{order: finishedOrder("100")})

	_, _, err := s.Register(context.Background(), 1, RegisterInput{Method: "cash", Amount: dec("0")})
	require.Error(t, err)
	assert.True(t, errorbank.HasCode(err, errorbank.CodeInvalidAmount))
}

func TestRegisterRejectsCancelledOrder(t *testing.T) {
	o := finishedOrder("100")
	o.Status = entity.OrderCancelled
	s := newTestService(&fakeStore{order: o})

	_, _, err := s.Register(context.Background(), 1, RegisterInput{Method: "cash", Amount: dec("10")})
	require.Error(t, err)
	assert.True(t, errorbank.HasCode(err, errorbank.CodeNotPayable))
}

func TestRegisterIsIdempotentPerKey(t *testing.T) {
	o := finishedOrder("100")
	s := newTestService(&fakeStore{order: o})

	in := RegisterInput{Method: "card", Amount: dec("40"), IdempotencyKey: key("req-1")}
	first, _, err := s.Register(context.Background(), 1, in)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, got, err := s.Register(context.Background(), 1, in)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Len(t, got.Payments, 1)
	assert.True(t, got.Balance.Equal(dec("60")))
}

func TestRegisterTipLeavesBalanceAlone(t *testing.T) {
	o := finishedOrder("100")
	s := newTestService(&fakeStore{order: o})

	payments, got, err := s.Register(context.Background(), 1, RegisterInput{
		Method: "cash",
		Amount: dec("15"),
		IsTip:  true,
	})
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.True(t, payments[0].IsTip)
	assert.True(t, got.Balance.Equal(dec("100")))
	assert.True(t, got.TipTotal.Equal(dec("15")))
	assert.True(t, got.GrandTotal.Equal(dec("115")))
}

func TestRegisterOverpayRequiresConfirmation(t *testing.T) {
	o := finishedOrder("30000")
	s := newTestService(&fakeStore{order: o})

	_, _, err := s.Register(context.Background(), 1, RegisterInput{Method: "cash", Amount: dec("35000")})
	require.Error(t, err)
	require.True(t, errorbank.HasCode(err, errorbank.CodeOverpayConfirmation))
	assert.Equal(t, "5000.00", errorbank.From(err).Details()["excess"])
}

func TestRegisterConfirmedOverpaySplitsBalanceAndTip(t *testing.T) {
	o := finishedOrder("30000")
	s := newTestService(&fakeStore{order: o})

	payments, got, err := s.Register(context.Background(), 1, RegisterInput{
		Method:         "cash",
		Amount:         dec("35000"),
		IdempotencyKey: key("req-9"),
		ConfirmOverpay: true,
	})
	require.NoError(t, err)
	require.Len(t, payments, 2)

	assert.True(t, payments[0].Amount.Equal(dec("30000")))
	assert.False(t, payments[0].IsTip)
	assert.Equal(t, "req-9:balance", *payments[0].IdempotencyKey)

	assert.True(t, payments[1].Amount.Equal(dec("5000")))
	assert.True(t, payments[1].IsTip)
	assert.Equal(t, "req-9:tip", *payments[1].IdempotencyKey)

	assert.True(t, got.Balance.IsZero())
	assert.Equal(t, entity.OrderPaid, got.Status)

	// A retry with the original key replays both rows without writing more.
	replayed, after, err := s.Register(context.Background(), 1, RegisterInput{
		Method:         "cash",
		Amount:         dec("35000"),
		IdempotencyKey: key("req-9"),
		ConfirmOverpay: true,
	})
	require.NoError(t, err)
	assert.Len(t, replayed, 2)
	assert.Len(t, after.Payments, 2)
}

func TestRegisterOverpayOnSettledOrderRecordsTipOnly(t *testing.T) {
	o := finishedOrder("100")
	s := newTestService(&fakeStore{order: o})

	_, _, err := s.Register(context.Background(), 1, RegisterInput{Method: "cash", Amount: dec("100")})
	require.NoError(t, err)

	payments, got, err := s.Register(context.Background(), 1, RegisterInput{
		Method:         "cash",
		Amount:         dec("10"),
		ConfirmOverpay: true,
	})
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.True(t, payments[0].IsTip)
	assert.True(t, got.Balance.IsZero())
}
