package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/sudspoint/washcore/internal/entity"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func itemID(id int64) *int64 { return &id }

func TestRecomputePromotionThenPayment(t *testing.T) {
	o := &entity.Order{
		Status: entity.OrderInProgress,
		Items: []*entity.OrderItem{
			{ID: 1, Quantity: 1, UnitPrice: dec("35000")},
		},
		Adjustments: []*entity.Adjustment{
			{ID: 1, Kind: entity.AdjustmentPromotion, Mode: entity.AdjustmentPercentage, Value: dec("10")},
		},
	}

	Recompute(o)
	assert.True(t, o.Subtotal.Equal(dec("35000")), "subtotal %s", o.Subtotal)
	assert.True(t, o.DiscountTotal.Equal(dec("3500")), "discount %s", o.DiscountTotal)
	assert.True(t, o.GrandTotal.Equal(dec("31500")), "grand total %s", o.GrandTotal)
	assert.True(t, o.Balance.Equal(dec("31500")), "balance %s", o.Balance)

	o.Payments = append(o.Payments, &entity.Payment{ID: 1, Amount: dec("31500")})
	Recompute(o)
	assert.True(t, o.Balance.IsZero(), "balance %s", o.Balance)
}

func TestRecomputeItemAdjustmentsUsePreAdjustmentBase(t *testing.T) {
	o := &entity.Order{
		Items: []*entity.OrderItem{
			{ID: 7, Quantity: 1, UnitPrice: dec("100")},
		},
		Adjustments: []*entity.Adjustment{
			{ID: 1, ItemID: itemID(7), Mode: entity.AdjustmentPercentage, Value: dec("10")},
			{ID: 2, ItemID: itemID(7), Mode: entity.AdjustmentPercentage, Value: dec("10")},
		},
	}

	Recompute(o)
	// Each 10% computes against the 100 base, not against 90.
	assert.True(t, o.GrandTotal.Equal(dec("80")), "grand total %s", o.GrandTotal)
}

func TestRecomputeRoundsOnceAtTheEnd(t *testing.T) {
	o := &entity.Order{
		Items: []*entity.OrderItem{
			{ID: 1, Quantity: 3, UnitPrice: dec("0.35")},
		},
		Adjustments: []*entity.Adjustment{
			{ID: 1, Mode: entity.AdjustmentPercentage, Value: dec("50")},
		},
	}

	Recompute(o)
	// 1.05 * 50% = 0.525; a single half-up rounding yields 0.53.
	assert.True(t, o.GrandTotal.Equal(dec("0.53")), "grand total %s", o.GrandTotal)
}

func TestRecomputeDiscountNeverGoesNegative(t *testing.T) {
	o := &entity.Order{
		Items: []*entity.OrderItem{
			{ID: 1, Quantity: 1, UnitPrice: dec("20")},
		},
		Adjustments: []*entity.Adjustment{
			{ID: 1, Mode: entity.AdjustmentFixed, Value: dec("50")},
		},
	}

	Recompute(o)
	assert.True(t, o.GrandTotal.IsZero(), "grand total %s", o.GrandTotal)
	assert.True(t, o.Balance.IsZero(), "balance %s", o.Balance)
}

func TestRecomputeTipsDoNotReduceBalance(t *testing.T) {
	o := &entity.Order{
		Items: []*entity.OrderItem{
			{ID: 1, Quantity: 1, UnitPrice: dec("100")},
		},
		Payments: []*entity.Payment{
			{ID: 1, Amount: dec("20"), IsTip: true},
		},
	}

	Recompute(o)
	assert.True(t, o.TipTotal.Equal(dec("20")), "tip total %s", o.TipTotal)
	assert.True(t, o.GrandTotal.Equal(dec("120")), "grand total %s", o.GrandTotal)
	assert.True(t, o.Balance.Equal(dec("100")), "balance %s", o.Balance)

	o.Payments = append(o.Payments, &entity.Payment{ID: 2, Amount: dec("100")})
	Recompute(o)
	assert.True(t, o.Balance.IsZero(), "balance %s", o.Balance)
}

func TestRecomputeLineTotals(t *testing.T) {
	o := &entity.Order{
		Items: []*entity.OrderItem{
			{ID: 1, Quantity: 4, UnitPrice: dec("12.50")},
			{ID: 2, Quantity: 2, UnitPrice: dec("7.25")},
		},
	}

	Recompute(o)
	assert.True(t, o.Items[0].LineTotal.Equal(dec("50")), "line total %s", o.Items[0].LineTotal)
	assert.True(t, o.Items[1].LineTotal.Equal(dec("14.50")), "line total %s", o.Items[1].LineTotal)
	assert.True(t, o.Subtotal.Equal(dec("64.50")), "subtotal %s", o.Subtotal)
}
