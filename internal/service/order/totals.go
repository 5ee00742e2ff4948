package order

import (
	"github.com/shopspring/decimal"

	"github.com/sudspoint/washcore/internal/entity"
	"github.com/sudspoint/washcore/internal/money"
)

// Recompute rebuilds the order's cached totals from its items, adjustments,
// and payments. It runs after every mutation, under the order lock.
//
// Item-level adjustments apply to their line totals first, then order-level
// adjustments to the adjusted subtotal, in insertion order. Percentage
// adjustments compute against the pre-adjustment base; rounding happens
// half-up once, at the end, so repeated recomputation cannot drift.
func Recompute(o *entity.Order) {
	subtotal := decimal.Zero
	adjusted := decimal.Zero

	for _, item := range o.Items {
		base := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		item.LineTotal = money.Round(base)
		subtotal = subtotal.Add(base)
		adjusted = adjusted.Add(applyAdjustments(base, itemAdjustments(o, item)))
	}

	orderBase := adjusted
	adjusted = applyAdjustments(orderBase, orderAdjustments(o))
	// Discounts never push the order below zero.
	adjusted = money.Max(adjusted, decimal.Zero)

	tips := decimal.Zero
	paid := decimal.Zero
	for _, p := range o.Payments {
		if p.IsTip {
			tips = tips.Add(p.Amount)
		} else {
			paid = paid.Add(p.Amount)
		}
	}

	o.Subtotal = money.Round(subtotal)
	o.DiscountTotal = money.Round(subtotal.Sub(adjusted))
	o.TipTotal = money.Round(tips)
	o.GrandTotal = money.Round(adjusted.Add(tips))
	// A tip raises the grand total and settles it in the same stroke, so the
	// outstanding balance tracks the adjusted subtotal against non-tip money.
	o.Balance = money.Max(money.Round(adjusted).Sub(money.Round(paid)), decimal.Zero)
}

// applyAdjustments reduces base by each adjustment in order. Percentages
// compute against base as it stood before any of these adjustments applied.
func applyAdjustments(base decimal.Decimal, adjustments []*entity.Adjustment) decimal.Decimal {
	result := base
	for _, adj := range adjustments {
		switch adj.Mode {
		case entity.AdjustmentPercentage:
			result = result.Sub(money.Percent(base, adj.Value))
		case entity.AdjustmentFixed:
			result = result.Sub(adj.Value)
		}
	}
	return result
}

func itemAdjustments(o *entity.Order, item *entity.OrderItem) []*entity.Adjustment {
	var out []*entity.Adjustment
	for _, adj := range o.Adjustments {
		if adj.ItemID != nil && *adj.ItemID == item.ID {
			out = append(out, adj)
		}
	}
	return out
}

func orderAdjustments(o *entity.Order) []*entity.Adjustment {
	var out []*entity.Adjustment
	for _, adj := range o.Adjustments {
		if adj.ItemID == nil {
			out = append(out, adj)
		}
	}
	return out
}
