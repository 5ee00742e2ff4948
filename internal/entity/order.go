package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderDraft      OrderStatus = "draft"
	OrderInProgress OrderStatus = "in_progress"
	OrderFinished   OrderStatus = "finished"
	OrderPaid       OrderStatus = "paid"
	OrderCancelled  OrderStatus = "cancelled"
)

// Terminal reports whether the status admits no further mutation.
func (s OrderStatus) Terminal() bool {
	return s == OrderPaid || s == OrderCancelled
}

// AdjustmentKind distinguishes manual discounts from promotion-derived ones.
type AdjustmentKind string

const (
	AdjustmentManual    AdjustmentKind = "manual"
	AdjustmentPromotion AdjustmentKind = "promotion"
)

// AdjustmentMode selects how the adjustment value is interpreted.
type AdjustmentMode string

const (
	AdjustmentPercentage AdjustmentMode = "percentage"
	AdjustmentFixed      AdjustmentMode = "fixed"
)

// Order is the aggregate root for a unit of wash work. It is owned by the
// order engine and mutated only under its per-order lock.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID         int64       `bun:",pk,autoincrement"`
	TenantID   int64       `bun:"tenant_id"`
	BranchID   int64       `bun:"branch_id"`
	CustomerID int64       `bun:"customer_id"`
	VehicleID  int64       `bun:"vehicle_id"`
	Status     OrderStatus `bun:"status"`
	Currency   string      `bun:"currency"`

	Subtotal      decimal.Decimal `bun:"subtotal,type:numeric"`
	DiscountTotal decimal.Decimal `bun:"discount_total,type:numeric"`
	TipTotal      decimal.Decimal `bun:"tip_total,type:numeric"`
	GrandTotal    decimal.Decimal `bun:"grand_total,type:numeric"`
	Balance       decimal.Decimal `bun:"balance,type:numeric"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `bun:"updated_at,nullzero"`

	Items       []*OrderItem  `bun:"rel:has-many,join:id=order_id"`
	Adjustments []*Adjustment `bun:"rel:has-many,join:id=order_id"`
	Payments    []*Payment    `bun:"rel:has-many,join:id=order_id"`
}

// Item returns the item with the given id, or nil.
func (o *Order) Item(id int64) *OrderItem {
	for _, it := range o.Items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

// PaymentByKey returns the payment carrying the idempotency key, or nil.
func (o *Order) PaymentByKey(key string) *Payment {
	if key == "" {
		return nil
	}
	for _, p := range o.Payments {
		if p.IdempotencyKey != nil && *p.IdempotencyKey == key {
			return p
		}
	}
	return nil
}

// OrderItem is one priced service line. UnitPrice is a snapshot taken from
// the pricing resolver at insertion time and never tracks later rule changes.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	ID        int64           `bun:",pk,autoincrement"`
	OrderID   int64           `bun:"order_id"`
	ServiceID int64           `bun:"service_id"`
	Quantity  int             `bun:"quantity"`
	UnitPrice decimal.Decimal `bun:"unit_price,type:numeric"`
	LineTotal decimal.Decimal `bun:"line_total,type:numeric"`
	CreatedAt time.Time       `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
}

// Adjustment reduces a line total (ItemID set) or the order subtotal
// (ItemID nil). PromotionRef ties the adjustment back to its promotion and
// may appear only once per scope+target.
type Adjustment struct {
	bun.BaseModel `bun:"table:order_adjustments"`

	ID           int64           `bun:",pk,autoincrement"`
	OrderID      int64           `bun:"order_id"`
	ItemID       *int64          `bun:"item_id"`
	Kind         AdjustmentKind  `bun:"kind"`
	Mode         AdjustmentMode  `bun:"mode"`
	Value        decimal.Decimal `bun:"value,type:numeric"`
	PromotionRef *string         `bun:"promotion_ref"`
	Label        string          `bun:"label"`
	CreatedAt    time.Time       `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
}
