package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sudspoint/washcore/internal/entity"
)

// OrderResponse represents an order aggregate as exposed via transport layers.
type OrderResponse struct {
	ID            int64                `json:"id"`
	TenantID      int64                `json:"tenant_id"`
	BranchID      int64                `json:"branch_id"`
	CustomerID    int64                `json:"customer_id"`
	VehicleID     int64                `json:"vehicle_id"`
	Status        string               `json:"status"`
	Currency      string               `json:"currency"`
	Subtotal      decimal.Decimal      `json:"subtotal"`
	DiscountTotal decimal.Decimal      `json:"discount_total"`
	TipTotal      decimal.Decimal      `json:"tip_total"`
	GrandTotal    decimal.Decimal      `json:"grand_total"`
	Balance       decimal.Decimal      `json:"balance"`
	Items         []OrderItemResponse  `json:"items"`
	Adjustments   []AdjustmentResponse `json:"adjustments"`
	Payments      []PaymentResponse    `json:"payments"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// OrderItemResponse is one order line.
type OrderItemResponse struct {
	ID        int64           `json:"id"`
	ServiceID int64           `json:"service_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// AdjustmentResponse is one discount entry.
type AdjustmentResponse struct {
	ID           int64           `json:"id"`
	ItemID       *int64          `json:"item_id,omitempty"`
	Kind         string          `json:"kind"`
	Mode         string          `json:"mode"`
	Value        decimal.Decimal `json:"value"`
	PromotionRef *string         `json:"promotion_ref,omitempty"`
	Label        string          `json:"label"`
}

// PaymentResponse is one ledger entry.
type PaymentResponse struct {
	ID             int64           `json:"id"`
	Method         string          `json:"method"`
	Amount         decimal.Decimal `json:"amount"`
	IsTip          bool            `json:"is_tip"`
	Reference      *string         `json:"reference,omitempty"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	RecordedBy     string          `json:"recorded_by"`
	CreatedAt      time.Time       `json:"created_at"`
}

// FromOrder maps an order aggregate onto its response shape.
func FromOrder(o *entity.Order) OrderResponse {
	resp := OrderResponse{
		ID:            o.ID,
		TenantID:      o.TenantID,
		BranchID:      o.BranchID,
		CustomerID:    o.CustomerID,
		VehicleID:     o.VehicleID,
		Status:        string(o.Status),
		Currency:      o.Currency,
		Subtotal:      o.Subtotal,
		DiscountTotal: o.DiscountTotal,
		TipTotal:      o.TipTotal,
		GrandTotal:    o.GrandTotal,
		Balance:       o.Balance,
		Items:         make([]OrderItemResponse, 0, len(o.Items)),
		Adjustments:   make([]AdjustmentResponse, 0, len(o.Adjustments)),
		Payments:      make([]PaymentResponse, 0, len(o.Payments)),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, OrderItemResponse{
			ID:        it.ID,
			ServiceID: it.ServiceID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			LineTotal: it.LineTotal,
		})
	}
	for _, adj := range o.Adjustments {
		resp.Adjustments = append(resp.Adjustments, AdjustmentResponse{
			ID:           adj.ID,
			ItemID:       adj.ItemID,
			Kind:         string(adj.Kind),
			Mode:         string(adj.Mode),
			Value:        adj.Value,
			PromotionRef: adj.PromotionRef,
			Label:        adj.Label,
		})
	}
	for _, p := range o.Payments {
		resp.Payments = append(resp.Payments, FromPayment(p))
	}
	return resp
}

// FromPayment maps one ledger entry onto its response shape.
func FromPayment(p *entity.Payment) PaymentResponse {
	return PaymentResponse{
		ID:             p.ID,
		Method:         p.Method,
		Amount:         p.Amount,
		IsTip:          p.IsTip,
		Reference:      p.Reference,
		IdempotencyKey: p.IdempotencyKey,
		RecordedBy:     p.RecordedBy,
		CreatedAt:      p.CreatedAt,
	}
}
