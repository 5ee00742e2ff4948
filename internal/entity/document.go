package entity

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// DocumentType enumerates the receipt documents the sequencer can issue.
type DocumentType string

const (
	DocumentReceipt DocumentType = "receipt"
	DocumentInvoice DocumentType = "invoice"
)

// SequenceCounter holds the next number for one (branch, type, point of
// sale) triple. The row is read and bumped only under a row lock.
type SequenceCounter struct {
	bun.BaseModel `bun:"table:sequence_counters"`

	BranchID      int64        `bun:"branch_id,pk"`
	DocType       DocumentType `bun:"doc_type,pk"`
	PointOfSaleID int64        `bun:"point_of_sale_id,pk"`
	NextNumber    int64        `bun:"next_number"`
	UpdatedAt     time.Time    `bun:"updated_at,nullzero"`
}

// Document is an immutable, sequentially numbered receipt for a paid order.
// The snapshot freezes the order as of issuance; re-issuing returns the same
// row without burning another number.
type Document struct {
	bun.BaseModel `bun:"table:documents"`

	ID            int64           `bun:",pk,autoincrement"`
	OrderID       int64           `bun:"order_id"`
	BranchID      int64           `bun:"branch_id"`
	DocType       DocumentType    `bun:"doc_type"`
	PointOfSaleID int64           `bun:"point_of_sale_id"`
	Number        int64           `bun:"number"`
	Currency      string          `bun:"currency"`
	Total         decimal.Decimal `bun:"total,type:numeric"`
	Snapshot      json.RawMessage `bun:"snapshot,type:jsonb"`
	IssuedBy      string          `bun:"issued_by"`
	IssuedAt      time.Time       `bun:"issued_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
}

// DocumentSnapshot is the JSON shape frozen into a document at issuance.
type DocumentSnapshot struct {
	OrderID    int64              `json:"order_id"`
	BranchID   int64              `json:"branch_id"`
	CustomerID int64              `json:"customer_id"`
	VehicleID  int64              `json:"vehicle_id"`
	Currency   string             `json:"currency"`
	Items      []SnapshotItem     `json:"items"`
	Discounts  []SnapshotDiscount `json:"discounts"`
	Subtotal   decimal.Decimal    `json:"subtotal"`
	Discount   decimal.Decimal    `json:"discount_total"`
	Tip        decimal.Decimal    `json:"tip_total"`
	Total      decimal.Decimal    `json:"grand_total"`
}

// SnapshotItem is one frozen order line.
type SnapshotItem struct {
	ServiceID int64           `json:"service_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// SnapshotDiscount is one frozen adjustment.
type SnapshotDiscount struct {
	Scope        string          `json:"scope"`
	Kind         AdjustmentKind  `json:"kind"`
	Mode         AdjustmentMode  `json:"mode"`
	Value        decimal.Decimal `json:"value"`
	PromotionRef *string         `json:"promotion_ref,omitempty"`
	Label        string          `json:"label"`
}
