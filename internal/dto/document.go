package dto

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sudspoint/washcore/internal/entity"
)

// DocumentResponse represents an issued document.
type DocumentResponse struct {
	ID            int64           `json:"id"`
	OrderID       int64           `json:"order_id"`
	BranchID      int64           `json:"branch_id"`
	DocType       string          `json:"doc_type"`
	PointOfSaleID int64           `json:"point_of_sale_id"`
	Number        int64           `json:"number"`
	Currency      string          `json:"currency"`
	Total         decimal.Decimal `json:"total"`
	Snapshot      json.RawMessage `json:"snapshot"`
	IssuedBy      string          `json:"issued_by"`
	IssuedAt      time.Time       `json:"issued_at"`
}

// FromDocument maps a document onto its response shape.
func FromDocument(d *entity.Document) DocumentResponse {
	return DocumentResponse{
		ID:            d.ID,
		OrderID:       d.OrderID,
		BranchID:      d.BranchID,
		DocType:       string(d.DocType),
		PointOfSaleID: d.PointOfSaleID,
		Number:        d.Number,
		Currency:      d.Currency,
		Total:         d.Total,
		Snapshot:      d.Snapshot,
		IssuedBy:      d.IssuedBy,
		IssuedAt:      d.IssuedAt,
	}
}
