package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sudspoint/washcore/internal/entity"
)

// QuoteResponse is a resolved price.
type QuoteResponse struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// PriceRuleResponse represents a price rule as exposed via transport layers.
type PriceRuleResponse struct {
	ID            int64           `json:"id"`
	BranchID      int64           `json:"branch_id"`
	ServiceID     int64           `json:"service_id"`
	VehicleTypeID int64           `json:"vehicle_type_id"`
	Currency      string          `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	StartsOn      string          `json:"starts_on"`
	EndsOn        *string         `json:"ends_on,omitempty"`
	Active        bool            `json:"active"`
}

// FromPriceRule maps a price rule onto its response shape.
func FromPriceRule(r *entity.PriceRule) PriceRuleResponse {
	resp := PriceRuleResponse{
		ID:            r.ID,
		BranchID:      r.BranchID,
		ServiceID:     r.ServiceID,
		VehicleTypeID: r.VehicleTypeID,
		Currency:      r.Currency,
		Amount:        r.Amount,
		StartsOn:      r.StartsOn.Format(time.DateOnly),
		Active:        r.Active,
	}
	if r.EndsOn != nil {
		end := r.EndsOn.Format(time.DateOnly)
		resp.EndsOn = &end
	}
	return resp
}
