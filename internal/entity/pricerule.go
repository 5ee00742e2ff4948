package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// PriceTuple identifies the pricing dimension a rule applies to.
type PriceTuple struct {
	BranchID      int64
	ServiceID     int64
	VehicleTypeID int64
}

// PriceRule is a time-bounded price for one (branch, service, vehicle type)
// tuple. Validity is the half-open interval [StartsOn, EndsOn); a nil EndsOn
// means the rule is open-ended. Rules are never destructively rewritten:
// superseding closes the predecessor's EndsOn and inserts a new row.
type PriceRule struct {
	bun.BaseModel `bun:"table:price_rules"`

	ID            int64           `bun:",pk,autoincrement"`
	BranchID      int64           `bun:"branch_id"`
	ServiceID     int64           `bun:"service_id"`
	VehicleTypeID int64           `bun:"vehicle_type_id"`
	Currency      string          `bun:"currency"`
	Amount        decimal.Decimal `bun:"amount,type:numeric"`
	StartsOn      time.Time       `bun:"starts_on"`
	EndsOn        *time.Time      `bun:"ends_on"`
	Active        bool            `bun:"active"`
	CreatedAt     time.Time       `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
}

// Tuple returns the pricing dimension of the rule.
func (r *PriceRule) Tuple() PriceTuple {
	return PriceTuple{BranchID: r.BranchID, ServiceID: r.ServiceID, VehicleTypeID: r.VehicleTypeID}
}

// Contains reports whether the rule's validity interval covers the date.
func (r *PriceRule) Contains(asOf time.Time) bool {
	if asOf.Before(r.StartsOn) {
		return false
	}
	if r.EndsOn != nil && !asOf.Before(*r.EndsOn) {
		return false
	}
	return true
}
