package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Tenant is an operator of one or more wash branches.
type Tenant struct {
	bun.BaseModel `bun:"table:tenants"`

	ID        int64     `bun:",pk,autoincrement"`
	Name      string    `bun:"name"`
	Active    bool      `bun:"active"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
}

// Branch is a physical wash location belonging to a tenant.
type Branch struct {
	bun.BaseModel `bun:"table:branches"`

	ID        int64     `bun:",pk,autoincrement"`
	TenantID  int64     `bun:"tenant_id"`
	Name      string    `bun:"name"`
	Active    bool      `bun:"active"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
}

// Customer is a person or company the work is billed to.
type Customer struct {
	bun.BaseModel `bun:"table:customers"`

	ID        int64     `bun:",pk,autoincrement"`
	TenantID  int64     `bun:"tenant_id"`
	Name      string    `bun:"name"`
	Active    bool      `bun:"active"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
}

// Vehicle is a customer's vehicle, tagged with the type pricing keys on.
type Vehicle struct {
	bun.BaseModel `bun:"table:vehicles"`

	ID            int64     `bun:",pk,autoincrement"`
	TenantID      int64     `bun:"tenant_id"`
	CustomerID    int64     `bun:"customer_id"`
	VehicleTypeID int64     `bun:"vehicle_type_id"`
	Plate         string    `bun:"plate"`
	Active        bool      `bun:"active"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
}

// Service is a catalog entry for a sellable wash service.
type Service struct {
	bun.BaseModel `bun:"table:services"`

	ID        int64     `bun:",pk,autoincrement"`
	TenantID  int64     `bun:"tenant_id"`
	Name      string    `bun:"name"`
	Active    bool      `bun:"active"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
}

// Promotion is a tenant-level discount definition with a validity window.
// A nil ValidUntil means the promotion has no scheduled end.
type Promotion struct {
	bun.BaseModel `bun:"table:promotions"`

	ID         int64           `bun:",pk,autoincrement"`
	TenantID   int64           `bun:"tenant_id"`
	Code       string          `bun:"code"`
	Label      string          `bun:"label"`
	Mode       AdjustmentMode  `bun:"mode"`
	Value      decimal.Decimal `bun:"value,type:numeric"`
	ValidFrom  time.Time       `bun:"valid_from"`
	ValidUntil *time.Time      `bun:"valid_until"`
	Active     bool            `bun:"active"`
	CreatedAt  time.Time       `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
}

// InWindow reports whether the promotion is applicable at the given instant.
func (p *Promotion) InWindow(at time.Time) bool {
	if at.Before(p.ValidFrom) {
		return false
	}
	if p.ValidUntil != nil && !at.Before(*p.ValidUntil) {
		return false
	}
	return true
}
