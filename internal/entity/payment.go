package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Payment is one append-only ledger entry against an order. Payments are
// never updated or deleted; a reversal, if ever added, would be a new
// offsetting record. A tip-flagged payment does not reduce the balance.
type Payment struct {
	bun.BaseModel `bun:"table:payments"`

	ID             int64           `bun:",pk,autoincrement"`
	OrderID        int64           `bun:"order_id"`
	Method         string          `bun:"method"`
	Amount         decimal.Decimal `bun:"amount,type:numeric"`
	IsTip          bool            `bun:"is_tip"`
	Reference      *string         `bun:"reference"`
	IdempotencyKey *string         `bun:"idempotency_key"`
	RecordedBy     string          `bun:"recorded_by"`
	CreatedAt      time.Time       `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
}
