package event

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/sudspoint/washcore/internal/messaging"
)

// Type names a domain event on the bus.
type Type string

const (
	OrderCreated        Type = "order.created"
	OrderItemAdded      Type = "order.item_added"
	OrderItemRemoved    Type = "order.item_removed"
	OrderItemUpdated    Type = "order.item_updated"
	OrderAdjusted       Type = "order.adjusted"
	OrderStarted        Type = "order.started"
	OrderFinished       Type = "order.finished"
	OrderCancelled      Type = "order.cancelled"
	OrderPaid           Type = "order.paid"
	PaymentRegistered   Type = "payment.registered"
	PriceRuleDefined    Type = "pricing.rule_defined"
	PriceRuleSuperseded Type = "pricing.rule_superseded"
	DocumentIssued      Type = "document.issued"
)

// Event is one immutable fact returned by a core operation. Operations
// return their events explicitly; the emitter publishes them after commit,
// exactly once per logical mutation.
type Event struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	TenantID   int64           `json:"tenant_id,omitempty"`
	OrderID    int64           `json:"order_id,omitempty"`
	Actor      string          `json:"actor,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// New builds an event with a fresh id and timestamp. Payloads that fail to
// marshal are dropped rather than blocking the mutation they describe.
func New(t Type, payload any) Event {
	ev := Event{
		ID:         uuid.NewString(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}
	return ev
}

// Emitter publishes domain events to the bus, best-effort.
type Emitter struct {
	client messaging.Client
	logger *zap.Logger
}

// Module provides the emitter to Fx.
var Module = fx.Provide(NewEmitter)

// NewEmitter wires an Emitter over the messaging client.
func NewEmitter(client messaging.Client, logger *zap.Logger) *Emitter {
	return &Emitter{client: client, logger: logger}
}

// Emit publishes the events in order. Publishing happens after the owning
// transaction commits; failures are logged and never fail the operation.
func (e *Emitter) Emit(ctx context.Context, events ...Event) {
	if e == nil || e.client == nil {
		return
	}
	for _, ev := range events {
		raw, err := json.Marshal(ev)
		if err != nil {
			e.logger.Error("marshal event", zap.String("type", string(ev.Type)), zap.Error(err))
			continue
		}
		if err := e.client.Publish(ctx, partitionKey(ev), raw); err != nil {
			e.logger.Error("publish event", zap.String("type", string(ev.Type)), zap.Error(err))
		}
	}
}

// partitionKey keys order-scoped events by order so they stay ordered within
// a partition; everything else is keyed by type.
func partitionKey(ev Event) []byte {
	if ev.OrderID != 0 {
		return []byte(strconv.FormatInt(ev.OrderID, 10))
	}
	return []byte(ev.Type)
}
