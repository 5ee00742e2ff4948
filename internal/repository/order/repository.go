package order

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sudspoint/washcore/internal/database"
	"github.com/sudspoint/washcore/internal/entity"
	"github.com/sudspoint/washcore/pkg/errorbank"
)

var repoTracer = otel.Tracer("github.com/sudspoint/washcore/repository/order")

// ErrNotFound is returned when an order is missing.
var ErrNotFound = errors.New("order not found")

// Repository owns persistence of the order aggregate: the order row, its
// items, adjustments, and payments.
type Repository struct {
	conns *database.Connections
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{conns: conns}
}

// Create persists a new order using the write connection.
func (r *Repository) Create(ctx context.Context, o *entity.Order) error {
	if o == nil {
		return errors.New("nil order")
	}
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Create", trace.WithAttributes(attribute.Int64("order.branch_id", o.BranchID)))
	defer span.End()

	_, err := r.conns.Writer.NewInsert().Model(o).Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

// Get loads the full aggregate by primary key from the read connection.
func (r *Repository) Get(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Get", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	o := new(entity.Order)
	err := r.conns.Reader.NewSelect().Model(o).
		Relation("Items", sortCreated).
		Relation("Adjustments", sortCreated).
		Relation("Payments", sortCreated).
		Where("o.id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return o, nil
}

// Mutate runs a serialized read-modify-write cycle against one order. The
// order row is locked for the duration so concurrent mutations of the same
// order cannot interleave and compute stale totals. fn receives the loaded
// aggregate and edits it in place; Mutate then persists the difference:
// new rows (ID zero) are inserted, vanished items and adjustments are
// deleted, surviving items are updated, payments are append-only, and the
// order row itself is rewritten. All of it commits or none of it does.
func (r *Repository) Mutate(ctx context.Context, id int64, fn func(o *entity.Order) error) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Mutate", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	var result *entity.Order
	err := r.conns.RunInLockedTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		o := new(entity.Order)
		err := tx.NewSelect().Model(o).
			Where("id = ?", id).
			For("UPDATE").
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if err := loadChildren(ctx, tx, o); err != nil {
			return err
		}

		beforeItems := idSet(len(o.Items))
		for _, it := range o.Items {
			beforeItems[it.ID] = struct{}{}
		}
		beforeAdjustments := idSet(len(o.Adjustments))
		for _, a := range o.Adjustments {
			beforeAdjustments[a.ID] = struct{}{}
		}

		if err := fn(o); err != nil {
			return err
		}

		if err := syncItems(ctx, tx, o, beforeItems); err != nil {
			return err
		}
		if err := syncAdjustments(ctx, tx, o, beforeAdjustments); err != nil {
			return err
		}
		if err := appendPayments(ctx, tx, o); err != nil {
			return err
		}

		if _, err := tx.NewUpdate().Model(o).
			Column("status", "subtotal", "discount_total", "tip_total", "grand_total", "balance", "updated_at").
			WherePK().
			Exec(ctx); err != nil {
			return err
		}

		result = o
		return nil
	})
	if err != nil {
		if database.IsContention(err) {
			return nil, errorbank.Busy("order is locked", errorbank.WithCause(err))
		}
		if database.IsUniqueViolation(err) {
			return nil, errorbank.Conflict("conflicting concurrent write", errorbank.WithCause(err))
		}
		if !errors.Is(err, ErrNotFound) && errorbank.From(err).Kind() == errorbank.KindInternal {
			span.RecordError(err)
			span.SetStatus(codes.Error, "mutate failed")
		}
		return nil, err
	}
	return result, nil
}

func loadChildren(ctx context.Context, tx bun.Tx, o *entity.Order) error {
	o.Items = nil
	if err := tx.NewSelect().Model(&o.Items).
		Where("order_id = ?", o.ID).
		Order("created_at ASC", "id ASC").
		Scan(ctx); err != nil {
		return err
	}
	o.Adjustments = nil
	if err := tx.NewSelect().Model(&o.Adjustments).
		Where("order_id = ?", o.ID).
		Order("created_at ASC", "id ASC").
		Scan(ctx); err != nil {
		return err
	}
	o.Payments = nil
	return tx.NewSelect().Model(&o.Payments).
		Where("order_id = ?", o.ID).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
}

func syncItems(ctx context.Context, tx bun.Tx, o *entity.Order, before map[int64]struct{}) error {
	after := idSet(len(o.Items))
	for _, it := range o.Items {
		if it.ID == 0 {
			it.OrderID = o.ID
			if _, err := tx.NewInsert().Model(it).Exec(ctx); err != nil {
				return err
			}
		} else {
			if _, err := tx.NewUpdate().Model(it).
				Column("quantity", "line_total").
				WherePK().
				Exec(ctx); err != nil {
				return err
			}
		}
		after[it.ID] = struct{}{}
	}
	return deleteVanished(ctx, tx, (*entity.OrderItem)(nil), before, after)
}

func syncAdjustments(ctx context.Context, tx bun.Tx, o *entity.Order, before map[int64]struct{}) error {
	after := idSet(len(o.Adjustments))
	for _, a := range o.Adjustments {
		if a.ID == 0 {
			a.OrderID = o.ID
			if _, err := tx.NewInsert().Model(a).Exec(ctx); err != nil {
				return err
			}
		}
		after[a.ID] = struct{}{}
	}
	return deleteVanished(ctx, tx, (*entity.Adjustment)(nil), before, after)
}

func appendPayments(ctx context.Context, tx bun.Tx, o *entity.Order) error {
	for _, p := range o.Payments {
		if p.ID != 0 {
			continue
		}
		p.OrderID = o.ID
		if _, err := tx.NewInsert().Model(p).Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func deleteVanished(ctx context.Context, tx bun.Tx, model any, before, after map[int64]struct{}) error {
	var gone []int64
	for id := range before {
		if _, ok := after[id]; !ok {
			gone = append(gone, id)
		}
	}
	if len(gone) == 0 {
		return nil
	}
	_, err := tx.NewDelete().Model(model).
		Where("id IN (?)", bun.In(gone)).
		Exec(ctx)
	return err
}

func idSet(capacity int) map[int64]struct{} {
	return make(map[int64]struct{}, capacity)
}

func sortCreated(q *bun.SelectQuery) *bun.SelectQuery {
	return q.Order("created_at ASC", "id ASC")
}
