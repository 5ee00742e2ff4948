package pricing

import (
	"context"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sudspoint/washcore/internal/database"
	"github.com/sudspoint/washcore/internal/entity"
	"github.com/sudspoint/washcore/pkg/errorbank"
)

var repoTracer = otel.Tracer("github.com/sudspoint/washcore/repository/pricing")

// Mutation is the outcome of a rule-set mutation computed by the caller
// while the tuple's active rules are locked.
type Mutation struct {
	// Close rewrites the EndsOn of existing rules (supersede path).
	Close []*entity.PriceRule
	// Insert adds new rules.
	Insert []*entity.PriceRule
}

// Repository stores time-bounded price rules.
type Repository struct {
	conns *database.Connections
}

// NewRepository wires a repository backed by configured connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{conns: conns}
}

// ActiveRules loads the active rule set for a tuple, oldest start first.
// Served from the read connection; resolution tolerates replica staleness,
// mutation does not and goes through MutateTuple instead.
func (r *Repository) ActiveRules(ctx context.Context, tuple entity.PriceTuple) ([]*entity.PriceRule, error) {
	ctx, span := repoTracer.Start(ctx, "PricingRepository.ActiveRules", tupleAttrs(tuple))
	defer span.End()

	var rules []*entity.PriceRule
	err := r.conns.Reader.NewSelect().Model(&rules).
		Where("branch_id = ?", tuple.BranchID).
		Where("service_id = ?", tuple.ServiceID).
		Where("vehicle_type_id = ?", tuple.VehicleTypeID).
		Where("active").
		Order("starts_on ASC").
		Scan(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return rules, nil
}

// MutateTuple loads the tuple's active rules under a serializable
// transaction, hands them to fn, and applies the returned mutation in the
// same transaction. FOR UPDATE serializes rewrites of existing rows;
// serializable isolation covers the case where there is no row to lock yet,
// so two first definitions for a tuple cannot both validate against the
// empty set. Lock waits and serialization aborts surface as a retryable
// busy error.
func (r *Repository) MutateTuple(ctx context.Context, tuple entity.PriceTuple, fn func(existing []*entity.PriceRule) (Mutation, error)) error {
	ctx, span := repoTracer.Start(ctx, "PricingRepository.MutateTuple", tupleAttrs(tuple))
	defer span.End()

	err := r.conns.RunInLockedTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		var existing []*entity.PriceRule
		err := tx.NewSelect().Model(&existing).
			Where("branch_id = ?", tuple.BranchID).
			Where("service_id = ?", tuple.ServiceID).
			Where("vehicle_type_id = ?", tuple.VehicleTypeID).
			Where("active").
			Order("starts_on ASC").
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			return err
		}

		mut, err := fn(existing)
		if err != nil {
			return err
		}

		for _, rule := range mut.Close {
			if _, err := tx.NewUpdate().Model(rule).
				Column("ends_on").
				WherePK().
				Exec(ctx); err != nil {
				return err
			}
		}
		for _, rule := range mut.Insert {
			if _, err := tx.NewInsert().Model(rule).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if database.IsContention(err) {
			return errorbank.Busy("price tuple is contended", errorbank.WithCause(err))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "mutate failed")
		return err
	}
	return nil
}

func tupleAttrs(tuple entity.PriceTuple) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.Int64("price.branch_id", tuple.BranchID),
		attribute.Int64("price.service_id", tuple.ServiceID),
		attribute.Int64("price.vehicle_type_id", tuple.VehicleTypeID),
	)
}
