package directory

import (
	"context"
	"database/sql"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sudspoint/washcore/internal/database"
	"github.com/sudspoint/washcore/internal/entity"
)

var repoTracer = otel.Tracer("github.com/sudspoint/washcore/repository/directory")

// ErrNotFound is returned when a directory entity is missing.
var ErrNotFound = errors.New("directory entity not found")

// Repository serves tenant-scoped lookups of branches, customers, vehicles,
// services, and promotions. Every query carries an explicit tenant or id
// predicate plus the active flag; nothing is filtered implicitly.
type Repository struct {
	conns *database.Connections
}

// NewRepository wires the repository over configured connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{conns: conns}
}

// Branch fetches a branch by id.
func (r *Repository) Branch(ctx context.Context, id int64) (*entity.Branch, error) {
	ctx, span := repoTracer.Start(ctx, "DirectoryRepository.Branch", trace.WithAttributes(attribute.Int64("branch.id", id)))
	defer span.End()

	branch := new(entity.Branch)
	if err := r.conns.Reader.NewSelect().Model(branch).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, mapScanErr(err)
	}
	return branch, nil
}

// Customer fetches a customer by id.
func (r *Repository) Customer(ctx context.Context, id int64) (*entity.Customer, error) {
	ctx, span := repoTracer.Start(ctx, "DirectoryRepository.Customer", trace.WithAttributes(attribute.Int64("customer.id", id)))
	defer span.End()

	customer := new(entity.Customer)
	if err := r.conns.Reader.NewSelect().Model(customer).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, mapScanErr(err)
	}
	return customer, nil
}

// Vehicle fetches a vehicle by id.
func (r *Repository) Vehicle(ctx context.Context, id int64) (*entity.Vehicle, error) {
	ctx, span := repoTracer.Start(ctx, "DirectoryRepository.Vehicle", trace.WithAttributes(attribute.Int64("vehicle.id", id)))
	defer span.End()

	vehicle := new(entity.Vehicle)
	if err := r.conns.Reader.NewSelect().Model(vehicle).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, mapScanErr(err)
	}
	return vehicle, nil
}

// Service fetches a catalog service by id.
func (r *Repository) Service(ctx context.Context, id int64) (*entity.Service, error) {
	ctx, span := repoTracer.Start(ctx, "DirectoryRepository.Service", trace.WithAttributes(attribute.Int64("service.id", id)))
	defer span.End()

	svc := new(entity.Service)
	if err := r.conns.Reader.NewSelect().Model(svc).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, mapScanErr(err)
	}
	return svc, nil
}

// PromotionByCode fetches a tenant's promotion by its code.
func (r *Repository) PromotionByCode(ctx context.Context, tenantID int64, code string) (*entity.Promotion, error) {
	ctx, span := repoTracer.Start(ctx, "DirectoryRepository.PromotionByCode", trace.WithAttributes(
		attribute.Int64("tenant.id", tenantID),
		attribute.String("promotion.code", code),
	))
	defer span.End()

	promo := new(entity.Promotion)
	if err := r.conns.Reader.NewSelect().Model(promo).
		Where("tenant_id = ?", tenantID).
		Where("code = ?", code).
		Scan(ctx); err != nil {
		return nil, mapScanErr(err)
	}
	return promo, nil
}

func mapScanErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
