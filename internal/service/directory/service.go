package directory

import (
	"context"
	"errors"

	"go.uber.org/fx"

	"github.com/sudspoint/washcore/internal/entity"
	repo "github.com/sudspoint/washcore/internal/repository/directory"
	"github.com/sudspoint/washcore/pkg/errorbank"
)

// Service answers the membership and liveness questions the financial core
// asks about tenants, branches, customers, vehicles, services, and
// promotions. It is deliberately read-only: administration of these records
// is outside the core.
type Service struct {
	repo *repo.Repository
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository *repo.Repository
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{repo: p.Repository}
}

// Branch returns the branch when it exists and is active.
func (s *Service) Branch(ctx context.Context, id int64) (*entity.Branch, error) {
	branch, err := s.repo.Branch(ctx, id)
	if err != nil {
		return nil, mapLookupErr(err, "branch not found")
	}
	if !branch.Active {
		return nil, errorbank.Unprocessable("branch is inactive", errorbank.WithCode(errorbank.CodeValidation))
	}
	return branch, nil
}

// Customer returns the customer when it is active and owned by the tenant.
func (s *Service) Customer(ctx context.Context, id, tenantID int64) (*entity.Customer, error) {
	customer, err := s.repo.Customer(ctx, id)
	if err != nil {
		return nil, mapLookupErr(err, "customer not found")
	}
	if customer.TenantID != tenantID || !customer.Active {
		return nil, errorbank.Unprocessable("customer does not belong to tenant", errorbank.WithCode(errorbank.CodeValidation))
	}
	return customer, nil
}

// Vehicle returns the vehicle when it is active and owned by the tenant.
func (s *Service) Vehicle(ctx context.Context, id, tenantID int64) (*entity.Vehicle, error) {
	vehicle, err := s.repo.Vehicle(ctx, id)
	if err != nil {
		return nil, mapLookupErr(err, "vehicle not found")
	}
	if vehicle.TenantID != tenantID || !vehicle.Active {
		return nil, errorbank.Unprocessable("vehicle does not belong to tenant", errorbank.WithCode(errorbank.CodeValidation))
	}
	return vehicle, nil
}

// ActiveService returns the catalog service when it exists and is active.
func (s *Service) ActiveService(ctx context.Context, id int64) (*entity.Service, error) {
	svc, err := s.repo.Service(ctx, id)
	if err != nil {
		return nil, mapLookupErr(err, "service not found")
	}
	if !svc.Active {
		return nil, errorbank.Unprocessable("service is inactive", errorbank.WithCode(errorbank.CodeValidation))
	}
	return svc, nil
}

// Promotion returns a tenant's active promotion by code.
func (s *Service) Promotion(ctx context.Context, tenantID int64, code string) (*entity.Promotion, error) {
	promo, err := s.repo.PromotionByCode(ctx, tenantID, code)
	if err != nil {
		return nil, mapLookupErr(err, "promotion not found")
	}
	if !promo.Active {
		return nil, errorbank.Unprocessable("promotion is inactive", errorbank.WithCode(errorbank.CodeValidation))
	}
	return promo, nil
}

func mapLookupErr(err error, msg string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return errorbank.NotFound(msg)
	}
	return errorbank.Internal("directory lookup failed", errorbank.WithCause(err))
}
