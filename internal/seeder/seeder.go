package seeder

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/sudspoint/washcore/internal/database"
	"github.com/sudspoint/washcore/internal/entity"
)

// Module exposes the seeder to the Fx graph.
var Module = fx.Provide(New)

// Seeder performs database seeding for local/dev setups.
type Seeder struct {
	db     *bun.DB
	logger *zap.Logger
}

// New constructs a Seeder backed by the primary database connection.
func New(conns *database.Connections, logger *zap.Logger) *Seeder {
	return &Seeder{db: conns.Writer, logger: logger}
}

// All runs every seed group in dependency order.
func (s *Seeder) All(ctx context.Context) error {
	if err := s.Directory(ctx); err != nil {
		return err
	}
	return s.PriceRules(ctx)
}

// Directory seeds a tenant with a branch, customers, vehicles, services,
// and promotions if they are missing.
func (s *Seeder) Directory(ctx context.Context) error {
	now := time.Now().UTC()

	tenants := []entity.Tenant{
		{ID: 1, Name: "Sudspoint Wash Co", Active: true, CreatedAt: now},
	}
	branches := []entity.Branch{
		{ID: 1, TenantID: 1, Name: "Downtown", Active: true, CreatedAt: now},
		{ID: 2, TenantID: 1, Name: "Airport", Active: true, CreatedAt: now},
	}
	customers := []entity.Customer{
		{ID: 1, TenantID: 1, Name: "Acme Fleet Services", Active: true, CreatedAt: now},
		{ID: 2, TenantID: 1, Name: "Jordan Reyes", Active: true, CreatedAt: now},
	}
	vehicles := []entity.Vehicle{
		{ID: 1, TenantID: 1, CustomerID: 1, VehicleTypeID: 2, Plate: "FLT-0042", Active: true, CreatedAt: now},
		{ID: 2, TenantID: 1, CustomerID: 2, VehicleTypeID: 1, Plate: "JRX-9810", Active: true, CreatedAt: now},
	}
	services := []entity.Service{
		{ID: 1, TenantID: 1, Name: "Exterior wash", Active: true, CreatedAt: now},
		{ID: 2, TenantID: 1, Name: "Full detail", Active: true, CreatedAt: now},
	}
	promotions := []entity.Promotion{
		{
			ID:        1,
			TenantID:  1,
			Code:      "SPRING10",
			Label:     "Spring 10% off",
			Mode:      entity.AdjustmentPercentage,
			Value:     decimal.NewFromInt(10),
			ValidFrom: now.AddDate(0, -1, 0),
			Active:    true,
			CreatedAt: now,
		},
	}

	for _, insert := range []func(context.Context) error{
		insertAll(s.db, tenants),
		insertAll(s.db, branches),
		insertAll(s.db, customers),
		insertAll(s.db, vehicles),
		insertAll(s.db, services),
		insertAll(s.db, promotions),
	} {
		if err := insert(ctx); err != nil {
			return err
		}
	}

	if s.logger != nil {
		s.logger.Info("seeded directory data")
	}
	return nil
}

// PriceRules seeds an initial open-ended rule per (branch, service,
// vehicle type) combination.
func (s *Seeder) PriceRules(ctx context.Context) error {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rules := []entity.PriceRule{
		{ID: 1, BranchID: 1, ServiceID: 1, VehicleTypeID: 1, Currency: "USD", Amount: decimal.NewFromInt(25), StartsOn: start, Active: true},
		{ID: 2, BranchID: 1, ServiceID: 1, VehicleTypeID: 2, Currency: "USD", Amount: decimal.NewFromInt(40), StartsOn: start, Active: true},
		{ID: 3, BranchID: 1, ServiceID: 2, VehicleTypeID: 1, Currency: "USD", Amount: decimal.NewFromInt(120), StartsOn: start, Active: true},
		{ID: 4, BranchID: 2, ServiceID: 1, VehicleTypeID: 1, Currency: "USD", Amount: decimal.NewFromInt(30), StartsOn: start, Active: true},
	}

	if err := insertAll(s.db, rules)(ctx); err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.Info("seeded price rules", zap.Int("count", len(rules)))
	}
	return nil
}

func insertAll[T any](db *bun.DB, rows []T) func(context.Context) error {
	return func(ctx context.Context) error {
		for _, sample := range rows {
			row := sample
			_, err := db.NewInsert().Model(&row).
				On("CONFLICT (id) DO NOTHING").
				Exec(ctx)
			if err != nil {
				return err
			}
		}
		return nil
	}
}
