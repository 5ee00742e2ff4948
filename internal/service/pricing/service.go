package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/sudspoint/washcore/internal/cache"
	"github.com/sudspoint/washcore/internal/config"
	"github.com/sudspoint/washcore/internal/entity"
	"github.com/sudspoint/washcore/internal/event"
	"github.com/sudspoint/washcore/internal/money"
	repo "github.com/sudspoint/washcore/internal/repository/pricing"
	"github.com/sudspoint/washcore/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/sudspoint/washcore/service/pricing")

// Store is the persistence contract the resolver needs.
type Store interface {
	ActiveRules(ctx context.Context, tuple entity.PriceTuple) ([]*entity.PriceRule, error)
	MutateTuple(ctx context.Context, tuple entity.PriceTuple, fn func(existing []*entity.PriceRule) (repo.Mutation, error)) error
}

// Quote is the resolved price for a tuple on a date.
type Quote struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// RuleInput carries the fields for defining or superseding a price rule.
type RuleInput struct {
	Tuple    entity.PriceTuple
	Amount   decimal.Decimal
	Currency string
	StartsOn time.Time
	EndsOn   *time.Time
}

// Service resolves effective prices and administers price rules.
type Service struct {
	store    Store
	cache    cache.Store
	cacheTTL time.Duration
	logger   *zap.Logger
	emitter  *event.Emitter
	retries  uint64
	currency string
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository *repo.Repository
	Cache      cache.Store
	Config     config.Config
	Logger     *zap.Logger
	Emitter    *event.Emitter
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{
		store:    p.Repository,
		cache:    p.Cache,
		cacheTTL: p.Config.Cache.DefaultTTL,
		logger:   p.Logger,
		emitter:  p.Emitter,
		retries:  p.Config.Engine.BusyRetries,
		currency: p.Config.Engine.DefaultCurrency,
	}
}

// Resolve returns the effective price for the tuple on the asOf date. The
// result is deterministic while the tuple's rule set does not change.
func (s *Service) Resolve(ctx context.Context, tuple entity.PriceTuple, asOf time.Time) (Quote, error) {
	ctx, span := serviceTracer.Start(ctx, "PricingService.Resolve", trace.WithAttributes(
		attribute.Int64("price.branch_id", tuple.BranchID),
		attribute.Int64("price.service_id", tuple.ServiceID),
		attribute.Int64("price.vehicle_type_id", tuple.VehicleTypeID),
	))
	defer span.End()

	rules, err := s.rulesFor(ctx, tuple)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load rules")
		return Quote{}, errorbank.Internal("failed to load price rules", errorbank.WithCause(err))
	}

	rule := pick(rules, dateOf(asOf))
	if rule == nil {
		return Quote{}, errorbank.NotFound("no price rule matches",
			errorbank.WithCode(errorbank.CodePriceNotFound),
			errorbank.WithDetail("as_of", dateOf(asOf).Format(time.DateOnly)),
		)
	}
	return Quote{Amount: money.Round(rule.Amount), Currency: rule.Currency}, nil
}

// DefineRule inserts a new rule after verifying it overlaps no active rule
// for the tuple. Overlap is rejected, never silently truncated; truncation
// is the explicit Supersede operation.
func (s *Service) DefineRule(ctx context.Context, in RuleInput) (*entity.PriceRule, error) {
	ctx, span := serviceTracer.Start(ctx, "PricingService.DefineRule")
	defer span.End()

	rule, err := s.prepare(in)
	if err != nil {
		return nil, err
	}

	err = errorbank.RetryBusy(ctx, s.retries, func(ctx context.Context) error {
		return s.store.MutateTuple(ctx, in.Tuple, func(existing []*entity.PriceRule) (repo.Mutation, error) {
			if conflict := findConflict(existing, rule.StartsOn, rule.EndsOn); conflict != nil {
				return repo.Mutation{}, overlapError(conflict)
			}
			return repo.Mutation{Insert: []*entity.PriceRule{rule}}, nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, in.Tuple)
	s.emitter.Emit(ctx, event.New(event.PriceRuleDefined, rule))
	return rule, nil
}

// Supersede inserts a new rule, closing the predecessor whose interval the
// new start falls into. Only a rule that started strictly before the new
// start can be truncated; anything else is an overlap conflict.
func (s *Service) Supersede(ctx context.Context, in RuleInput) (*entity.PriceRule, error) {
	ctx, span := serviceTracer.Start(ctx, "PricingService.Supersede")
	defer span.End()

	rule, err := s.prepare(in)
	if err != nil {
		return nil, err
	}

	var closed []*entity.PriceRule
	err = errorbank.RetryBusy(ctx, s.retries, func(ctx context.Context) error {
		closed = nil
		return s.store.MutateTuple(ctx, in.Tuple, func(existing []*entity.PriceRule) (repo.Mutation, error) {
			mut := repo.Mutation{Insert: []*entity.PriceRule{rule}}
			for _, prior := range existing {
				if !overlaps(prior.StartsOn, prior.EndsOn, rule.StartsOn, rule.EndsOn) {
					continue
				}
				if !prior.StartsOn.Before(rule.StartsOn) {
					return repo.Mutation{}, overlapError(prior)
				}
				// Half-open intervals: ending at the new start keeps the
				// predecessor effective through the day before.
				end := rule.StartsOn
				prior.EndsOn = &end
				mut.Close = append(mut.Close, prior)
				closed = append(closed, prior)
			}
			return mut, nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, in.Tuple)
	s.emitter.Emit(ctx, event.New(event.PriceRuleSuperseded, map[string]any{
		"rule":   rule,
		"closed": closed,
	}))
	return rule, nil
}

func (s *Service) prepare(in RuleInput) (*entity.PriceRule, error) {
	if !money.IsPositive(in.Amount) {
		return nil, errorbank.BadRequest("amount must be positive", errorbank.WithCode(errorbank.CodeValidation))
	}
	currency := in.Currency
	if currency == "" {
		currency = s.currency
	}

	start := dateOf(in.StartsOn)
	var end *time.Time
	if in.EndsOn != nil {
		e := dateOf(*in.EndsOn)
		if !start.Before(e) {
			return nil, errorbank.BadRequest("validity end must follow start", errorbank.WithCode(errorbank.CodeValidation))
		}
		end = &e
	}

	return &entity.PriceRule{
		BranchID:      in.Tuple.BranchID,
		ServiceID:     in.Tuple.ServiceID,
		VehicleTypeID: in.Tuple.VehicleTypeID,
		Currency:      currency,
		Amount:        money.Round(in.Amount),
		StartsOn:      start,
		EndsOn:        end,
		Active:        true,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

func (s *Service) rulesFor(ctx context.Context, tuple entity.PriceTuple) ([]*entity.PriceRule, error) {
	key := tupleKey(tuple)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil {
			var rules []*entity.PriceRule
			if err := json.Unmarshal(raw, &rules); err == nil {
				return rules, nil
			}
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("price rules cache read failed", zap.Error(err))
		}
	}

	rules, err := s.store.ActiveRules(ctx, tuple)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(rules); err == nil {
			if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
				s.logger.Warn("price rules cache write failed", zap.Error(err))
			}
		}
	}
	return rules, nil
}

func (s *Service) invalidate(ctx context.Context, tuple entity.PriceTuple) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, tupleKey(tuple)); err != nil {
		s.logger.Warn("price rules cache invalidation failed", zap.Error(err))
	}
}

func tupleKey(tuple entity.PriceTuple) string {
	return fmt.Sprintf("pricerules:%d:%d:%d", tuple.BranchID, tuple.ServiceID, tuple.VehicleTypeID)
}

func overlapError(conflict *entity.PriceRule) error {
	details := map[string]any{
		"conflicting_rule_id": conflict.ID,
		"starts_on":           conflict.StartsOn.Format(time.DateOnly),
	}
	if conflict.EndsOn != nil {
		details["ends_on"] = conflict.EndsOn.Format(time.DateOnly)
	}
	return errorbank.Conflict("validity overlaps an active rule",
		errorbank.WithCode(errorbank.CodeOverlappingRange),
		errorbank.WithDetails(details),
	)
}
