package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sudspoint/washcore/internal/cache"
	"github.com/sudspoint/washcore/internal/entity"
	repo "github.com/sudspoint/washcore/internal/repository/pricing"
	"github.com/sudspoint/washcore/pkg/errorbank"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var testTuple = entity.PriceTuple{BranchID: 1, ServiceID: 2, VehicleTypeID: 3}

type fakeStore struct {
	rules  []*entity.PriceRule
	nextID int64
	reads  int

	// onMutate runs before each MutateTuple attempt; returning an error
	// aborts the attempt the way a contended transaction would.
	onMutate func(*fakeStore) error
}

func (f *fakeStore) ActiveRules(context.Context, entity.PriceTuple) ([]*entity.PriceRule, error) {
	f.reads++
	out := make([]*entity.PriceRule, 0, len(f.rules))
	for _, r := range f.rules {
		if r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) MutateTuple(_ context.Context, _ entity.PriceTuple, fn func(existing []*entity.PriceRule) (repo.Mutation, error)) error {
	if f.onMutate != nil {
		if err := f.onMutate(f); err != nil {
			return err
		}
	}
	mut, err := fn(f.rules)
	if err != nil {
		return err
	}
	for _, rule := range mut.Insert {
		f.nextID++
		rule.ID = f.nextID
		f.rules = append(f.rules, rule)
	}
	return nil
}

type fakeCache struct {
	data    map[string][]byte
	deletes int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string][]byte{}}
}

func (f *fakeCache) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := f.data[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return v, nil
}

func (f *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.data[key] = value
	return nil
}

func (f *fakeCache) Delete(_ context.Context, key string) error {
	delete(f.data, key)
	f.deletes++
	return nil
}

func newTestService(store *fakeStore, c cache.Store) *Service {
	return &Service{
		store:    store,
		cache:    c,
		cacheTTL: time.Minute,
		logger:   zap.NewNop(),
		retries:  3,
		currency: "USD",
	}
}

func defineRule(t *testing.T, s *Service, amount, start string, end *string) *entity.PriceRule {
	t.Helper()
	in := RuleInput{Tuple: testTuple, Amount: dec(amount), Currency: "USD", StartsOn: day(start)}
	if end != nil {
		e := day(*end)
		in.EndsOn = &e
	}
	rule, err := s.DefineRule(context.Background(), in)
	require.NoError(t, err)
	return rule
}

func str(s string) *string { return &s }

func TestResolveSelectsRuleContainingDate(t *testing.T) {
	store := &fakeStore{}
	s := newTestService(store, newFakeCache())
	defineRule(t, s, "100", "2026-01-01", str("2026-03-01"))
	defineRule(t, s, "120", "2026-03-01", nil)

	q, err := s.Resolve(context.Background(), testTuple, day("2026-02-15"))
	require.NoError(t, err)
	assert.True(t, q.Amount.Equal(dec("100")))
	assert.Equal(t, "USD", q.Currency)

	q, err = s.Resolve(context.Background(), testTuple, day("2026-03-01"))
	require.NoError(t, err)
	assert.True(t, q.Amount.Equal(dec("120")))
}

func TestResolveFailsWhenNoRuleMatches(t *testing.T) {
	s := newTestService(&fakeStore{}, newFakeCache())
	defineRule(t, s, "100", "2026-02-01", nil)

	_, err := s.Resolve(context.Background(), testTuple, day("2026-01-15"))
	require.Error(t, err)
	assert.True(t, errorbank.HasCode(err, errorbank.CodePriceNotFound))
}

func TestResolveServesRepeatLookupsFromCache(t *testing.T) {
	store := &fakeStore{}
	s := newTestService(store, newFakeCache())
	defineRule(t, s, "100", "2026-01-01", nil)

	_, err := s.Resolve(context.Background(), testTuple, day("2026-02-01"))
	require.NoError(t, err)
	_, err = s.Resolve(context.Background(), testTuple, day("2026-05-01"))
	require.NoError(t, err)
	assert.Equal(t, 1, store.reads)
}

func TestDefineRuleRejectsOverlapWithOpenEndedRule(t *testing.T) {
	c := newFakeCache()
	s := newTestService(&fakeStore{}, c)
	defineRule(t, s, "100", "2026-01-01", nil)
	deletesBefore := c.deletes

	_, err := s.DefineRule(context.Background(), RuleInput{
		Tuple:    testTuple,
		Amount:   dec("120"),
		StartsOn: day("2026-06-01"),
	})
	require.Error(t, err)
	assert.True(t, errorbank.HasCode(err, errorbank.CodeOverlappingRange))
	assert.Equal(t, deletesBefore, c.deletes, "rejected definition must not invalidate the cache")
}

func TestDefineRuleAllowsAdjacentIntervals(t *testing.T) {
	s := newTestService(&fakeStore{}, newFakeCache())
	defineRule(t, s, "100", "2026-01-01", str("2026-02-01"))
	defineRule(t, s, "110", "2026-02-01", str("2026-03-01"))

	q, err := s.Resolve(context.Background(), testTuple, day("2026-02-01"))
	require.NoError(t, err)
	assert.True(t, q.Amount.Equal(dec("110")))
}

func TestDefineRuleValidatesInput(t *testing.T) {
	s := newTestService(&fakeStore{}, newFakeCache())

	_, err := s.DefineRule(context.Background(), RuleInput{Tuple: testTuple, Amount: dec("0"), StartsOn: day("2026-01-01")})
	require.Error(t, err)
	assert.True(t, errorbank.HasCode(err, errorbank.CodeValidation))

	end := day("2026-01-01")
	_, err = s.DefineRule(context.Background(), RuleInput{Tuple: testTuple, Amount: dec("10"), StartsOn: day("2026-01-01"), EndsOn: &end})
	require.Error(t, err)
	assert.True(t, errorbank.HasCode(err, errorbank.CodeValidation))
}

func TestSupersedeTruncatesPredecessor(t *testing.T) {
	store := &fakeStore{}
	c := newFakeCache()
	s := newTestService(store, c)
	old := defineRule(t, s, "100", "2026-01-01", nil)

	_, err := s.Supersede(context.Background(), RuleInput{
		Tuple:    testTuple,
		Amount:   dec("120"),
		Currency: "USD",
		StartsOn: day("2026-03-01"),
	})
	require.NoError(t, err)

	require.NotNil(t, old.EndsOn)
	assert.Equal(t, day("2026-03-01"), *old.EndsOn)

	q, err := s.Resolve(context.Background(), testTuple, day("2026-02-15"))
	require.NoError(t, err)
	assert.True(t, q.Amount.Equal(dec("100")), "history stays intact")

	q, err = s.Resolve(context.Background(), testTuple, day("2026-03-01"))
	require.NoError(t, err)
	assert.True(t, q.Amount.Equal(dec("120")))
}

func TestSupersedeRejectsPredecessorStartingLater(t *testing.T) {
	s := newTestService(&fakeStore{}, newFakeCache())
	defineRule(t, s, "100", "2026-06-01", nil)

	_, err := s.Supersede(context.Background(), RuleInput{
		Tuple:    testTuple,
		Amount:   dec("120"),
		StartsOn: day("2026-03-01"),
	})
	require.Error(t, err)
	assert.True(t, errorbank.HasCode(err, errorbank.CodeOverlappingRange))
}

func TestRacingFirstDefinitionLoserSeesWinnerOnRetry(t *testing.T) {
	store := &fakeStore{}
	s := newTestService(store, newFakeCache())

	// A competing definer commits the tuple's first rule mid-flight; the
	// storage layer aborts our attempt as retryable contention. The retry
	// must validate against the committed rule, not the empty set.
	interrupted := false
	store.onMutate = func(f *fakeStore) error {
		if interrupted {
			return nil
		}
		interrupted = true
		f.nextID++
		f.rules = append(f.rules, &entity.PriceRule{
			ID:            f.nextID,
			BranchID:      testTuple.BranchID,
			ServiceID:     testTuple.ServiceID,
			VehicleTypeID: testTuple.VehicleTypeID,
			Currency:      "USD",
			Amount:        dec("100"),
			StartsOn:      day("2026-01-01"),
			Active:        true,
		})
		return errorbank.Busy("price tuple is contended")
	}

	_, err := s.DefineRule(context.Background(), RuleInput{
		Tuple:    testTuple,
		Amount:   dec("120"),
		Currency: "USD",
		StartsOn: day("2026-06-01"),
	})
	require.Error(t, err)
	assert.True(t, errorbank.HasCode(err, errorbank.CodeOverlappingRange))

	active := 0
	for _, r := range store.rules {
		if r.Active {
			active++
		}
	}
	assert.Equal(t, 1, active, "only one of the racing definitions may land")
}

func TestRacingDefinitionRetrySucceedsWhenDisjoint(t *testing.T) {
	store := &fakeStore{}
	s := newTestService(store, newFakeCache())

	interrupted := false
	store.onMutate = func(f *fakeStore) error {
		if interrupted {
			return nil
		}
		interrupted = true
		f.nextID++
		end := day("2026-06-01")
		f.rules = append(f.rules, &entity.PriceRule{
			ID:            f.nextID,
			BranchID:      testTuple.BranchID,
			ServiceID:     testTuple.ServiceID,
			VehicleTypeID: testTuple.VehicleTypeID,
			Currency:      "USD",
			Amount:        dec("100"),
			StartsOn:      day("2026-01-01"),
			EndsOn:        &end,
			Active:        true,
		})
		return errorbank.Busy("price tuple is contended")
	}

	rule, err := s.DefineRule(context.Background(), RuleInput{
		Tuple:    testTuple,
		Amount:   dec("120"),
		Currency: "USD",
		StartsOn: day("2026-06-01"),
	})
	require.NoError(t, err)
	assert.NotZero(t, rule.ID)
	assert.Len(t, store.rules, 2)
}

func TestMutationsInvalidateCachedRules(t *testing.T) {
	store := &fakeStore{}
	c := newFakeCache()
	s := newTestService(store, c)
	defineRule(t, s, "100", "2026-01-01", str("2026-03-01"))

	_, err := s.Resolve(context.Background(), testTuple, day("2026-01-15"))
	require.NoError(t, err)
	require.Equal(t, 1, store.reads)

	defineRule(t, s, "120", "2026-03-01", nil)

	q, err := s.Resolve(context.Background(), testTuple, day("2026-03-15"))
	require.NoError(t, err)
	assert.True(t, q.Amount.Equal(dec("120")))
	assert.Equal(t, 2, store.reads, "mutation must drop the cached rule set")
}
