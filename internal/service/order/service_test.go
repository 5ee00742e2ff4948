package order

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sudspoint/washcore/internal/entity"
	pricingsvc "github.com/sudspoint/washcore/internal/service/pricing"
	"github.com/sudspoint/washcore/pkg/errorbank"
)

type fakeStore struct {
	orders    map[int64]*entity.Order
	nextID    int64
	busyLeft  int
	mutations int
}

func newFakeStore() *fakeStore {
	return &fakeStore{orders: map[int64]*entity.Order{}, nextID: 1}
}

func (f *fakeStore) Create(_ context.Context, o *entity.Order) error {
	o.ID = f.nextID
	f.nextID++
	f.orders[o.ID] = o
	return nil
}

func (f *fakeStore) Get(_ context.Context, id int64) (*entity.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, errorbank.NotFound("order not found")
	}
	return o, nil
}

func (f *fakeStore) Mutate(_ context.Context, id int64, fn func(o *entity.Order) error) (*entity.Order, error) {
	f.mutations++
	if f.busyLeft > 0 {
		f.busyLeft--
		return nil, errorbank.Busy("order is locked")
	}
	o, ok := f.orders[id]
	if !ok {
		return nil, errorbank.NotFound("order not found")
	}
	if err := fn(o); err != nil {
		return nil, err
	}
	// Persisted rows get ids on insert.
	for _, it := range o.Items {
		if it.ID == 0 {
			it.ID = f.nextID
			f.nextID++
		}
	}
	for _, adj := range o.Adjustments {
		if adj.ID == 0 {
			adj.ID = f.nextID
			f.nextID++
		}
	}
	return o, nil
}

type fakeDirectory struct {
	branch    *entity.Branch
	promotion *entity.Promotion
}

func (f *fakeDirectory) Branch(context.Context, int64) (*entity.Branch, error) {
	if f.branch != nil {
		return f.branch, nil
	}
	return &entity.Branch{ID: 10, TenantID: 1, Active: true}, nil
}

func (f *fakeDirectory) Customer(_ context.Context, id, tenantID int64) (*entity.Customer, error) {
	return &entity.Customer{ID: id, TenantID: tenantID, Active: true}, nil
}

func (f *fakeDirectory) Vehicle(_ context.Context, id, tenantID int64) (*entity.Vehicle, error) {
	return &entity.Vehicle{ID: id, TenantID: tenantID, VehicleTypeID: 3, Active: true}, nil
}

func (f *fakeDirectory) ActiveService(_ context.Context, id int64) (*entity.Service, error) {
	return &entity.Service{ID: id, Active: true}, nil
}

func (f *fakeDirectory) Promotion(context.Context, int64, string) (*entity.Promotion, error) {
	if f.promotion != nil {
		return f.promotion, nil
	}
	return nil, errorbank.NotFound("promotion not found")
}

type fakePricer struct {
	quote pricingsvc.Quote
	err   error
	calls int
}

func (f *fakePricer) Resolve(context.Context, entity.PriceTuple, time.Time) (pricingsvc.Quote, error) {
	f.calls++
	if f.err != nil {
		return pricingsvc.Quote{}, f.err
	}
	return f.quote, nil
}

func newTestService(store *fakeStore, dir *fakeDirectory, pricer *fakePricer) *Service {
	return &Service{
		store:     store,
		directory: dir,
		pricer:    pricer,
		logger:    zap.NewNop(),
		retries:   3,
		currency:  "USD",
	}
}

func createDraft(t *testing.T, s *Service) *entity.Order {
	t.Helper()
	o, err := s.Create(context.Background(), CreateInput{
		TenantID:   1,
		BranchID:   10,
		CustomerID: 20,
		VehicleID:  30,
		Actor:      "tester",
	})
	require.NoError(t, err)
	return o
}

func TestCreateInitializesDraftWithZeroTotals(t *testing.T) {
	s := newTestService(newFakeStore(), &fakeDirectory{}, &fakePricer{})

	o := createDraft(t, s)
	assert.Equal(t, entity.OrderDraft, o.Status)
	assert.Equal(t, "USD", o.Currency)
	assert.True(t, o.GrandTotal.IsZero())
	assert.True(t, o.Balance.IsZero())
}

func TestCreateRejectsForeignBranch(t *testing.T) {
	dir := &fakeDirectory{branch: &entity.Branch{ID: 10, TenantID: 99, Active: true}}
	s := newTestService(newFakeStore(), dir, &fakePricer{})

	_, err := s.Create(context.Background(), CreateInput{TenantID: 1, BranchID: 10, CustomerID: 20, VehicleID: 30})
	require.Error(t, err)
	assert.True(t, errorbank.HasCode(err, errorbank.CodeValidation))
}

func TestAddItemFreezesResolvedPrice(t *testing.T) {
	store := newFakeStore()
	pricer := &fakePricer{quote: pricingsvc.Quote{Amount: dec("35000"), Currency: "USD"}}
	s := newTestService(store, &fakeDirectory{}, pricer)

	o := createDraft(t, s)
	o, err := s.AddItem(context.Background(), o.ID, 5, 1, time.Now(), "tester")
	require.NoError(t, err)
	require.Len(t, o.Items, 1)
	assert.True(t, o.Items[0].UnitPrice.Equal(dec("35000")))
	assert.True(t, o.Subtotal.Equal(dec("35000")))
	assert.True(t, o.Balance.Equal(dec("35000")))

	// The stored snapshot stays put even if the resolver answer changes.
	pricer.quote = pricingsvc.Quote{Amount: dec("99"), Currency: "USD"}
	o, err = s.UpdateQuantity(context.Background(), o.ID, o.Items[0].ID, 2, "tester")
	require.NoError(t, err)
	assert.True(t, o.Items[0].UnitPrice.Equal(dec("35000")))
	assert.True(t, o.Subtotal.Equal(dec("70000")))
}

func TestAddItemRejectsQuantityBelowOne(t *testing.T) {
	s := newTestService(newFakeStore(), &fakeDirectory{}, &fakePricer{quote: pricingsvc.Quote{Amount: dec("10"), Currency: "USD"}})
	o := createDraft(t, s)

	_, err := s.AddItem(context.Background(), o.ID, 5, 0, time.Now(), "tester")
	require.Error(t, err)
	assert.True(t, errorbank.HasCode(err, errorbank.CodeValidation))
}

func TestAddItemFailsOnFinishedOrder(t *testing.T) {
	store := newFakeStore()
	s := newTestService(store, &fakeDirectory{}, &fakePricer{quote: pricingsvc.Quote{Amount: dec("10"), Currency: "USD"}})
	o := createDraft(t, s)
	store.orders[o.ID].Status = entity.OrderFinished

	_, err := s.AddItem(context.Background(), o.ID, 5, 1, time.Now(), "tester")
	require.Error(t, err)
	assert.True(t, errorbank.HasCode(err, errorbank.CodeInvalidStateTransition))
}

func TestAddItemSurfacesPriceNotFound(t *testing.T) {
	priceErr := errorbank.NotFound("no price rule matches", errorbank.WithCode(errorbank.CodePriceNotFound))
	s := newTestService(newFakeStore(), &fakeDirectory{}, &fakePricer{err: priceErr})
	o := createDraft(t, s)

	_, err := s.AddItem(context.Background(), o.ID, 5, 1, time.Now(), "tester")
	require.Error(t, err)
	assert.True(t, errorbank.HasCode(err, errorbank.CodePriceNotFound))
}

func TestRemoveItemDropsItsAdjustments(t *testing.T) {
	store := newFakeStore()
	s := newTestService(store, &fakeDirectory{}, &fakePricer{quote: pricingsvc.Quote{Amount: dec("100"), Currency: "USD"}})
	o := createDraft(t, s)
	o, err := s.AddItem(context.Background(), o.ID, 5, 1, time.Now(), "tester")
	require.NoError(t, err)
	target := o.Items[0].ID

	o, err = s.ApplyAdjustment(context.Background(), o.ID, AdjustmentInput{
		ItemID: &target,
		Kind:   entity.AdjustmentManual,
		Mode:   entity.AdjustmentFixed,
		Value:  dec("5"),
		Label:  "loyalty",
	})
	require.NoError(t, err)
	require.Len(t, o.Adjustments, 1)

	o, err = s.RemoveItem(context.Background(), o.ID, target, "tester")
	require.NoError(t, err)
	assert.Empty(t, o.Items)
	assert.Empty(t, o.Adjustments)
	assert.True(t, o.GrandTotal.IsZero())
}

func TestApplyAdjustmentRejectsDuplicatePromotion(t *testing.T) {
	ref := "SPRING10"
	dir := &fakeDirectory{promotion: &entity.Promotion{
		ID:     1,
		Code:   ref,
		Label:  "Spring 10%",
		Mode:   entity.AdjustmentPercentage,
		Value:  dec("10"),
		Active: true,
	}}
	s := newTestService(newFakeStore(), dir, &fakePricer{quote: pricingsvc.Quote{Amount: dec("100"), Currency: "USD"}})
	o := createDraft(t, s)

	in := AdjustmentInput{Kind: entity.AdjustmentPromotion, PromotionRef: &ref, Actor: "tester"}
	_, err := s.ApplyAdjustment(context.Background(), o.ID, in)
	require.NoError(t, err)

	_, err = s.ApplyAdjustment(context.Background(), o.ID, in)
	require.Error(t, err)
	assert.True(t, errorbank.HasCode(err, errorbank.CodeDuplicatePromotion))
}

func TestApplyAdjustmentRejectsExpiredPromotion(t *testing.T) {
	ref := "GONE"
	until := time.Now().Add(-time.Hour)
	dir := &fakeDirectory{promotion: &entity.Promotion{
		ID:         1,
		Code:       ref,
		Mode:       entity.AdjustmentPercentage,
		Value:      dec("10"),
		ValidUntil: &until,
		Active:     true,
	}}
	s := newTestService(newFakeStore(), dir, &fakePricer{})
	o := createDraft(t, s)

	_, err := s.ApplyAdjustment(context.Background(), o.ID, AdjustmentInput{Kind: entity.AdjustmentPromotion, PromotionRef: &ref})
	require.Error(t, err)
	assert.True(t, errorbank.HasCode(err, errorbank.CodeValidation))
}

func TestApplyAdjustmentValidatesPercentageRange(t *testing.T) {
	s := newTestService(newFakeStore(), &fakeDirectory{}, &fakePricer{})
	o := createDraft(t, s)

	_, err := s.ApplyAdjustment(context.Background(), o.ID, AdjustmentInput{
		Kind:  entity.AdjustmentManual,
		Mode:  entity.AdjustmentPercentage,
		Value: dec("150"),
	})
	require.Error(t, err)
	assert.True(t, errorbank.HasCode(err, errorbank.CodeValidation))
}

func TestLifecycleTransitions(t *testing.T) {
	s := newTestService(newFakeStore(), &fakeDirectory{}, &fakePricer{quote: pricingsvc.Quote{Amount: dec("10"), Currency: "USD"}})
	o := createDraft(t, s)

	// finished requires in_progress.
	_, err := s.Finish(context.Background(), o.ID, "tester")
	require.Error(t, err)
	assert.True(t, errorbank.HasCode(err, errorbank.CodeInvalidStateTransition))

	o, err = s.Start(context.Background(), o.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, entity.OrderInProgress, o.Status)

	// finishing without items is rejected.
	_, err = s.Finish(context.Background(), o.ID, "tester")
	require.Error(t, err)
	assert.True(t, errorbank.HasCode(err, errorbank.CodeValidation))

	o, err = s.AddItem(context.Background(), o.ID, 5, 1, time.Now(), "tester")
	require.NoError(t, err)
	o, err = s.Finish(context.Background(), o.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, entity.OrderFinished, o.Status)

	o, err = s.Cancel(context.Background(), o.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, entity.OrderCancelled, o.Status)

	_, err = s.Cancel(context.Background(), o.ID, "tester")
	require.Error(t, err)
	assert.True(t, errorbank.HasCode(err, errorbank.CodeInvalidStateTransition))
}

func TestMutationRetriesBusyThenSucceeds(t *testing.T) {
	store := newFakeStore()
	s := newTestService(store, &fakeDirectory{}, &fakePricer{})
	o := createDraft(t, s)
	store.busyLeft = 2

	got, err := s.Start(context.Background(), o.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, entity.OrderInProgress, got.Status)
	assert.Equal(t, 3, store.mutations)
}

func TestMutationSurfacesBusyAfterExhaustedRetries(t *testing.T) {
	store := newFakeStore()
	s := newTestService(store, &fakeDirectory{}, &fakePricer{})
	o := createDraft(t, s)
	store.busyLeft = 10

	_, err := s.Start(context.Background(), o.ID, "tester")
	require.Error(t, err)
	assert.True(t, errorbank.HasCode(err, errorbank.CodeBusy))
}
