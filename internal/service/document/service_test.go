package document

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sudspoint/washcore/internal/entity"
	repo "github.com/sudspoint/washcore/internal/repository/document"
	ordersvc "github.com/sudspoint/washcore/internal/service/order"
	"github.com/sudspoint/washcore/pkg/errorbank"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type counterKey struct {
	branchID int64
	docType  entity.DocumentType
	posID    int64
}

type fakeSequencer struct {
	counters map[counterKey]int64
	byOrder  map[int64]*entity.Document
	nextID   int64
}

func newFakeSequencer() *fakeSequencer {
	return &fakeSequencer{
		counters: map[counterKey]int64{},
		byOrder:  map[int64]*entity.Document{},
	}
}

func (f *fakeSequencer) GetByOrder(_ context.Context, orderID int64) (*entity.Document, error) {
	doc, ok := f.byOrder[orderID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return doc, nil
}

func (f *fakeSequencer) Allocate(_ context.Context, branchID int64, docType entity.DocumentType, posID int64) (int64, error) {
	k := counterKey{branchID, docType, posID}
	f.counters[k]++
	return f.counters[k], nil
}

func (f *fakeSequencer) Issue(ctx context.Context, orderID int64, branchID int64, docType entity.DocumentType, posID int64, build func(number int64) (*entity.Document, error)) (*entity.Document, bool, error) {
	if existing, ok := f.byOrder[orderID]; ok {
		// The real store rolls the allocation back; the fake never takes it.
		return existing, false, nil
	}
	number, _ := f.Allocate(ctx, branchID, docType, posID)
	doc, err := build(number)
	if err != nil {
		return nil, false, err
	}
	f.nextID++
	doc.ID = f.nextID
	f.byOrder[orderID] = doc
	return doc, true, nil
}

type fakeOrders struct {
	order *entity.Order
}

func (f *fakeOrders) Get(_ context.Context, id int64) (*entity.Order, error) {
	if f.order == nil || f.order.ID != id {
		return nil, errorbank.NotFound("order not found")
	}
	return f.order, nil
}

func paidOrder() *entity.Order {
	o := &entity.Order{
		ID:         1,
		TenantID:   1,
		BranchID:   10,
		CustomerID: 20,
		VehicleID:  30,
		Status:     entity.OrderFinished,
		Currency:   "USD",
		Items: []*entity.OrderItem{
			{ID: 1, OrderID: 1, ServiceID: 5, Quantity: 2, UnitPrice: dec("50")},
		},
		Adjustments: []*entity.Adjustment{
			{ID: 1, Kind: entity.AdjustmentManual, Mode: entity.AdjustmentFixed, Value: dec("10"), Label: "loyalty"},
		},
	}
	ordersvc.Recompute(o)
	o.Payments = []*entity.Payment{{ID: 1, OrderID: 1, Amount: o.Balance}}
	ordersvc.Recompute(o)
	o.Status = entity.OrderPaid
	return o
}

func newTestService(seq *fakeSequencer, orders *fakeOrders) *Service {
	return &Service{sequencer: seq, orders: orders, logger: zap.NewNop(), retries: 3}
}

func TestIssueWritesSnapshotForPaidOrder(t *testing.T) {
	seq := newFakeSequencer()
	s := newTestService(seq, &fakeOrders{order: paidOrder()})

	doc, err := s.Issue(context.Background(), IssueInput{
		OrderID:       1,
		DocType:       entity.DocumentReceipt,
		PointOfSaleID: 2,
		Actor:         "cashier",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Number)
	assert.Equal(t, entity.DocumentReceipt, doc.DocType)
	assert.True(t, doc.Total.Equal(dec("90")))

	var snapshot entity.DocumentSnapshot
	require.NoError(t, json.Unmarshal(doc.Snapshot, &snapshot))
	assert.Equal(t, int64(10), snapshot.BranchID)
	require.Len(t, snapshot.Items, 1)
	assert.True(t, snapshot.Items[0].LineTotal.Equal(dec("100")))
	require.Len(t, snapshot.Discounts, 1)
	assert.Equal(t, "order", snapshot.Discounts[0].Scope)
}

func TestIssueIsIdempotentPerOrder(t *testing.T) {
	seq := newFakeSequencer()
	s := newTestService(seq, &fakeOrders{order: paidOrder()})
	in := IssueInput{OrderID: 1, DocType: entity.DocumentReceipt, PointOfSaleID: 2, Actor: "cashier"}

	first, err := s.Issue(context.Background(), in)
	require.NoError(t, err)
	second, err := s.Issue(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Number, second.Number)
	// The counter advanced exactly once.
	assert.Equal(t, int64(1), seq.counters[counterKey{10, entity.DocumentReceipt, 2}])
}

func TestIssueRejectsUnpaidOrder(t *testing.T) {
	o := paidOrder()
	o.Status = entity.OrderFinished
	s := newTestService(newFakeSequencer(), &fakeOrders{order: o})

	_, err := s.Issue(context.Background(), IssueInput{OrderID: 1, DocType: entity.DocumentReceipt})
	require.Error(t, err)
	assert.True(t, errorbank.HasCode(err, errorbank.CodeNotPayable))
}

func TestIssueRejectsUnknownDocumentType(t *testing.T) {
	s := newTestService(newFakeSequencer(), &fakeOrders{order: paidOrder()})

	_, err := s.Issue(context.Background(), IssueInput{OrderID: 1, DocType: "napkin"})
	require.Error(t, err)
	assert.True(t, errorbank.HasCode(err, errorbank.CodeValidation))
}

func TestNextNumberAdvancesPerTriple(t *testing.T) {
	seq := newFakeSequencer()
	s := newTestService(seq, &fakeOrders{})

	n1, err := s.NextNumber(context.Background(), 10, entity.DocumentReceipt, 2)
	require.NoError(t, err)
	n2, err := s.NextNumber(context.Background(), 10, entity.DocumentReceipt, 2)
	require.NoError(t, err)
	other, err := s.NextNumber(context.Background(), 10, entity.DocumentInvoice, 2)
	require.NoError(t, err)

	assert.Equal(t, int64(1), n1)
	assert.Equal(t, int64(2), n2)
	assert.Equal(t, int64(1), other)
}

func TestGetMapsMissingDocument(t *testing.T) {
	s := newTestService(newFakeSequencer(), &fakeOrders{})

	_, err := s.Get(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, errorbank.HasCode(err, errorbank.CodeNotFound))
}
