package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmflow/pharmflow-backend/internal/supply/domain"
	"github.com/pharmflow/pharmflow-backend/internal/supply/events"
	"github.com/pharmflow/pharmflow-backend/internal/supply/repository"
	"github.com/pharmflow/pharmflow-backend/internal/supply/service"
	"github.com/pharmflow/pharmflow-backend/pkg/database"
	"github.com/pharmflow/pharmflow-backend/pkg/errors"
	"github.com/pharmflow/pharmflow-backend/pkg/logger"
	"github.com/pharmflow/pharmflow-backend/pkg/messaging"
	"github.com/pharmflow/pharmflow-backend/pkg/testutil"
)

type serviceHarness struct {
	mockDB    *testutil.MockDB
	publisher *testutil.MockPublisher
	svc       *service.SupplyService
}

func newServiceHarness(t *testing.T) *serviceHarness {
	mockDB := testutil.NewMockDB(t)
	log := logger.New("test", "test")
	db := database.NewFromSqlx(mockDB.DB, log)

	pub := testutil.NewMockPublisher()

	svc := service.NewSupplyService(
		db,
		repository.NewDrugRepository(db),
		repository.NewBatchRepository(db),
		repository.NewRequestRepository(db),
		events.NewSupplyEventPublisherWith(pub, log),
		log,
	)

	return &serviceHarness{mockDB: mockDB, publisher: pub, svc: svc}
}

func (h *serviceHarness) done(t *testing.T) {
	h.mockDB.ExpectationsWereMet(t)
	h.mockDB.Close()
}

func drugRows(id, name, status string, unitPrice string) *sqlmock.Rows {
	now := time.Now()
	return testutil.MockRows("id", "name", "unit", "units_per_box", "unit_price", "status", "created_at", "updated_at").
		AddRow(id, name, "tablets", 20, unitPrice, status, now, now)
}

func requestRow(id, kind, status string) *sqlmock.Rows {
	now := time.Now()
	return testutil.MockRows(
		"id", "kind", "requester_kind", "requester_id", "fulfiller_kind", "fulfiller_id",
		"status", "requested_by", "handled_by", "handled_at", "rejection_reason",
		"created_at", "updated_at",
	).AddRow(id, kind, "pharmacy", "ph-1", "warehouse", "central",
		status, "user-1", nil, nil, nil, now, now)
}

func itemRows() *sqlmock.Rows {
	return testutil.MockRows(
		"id", "request_id", "drug_id", "requested_qty", "approved_qty",
		"fulfilled_qty", "received_qty", "batch_number", "expiry_date", "created_at",
	)
}

func batchRows() *sqlmock.Rows {
	return testutil.MockRows(
		"id", "drug_id", "location_kind", "location_id", "batch_number",
		"expiry_date", "quantity", "minimum_level", "created_at", "updated_at",
	)
}

func TestCreateRequest_ArchivedDrugRejected(t *testing.T) {
	h := newServiceHarness(t)
	defer h.done(t)

	h.mockDB.ExpectQuery("SELECT * FROM drugs WHERE id IN").
		WithArgs("drug-1").
		WillReturnRows(drugRows("drug-1", "Old Drug", "archived", "1.00"))

	_, err := h.svc.CreateRequest(context.Background(), service.CreateRequestInput{
		Kind:      domain.RequestInternal,
		Requester: domain.PharmacyLocation("ph-1"),
		Fulfiller: domain.WarehouseLocation("central"),
		Lines:     []service.RequestLineInput{{DrugID: "drug-1", Quantity: 5}},
	}, "user-1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDrugUnavailable))
	h.publisher.AssertNoEventsPublished(t)
}

func TestCreateRequest_PhasingOutNeedsStock(t *testing.T) {
	h := newServiceHarness(t)
	defer h.done(t)

	h.mockDB.ExpectQuery("SELECT * FROM drugs WHERE id IN").
		WithArgs("drug-1").
		WillReturnRows(drugRows("drug-1", "Sunset Drug", "phasing_out", "1.00"))
	h.mockDB.ExpectQuery("SELECT COALESCE(SUM(quantity), 0)").
		WithArgs("drug-1", "warehouse", "central").
		WillReturnRows(testutil.MockRows("coalesce").AddRow(0))

	_, err := h.svc.CreateRequest(context.Background(), service.CreateRequestInput{
		Kind:      domain.RequestInternal,
		Requester: domain.PharmacyLocation("ph-1"),
		Fulfiller: domain.WarehouseLocation("central"),
		Lines:     []service.RequestLineInput{{DrugID: "drug-1", Quantity: 5}},
	}, "user-1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDrugUnavailable))
}

func TestCreateRequest_TierMismatch(t *testing.T) {
	h := newServiceHarness(t)
	defer h.done(t)

	// A pharmacy cannot order straight from a supplier.
	_, err := h.svc.CreateRequest(context.Background(), service.CreateRequestInput{
		Kind:      domain.RequestInternal,
		Requester: domain.PharmacyLocation("ph-1"),
		Fulfiller: domain.SupplierLocation("acme"),
		Lines:     []service.RequestLineInput{{DrugID: "drug-1", Quantity: 5}},
	}, "user-1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
}

func TestCreateRequest_PublishesCreatedEvent(t *testing.T) {
	h := newServiceHarness(t)
	defer h.done(t)

	now := time.Now()

	h.mockDB.ExpectQuery("SELECT * FROM drugs WHERE id IN").
		WithArgs("drug-1").
		WillReturnRows(drugRows("drug-1", "Ibuprofen 400mg", "available", "0.10"))

	h.mockDB.ExpectBegin()
	h.mockDB.ExpectQuery("INSERT INTO supply_requests").
		WithArgs(testutil.AnyUUID{}, "internal", "pharmacy", "ph-1", "warehouse", "central", "pending", "user-1").
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(now, now))
	h.mockDB.ExpectQuery("INSERT INTO supply_request_items").
		WithArgs(testutil.AnyUUID{}, testutil.AnyUUID{}, "drug-1", 5).
		WillReturnRows(testutil.MockRows("created_at").AddRow(now))
	h.mockDB.ExpectCommit()

	req, err := h.svc.CreateRequest(context.Background(), service.CreateRequestInput{
		Kind:      domain.RequestInternal,
		Requester: domain.PharmacyLocation("ph-1"),
		Fulfiller: domain.WarehouseLocation("central"),
		Lines:     []service.RequestLineInput{{DrugID: "drug-1", Quantity: 5}},
	}, "user-1")

	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, req.Status)
	h.publisher.AssertEventPublished(t, messaging.EventRequestCreated)
}

func TestFulfill_SplitsAcrossBatchesFEFO(t *testing.T) {
	h := newServiceHarness(t)
	defer h.done(t)

	now := time.Now()
	jan := time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC)
	jun := time.Date(2027, time.June, 1, 0, 0, 0, 0, time.UTC)

	h.mockDB.ExpectBegin()
	h.mockDB.ExpectQuery("SELECT * FROM supply_requests WHERE id = $1 FOR UPDATE").
		WithArgs("req-1").
		WillReturnRows(requestRow("req-1", "internal", "pending"))
	h.mockDB.ExpectQuery("SELECT * FROM supply_request_items").
		WithArgs("req-1").
		WillReturnRows(itemRows().
			AddRow("item-1", "req-1", "drug-1", 7, nil, nil, nil, nil, nil, now))
	h.mockDB.ExpectQuery("SELECT * FROM drugs WHERE id IN").
		WithArgs("drug-1").
		WillReturnRows(drugRows("drug-1", "Ibuprofen 400mg", "available", "0.10"))
	h.mockDB.ExpectQuery("FOR UPDATE").
		WithArgs("drug-1", "warehouse", "central").
		WillReturnRows(batchRows().
			AddRow("b1", "drug-1", "warehouse", "central", "LOT-A", jan, 5, 0, now, now).
			AddRow("b2", "drug-1", "warehouse", "central", "LOT-B", jun, 5, 0, now, now))
	h.mockDB.ExpectQuery("SELECT i.request_id, SUM(i.requested_qty)").
		WithArgs("warehouse", "central", "pending", "drug-1").
		WillReturnRows(testutil.MockRows("request_id", "quantity").AddRow("req-1", 7))
	h.mockDB.ExpectQuery("UPDATE inventory_batches").
		WithArgs("b1", 5).
		WillReturnRows(batchRows().
			AddRow("b1", "drug-1", "warehouse", "central", "LOT-A", jan, 0, 0, now, now))
	h.mockDB.ExpectQuery("UPDATE inventory_batches").
		WithArgs("b2", 2).
		WillReturnRows(batchRows().
			AddRow("b2", "drug-1", "warehouse", "central", "LOT-B", jun, 3, 0, now, now))
	h.mockDB.ExpectExec("DELETE FROM supply_request_items").
		WithArgs("req-1", "drug-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mockDB.ExpectExec("INSERT INTO supply_request_items").
		WithArgs(testutil.AnyUUID{}, "req-1", "drug-1", 7, 7, 5, "LOT-A", jan).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mockDB.ExpectExec("INSERT INTO supply_request_items").
		WithArgs(testutil.AnyUUID{}, "req-1", "drug-1", 0, 0, 2, "LOT-B", jun).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mockDB.ExpectExec("UPDATE supply_requests").
		WithArgs("req-1", "pending", "fulfilled", "user-2", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mockDB.ExpectCommit()

	result, err := h.svc.Fulfill(context.Background(), "req-1", nil, "user-2")
	require.NoError(t, err)

	require.Len(t, result.Lines, 1)
	line := result.Lines[0]
	assert.Equal(t, 7, line.RequestedQty)
	assert.Equal(t, 7, line.ApprovedQty)
	require.Len(t, line.Withdrawals, 2, "seven units split over the two earliest-expiring batches")
	assert.Equal(t, 5, line.Withdrawals[0].Quantity)
	assert.Equal(t, 2, line.Withdrawals[1].Quantity)

	h.publisher.AssertEventPublished(t, messaging.EventRequestFulfilled)
}

func TestFulfill_FairShareCapsApprovedQuantity(t *testing.T) {
	h := newServiceHarness(t)
	defer h.done(t)

	now := time.Now()
	jan := time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC)

	// Stock 10, three pending requests demanding 3, 4 and 10: the request
	// being fulfilled is the largest and is capped at its fair share of 3.
	h.mockDB.ExpectBegin()
	h.mockDB.ExpectQuery("SELECT * FROM supply_requests WHERE id = $1 FOR UPDATE").
		WithArgs("req-3").
		WillReturnRows(requestRow("req-3", "internal", "pending"))
	h.mockDB.ExpectQuery("SELECT * FROM supply_request_items").
		WithArgs("req-3").
		WillReturnRows(itemRows().
			AddRow("item-1", "req-3", "drug-1", 10, nil, nil, nil, nil, nil, now))
	h.mockDB.ExpectQuery("SELECT * FROM drugs WHERE id IN").
		WithArgs("drug-1").
		WillReturnRows(drugRows("drug-1", "Ibuprofen 400mg", "available", "0.10"))
	h.mockDB.ExpectQuery("FOR UPDATE").
		WithArgs("drug-1", "warehouse", "central").
		WillReturnRows(batchRows().
			AddRow("b1", "drug-1", "warehouse", "central", "LOT-A", jan, 10, 0, now, now))
	h.mockDB.ExpectQuery("SELECT i.request_id, SUM(i.requested_qty)").
		WithArgs("warehouse", "central", "pending", "drug-1").
		WillReturnRows(testutil.MockRows("request_id", "quantity").
			AddRow("req-1", 3).
			AddRow("req-2", 4).
			AddRow("req-3", 10))
	h.mockDB.ExpectQuery("UPDATE inventory_batches").
		WithArgs("b1", 3).
		WillReturnRows(batchRows().
			AddRow("b1", "drug-1", "warehouse", "central", "LOT-A", jan, 7, 0, now, now))
	h.mockDB.ExpectExec("DELETE FROM supply_request_items").
		WithArgs("req-3", "drug-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mockDB.ExpectExec("INSERT INTO supply_request_items").
		WithArgs(testutil.AnyUUID{}, "req-3", "drug-1", 10, 3, 3, "LOT-A", jan).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mockDB.ExpectExec("UPDATE supply_requests").
		WithArgs("req-3", "pending", "fulfilled", "user-2", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mockDB.ExpectCommit()

	result, err := h.svc.Fulfill(context.Background(), "req-3", nil, "user-2")
	require.NoError(t, err)

	require.Len(t, result.Lines, 1)
	assert.Equal(t, 10, result.Lines[0].RequestedQty)
	assert.Equal(t, 3, result.Lines[0].ApprovedQty,
		"largest claimant is held to its fair share while peers are still pending")
}

func TestFulfill_InsufficientStockRollsBack(t *testing.T) {
	h := newServiceHarness(t)
	defer h.done(t)

	now := time.Now()
	jan := time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC)

	h.mockDB.ExpectBegin()
	h.mockDB.ExpectQuery("SELECT * FROM supply_requests WHERE id = $1 FOR UPDATE").
		WithArgs("req-1").
		WillReturnRows(requestRow("req-1", "internal", "pending"))
	h.mockDB.ExpectQuery("SELECT * FROM supply_request_items").
		WithArgs("req-1").
		WillReturnRows(itemRows().
			AddRow("item-1", "req-1", "drug-1", 9, nil, nil, nil, nil, nil, now))
	h.mockDB.ExpectQuery("SELECT * FROM drugs WHERE id IN").
		WithArgs("drug-1").
		WillReturnRows(drugRows("drug-1", "Ibuprofen 400mg", "available", "0.10"))
	h.mockDB.ExpectQuery("FOR UPDATE").
		WithArgs("drug-1", "warehouse", "central").
		WillReturnRows(batchRows().
			AddRow("b1", "drug-1", "warehouse", "central", "LOT-A", jan, 4, 0, now, now))
	// Approver pinned the full quantity; four units on hand cannot cover it.
	h.mockDB.ExpectRollback()

	qty := 9
	_, err := h.svc.Fulfill(context.Background(), "req-1",
		[]service.LineOverride{{DrugID: "drug-1", Quantity: &qty}}, "user-2")

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))
	h.publisher.AssertNoEventsPublished(t)
}

func TestFulfill_InvalidTransition(t *testing.T) {
	h := newServiceHarness(t)
	defer h.done(t)

	h.mockDB.ExpectBegin()
	h.mockDB.ExpectQuery("SELECT * FROM supply_requests WHERE id = $1 FOR UPDATE").
		WithArgs("req-1").
		WillReturnRows(requestRow("req-1", "internal", "delivered"))
	h.mockDB.ExpectQuery("SELECT * FROM supply_request_items").
		WithArgs("req-1").
		WillReturnRows(itemRows())
	h.mockDB.ExpectRollback()

	_, err := h.svc.Fulfill(context.Background(), "req-1", nil, "user-2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidStateTransition))
}

func TestFulfill_ExternalRequiresAcceptedHop(t *testing.T) {
	h := newServiceHarness(t)
	defer h.done(t)

	// An external request cannot ship straight from pending.
	h.mockDB.ExpectBegin()
	h.mockDB.ExpectQuery("SELECT * FROM supply_requests WHERE id = $1 FOR UPDATE").
		WithArgs("req-1").
		WillReturnRows(requestRow("req-1", "external", "pending"))
	h.mockDB.ExpectQuery("SELECT * FROM supply_request_items").
		WithArgs("req-1").
		WillReturnRows(itemRows())
	h.mockDB.ExpectRollback()

	_, err := h.svc.Fulfill(context.Background(), "req-1", nil, "user-2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidStateTransition))
}

func TestAccept_InternalRequestHasNoApprovedHop(t *testing.T) {
	h := newServiceHarness(t)
	defer h.done(t)

	h.mockDB.ExpectBegin()
	h.mockDB.ExpectQuery("SELECT * FROM supply_requests WHERE id = $1 FOR UPDATE").
		WithArgs("req-1").
		WillReturnRows(requestRow("req-1", "internal", "pending"))
	h.mockDB.ExpectQuery("SELECT * FROM supply_request_items").
		WithArgs("req-1").
		WillReturnRows(itemRows())
	h.mockDB.ExpectRollback()

	_, err := h.svc.Accept(context.Background(), "req-1", "user-2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidStateTransition))
}

func TestCancel_OnlyPending(t *testing.T) {
	h := newServiceHarness(t)
	defer h.done(t)

	h.mockDB.ExpectBegin()
	h.mockDB.ExpectQuery("SELECT * FROM supply_requests WHERE id = $1 FOR UPDATE").
		WithArgs("req-1").
		WillReturnRows(requestRow("req-1", "internal", "fulfilled"))
	h.mockDB.ExpectQuery("SELECT * FROM supply_request_items").
		WithArgs("req-1").
		WillReturnRows(itemRows())
	h.mockDB.ExpectRollback()

	_, err := h.svc.Cancel(context.Background(), "req-1", "user-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidStateTransition))
	h.publisher.AssertNoEventsPublished(t)
}

func TestConfirmReceipt_ShortDeliveryReportsLoss(t *testing.T) {
	h := newServiceHarness(t)
	defer h.done(t)

	now := time.Now()
	jan := time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC)

	h.mockDB.ExpectBegin()
	h.mockDB.ExpectQuery("SELECT * FROM supply_requests WHERE id = $1 FOR UPDATE").
		WithArgs("req-1").
		WillReturnRows(requestRow("req-1", "internal", "fulfilled"))
	h.mockDB.ExpectQuery("SELECT * FROM supply_request_items").
		WithArgs("req-1").
		WillReturnRows(itemRows().
			AddRow("item-1", "req-1", "drug-1", 7, 7, 7, nil, "LOT-A", jan, now))
	h.mockDB.ExpectQuery("SELECT * FROM drugs WHERE id IN").
		WithArgs("drug-1").
		WillReturnRows(drugRows("drug-1", "Ibuprofen 400mg", "available", "0.50"))
	h.mockDB.ExpectExec("UPDATE supply_request_items SET received_qty").
		WithArgs("item-1", 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mockDB.ExpectQuery("INSERT INTO inventory_batches").
		WithArgs(testutil.AnyUUID{}, "drug-1", "pharmacy", "ph-1", "LOT-A", jan, 5, 0).
		WillReturnRows(batchRows().
			AddRow("b9", "drug-1", "pharmacy", "ph-1", "LOT-A", jan, 5, 0, now, now))
	h.mockDB.ExpectExec("UPDATE supply_requests").
		WithArgs("req-1", "fulfilled", "delivered", "user-1", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mockDB.ExpectCommit()

	result, err := h.svc.ConfirmReceipt(context.Background(), "req-1",
		[]service.ReceiptLine{{ItemID: "item-1", ReceivedQty: 5}}, "user-1")
	require.NoError(t, err)

	require.Len(t, result.Shortages, 1)
	short := result.Shortages[0]
	assert.Equal(t, 7, short.FulfilledQty)
	assert.Equal(t, 5, short.ReceivedQty)
	assert.Equal(t, 2, short.ShortQty)
	assert.Equal(t, "1.00", short.LostValue, "two units at 0.50 each")

	h.publisher.AssertEventPublished(t, messaging.EventRequestDelivered)
	h.publisher.AssertEventPublished(t, messaging.EventShortage)
}

func TestConfirmReceipt_SecondConfirmationConflicts(t *testing.T) {
	h := newServiceHarness(t)
	defer h.done(t)

	h.mockDB.ExpectBegin()
	h.mockDB.ExpectQuery("SELECT * FROM supply_requests WHERE id = $1 FOR UPDATE").
		WithArgs("req-1").
		WillReturnRows(requestRow("req-1", "internal", "delivered"))
	h.mockDB.ExpectQuery("SELECT * FROM supply_request_items").
		WithArgs("req-1").
		WillReturnRows(itemRows())
	h.mockDB.ExpectRollback()

	_, err := h.svc.ConfirmReceipt(context.Background(), "req-1", nil, "user-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidStateTransition),
		"a repeated confirmation must not credit stock twice")
	h.publisher.AssertNoEventsPublished(t)
}
