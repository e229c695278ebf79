package allocation_test

import (
	"testing"
	"time"

	"github.com/pharmflow/pharmflow-backend/internal/supply/allocation"
	"github.com/pharmflow/pharmflow-backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func datePtr(year int, month time.Month) *time.Time {
	d := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return &d
}

func TestSortLotsFEFO(t *testing.T) {
	lots := []allocation.BatchLot{
		{BatchID: "b-null", BatchNumber: "N", ExpiryDate: nil, Quantity: 5},
		{BatchID: "b-jun", BatchNumber: "J", ExpiryDate: datePtr(2024, time.June), Quantity: 5},
		{BatchID: "b-jan", BatchNumber: "A", ExpiryDate: datePtr(2024, time.January), Quantity: 5},
	}

	sorted := allocation.SortLotsFEFO(lots)

	require.Len(t, sorted, 3)
	assert.Equal(t, "b-jan", sorted[0].BatchID)
	assert.Equal(t, "b-jun", sorted[1].BatchID)
	assert.Equal(t, "b-null", sorted[2].BatchID, "undated stock is consumed last")

	// Input order untouched
	assert.Equal(t, "b-null", lots[0].BatchID)
}

func TestSortLotsFEFO_StableOnTies(t *testing.T) {
	exp := datePtr(2025, time.March)
	lots := []allocation.BatchLot{
		{BatchID: "first", ExpiryDate: exp, Quantity: 1},
		{BatchID: "second", ExpiryDate: exp, Quantity: 1},
		{BatchID: "third", ExpiryDate: exp, Quantity: 1},
	}

	sorted := allocation.SortLotsFEFO(lots)
	assert.Equal(t, "first", sorted[0].BatchID)
	assert.Equal(t, "second", sorted[1].BatchID)
	assert.Equal(t, "third", sorted[2].BatchID)
}

func TestPlanFEFO_SplitsAcrossBatches(t *testing.T) {
	lots := []allocation.BatchLot{
		{BatchID: "b1", BatchNumber: "B1", ExpiryDate: datePtr(2024, time.January), Quantity: 5},
		{BatchID: "b2", BatchNumber: "B2", ExpiryDate: datePtr(2024, time.June), Quantity: 5},
		{BatchID: "b3", BatchNumber: "B3", ExpiryDate: nil, Quantity: 5},
	}

	plan, err := allocation.PlanFEFO(lots, "drug-1", 7)
	require.NoError(t, err)
	require.Len(t, plan, 2)

	assert.Equal(t, "b1", plan[0].BatchID)
	assert.Equal(t, 5, plan[0].Quantity)
	assert.Equal(t, "b2", plan[1].BatchID)
	assert.Equal(t, 2, plan[1].Quantity)
}

func TestPlanFEFO_Conservation(t *testing.T) {
	lots := []allocation.BatchLot{
		{BatchID: "b1", ExpiryDate: datePtr(2024, time.February), Quantity: 12},
		{BatchID: "b2", ExpiryDate: datePtr(2024, time.August), Quantity: 30},
		{BatchID: "b3", ExpiryDate: nil, Quantity: 8},
	}

	plan, err := allocation.PlanFEFO(lots, "drug-1", 41)
	require.NoError(t, err)

	total := 0
	for _, w := range plan {
		total += w.Quantity
	}
	assert.Equal(t, 41, total, "withdrawals must sum to the requested quantity exactly")
}

func TestPlanFEFO_InsufficientStock(t *testing.T) {
	lots := []allocation.BatchLot{
		{BatchID: "b1", ExpiryDate: datePtr(2024, time.January), Quantity: 3},
		{BatchID: "b2", ExpiryDate: nil, Quantity: 2},
	}

	plan, err := allocation.PlanFEFO(lots, "drug-1", 6)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))
	assert.Nil(t, plan, "no partial plan on insufficient stock")
}

func TestPlanFEFO_SkipsEmptyBatches(t *testing.T) {
	lots := []allocation.BatchLot{
		{BatchID: "empty", ExpiryDate: datePtr(2023, time.December), Quantity: 0},
		{BatchID: "full", ExpiryDate: datePtr(2024, time.June), Quantity: 10},
	}

	plan, err := allocation.PlanFEFO(lots, "drug-1", 4)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, "full", plan[0].BatchID)
}

func TestPlanFEFO_RejectsNonPositiveQuantity(t *testing.T) {
	lots := []allocation.BatchLot{{BatchID: "b1", Quantity: 10}}

	_, err := allocation.PlanFEFO(lots, "drug-1", 0)
	require.Error(t, err)

	_, err = allocation.PlanFEFO(lots, "drug-1", -3)
	require.Error(t, err)
}

func TestPlanFEFOFromBatch(t *testing.T) {
	lots := []allocation.BatchLot{
		{BatchID: "b1", BatchNumber: "LOT-A", ExpiryDate: datePtr(2024, time.January), Quantity: 5},
		{BatchID: "b2", BatchNumber: "LOT-B", ExpiryDate: datePtr(2024, time.June), Quantity: 8},
	}

	t.Run("restricts candidates to the pinned batch", func(t *testing.T) {
		plan, err := allocation.PlanFEFOFromBatch(lots, "drug-1", "LOT-B", 8)
		require.NoError(t, err)
		require.Len(t, plan, 1)
		assert.Equal(t, "b2", plan[0].BatchID)
	})

	t.Run("still enforces all-or-nothing", func(t *testing.T) {
		_, err := allocation.PlanFEFOFromBatch(lots, "drug-1", "LOT-A", 6)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInsufficientStock),
			"must not fall back to other batches when the pinned one is short")
	})

	t.Run("unknown batch number", func(t *testing.T) {
		_, err := allocation.PlanFEFOFromBatch(lots, "drug-1", "LOT-X", 1)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})
}
