package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmflow/pharmflow-backend/internal/supply/domain"
	"github.com/pharmflow/pharmflow-backend/internal/supply/repository"
	"github.com/pharmflow/pharmflow-backend/pkg/database"
	"github.com/pharmflow/pharmflow-backend/pkg/errors"
	"github.com/pharmflow/pharmflow-backend/pkg/logger"
	"github.com/pharmflow/pharmflow-backend/pkg/testutil"
)

func testLogger() *logger.Logger {
	return logger.New("test", "test")
}

func batchColumns() []string {
	return []string{
		"id", "drug_id", "location_kind", "location_id", "batch_number",
		"expiry_date", "quantity", "minimum_level", "created_at", "updated_at",
	}
}

func TestBatchRepository_Available(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	db := database.NewFromSqlx(mockDB.DB, testLogger())
	repo := repository.NewBatchRepository(db)

	mockDB.ExpectQuery("SELECT COALESCE(SUM(quantity), 0)").
		WithArgs("drug-1", "warehouse", "central").
		WillReturnRows(testutil.MockRows("coalesce").AddRow(42))

	total, err := repo.Available(context.Background(), "drug-1", domain.WarehouseLocation("central"))
	require.NoError(t, err)
	assert.Equal(t, 42, total)

	mockDB.ExpectationsWereMet(t)
}

func TestBatchRepository_ListByExpiryForUpdate(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	db := database.NewFromSqlx(mockDB.DB, testLogger())
	repo := repository.NewBatchRepository(db)

	now := time.Now()
	jan := time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC)
	jun := time.Date(2027, time.June, 1, 0, 0, 0, 0, time.UTC)

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("FOR UPDATE").
		WithArgs("drug-1", "warehouse", "central").
		WillReturnRows(testutil.MockRows(batchColumns()...).
			AddRow("b1", "drug-1", "warehouse", "central", "LOT-A", jan, 5, 0, now, now).
			AddRow("b2", "drug-1", "warehouse", "central", "LOT-B", jun, 5, 0, now, now).
			AddRow("b3", "drug-1", "warehouse", "central", "LOT-C", nil, 5, 0, now, now))
	mockDB.ExpectCommit()

	ctx := context.Background()
	err := db.Transaction(ctx, func(tx *sqlx.Tx) error {
		batches, err := repo.ListByExpiryForUpdate(ctx, tx, "drug-1", domain.WarehouseLocation("central"))
		require.NoError(t, err)
		require.Len(t, batches, 3)

		assert.Equal(t, "b1", batches[0].ID)
		assert.Nil(t, batches[2].ExpiryDate, "undated lot sorts last")
		assert.Equal(t, "LOT-A", batches[0].Lot().BatchNumber)
		return nil
	})
	require.NoError(t, err)

	mockDB.ExpectationsWereMet(t)
}

func TestBatchRepository_Decrement(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	db := database.NewFromSqlx(mockDB.DB, testLogger())
	repo := repository.NewBatchRepository(db)

	now := time.Now()

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("UPDATE inventory_batches").
		WithArgs("b1", 7).
		WillReturnRows(testutil.MockRows(batchColumns()...).
			AddRow("b1", "drug-1", "warehouse", "central", "LOT-A", nil, 3, 5, now, now))
	mockDB.ExpectCommit()

	ctx := context.Background()
	err := db.Transaction(ctx, func(tx *sqlx.Tx) error {
		batch, err := repo.Decrement(ctx, tx, "b1", 7)
		require.NoError(t, err)
		assert.Equal(t, 3, batch.Quantity)
		assert.Equal(t, 5, batch.MinimumLevel)
		return nil
	})
	require.NoError(t, err)

	mockDB.ExpectationsWereMet(t)
}

func TestBatchRepository_Decrement_InsufficientStock(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	db := database.NewFromSqlx(mockDB.DB, testLogger())
	repo := repository.NewBatchRepository(db)

	// The guard on quantity matches no rows when the batch cannot cover
	// the deduction.
	mockDB.ExpectBegin()
	mockDB.ExpectQuery("UPDATE inventory_batches").
		WithArgs("b1", 100).
		WillReturnRows(testutil.MockRows(batchColumns()...))
	mockDB.ExpectRollback()

	ctx := context.Background()
	err := db.Transaction(ctx, func(tx *sqlx.Tx) error {
		_, err := repo.Decrement(ctx, tx, "b1", 100)
		return err
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientBatchStock))

	mockDB.ExpectationsWereMet(t)
}

func TestBatchRepository_Decrement_RejectsNonPositive(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	db := database.NewFromSqlx(mockDB.DB, testLogger())
	repo := repository.NewBatchRepository(db)

	mockDB.ExpectBegin()
	mockDB.ExpectRollback()

	ctx := context.Background()
	err := db.Transaction(ctx, func(tx *sqlx.Tx) error {
		_, err := repo.Decrement(ctx, tx, "b1", 0)
		return err
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))

	mockDB.ExpectationsWereMet(t)
}

func TestBatchRepository_Increment_Upsert(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	db := database.NewFromSqlx(mockDB.DB, testLogger())
	repo := repository.NewBatchRepository(db)

	now := time.Now()
	expiry := time.Date(2027, time.March, 1, 0, 0, 0, 0, time.UTC)

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("INSERT INTO inventory_batches").
		WithArgs(testutil.AnyUUID{}, "drug-1", "pharmacy", "ph-1", "LOT-A", expiry, 20, 0).
		WillReturnRows(testutil.MockRows(batchColumns()...).
			AddRow("b1", "drug-1", "pharmacy", "ph-1", "LOT-A", expiry, 50, 0, now, now))
	mockDB.ExpectCommit()

	ctx := context.Background()
	err := db.Transaction(ctx, func(tx *sqlx.Tx) error {
		batch, err := repo.Increment(ctx, tx, "drug-1", domain.PharmacyLocation("ph-1"), "LOT-A", &expiry, 20, 0)
		require.NoError(t, err)
		assert.Equal(t, 50, batch.Quantity, "repeated deliveries of a labelled lot accumulate")
		return nil
	})
	require.NoError(t, err)

	mockDB.ExpectationsWereMet(t)
}
