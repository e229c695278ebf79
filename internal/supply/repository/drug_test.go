package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmflow/pharmflow-backend/internal/supply/domain"
	"github.com/pharmflow/pharmflow-backend/internal/supply/repository"
	"github.com/pharmflow/pharmflow-backend/pkg/database"
	"github.com/pharmflow/pharmflow-backend/pkg/errors"
	"github.com/pharmflow/pharmflow-backend/pkg/testutil"
)

func drugColumns() []string {
	return []string{"id", "name", "unit", "units_per_box", "unit_price", "status", "created_at", "updated_at"}
}

func TestDrugRepository_Create(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	db := database.NewFromSqlx(mockDB.DB, testLogger())
	repo := repository.NewDrugRepository(db)

	now := time.Now()

	mockDB.ExpectQuery("INSERT INTO drugs").
		WithArgs(testutil.AnyUUID{}, "Amoxicillin 500mg", "capsules", 16, decimal.NewFromFloat(0.42), "available").
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(now, now))

	drug := &repository.Drug{
		Name:        "Amoxicillin 500mg",
		Unit:        "capsules",
		UnitsPerBox: 16,
		UnitPrice:   decimal.NewFromFloat(0.42),
	}

	err := repo.Create(context.Background(), drug)
	require.NoError(t, err)
	assert.NotEmpty(t, drug.ID)
	assert.Equal(t, domain.DrugAvailable, drug.Status)

	mockDB.ExpectationsWereMet(t)
}

func TestDrugRepository_GetByID_NotFound(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	db := database.NewFromSqlx(mockDB.DB, testLogger())
	repo := repository.NewDrugRepository(db)

	mockDB.ExpectQuery("SELECT * FROM drugs").
		WithArgs("missing").
		WillReturnRows(testutil.MockRows(drugColumns()...))

	_, err := repo.GetByID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	mockDB.ExpectationsWereMet(t)
}

func TestDrugRepository_UpdateStatus(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	db := database.NewFromSqlx(mockDB.DB, testLogger())
	repo := repository.NewDrugRepository(db)

	mockDB.ExpectExec("UPDATE drugs SET status").
		WithArgs("drug-1", "phasing_out").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), "drug-1", domain.DrugPhasingOut)
	require.NoError(t, err)

	mockDB.ExpectationsWereMet(t)
}

func TestDrugRepository_UpdateStatus_NotFound(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	db := database.NewFromSqlx(mockDB.DB, testLogger())
	repo := repository.NewDrugRepository(db)

	mockDB.ExpectExec("UPDATE drugs SET status").
		WithArgs("missing", "archived").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "missing", domain.DrugArchived)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	mockDB.ExpectationsWereMet(t)
}
