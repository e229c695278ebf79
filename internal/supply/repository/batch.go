package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pharmflow/pharmflow-backend/internal/supply/allocation"
	"github.com/pharmflow/pharmflow-backend/internal/supply/domain"
	"github.com/pharmflow/pharmflow-backend/pkg/database"
	"github.com/pharmflow/pharmflow-backend/pkg/errors"
)

// InventoryBatch is one physical lot of a drug held at a location. Quantity
// never goes negative; the database check constraint backs the guarded
// decrement as a second line of defense.
type InventoryBatch struct {
	ID           string              `db:"id" json:"id"`
	DrugID       string              `db:"drug_id" json:"drug_id"`
	LocationKind domain.LocationKind `db:"location_kind" json:"location_kind"`
	LocationID   string              `db:"location_id" json:"location_id"`
	BatchNumber  string              `db:"batch_number" json:"batch_number,omitempty"`
	ExpiryDate   *time.Time          `db:"expiry_date" json:"expiry_date,omitempty"`
	Quantity     int                 `db:"quantity" json:"quantity"`
	MinimumLevel int                 `db:"minimum_level" json:"minimum_level"`
	CreatedAt    time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time           `db:"updated_at" json:"updated_at"`
}

// Location returns the batch's holding location as a domain value.
func (b *InventoryBatch) Location() domain.Location {
	return domain.Location{Kind: b.LocationKind, ID: b.LocationID}
}

// Lot converts the batch row into the planner's view of it.
func (b *InventoryBatch) Lot() allocation.BatchLot {
	return allocation.BatchLot{
		BatchID:     b.ID,
		BatchNumber: b.BatchNumber,
		ExpiryDate:  b.ExpiryDate,
		Quantity:    b.Quantity,
	}
}

// fefoOrder keeps every batch read used for allocation on the same total
// order: earliest expiry first, undated lots last, creation order breaking
// ties. Locking reads in this order also keeps concurrent allocators from
// deadlocking against each other.
const fefoOrder = `ORDER BY expiry_date ASC NULLS LAST, created_at ASC, id ASC`

// BatchRepository handles inventory batch persistence
type BatchRepository struct {
	db *database.DB
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *database.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// GetByID gets a batch by ID
func (r *BatchRepository) GetByID(ctx context.Context, id string) (*InventoryBatch, error) {
	var batch InventoryBatch
	query := `SELECT * FROM inventory_batches WHERE id = $1`
	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("inventory batch")
		}
		return nil, err
	}
	return &batch, nil
}

// Available returns the total on-hand quantity of a drug at a location.
func (r *BatchRepository) Available(ctx context.Context, drugID string, loc domain.Location) (int, error) {
	var total int
	query := `
		SELECT COALESCE(SUM(quantity), 0)
		FROM inventory_batches
		WHERE drug_id = $1 AND location_kind = $2 AND location_id = $3
	`
	if err := r.db.GetContext(ctx, &total, query, drugID, loc.Kind, loc.ID); err != nil {
		return 0, err
	}
	return total, nil
}

// ListByExpiry lists a drug's batches at a location in consumption order.
func (r *BatchRepository) ListByExpiry(ctx context.Context, drugID string, loc domain.Location) ([]*InventoryBatch, error) {
	var batches []*InventoryBatch
	query := `
		SELECT * FROM inventory_batches
		WHERE drug_id = $1 AND location_kind = $2 AND location_id = $3
		` + fefoOrder
	if err := r.db.SelectContext(ctx, &batches, query, drugID, loc.Kind, loc.ID); err != nil {
		return nil, err
	}
	return batches, nil
}

// ListByExpiryForUpdate is ListByExpiry with row locks, for use inside an
// allocation transaction. The rows stay locked until the transaction ends.
func (r *BatchRepository) ListByExpiryForUpdate(ctx context.Context, tx *sqlx.Tx, drugID string, loc domain.Location) ([]*InventoryBatch, error) {
	var batches []*InventoryBatch
	query := `
		SELECT * FROM inventory_batches
		WHERE drug_id = $1 AND location_kind = $2 AND location_id = $3
		` + fefoOrder + `
		FOR UPDATE
	`
	if err := tx.SelectContext(ctx, &batches, query, drugID, loc.Kind, loc.ID); err != nil {
		return nil, err
	}
	return batches, nil
}

// Decrement deducts qty from a batch and returns the updated row. The update
// is guarded: a batch that no longer covers qty matches zero rows and the
// deduction fails without touching anything.
func (r *BatchRepository) Decrement(ctx context.Context, tx *sqlx.Tx, batchID string, qty int) (*InventoryBatch, error) {
	if qty <= 0 {
		return nil, errors.BadRequest("decrement quantity must be positive")
	}

	var batch InventoryBatch
	query := `
		UPDATE inventory_batches
		SET quantity = quantity - $2, updated_at = NOW()
		WHERE id = $1 AND quantity >= $2
		RETURNING *
	`
	if err := tx.GetContext(ctx, &batch, query, batchID, qty); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.InsufficientBatchStock(batchID, qty)
		}
		if appErr := database.MapPQError(err); appErr != nil {
			return nil, appErr
		}
		return nil, err
	}
	return &batch, nil
}

// Increment adds qty to the batch identified by (drug, location, batch
// number), creating the row when it does not exist yet. A repeated delivery
// of the same labelled lot lands on the same row.
func (r *BatchRepository) Increment(ctx context.Context, tx *sqlx.Tx, drugID string, loc domain.Location, batchNumber string, expiry *time.Time, qty, minimumLevel int) (*InventoryBatch, error) {
	if qty <= 0 {
		return nil, errors.BadRequest("increment quantity must be positive")
	}

	var batch InventoryBatch
	query := `
		INSERT INTO inventory_batches (id, drug_id, location_kind, location_id, batch_number, expiry_date, quantity, minimum_level)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (drug_id, location_kind, location_id, batch_number)
		DO UPDATE SET quantity = inventory_batches.quantity + EXCLUDED.quantity, updated_at = NOW()
		RETURNING *
	`
	err := tx.GetContext(ctx, &batch, query,
		uuid.New().String(), drugID, loc.Kind, loc.ID, batchNumber, expiry, qty, minimumLevel,
	)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return nil, appErr
		}
		return nil, err
	}
	return &batch, nil
}

// StockLevel is one drug's aggregate position at a location.
type StockLevel struct {
	DrugID       string `db:"drug_id" json:"drug_id"`
	DrugName     string `db:"drug_name" json:"drug_name"`
	Unit         string `db:"unit" json:"unit"`
	TotalOnHand  int    `db:"total_on_hand" json:"total_on_hand"`
	BatchCount   int    `db:"batch_count" json:"batch_count"`
	MinimumLevel int    `db:"minimum_level" json:"minimum_level"`
}

// Overview aggregates a location's stock per drug, name-ordered.
func (r *BatchRepository) Overview(ctx context.Context, loc domain.Location) ([]*StockLevel, error) {
	var levels []*StockLevel
	query := `
		SELECT
			b.drug_id,
			d.name AS drug_name,
			d.unit,
			COALESCE(SUM(b.quantity), 0) AS total_on_hand,
			COUNT(*) AS batch_count,
			MAX(b.minimum_level) AS minimum_level
		FROM inventory_batches b
		JOIN drugs d ON d.id = b.drug_id
		WHERE b.location_kind = $1 AND b.location_id = $2
		GROUP BY b.drug_id, d.name, d.unit
		ORDER BY d.name
	`
	if err := r.db.SelectContext(ctx, &levels, query, loc.Kind, loc.ID); err != nil {
		return nil, err
	}
	return levels, nil
}

// BelowMinimum lists batches at a location sitting at or below their
// configured low-stock threshold.
func (r *BatchRepository) BelowMinimum(ctx context.Context, loc domain.Location) ([]*InventoryBatch, error) {
	var batches []*InventoryBatch
	query := `
		SELECT * FROM inventory_batches
		WHERE location_kind = $1 AND location_id = $2
		  AND minimum_level > 0 AND quantity <= minimum_level
		` + fefoOrder
	if err := r.db.SelectContext(ctx, &batches, query, loc.Kind, loc.ID); err != nil {
		return nil, err
	}
	return batches, nil
}
