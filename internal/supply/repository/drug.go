package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/pharmflow/pharmflow-backend/internal/supply/domain"
	"github.com/pharmflow/pharmflow-backend/pkg/database"
	"github.com/pharmflow/pharmflow-backend/pkg/errors"
)

// Drug is a catalog entry. Inventory and request lines reference drugs but
// never own them.
type Drug struct {
	ID          string            `db:"id" json:"id"`
	Name        string            `db:"name" json:"name"`
	Unit        string            `db:"unit" json:"unit"`
	UnitsPerBox int               `db:"units_per_box" json:"units_per_box"`
	UnitPrice   decimal.Decimal   `db:"unit_price" json:"unit_price"`
	Status      domain.DrugStatus `db:"status" json:"status"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

// DrugRepository handles drug catalog persistence
type DrugRepository struct {
	db *database.DB
}

// NewDrugRepository creates a new drug repository
func NewDrugRepository(db *database.DB) *DrugRepository {
	return &DrugRepository{db: db}
}

// Create creates a new drug
func (r *DrugRepository) Create(ctx context.Context, drug *Drug) error {
	if drug.ID == "" {
		drug.ID = uuid.New().String()
	}
	if drug.Status == "" {
		drug.Status = domain.DrugAvailable
	}

	query := `
		INSERT INTO drugs (id, name, unit, units_per_box, unit_price, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		drug.ID, drug.Name, drug.Unit, drug.UnitsPerBox, drug.UnitPrice, drug.Status,
	).Scan(&drug.CreatedAt, &drug.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID gets a drug by ID
func (r *DrugRepository) GetByID(ctx context.Context, id string) (*Drug, error) {
	var drug Drug
	query := `SELECT * FROM drugs WHERE id = $1`
	if err := r.db.GetContext(ctx, &drug, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("drug")
		}
		return nil, err
	}
	return &drug, nil
}

// GetByIDs gets drugs by ID, keyed by ID. Missing IDs are simply absent from
// the result; callers decide whether that is an error.
func (r *DrugRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*Drug, error) {
	result := make(map[string]*Drug, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(`SELECT * FROM drugs WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	query = r.db.Rebind(query)

	var drugs []*Drug
	if err := r.db.SelectContext(ctx, &drugs, query, args...); err != nil {
		return nil, err
	}

	for _, d := range drugs {
		result[d.ID] = d
	}
	return result, nil
}

// List lists drugs, optionally filtered by status
func (r *DrugRepository) List(ctx context.Context, page, perPage int, status domain.DrugStatus) ([]*Drug, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}
	offset := (page - 1) * perPage

	var (
		drugs []*Drug
		total int64
	)

	if status != "" {
		countQuery := `SELECT COUNT(*) FROM drugs WHERE status = $1`
		if err := r.db.GetContext(ctx, &total, countQuery, status); err != nil {
			return nil, 0, err
		}
		query := `SELECT * FROM drugs WHERE status = $1 ORDER BY name LIMIT $2 OFFSET $3`
		if err := r.db.SelectContext(ctx, &drugs, query, status, perPage, offset); err != nil {
			return nil, 0, err
		}
		return drugs, total, nil
	}

	countQuery := `SELECT COUNT(*) FROM drugs`
	if err := r.db.GetContext(ctx, &total, countQuery); err != nil {
		return nil, 0, err
	}
	query := `SELECT * FROM drugs ORDER BY name LIMIT $1 OFFSET $2`
	if err := r.db.SelectContext(ctx, &drugs, query, perPage, offset); err != nil {
		return nil, 0, err
	}
	return drugs, total, nil
}

// UpdateStatus moves a drug to a new lifecycle status
func (r *DrugRepository) UpdateStatus(ctx context.Context, id string, status domain.DrugStatus) error {
	query := `UPDATE drugs SET status = $2, updated_at = NOW() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("drug")
	}
	return nil
}

// Update updates a drug's catalog fields
func (r *DrugRepository) Update(ctx context.Context, drug *Drug) error {
	query := `
		UPDATE drugs SET
			name = $2, unit = $3, units_per_box = $4, unit_price = $5, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query,
		drug.ID, drug.Name, drug.Unit, drug.UnitsPerBox, drug.UnitPrice,
	)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("drug")
	}
	return nil
}
