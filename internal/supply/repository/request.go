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

// SupplyRequest is one request in the ledger. Internal requests flow
// pending -> fulfilled -> delivered; external ones take an extra approved hop
// before fulfillment.
type SupplyRequest struct {
	ID              string               `db:"id" json:"id"`
	Kind            domain.RequestKind   `db:"kind" json:"kind"`
	RequesterKind   domain.LocationKind  `db:"requester_kind" json:"requester_kind"`
	RequesterID     string               `db:"requester_id" json:"requester_id"`
	FulfillerKind   domain.LocationKind  `db:"fulfiller_kind" json:"fulfiller_kind"`
	FulfillerID     string               `db:"fulfiller_id" json:"fulfiller_id"`
	Status          domain.RequestStatus `db:"status" json:"status"`
	RequestedBy     string               `db:"requested_by" json:"requested_by"`
	HandledBy       *string              `db:"handled_by" json:"handled_by,omitempty"`
	HandledAt       *time.Time           `db:"handled_at" json:"handled_at,omitempty"`
	RejectionReason *string              `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time            `db:"updated_at" json:"updated_at"`

	Items []*SupplyRequestItem `db:"-" json:"items,omitempty"`
}

// Requester returns the requesting location.
func (r *SupplyRequest) Requester() domain.Location {
	return domain.Location{Kind: r.RequesterKind, ID: r.RequesterID}
}

// Fulfiller returns the fulfilling location.
func (r *SupplyRequest) Fulfiller() domain.Location {
	return domain.Location{Kind: r.FulfillerKind, ID: r.FulfillerID}
}

// SupplyRequestItem is one line of a request. Before allocation a request
// carries one item per drug; allocation may split a line across batches, one
// row per batch drawn. Only the first row of a split carries the original
// requested and approved quantities, so summing over rows stays honest.
type SupplyRequestItem struct {
	ID           string     `db:"id" json:"id"`
	RequestID    string     `db:"request_id" json:"request_id"`
	DrugID       string     `db:"drug_id" json:"drug_id"`
	RequestedQty int        `db:"requested_qty" json:"requested_qty"`
	ApprovedQty  *int       `db:"approved_qty" json:"approved_qty,omitempty"`
	FulfilledQty *int       `db:"fulfilled_qty" json:"fulfilled_qty,omitempty"`
	ReceivedQty  *int       `db:"received_qty" json:"received_qty,omitempty"`
	BatchNumber  *string    `db:"batch_number" json:"batch_number,omitempty"`
	ExpiryDate   *time.Time `db:"expiry_date" json:"expiry_date,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// RequestRepository handles supply request persistence
type RequestRepository struct {
	db *database.DB
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *database.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts a request and its lines in one transaction scope.
func (r *RequestRepository) Create(ctx context.Context, tx *sqlx.Tx, req *SupplyRequest) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Status == "" {
		req.Status = domain.StatusPending
	}

	query := `
		INSERT INTO supply_requests (id, kind, requester_kind, requester_id, fulfiller_kind, fulfiller_id, status, requested_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := tx.QueryRowxContext(ctx, query,
		req.ID, req.Kind, req.RequesterKind, req.RequesterID,
		req.FulfillerKind, req.FulfillerID, req.Status, req.RequestedBy,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	for _, item := range req.Items {
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		item.RequestID = req.ID

		itemQuery := `
			INSERT INTO supply_request_items (id, request_id, drug_id, requested_qty)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at
		`
		err := tx.QueryRowxContext(ctx, itemQuery,
			item.ID, item.RequestID, item.DrugID, item.RequestedQty,
		).Scan(&item.CreatedAt)
		if err != nil {
			if appErr := database.MapPQError(err); appErr != nil {
				return appErr
			}
			return err
		}
	}
	return nil
}

// GetByID gets a request with its items
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*SupplyRequest, error) {
	var req SupplyRequest
	query := `SELECT * FROM supply_requests WHERE id = $1`
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("supply request")
		}
		return nil, err
	}

	items, err := r.itemsFor(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	req.Items = items
	return &req, nil
}

// GetByIDForUpdate locks the request row for the life of the transaction and
// loads its items. Every state transition goes through this lock.
func (r *RequestRepository) GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*SupplyRequest, error) {
	var req SupplyRequest
	query := `SELECT * FROM supply_requests WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &req, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("supply request")
		}
		return nil, err
	}

	items, err := r.itemsFor(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	req.Items = items
	return &req, nil
}

type queryer interface {
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func (r *RequestRepository) itemsFor(ctx context.Context, q queryer, requestID string) ([]*SupplyRequestItem, error) {
	var items []*SupplyRequestItem
	query := `SELECT * FROM supply_request_items WHERE request_id = $1 ORDER BY created_at ASC, id ASC`
	if err := q.SelectContext(ctx, &items, query, requestID); err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateStatus moves a request from an expected status to a new one. The
// guard on the expected status makes the transition safe to retry: a request
// already moved on matches zero rows.
func (r *RequestRepository) UpdateStatus(ctx context.Context, tx *sqlx.Tx, id string, from, to domain.RequestStatus, handledBy string, reason *string) error {
	query := `
		UPDATE supply_requests
		SET status = $3, handled_by = $4, handled_at = NOW(), rejection_reason = $5, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`
	result, err := tx.ExecContext(ctx, query, id, from, to, handledBy, reason)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.InvalidStateTransition(string(from), string(to))
	}
	return nil
}

// PendingDemand sums, per request, the outstanding quantity of one drug
// across every request in the given status at the same fulfiller. The result
// feeds the fair-share allocator; it includes the request being approved.
func (r *RequestRepository) PendingDemand(ctx context.Context, tx *sqlx.Tx, fulfiller domain.Location, drugID string, status domain.RequestStatus) ([]allocation.Demand, error) {
	rows := []struct {
		RequestID string `db:"request_id"`
		Quantity  int    `db:"quantity"`
	}{}

	query := `
		SELECT i.request_id, SUM(i.requested_qty) AS quantity
		FROM supply_request_items i
		JOIN supply_requests r ON r.id = i.request_id
		WHERE r.fulfiller_kind = $1 AND r.fulfiller_id = $2
		  AND r.status = $3 AND i.drug_id = $4
		GROUP BY i.request_id, r.created_at
		ORDER BY r.created_at ASC, i.request_id ASC
	`
	if err := tx.SelectContext(ctx, &rows, query, fulfiller.Kind, fulfiller.ID, status, drugID); err != nil {
		return nil, err
	}

	demands := make([]allocation.Demand, 0, len(rows))
	for _, row := range rows {
		demands = append(demands, allocation.Demand{RequestID: row.RequestID, Quantity: row.Quantity})
	}
	return demands, nil
}

// ReplaceLineAllocations rewrites a request's line for one drug with its
// allocation result: one item row per batch drawn. The original requested
// quantity (and the approved one) land on the first row only; spill rows
// carry zero so per-drug sums remain correct.
func (r *RequestRepository) ReplaceLineAllocations(ctx context.Context, tx *sqlx.Tx, requestID, drugID string, requestedQty, approvedQty int, withdrawals []allocation.Withdrawal) error {
	deleteQuery := `DELETE FROM supply_request_items WHERE request_id = $1 AND drug_id = $2`
	if _, err := tx.ExecContext(ctx, deleteQuery, requestID, drugID); err != nil {
		return err
	}

	insertQuery := `
		INSERT INTO supply_request_items
			(id, request_id, drug_id, requested_qty, approved_qty, fulfilled_qty, batch_number, expiry_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for i, w := range withdrawals {
		reqQty, apprQty := 0, 0
		if i == 0 {
			reqQty = requestedQty
			apprQty = approvedQty
		}

		var batchNumber *string
		if w.BatchNumber != "" {
			batchNumber = &w.BatchNumber
		}

		_, err := tx.ExecContext(ctx, insertQuery,
			uuid.New().String(), requestID, drugID,
			reqQty, apprQty, w.Quantity, batchNumber, w.ExpiryDate,
		)
		if err != nil {
			if appErr := database.MapPQError(err); appErr != nil {
				return appErr
			}
			return err
		}
	}
	return nil
}

// SetReceivedQty records the receiver-confirmed quantity on one item row.
func (r *RequestRepository) SetReceivedQty(ctx context.Context, tx *sqlx.Tx, itemID string, qty int) error {
	query := `UPDATE supply_request_items SET received_qty = $2 WHERE id = $1`
	result, err := tx.ExecContext(ctx, query, itemID, qty)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("supply request item")
	}
	return nil
}

// RequestFilter narrows List. Zero values mean "no filter".
type RequestFilter struct {
	Status    domain.RequestStatus
	Kind      domain.RequestKind
	Requester domain.Location
	Fulfiller domain.Location
}

// List lists requests newest-first with optional filters, items not loaded.
func (r *RequestRepository) List(ctx context.Context, filter RequestFilter, page, perPage int) ([]*SupplyRequest, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}
	offset := (page - 1) * perPage

	// Build with ? placeholders and rebind once at the end.
	where := `WHERE 1=1`
	args := []interface{}{}
	if filter.Status != "" {
		where += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.Kind != "" {
		where += ` AND kind = ?`
		args = append(args, filter.Kind)
	}
	if !filter.Requester.IsZero() {
		where += ` AND requester_kind = ? AND requester_id = ?`
		args = append(args, filter.Requester.Kind, filter.Requester.ID)
	}
	if !filter.Fulfiller.IsZero() {
		where += ` AND fulfiller_kind = ? AND fulfiller_id = ?`
		args = append(args, filter.Fulfiller.Kind, filter.Fulfiller.ID)
	}

	var total int64
	countQuery := r.db.Rebind(`SELECT COUNT(*) FROM supply_requests ` + where)
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	listQuery := r.db.Rebind(`SELECT * FROM supply_requests ` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`)
	listArgs := append(append([]interface{}{}, args...), perPage, offset)

	var requests []*SupplyRequest
	if err := r.db.SelectContext(ctx, &requests, listQuery, listArgs...); err != nil {
		return nil, 0, err
	}
	return requests, total, nil
}
