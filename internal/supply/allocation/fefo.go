// Package allocation holds the pure stock allocation algorithms. They
// operate on plain quantity/expiry tuples and perform no I/O; the service
// layer wires them to the batch store inside a transaction.
package allocation

import (
	"sort"
	"time"

	"github.com/pharmflow/pharmflow-backend/pkg/errors"
)

// BatchLot is one candidate batch as seen by the planner.
type BatchLot struct {
	BatchID     string
	BatchNumber string
	ExpiryDate  *time.Time
	Quantity    int
}

// Withdrawal is one planned deduction from a single batch.
type Withdrawal struct {
	BatchID     string     `json:"batch_id"`
	BatchNumber string     `json:"batch_number"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
	Quantity    int        `json:"quantity"`
}

// SortLotsFEFO orders lots earliest-expiry-first. A nil expiry means the lot
// never expires and sorts after every dated lot, so dated stock is always
// consumed first. The sort is stable: lots sharing an expiry keep their
// incoming (creation) order.
func SortLotsFEFO(lots []BatchLot) []BatchLot {
	sorted := make([]BatchLot, len(lots))
	copy(sorted, lots)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].ExpiryDate, sorted[j].ExpiryDate
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})

	return sorted
}

// PlanFEFO walks lots in first-expire-first-out order and plans withdrawals
// until qty is covered. The plan is all-or-nothing: if the lots cannot cover
// qty in full, no plan is returned and the caller must not deduct anything.
func PlanFEFO(lots []BatchLot, drugID string, qty int) ([]Withdrawal, error) {
	if qty <= 0 {
		return nil, errors.BadRequest("withdrawal quantity must be positive")
	}

	ordered := SortLotsFEFO(lots)

	available := 0
	for _, lot := range ordered {
		available += lot.Quantity
	}
	if available < qty {
		return nil, errors.InsufficientStock(drugID, qty, available)
	}

	plan := make([]Withdrawal, 0, 2)
	remaining := qty
	for _, lot := range ordered {
		if remaining == 0 {
			break
		}
		if lot.Quantity <= 0 {
			continue
		}

		take := lot.Quantity
		if take > remaining {
			take = remaining
		}

		plan = append(plan, Withdrawal{
			BatchID:     lot.BatchID,
			BatchNumber: lot.BatchNumber,
			ExpiryDate:  lot.ExpiryDate,
			Quantity:    take,
		})
		remaining -= take
	}

	return plan, nil
}

// PlanFEFOFromBatch plans a withdrawal pinned to a single batch number, used
// when an approver manually overrides the batch choice. The sufficiency
// check still applies: the pinned batch must cover the full quantity.
func PlanFEFOFromBatch(lots []BatchLot, drugID, batchNumber string, qty int) ([]Withdrawal, error) {
	pinned := make([]BatchLot, 0, 1)
	for _, lot := range lots {
		if lot.BatchNumber == batchNumber {
			pinned = append(pinned, lot)
		}
	}
	if len(pinned) == 0 {
		return nil, errors.NotFound("batch " + batchNumber)
	}
	return PlanFEFO(pinned, drugID, qty)
}
