package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pharmflow/pharmflow-backend/internal/supply/domain"
	"github.com/pharmflow/pharmflow-backend/internal/supply/repository"
	"github.com/pharmflow/pharmflow-backend/pkg/errors"
	"github.com/pharmflow/pharmflow-backend/pkg/messaging"
	"github.com/pharmflow/pharmflow-backend/pkg/metrics"
)

// RegisterStockInput records freshly arrived stock outside the request flow,
// e.g. a supplier filling its own shelves or an opening balance.
type RegisterStockInput struct {
	DrugID       string          `json:"drug_id" validate:"required,uuid"`
	Location     domain.Location `json:"location" validate:"required"`
	BatchNumber  string          `json:"batch_number,omitempty"`
	ExpiryDate   *time.Time      `json:"expiry_date,omitempty"`
	Quantity     int             `json:"quantity" validate:"required,gt=0"`
	MinimumLevel int             `json:"minimum_level,omitempty" validate:"gte=0"`
}

// RegisterStock credits stock at a location. An archived drug cannot take on
// new stock; a phasing-out drug still can, since goods already ordered keep
// arriving.
func (s *SupplyService) RegisterStock(ctx context.Context, input RegisterStockInput, actor string) (*repository.InventoryBatch, error) {
	if _, err := domain.NewLocation(input.Location.Kind, input.Location.ID); err != nil {
		return nil, errors.BadRequest("invalid location")
	}
	if input.Quantity <= 0 {
		return nil, errors.BadRequest("quantity must be positive")
	}

	drug, err := s.mustDrug(ctx, input.DrugID)
	if err != nil {
		metrics.RecordOperation("register_stock", err)
		return nil, err
	}
	if drug.Status == domain.DrugArchived {
		return nil, errors.DrugUnavailable(drug.ID, "archived")
	}

	var batch *repository.InventoryBatch
	err = s.transact(ctx, func(tx *sqlx.Tx, queue *eventQueue) error {
		var err error
		batch, err = s.batchRepo.Increment(ctx, tx, input.DrugID, input.Location,
			input.BatchNumber, input.ExpiryDate, input.Quantity, input.MinimumLevel)
		if err != nil {
			return err
		}

		data := messaging.StockRegisteredEvent{
			DrugID:       input.DrugID,
			Location:     input.Location.String(),
			ExpiryDate:   input.ExpiryDate,
			Quantity:     input.Quantity,
			RegisteredBy: actor,
		}
		if input.BatchNumber != "" {
			data.BatchNumber = &input.BatchNumber
		}
		queue.add(func(ctx context.Context) {
			s.publisher.PublishStockRegistered(ctx, data)
		})

		if batch.MinimumLevel > 0 && batch.Quantity <= batch.MinimumLevel {
			low := messaging.LowStockEvent{
				DrugID:       batch.DrugID,
				DrugName:     drug.Name,
				Location:     batch.Location().String(),
				BatchID:      batch.ID,
				BatchNumber:  batch.BatchNumber,
				CurrentQty:   batch.Quantity,
				MinimumLevel: batch.MinimumLevel,
			}
			queue.add(func(ctx context.Context) {
				s.publisher.PublishLowStock(ctx, low)
			})
		}
		return nil
	})
	metrics.RecordOperation("register_stock", err)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("drug_id", input.DrugID).
		Str("location", input.Location.String()).
		Int("quantity", input.Quantity).
		Msg("stock registered")

	return batch, nil
}

// StockOverview aggregates a location's stock per drug.
func (s *SupplyService) StockOverview(ctx context.Context, loc domain.Location) ([]*repository.StockLevel, error) {
	if _, err := domain.NewLocation(loc.Kind, loc.ID); err != nil {
		return nil, errors.BadRequest("invalid location")
	}
	return s.batchRepo.Overview(ctx, loc)
}

// ListBatches lists a drug's batches at a location in consumption order.
func (s *SupplyService) ListBatches(ctx context.Context, drugID string, loc domain.Location) ([]*repository.InventoryBatch, error) {
	if _, err := domain.NewLocation(loc.Kind, loc.ID); err != nil {
		return nil, errors.BadRequest("invalid location")
	}
	return s.batchRepo.ListByExpiry(ctx, drugID, loc)
}

// LowStockReport lists every batch at a location at or below its threshold.
func (s *SupplyService) LowStockReport(ctx context.Context, loc domain.Location) ([]*repository.InventoryBatch, error) {
	if _, err := domain.NewLocation(loc.Kind, loc.ID); err != nil {
		return nil, errors.BadRequest("invalid location")
	}
	return s.batchRepo.BelowMinimum(ctx, loc)
}
