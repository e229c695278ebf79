package service

import (
	"context"

	"github.com/pharmflow/pharmflow-backend/internal/supply/domain"
	"github.com/pharmflow/pharmflow-backend/internal/supply/repository"
	"github.com/pharmflow/pharmflow-backend/pkg/errors"
	"github.com/pharmflow/pharmflow-backend/pkg/messaging"
	"github.com/pharmflow/pharmflow-backend/pkg/metrics"
)

// Drug catalog operations. The catalog itself is simple CRUD; its lifecycle
// statuses are what the request and stock flows key off.

// CreateDrug creates a catalog entry
func (s *SupplyService) CreateDrug(ctx context.Context, drug *repository.Drug) error {
	err := s.drugRepo.Create(ctx, drug)
	metrics.RecordOperation("create_drug", err)
	return err
}

// GetDrug gets a drug by ID
func (s *SupplyService) GetDrug(ctx context.Context, id string) (*repository.Drug, error) {
	return s.drugRepo.GetByID(ctx, id)
}

// ListDrugs lists drugs, optionally filtered by status
func (s *SupplyService) ListDrugs(ctx context.Context, page, perPage int, status domain.DrugStatus) ([]*repository.Drug, int64, error) {
	if status != "" && !status.Valid() {
		return nil, 0, errors.BadRequest("unknown drug status")
	}
	return s.drugRepo.List(ctx, page, perPage, status)
}

// UpdateDrug updates a drug's catalog fields
func (s *SupplyService) UpdateDrug(ctx context.Context, drug *repository.Drug) error {
	err := s.drugRepo.Update(ctx, drug)
	metrics.RecordOperation("update_drug", err)
	return err
}

// UpdateDrugStatus moves a drug through its lifecycle: available drugs may
// be phased out, phasing-out drugs archived. Archiving is final.
func (s *SupplyService) UpdateDrugStatus(ctx context.Context, id string, status domain.DrugStatus, actor string) (*repository.Drug, error) {
	if !status.Valid() {
		return nil, errors.BadRequest("unknown drug status")
	}

	drug, err := s.drugRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if drug.Status == status {
		return drug, nil
	}
	if drug.Status == domain.DrugArchived {
		return nil, errors.Conflict("archived drugs cannot change status")
	}

	oldStatus := drug.Status
	if err := s.drugRepo.UpdateStatus(ctx, id, status); err != nil {
		metrics.RecordOperation("update_drug_status", err)
		return nil, err
	}
	drug.Status = status
	metrics.RecordOperation("update_drug_status", nil)

	s.publisher.PublishDrugStatusChanged(ctx, messaging.DrugStatusChangedEvent{
		DrugID:    drug.ID,
		DrugName:  drug.Name,
		OldStatus: string(oldStatus),
		NewStatus: string(status),
		ChangedBy: actor,
	})

	s.logger.Info().
		Str("drug_id", drug.ID).
		Str("old_status", string(oldStatus)).
		Str("new_status", string(status)).
		Msg("drug status changed")

	return drug, nil
}
