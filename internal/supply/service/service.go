// Package service implements the supply fulfillment engine: the request
// lifecycle, batch allocation and stock movements between the supply chain
// tiers.
package service

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/pharmflow/pharmflow-backend/internal/supply/events"
	"github.com/pharmflow/pharmflow-backend/internal/supply/repository"
	"github.com/pharmflow/pharmflow-backend/pkg/database"
	"github.com/pharmflow/pharmflow-backend/pkg/errors"
	"github.com/pharmflow/pharmflow-backend/pkg/logger"
)

// SupplyService handles supply chain business logic
type SupplyService struct {
	db          *database.DB
	drugRepo    *repository.DrugRepository
	batchRepo   *repository.BatchRepository
	requestRepo *repository.RequestRepository
	publisher   *events.SupplyEventPublisher
	logger      *logger.Logger
}

// NewSupplyService creates a new supply service
func NewSupplyService(
	db *database.DB,
	drugRepo *repository.DrugRepository,
	batchRepo *repository.BatchRepository,
	requestRepo *repository.RequestRepository,
	publisher *events.SupplyEventPublisher,
	log *logger.Logger,
) *SupplyService {
	return &SupplyService{
		db:          db,
		drugRepo:    drugRepo,
		batchRepo:   batchRepo,
		requestRepo: requestRepo,
		publisher:   publisher,
		logger:      log,
	}
}

// eventQueue collects event emissions while a transaction is open. Flush
// runs them only after the transaction has committed, so consumers never see
// an event for a change that rolled back.
type eventQueue struct {
	emits []func(context.Context)
}

func (q *eventQueue) add(emit func(context.Context)) {
	q.emits = append(q.emits, emit)
}

func (q *eventQueue) flush(ctx context.Context) {
	for _, emit := range q.emits {
		emit(ctx)
	}
}

// transact wraps a transactional operation with post-commit event emission.
func (s *SupplyService) transact(ctx context.Context, fn func(tx *sqlx.Tx, queue *eventQueue) error) error {
	queue := &eventQueue{}
	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		return fn(tx, queue)
	})
	if err != nil {
		return err
	}

	queue.flush(ctx)
	return nil
}

// mustDrug loads a drug or maps its absence to a request-scoped error.
func (s *SupplyService) mustDrug(ctx context.Context, drugID string) (*repository.Drug, error) {
	drug, err := s.drugRepo.GetByID(ctx, drugID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.BadRequest("unknown drug " + drugID)
		}
		return nil, err
	}
	return drug, nil
}
