package service

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/pharmflow/pharmflow-backend/internal/supply/allocation"
	"github.com/pharmflow/pharmflow-backend/internal/supply/domain"
	"github.com/pharmflow/pharmflow-backend/internal/supply/repository"
	"github.com/pharmflow/pharmflow-backend/pkg/errors"
	"github.com/pharmflow/pharmflow-backend/pkg/messaging"
	"github.com/pharmflow/pharmflow-backend/pkg/metrics"
)

// CreateRequestInput describes a new supply request.
type CreateRequestInput struct {
	Kind      domain.RequestKind `json:"kind" validate:"required,oneof=internal external"`
	Requester domain.Location    `json:"requester" validate:"required"`
	Fulfiller domain.Location    `json:"fulfiller" validate:"required"`
	Lines     []RequestLineInput `json:"lines" validate:"required,min=1,dive"`
}

// RequestLineInput is one requested drug quantity.
type RequestLineInput struct {
	DrugID   string `json:"drug_id" validate:"required,uuid"`
	Quantity int    `json:"quantity" validate:"required,gt=0"`
}

// CreateRequest opens a pending request after checking every line against
// the drug catalog. An archived drug fails the whole request; a phasing-out
// drug is only accepted while the fulfiller still holds stock of it.
func (s *SupplyService) CreateRequest(ctx context.Context, input CreateRequestInput, actor string) (*repository.SupplyRequest, error) {
	if err := s.validateTiers(input.Kind, input.Requester, input.Fulfiller); err != nil {
		metrics.RecordOperation("create_request", err)
		return nil, err
	}

	drugIDs := make([]string, 0, len(input.Lines))
	seen := make(map[string]bool, len(input.Lines))
	for _, line := range input.Lines {
		if seen[line.DrugID] {
			return nil, errors.BadRequest("duplicate line for drug " + line.DrugID)
		}
		seen[line.DrugID] = true
		drugIDs = append(drugIDs, line.DrugID)
	}

	drugs, err := s.drugRepo.GetByIDs(ctx, drugIDs)
	if err != nil {
		return nil, err
	}

	for _, line := range input.Lines {
		drug, ok := drugs[line.DrugID]
		if !ok {
			return nil, errors.BadRequest("unknown drug " + line.DrugID)
		}

		switch drug.Status {
		case domain.DrugArchived:
			return nil, errors.DrugUnavailable(drug.ID, "archived")
		case domain.DrugPhasingOut:
			available, err := s.batchRepo.Available(ctx, drug.ID, input.Fulfiller)
			if err != nil {
				return nil, err
			}
			if available <= 0 {
				return nil, errors.DrugUnavailable(drug.ID, "phasing out with no remaining stock at fulfiller")
			}
		}
	}

	req := &repository.SupplyRequest{
		Kind:          input.Kind,
		RequesterKind: input.Requester.Kind,
		RequesterID:   input.Requester.ID,
		FulfillerKind: input.Fulfiller.Kind,
		FulfillerID:   input.Fulfiller.ID,
		Status:        domain.StatusPending,
		RequestedBy:   actor,
	}
	for _, line := range input.Lines {
		req.Items = append(req.Items, &repository.SupplyRequestItem{
			DrugID:       line.DrugID,
			RequestedQty: line.Quantity,
		})
	}

	err = s.transact(ctx, func(tx *sqlx.Tx, queue *eventQueue) error {
		if err := s.requestRepo.Create(ctx, tx, req); err != nil {
			return err
		}

		data := messaging.RequestCreatedEvent{
			RequestID: req.ID,
			Kind:      string(req.Kind),
			Requester: req.Requester().String(),
			Fulfiller: req.Fulfiller().String(),
			CreatedBy: actor,
		}
		for _, item := range req.Items {
			line := messaging.RequestLineData{
				DrugID:       item.DrugID,
				RequestedQty: item.RequestedQty,
			}
			if drug, ok := drugs[item.DrugID]; ok {
				line.DrugName = drug.Name
			}
			data.Lines = append(data.Lines, line)
		}
		queue.add(func(ctx context.Context) {
			s.publisher.PublishRequestCreated(ctx, data)
		})
		return nil
	})
	metrics.RecordOperation("create_request", err)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("request_id", req.ID).
		Str("kind", string(req.Kind)).
		Str("requester", req.Requester().String()).
		Str("fulfiller", req.Fulfiller().String()).
		Int("lines", len(req.Items)).
		Msg("supply request created")

	return req, nil
}

// validateTiers checks that requester and fulfiller sit on the tiers the
// request kind prescribes.
func (s *SupplyService) validateTiers(kind domain.RequestKind, requester, fulfiller domain.Location) error {
	if !kind.Valid() {
		return errors.BadRequest("unknown request kind")
	}
	if _, err := domain.NewLocation(requester.Kind, requester.ID); err != nil {
		return errors.BadRequest("invalid requester location")
	}
	if _, err := domain.NewLocation(fulfiller.Kind, fulfiller.ID); err != nil {
		return errors.BadRequest("invalid fulfiller location")
	}
	if requester.Equal(fulfiller) {
		return errors.BadRequest("requester and fulfiller must differ")
	}

	switch kind {
	case domain.RequestInternal:
		if fulfiller.Kind != domain.LocationWarehouse {
			return errors.BadRequest("internal requests are fulfilled by a warehouse")
		}
		if requester.Kind != domain.LocationPharmacy && requester.Kind != domain.LocationDepartment {
			return errors.BadRequest("internal requests come from a pharmacy or department")
		}
	case domain.RequestExternal:
		if requester.Kind != domain.LocationWarehouse {
			return errors.BadRequest("external requests come from a warehouse")
		}
		if fulfiller.Kind != domain.LocationSupplier {
			return errors.BadRequest("external requests are fulfilled by a supplier")
		}
	}
	return nil
}

// Accept moves an external request from pending to approved: the hospital
// has accepted the order and handed it to the supplier. No stock moves yet.
func (s *SupplyService) Accept(ctx context.Context, requestID, actor string) (*repository.SupplyRequest, error) {
	var req *repository.SupplyRequest
	err := s.transact(ctx, func(tx *sqlx.Tx, queue *eventQueue) error {
		var err error
		req, err = s.requestRepo.GetByIDForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}

		if !domain.CanTransition(req.Kind, req.Status, domain.StatusApproved) {
			return errors.InvalidStateTransition(string(req.Status), string(domain.StatusApproved))
		}

		if err := s.requestRepo.UpdateStatus(ctx, tx, req.ID, req.Status, domain.StatusApproved, actor, nil); err != nil {
			return err
		}
		req.Status = domain.StatusApproved

		queue.add(func(ctx context.Context) {
			s.publisher.PublishRequestAccepted(ctx, messaging.RequestAcceptedEvent{
				RequestID:  req.ID,
				AcceptedBy: actor,
			})
		})
		return nil
	})
	metrics.RecordOperation("accept_request", err)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// LineOverride lets the approver override the allocation for one line:
// a different quantity than requested, a pinned batch, or both.
type LineOverride struct {
	DrugID      string  `json:"drug_id" validate:"required,uuid"`
	Quantity    *int    `json:"quantity,omitempty" validate:"omitempty,gt=0"`
	BatchNumber *string `json:"batch_number,omitempty"`
}

// AllocationLine is the outcome of allocating one request line.
type AllocationLine struct {
	DrugID       string                  `json:"drug_id"`
	DrugName     string                  `json:"drug_name"`
	RequestedQty int                     `json:"requested_qty"`
	ApprovedQty  int                     `json:"approved_qty"`
	Withdrawals  []allocation.Withdrawal `json:"withdrawals"`
}

// AllocationResult reports what Fulfill drew from stock.
type AllocationResult struct {
	Request *repository.SupplyRequest `json:"request"`
	Lines   []AllocationLine          `json:"lines"`
}

// Fulfill approves a request and draws the stock in one atomic step. Per
// line it decides the approved quantity (an explicit override, or the
// fair-share suggestion computed across every competing request for the same
// drug at this fulfiller), plans batch withdrawals first-expire-first-out,
// and deducts them. Any shortfall rolls the whole fulfillment back.
func (s *SupplyService) Fulfill(ctx context.Context, requestID string, overrides []LineOverride, actor string) (*AllocationResult, error) {
	overrideByDrug := make(map[string]LineOverride, len(overrides))
	for _, o := range overrides {
		overrideByDrug[o.DrugID] = o
	}

	var result *AllocationResult
	err := s.transact(ctx, func(tx *sqlx.Tx, queue *eventQueue) error {
		req, err := s.requestRepo.GetByIDForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}

		if !domain.CanTransition(req.Kind, req.Status, domain.StatusFulfilled) {
			return errors.InvalidStateTransition(string(req.Status), string(domain.StatusFulfilled))
		}

		lines := groupLines(req.Items)
		drugIDs := make([]string, 0, len(lines))
		for _, line := range lines {
			drugIDs = append(drugIDs, line.DrugID)
		}
		drugs, err := s.drugRepo.GetByIDs(ctx, drugIDs)
		if err != nil {
			return err
		}

		result = &AllocationResult{Request: req}
		fulfiller := req.Fulfiller()

		for _, line := range lines {
			drug, ok := drugs[line.DrugID]
			if !ok {
				return errors.Internal("request line references missing drug " + line.DrugID)
			}
			if drug.Status == domain.DrugArchived {
				return errors.DrugUnavailable(drug.ID, "archived")
			}

			// Lock this drug's batches at the fulfiller for the rest
			// of the transaction. Competing fulfillments for the same
			// drug serialize here.
			batches, err := s.batchRepo.ListByExpiryForUpdate(ctx, tx, line.DrugID, fulfiller)
			if err != nil {
				return err
			}
			lots := make([]allocation.BatchLot, len(batches))
			available := 0
			for i, b := range batches {
				lots[i] = b.Lot()
				available += b.Quantity
			}

			approved, err := s.approvedQuantity(ctx, tx, req, line, available, overrideByDrug)
			if err != nil {
				return err
			}

			var plan []allocation.Withdrawal
			if o, ok := overrideByDrug[line.DrugID]; ok && o.BatchNumber != nil {
				plan, err = allocation.PlanFEFOFromBatch(lots, line.DrugID, *o.BatchNumber, approved)
			} else {
				plan, err = allocation.PlanFEFO(lots, line.DrugID, approved)
			}
			if err != nil {
				if errors.Is(err, errors.ErrInsufficientStock) {
					metrics.RecordAllocationFailure("insufficient_stock")
				}
				return err
			}

			for _, w := range plan {
				updated, err := s.batchRepo.Decrement(ctx, tx, w.BatchID, w.Quantity)
				if err != nil {
					return err
				}
				if updated.MinimumLevel > 0 && updated.Quantity <= updated.MinimumLevel {
					data := messaging.LowStockEvent{
						DrugID:       updated.DrugID,
						DrugName:     drug.Name,
						Location:     updated.Location().String(),
						BatchID:      updated.ID,
						BatchNumber:  updated.BatchNumber,
						CurrentQty:   updated.Quantity,
						MinimumLevel: updated.MinimumLevel,
					}
					queue.add(func(ctx context.Context) {
						s.publisher.PublishLowStock(ctx, data)
					})
				}
			}

			if err := s.requestRepo.ReplaceLineAllocations(ctx, tx, req.ID, line.DrugID, line.RequestedQty, approved, plan); err != nil {
				return err
			}

			result.Lines = append(result.Lines, AllocationLine{
				DrugID:       line.DrugID,
				DrugName:     drug.Name,
				RequestedQty: line.RequestedQty,
				ApprovedQty:  approved,
				Withdrawals:  plan,
			})
		}

		if err := s.requestRepo.UpdateStatus(ctx, tx, req.ID, req.Status, domain.StatusFulfilled, actor, nil); err != nil {
			return err
		}
		req.Status = domain.StatusFulfilled

		data := messaging.RequestFulfilledEvent{
			RequestID:   req.ID,
			Kind:        string(req.Kind),
			Fulfiller:   fulfiller.String(),
			FulfilledBy: actor,
		}
		for _, line := range result.Lines {
			approved := line.ApprovedQty
			for _, w := range line.Withdrawals {
				qty := w.Quantity
				batchNumber := w.BatchNumber
				data.Lines = append(data.Lines, messaging.RequestLineData{
					DrugID:       line.DrugID,
					DrugName:     line.DrugName,
					RequestedQty: line.RequestedQty,
					ApprovedQty:  &approved,
					FulfilledQty: &qty,
					BatchNumber:  &batchNumber,
					ExpiryDate:   w.ExpiryDate,
				})
			}
		}
		queue.add(func(ctx context.Context) {
			s.publisher.PublishRequestFulfilled(ctx, data)
		})
		return nil
	})
	metrics.RecordOperation("fulfill_request", err)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("request_id", requestID).
		Int("lines", len(result.Lines)).
		Str("actor", actor).
		Msg("supply request fulfilled")

	return result, nil
}

// requestLine is one per-drug line after collapsing split item rows.
type requestLine struct {
	DrugID       string
	RequestedQty int
}

// groupLines collapses item rows per drug. A freshly created request has one
// row per drug already; re-running over an allocated request stays correct
// because spill rows carry a zero requested quantity.
func groupLines(items []*repository.SupplyRequestItem) []requestLine {
	byDrug := make(map[string]int)
	order := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := byDrug[item.DrugID]; !ok {
			order = append(order, item.DrugID)
		}
		byDrug[item.DrugID] += item.RequestedQty
	}

	lines := make([]requestLine, 0, len(order))
	for _, drugID := range order {
		lines = append(lines, requestLine{DrugID: drugID, RequestedQty: byDrug[drugID]})
	}
	return lines
}

// approvedQuantity decides how much of a line to approve: an explicit
// override wins; otherwise the fair-share allocator splits the available
// stock across every request competing for the drug at this fulfiller.
func (s *SupplyService) approvedQuantity(ctx context.Context, tx *sqlx.Tx, req *repository.SupplyRequest, line requestLine, available int, overrides map[string]LineOverride) (int, error) {
	if o, ok := overrides[line.DrugID]; ok && o.Quantity != nil {
		return *o.Quantity, nil
	}

	demands, err := s.requestRepo.PendingDemand(ctx, tx, req.Fulfiller(), line.DrugID, req.Status)
	if err != nil {
		return 0, err
	}
	if len(demands) == 0 {
		// The locked request is not visible as a competitor only if its
		// items were already rewritten; fall back to its own demand.
		demands = []allocation.Demand{{RequestID: req.ID, Quantity: line.RequestedQty}}
	}

	share := allocation.FairShare(available, demands)
	approved, ok := share[req.ID]
	if !ok {
		approved = line.RequestedQty
	}
	if approved <= 0 {
		metrics.RecordAllocationFailure("fair_share_exhausted")
		return 0, errors.InsufficientStock(line.DrugID, line.RequestedQty, available)
	}
	return approved, nil
}

// Reject declines a request before any stock has moved.
func (s *SupplyService) Reject(ctx context.Context, requestID, reason, actor string) (*repository.SupplyRequest, error) {
	var req *repository.SupplyRequest
	err := s.transact(ctx, func(tx *sqlx.Tx, queue *eventQueue) error {
		var err error
		req, err = s.requestRepo.GetByIDForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}

		if !domain.CanTransition(req.Kind, req.Status, domain.StatusRejected) {
			return errors.InvalidStateTransition(string(req.Status), string(domain.StatusRejected))
		}

		if err := s.requestRepo.UpdateStatus(ctx, tx, req.ID, req.Status, domain.StatusRejected, actor, &reason); err != nil {
			return err
		}
		req.Status = domain.StatusRejected
		req.RejectionReason = &reason

		queue.add(func(ctx context.Context) {
			s.publisher.PublishRequestRejected(ctx, messaging.RequestRejectedEvent{
				RequestID:  req.ID,
				Reason:     reason,
				RejectedBy: actor,
			})
		})
		return nil
	})
	metrics.RecordOperation("reject_request", err)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Cancel withdraws a still-pending request on behalf of its requester.
func (s *SupplyService) Cancel(ctx context.Context, requestID, actor string) (*repository.SupplyRequest, error) {
	var req *repository.SupplyRequest
	err := s.transact(ctx, func(tx *sqlx.Tx, queue *eventQueue) error {
		var err error
		req, err = s.requestRepo.GetByIDForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}

		if !domain.CanTransition(req.Kind, req.Status, domain.StatusCancelled) {
			return errors.InvalidStateTransition(string(req.Status), string(domain.StatusCancelled))
		}

		if err := s.requestRepo.UpdateStatus(ctx, tx, req.ID, req.Status, domain.StatusCancelled, actor, nil); err != nil {
			return err
		}
		req.Status = domain.StatusCancelled

		queue.add(func(ctx context.Context) {
			s.publisher.PublishRequestCancelled(ctx, messaging.RequestCancelledEvent{
				RequestID:   req.ID,
				CancelledBy: actor,
			})
		})
		return nil
	})
	metrics.RecordOperation("cancel_request", err)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// ReceiptLine confirms how much of one item row actually arrived.
type ReceiptLine struct {
	ItemID      string `json:"item_id" validate:"required,uuid"`
	ReceivedQty int    `json:"received_qty" validate:"gte=0"`
}

// ShortageLine is one line of a receipt that came up short.
type ShortageLine struct {
	DrugID       string `json:"drug_id"`
	DrugName     string `json:"drug_name"`
	FulfilledQty int    `json:"fulfilled_qty"`
	ReceivedQty  int    `json:"received_qty"`
	ShortQty     int    `json:"short_qty"`
	LostValue    string `json:"lost_value"`
}

// ReceiptResult is the outcome of confirming delivery.
type ReceiptResult struct {
	Request   *repository.SupplyRequest `json:"request"`
	Shortages []ShortageLine            `json:"shortages,omitempty"`
}

// ConfirmReceipt records the requester's confirmation that goods arrived:
// the request moves to delivered and received stock is credited to the
// requester's location batch by batch, preserving batch number and expiry
// through the chain. Lines omitted from the confirmation are assumed to have
// arrived in full; lines received short are reported back with the value of
// the missing goods. The guarded transition makes a repeated confirmation a
// clean conflict instead of a double credit.
func (s *SupplyService) ConfirmReceipt(ctx context.Context, requestID string, receipts []ReceiptLine, actor string) (*ReceiptResult, error) {
	receivedByItem := make(map[string]int, len(receipts))
	for _, r := range receipts {
		receivedByItem[r.ItemID] = r.ReceivedQty
	}

	var result *ReceiptResult
	err := s.transact(ctx, func(tx *sqlx.Tx, queue *eventQueue) error {
		req, err := s.requestRepo.GetByIDForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}

		if !domain.CanTransition(req.Kind, req.Status, domain.StatusDelivered) {
			return errors.InvalidStateTransition(string(req.Status), string(domain.StatusDelivered))
		}

		drugIDs := make([]string, 0, len(req.Items))
		for _, item := range req.Items {
			drugIDs = append(drugIDs, item.DrugID)
		}
		drugs, err := s.drugRepo.GetByIDs(ctx, drugIDs)
		if err != nil {
			return err
		}

		result = &ReceiptResult{Request: req}
		requester := req.Requester()
		shortByDrug := make(map[string]*ShortageLine)
		shortOrder := []string{}

		for _, item := range req.Items {
			if item.FulfilledQty == nil || *item.FulfilledQty <= 0 {
				continue
			}
			fulfilled := *item.FulfilledQty

			received, confirmed := receivedByItem[item.ID]
			if !confirmed {
				received = fulfilled
			}
			if received > fulfilled {
				return errors.BadRequest("received quantity exceeds fulfilled quantity for item " + item.ID)
			}

			if err := s.requestRepo.SetReceivedQty(ctx, tx, item.ID, received); err != nil {
				return err
			}

			if received > 0 {
				batchNumber := ""
				if item.BatchNumber != nil {
					batchNumber = *item.BatchNumber
				}
				credited, err := s.batchRepo.Increment(ctx, tx, item.DrugID, requester, batchNumber, item.ExpiryDate, received, 0)
				if err != nil {
					return err
				}
				if credited.MinimumLevel > 0 && credited.Quantity <= credited.MinimumLevel {
					data := messaging.LowStockEvent{
						DrugID:       credited.DrugID,
						Location:     credited.Location().String(),
						BatchID:      credited.ID,
						BatchNumber:  credited.BatchNumber,
						CurrentQty:   credited.Quantity,
						MinimumLevel: credited.MinimumLevel,
					}
					queue.add(func(ctx context.Context) {
						s.publisher.PublishLowStock(ctx, data)
					})
				}
			}

			if received < fulfilled {
				line, ok := shortByDrug[item.DrugID]
				if !ok {
					line = &ShortageLine{DrugID: item.DrugID}
					if drug, found := drugs[item.DrugID]; found {
						line.DrugName = drug.Name
					}
					shortByDrug[item.DrugID] = line
					shortOrder = append(shortOrder, item.DrugID)
				}
				line.FulfilledQty += fulfilled
				line.ReceivedQty += received
				line.ShortQty += fulfilled - received
			}
		}

		// Materialize shortage lines with the value of the lost goods.
		for _, drugID := range shortOrder {
			line := shortByDrug[drugID]
			if drug, found := drugs[drugID]; found {
				line.LostValue = drug.UnitPrice.Mul(decimal.NewFromInt(int64(line.ShortQty))).StringFixed(2)
			}
			result.Shortages = append(result.Shortages, *line)
		}

		if err := s.requestRepo.UpdateStatus(ctx, tx, req.ID, req.Status, domain.StatusDelivered, actor, nil); err != nil {
			return err
		}
		req.Status = domain.StatusDelivered

		delivered := messaging.RequestDeliveredEvent{
			RequestID:   req.ID,
			Requester:   requester.String(),
			ConfirmedBy: actor,
		}
		for _, line := range result.Shortages {
			delivered.Shortages = append(delivered.Shortages, messaging.ShortageLineData{
				DrugID:       line.DrugID,
				DrugName:     line.DrugName,
				FulfilledQty: line.FulfilledQty,
				ReceivedQty:  line.ReceivedQty,
				ShortQty:     line.ShortQty,
				LostValue:    line.LostValue,
			})
		}
		queue.add(func(ctx context.Context) {
			s.publisher.PublishRequestDelivered(ctx, delivered)
		})

		if len(delivered.Shortages) > 0 {
			shortage := messaging.ShortageEvent{
				RequestID: req.ID,
				Lines:     delivered.Shortages,
			}
			queue.add(func(ctx context.Context) {
				s.publisher.PublishShortage(ctx, shortage)
			})
		}
		return nil
	})
	metrics.RecordOperation("confirm_receipt", err)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("request_id", requestID).
		Int("shortage_lines", len(result.Shortages)).
		Str("actor", actor).
		Msg("delivery confirmed")

	return result, nil
}

// GetRequest returns a request with its items.
func (s *SupplyService) GetRequest(ctx context.Context, id string) (*repository.SupplyRequest, error) {
	return s.requestRepo.GetByID(ctx, id)
}

// ListRequests lists requests with optional filters.
func (s *SupplyService) ListRequests(ctx context.Context, filter repository.RequestFilter, page, perPage int) ([]*repository.SupplyRequest, int64, error) {
	return s.requestRepo.List(ctx, filter, page, perPage)
}
