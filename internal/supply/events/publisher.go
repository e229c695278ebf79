// Package events publishes supply lifecycle events to the message broker.
// Services collect events while a transaction is open and hand them here
// after commit, so consumers never observe a rolled-back change.
package events

import (
	"context"

	"github.com/pharmflow/pharmflow-backend/pkg/logger"
	"github.com/pharmflow/pharmflow-backend/pkg/messaging"
	"github.com/pharmflow/pharmflow-backend/pkg/metrics"
)

// SupplyEventPublisher publishes supply-related events
type SupplyEventPublisher struct {
	publisher messaging.EventPublisher
	logger    *logger.Logger
}

// NewSupplyEventPublisher creates a publisher bound to the supply exchange
func NewSupplyEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*SupplyEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeSupplyEvents, "supply-service", log)
	if err != nil {
		return nil, err
	}

	return &SupplyEventPublisher{
		publisher: publisher,
		logger:    log,
	}, nil
}

// NewSupplyEventPublisherWith wraps an existing publisher. Used by tests.
func NewSupplyEventPublisherWith(pub messaging.EventPublisher, log *logger.Logger) *SupplyEventPublisher {
	return &SupplyEventPublisher{
		publisher: pub,
		logger:    log,
	}
}

func (p *SupplyEventPublisher) publish(ctx context.Context, eventType string, data interface{}) {
	if p == nil || p.publisher == nil {
		return
	}

	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to publish supply event")
		return
	}
	metrics.RecordEventPublished(eventType)
}

// PublishRequestCreated publishes a request created event
func (p *SupplyEventPublisher) PublishRequestCreated(ctx context.Context, data messaging.RequestCreatedEvent) {
	p.publish(ctx, messaging.EventRequestCreated, data)
}

// PublishRequestAccepted publishes an external request accepted event
func (p *SupplyEventPublisher) PublishRequestAccepted(ctx context.Context, data messaging.RequestAcceptedEvent) {
	p.publish(ctx, messaging.EventRequestAccepted, data)
}

// PublishRequestFulfilled publishes a request fulfilled event
func (p *SupplyEventPublisher) PublishRequestFulfilled(ctx context.Context, data messaging.RequestFulfilledEvent) {
	p.publish(ctx, messaging.EventRequestFulfilled, data)
}

// PublishRequestRejected publishes a request rejected event
func (p *SupplyEventPublisher) PublishRequestRejected(ctx context.Context, data messaging.RequestRejectedEvent) {
	p.publish(ctx, messaging.EventRequestRejected, data)
}

// PublishRequestCancelled publishes a request cancelled event
func (p *SupplyEventPublisher) PublishRequestCancelled(ctx context.Context, data messaging.RequestCancelledEvent) {
	p.publish(ctx, messaging.EventRequestCancelled, data)
}

// PublishRequestDelivered publishes a request delivered event
func (p *SupplyEventPublisher) PublishRequestDelivered(ctx context.Context, data messaging.RequestDeliveredEvent) {
	p.publish(ctx, messaging.EventRequestDelivered, data)
}

// PublishStockRegistered publishes a stock registered event
func (p *SupplyEventPublisher) PublishStockRegistered(ctx context.Context, data messaging.StockRegisteredEvent) {
	p.publish(ctx, messaging.EventStockRegistered, data)
}

// PublishLowStock publishes a low stock event
func (p *SupplyEventPublisher) PublishLowStock(ctx context.Context, data messaging.LowStockEvent) {
	p.publish(ctx, messaging.EventLowStock, data)
}

// PublishShortage publishes a shortage event
func (p *SupplyEventPublisher) PublishShortage(ctx context.Context, data messaging.ShortageEvent) {
	p.publish(ctx, messaging.EventShortage, data)
}

// PublishDrugStatusChanged publishes a drug status changed event
func (p *SupplyEventPublisher) PublishDrugStatusChanged(ctx context.Context, data messaging.DrugStatusChangedEvent) {
	p.publish(ctx, messaging.EventDrugStatusChanged, data)
}
