package messaging

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types
const (
	// Supply request lifecycle events
	EventRequestCreated   = "supply.request.created"
	EventRequestAccepted  = "supply.request.accepted"
	EventRequestFulfilled = "supply.request.fulfilled"
	EventRequestRejected  = "supply.request.rejected"
	EventRequestCancelled = "supply.request.cancelled"
	EventRequestDelivered = "supply.request.delivered"

	// Stock events
	EventStockRegistered = "supply.stock.registered"
	EventLowStock        = "supply.stock.low"
	EventShortage        = "supply.stock.shortage"

	// Catalog events
	EventDrugStatusChanged = "supply.drug.status_changed"
)

// Exchange names
const (
	ExchangeSupplyEvents = "supply.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Request lifecycle events

// RequestLineData describes one request line inside an event payload.
type RequestLineData struct {
	DrugID       string     `json:"drug_id"`
	DrugName     string     `json:"drug_name,omitempty"`
	RequestedQty int        `json:"requested_qty"`
	ApprovedQty  *int       `json:"approved_qty,omitempty"`
	FulfilledQty *int       `json:"fulfilled_qty,omitempty"`
	BatchNumber  *string    `json:"batch_number,omitempty"`
	ExpiryDate   *time.Time `json:"expiry_date,omitempty"`
}

// RequestCreatedEvent is published when a supply request is created
type RequestCreatedEvent struct {
	RequestID string            `json:"request_id"`
	Kind      string            `json:"kind"`
	Requester string            `json:"requester"`
	Fulfiller string            `json:"fulfiller"`
	Lines     []RequestLineData `json:"lines"`
	CreatedBy string            `json:"created_by"`
}

// RequestAcceptedEvent is published when an external request is accepted by
// the hospital and handed to a supplier, before any stock moves.
type RequestAcceptedEvent struct {
	RequestID  string `json:"request_id"`
	AcceptedBy string `json:"accepted_by"`
}

// RequestFulfilledEvent is published when a request is approved and stock is
// drawn from the fulfiller's batches. Lines carry the per-batch withdrawals.
type RequestFulfilledEvent struct {
	RequestID   string            `json:"request_id"`
	Kind        string            `json:"kind"`
	Fulfiller   string            `json:"fulfiller"`
	Lines       []RequestLineData `json:"lines"`
	FulfilledBy string            `json:"fulfilled_by"`
}

// RequestRejectedEvent is published when a request is rejected
type RequestRejectedEvent struct {
	RequestID  string `json:"request_id"`
	Reason     string `json:"reason"`
	RejectedBy string `json:"rejected_by"`
}

// RequestCancelledEvent is published when a pending request is withdrawn by
// its requester.
type RequestCancelledEvent struct {
	RequestID   string `json:"request_id"`
	CancelledBy string `json:"cancelled_by"`
}

// ShortageLineData describes a confirmed-receipt line that came up short.
type ShortageLineData struct {
	DrugID       string `json:"drug_id"`
	DrugName     string `json:"drug_name,omitempty"`
	FulfilledQty int    `json:"fulfilled_qty"`
	ReceivedQty  int    `json:"received_qty"`
	ShortQty     int    `json:"short_qty"`
	LostValue    string `json:"lost_value,omitempty"`
}

// RequestDeliveredEvent is published when the requester confirms receipt
type RequestDeliveredEvent struct {
	RequestID   string             `json:"request_id"`
	Requester   string             `json:"requester"`
	Shortages   []ShortageLineData `json:"shortages,omitempty"`
	ConfirmedBy string             `json:"confirmed_by"`
}

// Stock events

// StockRegisteredEvent is published when stock is recorded outside a request
type StockRegisteredEvent struct {
	DrugID       string     `json:"drug_id"`
	Location     string     `json:"location"`
	BatchNumber  *string    `json:"batch_number,omitempty"`
	ExpiryDate   *time.Time `json:"expiry_date,omitempty"`
	Quantity     int        `json:"quantity"`
	RegisteredBy string     `json:"registered_by"`
}

// LowStockEvent is published when a batch mutation leaves it at or below its
// minimum level.
type LowStockEvent struct {
	DrugID       string `json:"drug_id"`
	DrugName     string `json:"drug_name,omitempty"`
	Location     string `json:"location"`
	BatchID      string `json:"batch_id"`
	BatchNumber  string `json:"batch_number"`
	CurrentQty   int    `json:"current_qty"`
	MinimumLevel int    `json:"minimum_level"`
}

// ShortageEvent is published when confirmed receipt falls short of the
// fulfilled quantity.
type ShortageEvent struct {
	RequestID string             `json:"request_id"`
	Lines     []ShortageLineData `json:"lines"`
}

// Catalog events

// DrugStatusChangedEvent is published when a drug's lifecycle status changes
type DrugStatusChangedEvent struct {
	DrugID    string `json:"drug_id"`
	DrugName  string `json:"drug_name"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
	ChangedBy string `json:"changed_by"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), time.Now().Nanosecond()%10000)
}
