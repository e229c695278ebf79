package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DrugFixture represents test drug catalog data
type DrugFixture struct {
	ID          string
	Name        string
	Unit        string
	UnitsPerBox int
	UnitPrice   decimal.Decimal
	Status      string
}

// BatchFixture represents test inventory batch data
type BatchFixture struct {
	ID           string
	DrugID       string
	LocationKind string
	LocationID   string
	BatchNumber  string
	ExpiryDate   *time.Time
	Quantity     int
	MinimumLevel int
}

// RequestFixture represents test supply request data
type RequestFixture struct {
	ID            string
	Kind          string
	RequesterKind string
	RequesterID   string
	FulfillerKind string
	FulfillerID   string
	Status        string
	RequestedBy   string
}

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	sequence int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{sequence: 0}
}

// nextSeq returns the next sequence number for unique values
func (f *FixtureFactory) nextSeq() int {
	f.sequence++
	return f.sequence
}

// Drug creates a drug fixture with defaults
func (f *FixtureFactory) Drug(opts ...func(*DrugFixture)) DrugFixture {
	seq := f.nextSeq()

	drug := DrugFixture{
		ID:          uuid.New().String(),
		Name:        fmt.Sprintf("Test Drug %d", seq),
		Unit:        "tablets",
		UnitsPerBox: 20,
		UnitPrice:   decimal.NewFromFloat(1.50),
		Status:      "available",
	}

	for _, opt := range opts {
		opt(&drug)
	}

	return drug
}

// WithDrugStatus sets the drug lifecycle status
func WithDrugStatus(status string) func(*DrugFixture) {
	return func(d *DrugFixture) {
		d.Status = status
	}
}

// WithUnitPrice sets the drug unit price
func WithUnitPrice(price decimal.Decimal) func(*DrugFixture) {
	return func(d *DrugFixture) {
		d.UnitPrice = price
	}
}

// Batch creates an inventory batch fixture with defaults at the warehouse
func (f *FixtureFactory) Batch(drugID string, opts ...func(*BatchFixture)) BatchFixture {
	seq := f.nextSeq()
	expiry := time.Now().AddDate(1, 0, 0).Truncate(24 * time.Hour)

	batch := BatchFixture{
		ID:           uuid.New().String(),
		DrugID:       drugID,
		LocationKind: "warehouse",
		LocationID:   "central",
		BatchNumber:  fmt.Sprintf("LOT-%04d", seq),
		ExpiryDate:   &expiry,
		Quantity:     100,
		MinimumLevel: 10,
	}

	for _, opt := range opts {
		opt(&batch)
	}

	return batch
}

// WithQuantity sets the batch quantity
func WithQuantity(qty int) func(*BatchFixture) {
	return func(b *BatchFixture) {
		b.Quantity = qty
	}
}

// WithExpiry sets the batch expiry date
func WithExpiry(t time.Time) func(*BatchFixture) {
	return func(b *BatchFixture) {
		b.ExpiryDate = &t
	}
}

// WithNoExpiry marks the batch as never expiring
func WithNoExpiry() func(*BatchFixture) {
	return func(b *BatchFixture) {
		b.ExpiryDate = nil
	}
}

// WithLocation sets the batch holding location
func WithLocation(kind, id string) func(*BatchFixture) {
	return func(b *BatchFixture) {
		b.LocationKind = kind
		b.LocationID = id
	}
}

// WithMinimumLevel sets the batch low-stock threshold
func WithMinimumLevel(level int) func(*BatchFixture) {
	return func(b *BatchFixture) {
		b.MinimumLevel = level
	}
}

// Request creates an internal supply request fixture: pharmacy asking the
// central warehouse.
func (f *FixtureFactory) Request(opts ...func(*RequestFixture)) RequestFixture {
	seq := f.nextSeq()

	req := RequestFixture{
		ID:            uuid.New().String(),
		Kind:          "internal",
		RequesterKind: "pharmacy",
		RequesterID:   fmt.Sprintf("pharmacy-%d", seq),
		FulfillerKind: "warehouse",
		FulfillerID:   "central",
		Status:        "pending",
		RequestedBy:   fmt.Sprintf("user-%d", seq),
	}

	for _, opt := range opts {
		opt(&req)
	}

	return req
}

// WithRequestKind sets the request tier (internal or external)
func WithRequestKind(kind string) func(*RequestFixture) {
	return func(r *RequestFixture) {
		r.Kind = kind
	}
}

// WithRequester sets the requesting location
func WithRequester(kind, id string) func(*RequestFixture) {
	return func(r *RequestFixture) {
		r.RequesterKind = kind
		r.RequesterID = id
	}
}

// WithFulfiller sets the fulfilling location
func WithFulfiller(kind, id string) func(*RequestFixture) {
	return func(r *RequestFixture) {
		r.FulfillerKind = kind
		r.FulfillerID = id
	}
}

// WithRequestStatus sets the request status
func WithRequestStatus(status string) func(*RequestFixture) {
	return func(r *RequestFixture) {
		r.Status = status
	}
}
