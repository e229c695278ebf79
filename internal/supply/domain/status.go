package domain

// DrugStatus is the catalog lifecycle status of a drug.
type DrugStatus string

const (
	// DrugAvailable drugs may be ordered and drawn from stock.
	DrugAvailable DrugStatus = "available"
	// DrugPhasingOut drugs may still be drawn from existing stock but are
	// no longer freshly ordered from suppliers.
	DrugPhasingOut DrugStatus = "phasing_out"
	// DrugArchived drugs are excluded from all new allocation.
	DrugArchived DrugStatus = "archived"
)

// Valid reports whether the status is a known lifecycle value.
func (s DrugStatus) Valid() bool {
	switch s {
	case DrugAvailable, DrugPhasingOut, DrugArchived:
		return true
	}
	return false
}

// Orderable reports whether new requests may reference the drug at all.
func (s DrugStatus) Orderable() bool {
	return s == DrugAvailable || s == DrugPhasingOut
}

// RequestKind distinguishes the two supply flows.
type RequestKind string

const (
	// RequestInternal flows from a pharmacy/department to its warehouse.
	RequestInternal RequestKind = "internal"
	// RequestExternal flows from a warehouse to an outside supplier.
	RequestExternal RequestKind = "external"
)

// Valid reports whether the kind is known.
func (k RequestKind) Valid() bool {
	return k == RequestInternal || k == RequestExternal
}

// RequestStatus is the ledger state of a supply request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusApproved  RequestStatus = "approved"
	StatusFulfilled RequestStatus = "fulfilled"
	StatusDelivered RequestStatus = "delivered"
	StatusRejected  RequestStatus = "rejected"
	StatusCancelled RequestStatus = "cancelled"
)

// Valid reports whether the status is a known ledger state.
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusFulfilled, StatusDelivered,
		StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s RequestStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusRejected || s == StatusCancelled
}

// CanTransition reports whether a request of the given kind may move from
// one status to another. The external flow inserts an approved hop between
// pending and fulfilled: the hospital accepts and assigns a supplier before
// the supplier may ship. Rejection is only reachable before any stock has
// been drawn, so no compensation path is needed.
func CanTransition(kind RequestKind, from, to RequestStatus) bool {
	switch to {
	case StatusApproved:
		return kind == RequestExternal && from == StatusPending
	case StatusFulfilled:
		if kind == RequestExternal {
			return from == StatusApproved
		}
		return from == StatusPending
	case StatusDelivered:
		return from == StatusFulfilled
	case StatusRejected:
		return from == StatusPending || from == StatusApproved
	case StatusCancelled:
		return from == StatusPending
	}
	return false
}
