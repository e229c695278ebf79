// Package domain holds the core supply chain types shared by the
// repository, allocation and service layers.
package domain

import (
	"fmt"

	"github.com/pharmflow/pharmflow-backend/pkg/errors"
)

// LocationKind identifies which tier of the supply chain holds stock.
type LocationKind string

const (
	LocationSupplier   LocationKind = "supplier"
	LocationWarehouse  LocationKind = "warehouse"
	LocationPharmacy   LocationKind = "pharmacy"
	LocationDepartment LocationKind = "department"
)

// Valid reports whether the kind is one of the known tiers.
func (k LocationKind) Valid() bool {
	switch k {
	case LocationSupplier, LocationWarehouse, LocationPharmacy, LocationDepartment:
		return true
	}
	return false
}

// Location is a tagged holding location: exactly one tier identifier. The
// tag+id pair replaces the legacy scheme of several nullable foreign keys
// whose mutual exclusivity was only a convention.
type Location struct {
	Kind LocationKind `json:"kind" db:"location_kind"`
	ID   string       `json:"id" db:"location_id"`
}

// NewLocation builds a location, enforcing the exactly-one-identifier
// invariant at construction.
func NewLocation(kind LocationKind, id string) (Location, error) {
	if !kind.Valid() {
		return Location{}, errors.InvariantViolation(fmt.Sprintf("unknown location kind %q", kind))
	}
	if id == "" {
		return Location{}, errors.InvariantViolation("location id must not be empty")
	}
	return Location{Kind: kind, ID: id}, nil
}

// SupplierLocation returns a supplier-tier location.
func SupplierLocation(id string) Location {
	return Location{Kind: LocationSupplier, ID: id}
}

// WarehouseLocation returns a warehouse-tier location.
func WarehouseLocation(id string) Location {
	return Location{Kind: LocationWarehouse, ID: id}
}

// PharmacyLocation returns a pharmacy-tier location.
func PharmacyLocation(id string) Location {
	return Location{Kind: LocationPharmacy, ID: id}
}

// DepartmentLocation returns a department-tier location.
func DepartmentLocation(id string) Location {
	return Location{Kind: LocationDepartment, ID: id}
}

// Equal reports whether two locations identify the same holder.
func (l Location) Equal(other Location) bool {
	return l.Kind == other.Kind && l.ID == other.ID
}

// IsZero reports whether the location is unset.
func (l Location) IsZero() bool {
	return l.Kind == "" && l.ID == ""
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%s", l.Kind, l.ID)
}
