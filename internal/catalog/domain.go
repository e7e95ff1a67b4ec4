// Package catalog holds the reference data the ledgers point at: items,
// organizational units (consuming units and distribution centers) and
// suppliers. Reference rows are never hard-deleted once the ledgers mention
// them; deactivation is the only removal.
package catalog

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrCodeTaken indicates a duplicate item/unit/supplier code.
	ErrCodeTaken = errors.New("catalog: code already in use")
	// ErrInactive indicates the referenced row is deactivated.
	ErrInactive = errors.New("catalog: record inactive")
)

// Item represents a supply item (consumables, instruments).
type Item struct {
	ID          uuid.UUID `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	UnitMeasure string    `json:"unit_measure"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// OrgUnit represents a location in the network. A distribution center is an
// OrgUnit with IsCD set; consuming units may name their default supplying CD.
type OrgUnit struct {
	ID        uuid.UUID  `json:"id"`
	Code      string     `json:"code"`
	Name      string     `json:"name"`
	Address   string     `json:"address"`
	IsCD      bool       `json:"is_cd"`
	CDID      *uuid.UUID `json:"cd_id,omitempty"`
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Supplier represents an external vendor quoted during purchases.
type Supplier struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CNPJ      string    `json:"cnpj"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ItemFilter narrows item listings.
type ItemFilter struct {
	Search   string
	Category string
	Active   *bool
}

// UnitFilter narrows org unit listings.
type UnitFilter struct {
	IsCD   *bool
	Active *bool
}
