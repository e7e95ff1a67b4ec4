// Package stock owns the quantity ledgers. Consuming units and distribution
// centers each have their own partition; every mutation goes through a
// store-enforced conditional statement so concurrent writers never
// read-modify-write their way into lost updates or negative stock.
package stock

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
)

var (
	// ErrRecordNotFound indicates a missing ledger row.
	ErrRecordNotFound = errors.New("stock: record not found")
	// ErrPartitionMismatch indicates a CD-only operation aimed at the unit
	// ledger. It sits in the validation taxonomy so HTTP callers get a 400.
	ErrPartitionMismatch = fmt.Errorf("%w: operation valid only on the cd ledger", shared.ErrValidation)
)

// Partition selects which of the two ledgers an operation targets.
type Partition string

const (
	// PartitionUnit is the consuming-unit ledger.
	PartitionUnit Partition = "unit"
	// PartitionCD is the distribution-center ledger.
	PartitionCD Partition = "cd"
)

// IsValid reports whether the partition is known.
func (p Partition) IsValid() bool {
	return p == PartitionUnit || p == PartitionCD
}

// Key addresses one ledger row.
type Key struct {
	ItemID     uuid.UUID `json:"item_id"`
	LocationID uuid.UUID `json:"location_id"`
}

func (k Key) String() string {
	return k.ItemID.String() + "/" + k.LocationID.String()
}

// Status is derived from quantity against the minimum threshold.
type Status string

const (
	StatusEmpty  Status = "empty"
	StatusLow    Status = "low"
	StatusNormal Status = "normal"
)

// DeriveStatus classifies a quantity. Zero is always empty, even when the
// minimum threshold is zero; equality with the minimum counts as low.
func DeriveStatus(quantity, minQuantity int64) Status {
	switch {
	case quantity == 0:
		return StatusEmpty
	case quantity <= minQuantity:
		return StatusLow
	default:
		return StatusNormal
	}
}

// Record is one ledger row. The price fields are carried only by the CD
// partition; PricePurchaseID attributes the current price to the purchase
// that set it.
type Record struct {
	ItemID          uuid.UUID        `json:"item_id"`
	LocationID      uuid.UUID        `json:"location_id"`
	Partition       Partition        `json:"partition"`
	Quantity        int64            `json:"quantity"`
	MinQuantity     int64            `json:"min_quantity"`
	MaxQuantity     *int64           `json:"max_quantity,omitempty"`
	UnitPrice       *decimal.Decimal `json:"unit_price,omitempty"`
	PriceUpdatedAt  *time.Time       `json:"price_updated_at,omitempty"`
	PricePurchaseID *uuid.UUID       `json:"price_purchase_id,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Key returns the row address.
func (r Record) Key() Key {
	return Key{ItemID: r.ItemID, LocationID: r.LocationID}
}

// Status derives the replenishment status of the row.
func (r Record) Status() Status {
	return DeriveStatus(r.Quantity, r.MinQuantity)
}

// Levels carries the thresholds applied when an upsert creates the row.
type Levels struct {
	MinQuantity int64
	MaxQuantity *int64
}

// StatusCounts aggregates one partition by derived status.
type StatusCounts struct {
	Empty  int64 `json:"empty"`
	Low    int64 `json:"low"`
	Normal int64 `json:"normal"`
}

// InsufficientStockError reports a conditional decrement that found less
// stock than requested.
type InsufficientStockError struct {
	Key       Key
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: available %d, requested %d", e.Available, e.Requested)
}

// Unwrap ties the error into the shared taxonomy.
func (e *InsufficientStockError) Unwrap() error {
	return shared.ErrInsufficientStock
}

// CreateInput registers a ledger row explicitly.
type CreateInput struct {
	Partition   Partition  `json:"partition"`
	ItemID      uuid.UUID  `json:"item_id"`
	LocationID  uuid.UUID  `json:"location_id"`
	Quantity    int64      `json:"quantity"`
	MinQuantity int64      `json:"min_quantity"`
	MaxQuantity *int64     `json:"max_quantity"`
}

// AdjustInput sets an absolute quantity with a reason.
type AdjustInput struct {
	Partition   Partition `json:"partition"`
	ItemID      uuid.UUID `json:"item_id"`
	LocationID  uuid.UUID `json:"location_id"`
	NewQuantity int64     `json:"new_quantity"`
	Reason      string    `json:"reason"`
}

// LevelsInput rewrites the min/max thresholds of a row.
type LevelsInput struct {
	Partition   Partition `json:"partition"`
	ItemID      uuid.UUID `json:"item_id"`
	LocationID  uuid.UUID `json:"location_id"`
	MinQuantity int64     `json:"min_quantity"`
	MaxQuantity *int64    `json:"max_quantity"`
}

// PriceInput sets the CD unit price with attribution.
type PriceInput struct {
	Partition  Partition       `json:"partition"`
	ItemID     uuid.UUID       `json:"item_id"`
	CDID       uuid.UUID       `json:"cd_id"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	PurchaseID *uuid.UUID      `json:"purchase_id"`
}

// ListFilter narrows ledger listings.
type ListFilter struct {
	LocationID *uuid.UUID
	ItemID     *uuid.UUID
	Status     Status
}
