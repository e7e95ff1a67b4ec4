// Package purchase sources items a CD cannot fulfill from its own stock.
// Finalizing a purchase is the only path by which externally sourced goods
// enter the CD ledger; everything before that is paperwork.
package purchase

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
)

var (
	ErrPurchaseNotFound  = fmt.Errorf("%w: purchase", shared.ErrNotFound)
	ErrQuotationNotFound = fmt.Errorf("%w: quotation", shared.ErrNotFound)
)

// Status is the purchase lifecycle state.
type Status string

const (
	StatusOrderPlaced       Status = "order_placed"
	StatusQuoting           Status = "quoting"
	StatusPurchasedAwaiting Status = "purchased_awaiting"
	StatusArrivedAtCD       Status = "arrived_at_cd"
	StatusSent              Status = "sent"
	StatusFinalized         Status = "finalized"
	StatusOrderError        Status = "order_error"
)

// transitions is the closed edge set. order_error is reachable from every
// pre-finalized state; finalized and order_error are terminal.
var transitions = map[Status][]Status{
	StatusOrderPlaced:       {StatusQuoting, StatusOrderError},
	StatusQuoting:           {StatusPurchasedAwaiting, StatusOrderError},
	StatusPurchasedAwaiting: {StatusArrivedAtCD, StatusOrderError},
	StatusArrivedAtCD:       {StatusSent, StatusOrderError},
	StatusSent:              {StatusFinalized, StatusOrderError},
	StatusFinalized:         {},
	StatusOrderError:        {},
}

func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether the edge from -> to exists.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError names a rejected status change.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition %s -> %s not allowed", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return shared.ErrUnauthorizedTransition
}

// Purchase is the aggregate root. TotalValue is kept as the sum of line
// quantity times unit price, recomputed whenever prices change.
type Purchase struct {
	ID          uuid.UUID       `json:"id"`
	Number      string          `json:"number"`
	CDID        uuid.UUID       `json:"cd_id"`
	SupplierID  *uuid.UUID      `json:"supplier_id,omitempty"`
	RequestID   *uuid.UUID      `json:"request_id,omitempty"`
	Status      Status          `json:"status"`
	Notes       string          `json:"notes,omitempty"`
	ErrorReason *string         `json:"error_reason,omitempty"`
	TotalValue  decimal.Decimal `json:"total_value"`
	CreatedBy   uuid.UUID       `json:"created_by"`
	FinalizedAt *time.Time      `json:"finalized_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Item is one purchase line. Prices stay nil until a quotation is chosen or
// a price is set directly.
type Item struct {
	ID         uuid.UUID        `json:"id"`
	PurchaseID uuid.UUID        `json:"purchase_id"`
	ItemID     uuid.UUID        `json:"item_id"`
	Quantity   int64            `json:"quantity"`
	UnitPrice  *decimal.Decimal `json:"unit_price,omitempty"`
	TotalPrice *decimal.Decimal `json:"total_price,omitempty"`
}

// WithItems bundles a purchase with its lines.
type WithItems struct {
	Purchase
	Items []Item `json:"items"`
}

// Quotation solicits supplier pricing for a purchase. Its lines are
// snapshots taken at creation time; editing the purchase afterwards does
// not rewrite them.
type Quotation struct {
	ID         uuid.UUID       `json:"id"`
	PurchaseID uuid.UUID       `json:"purchase_id"`
	SupplierID uuid.UUID       `json:"supplier_id"`
	Chosen     bool            `json:"chosen"`
	TotalValue decimal.Decimal `json:"total_value"`
	CreatedBy  uuid.UUID       `json:"created_by"`
	CreatedAt  time.Time       `json:"created_at"`
}

// QuotationItem is a snapshotted quotation line.
type QuotationItem struct {
	ID          uuid.UUID       `json:"id"`
	QuotationID uuid.UUID       `json:"quotation_id"`
	ItemID      uuid.UUID       `json:"item_id"`
	ItemCode    string          `json:"item_code"`
	ItemName    string          `json:"item_name"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// QuotationWithItems bundles a quotation with its snapshot lines.
type QuotationWithItems struct {
	Quotation
	Items []QuotationItem `json:"items"`
}

// CreateItemInput is one requested purchase line.
type CreateItemInput struct {
	ItemID   uuid.UUID `json:"item_id"`
	Quantity int64     `json:"quantity"`
}

// CreateInput opens a purchase by hand. Review shortfall spawns purchases
// through the request transaction instead.
type CreateInput struct {
	CDID       uuid.UUID         `json:"cd_id"`
	SupplierID *uuid.UUID        `json:"supplier_id,omitempty"`
	RequestID  *uuid.UUID        `json:"request_id,omitempty"`
	Notes      string            `json:"notes"`
	Items      []CreateItemInput `json:"items"`
}

// QuotationPrice is a supplier's offer for one line.
type QuotationPrice struct {
	ItemID    uuid.UUID       `json:"item_id"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// QuotationInput carries a full supplier quotation. Every purchase line
// must be priced.
type QuotationInput struct {
	SupplierID uuid.UUID        `json:"supplier_id"`
	Prices     []QuotationPrice `json:"prices"`
}

// ListFilter narrows purchase listings.
type ListFilter struct {
	CDID      *uuid.UUID
	RequestID *uuid.UUID
	Status    Status
}
