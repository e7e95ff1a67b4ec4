// Package movement keeps the append-only log of every stock change. Rows are
// written inside the same transaction as the ledger mutation they describe
// and are never updated or deleted; replaying the log must reproduce the
// ledgers exactly.
package movement

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies a movement.
type Type string

const (
	// TypeTransfer moves stock from a CD to a consuming unit.
	TypeTransfer Type = "transfer"
	// TypeAdjustment records a manual correction or an initial balance.
	TypeAdjustment Type = "adjustment"
	// TypePurchase brings externally sourced stock into a CD.
	TypePurchase Type = "purchase"
)

// IsValid reports whether the type is known.
func (t Type) IsValid() bool {
	switch t {
	case TypeTransfer, TypeAdjustment, TypePurchase:
		return true
	}
	return false
}

// Movement is one log row. FromLocation is nil for purchases (external
// origin) and for positive adjustments; ToLocation is nil for negative
// adjustments.
type Movement struct {
	ID           int64      `json:"id"`
	ItemID       uuid.UUID  `json:"item_id"`
	FromLocation *uuid.UUID `json:"from_location,omitempty"`
	ToLocation   *uuid.UUID `json:"to_location,omitempty"`
	Quantity     int64      `json:"quantity"`
	Type         Type       `json:"type"`
	Reference    string     `json:"reference,omitempty"`
	ActorID      uuid.UUID  `json:"actor_id"`
	Note         string     `json:"note,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ListFilter narrows log listings.
type ListFilter struct {
	ItemID     *uuid.UUID
	LocationID *uuid.UUID
	Type       Type
	From       time.Time
	To         time.Time
	Page       int
	PerPage    int
}

// Discrepancy is a (item, location) pair whose ledger quantity disagrees
// with the folded movement log.
type Discrepancy struct {
	Partition      string    `json:"partition"`
	ItemID         uuid.UUID `json:"item_id"`
	LocationID     uuid.UUID `json:"location_id"`
	LedgerQuantity int64     `json:"ledger_quantity"`
	ReplayQuantity int64     `json:"replay_quantity"`
}
