// Package transit tracks goods moving from a CD to a consuming unit. A
// transit is born inside the transaction that debited the CD and dies on
// delivery, which credits the unit, writes the transfer movement and, for
// request-driven sends, advances the request once the last sibling lands.
package transit

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
)

var (
	// ErrTransitNotFound indicates an unknown transit id.
	ErrTransitNotFound = errors.New("transit: record not found")
	// ErrAlreadyDelivered rejects a second delivery of the same transit.
	ErrAlreadyDelivered = fmt.Errorf("%w: transit already delivered", shared.ErrConflict)
)

// Status of a transit. Delivered is terminal.
type Status string

const (
	StatusInTransit Status = "in_transit"
	StatusDelivered Status = "delivered"
)

// IsValid reports whether the status is known.
func (s Status) IsValid() bool {
	return s == StatusInTransit || s == StatusDelivered
}

// Transit is one CD-to-unit shipment line.
type Transit struct {
	ID          uuid.UUID  `json:"id"`
	ItemID      uuid.UUID  `json:"item_id"`
	FromCD      uuid.UUID  `json:"from_cd"`
	ToUnit      uuid.UUID  `json:"to_unit"`
	Quantity    int64      `json:"quantity"`
	Status      Status     `json:"status"`
	RequestID   *uuid.UUID `json:"request_id,omitempty"`
	SentBy      uuid.UUID  `json:"sent_by"`
	SentAt      time.Time  `json:"sent_at"`
	ReceivedBy  *uuid.UUID `json:"received_by,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// DispatchInput creates an ad-hoc send outside the request flow.
type DispatchInput struct {
	ItemID   uuid.UUID `json:"item_id"`
	FromCD   uuid.UUID `json:"from_cd"`
	ToUnit   uuid.UUID `json:"to_unit"`
	Quantity int64     `json:"quantity"`
}

// ListFilter narrows transit listings.
type ListFilter struct {
	UnitID    *uuid.UUID
	CDID      *uuid.UUID
	RequestID *uuid.UUID
	Status    Status
}
