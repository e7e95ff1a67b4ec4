// Package request drives the transfer-request state machine. A request is a
// unit asking its CD for items; eleven statuses and a fixed transition table
// decide what each role may do to it, and only two transitions ever touch a
// ledger: dispatch (CD debit via transit) and the delivery cascade.
package request

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
)

var (
	// ErrRequestNotFound indicates an unknown request id.
	ErrRequestNotFound = errors.New("request: not found")
	// ErrItemNotFound indicates an unknown request item row.
	ErrItemNotFound = errors.New("request: item not found")
)

// Status of a request.
type Status string

const (
	StatusRequested               Status = "requested"
	StatusReviewing               Status = "reviewing"
	StatusApproved                Status = "approved"
	StatusApprovedPendingPurchase Status = "approved_pending_purchase"
	StatusApprovedByUnit          Status = "approved_by_unit"
	StatusPreparing               Status = "preparing"
	StatusSent                    Status = "sent"
	StatusReceived                Status = "received"
	StatusRejected                Status = "rejected"
	StatusCancelled               Status = "cancelled"
	StatusOrderError              Status = "order_error"
)

// IsValid reports whether the status is known.
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether nothing may follow this status.
func (s Status) IsTerminal() bool {
	return s.IsValid() && len(transitions[s]) == 0
}

// transitions is the full edge set of the state machine. An empty slice
// marks a terminal status.
var transitions = map[Status][]Status{
	StatusRequested:               {StatusReviewing, StatusCancelled},
	StatusReviewing:               {StatusApproved, StatusApprovedPendingPurchase, StatusRejected, StatusCancelled},
	StatusApproved:                {StatusApprovedByUnit, StatusPreparing},
	StatusApprovedPendingPurchase: {StatusApproved, StatusOrderError},
	StatusApprovedByUnit:          {StatusPreparing},
	StatusPreparing:               {StatusSent, StatusOrderError},
	StatusSent:                    {StatusReceived},
	StatusReceived:                {},
	StatusRejected:                {},
	StatusCancelled:               {},
	StatusOrderError:              {},
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

// TransitionError reports a forbidden state-machine edge.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition %s -> %s not allowed", e.From, e.To)
}

// Unwrap ties the error into the shared taxonomy.
func (e *TransitionError) Unwrap() error {
	return shared.ErrUnauthorizedTransition
}

// Request is one unit-to-CD transfer request.
type Request struct {
	ID              uuid.UUID  `json:"id"`
	Number          string     `json:"number"`
	UnitID          uuid.UUID  `json:"unit_id"`
	CDID            uuid.UUID  `json:"cd_id"`
	Status          Status     `json:"status"`
	Notes           string     `json:"notes,omitempty"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
	CreatedBy       uuid.UUID  `json:"created_by"`
	ReviewedBy      *uuid.UUID `json:"reviewed_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Item is one requested line. CDStockAvailable freezes what the reviewer saw;
// QuantityApproved stays nil until review.
type Item struct {
	ID                uuid.UUID `json:"id"`
	RequestID         uuid.UUID `json:"request_id"`
	ItemID            uuid.UUID `json:"item_id"`
	QuantityRequested int64     `json:"quantity_requested"`
	QuantityApproved  *int64    `json:"quantity_approved,omitempty"`
	QuantitySent      int64     `json:"quantity_sent"`
	NeedsPurchase     bool      `json:"needs_purchase"`
	CDStockAvailable  *int64    `json:"cd_stock_available,omitempty"`
	HasError          bool      `json:"has_error"`
	ErrorDescription  *string   `json:"error_description,omitempty"`
}

// WithItems bundles a request and its lines.
type WithItems struct {
	Request
	Items []Item `json:"items"`
}

// CreateItemInput is one requested line at creation time.
type CreateItemInput struct {
	ItemID   uuid.UUID `json:"item_id"`
	Quantity int64     `json:"quantity"`
}

// CreateInput opens a request.
type CreateInput struct {
	UnitID uuid.UUID         `json:"unit_id"`
	CDID   uuid.UUID         `json:"cd_id"`
	Notes  string            `json:"notes"`
	Items  []CreateItemInput `json:"items"`
}

// ItemApproval is a reviewer's explicit per-line decision. Lines without an
// approval default to min(requested, available).
type ItemApproval struct {
	ItemID           uuid.UUID `json:"item_id"`
	QuantityApproved int64     `json:"quantity_approved"`
}

// ReviewInput carries the review decisions.
type ReviewInput struct {
	Approvals []ItemApproval `json:"approvals"`
}

// ListFilter narrows request listings.
type ListFilter struct {
	UnitID *uuid.UUID
	CDID   *uuid.UUID
	Status Status
}
