// Package audit is the read side of the audit trail. Writing happens at the
// mutation sites through shared.AuditLogger; this package serves compliance
// review: a filtered timeline and CSV export. Business logic never consults
// audit data.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Entry is one audit row. Before and After are the entity snapshots around
// the mutation; either may be absent.
type Entry struct {
	ID        int64           `json:"id"`
	ActorID   uuid.UUID       `json:"actor_id"`
	ActorName string          `json:"actor_name"`
	Action    string          `json:"action"`
	Entity    string          `json:"entity"`
	EntityID  string          `json:"entity_id"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
	At        time.Time       `json:"at"`
}

// Filters narrows the timeline. Zero times mean an open bound; the handler
// fills sensible defaults before calling the service.
type Filters struct {
	From     time.Time
	To       time.Time
	Actor    string
	Entity   string
	EntityID string
	Action   string
	Page     int
	PageSize int
}

// PagingInfo reports the window position. HasNext comes from fetching one
// row past the page.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result is one timeline page.
type Result struct {
	Entries []Entry    `json:"entries"`
	Paging  PagingInfo `json:"paging"`
}
