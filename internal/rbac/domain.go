// Package rbac maps the five operating roles onto capability sets. The
// mapping is a fixed in-memory table; authorization decisions never touch
// the database.
package rbac

import (
	"fmt"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
)

// Capability represents an atomic operation a role may perform.
type Capability string

const (
	CapCatalogView  Capability = "catalog.view"
	CapCatalogWrite Capability = "catalog.write"

	CapStockView   Capability = "stock.view"
	CapStockAdjust Capability = "stock.adjust"
	CapStockLevels Capability = "stock.levels"
	CapStockPrice  Capability = "stock.price"

	CapMovementView      Capability = "movement.view"
	CapMovementReconcile Capability = "movement.reconcile"

	CapRequestView        Capability = "request.view"
	CapRequestCreate      Capability = "request.create"
	CapRequestReview      Capability = "request.review"
	CapRequestDispatch    Capability = "request.dispatch"
	CapRequestCancel      Capability = "request.cancel"
	CapRequestAcknowledge Capability = "request.acknowledge"

	CapTransitView    Capability = "transit.view"
	CapTransitCreate  Capability = "transit.create"
	CapTransitDeliver Capability = "transit.deliver"

	CapPurchaseView     Capability = "purchase.view"
	CapPurchaseManage   Capability = "purchase.manage"
	CapPurchaseDecide   Capability = "purchase.decide"
	CapPurchaseFinalize Capability = "purchase.finalize"

	CapAuditView     Capability = "audit.view"
	CapUsersManage   Capability = "users.manage"
	CapDashboardView Capability = "dashboard.view"
)

// Capabilities is an immutable set of capabilities granted to a role.
type Capabilities struct {
	caps map[Capability]struct{}
}

func newCapabilities(caps ...Capability) Capabilities {
	set := make(map[Capability]struct{}, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return Capabilities{caps: set}
}

// Has reports whether the set grants the capability.
func (c Capabilities) Has(cap Capability) bool {
	_, ok := c.caps[cap]
	return ok
}

// List returns the granted capabilities, unordered.
func (c Capabilities) List() []Capability {
	out := make([]Capability, 0, len(c.caps))
	for cap := range c.caps {
		out = append(out, cap)
	}
	return out
}

// PermissionError reports a missing capability or location scope.
type PermissionError struct {
	Role       shared.Role
	Capability Capability
	Reason     string
}

func (e *PermissionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("permission denied: %s", e.Reason)
	}
	return fmt.Sprintf("permission denied: role %s lacks %s", e.Role, e.Capability)
}

// Unwrap ties PermissionError into the shared taxonomy.
func (e *PermissionError) Unwrap() error {
	return shared.ErrPermission
}
