package rbac

import (
	"github.com/google/uuid"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
)

// matrix is the single source of truth for what each role may do. Location
// scoping (an operator only reaching their own unit or CD) is enforced by
// the services on top of these grants via shared.Actor.CanAccessLocation.
var matrix = map[shared.Role]Capabilities{
	shared.RoleAdmin: newCapabilities(
		CapCatalogView, CapCatalogWrite,
		CapStockView, CapStockAdjust, CapStockLevels, CapStockPrice,
		CapMovementView, CapMovementReconcile,
		CapRequestView, CapRequestCreate, CapRequestReview, CapRequestDispatch,
		CapRequestCancel, CapRequestAcknowledge,
		CapTransitView, CapTransitCreate, CapTransitDeliver,
		CapPurchaseView, CapPurchaseManage, CapPurchaseDecide, CapPurchaseFinalize,
		CapAuditView, CapUsersManage, CapDashboardView,
	),
	shared.RoleManager: newCapabilities(
		CapCatalogView, CapCatalogWrite,
		CapStockView, CapStockAdjust, CapStockLevels, CapStockPrice,
		CapMovementView, CapMovementReconcile,
		CapRequestView, CapRequestCreate, CapRequestReview, CapRequestDispatch,
		CapRequestCancel, CapRequestAcknowledge,
		CapTransitView, CapTransitCreate, CapTransitDeliver,
		CapPurchaseView, CapPurchaseManage, CapPurchaseDecide, CapPurchaseFinalize,
		CapAuditView, CapDashboardView,
	),
	shared.RoleUnitOperator: newCapabilities(
		CapCatalogView,
		CapStockView, CapStockAdjust, CapStockLevels,
		CapMovementView,
		CapRequestView, CapRequestCreate, CapRequestCancel, CapRequestAcknowledge,
		CapTransitView, CapTransitDeliver,
		CapDashboardView,
	),
	shared.RoleCDOperator: newCapabilities(
		CapCatalogView,
		CapStockView, CapStockAdjust, CapStockLevels, CapStockPrice,
		CapMovementView,
		CapRequestView, CapRequestReview, CapRequestDispatch,
		CapTransitView, CapTransitCreate,
		CapPurchaseView, CapPurchaseManage, CapPurchaseFinalize,
		CapDashboardView,
	),
	shared.RoleFinanceOperator: newCapabilities(
		CapCatalogView,
		CapStockView,
		CapMovementView,
		CapRequestView,
		CapTransitView,
		CapPurchaseView, CapPurchaseDecide,
		CapAuditView, CapDashboardView,
	),
}

// For returns the capability set of a role. Unknown roles get an empty set.
func For(role shared.Role) Capabilities {
	return matrix[role]
}

// Allows reports whether the role grants the capability.
func Allows(role shared.Role, cap Capability) bool {
	return matrix[role].Has(cap)
}

// Check returns a PermissionError unless the actor's role grants the capability.
func Check(actor shared.Actor, cap Capability) error {
	if Allows(actor.Role, cap) {
		return nil
	}
	return &PermissionError{Role: actor.Role, Capability: cap}
}

// CheckLocation returns a PermissionError unless the actor may operate on the
// given location's rows.
func CheckLocation(actor shared.Actor, locationID uuid.UUID) error {
	if actor.CanAccessLocation(locationID) {
		return nil
	}
	return &PermissionError{Role: actor.Role, Reason: "location out of scope"}
}
