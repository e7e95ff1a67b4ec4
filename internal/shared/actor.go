package shared

import "github.com/google/uuid"

// Role identifies one of the five operating roles.
type Role string

const (
	// RoleAdmin has every capability across all locations.
	RoleAdmin Role = "admin"
	// RoleManager has every operational capability across all locations.
	RoleManager Role = "manager"
	// RoleUnitOperator works inside a single consuming unit.
	RoleUnitOperator Role = "unit_operator"
	// RoleCDOperator works inside a single distribution center.
	RoleCDOperator Role = "cd_operator"
	// RoleFinanceOperator handles quotations and purchase decisions network-wide.
	RoleFinanceOperator Role = "finance_operator"
)

// IsValid reports whether the role is one of the known five.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleUnitOperator, RoleCDOperator, RoleFinanceOperator:
		return true
	}
	return false
}

// IsGlobal reports whether the role sees rows of every location.
func (r Role) IsGlobal() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleFinanceOperator:
		return true
	}
	return false
}

// Actor is the authenticated identity every operation receives explicitly.
// It is resolved once per request from the session user and carried through
// context; services never consult ambient user state.
type Actor struct {
	UserID uuid.UUID
	Name   string
	Role   Role
	// UnitID is the actor's home location. Nil for global roles.
	UnitID *uuid.UUID
}

// CanAccessLocation reports whether the actor may operate on rows belonging
// to the given unit or CD.
func (a Actor) CanAccessLocation(locationID uuid.UUID) bool {
	if a.Role.IsGlobal() {
		return true
	}
	return a.UnitID != nil && *a.UnitID == locationID
}
