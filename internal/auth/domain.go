// Package auth owns the authentication boundary: credentials, sessions and
// the resolution of a session into the shared.Actor every core operation
// receives. The ledger modules never see anything from this package.
package auth

import (
	"time"

	"github.com/google/uuid"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
)

// User represents an account that can authenticate.
type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	PasswordHash string
	Role         shared.Role
	// UnitID is the home location for unit/CD scoped roles. Nil for global roles.
	UnitID    *uuid.UUID
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Actor converts the account into the identity object passed to services.
func (u User) Actor() shared.Actor {
	return shared.Actor{UserID: u.ID, Name: u.Name, Role: u.Role, UnitID: u.UnitID}
}
