// Package users implements account administration: listing, creation, role
// and affiliation changes, activation toggles and password management.
package users

import (
	"time"

	"github.com/google/uuid"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
)

// User represents a managed account. PasswordHash never leaves the package.
type User struct {
	ID        uuid.UUID   `json:"id"`
	Email     string      `json:"email"`
	Name      string      `json:"name"`
	Role      shared.Role `json:"role"`
	UnitID    *uuid.UUID  `json:"unit_id,omitempty"`
	IsActive  bool        `json:"is_active"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`

	PasswordHash string `json:"-"`
}

// CreateInput carries the fields for a new account.
type CreateInput struct {
	Email    string      `json:"email" validate:"required,email"`
	Name     string      `json:"name" validate:"required,min=2"`
	Password string      `json:"password" validate:"required,min=8"`
	Role     shared.Role `json:"role" validate:"required"`
	UnitID   *uuid.UUID  `json:"unit_id"`
}

// UpdateInput carries mutable account fields.
type UpdateInput struct {
	Name   string      `json:"name" validate:"required,min=2"`
	Role   shared.Role `json:"role" validate:"required"`
	UnitID *uuid.UUID  `json:"unit_id"`
}

// ChangePasswordInput is the self-service password change payload.
type ChangePasswordInput struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}
