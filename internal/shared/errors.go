package shared

import "errors"

// Error taxonomy bases. Domain packages wrap these with fmt.Errorf("%w: ...")
// or dedicated error types so the HTTP layer can map any failure to a status
// code without knowing concrete types.
var (
	// ErrValidation indicates malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrPermission indicates the actor lacks a capability or location scope.
	ErrPermission = errors.New("permission denied")
	// ErrUnauthorizedTransition indicates a state-machine violation.
	ErrUnauthorizedTransition = errors.New("transition not allowed")
	// ErrInsufficientStock indicates a conditional decrement found too little stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConflict indicates duplicate creation or an idempotent replay.
	ErrConflict = errors.New("conflict")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)
