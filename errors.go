package idlink

import (
	"errors"
	"fmt"
)

// Error codes attached to AuthError values for validation failures. The
// caller must fix its input; these are never retried automatically.
const (
	ErrCodeMissingField    = "missing_field"
	ErrCodeInvalidEmail    = "invalid_email"
	ErrCodeInvalidUsername = "invalid_username"
	ErrCodeWeakPassword    = "weak_password"
	ErrCodeUnknownProvider = "unknown_provider"
)

// AuthError carries a machine-readable code and the offending field for
// validation failures so transports can render precise form errors.
type AuthError struct {
	Code    string
	Message string
	Field   string
}

func (e *AuthError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAuthError creates a validation failure with a code, message and field.
func NewAuthError(code, message, field string) *AuthError {
	return &AuthError{Code: code, Message: message, Field: field}
}

// Authentication failures. Transports should collapse all of these into a
// generic "invalid credentials" response to avoid identifier enumeration;
// internally the precise kind stays available via errors.Is.
var (
	ErrUnknownIdentifier      = errors.New("unknown identifier")
	ErrInvalidPassword        = errors.New("invalid password")
	ErrInvalidCurrentPassword = errors.New("invalid current password")
)

// IsAuthenticationFailure reports whether err is one of the credential
// verification failures that must look identical at the transport boundary.
func IsAuthenticationFailure(err error) bool {
	return errors.Is(err, ErrUnknownIdentifier) ||
		errors.Is(err, ErrInvalidPassword) ||
		errors.Is(err, ErrInvalidCurrentPassword)
}

// Credential change failures.
var (
	ErrPasswordConfirmationMismatch = errors.New("password confirmation mismatch")
)

// Store-level failures. Every AccountStore implementation reports these
// distinctly so callers can tell "fix your input" from "retry with a fresh
// read" from "someone else owns that value".
var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrProfileNotLinked       = errors.New("profile not linked")
)

// ErrPermissionDenied is returned when a session tries to administer an
// account it does not own.
var ErrPermissionDenied = errors.New("permission denied")

// ErrHashingFailure wraps primitive-level hashing errors. Fatal; never
// triggered by empty input, which callers reject before hashing.
var ErrHashingFailure = errors.New("hashing failure")

// UniqueFieldError reports a write that collided with an existing record on
// a unique field ("username", "email" or "profile").
type UniqueFieldError struct {
	Field string
}

func (e *UniqueFieldError) Error() string {
	return fmt.Sprintf("conflicting unique field: %s", e.Field)
}

// IdentityConflictError is surfaced when an authenticated session presents a
// federated profile already owned by a different account. Policy is to
// reject and surface, never to merge; resolving the conflict is a product
// decision left to the caller.
type IdentityConflictError struct {
	ExistingAccountID string
	SessionAccountID  string
}

func (e *IdentityConflictError) Error() string {
	return fmt.Sprintf("identity conflict: profile belongs to account %s, session is account %s",
		e.ExistingAccountID, e.SessionAccountID)
}

// StoreConsistencyError reports a broken store invariant, e.g. two accounts
// holding the same (provider, externalId) profile. Fatal: surfaced to the
// caller and never auto-repaired.
type StoreConsistencyError struct {
	Provider   string
	ExternalID string
	AccountIDs []string
}

func (e *StoreConsistencyError) Error() string {
	return fmt.Sprintf("store consistency violation: profile %s/%s held by accounts %v",
		e.Provider, e.ExternalID, e.AccountIDs)
}

// IsRetryable reports whether the operation may be retried once with a fresh
// read. Only stale optimistic-lock writes qualify.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
