package idlink

import "context"

// AccountStore is the persistence contract for Account records. The core
// never talks to a database directly; implementations live under stores/.
//
// Implementations must report the distinct error kinds declared in this
// package: ErrAccountNotFound, *UniqueFieldError, ErrConcurrentModification
// and *StoreConsistencyError. Uniqueness of username, email and
// (provider, externalId) must be enforced atomically by the store itself
// (unique index or equivalent), never by check-then-act in the caller, so
// that two concurrent writers cannot both claim the same value.
type AccountStore interface {
	// GetAccountByID retrieves an account by its immutable id.
	GetAccountByID(ctx context.Context, id string) (*Account, error)

	// GetAccountByIdentifier retrieves an account whose username or email
	// equals the identifier (case-insensitive).
	GetAccountByIdentifier(ctx context.Context, identifier string) (*Account, error)

	// GetAccountByLinkedProfile retrieves the account holding the profile
	// (provider, externalID). At most one account may hold it; a store that
	// finds more than one must return *StoreConsistencyError.
	GetAccountByLinkedProfile(ctx context.Context, provider, externalID string) (*Account, error)

	// CreateAccount persists a draft and returns the stored record with
	// Version set. The draft's ID must already be assigned.
	CreateAccount(ctx context.Context, draft *Account) (*Account, error)

	// UpdateAccount persists a modified account conditional on its Version
	// matching the stored record, and returns the record with the bumped
	// Version. A stale Version yields ErrConcurrentModification.
	UpdateAccount(ctx context.Context, account *Account) (*Account, error)

	// DeleteAccount removes the account and all of its linked profiles.
	DeleteAccount(ctx context.Context, id string) error
}

// SessionStore holds per-session authentication state keyed by a
// caller-supplied opaque handle. The transport layer owns handle issuance
// (cookies, tokens); this core only reads and writes state under a handle.
//
// A missing handle is not an error: Get returns an empty (anonymous) state.
type SessionStore interface {
	Get(ctx context.Context, handle string) (*SessionState, error)
	Set(ctx context.Context, handle string, state *SessionState) error
	Clear(ctx context.Context, handle string) error
}
