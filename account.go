package idlink

import (
	"slices"
	"strings"
	"time"
)

// Account is the durable identity record. A person owns exactly one Account
// regardless of how many ways they can prove who they are: a local
// username/password credential, one or more linked provider profiles, or both.
type Account struct {
	// ID is assigned at creation and never changes.
	ID string `json:"id"`

	// Username is unique across all accounts (case-insensitively). If the
	// caller never supplies one it is auto-assigned to the account ID.
	// Original case is preserved for display.
	Username string `json:"username"`

	// Email is unique across all accounts and required.
	Email string `json:"email"`

	DisplayName string `json:"display_name,omitempty"`

	// PasswordHash is the bcrypt digest of the current password. Empty for
	// accounts that only authenticate through linked providers. Never
	// serialized to any external representation; only the Hasher may
	// produce values stored here.
	PasswordHash string `json:"-"`

	// Profiles holds the linked provider profiles in link order.
	Profiles []LinkedProfile `json:"profiles"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version supports optimistic locking at the store. Stores reject an
	// update whose Version does not match the stored record.
	Version int `json:"version"`
}

// LinkedProfile is a federated identity attached to an Account. The pair
// (Provider, ExternalID) is unique across the whole system; the store
// enforces this as an atomic constraint.
type LinkedProfile struct {
	Provider    string    `json:"provider"`
	ExternalID  string    `json:"external_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Emails      []string  `json:"emails,omitempty"`
	Photos      []string  `json:"photos,omitempty"`
	LinkedAt    time.Time `json:"linked_at"`
}

// ProfileFor returns the linked profile for the given provider, if any.
func (a *Account) ProfileFor(provider string) (LinkedProfile, bool) {
	for _, p := range a.Profiles {
		if p.Provider == provider {
			return p, true
		}
	}
	return LinkedProfile{}, false
}

// HasProfile reports whether the account holds a profile matching
// (provider, externalID).
func (a *Account) HasProfile(provider, externalID string) bool {
	for _, p := range a.Profiles {
		if p.Provider == provider && p.ExternalID == externalID {
			return true
		}
	}
	return false
}

// HasLocalCredentials reports whether a password has ever been installed.
func (a *Account) HasLocalCredentials() bool {
	return a.PasswordHash != ""
}

// Clone returns a deep copy so multi-step mutations never touch a record
// shared with other callers before the store commits them.
func (a *Account) Clone() *Account {
	out := *a
	out.Profiles = slices.Clone(a.Profiles)
	for i := range out.Profiles {
		out.Profiles[i].Emails = slices.Clone(out.Profiles[i].Emails)
		out.Profiles[i].Photos = slices.Clone(out.Profiles[i].Photos)
	}
	return &out
}

// NormalizeIdentifier lowercases a username or email for uniqueness checks
// and lookups. Display values keep their original case.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// PendingIdentity is a session-scoped draft for a federated profile that
// matched no existing Account while nobody was logged in. It is consumed by
// the next successful account creation in the same session and expires with
// the session. It is never written to the Account Store.
type PendingIdentity struct {
	Provider  string     `json:"provider"`
	Profile   RawProfile `json:"profile"`
	CreatedAt time.Time  `json:"created_at"`
}
