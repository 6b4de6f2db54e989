// Package idlink is an embeddable identity core for applications that let
// one person sign in with a password and any number of federated providers,
// all funneling into a single account.
//
// # Architecture
//
// The package is organized around a few small collaborators:
//
//   - Hasher / BcryptHasher: one-way password digests.
//   - AccountStore: persistence with store-enforced uniqueness and
//     version-conditional updates. Implementations live under stores/.
//   - SessionStore: per-session authentication state keyed by an opaque
//     handle. Implementations live under sessions/.
//   - CredentialManager: the only code path that turns plaintext passwords
//     into stored digests.
//   - ProfileResolver: maps a provider profile to the owning account or a
//     draft for a brand-new identity.
//   - Linker: the state machine deciding login vs link vs conflict vs
//     pending signup.
//   - Authenticator / AccountService: local login and the account
//     lifecycle.
//
// Provider handshakes are out of scope for the core; adapters under
// providers/ perform the OAuth2 dance and hand back a RawProfile. An HTTP
// binding under web/ wires everything to routes.
//
// # Basic Usage
//
//	store := fs.NewAccountStore(dir)
//	sessions := sessions.NewMemoryStore()
//	hasher := &idlink.BcryptHasher{}
//	linker := &idlink.Linker{Accounts: store, Sessions: sessions}
//	auth := &idlink.Authenticator{Store: store, Hasher: hasher, Linker: linker}
//
//	account, err := auth.AuthenticateLocal(ctx, handle, "alice@example.com", password)
//
// # Security
//
// Plaintext passwords exist only inside a single call frame; accounts carry
// digests only and PasswordHash is excluded from JSON. Identity conflicts
// (a profile owned by another account) are surfaced, never merged. Stores
// enforce uniqueness of usernames, emails and (provider, external id)
// pairs; duplicate profile ownership is reported as a consistency
// violation rather than papered over.
//
// # Testing
//
// Collaborators are interfaces with in-memory and filesystem
// implementations, so the whole flow runs in unit tests without a network
// or a database.
package idlink
