package idlink

import (
	"context"
	"errors"
	"log/slog"
)

// Authenticator verifies local credentials and drives the session through
// the Linker. It is the only component that ever sees a login plaintext.
type Authenticator struct {
	Store  AccountStore
	Hasher Hasher
	Linker *Linker
	Logger *slog.Logger
}

func (a *Authenticator) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// AuthenticateLocal verifies identifier/password and, on success, logs the
// session in. The identifier matches either username or email. Unknown
// identifiers fail with ErrUnknownIdentifier and a wrong password with
// ErrInvalidPassword; callers that must not leak which one happened can
// collapse both via IsAuthenticationFailure. An account that never set a
// password (federated-only) fails the password check like any other
// mismatch.
func (a *Authenticator) AuthenticateLocal(ctx context.Context, handle, identifier, password string) (*Account, error) {
	account, err := a.Store.GetAccountByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrUnknownIdentifier
		}
		return nil, err
	}

	if !a.Hasher.Verify(password, account.PasswordHash) {
		a.logger().Info("password verification failed", "account", account.ID)
		return nil, ErrInvalidPassword
	}

	a.maybeUpgradeDigest(ctx, account, password)

	if err := a.Linker.LoginLocal(ctx, handle, account); err != nil {
		return nil, err
	}
	return account, nil
}

// maybeUpgradeDigest re-hashes the just-verified password when the stored
// digest is below the configured work factor. Best effort: a concurrent
// update or store error only skips the upgrade, the login already
// succeeded.
func (a *Authenticator) maybeUpgradeDigest(ctx context.Context, account *Account, password string) {
	rh, ok := a.Hasher.(interface{ NeedsRehash(string) bool })
	if !ok || !rh.NeedsRehash(account.PasswordHash) {
		return
	}
	digest, err := a.Hasher.Hash(password)
	if err != nil {
		return
	}
	patch := account.Clone()
	patch.PasswordHash = digest
	updated, err := a.Store.UpdateAccount(ctx, patch)
	if err != nil {
		a.logger().Debug("digest upgrade skipped", "account", account.ID, "err", err)
		return
	}
	*account = *updated
}

// Logout clears the session. Safe to call on anonymous sessions.
func (a *Authenticator) Logout(ctx context.Context, handle string) error {
	return a.Linker.Logout(ctx, handle)
}
