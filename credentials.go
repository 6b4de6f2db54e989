package idlink

import (
	"context"
	"fmt"
)

// CredentialChangeRequest is the ephemeral input describing a password
// create/change attempt. It is consumed entirely within one account
// create/update operation and never stored.
type CredentialChangeRequest struct {
	// AccountID targets an existing account on update. Empty on creation.
	AccountID string

	// Password is the plaintext for a brand-new account (or a direct
	// password overwrite on update, mirroring a create-style submission).
	Password string

	// NewPassword/ConfirmPassword drive a verified password change.
	NewPassword     string
	ConfirmPassword string

	// CurrentPassword, when supplied alongside NewPassword, must verify
	// against the stored digest before the change is accepted.
	CurrentPassword string
}

func (r *CredentialChangeRequest) hasChangePair() bool {
	return r != nil && (r.NewPassword != "" || r.ConfirmPassword != "")
}

// CredentialManager guards every account create/update so PasswordHash is
// always a digest of the intended password: never attacker-supplied raw
// text, never silently blanked by an update that omits password fields.
//
// It is stateless; all inputs arrive as explicit values, which keeps the
// rules unit-testable without a live store on the creation path.
type CredentialManager struct {
	Store  AccountStore
	Hasher Hasher
}

// ApplyCreate installs PasswordHash on a draft account that has never been
// persisted. A draft without any password input stays credential-less
// (federated-only); it can gain local credentials later via ApplyUpdate.
func (m *CredentialManager) ApplyCreate(draft *Account, req *CredentialChangeRequest) error {
	if req == nil {
		return nil
	}
	if req.hasChangePair() {
		if req.NewPassword != req.ConfirmPassword {
			return ErrPasswordConfirmationMismatch
		}
		return m.install(draft, req.NewPassword)
	}
	if req.Password != "" {
		return m.install(draft, req.Password)
	}
	return nil
}

// ApplyUpdate resolves the password material for an update of the account
// identified by req.AccountID (falling back to patch.ID) and installs it on
// patch. Rules, in order:
//
//  1. NewPassword and ConfirmPassword both present but unequal fails with
//     ErrPasswordConfirmationMismatch before anything is read or written.
//  2. Both present and equal: if CurrentPassword is also supplied it must
//     verify against the stored digest (ErrInvalidCurrentPassword on
//     mismatch); then NewPassword is hashed and installed.
//  3. Neither present: the stored digest is carried forward unchanged. An
//     update never nulls out a password by omission.
//  4. A bare plaintext Password (create-style submission) is hashed
//     directly, matching creation semantics.
//
// Any path that needs the existing account and finds none fails with
// ErrAccountNotFound.
func (m *CredentialManager) ApplyUpdate(ctx context.Context, patch *Account, req *CredentialChangeRequest) error {
	id := patch.ID
	if req != nil && req.AccountID != "" {
		id = req.AccountID
	}

	if req.hasChangePair() {
		if req.NewPassword != req.ConfirmPassword {
			return ErrPasswordConfirmationMismatch
		}
		if req.CurrentPassword != "" {
			current, err := m.Store.GetAccountByID(ctx, id)
			if err != nil {
				return err
			}
			if !m.Hasher.Verify(req.CurrentPassword, current.PasswordHash) {
				return ErrInvalidCurrentPassword
			}
		}
		return m.install(patch, req.NewPassword)
	}

	if req != nil && req.Password != "" {
		return m.install(patch, req.Password)
	}

	// No password fields at all: carry the stored digest forward.
	current, err := m.Store.GetAccountByID(ctx, id)
	if err != nil {
		return err
	}
	patch.PasswordHash = current.PasswordHash
	return nil
}

func (m *CredentialManager) install(account *Account, plaintext string) error {
	if plaintext == "" {
		return NewAuthError(ErrCodeMissingField, "Password is required", "password")
	}
	digest, err := m.Hasher.Hash(plaintext)
	if err != nil {
		return fmt.Errorf("hashing new password: %w", err)
	}
	account.PasswordHash = digest
	return nil
}
