package idlink

import (
	"context"
	"errors"
	"testing"
)

func newTestCredentialManager(t *testing.T) (*CredentialManager, *memAccountStore) {
	t.Helper()
	store := newMemAccountStore()
	return &CredentialManager{Store: store, Hasher: testHasher()}, store
}

func TestApplyCreateBarePassword(t *testing.T) {
	m, _ := newTestCredentialManager(t)
	draft := &Account{ID: "u1", Email: "a@example.com"}

	if err := m.ApplyCreate(draft, &CredentialChangeRequest{Password: "supersecret"}); err != nil {
		t.Fatalf("ApplyCreate failed: %v", err)
	}
	if draft.PasswordHash == "" || draft.PasswordHash == "supersecret" {
		t.Fatalf("expected a digest, got %q", draft.PasswordHash)
	}
	if !m.Hasher.Verify("supersecret", draft.PasswordHash) {
		t.Errorf("installed digest does not verify")
	}
}

func TestApplyCreateChangePair(t *testing.T) {
	m, _ := newTestCredentialManager(t)

	draft := &Account{ID: "u1"}
	err := m.ApplyCreate(draft, &CredentialChangeRequest{NewPassword: "one", ConfirmPassword: "two"})
	if !errors.Is(err, ErrPasswordConfirmationMismatch) {
		t.Fatalf("expected confirmation mismatch, got %v", err)
	}
	if draft.PasswordHash != "" {
		t.Errorf("mismatch must not install a digest")
	}

	if err := m.ApplyCreate(draft, &CredentialChangeRequest{NewPassword: "samepass", ConfirmPassword: "samepass"}); err != nil {
		t.Fatalf("ApplyCreate failed: %v", err)
	}
	if !m.Hasher.Verify("samepass", draft.PasswordHash) {
		t.Errorf("installed digest does not verify")
	}
}

func TestApplyCreateWithoutPassword(t *testing.T) {
	m, _ := newTestCredentialManager(t)

	draft := &Account{ID: "u1"}
	if err := m.ApplyCreate(draft, nil); err != nil {
		t.Fatalf("ApplyCreate(nil) failed: %v", err)
	}
	if err := m.ApplyCreate(draft, &CredentialChangeRequest{}); err != nil {
		t.Fatalf("ApplyCreate(empty) failed: %v", err)
	}
	if draft.HasLocalCredentials() {
		t.Errorf("draft without password input must stay credential-less")
	}
}

func TestApplyUpdateCarriesDigestForward(t *testing.T) {
	m, store := newTestCredentialManager(t)
	digest, _ := m.Hasher.Hash("original-pass")
	stored, err := store.CreateAccount(context.Background(), &Account{
		ID: "u1", Username: "alice", Email: "alice@example.com", PasswordHash: digest,
	})
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	patch := stored.Clone()
	patch.DisplayName = "Alice"
	patch.PasswordHash = ""
	if err := m.ApplyUpdate(context.Background(), patch, &CredentialChangeRequest{AccountID: "u1"}); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}
	if patch.PasswordHash != digest {
		t.Errorf("update without password fields must carry the stored digest forward")
	}
}

func TestApplyUpdateVerifiedChange(t *testing.T) {
	m, store := newTestCredentialManager(t)
	digest, _ := m.Hasher.Hash("old-password")
	stored, _ := store.CreateAccount(context.Background(), &Account{
		ID: "u1", Username: "alice", Email: "alice@example.com", PasswordHash: digest,
	})

	patch := stored.Clone()
	err := m.ApplyUpdate(context.Background(), patch, &CredentialChangeRequest{
		AccountID:       "u1",
		NewPassword:     "new-password",
		ConfirmPassword: "new-password",
		CurrentPassword: "wrong-old",
	})
	if !errors.Is(err, ErrInvalidCurrentPassword) {
		t.Fatalf("expected ErrInvalidCurrentPassword, got %v", err)
	}

	err = m.ApplyUpdate(context.Background(), patch, &CredentialChangeRequest{
		AccountID:       "u1",
		NewPassword:     "new-password",
		ConfirmPassword: "new-password",
		CurrentPassword: "old-password",
	})
	if err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}
	if !m.Hasher.Verify("new-password", patch.PasswordHash) {
		t.Errorf("new password not installed")
	}
}

func TestApplyUpdateMismatchFailsBeforeVerification(t *testing.T) {
	m, _ := newTestCredentialManager(t)
	// No account in the store at all: the mismatch must fail before any
	// read happens.
	patch := &Account{ID: "missing"}
	err := m.ApplyUpdate(context.Background(), patch, &CredentialChangeRequest{
		AccountID:       "missing",
		NewPassword:     "one",
		ConfirmPassword: "two",
		CurrentPassword: "whatever",
	})
	if !errors.Is(err, ErrPasswordConfirmationMismatch) {
		t.Fatalf("expected confirmation mismatch, got %v", err)
	}
}

func TestApplyUpdateBarePasswordOverwrites(t *testing.T) {
	m, store := newTestCredentialManager(t)
	digest, _ := m.Hasher.Hash("old-password")
	stored, _ := store.CreateAccount(context.Background(), &Account{
		ID: "u1", Username: "alice", Email: "alice@example.com", PasswordHash: digest,
	})

	patch := stored.Clone()
	if err := m.ApplyUpdate(context.Background(), patch, &CredentialChangeRequest{AccountID: "u1", Password: "direct-set"}); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}
	if !m.Hasher.Verify("direct-set", patch.PasswordHash) {
		t.Errorf("bare password was not installed")
	}
}
