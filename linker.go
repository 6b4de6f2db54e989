package idlink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNotAuthenticated is returned for operations that require a logged-in
// session, such as unlinking a provider.
var ErrNotAuthenticated = errors.New("not authenticated")

// LinkStatus classifies the outcome of feeding a resolved identity into the
// linking state machine.
type LinkStatus string

const (
	// StatusLoggedIn means an anonymous session became authenticated.
	StatusLoggedIn LinkStatus = "logged_in"
	// StatusLinked means a new provider profile was attached to the
	// session's account and persisted.
	StatusLinked LinkStatus = "linked"
	// StatusAlreadyLinked means the profile already belonged to the
	// session's account; nothing was mutated.
	StatusAlreadyLinked LinkStatus = "already_linked"
	// StatusPendingSignup means the profile matched no account and no
	// session was authenticated; a PendingIdentity was staged and the
	// caller should steer the user toward account creation.
	StatusPendingSignup LinkStatus = "pending_signup"
)

// LinkResult is what the state machine emits on a successful transition.
type LinkResult struct {
	Status  LinkStatus
	Account *Account
	Pending *PendingIdentity
}

// Linker is the identity-linking state machine. Session state is either
// anonymous or authenticated as one account; inputs are resolved local
// credentials, resolved or draft federated profiles, unlink requests and
// logout. Each request is an independent unit of work: no lock is held
// across a store round-trip, and a stale write detected by the store is
// retried exactly once against a fresh read.
type Linker struct {
	Accounts AccountStore
	Sessions SessionStore
	Logger   *slog.Logger
}

func (l *Linker) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// LoginLocal transitions the session to Authenticated(account.ID) after the
// Session Authenticator verified local credentials. Any staged
// PendingIdentity is discarded: it belonged to the anonymous browsing
// context, and attaching it to an account it was never shown with would be
// a silent cross-account link.
func (l *Linker) LoginLocal(ctx context.Context, handle string, account *Account) error {
	if err := l.Sessions.Set(ctx, handle, &SessionState{AccountID: account.ID}); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	l.logger().Info("local login", "account", account.ID)
	return nil
}

// HandleFederated feeds a federated resolution into the state machine.
//
// Anonymous sessions: a resolved account logs the session in; a draft
// stages a PendingIdentity and the session stays anonymous.
//
// Authenticated sessions: a resolution to the same account is a no-op
// re-link; a resolution to a different account is an *IdentityConflictError
// (surfaced, never auto-merged); a draft appends the profile to the
// session's account and persists it.
func (l *Linker) HandleFederated(ctx context.Context, handle string, res *Resolution) (*LinkResult, error) {
	sess, err := l.Sessions.Get(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}

	if !sess.Authenticated() {
		if res.Resolved() {
			if err := l.Sessions.Set(ctx, handle, &SessionState{AccountID: res.Account.ID}); err != nil {
				return nil, fmt.Errorf("saving session: %w", err)
			}
			l.logger().Info("federated login", "provider", res.Profile.Provider, "account", res.Account.ID)
			return &LinkResult{Status: StatusLoggedIn, Account: res.Account}, nil
		}

		pending := &PendingIdentity{
			Provider:  res.Profile.Provider,
			Profile:   res.Profile,
			CreatedAt: time.Now(),
		}
		if err := l.Sessions.Set(ctx, handle, &SessionState{Pending: pending}); err != nil {
			return nil, fmt.Errorf("staging pending identity: %w", err)
		}
		l.logger().Info("staged pending identity", "provider", pending.Provider)
		return &LinkResult{Status: StatusPendingSignup, Pending: pending}, nil
	}

	if res.Resolved() {
		if res.Account.ID == sess.AccountID {
			return &LinkResult{Status: StatusAlreadyLinked, Account: res.Account}, nil
		}
		l.logger().Warn("identity conflict",
			"provider", res.Profile.Provider,
			"existing", res.Account.ID,
			"session", sess.AccountID)
		return nil, &IdentityConflictError{
			ExistingAccountID: res.Account.ID,
			SessionAccountID:  sess.AccountID,
		}
	}

	account, err := l.linkProfile(ctx, sess.AccountID, res.Profile)
	if err != nil {
		return nil, err
	}
	return &LinkResult{Status: StatusLinked, Account: account}, nil
}

// linkProfile appends profile to the account's linked profiles and persists
// it. The append and the write commit as one conditional update, so an
// abandoned request never leaves a half-updated account.
func (l *Linker) linkProfile(ctx context.Context, accountID string, profile RawProfile) (*Account, error) {
	account, err := l.updateWithRetry(ctx, accountID, func(a *Account) error {
		if a.HasProfile(profile.Provider, profile.ExternalID) {
			return nil
		}
		a.Profiles = append(a.Profiles, profile.ToLinkedProfile(time.Now()))
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger().Info("linked profile", "provider", profile.Provider, "account", accountID)
	return account, nil
}

// Unlink removes the profile for the given provider from the session's
// account. Unlinking a provider that was never linked fails with
// ErrProfileNotLinked and leaves everything unchanged.
func (l *Linker) Unlink(ctx context.Context, handle string, provider string) (*Account, error) {
	sess, err := l.Sessions.Get(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}
	if !sess.Authenticated() {
		return nil, ErrNotAuthenticated
	}

	account, err := l.updateWithRetry(ctx, sess.AccountID, func(a *Account) error {
		for i, p := range a.Profiles {
			if p.Provider == provider {
				a.Profiles = append(a.Profiles[:i], a.Profiles[i+1:]...)
				return nil
			}
		}
		return ErrProfileNotLinked
	})
	if err != nil {
		return nil, err
	}
	l.logger().Info("unlinked profile", "provider", provider, "account", sess.AccountID)
	return account, nil
}

// Logout transitions any session back to Anonymous, discarding a staged
// PendingIdentity. Logging out an anonymous session is a no-op.
func (l *Linker) Logout(ctx context.Context, handle string) error {
	if err := l.Sessions.Clear(ctx, handle); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

// updateWithRetry reads the account, applies mutate to a clone and writes
// it back conditionally on the version read. A stale write is retried once
// with a fresh read; a second failure surfaces ErrConcurrentModification to
// the caller.
func (l *Linker) updateWithRetry(ctx context.Context, accountID string, mutate func(*Account) error) (*Account, error) {
	for attempt := 0; ; attempt++ {
		current, err := l.Accounts.GetAccountByID(ctx, accountID)
		if err != nil {
			return nil, err
		}
		patch := current.Clone()
		if err := mutate(patch); err != nil {
			return nil, err
		}
		updated, err := l.Accounts.UpdateAccount(ctx, patch)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, ErrConcurrentModification) || attempt >= 1 {
			return nil, err
		}
		l.logger().Debug("stale write, retrying with fresh read", "account", accountID)
	}
}
