package idlink

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// SignupPolicy configures validation for new accounts.
type SignupPolicy struct {
	// RequireEmail / RequireUsername / RequirePassword reject blank inputs
	// for the respective fields.
	RequireEmail    bool
	RequireUsername bool
	RequirePassword bool

	// MinPasswordLength defaults to 8 when zero.
	MinPasswordLength int

	// UsernamePattern overrides the default 3-20 chars of
	// letters/digits/underscore/hyphen.
	UsernamePattern *regexp.Regexp
}

var defaultUsernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,20}$`)
var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// DefaultSignupPolicy requires email and password but not a username.
func DefaultSignupPolicy() SignupPolicy {
	return SignupPolicy{RequireEmail: true, RequirePassword: true}
}

// GetMinPasswordLength returns the configured minimum or 8.
func (p SignupPolicy) GetMinPasswordLength() int {
	if p.MinPasswordLength > 0 {
		return p.MinPasswordLength
	}
	return 8
}

// GetUsernamePattern returns the configured pattern or the default.
func (p SignupPolicy) GetUsernamePattern() *regexp.Regexp {
	if p.UsernamePattern != nil {
		return p.UsernamePattern
	}
	return defaultUsernamePattern
}

// SignupRequest is the input for creating a local account.
type SignupRequest struct {
	Username    string
	Email       string
	DisplayName string

	// Credentials supplies the password material, consumed by the
	// CredentialManager and never stored.
	Credentials *CredentialChangeRequest
}

func (r *SignupRequest) password() string {
	if r.Credentials == nil {
		return ""
	}
	if r.Credentials.hasChangePair() {
		return r.Credentials.NewPassword
	}
	return r.Credentials.Password
}

// AccountService is the account lifecycle: signup, profile updates and
// deletion. Updates and deletes are owner-only; the session must be
// authenticated as the target account.
type AccountService struct {
	Store       AccountStore
	Sessions    SessionStore
	Credentials *CredentialManager
	Linker      *Linker

	// Policy defaults to DefaultSignupPolicy when nil.
	Policy *SignupPolicy

	Logger *slog.Logger
}

func (s *AccountService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *AccountService) policy() SignupPolicy {
	if s.Policy != nil {
		return *s.Policy
	}
	return DefaultSignupPolicy()
}

// CreateAccount validates req, builds the account, installs its password
// digest, folds in any PendingIdentity staged on the session and persists
// it. On success the session is logged in as the new account. Unique-field
// collisions surface as *UniqueFieldError straight from the store.
func (s *AccountService) CreateAccount(ctx context.Context, handle string, req *SignupRequest) (*Account, error) {
	if err := s.validateSignup(req); err != nil {
		return nil, err
	}

	draft := &Account{
		ID:          uuid.NewString(),
		Username:    req.Username,
		Email:       req.Email,
		DisplayName: req.DisplayName,
	}
	if draft.Username == "" {
		// Usernames are unique; without one the account id doubles as a
		// stable, collision-free default.
		draft.Username = draft.ID
	}

	if err := s.Credentials.ApplyCreate(draft, req.Credentials); err != nil {
		return nil, err
	}

	sess, err := s.Sessions.Get(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}
	if pending := sess.PendingIdentity(); pending != nil {
		draft.Profiles = append(draft.Profiles, pending.Profile.ToLinkedProfile(time.Now()))
	}

	created, err := s.Store.CreateAccount(ctx, draft)
	if err != nil {
		return nil, err
	}
	s.logger().Info("account created", "account", created.ID, "profiles", len(created.Profiles))

	// Auto-login; this also consumes the pending identity by replacing the
	// session state wholesale.
	if err := s.Linker.LoginLocal(ctx, handle, created); err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateAccount applies field changes and optional credential changes to
// the session's own account. Omitted (blank) fields keep their stored
// values; the password is carried forward unless creds asks for a change.
// A stale write surfaces ErrConcurrentModification for the caller to
// re-read and retry.
func (s *AccountService) UpdateAccount(ctx context.Context, handle string, patch *Account, creds *CredentialChangeRequest) (*Account, error) {
	sess, err := s.Sessions.Get(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}
	if !sess.Authenticated() {
		return nil, ErrNotAuthenticated
	}
	if sess.AccountID != patch.ID {
		return nil, ErrPermissionDenied
	}

	current, err := s.Store.GetAccountByID(ctx, patch.ID)
	if err != nil {
		return nil, err
	}

	merged := current.Clone()
	if patch.Username != "" && patch.Username != current.Username {
		if !s.policy().GetUsernamePattern().MatchString(patch.Username) {
			return nil, NewAuthError(ErrCodeInvalidUsername,
				"Username must be 3-20 characters and contain only letters, numbers, underscores, and hyphens", "username")
		}
		merged.Username = patch.Username
	}
	if patch.Email != "" && patch.Email != current.Email {
		if !emailPattern.MatchString(patch.Email) {
			return nil, NewAuthError(ErrCodeInvalidEmail, "Invalid email format", "email")
		}
		merged.Email = patch.Email
	}
	if patch.DisplayName != "" {
		merged.DisplayName = patch.DisplayName
	}

	if err := s.Credentials.ApplyUpdate(ctx, merged, creds); err != nil {
		return nil, err
	}

	updated, err := s.Store.UpdateAccount(ctx, merged)
	if err != nil {
		return nil, err
	}
	s.logger().Info("account updated", "account", updated.ID)
	return updated, nil
}

// DestroyAccount deletes the session's own account and logs the session
// out.
func (s *AccountService) DestroyAccount(ctx context.Context, handle string, accountID string) error {
	sess, err := s.Sessions.Get(ctx, handle)
	if err != nil {
		return fmt.Errorf("reading session: %w", err)
	}
	if !sess.Authenticated() {
		return ErrNotAuthenticated
	}
	if sess.AccountID != accountID {
		return ErrPermissionDenied
	}

	if err := s.Store.DeleteAccount(ctx, accountID); err != nil {
		return err
	}
	s.logger().Info("account deleted", "account", accountID)
	return s.Sessions.Clear(ctx, handle)
}

// validateSignup checks req against the policy before anything is hashed
// or written.
func (s *AccountService) validateSignup(req *SignupRequest) *AuthError {
	policy := s.policy()

	if policy.RequireUsername && req.Username == "" {
		return NewAuthError(ErrCodeMissingField, "Username is required", "username")
	}
	if policy.RequireEmail && req.Email == "" {
		return NewAuthError(ErrCodeMissingField, "Email is required", "email")
	}
	password := req.password()
	if policy.RequirePassword && password == "" {
		return NewAuthError(ErrCodeMissingField, "Password is required", "password")
	}

	if req.Username != "" && !policy.GetUsernamePattern().MatchString(req.Username) {
		return NewAuthError(ErrCodeInvalidUsername,
			"Username must be 3-20 characters and contain only letters, numbers, underscores, and hyphens", "username")
	}
	if req.Email != "" && !emailPattern.MatchString(req.Email) {
		return NewAuthError(ErrCodeInvalidEmail, "Invalid email format", "email")
	}
	if password != "" && len(password) < policy.GetMinPasswordLength() {
		return NewAuthError(ErrCodeWeakPassword,
			fmt.Sprintf("Password must be at least %d characters", policy.GetMinPasswordLength()), "password")
	}
	return nil
}
