package idlink

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Provider identifiers. "local" is reserved for username/password
// credentials; the rest are the supported federated providers. Provider
// validation happens here at the resolver boundary, not scattered through
// callers.
const (
	ProviderLocal    = "local"
	ProviderGitHub   = "github"
	ProviderFacebook = "facebook"
	ProviderTwitter  = "twitter"
)

// FederatedProviders returns the enumerated set of supported federated
// provider identifiers.
func FederatedProviders() []string {
	return []string{ProviderGitHub, ProviderFacebook, ProviderTwitter}
}

// IsFederatedProvider reports whether provider is in the supported set.
func IsFederatedProvider(provider string) bool {
	switch provider {
	case ProviderGitHub, ProviderFacebook, ProviderTwitter:
		return true
	}
	return false
}

// ProfileEmail is one email entry reported by a provider.
type ProfileEmail struct {
	Value string `json:"value"`
}

// ProfilePhoto is one photo entry reported by a provider.
type ProfilePhoto struct {
	Value string `json:"value"`
}

// RawProfile is the profile object returned by a provider-authentication
// primitive. This core never performs the handshake itself; adapters under
// providers/ produce these.
type RawProfile struct {
	Provider    string         `json:"provider"`
	ExternalID  string         `json:"external_id"`
	Username    string         `json:"username,omitempty"`
	DisplayName string         `json:"display_name,omitempty"`
	Emails      []ProfileEmail `json:"emails,omitempty"`
	Photos      []ProfilePhoto `json:"photos,omitempty"`

	// Raw carries the provider's unparsed payload. It is stripped before a
	// profile is attached to an account.
	Raw map[string]any `json:"-"`
}

// PrimaryEmail returns the first provider-supplied email, or "".
func (p *RawProfile) PrimaryEmail() string {
	if len(p.Emails) > 0 {
		return p.Emails[0].Value
	}
	return ""
}

// ToLinkedProfile converts the raw profile to the persistent form, dropping
// the provider-internal Raw payload.
func (p *RawProfile) ToLinkedProfile(now time.Time) LinkedProfile {
	out := LinkedProfile{
		Provider:    p.Provider,
		ExternalID:  p.ExternalID,
		DisplayName: p.DisplayName,
		LinkedAt:    now,
	}
	for _, e := range p.Emails {
		out.Emails = append(out.Emails, e.Value)
	}
	for _, ph := range p.Photos {
		out.Photos = append(out.Photos, ph.Value)
	}
	return out
}

// Resolution is the outcome of resolving a raw federated profile: either an
// existing Account that already holds the profile, or an unpersisted Draft
// pre-filled from it. Whether the draft ever gets persisted is the
// Linker's decision, not the resolver's.
type Resolution struct {
	Account *Account
	Draft   *Account
	Profile RawProfile
}

// Resolved reports whether an existing account holds the profile.
func (r *Resolution) Resolved() bool { return r.Account != nil }

// ProfileResolver finds the account behind a federated profile or
// synthesizes a draft for one that was never seen before.
type ProfileResolver struct {
	Store  AccountStore
	Logger *slog.Logger
}

func (r *ProfileResolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Resolve looks up the account holding (profile.Provider,
// profile.ExternalID). Exactly one match is an invariant; a
// *StoreConsistencyError from the store is fatal and passed through
// untouched. No match synthesizes a draft account: email from the first
// provider-supplied email, username and display name from the profile, and
// the stripped profile as the sole linked profile.
func (r *ProfileResolver) Resolve(ctx context.Context, profile RawProfile) (*Resolution, error) {
	if !IsFederatedProvider(profile.Provider) {
		return nil, NewAuthError(ErrCodeUnknownProvider, "unsupported provider: "+profile.Provider, "provider")
	}
	if profile.ExternalID == "" {
		return nil, NewAuthError(ErrCodeMissingField, "provider profile has no external id", "external_id")
	}

	account, err := r.Store.GetAccountByLinkedProfile(ctx, profile.Provider, profile.ExternalID)
	if err == nil {
		return &Resolution{Account: account, Profile: profile}, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		var sce *StoreConsistencyError
		if errors.As(err, &sce) {
			r.logger().Error("linked profile held by multiple accounts",
				"provider", sce.Provider, "external_id", sce.ExternalID, "accounts", sce.AccountIDs)
		}
		return nil, err
	}

	now := time.Now()
	draft := &Account{
		Email:       profile.PrimaryEmail(),
		Username:    profile.Username,
		DisplayName: profile.DisplayName,
		Profiles:    []LinkedProfile{profile.ToLinkedProfile(now)},
	}
	return &Resolution{Draft: draft, Profile: profile}, nil
}
