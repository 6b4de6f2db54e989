package idlink

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResolveUnknownProvider(t *testing.T) {
	r := &ProfileResolver{Store: newMemAccountStore()}

	_, err := r.Resolve(context.Background(), RawProfile{Provider: "myspace", ExternalID: "1"})
	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.Code != ErrCodeUnknownProvider {
		t.Fatalf("expected unknown_provider error, got %v", err)
	}
}

func TestResolveMissingExternalID(t *testing.T) {
	r := &ProfileResolver{Store: newMemAccountStore()}

	_, err := r.Resolve(context.Background(), RawProfile{Provider: ProviderGitHub})
	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.Code != ErrCodeMissingField {
		t.Fatalf("expected missing_field error, got %v", err)
	}
}

func TestResolveExistingAccount(t *testing.T) {
	store := newMemAccountStore()
	profile := githubProfile("gh-42")
	if _, err := store.CreateAccount(context.Background(), &Account{
		ID: "u1", Username: "alice", Email: "alice@example.com",
		Profiles: []LinkedProfile{profile.ToLinkedProfile(time.Now())},
	}); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	r := &ProfileResolver{Store: store}
	res, err := r.Resolve(context.Background(), profile)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !res.Resolved() {
		t.Fatalf("expected a resolved account")
	}
	if res.Account.ID != "u1" {
		t.Errorf("resolved wrong account: %s", res.Account.ID)
	}
}

func TestResolveSynthesizesDraft(t *testing.T) {
	r := &ProfileResolver{Store: newMemAccountStore()}
	profile := githubProfile("gh-7")

	res, err := r.Resolve(context.Background(), profile)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Resolved() {
		t.Fatalf("expected a draft, got account %v", res.Account)
	}
	draft := res.Draft
	if draft.Email != "octo@example.com" {
		t.Errorf("draft email = %q, want first provider email", draft.Email)
	}
	if draft.Username != "octocat" || draft.DisplayName != "Octo Cat" {
		t.Errorf("draft identity fields not copied: %+v", draft)
	}
	if len(draft.Profiles) != 1 {
		t.Fatalf("draft should carry exactly the presented profile, got %d", len(draft.Profiles))
	}
	if draft.Profiles[0].ExternalID != "gh-7" {
		t.Errorf("draft profile external id = %q", draft.Profiles[0].ExternalID)
	}
}

func TestResolveConsistencyViolationIsFatal(t *testing.T) {
	store := newMemAccountStore()
	profile := githubProfile("gh-dup")
	linked := profile.ToLinkedProfile(time.Now())
	// Two accounts holding the same profile, bypassing the uniqueness
	// check the way a corrupted store would.
	store.accounts["u1"] = &Account{ID: "u1", Username: "a", Email: "a@x.com", Profiles: []LinkedProfile{linked}, Version: 1}
	store.accounts["u2"] = &Account{ID: "u2", Username: "b", Email: "b@x.com", Profiles: []LinkedProfile{linked}, Version: 1}

	r := &ProfileResolver{Store: store}
	_, err := r.Resolve(context.Background(), profile)
	var sce *StoreConsistencyError
	if !errors.As(err, &sce) {
		t.Fatalf("expected StoreConsistencyError, got %v", err)
	}
	if len(sce.AccountIDs) != 2 {
		t.Errorf("expected both offending accounts reported, got %v", sce.AccountIDs)
	}
}
