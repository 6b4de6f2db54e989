package idlink

import (
	"context"
	"errors"
	"testing"
)

// End-to-end flow across the whole core: a federated first visit that
// becomes a full account with local credentials and two linked providers,
// then unlinks and logs back in every way it can.
func TestIdentityLifecycle(t *testing.T) {
	svc, accounts, sessions := newTestAccountService()
	auth := &Authenticator{Store: accounts, Hasher: svc.Credentials.Hasher, Linker: svc.Linker}
	resolver := &ProfileResolver{Store: accounts}
	linker := svc.Linker
	ctx := context.Background()

	// 1. First visit with GitHub: nothing matches, signup is pending.
	github := githubProfile("gh-100")
	res, err := resolver.Resolve(ctx, github)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	result, err := linker.HandleFederated(ctx, "sess", res)
	if err != nil || result.Status != StatusPendingSignup {
		t.Fatalf("first federated visit: status=%v err=%v", result, err)
	}

	// 2. Finish signup; the pending GitHub identity rides along.
	account, err := svc.CreateAccount(ctx, "sess", &SignupRequest{
		Username:    "octocat",
		Email:       "octo@example.com",
		Credentials: &CredentialChangeRequest{NewPassword: "longenough", ConfirmPassword: "longenough"},
	})
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if !account.HasProfile(ProviderGitHub, "gh-100") {
		t.Fatalf("pending identity not consumed into the account")
	}

	// 3. Link Facebook while logged in.
	facebook := RawProfile{Provider: ProviderFacebook, ExternalID: "fb-7", DisplayName: "Octo Cat"}
	res, _ = resolver.Resolve(ctx, facebook)
	result, err = linker.HandleFederated(ctx, "sess", res)
	if err != nil || result.Status != StatusLinked {
		t.Fatalf("linking facebook: status=%v err=%v", result, err)
	}

	// 4. Logout, then come back through Facebook alone.
	if err := auth.Logout(ctx, "sess"); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	res, _ = resolver.Resolve(ctx, facebook)
	result, err = linker.HandleFederated(ctx, "sess", res)
	if err != nil || result.Status != StatusLoggedIn {
		t.Fatalf("facebook login: status=%v err=%v", result, err)
	}
	if result.Account.ID != account.ID {
		t.Fatalf("facebook resolved a different account")
	}

	// 5. Unlink GitHub; logging in with it afterwards starts a fresh
	// pending signup instead of finding the account.
	if _, err := linker.Unlink(ctx, "sess", ProviderGitHub); err != nil {
		t.Fatalf("Unlink failed: %v", err)
	}
	if err := auth.Logout(ctx, "sess"); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	res, _ = resolver.Resolve(ctx, github)
	result, err = linker.HandleFederated(ctx, "sess", res)
	if err != nil || result.Status != StatusPendingSignup {
		t.Fatalf("unlinked github must not resolve: status=%v err=%v", result, err)
	}

	// 6. Local credentials still work.
	logged, err := auth.AuthenticateLocal(ctx, "sess2", "octocat", "longenough")
	if err != nil {
		t.Fatalf("AuthenticateLocal failed: %v", err)
	}
	if logged.ID != account.ID {
		t.Fatalf("local login resolved a different account")
	}

	sess, _ := sessions.Get(ctx, "sess2")
	if sess.AccountID != account.ID {
		t.Fatalf("session not authenticated after local login")
	}
}

// A second browser linking the same provider pair concurrently must end in
// exactly one owner.
func TestConcurrentClaimSingleOwner(t *testing.T) {
	svc, accounts, _ := newTestAccountService()
	linker := svc.Linker
	resolver := &ProfileResolver{Store: accounts}
	ctx := context.Background()

	a, _ := svc.CreateAccount(ctx, "sess-a", signupReq("alice", "alice@example.com", "longenough"))
	b, _ := svc.CreateAccount(ctx, "sess-b", signupReq("bob", "bob@example.com", "longenough"))

	profile := githubProfile("gh-race")
	resA, _ := resolver.Resolve(ctx, profile)
	resB, _ := resolver.Resolve(ctx, profile)

	// Both resolved to drafts; first link wins, the second collides on the
	// store's uniqueness constraint.
	if _, err := linker.HandleFederated(ctx, "sess-a", resA); err != nil {
		t.Fatalf("first link failed: %v", err)
	}
	_, err := linker.HandleFederated(ctx, "sess-b", resB)
	var unique *UniqueFieldError
	if !errors.As(err, &unique) || unique.Field != "profile" {
		t.Fatalf("expected profile uniqueness collision, got %v", err)
	}

	stored, _ := accounts.GetAccountByID(ctx, a.ID)
	if !stored.HasProfile(ProviderGitHub, "gh-race") {
		t.Errorf("winner lost its profile")
	}
	loser, _ := accounts.GetAccountByID(ctx, b.ID)
	if loser.HasProfile(ProviderGitHub, "gh-race") {
		t.Errorf("profile linked to both accounts")
	}
}
