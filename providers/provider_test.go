package providers

import (
	"errors"
	"sort"
	"strings"
	"testing"

	idlink "github.com/jferrer/idlink"
)

func TestRegistryLookup(t *testing.T) {
	registry := NewRegistry(
		NewGitHub("id", "secret", "http://localhost/auth/github/callback"),
		NewFacebook("id", "secret", "http://localhost/auth/facebook/callback"),
	)

	p, err := registry.Get("github")
	if err != nil {
		t.Fatalf("Get(github) failed: %v", err)
	}
	if p.Name() != idlink.ProviderGitHub {
		t.Errorf("provider name = %q", p.Name())
	}

	_, err = registry.Get("myspace")
	var authErr *idlink.AuthError
	if !errors.As(err, &authErr) || authErr.Code != idlink.ErrCodeUnknownProvider {
		t.Fatalf("expected unknown_provider error, got %v", err)
	}

	names := registry.Names()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "facebook" || names[1] != "github" {
		t.Errorf("Names() = %v", names)
	}
}

func TestAuthCodeURLCarriesState(t *testing.T) {
	gh := NewGitHub("client-id", "secret", "http://localhost/cb")
	u := gh.AuthCodeURL("state-123")
	if u == "" {
		t.Fatal("empty auth code url")
	}
	for _, want := range []string{"state=state-123", "client_id=client-id"} {
		if !strings.Contains(u, want) {
			t.Errorf("auth url %q missing %q", u, want)
		}
	}
}
