// Package providers contains the OAuth2 adapters that turn an
// authorization code into a RawProfile for the identity core. Adapters do
// only the provider handshake; what happens to the profile afterwards is
// the Linker's business.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	idlink "github.com/jferrer/idlink"
)

// Authenticator is one configured federated provider.
type Authenticator interface {
	// Name returns the provider identifier ("github", "facebook", ...).
	Name() string

	// AuthCodeURL returns the provider URL to redirect the user to.
	AuthCodeURL(state string) string

	// Authenticate exchanges the callback code and fetches the user's
	// profile.
	Authenticate(ctx context.Context, code string) (*idlink.RawProfile, error)
}

// Registry holds all configured providers and allows lookup by name. It
// performs no auth logic itself.
type Registry struct {
	providers map[string]Authenticator
}

// NewRegistry registers the given providers by name. Provider names must be
// unique.
func NewRegistry(list ...Authenticator) *Registry {
	m := make(map[string]Authenticator)
	for _, p := range list {
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

// Get returns the provider by name or an error if not registered.
func (r *Registry) Get(name string) (Authenticator, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, idlink.NewAuthError(idlink.ErrCodeUnknownProvider, "unknown oauth provider: "+name, "provider")
	}
	return p, nil
}

// Names returns the registered provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// getJSON fetches url with the token-bearing client and decodes the body
// into out, also returning the raw payload for RawProfile.Raw.
func getJSON(ctx context.Context, client *http.Client, url string, out any) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed getting user info: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info request failed: %s: %s", resp.Status, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return nil, err
	}
	// Non-object payloads (e.g. email lists) have no raw map form.
	var raw map[string]any
	json.Unmarshal(body, &raw)
	return raw, nil
}
