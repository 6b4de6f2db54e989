package web

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	idlink "github.com/jferrer/idlink"
)

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

// generateStateOauthCookie stores a random state value in a cookie and
// returns it for the redirect URL.
func generateStateOauthCookie(w http.ResponseWriter) string {
	var expiration = time.Now().Add(30 * 24 * time.Hour)
	b := make([]byte, 16)
	rand.Read(b)
	state := base64.URLEncoding.EncodeToString(b)
	cookie := http.Cookie{Name: "oauthstate", Value: state, Path: "/", Expires: expiration}
	http.SetCookie(w, &cookie)
	return state
}

// handleProviderStart redirects to the provider's consent page. A
// callbackURL query parameter is remembered in a short-lived cookie so the
// callback can send the user back where they started.
func (s *Server) handleProviderStart(w http.ResponseWriter, r *http.Request) {
	provider, err := s.Providers.Get(pathVar(r, "provider"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	if callbackURL := r.URL.Query().Get("callbackURL"); callbackURL != "" {
		http.SetCookie(w, &http.Cookie{
			Name:    "oauthCallbackURL",
			Value:   callbackURL,
			Path:    "/",
			Expires: time.Now().Add(24 * time.Hour),
			MaxAge:  120, // keep this short
		})
	}

	state := generateStateOauthCookie(w)
	http.Redirect(w, r, provider.AuthCodeURL(state), http.StatusFound)
}

// handleProviderCallback finishes the provider handshake, resolves the
// profile and feeds it through the linking state machine.
func (s *Server) handleProviderCallback(w http.ResponseWriter, r *http.Request) {
	provider, err := s.Providers.Get(pathVar(r, "provider"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	oauthState, _ := r.Cookie("oauthstate")
	if oauthState == nil {
		http.Error(w, "OauthState is nil", http.StatusBadRequest)
		return
	}
	if r.FormValue("state") != oauthState.Value {
		http.SetCookie(w, &http.Cookie{Name: "oauthstate", MaxAge: 0})
		http.Error(w, "invalid oauth state", http.StatusBadRequest)
		return
	}

	profile, err := provider.Authenticate(r.Context(), r.FormValue("code"))
	if err != nil {
		s.logger().Warn("provider authentication failed", "provider", provider.Name(), "err", err)
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return
	}

	resolution, err := s.Resolver.Resolve(r.Context(), *profile)
	if err != nil {
		s.writeError(w, err)
		return
	}
	result, err := s.Linker.HandleFederated(r.Context(), s.handle(r), resolution)
	if err != nil {
		var conflict *idlink.IdentityConflictError
		if errors.As(err, &conflict) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": "This identity is already linked to a different account",
			})
			return
		}
		s.writeError(w, err)
		return
	}

	switch result.Status {
	case idlink.StatusPendingSignup:
		// No matching account and nobody logged in: finish at signup.
		http.Redirect(w, r, s.SignupURL, http.StatusFound)
	default:
		s.setAuthCookie(result.Account, w)
		http.Redirect(w, r, s.popCallbackURL(w, r), http.StatusFound)
	}
}

// popCallbackURL reads and clears the oauthCallbackURL cookie.
func (s *Server) popCallbackURL(w http.ResponseWriter, r *http.Request) string {
	callbackURL := s.DefaultRedirectURL
	if cookie, _ := r.Cookie("oauthCallbackURL"); cookie != nil && cookie.Value != "" {
		callbackURL = cookie.Value
	}
	http.SetCookie(w, &http.Cookie{
		Name:   "oauthCallbackURL",
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	return callbackURL
}
