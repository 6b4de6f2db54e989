package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	idlink "github.com/jferrer/idlink"
)

// accountResponse is the external shape of an account. The password digest
// never appears here; idlink.Account already excludes it from JSON.
func accountResponse(account *idlink.Account) map[string]any {
	return map[string]any{"account": account}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	identifier := body["identifier"]
	if identifier == "" {
		// Sails-style forms post username or email under their own names.
		identifier = body["username"]
	}
	if identifier == "" {
		identifier = body["email"]
	}

	account, err := s.Auth.AuthenticateLocal(r.Context(), s.handle(r), identifier, body["password"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.setAuthCookie(account, w)
	writeJSON(w, http.StatusOK, accountResponse(account))
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	req := &idlink.SignupRequest{
		Username:    body["username"],
		Email:       body["email"],
		DisplayName: body["display_name"],
		Credentials: &idlink.CredentialChangeRequest{
			Password:        body["password"],
			NewPassword:     body["new_password"],
			ConfirmPassword: body["confirm_password"],
		},
	}

	account, err := s.Accounts.CreateAccount(r.Context(), s.handle(r), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.setAuthCookie(account, w)
	writeJSON(w, http.StatusCreated, accountResponse(account))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.Auth.Logout(r.Context(), s.handle(r)); err != nil {
		s.writeError(w, err)
		return
	}
	s.setAuthCookie(nil, w)

	if to := r.URL.Query().Get("to"); to != "" {
		http.Redirect(w, r, to, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Logged Out"})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.currentAccount(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse(account))
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	current, err := s.currentAccount(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	body, err := parseBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	patch := &idlink.Account{
		ID:          current.ID,
		Username:    body["username"],
		Email:       body["email"],
		DisplayName: body["display_name"],
	}
	creds := &idlink.CredentialChangeRequest{
		AccountID:       current.ID,
		Password:        body["password"],
		NewPassword:     body["new_password"],
		ConfirmPassword: body["confirm_password"],
		CurrentPassword: body["current_password"],
	}

	account, err := s.Accounts.UpdateAccount(r.Context(), s.handle(r), patch, creds)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse(account))
}

func (s *Server) handleDestroyAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.currentAccount(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.Accounts.DestroyAccount(r.Context(), s.handle(r), account.ID); err != nil {
		s.writeError(w, err)
		return
	}
	s.setAuthCookie(nil, w)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Account deleted"})
}

func (s *Server) handleUnlink(w http.ResponseWriter, r *http.Request) {
	provider := pathVar(r, "provider")
	account, err := s.Linker.Unlink(r.Context(), s.handle(r), provider)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse(account))
}

// currentAccount resolves the session to its account.
func (s *Server) currentAccount(r *http.Request) (*idlink.Account, error) {
	sess, err := s.Linker.Sessions.Get(r.Context(), s.handle(r))
	if err != nil {
		return nil, err
	}
	if !sess.Authenticated() {
		return nil, idlink.ErrNotAuthenticated
	}
	return s.Linker.Accounts.GetAccountByID(r.Context(), sess.AccountID)
}

// parseBody accepts either a form post or a flat JSON object of strings.
func parseBody(r *http.Request) (map[string]string, error) {
	contentType := r.Header.Get("Content-Type")
	out := map[string]string{}

	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseForm(); err != nil {
			return nil, idlink.NewAuthError("parse_error", "Error parsing form", "")
		}
		for key, values := range r.PostForm {
			if len(values) > 0 {
				out[key] = values[0]
			}
		}
		return out, nil
	}

	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil || data == nil {
		return nil, idlink.NewAuthError("parse_error", "Invalid post body", "")
	}
	for key, value := range data {
		if str, ok := value.(string); ok {
			out[key] = str
		}
	}
	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError maps core errors to HTTP responses. All credential
// verification failures collapse into one generic 401 so callers cannot
// probe which identifiers exist.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	if idlink.IsAuthenticationFailure(err) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Invalid credentials"})
		return
	}

	var authErr *idlink.AuthError
	if errors.As(err, &authErr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": authErr.Message,
			"code":  authErr.Code,
			"field": authErr.Field,
		})
		return
	}

	var unique *idlink.UniqueFieldError
	if errors.As(err, &unique) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": "Value already in use",
			"field": unique.Field,
		})
		return
	}

	var conflict *idlink.IdentityConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": "This identity is already linked to a different account",
		})
		return
	}

	switch {
	case errors.Is(err, idlink.ErrNotAuthenticated):
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Login required"})
	case errors.Is(err, idlink.ErrPermissionDenied):
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "Permission denied"})
	case errors.Is(err, idlink.ErrAccountNotFound), errors.Is(err, idlink.ErrProfileNotLinked):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	case errors.Is(err, idlink.ErrConcurrentModification):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "Account was modified concurrently, reload and retry"})
	default:
		s.logger().Error("request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Internal error"})
	}
}
