// Package web binds the identity core to HTTP: local login and signup,
// provider redirects and callbacks, account management and logout. Session
// handles ride on an scs-managed cookie; a short-lived JWT cookie is issued
// on login for services that verify identity without the session store.
package web

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	idlink "github.com/jferrer/idlink"
	"github.com/jferrer/idlink/providers"
)

type Server struct {
	Session   *scs.SessionManager
	Auth      *idlink.Authenticator
	Accounts  *idlink.AccountService
	Linker    *idlink.Linker
	Resolver  *idlink.ProfileResolver
	Providers *providers.Registry
	Logger    *slog.Logger

	// Optional name used as a prefix for cookie and issuer defaults
	AppName string

	// JWT related fields
	JwtIssuer    string
	JWTSecretKey string

	// Name of the cookie carrying the signed auth token
	AuthTokenCookieName string

	// Where to send a federated user who needs to finish signup
	SignupURL string

	// Where to send the user after login when no callback URL was given
	DefaultRedirectURL string

	// How long is a session cookie valid for. Defaults to 1 day
	SessionTimeoutInSeconds int
}

func New(appName string) *Server {
	return (&Server{AppName: appName}).EnsureDefaults()
}

func (s *Server) EnsureDefaults() *Server {
	if s.AppName == "" {
		s.AppName = "IDLink"
	}
	if s.SessionTimeoutInSeconds <= 0 {
		s.SessionTimeoutInSeconds = 86400
	}
	if s.JwtIssuer == "" {
		s.JwtIssuer = fmt.Sprintf("%s-Issuer", s.AppName)
	}
	if s.AuthTokenCookieName == "" {
		s.AuthTokenCookieName = fmt.Sprintf("%sAuthToken", s.AppName)
	}
	if s.JWTSecretKey == "" {
		s.JWTSecretKey = strings.TrimSpace(os.Getenv("IDLINK_JWT_SECRET_KEY"))
		if s.JWTSecretKey == "" {
			s.JWTSecretKey = "MyTestJWTSecretKey123456"
		}
	}
	if s.SignupURL == "" {
		s.SignupURL = "/signup"
	}
	if s.DefaultRedirectURL == "" {
		s.DefaultRedirectURL = "/"
	}
	if s.Session == nil {
		s.Session = scs.New()
	}
	return s
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Handler returns the routed handler, wrapped with scs session management.
func (s *Server) Handler() http.Handler {
	s.EnsureDefaults()
	r := mux.NewRouter()
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/signup", s.handleSignup).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.handleLogout)
	r.HandleFunc("/me", s.handleGetAccount).Methods(http.MethodGet)
	r.HandleFunc("/me", s.handleUpdateAccount).Methods(http.MethodPost, http.MethodPatch)
	r.HandleFunc("/me", s.handleDestroyAccount).Methods(http.MethodDelete)
	r.HandleFunc("/unlink/{provider}", s.handleUnlink).Methods(http.MethodPost)
	r.HandleFunc("/{provider}", s.handleProviderStart).Methods(http.MethodGet)
	r.HandleFunc("/{provider}/callback", s.handleProviderCallback).Methods(http.MethodGet)
	return s.Session.LoadAndSave(r)
}

// handle returns the stable session handle for this browser session,
// creating one on first use. The handle lives inside the scs session, so
// cookie issuance and expiry stay scs's job.
func (s *Server) handle(r *http.Request) string {
	ctx := r.Context()
	h := s.Session.GetString(ctx, "handle")
	if h == "" {
		h = uuid.NewString()
		s.Session.Put(ctx, "handle", h)
	}
	return h
}

// setAuthCookie signs a short-lived JWT for the account and sets it as a
// cookie. Passing nil clears it (logout).
func (s *Server) setAuthCookie(account *idlink.Account, w http.ResponseWriter) {
	if account == nil {
		http.SetCookie(w, &http.Cookie{
			Name:    s.AuthTokenCookieName,
			Path:    "/",
			MaxAge:  -1,
			Expires: time.Now(),
		})
		return
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": account.ID,
		"iss": s.JwtIssuer,
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	})
	tokenString, err := token.SignedString([]byte(s.JWTSecretKey))
	if err != nil {
		s.logger().Warn("error signing token", "err", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:    s.AuthTokenCookieName,
		Value:   tokenString,
		Path:    "/",
		Expires: time.Now().Add(time.Second * time.Duration(s.SessionTimeoutInSeconds)),
		MaxAge:  s.SessionTimeoutInSeconds,
	})
}

// VerifyAuthToken parses and verifies a JWT issued by setAuthCookie and
// returns the account id in its subject.
func (s *Server) VerifyAuthToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return []byte(s.JWTSecretKey), nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || claims == nil {
		return "", fmt.Errorf("claims is not a map")
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", fmt.Errorf("subject not found")
	}
	return sub, nil
}
