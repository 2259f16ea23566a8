package auth

import (
	"context"
	"net/http"
	"strings"
)

// Route classification prefixes. The guard sees every request before
// route handling.
const (
	apiAuthPrefix   = "/api/auth"
	authRoutePrefix = "/auth"
	protectedPrefix = "/dashboard"

	loginRoute = "/auth/login"
)

// Decision is the guard's verdict for one request.
type Decision int

const (
	// Pass lets the request through untouched
	Pass Decision = iota
	// RedirectDefault sends an already-authenticated user to the
	// post-login destination
	RedirectDefault
	// RedirectLogin sends an unauthenticated user to the login route
	RedirectLogin
)

// Decide classifies a request by path and authentication state. Pure:
// no I/O, same inputs always give the same verdict.
//
// Provider API routes always pass. Auth UI routes redirect authenticated
// users to the default destination. Protected routes redirect
// unauthenticated users to login. Everything else passes.
func Decide(path string, isAuthenticated bool) Decision {
	if strings.HasPrefix(path, apiAuthPrefix) {
		return Pass
	}

	if strings.HasPrefix(path, authRoutePrefix) {
		if isAuthenticated {
			return RedirectDefault
		}
		return Pass
	}

	if strings.HasPrefix(path, protectedPrefix) && !isAuthenticated {
		return RedirectLogin
	}

	return Pass
}

type identityContextKey struct{}

// Authenticator resolves a session cookie token to a live identity.
// Implemented by RedisSessionProvider.
type Authenticator interface {
	Authenticate(ctx context.Context, cookieToken string) (*Identity, bool)
}

// Guard is the request-classification middleware. It derives the
// authentication flag from the session cookie and applies Decide ahead
// of route handling.
type Guard struct {
	authenticator        Authenticator
	defaultLoginRedirect string
}

func NewGuard(authenticator Authenticator, defaultLoginRedirect string) *Guard {
	return &Guard{
		authenticator:        authenticator,
		defaultLoginRedirect: defaultLoginRedirect,
	}
}

// Handler applies the guard decision to every request. Authenticated
// identities are attached to the context for downstream handlers.
func (g *Guard) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var identity *Identity
		if cookieToken, err := GetSessionTokenFromCookie(r); err == nil {
			identity, _ = g.authenticator.Authenticate(r.Context(), cookieToken)
		}

		switch Decide(r.URL.Path, identity != nil) {
		case RedirectDefault:
			http.Redirect(w, r, g.defaultLoginRedirect, http.StatusFound)
			return
		case RedirectLogin:
			http.Redirect(w, r, loginRoute, http.StatusFound)
			return
		}

		if identity != nil {
			r = r.WithContext(context.WithValue(r.Context(), identityContextKey{}, identity))
		}

		next.ServeHTTP(w, r)
	})
}

// IdentityFromContext returns the authenticated identity the guard
// attached, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	return identity, ok
}
