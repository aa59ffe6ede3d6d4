package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"doorlist.app/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Endpoints reachable without a session token. The webhook authenticates
// with its signature, not a bearer token.
var publicPaths = []string{
	"/",
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/v1/auth/invite/validate",
	"/v1/auth/signup",
	"/v1/auth/signin",
	"/v1/auth/session",
	"/process-payment",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// withAuth authenticates bearer tokens and attaches the session to the
// request context. Public paths pass through; a token on a public path is
// still parsed so /v1/auth/session can report the step.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		raw := r.Header.Get(authHeader)
		if isPublicPath(r.URL.Path) {
			if token, err := extractBearerToken(raw); err == nil {
				if session, err := a.d.Auth.VerifyToken(token); err == nil {
					ctx := auth.ContextWithSession(r.Context(), session)
					ctx = auth.ContextWithToken(ctx, token)
					r = r.WithContext(ctx)
				}
			}
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(raw)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		session, err := a.d.Auth.VerifyToken(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		ctx := auth.ContextWithSession(r.Context(), session)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireSession returns the session or writes a 401. MFA endpoints accept
// partially authenticated sessions; everything else demands mfa.
func (a *API) requireSession(w http.ResponseWriter, r *http.Request, needMFA bool) (auth.Session, bool) {
	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return auth.Session{}, false
	}
	if needMFA && !session.MFAVerified {
		writeError(w, r, http.StatusForbidden, "two-factor verification required")
		return auth.Session{}, false
	}
	return session, true
}

// requireAdmin returns the session or writes a 401/403.
func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request) (auth.Session, bool) {
	session, ok := a.requireSession(w, r, true)
	if !ok {
		return auth.Session{}, false
	}
	if session.Role != auth.RoleAdmin {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return auth.Session{}, false
	}
	return session, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
