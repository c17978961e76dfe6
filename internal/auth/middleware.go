package auth

import (
	"context"
	"net/http"
	"strings"

	"bookflow/internal/logging"
)

// Routes reachable without a token (prefix match).
var publicPrefixes = []string{
	"/health",
	"/metrics",
}

// Routes reachable without a token (exact match on method and path).
var publicExact = map[string]bool{
	"POST /api/login":    true,
	"POST /api/register": true,
}

func isPublicRoute(method, path string) bool {
	if method == http.MethodOptions {
		return true
	}
	if publicExact[method+" "+path] {
		return true
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Middleware rejects requests without a valid bearer token and stores the
// principal in the request context.
func Middleware(cfg Config, log *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicRoute(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "missing authorization header")
				return
			}
			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
				unauthorized(w, "invalid authorization header")
				return
			}

			claims, err := ParseToken(cfg, strings.TrimSpace(token))
			if err != nil {
				log.WithContext(r.Context()).Debug("token rejected", "error", err)
				unauthorized(w, "invalid or expired token")
				return
			}

			p := claims.Principal()
			ctx := WithPrincipal(r.Context(), p)
			ctx = context.WithValue(ctx, logging.UserIDKey, p.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminOnly guards a handler with the admin role.
func AdminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !PrincipalFrom(r.Context()).IsAdmin() {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, r)
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusUnauthorized, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
