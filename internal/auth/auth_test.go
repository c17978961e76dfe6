package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookflow/internal/logging"
	"bookflow/library"
)

var testCfg = Config{JWTSecret: "test-secret", Issuer: "bookflow", AccessTokenTTL: time.Hour}

var testUser = &library.User{ID: "u-1", Email: "user@bookflow.com", Role: library.RoleUser}

func TestIsPublicRoute(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		expected bool
	}{
		{"login", "POST", "/api/login", true},
		{"register", "POST", "/api/register", true},
		{"health", "GET", "/health", true},
		{"metrics", "GET", "/metrics", true},
		{"preflight", "OPTIONS", "/api/books", true},

		{"login wrong method", "GET", "/api/login", false},
		{"books", "GET", "/api/books", false},
		{"loans", "POST", "/api/loans", false},
		{"stats", "GET", "/api/stats", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isPublicRoute(tt.method, tt.path))
		})
	}
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateAccessToken(testCfg, testUser)
	require.NoError(t, err)

	claims, err := ParseToken(testCfg, token)
	require.NoError(t, err)
	p := claims.Principal()
	assert.Equal(t, "u-1", p.UserID)
	assert.Equal(t, "user@bookflow.com", p.Email)
	assert.Equal(t, library.RoleUser, p.Role)
	assert.False(t, p.IsAdmin())
}

func TestParseTokenRejects(t *testing.T) {
	expired := testCfg
	expired.AccessTokenTTL = -time.Minute
	expiredToken, err := GenerateAccessToken(expired, testUser)
	require.NoError(t, err)

	otherSecret := testCfg
	otherSecret.JWTSecret = "other"
	forged, err := GenerateAccessToken(otherSecret, testUser)
	require.NoError(t, err)

	refresh := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-1", Issuer: "bookflow"},
		Type:             "refresh",
	})
	refreshToken, err := refresh.SignedString([]byte(testCfg.JWTSecret))
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-1"},
		Type:             tokenTypeAccess,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"expired":      expiredToken,
		"wrong secret": forged,
		"refresh type": refreshToken,
		"alg none":     unsigned,
		"garbage":      "not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseToken(testCfg, tok)
			assert.Error(t, err)
		})
	}
}

func TestGenerateWithoutSecret(t *testing.T) {
	_, err := GenerateAccessToken(Config{AccessTokenTTL: time.Hour}, testUser)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	var seen library.Principal
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := Middleware(testCfg, logging.Discard())(next)

	token, err := GenerateAccessToken(testCfg, testUser)
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		header string
		want   int
	}{
		{"public login", "POST", "/api/login", "", http.StatusNoContent},
		{"missing header", "GET", "/api/books", "", http.StatusUnauthorized},
		{"wrong scheme", "GET", "/api/books", "Basic abc", http.StatusUnauthorized},
		{"bad token", "GET", "/api/books", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "GET", "/api/books", "Bearer " + token, http.StatusNoContent},
		{"lowercase scheme", "GET", "/api/books", "bearer " + token, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}
	assert.Equal(t, "u-1", seen.UserID)
}

func TestAdminOnly(t *testing.T) {
	h := AdminOnly(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	req := httptest.NewRequest("GET", "/api/users", nil)
	req = req.WithContext(WithPrincipal(req.Context(), library.Principal{UserID: "u-1", Role: library.RoleUser}))
	rec := httptest.NewRecorder()
	h(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = req.WithContext(WithPrincipal(req.Context(), library.Principal{UserID: "a-1", Role: library.RoleAdmin}))
	rec = httptest.NewRecorder()
	h(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
