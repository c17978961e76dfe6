// Package auth issues and verifies bearer tokens and carries the
// authenticated principal through request contexts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"bookflow/library"
)

type contextKey string

const ctxKeyPrincipal contextKey = "principal"

const tokenTypeAccess = "access"

// Config configures token signing.
type Config struct {
	JWTSecret      string
	Issuer         string
	AccessTokenTTL time.Duration
}

// Claims are the JWT claims of an access token.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	Type  string `json:"type,omitempty"`
}

// Principal converts verified claims to the acting principal.
func (c *Claims) Principal() library.Principal {
	return library.Principal{UserID: c.Subject, Email: c.Email, Role: library.Role(c.Role)}
}

// GenerateAccessToken signs an access token for u.
func GenerateAccessToken(cfg Config, u *library.User) (string, error) {
	if cfg.JWTSecret == "" {
		return "", errors.New("jwt secret is not configured")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.AccessTokenTTL)),
		},
		Email: u.Email,
		Role:  string(u.Role),
		Type:  tokenTypeAccess,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.JWTSecret))
}

// ParseToken verifies signature, expiry and token type.
func ParseToken(cfg Config, tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Type != tokenTypeAccess {
		return nil, errors.New("invalid token type")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p library.Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

// PrincipalFrom returns the principal stored in ctx, or the zero value.
func PrincipalFrom(ctx context.Context) library.Principal {
	p, _ := ctx.Value(ctxKeyPrincipal).(library.Principal)
	return p
}
