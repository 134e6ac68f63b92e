// Package middleware provides the HTTP middleware of the schema server:
// request ids, access logging, rate limiting, and security context
// extraction from JWTs.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"github.com/zzzcdf/cube.js/internal/domain"
)

// TokenValidator verifies a token and returns its claims, which become the
// request's security context.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (map[string]any, error)
}

// HS256Validator verifies tokens signed with a shared secret.
type HS256Validator struct {
	secret []byte
}

// NewHS256Validator creates a validator for HS256 tokens.
func NewHS256Validator(secret string) (*HS256Validator, error) {
	if secret == "" {
		return nil, errors.New("JWT secret is required")
	}
	return &HS256Validator{secret: []byte(secret)}, nil
}

// Validate implements TokenValidator.
func (v *HS256Validator) Validate(_ context.Context, token string) (map[string]any, error) {
	tok, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("parse claims: unsupported claim type %T", tok.Claims)
	}
	return map[string]any(claims), nil
}

// OIDCValidator verifies tokens against an issuer's JWKS.
type OIDCValidator struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCValidator discovers the issuer's keys. With a non-empty jwksURL
// discovery is skipped and the key set is fetched from jwksURL directly.
func NewOIDCValidator(ctx context.Context, issuerURL, jwksURL, audience string) (*OIDCValidator, error) {
	cfg := &oidc.Config{ClientID: audience, SkipClientIDCheck: audience == ""}
	if jwksURL != "" {
		keySet := oidc.NewRemoteKeySet(ctx, jwksURL)
		return &OIDCValidator{verifier: oidc.NewVerifier(issuerURL, keySet, cfg)}, nil
	}
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider discovery: %w", err)
	}
	return &OIDCValidator{verifier: provider.Verifier(cfg)}, nil
}

// Validate implements TokenValidator.
func (v *OIDCValidator) Validate(ctx context.Context, token string) (map[string]any, error) {
	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}
	return claims, nil
}

// bearerToken accepts both "Bearer <token>" and a bare token.
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return h
}

// SecurityContext validates the request's token and stores its claims as
// the security context. A nil validator disables authentication and every
// request gets an empty security context.
func SecurityContext(v TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				next.ServeHTTP(w, r.WithContext(domain.WithSecurityContext(r.Context(), map[string]any{})))
				return
			}
			token := bearerToken(r)
			if token == "" {
				WriteError(w, http.StatusUnauthorized, "authorization header is required")
				return
			}
			claims, err := v.Validate(r.Context(), token)
			if err != nil {
				WriteError(w, http.StatusUnauthorized, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(domain.WithSecurityContext(r.Context(), claims)))
		})
	}
}
