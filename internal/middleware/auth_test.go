package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzzcdf/cube.js/internal/domain"
)

const secret = "test-secret-32-bytes-long-xxxxx"

func sign(t *testing.T, key string, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func TestNewHS256Validator_RequiresSecret(t *testing.T) {
	_, err := NewHS256Validator("")
	assert.Error(t, err)
}

func TestHS256Validator(t *testing.T) {
	v, err := NewHS256Validator(secret)
	require.NoError(t, err)

	claims, err := v.Validate(context.Background(), sign(t, secret, jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":    "user-1",
		"tenant": "acme",
		"exp":    time.Now().Add(time.Hour).Unix(),
	}))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims["sub"])
	assert.Equal(t, "acme", claims["tenant"])

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", sign(t, "other", jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"})},
		{"expired", sign(t, secret, jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()})},
		{"wrong algorithm", sign(t, secret, jwt.SigningMethodHS512, jwt.MapClaims{"sub": "x"})},
		{"garbage", "not-a-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(context.Background(), tt.token)
			assert.ErrorContains(t, err, "token verification failed")
		})
	}
}

func TestSecurityContext(t *testing.T) {
	v, err := NewHS256Validator(secret)
	require.NoError(t, err)

	var got map[string]any
	h := SecurityContext(v)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got, _ = domain.SecurityContextFromContext(r.Context())
	}))
	token := sign(t, secret, jwt.SigningMethodHS256, jwt.MapClaims{"tenant": "acme"})

	for _, header := range []string{"Bearer " + token, "bearer " + token, token} {
		got = nil
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "acme", got["tenant"])
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "authorization header is required")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSecurityContext_NoValidator(t *testing.T) {
	var (
		got map[string]any
		ok  bool
	)
	h := SecurityContext(nil)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got, ok = domain.SecurityContextFromContext(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ok)
	assert.Empty(t, got)
}
