package github

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmednasr/firstcommit/indexer/internal/apperrors"
)

func testKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return key, string(pemKey)
}

func TestAppAuth_ExchangesAndCaches(t *testing.T) {
	key, pemKey := testKey(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var exchanges int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&exchanges, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/app/installations/99/access_tokens", r.URL.Path)

		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		tok, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(*jwt.Token) (interface{}, error) {
			return &key.PublicKey, nil
		}, jwt.WithoutClaimsValidation(), jwt.WithValidMethods([]string{"RS256"}))
		require.NoError(t, err)
		claims := tok.Claims.(*jwt.RegisteredClaims)
		assert.Equal(t, "12345", claims.Issuer)
		assert.Less(t, claims.ExpiresAt.Sub(claims.IssuedAt.Time), 11*time.Minute)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token":      "ghs_installation",
			"expires_at": base.Add(time.Hour).Format(time.RFC3339),
		})
	}))
	defer srv.Close()

	auth, err := NewAppAuth("12345", "99", pemKey, srv.URL+"/", srv.Client())
	require.NoError(t, err)
	now := base
	auth.now = func() time.Time { return now }

	tok, err := auth.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ghs_installation", tok)

	now = base.Add(30 * time.Minute)
	_, err = auth.Token(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&exchanges), "token reused while fresh")

	now = base.Add(56 * time.Minute)
	_, err = auth.Token(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&exchanges), "token refreshed near expiry")
}

func TestAppAuth_ExchangeFailureIsAuthError(t *testing.T) {
	_, pemKey := testKey(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"A JSON web token could not be decoded"}`))
	}))
	defer srv.Close()

	auth, err := NewAppAuth("1", "2", pemKey, srv.URL, srv.Client())
	require.NoError(t, err)

	_, err = auth.Token(context.Background())
	assert.True(t, apperrors.IsAuth(err))
}

func TestNewAppAuth_RejectsBadKey(t *testing.T) {
	_, err := NewAppAuth("1", "2", "not a pem", "https://api.github.com", nil)
	assert.True(t, apperrors.IsAuth(err))
}
