package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACRoundTrip(t *testing.T) {
	secret := []byte("dev-secret")
	v, err := NewHMACValidator(secret)
	require.NoError(t, err)

	token, err := NewToken(secret, "user-1", time.Hour)
	require.NoError(t, err)

	sub, err := v.UserID(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)

	other, err := NewToken([]byte("other"), "user-1", time.Hour)
	require.NoError(t, err)
	_, err = v.UserID(other)
	assert.Error(t, err)

	expired, err := NewToken(secret, "user-1", -time.Minute)
	require.NoError(t, err)
	_, err = v.UserID(expired)
	assert.Error(t, err)
}

func TestRSAValidator(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "public.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))

	v, err := NewRSAValidator(path)
	require.NoError(t, err)

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Subject:   "550e8400-e29b-41d4-a716-446655440000",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(key)
	require.NoError(t, err)

	sub, err := v.UserID(token)
	require.NoError(t, err)
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", sub)

	// An HS256 token is rejected by an RSA-only validator.
	hs, err := NewToken([]byte("x"), "u", time.Hour)
	require.NoError(t, err)
	_, err = v.UserID(hs)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	secret := []byte("dev-secret")
	v, err := NewHMACValidator(secret)
	require.NoError(t, err)

	e := echo.New()
	e.GET("/me", func(c echo.Context) error {
		return c.String(http.StatusOK, UserID(c))
	}, Middleware(v))
	e.GET("/off", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, Middleware(nil))

	do := func(path, header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if header != "" {
			req.Header.Set(echo.HeaderAuthorization, header)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, do("/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do("/me", "Token abc").Code)
	assert.Equal(t, http.StatusUnauthorized, do("/me", "Bearer garbage").Code)

	token, err := NewToken(secret, "user-7", time.Hour)
	require.NoError(t, err)
	rec := do("/me", "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-7", rec.Body.String())

	assert.Equal(t, http.StatusServiceUnavailable, do("/off", "Bearer "+token).Code)
}

func TestSubjectMustBeStoredVerbatim(t *testing.T) {
	secret := []byte("dev-secret")
	v, err := NewHMACValidator(secret)
	require.NoError(t, err)

	_, err = NewToken(secret, "al.ice", time.Hour)
	assert.Error(t, err)

	// A token minted elsewhere with such a subject is refused as well.
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "al.ice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(secret)
	require.NoError(t, err)
	_, err = v.UserID(forged)
	assert.Error(t, err)

	ok, err := NewToken(secret, "alice", time.Hour)
	require.NoError(t, err)
	sub, err := v.UserID(ok)
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)
}
