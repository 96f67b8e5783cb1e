package appstore

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJWKSServer(t *testing.T, key *rsa.PrivateKey, kid string, calls *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			*calls++
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	}))
}

func signIdentityToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func identityClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   "https://appleid.apple.com",
		"sub":   "001234.abcdef",
		"aud":   "io.theone.test",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
		"email": "user@privaterelay.appleid.com",
	}
}

func newTestIdentityVerifier(server *httptest.Server) *IdentityVerifier {
	v := NewIdentityVerifier("io.theone.test")
	v.jwksURL = server.URL
	return v
}

func TestVerifyIdentityToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	var fetches int
	server := newJWKSServer(t, key, "key-1", &fetches)
	defer server.Close()

	v := newTestIdentityVerifier(server)
	token := signIdentityToken(t, key, "key-1", identityClaims())

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "001234.abcdef", claims.Sub)
	assert.Equal(t, "user@privaterelay.appleid.com", claims.Email)

	// The key set is cached; a second verification fetches nothing.
	_, err = v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, 1, fetches)
}

func TestVerifyIdentityTokenWrongAudience(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	server := newJWKSServer(t, key, "key-1", nil)
	defer server.Close()

	claims := identityClaims()
	claims["aud"] = "someone.elses.app"

	v := newTestIdentityVerifier(server)
	_, err = v.Verify(signIdentityToken(t, key, "key-1", claims))

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Reason, "different client")
}

func TestVerifyIdentityTokenExpired(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	server := newJWKSServer(t, key, "key-1", nil)
	defer server.Close()

	claims := identityClaims()
	claims["exp"] = time.Now().Add(-time.Hour).Unix()

	v := newTestIdentityVerifier(server)
	_, err = v.Verify(signIdentityToken(t, key, "key-1", claims))

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Reason, "expired")
}

func TestVerifyIdentityTokenTamperedSignature(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	server := newJWKSServer(t, key, "key-1", nil)
	defer server.Close()

	// Signed with a key Apple never published.
	token := signIdentityToken(t, otherKey, "key-1", identityClaims())

	v := newTestIdentityVerifier(server)
	_, err = v.Verify(token)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Reason, "signature")
}

func TestVerifyIdentityTokenUnknownKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	server := newJWKSServer(t, key, "key-1", nil)
	defer server.Close()

	token := signIdentityToken(t, key, "key-unknown", identityClaims())

	v := newTestIdentityVerifier(server)
	_, err = v.Verify(token)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Reason, "no apple public key")
}
