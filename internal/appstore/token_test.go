package appstore

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestKey generates a P-256 key and returns it with its PKCS8 PEM
// encoding, the format App Store Connect ships .p8 files in.
func newTestKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	block := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return key, string(block)
}

func TestParsePrivateKeyAcceptsRawBase64(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	parsed, err := parsePrivateKey(base64.StdEncoding.EncodeToString(der))
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))
}

func TestParsePrivateKeyRejectsGarbage(t *testing.T) {
	_, err := parsePrivateKey("not a key")
	assert.Error(t, err)

	_, err = parsePrivateKey("")
	assert.Error(t, err)
}

func TestServerAPIToken(t *testing.T) {
	key, pemKey := newTestKey(t)

	builder, err := NewTokenBuilder("KEY123", "issuer-id", "io.theone.test", pemKey)
	require.NoError(t, err)

	issuedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	builder.now = func() time.Time { return issuedAt }

	signed, err := builder.ServerAPIToken()
	require.NoError(t, err)

	token, err := jwt.Parse(signed, func(tok *jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}), jwt.WithTimeFunc(func() time.Time { return issuedAt }))
	require.NoError(t, err)

	assert.Equal(t, "KEY123", token.Header["kid"])

	claims := token.Claims.(jwt.MapClaims)
	assert.Equal(t, "issuer-id", claims["iss"])
	assert.Equal(t, "appstoreconnect-v1", claims["aud"])
	assert.Equal(t, "io.theone.test", claims["bid"])
	assert.Equal(t, float64(issuedAt.Unix()), claims["iat"])
	assert.Equal(t, float64(issuedAt.Add(time.Hour).Unix()), claims["exp"])
}

func TestClientSecretIsCached(t *testing.T) {
	_, pemKey := newTestKey(t)

	provider, err := NewClientSecretProvider("TEAM123", "io.theone.test", "KEY123", pemKey)
	require.NoError(t, err)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	provider.now = func() time.Time { return now }

	first, err := provider.ClientSecret()
	require.NoError(t, err)

	// Within the validity window the exact same string comes back.
	now = now.Add(5 * time.Minute)
	second, err := provider.ClientSecret()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestClientSecretRegeneratesNearExpiry(t *testing.T) {
	key, pemKey := newTestKey(t)

	provider, err := NewClientSecretProvider("TEAM123", "io.theone.test", "KEY123", pemKey)
	require.NoError(t, err)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	provider.now = func() time.Time { return now }

	first, err := provider.ClientSecret()
	require.NoError(t, err)

	// 20 seconds before expiry, inside the slack window.
	now = now.Add(clientSecretTTL - 20*time.Second)
	second, err := provider.ClientSecret()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	token, err := jwt.Parse(second, func(tok *jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}), jwt.WithTimeFunc(func() time.Time { return now }))
	require.NoError(t, err)

	claims := token.Claims.(jwt.MapClaims)
	assert.Equal(t, "TEAM123", claims["iss"])
	assert.Equal(t, "https://appleid.apple.com", claims["aud"])
	assert.Equal(t, "io.theone.test", claims["sub"])
}
