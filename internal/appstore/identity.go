package appstore

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"
)

const appleJWKSURL = "https://appleid.apple.com/auth/keys"

// IdentityClaims are the verified claims of a Sign in with Apple identity
// token.
type IdentityClaims struct {
	Iss           string      `json:"iss"`
	Sub           string      `json:"sub"`
	Aud           string      `json:"aud"`
	Iat           int64       `json:"iat"`
	Exp           int64       `json:"exp"`
	Email         string      `json:"email"`
	EmailVerified interface{} `json:"email_verified"`
}

type jwksDocument struct {
	Keys []struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		Use string `json:"use"`
		Alg string `json:"alg"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

// IdentityVerifier checks identity tokens against Apple's published JWKS.
// Keys are cached for a day and re-fetched on miss.
type IdentityVerifier struct {
	clientID string
	http     *http.Client
	jwksURL  string

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
}

func NewIdentityVerifier(clientID string) *IdentityVerifier {
	return &IdentityVerifier{
		clientID: clientID,
		http:     &http.Client{Timeout: 10 * time.Second},
		jwksURL:  appleJWKSURL,
		keys:     make(map[string]*rsa.PublicKey),
	}
}

// Verify checks the token's signature, issuer, audience and expiry and
// returns its claims.
func (v *IdentityVerifier) Verify(identityToken string) (*IdentityClaims, error) {
	parts := strings.Split(identityToken, ".")
	if len(parts) != 3 {
		return nil, &ValidationError{Reason: "malformed identity token: expected three segments"}
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, &ValidationError{Reason: "malformed identity token header"}
	}
	var header struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, &ValidationError{Reason: "malformed identity token header"}
	}
	if header.Alg != "RS256" {
		return nil, &ValidationError{Reason: fmt.Sprintf("unsupported identity token algorithm %q", header.Alg)}
	}

	pubKey, err := v.publicKey(header.Kid)
	if err != nil {
		return nil, err
	}

	claimsBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, &ValidationError{Reason: "malformed identity token claims"}
	}
	var claims IdentityClaims
	if err := json.Unmarshal(claimsBytes, &claims); err != nil {
		return nil, &ValidationError{Reason: "malformed identity token claims"}
	}

	if claims.Iss != appleAuthAudience {
		return nil, &ValidationError{Reason: fmt.Sprintf("unexpected identity token issuer %q", claims.Iss)}
	}
	if claims.Aud != v.clientID {
		return nil, &ValidationError{Reason: "identity token was issued for a different client"}
	}
	if time.Now().Unix() > claims.Exp {
		return nil, &ValidationError{Reason: "identity token has expired"}
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, &ValidationError{Reason: "malformed identity token signature"}
	}
	hashed := sha256.Sum256([]byte(parts[0] + "." + parts[1]))
	if err := rsa.VerifyPKCS1v15(pubKey, crypto.SHA256, hashed[:], signature); err != nil {
		return nil, &ValidationError{Reason: "identity token signature verification failed"}
	}

	return &claims, nil
}

func (v *IdentityVerifier) publicKey(kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	if key, ok := v.keys[kid]; ok && time.Now().Before(v.expiresAt) {
		v.mu.RUnlock()
		return key, nil
	}
	v.mu.RUnlock()

	if err := v.fetchKeys(); err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if key, ok := v.keys[kid]; ok {
		return key, nil
	}
	return nil, &ValidationError{Reason: fmt.Sprintf("no apple public key with kid %q", kid)}
}

func (v *IdentityVerifier) fetchKeys() error {
	resp, err := v.http.Get(v.jwksURL)
	if err != nil {
		return &ServiceError{Op: "fetch jwks", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ServiceError{Op: "fetch jwks", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return &ServiceError{Op: "fetch jwks", Err: fmt.Errorf("invalid jwks document: %w", err)}
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			continue
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			continue
		}
		e := 0
		for _, b := range eBytes {
			e = e<<8 | int(b)
		}
		keys[k.Kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}
	}

	v.mu.Lock()
	v.keys = keys
	v.expiresAt = time.Now().Add(24 * time.Hour)
	v.mu.Unlock()
	return nil
}
