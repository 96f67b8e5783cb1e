package appstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthClient(t *testing.T, server *httptest.Server) *AuthClient {
	t.Helper()
	_, pemKey := newTestKey(t)
	secrets, err := NewClientSecretProvider("TEAM123", "io.theone.test", "KEY123", pemKey)
	require.NoError(t, err)

	client := NewAuthClient("io.theone.test", secrets)
	client.http = server.Client()
	client.tokenURL = server.URL + "/auth/token"
	client.revokeURL = server.URL + "/auth/revoke"
	return client
}

func TestExchangeCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/auth/token", r.URL.Path)
		assert.Equal(t, "io.theone.test", r.Form.Get("client_id"))
		assert.NotEmpty(t, r.Form.Get("client_secret"))
		assert.Equal(t, "auth-code-123", r.Form.Get("code"))
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))

		json.NewEncoder(w).Encode(TokenExchangeResult{
			AccessToken:  "access",
			TokenType:    "Bearer",
			ExpiresIn:    3600,
			RefreshToken: "refresh-xyz",
			IDToken:      "id-token",
		})
	}))
	defer server.Close()

	client := newTestAuthClient(t, server)
	result, err := client.ExchangeCode(context.Background(), "auth-code-123")
	require.NoError(t, err)
	assert.Equal(t, "refresh-xyz", result.RefreshToken)
}

func TestExchangeCodeRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestAuthClient(t, server)
	_, err := client.ExchangeCode(context.Background(), "stale-code")

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Reason, "rejected")
}

func TestRevokeToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/auth/revoke", r.URL.Path)
		assert.Equal(t, "refresh-xyz", r.Form.Get("token"))
		assert.Equal(t, "refresh_token", r.Form.Get("token_type_hint"))
	}))
	defer server.Close()

	client := newTestAuthClient(t, server)
	require.NoError(t, client.RevokeToken(context.Background(), "refresh-xyz"))
}

func TestRevokeTokenServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestAuthClient(t, server)
	err := client.RevokeToken(context.Background(), "refresh-xyz")

	var sErr *ServiceError
	require.ErrorAs(t, err, &sErr)
}
