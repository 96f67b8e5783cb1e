package appstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	appleAuthTokenURL  = "https://appleid.apple.com/auth/token"
	appleAuthRevokeURL = "https://appleid.apple.com/auth/revoke"
)

// TokenExchangeResult is the response of the authorization_code exchange.
type TokenExchangeResult struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
}

// AuthClient talks to the Sign in with Apple token endpoints, signing each
// call with the cached client secret.
type AuthClient struct {
	clientID string
	secrets  *ClientSecretProvider
	http     *http.Client

	// Overridable for tests.
	tokenURL  string
	revokeURL string
}

func NewAuthClient(clientID string, secrets *ClientSecretProvider) *AuthClient {
	return &AuthClient{
		clientID:  clientID,
		secrets:   secrets,
		http:      &http.Client{Timeout: 10 * time.Second},
		tokenURL:  appleAuthTokenURL,
		revokeURL: appleAuthRevokeURL,
	}
}

// ExchangeCode trades an authorization code for Apple tokens. The returned
// refresh token should be stored so the grant can be revoked later.
func (c *AuthClient) ExchangeCode(ctx context.Context, authCode string) (*TokenExchangeResult, error) {
	form, err := c.baseForm()
	if err != nil {
		return nil, err
	}
	form.Set("code", authCode)
	form.Set("grant_type", "authorization_code")

	resp, err := c.postForm(ctx, c.tokenURL, form, "token exchange")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ValidationError{Reason: fmt.Sprintf("apple rejected the authorization code (status %d)", resp.StatusCode)}
	}

	var result TokenExchangeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ServiceError{Op: "token exchange", Err: fmt.Errorf("invalid response body: %w", err)}
	}
	return &result, nil
}

// RevokeToken invalidates a previously issued refresh token.
func (c *AuthClient) RevokeToken(ctx context.Context, refreshToken string) error {
	form, err := c.baseForm()
	if err != nil {
		return err
	}
	form.Set("token", refreshToken)
	form.Set("token_type_hint", "refresh_token")

	resp, err := c.postForm(ctx, c.revokeURL, form, "token revoke")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ServiceError{Op: "token revoke", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return nil
}

func (c *AuthClient) baseForm() (url.Values, error) {
	secret, err := c.secrets.ClientSecret()
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", secret)
	return form, nil
}

func (c *AuthClient) postForm(ctx context.Context, endpoint string, form url.Values, op string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ServiceError{Op: op, Err: err}
	}
	return resp, nil
}
