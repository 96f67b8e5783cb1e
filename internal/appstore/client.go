package appstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	productionAPIBase = "https://api.storekit.itunes.apple.com"
	sandboxAPIBase    = "https://api.storekit-sandbox.itunes.apple.com"
)

// Client calls the App Store Server API with a fresh bearer token per
// request. Reads are idempotent, so callers may retry on ServiceError.
type Client struct {
	tokens *TokenBuilder
	http   *http.Client

	// Overridable for tests.
	productionBase string
	sandboxBase    string
}

func NewClient(tokens *TokenBuilder) *Client {
	return &Client{
		tokens:         tokens,
		http:           &http.Client{Timeout: 10 * time.Second},
		productionBase: productionAPIBase,
		sandboxBase:    sandboxAPIBase,
	}
}

// A transaction verifies only against the environment that produced it.
// Xcode and LocalTesting builds talk to the sandbox host.
func (c *Client) baseURL(env Environment) string {
	if env == EnvironmentProduction {
		return c.productionBase
	}
	return c.sandboxBase
}

type transactionInfoResponse struct {
	SignedTransactionInfo string `json:"signedTransactionInfo"`
}

type historyResponse struct {
	Revision           string   `json:"revision"`
	HasMore            bool     `json:"hasMore"`
	SignedTransactions []string `json:"signedTransactions"`
}

// GetTransaction fetches the authoritative signed payload for one
// transaction from /inApps/v1/transactions/{id}.
func (c *Client) GetTransaction(ctx context.Context, transactionID string, env Environment) (string, error) {
	endpoint := fmt.Sprintf("%s/inApps/v1/transactions/%s", c.baseURL(env), url.PathEscape(transactionID))

	var info transactionInfoResponse
	if err := c.getJSON(ctx, endpoint, "get transaction", &info); err != nil {
		return "", err
	}
	if info.SignedTransactionInfo == "" {
		return "", &ValidationError{Reason: "transaction response carried no signed payload"}
	}
	return info.SignedTransactionInfo, nil
}

// GetTransactionHistory fetches the signed payloads of a transaction's
// history page from /inApps/v1/history/{id}.
func (c *Client) GetTransactionHistory(ctx context.Context, transactionID string, env Environment) ([]string, error) {
	endpoint := fmt.Sprintf("%s/inApps/v1/history/%s", c.baseURL(env), url.PathEscape(transactionID))

	var history historyResponse
	if err := c.getJSON(ctx, endpoint, "get transaction history", &history); err != nil {
		return nil, err
	}
	return history.SignedTransactions, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, op string, out interface{}) error {
	token, err := c.tokens.ServerAPIToken()
	if err != nil {
		return fmt.Errorf("failed to build server api token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return &ServiceError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &ServiceError{Op: op, Err: fmt.Errorf("invalid response body: %w", err)}
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return &ValidationError{Reason: "transaction not found for this environment"}
	default:
		return &ServiceError{Op: op, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
}
