package appstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	_, pemKey := newTestKey(t)
	tokens, err := NewTokenBuilder("KEY123", "issuer-id", "io.theone.test", pemKey)
	require.NoError(t, err)

	client := NewClient(tokens)
	client.http = server.Client()
	client.productionBase = server.URL
	client.sandboxBase = server.URL
	return client
}

func baseTransaction() Transaction {
	return Transaction{
		TransactionID:         "2000000123456789",
		OriginalTransactionID: "2000000123456789",
		BundleID:              "io.theone.test",
		ProductID:             "io.theone.test.sub.noauto.7d",
		PurchaseDate:          1714560000000,
		OriginalPurchaseDate:  1714560000000,
		Quantity:              1,
		Type:                  "Non-Renewing Subscription",
		AppAccountToken:       "9c6f0a1e-1111-2222-3333-444455556666",
		InAppOwnershipType:    "PURCHASED",
		SignedDate:            1714560001000,
		Environment:           EnvironmentSandbox,
	}
}

func TestValidateComplete(t *testing.T) {
	authoritative := baseTransaction()
	// Apple re-signs on every fetch; a differing signedDate must not fail
	// the cross-check.
	authoritative.SignedDate = 1714570000000

	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "))
		assert.Equal(t, "/inApps/v1/transactions/2000000123456789", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{
			"signedTransactionInfo": signPayload(t, authoritative),
		})
	}))
	defer server.Close()

	validator := NewValidator(newTestClient(t, server))
	claimed := signPayload(t, baseTransaction())

	txn, err := validator.ValidateComplete(context.Background(), claimed, "2000000123456789")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// The returned copy is the authoritative one, not the client's.
	assert.Equal(t, int64(1714570000000), txn.SignedDate)
}

func TestValidateCompleteTransactionIDMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no network call expected for a mismatched transaction id")
	}))
	defer server.Close()

	validator := NewValidator(newTestClient(t, server))
	claimed := signPayload(t, baseTransaction())

	_, err := validator.ValidateComplete(context.Background(), claimed, "9999999999")
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Reason, "mismatch")
}

func TestValidateCompleteCrossCheckMismatch(t *testing.T) {
	authoritative := baseTransaction()
	authoritative.ProductID = "io.theone.test.sub.noauto.yearly"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"signedTransactionInfo": signPayload(t, authoritative),
		})
	}))
	defer server.Close()

	validator := NewValidator(newTestClient(t, server))
	claimed := signPayload(t, baseTransaction())

	_, err := validator.ValidateComplete(context.Background(), claimed, "2000000123456789")
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Reason, "productId")
}

func TestGetTransactionNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	_, err := client.GetTransaction(context.Background(), "123", EnvironmentProduction)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Reason, "not found")
}

func TestGetTransactionServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	_, err := client.GetTransaction(context.Background(), "123", EnvironmentProduction)

	var sErr *ServiceError
	require.ErrorAs(t, err, &sErr)
}

func TestGetTransactionHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/inApps/v1/history/123", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"revision":           "rev-1",
			"hasMore":            false,
			"signedTransactions": []string{"a.b.c", "d.e.f"},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server)
	signed, err := client.GetTransactionHistory(context.Background(), "123", EnvironmentSandbox)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.b.c", "d.e.f"}, signed)
}

func TestFetchHistoryDecodesEveryPayload(t *testing.T) {
	first := baseTransaction()
	second := baseTransaction()
	second.TransactionID = "2000000123456790"
	second.ProductID = "io.theone.test.sub.noauto.monthly"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/inApps/v1/history/2000000123456789", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"revision":           "rev-1",
			"hasMore":            false,
			"signedTransactions": []string{signPayload(t, first), signPayload(t, second)},
		})
	}))
	defer server.Close()

	validator := NewValidator(newTestClient(t, server))
	txns, err := validator.FetchHistory(context.Background(), "2000000123456789", EnvironmentSandbox)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, "2000000123456789", txns[0].TransactionID)
	assert.Equal(t, "io.theone.test.sub.noauto.monthly", txns[1].ProductID)
}
