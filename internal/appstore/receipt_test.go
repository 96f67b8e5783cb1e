package appstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var receiptNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func ms(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func newReceiptValidator(production, sandbox *httptest.Server) *ReceiptValidator {
	v := NewReceiptValidator("shared-secret")
	v.now = func() time.Time { return receiptNow }
	if production != nil {
		v.productionURL = production.URL
	}
	if sandbox != nil {
		v.sandboxURL = sandbox.URL
	}
	return v
}

func verifyHandler(t *testing.T, calls *int, response verifyReceiptResponse) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		*calls++

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "base64-receipt", body["receipt-data"])
		assert.Equal(t, "shared-secret", body["password"])
		assert.Equal(t, true, body["exclude-old-transactions"])

		json.NewEncoder(w).Encode(response)
	}
}

func activeSubscription(id string) receiptTransaction {
	return receiptTransaction{
		TransactionID:         id,
		OriginalTransactionID: id,
		ProductID:             "io.theone.test.sub.noauto.monthly",
		PurchaseDateMS:        ms(receiptNow.Add(-24 * time.Hour)),
		ExpiresDateMS:         ms(receiptNow.Add(30 * 24 * time.Hour)),
	}
}

func TestValidateSandboxFallback(t *testing.T) {
	var prodCalls, sandboxCalls int

	production := httptest.NewServer(verifyHandler(t, &prodCalls, verifyReceiptResponse{Status: 21007}))
	defer production.Close()

	sandboxResp := verifyReceiptResponse{Status: 0, Environment: "Sandbox"}
	sandboxResp.Receipt.BundleID = "io.theone.test"
	sandboxResp.LatestReceiptInfo = []receiptTransaction{activeSubscription("1001")}
	sandbox := httptest.NewServer(verifyHandler(t, &sandboxCalls, sandboxResp))
	defer sandbox.Close()

	v := newReceiptValidator(production, sandbox)
	result, err := v.Validate(context.Background(), "base64-receipt", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, prodCalls)
	assert.Equal(t, 1, sandboxCalls)
	assert.True(t, result.IsValid)
	assert.Equal(t, "1001", result.TransactionID)
	assert.Equal(t, EnvironmentSandbox, result.Environment)
	assert.Equal(t, "io.theone.test", result.BundleID)
}

func TestValidateNoFallbackWhenEnvironmentPinned(t *testing.T) {
	var prodCalls, sandboxCalls int

	production := httptest.NewServer(verifyHandler(t, &prodCalls, verifyReceiptResponse{Status: 21007}))
	defer production.Close()
	sandbox := httptest.NewServer(verifyHandler(t, &sandboxCalls, verifyReceiptResponse{Status: 0}))
	defer sandbox.Close()

	v := newReceiptValidator(production, sandbox)
	env := EnvironmentProduction
	_, err := v.Validate(context.Background(), "base64-receipt", &env)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, 21007, vErr.Status)
	assert.Equal(t, 1, prodCalls)
	assert.Equal(t, 0, sandboxCalls)
}

func TestValidateStatusError(t *testing.T) {
	var calls int
	production := httptest.NewServer(verifyHandler(t, &calls, verifyReceiptResponse{Status: 21003}))
	defer production.Close()

	v := newReceiptValidator(production, nil)
	_, err := v.Validate(context.Background(), "base64-receipt", nil)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, 21003, vErr.Status)
	assert.Contains(t, vErr.Reason, "authenticated")
}

func TestValidateTransportError(t *testing.T) {
	production := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	production.Close() // refuse connections

	v := newReceiptValidator(production, nil)
	_, err := v.Validate(context.Background(), "base64-receipt", nil)

	var sErr *ServiceError
	require.ErrorAs(t, err, &sErr)
}

func TestSelectCurrentTransactionPrefersLatest(t *testing.T) {
	old := activeSubscription("1")
	old.PurchaseDateMS = ms(receiptNow.Add(-60 * 24 * time.Hour))
	newer := activeSubscription("2")

	resp := &verifyReceiptResponse{}
	resp.LatestReceiptInfo = []receiptTransaction{old, newer}

	current, err := selectCurrentTransaction(resp, receiptNow)
	require.NoError(t, err)
	assert.Equal(t, "2", current.TransactionID)
}

func TestSelectCurrentTransactionSkipsCancelled(t *testing.T) {
	cancelled := activeSubscription("2")
	cancelled.CancellationDateMS = ms(receiptNow.Add(-time.Hour))
	valid := activeSubscription("1")
	valid.PurchaseDateMS = ms(receiptNow.Add(-48 * time.Hour))

	resp := &verifyReceiptResponse{}
	resp.LatestReceiptInfo = []receiptTransaction{valid, cancelled}

	current, err := selectCurrentTransaction(resp, receiptNow)
	require.NoError(t, err)
	assert.Equal(t, "1", current.TransactionID)
}

func TestSelectCurrentTransactionAllExpired(t *testing.T) {
	expired := activeSubscription("1")
	expired.ExpiresDateMS = ms(receiptNow.Add(-time.Hour))

	resp := &verifyReceiptResponse{}
	resp.LatestReceiptInfo = []receiptTransaction{expired}

	_, err := selectCurrentTransaction(resp, receiptNow)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Reason, "expired")
}

func TestSelectCurrentTransactionFallsBackToInApp(t *testing.T) {
	oneTime := receiptTransaction{
		TransactionID:  "42",
		ProductID:      "io.theone.test.sub.noauto.7d",
		PurchaseDateMS: ms(receiptNow.Add(-time.Hour)),
	}

	resp := &verifyReceiptResponse{}
	resp.Receipt.InApp = []receiptTransaction{oneTime}

	current, err := selectCurrentTransaction(resp, receiptNow)
	require.NoError(t, err)
	assert.Equal(t, "42", current.TransactionID)
}

func TestSelectCurrentTransactionEmptyReceipt(t *testing.T) {
	_, err := selectCurrentTransaction(&verifyReceiptResponse{}, receiptNow)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Reason, "no transactions")
}

func TestRestoreDeduplicatesAndFilters(t *testing.T) {
	active := activeSubscription("100")
	expired := activeSubscription("200")
	expired.ExpiresDateMS = ms(receiptNow.Add(-time.Hour))
	oneTime := receiptTransaction{
		TransactionID:  "300",
		ProductID:      "io.theone.test.sub.noauto.7d",
		PurchaseDateMS: ms(receiptNow.Add(-72 * time.Hour)),
	}

	resp := verifyReceiptResponse{Status: 0, Environment: "Production"}
	resp.Receipt.BundleID = "io.theone.test"
	resp.Receipt.InApp = []receiptTransaction{active, oneTime}
	// latest_receipt_info repeats the active entry and adds the lapsed one.
	resp.LatestReceiptInfo = []receiptTransaction{active, expired}

	var calls int
	production := httptest.NewServer(verifyHandler(t, &calls, resp))
	defer production.Close()

	v := newReceiptValidator(production, nil)
	result := v.Restore(context.Background(), "base64-receipt")

	require.True(t, result.IsValid)
	require.Len(t, result.Purchases, 2)

	ids := []string{result.Purchases[0].TransactionID, result.Purchases[1].TransactionID}
	assert.ElementsMatch(t, []string{"100", "300"}, ids)
}

func TestRestoreFailureIsAValue(t *testing.T) {
	var calls int
	production := httptest.NewServer(verifyHandler(t, &calls, verifyReceiptResponse{Status: 21002}))
	defer production.Close()

	v := newReceiptValidator(production, nil)
	result := v.Restore(context.Background(), "base64-receipt")

	assert.False(t, result.IsValid)
	assert.Empty(t, result.Purchases)
	assert.Contains(t, result.ErrorMessage, "malformed")
}
