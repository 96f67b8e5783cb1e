package appstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"
)

const (
	productionVerifyURL = "https://buy.itunes.apple.com/verifyReceipt"
	sandboxVerifyURL    = "https://sandbox.itunes.apple.com/verifyReceipt"

	// verifyReceipt status for "this is a sandbox receipt sent to
	// production"; the only status that triggers the environment fallback.
	statusSandboxReceipt = 21007
)

var receiptStatusMessages = map[int]string{
	21000: "the request body is not valid JSON",
	21002: "the receipt data is malformed or missing",
	21003: "the receipt could not be authenticated",
	21004: "the shared secret does not match the account",
	21005: "the receipt server is temporarily unavailable",
	21006: "the receipt is valid but the subscription has expired",
	21007: "the receipt is from sandbox but was sent to production",
	21008: "the receipt is from production but was sent to sandbox",
	21009: "internal data access error",
	21010: "the user account cannot be found or has been deleted",
}

func receiptStatusMessage(status int) string {
	if msg, ok := receiptStatusMessages[status]; ok {
		return msg
	}
	return fmt.Sprintf("unknown verification error (status %d)", status)
}

// receiptTransaction is one entry of in_app or latest_receipt_info. Apple
// encodes all dates as millisecond epoch strings.
type receiptTransaction struct {
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	ProductID             string `json:"product_id"`
	PurchaseDateMS        string `json:"purchase_date_ms"`
	ExpiresDate           string `json:"expires_date,omitempty"`
	ExpiresDateMS         string `json:"expires_date_ms,omitempty"`
	CancellationDate      string `json:"cancellation_date,omitempty"`
	CancellationDateMS    string `json:"cancellation_date_ms,omitempty"`
}

func (t *receiptTransaction) purchaseTime() time.Time {
	ms, _ := strconv.ParseInt(t.PurchaseDateMS, 10, 64)
	return time.UnixMilli(ms)
}

func (t *receiptTransaction) expiresTime() *time.Time {
	if t.ExpiresDateMS == "" {
		return nil
	}
	ms, err := strconv.ParseInt(t.ExpiresDateMS, 10, 64)
	if err != nil {
		return nil
	}
	expires := time.UnixMilli(ms)
	return &expires
}

func (t *receiptTransaction) isSubscription() bool {
	return t.ExpiresDateMS != "" || t.ExpiresDate != ""
}

func (t *receiptTransaction) isCancelled() bool {
	return t.CancellationDate != "" || t.CancellationDateMS != ""
}

func (t *receiptTransaction) isActive(now time.Time) bool {
	if t.isCancelled() {
		return false
	}
	if !t.isSubscription() {
		return true
	}
	expires := t.expiresTime()
	return expires != nil && expires.After(now)
}

type verifyReceiptResponse struct {
	Status      int    `json:"status"`
	Environment string `json:"environment"`
	Receipt     struct {
		BundleID string               `json:"bundle_id"`
		InApp    []receiptTransaction `json:"in_app"`
	} `json:"receipt"`
	LatestReceiptInfo  []receiptTransaction `json:"latest_receipt_info"`
	PendingRenewalInfo []json.RawMessage    `json:"pending_renewal_info"`
}

// ReceiptResult is the currently-valid purchase extracted from a receipt.
type ReceiptResult struct {
	IsValid               bool
	TransactionID         string
	OriginalTransactionID string
	ProductID             string
	PurchaseDate          time.Time
	ExpiresDate           *time.Time
	IsSubscription        bool
	Environment           Environment
	BundleID              string
}

// RestoreResult reports restorable purchases. A failed restore is a value,
// not an error: an empty or partial restore is a legitimate outcome.
type RestoreResult struct {
	IsValid      bool
	Purchases    []ReceiptResult
	ErrorMessage string
}

// ReceiptValidator validates whole-history receipt blobs against the legacy
// verifyReceipt endpoints.
type ReceiptValidator struct {
	sharedSecret string
	http         *http.Client
	now          func() time.Time

	// Overridable for tests.
	productionURL string
	sandboxURL    string
}

func NewReceiptValidator(sharedSecret string) *ReceiptValidator {
	return &ReceiptValidator{
		sharedSecret:  sharedSecret,
		http:          &http.Client{Timeout: 10 * time.Second},
		now:           time.Now,
		productionURL: productionVerifyURL,
		sandboxURL:    sandboxVerifyURL,
	}
}

// Validate verifies a receipt and extracts its current transaction. When env
// is nil it tries production first and falls back to sandbox exactly once,
// if and only if production reports a sandbox receipt.
func (v *ReceiptValidator) Validate(ctx context.Context, receiptData string, env *Environment) (*ReceiptResult, error) {
	if env != nil {
		return v.validateIn(ctx, receiptData, *env)
	}

	result, err := v.validateIn(ctx, receiptData, EnvironmentProduction)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) && verr.Status == statusSandboxReceipt {
			slog.Info("receipt came from sandbox, retrying against sandbox")
			return v.validateIn(ctx, receiptData, EnvironmentSandbox)
		}
		return nil, err
	}
	return result, nil
}

func (v *ReceiptValidator) validateIn(ctx context.Context, receiptData string, env Environment) (*ReceiptResult, error) {
	resp, err := v.callVerify(ctx, receiptData, env)
	if err != nil {
		return nil, err
	}
	if resp.Status != 0 {
		return nil, &ValidationError{
			Reason: fmt.Sprintf("receipt rejected: %s (status %d)", receiptStatusMessage(resp.Status), resp.Status),
			Status: resp.Status,
		}
	}

	current, err := selectCurrentTransaction(resp, v.now())
	if err != nil {
		return nil, err
	}

	return &ReceiptResult{
		IsValid:               true,
		TransactionID:         current.TransactionID,
		OriginalTransactionID: current.OriginalTransactionID,
		ProductID:             current.ProductID,
		PurchaseDate:          current.purchaseTime(),
		ExpiresDate:           current.expiresTime(),
		IsSubscription:        current.isSubscription(),
		Environment:           environmentFromResponse(resp.Environment),
		BundleID:              resp.Receipt.BundleID,
	}, nil
}

// Restore collects every restorable purchase in the receipt: non-consumable
// one-time purchases, plus subscriptions that are neither expired nor
// cancelled. Transactions are deduplicated by transaction id.
func (v *ReceiptValidator) Restore(ctx context.Context, receiptData string) *RestoreResult {
	resp, err := v.callVerify(ctx, receiptData, EnvironmentProduction)
	if err == nil && resp.Status == statusSandboxReceipt {
		slog.Info("receipt came from sandbox, retrying restore against sandbox")
		resp, err = v.callVerify(ctx, receiptData, EnvironmentSandbox)
	}
	if err != nil {
		return &RestoreResult{IsValid: false, Purchases: []ReceiptResult{}, ErrorMessage: err.Error()}
	}
	if resp.Status != 0 {
		return &RestoreResult{
			IsValid:      false,
			Purchases:    []ReceiptResult{},
			ErrorMessage: fmt.Sprintf("receipt rejected: %s (status %d)", receiptStatusMessage(resp.Status), resp.Status),
		}
	}

	all := append(append([]receiptTransaction{}, resp.Receipt.InApp...), resp.LatestReceiptInfo...)
	now := v.now()
	env := environmentFromResponse(resp.Environment)

	seen := make(map[string]bool, len(all))
	purchases := []ReceiptResult{}
	for i := range all {
		t := &all[i]
		if seen[t.TransactionID] {
			continue
		}
		seen[t.TransactionID] = true

		if !t.isActive(now) {
			continue
		}
		purchases = append(purchases, ReceiptResult{
			IsValid:               true,
			TransactionID:         t.TransactionID,
			OriginalTransactionID: t.OriginalTransactionID,
			ProductID:             t.ProductID,
			PurchaseDate:          t.purchaseTime(),
			ExpiresDate:           t.expiresTime(),
			IsSubscription:        t.isSubscription(),
			Environment:           env,
			BundleID:              resp.Receipt.BundleID,
		})
	}

	return &RestoreResult{IsValid: true, Purchases: purchases}
}

func (v *ReceiptValidator) callVerify(ctx context.Context, receiptData string, env Environment) (*verifyReceiptResponse, error) {
	endpoint := v.sandboxURL
	if env == EnvironmentProduction {
		endpoint = v.productionURL
	}

	body, err := json.Marshal(map[string]interface{}{
		"receipt-data":             receiptData,
		"password":                 v.sharedSecret,
		"exclude-old-transactions": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.http.Do(req)
	if err != nil {
		return nil, &ServiceError{Op: "verify receipt", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ServiceError{Op: "verify receipt", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var verify verifyReceiptResponse
	if err := json.NewDecoder(resp.Body).Decode(&verify); err != nil {
		return nil, &ServiceError{Op: "verify receipt", Err: fmt.Errorf("invalid response body: %w", err)}
	}
	return &verify, nil
}

// selectCurrentTransaction picks the transaction a receipt currently
// entitles: newest by purchase date, preferring the subscription-oriented
// latest_receipt_info list. A cancelled entry is never selected; if the
// newest subscription has lapsed, the remaining entries are scanned for a
// still-valid one.
func selectCurrentTransaction(resp *verifyReceiptResponse, now time.Time) (*receiptTransaction, error) {
	transactions := resp.LatestReceiptInfo
	if len(transactions) == 0 {
		transactions = resp.Receipt.InApp
	}
	if len(transactions) == 0 {
		return nil, &ValidationError{Reason: "no transactions found in receipt"}
	}

	sorted := make([]receiptTransaction, len(transactions))
	copy(sorted, transactions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].purchaseTime().After(sorted[j].purchaseTime())
	})

	latest := &sorted[0]
	if latest.isActive(now) {
		return latest, nil
	}

	for i := 1; i < len(sorted); i++ {
		if sorted[i].isActive(now) {
			return &sorted[i], nil
		}
	}
	return nil, &ValidationError{Reason: "all subscriptions expired"}
}

func environmentFromResponse(env string) Environment {
	if env == "Sandbox" {
		return EnvironmentSandbox
	}
	return EnvironmentProduction
}
