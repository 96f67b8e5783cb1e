package appstore

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

type Environment string

const (
	EnvironmentProduction   Environment = "Production"
	EnvironmentSandbox      Environment = "Sandbox"
	EnvironmentXcode        Environment = "Xcode"
	EnvironmentLocalTesting Environment = "LocalTesting"
)

// Transaction holds the decoded claims of a signed transaction payload.
// Date fields are millisecond epoch timestamps, as Apple encodes them.
type Transaction struct {
	TransactionID               string      `json:"transactionId"`
	OriginalTransactionID       string      `json:"originalTransactionId"`
	WebOrderLineItemID          string      `json:"webOrderLineItemId,omitempty"`
	BundleID                    string      `json:"bundleId"`
	ProductID                   string      `json:"productId"`
	SubscriptionGroupIdentifier string      `json:"subscriptionGroupIdentifier,omitempty"`
	PurchaseDate                int64       `json:"purchaseDate"`
	OriginalPurchaseDate        int64       `json:"originalPurchaseDate"`
	ExpiresDate                 int64       `json:"expiresDate,omitempty"`
	Quantity                    int         `json:"quantity"`
	Type                        string      `json:"type"`
	AppAccountToken             string      `json:"appAccountToken,omitempty"`
	InAppOwnershipType          string      `json:"inAppOwnershipType"`
	SignedDate                  int64       `json:"signedDate"`
	Environment                 Environment `json:"environment"`
	Storefront                  string      `json:"storefront,omitempty"`
	TransactionReason           string      `json:"transactionReason,omitempty"`
}

func (t *Transaction) PurchaseTime() time.Time {
	return time.UnixMilli(t.PurchaseDate)
}

// ExpiresTime returns nil for non-subscription transactions.
func (t *Transaction) ExpiresTime() *time.Time {
	if t.ExpiresDate == 0 {
		return nil
	}
	expires := time.UnixMilli(t.ExpiresDate)
	return &expires
}

// DecodeTransaction splits a three-segment signed payload and parses the
// claims segment. It does NOT verify the signature: a decoded payload is
// only ever used to learn which transaction to re-fetch from Apple, and the
// re-fetched copy is the one trusted.
func DecodeTransaction(signedPayload string) (*Transaction, error) {
	parts := strings.Split(signedPayload, ".")
	if len(parts) != 3 {
		return nil, &ValidationError{Reason: "malformed signed payload: expected three segments"}
	}

	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil, &ValidationError{Reason: "malformed signed payload: claims segment is not base64url"}
	}

	var txn Transaction
	if err := json.Unmarshal(data, &txn); err != nil {
		return nil, &ValidationError{Reason: "malformed signed payload: claims segment is not valid JSON"}
	}
	return &txn, nil
}
