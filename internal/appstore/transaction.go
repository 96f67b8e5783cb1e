package appstore

import (
	"context"
	"fmt"
)

// Validator implements the per-transaction validation protocol: decode the
// client-submitted payload, re-fetch the authoritative copy from Apple, and
// cross-check the two. Only the authoritative copy is ever returned.
type Validator struct {
	client *Client
}

func NewValidator(client *Client) *Validator {
	return &Validator{client: client}
}

// FetchAuthoritative retrieves and decodes the signed payload Apple holds
// for the transaction. This is the trusted source of truth.
func (v *Validator) FetchAuthoritative(ctx context.Context, transactionID string, env Environment) (*Transaction, error) {
	signed, err := v.client.GetTransaction(ctx, transactionID, env)
	if err != nil {
		return nil, err
	}
	return DecodeTransaction(signed)
}

// FetchHistory retrieves and decodes every signed payload on the
// transaction's history page.
func (v *Validator) FetchHistory(ctx context.Context, transactionID string, env Environment) ([]*Transaction, error) {
	signed, err := v.client.GetTransactionHistory(ctx, transactionID, env)
	if err != nil {
		return nil, err
	}
	txns := make([]*Transaction, 0, len(signed))
	for _, s := range signed {
		txn, err := DecodeTransaction(s)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, nil
}

// ValidateComplete validates a client-submitted signed payload end to end.
// The client payload is used only to learn which transaction to look up;
// the returned transaction is always the authoritative copy.
func (v *Validator) ValidateComplete(ctx context.Context, signedPayload, expectedTransactionID string) (*Transaction, error) {
	claimed, err := DecodeTransaction(signedPayload)
	if err != nil {
		return nil, err
	}
	if claimed.TransactionID != expectedTransactionID {
		return nil, &ValidationError{Reason: fmt.Sprintf(
			"transaction id mismatch: payload carries %s, request claims %s",
			claimed.TransactionID, expectedTransactionID)}
	}

	authoritative, err := v.FetchAuthoritative(ctx, claimed.TransactionID, claimed.Environment)
	if err != nil {
		return nil, err
	}

	if err := compareTransactions(claimed, authoritative); err != nil {
		return nil, err
	}
	return authoritative, nil
}

// compareTransactions cross-checks every claim that must be identical
// between the two copies. signedDate legitimately differs per signing event
// and is skipped.
func compareTransactions(claimed, authoritative *Transaction) error {
	fields := []struct {
		name                   string
		claimed, authoritative interface{}
	}{
		{"transactionId", claimed.TransactionID, authoritative.TransactionID},
		{"originalTransactionId", claimed.OriginalTransactionID, authoritative.OriginalTransactionID},
		{"webOrderLineItemId", claimed.WebOrderLineItemID, authoritative.WebOrderLineItemID},
		{"bundleId", claimed.BundleID, authoritative.BundleID},
		{"productId", claimed.ProductID, authoritative.ProductID},
		{"subscriptionGroupIdentifier", claimed.SubscriptionGroupIdentifier, authoritative.SubscriptionGroupIdentifier},
		{"purchaseDate", claimed.PurchaseDate, authoritative.PurchaseDate},
		{"originalPurchaseDate", claimed.OriginalPurchaseDate, authoritative.OriginalPurchaseDate},
		{"expiresDate", claimed.ExpiresDate, authoritative.ExpiresDate},
		{"quantity", claimed.Quantity, authoritative.Quantity},
		{"type", claimed.Type, authoritative.Type},
		{"appAccountToken", claimed.AppAccountToken, authoritative.AppAccountToken},
		{"inAppOwnershipType", claimed.InAppOwnershipType, authoritative.InAppOwnershipType},
		{"environment", claimed.Environment, authoritative.Environment},
		{"storefront", claimed.Storefront, authoritative.Storefront},
	}

	for _, f := range fields {
		if f.claimed != f.authoritative {
			return &ValidationError{Reason: fmt.Sprintf("transaction data inconsistent: %s mismatch", f.name)}
		}
	}
	return nil
}
