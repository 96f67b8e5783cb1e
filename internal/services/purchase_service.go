package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/theoneapp/theone-backend/internal/appstore"
	"github.com/theoneapp/theone-backend/internal/catalog"
	"github.com/theoneapp/theone-backend/internal/dto"
	"github.com/theoneapp/theone-backend/internal/models"
	"gorm.io/gorm"
)

var (
	ErrPurchaseOwnedByOther = errors.New("this purchase belongs to a different account")
	ErrMissingCredential    = errors.New("either signed_transaction_info or receipt_data is required")
)

// TransactionVerifier validates a signed transaction payload against the
// App Store Server API. Implemented by appstore.Validator.
type TransactionVerifier interface {
	ValidateComplete(ctx context.Context, signedPayload, expectedTransactionID string) (*appstore.Transaction, error)
	FetchHistory(ctx context.Context, transactionID string, env appstore.Environment) ([]*appstore.Transaction, error)
}

// ReceiptVerifier validates whole-history receipts against the legacy
// verifyReceipt protocol. Implemented by appstore.ReceiptValidator.
type ReceiptVerifier interface {
	Validate(ctx context.Context, receiptData string, env *appstore.Environment) (*appstore.ReceiptResult, error)
	Restore(ctx context.Context, receiptData string) *appstore.RestoreResult
}

// PurchaseService is the validate-and-grant workflow. It is the only
// component handlers call for purchases.
type PurchaseService struct {
	db           *gorm.DB
	catalog      *catalog.Catalog
	transactions TransactionVerifier
	receipts     ReceiptVerifier
	entitlements *EntitlementService
}

func NewPurchaseService(db *gorm.DB, cat *catalog.Catalog, transactions TransactionVerifier, receipts ReceiptVerifier, entitlements *EntitlementService) *PurchaseService {
	return &PurchaseService{
		db:           db,
		catalog:      cat,
		transactions: transactions,
		receipts:     receipts,
		entitlements: entitlements,
	}
}

// ValidatePurchase proves the claimed purchase with Apple, records it
// exactly once, and extends the caller's VIP window. Validating the same
// transaction twice is a successful no-op reporting is_new_order=false.
func (s *PurchaseService) ValidatePurchase(ctx context.Context, userID uuid.UUID, req *dto.PurchaseValidationRequest) (*dto.PurchaseValidationResponse, error) {
	// Catalog check comes first: an unknown product never costs a network
	// call.
	product, err := s.catalog.Find(req.ProductID)
	if err != nil {
		return nil, err
	}

	switch {
	case req.SignedTransactionInfo != "":
		return s.validateSignedTransaction(ctx, userID, product, req)
	case req.ReceiptData != "":
		return s.validateReceipt(ctx, userID, product, req)
	default:
		return nil, ErrMissingCredential
	}
}

func (s *PurchaseService) validateSignedTransaction(ctx context.Context, userID uuid.UUID, product catalog.Product, req *dto.PurchaseValidationRequest) (*dto.PurchaseValidationResponse, error) {
	if req.TransactionID == "" {
		return nil, &appstore.ValidationError{Reason: "transaction_id is required with signed_transaction_info"}
	}

	if existing, err := s.findByTransactionID(ctx, req.TransactionID); err != nil {
		return nil, err
	} else if existing != nil {
		if existing.UserID != userID {
			slog.Warn("transaction already recorded for a different account",
				"transaction_id", req.TransactionID, "user_id", userID)
			return nil, ErrPurchaseOwnedByOther
		}
		slog.Info("transaction already recorded, returning existing purchase",
			"transaction_id", req.TransactionID, "user_id", userID)
		return alreadyCompleted(existing), nil
	}

	txn, err := s.transactions.ValidateComplete(ctx, req.SignedTransactionInfo, req.TransactionID)
	if err != nil {
		slog.Error("transaction validation failed", "transaction_id", req.TransactionID, "error", err)
		return nil, err
	}

	// The app account token is set by the client at purchase time; a
	// mismatch means the payload was lifted from another account.
	if !strings.EqualFold(txn.AppAccountToken, userID.String()) {
		slog.Warn("purchase bound to a different account",
			"transaction_id", txn.TransactionID, "user_id", userID)
		return nil, ErrPurchaseOwnedByOther
	}

	payload, err := json.Marshal(txn)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction payload: %w", err)
	}

	record := models.Purchase{
		ID:            uuid.New(),
		UserID:        userID,
		ProductID:     txn.ProductID,
		TransactionID: txn.TransactionID,
		Payload:       payload,
		Environment:   string(txn.Environment),
		Platform:      models.Platform(req.Platform),
		Status:        models.PurchaseCompleted,
		PurchaseDate:  txn.PurchaseTime(),
		ExpiresDate:   txn.ExpiresTime(),
	}
	return s.persistAndGrant(ctx, userID, &record, product)
}

// validateReceipt is the legacy whole-receipt flow. The receipt itself
// names the transaction, so the idempotency check runs after validation.
func (s *PurchaseService) validateReceipt(ctx context.Context, userID uuid.UUID, product catalog.Product, req *dto.PurchaseValidationRequest) (*dto.PurchaseValidationResponse, error) {
	var env *appstore.Environment
	if req.Environment != "" {
		e := appstore.Environment(req.Environment)
		env = &e
	}

	result, err := s.receipts.Validate(ctx, req.ReceiptData, env)
	if err != nil {
		slog.Error("receipt validation failed", "user_id", userID, "error", err)
		return nil, err
	}
	if result.ProductID != req.ProductID {
		return nil, &appstore.ValidationError{Reason: fmt.Sprintf(
			"receipt is for product %s, request claims %s", result.ProductID, req.ProductID)}
	}

	if existing, err := s.findByTransactionID(ctx, result.TransactionID); err != nil {
		return nil, err
	} else if existing != nil {
		if existing.UserID != userID {
			slog.Warn("transaction already recorded for a different account",
				"transaction_id", result.TransactionID, "user_id", userID)
			return nil, ErrPurchaseOwnedByOther
		}
		slog.Info("transaction already recorded, returning existing purchase",
			"transaction_id", result.TransactionID, "user_id", userID)
		return alreadyCompleted(existing), nil
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode receipt payload: %w", err)
	}

	record := models.Purchase{
		ID:            uuid.New(),
		UserID:        userID,
		ProductID:     result.ProductID,
		TransactionID: result.TransactionID,
		Payload:       payload,
		Environment:   string(result.Environment),
		Platform:      models.Platform(req.Platform),
		Status:        models.PurchaseCompleted,
		PurchaseDate:  result.PurchaseDate,
		ExpiresDate:   result.ExpiresDate,
	}
	return s.persistAndGrant(ctx, userID, &record, product)
}

// persistAndGrant commits the purchase record and the entitlement extension
// as one unit of work. A lost insert race on transaction_id is treated as
// "already processed", not an error.
func (s *PurchaseService) persistAndGrant(ctx context.Context, userID uuid.UUID, record *models.Purchase, product catalog.Product) (*dto.PurchaseValidationResponse, error) {
	// Last clean abort point. Once persistence starts the operation runs
	// to completion: a recorded purchase with no grant is the worse
	// failure mode than a slightly late entitlement.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dbCtx := context.WithoutCancel(ctx)

	err := s.db.WithContext(dbCtx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		var user models.User
		if err := tx.First(&user, "id = ?", userID).Error; err != nil {
			return fmt.Errorf("account not found for entitlement grant: %w", err)
		}
		return s.entitlements.Grant(tx, &user, product.VipDays)
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// A concurrent request recorded this transaction between our
			// existence check and the insert. Theirs counts; re-read it.
			existing, readErr := s.findByTransactionID(dbCtx, record.TransactionID)
			if readErr != nil || existing == nil {
				return nil, fmt.Errorf("failed to re-read purchase after conflict: %w", err)
			}
			if existing.UserID != userID {
				return nil, ErrPurchaseOwnedByOther
			}
			slog.Info("lost insert race for transaction, returning existing purchase",
				"transaction_id", record.TransactionID, "user_id", userID)
			return alreadyCompleted(existing), nil
		}
		slog.Error("failed to record purchase", "transaction_id", record.TransactionID, "error", err)
		return nil, fmt.Errorf("failed to record purchase: %w", err)
	}

	slog.Info("purchase validated and entitlement granted",
		"transaction_id", record.TransactionID, "product_id", record.ProductID,
		"user_id", userID, "vip_days", product.VipDays)

	return &dto.PurchaseValidationResponse{
		IsNewOrder: true,
		Message:    "entitlement granted",
		Purchase:   record,
	}, nil
}

// RestorePurchases syncs the caller's restorable purchases into the ledger.
// It grants no entitlement; it only rebuilds purchase history. Records that
// already belong to a different account never appear in the response.
func (s *PurchaseService) RestorePurchases(ctx context.Context, userID uuid.UUID, req *dto.RestorePurchasesRequest) (*dto.RestorePurchasesResponse, error) {
	switch {
	case req.TransactionID != "":
		return s.restoreFromHistory(ctx, userID, req)
	case req.ReceiptData != "":
		return s.restoreFromReceipt(ctx, userID, req)
	default:
		return nil, ErrMissingCredential
	}
}

// restoreFromHistory is the modern restore path: walk the transaction's
// history page on the App Store Server API and keep what is still active.
func (s *PurchaseService) restoreFromHistory(ctx context.Context, userID uuid.UUID, req *dto.RestorePurchasesRequest) (*dto.RestorePurchasesResponse, error) {
	env := appstore.EnvironmentProduction
	if req.Environment != "" {
		env = appstore.Environment(req.Environment)
	}

	history, err := s.transactions.FetchHistory(ctx, req.TransactionID, env)
	if err != nil {
		var vErr *appstore.ValidationError
		if errors.As(err, &vErr) {
			return &dto.RestorePurchasesResponse{
				Success:   false,
				Purchases: []*models.Purchase{},
				Message:   vErr.Reason,
			}, nil
		}
		slog.Error("transaction history fetch failed", "transaction_id", req.TransactionID, "error", err)
		return nil, err
	}

	now := time.Now()
	restored := make([]*models.Purchase, 0, len(history))
	for _, txn := range history {
		if txn.AppAccountToken != "" && !strings.EqualFold(txn.AppAccountToken, userID.String()) {
			slog.Warn("history entry bound to a different account",
				"transaction_id", txn.TransactionID, "user_id", userID)
			continue
		}
		if expires := txn.ExpiresTime(); expires != nil && expires.Before(now) {
			continue
		}

		payload, err := json.Marshal(txn)
		if err != nil {
			return nil, fmt.Errorf("failed to encode transaction payload: %w", err)
		}
		record := models.Purchase{
			ID:            uuid.New(),
			UserID:        userID,
			ProductID:     txn.ProductID,
			TransactionID: txn.TransactionID,
			Payload:       payload,
			Environment:   string(txn.Environment),
			Platform:      models.Platform(req.Platform),
			Status:        models.PurchaseCompleted,
			PurchaseDate:  txn.PurchaseTime(),
			ExpiresDate:   txn.ExpiresTime(),
		}
		kept, err := s.upsertRestored(ctx, userID, &record)
		if err != nil {
			return nil, err
		}
		if kept != nil {
			restored = append(restored, kept)
		}
	}
	return restoreResponse(restored), nil
}

// restoreFromReceipt is the legacy restore path over verifyReceipt.
func (s *PurchaseService) restoreFromReceipt(ctx context.Context, userID uuid.UUID, req *dto.RestorePurchasesRequest) (*dto.RestorePurchasesResponse, error) {
	result := s.receipts.Restore(ctx, req.ReceiptData)
	if !result.IsValid {
		return &dto.RestorePurchasesResponse{
			Success:   false,
			Purchases: []*models.Purchase{},
			Message:   result.ErrorMessage,
		}, nil
	}

	restored := make([]*models.Purchase, 0, len(result.Purchases))
	for i := range result.Purchases {
		p := &result.Purchases[i]

		payload, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode receipt payload: %w", err)
		}
		record := models.Purchase{
			ID:            uuid.New(),
			UserID:        userID,
			ProductID:     p.ProductID,
			TransactionID: p.TransactionID,
			Payload:       payload,
			Environment:   string(p.Environment),
			Platform:      models.Platform(req.Platform),
			Status:        models.PurchaseCompleted,
			PurchaseDate:  p.PurchaseDate,
			ExpiresDate:   p.ExpiresDate,
		}
		kept, err := s.upsertRestored(ctx, userID, &record)
		if err != nil {
			return nil, err
		}
		if kept != nil {
			restored = append(restored, kept)
		}
	}
	return restoreResponse(restored), nil
}

// upsertRestored records a restorable purchase unless the ledger already
// holds it. A row owned by a different account is skipped, never returned:
// one user's restore must not surface another account's records.
func (s *PurchaseService) upsertRestored(ctx context.Context, userID uuid.UUID, record *models.Purchase) (*models.Purchase, error) {
	existing, err := s.findByTransactionID(ctx, record.TransactionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.UserID != userID {
			slog.Warn("restore skipped a transaction owned by a different account",
				"transaction_id", record.TransactionID, "user_id", userID)
			return nil, nil
		}
		return existing, nil
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, readErr := s.findByTransactionID(ctx, record.TransactionID)
			if readErr == nil && existing != nil && existing.UserID == userID {
				return existing, nil
			}
			return nil, nil
		}
		slog.Error("failed to record restored purchase", "transaction_id", record.TransactionID, "error", err)
		return nil, nil
	}
	return record, nil
}

func restoreResponse(restored []*models.Purchase) *dto.RestorePurchasesResponse {
	return &dto.RestorePurchasesResponse{
		Success:   true,
		Count:     len(restored),
		Purchases: restored,
		Message:   fmt.Sprintf("restored %d purchases", len(restored)),
	}
}

// ListByUser returns the caller's purchase history, newest first.
func (s *PurchaseService) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Purchase, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var purchases []models.Purchase
	if err := q.Find(&purchases).Error; err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	return purchases, nil
}

func (s *PurchaseService) findByTransactionID(ctx context.Context, transactionID string) (*models.Purchase, error) {
	var purchase models.Purchase
	err := s.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&purchase).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up purchase: %w", err)
	}
	return &purchase, nil
}

func alreadyCompleted(existing *models.Purchase) *dto.PurchaseValidationResponse {
	return &dto.PurchaseValidationResponse{
		IsNewOrder: false,
		Message:    "purchase already completed",
		Purchase:   existing,
	}
}
