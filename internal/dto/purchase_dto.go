package dto

import "github.com/theoneapp/theone-backend/internal/models"

// PurchaseValidationRequest validates one claimed purchase. The modern flow
// sends signed_transaction_info + transaction_id; the legacy flow sends
// receipt_data instead. product_id and platform are always required.
type PurchaseValidationRequest struct {
	SignedTransactionInfo string `json:"signed_transaction_info"`
	TransactionID         string `json:"transaction_id"`
	ReceiptData           string `json:"receipt_data"`
	ProductID             string `json:"product_id" validate:"required"`
	Platform              string `json:"platform" validate:"required,oneof=ios custom site"`
	Environment           string `json:"environment" validate:"omitempty,oneof=Sandbox Production Xcode LocalTesting"`
}

type PurchaseValidationResponse struct {
	IsNewOrder bool             `json:"is_new_order"`
	Message    string           `json:"message"`
	Purchase   *models.Purchase `json:"purchase,omitempty"`
}

// RestorePurchasesRequest rebuilds purchase history. The legacy flow sends
// receipt_data; the modern flow sends transaction_id and the server walks
// that transaction's history page instead.
type RestorePurchasesRequest struct {
	ReceiptData   string `json:"receipt_data"`
	TransactionID string `json:"transaction_id"`
	Platform      string `json:"platform" validate:"required,oneof=ios custom site"`
	Environment   string `json:"environment" validate:"omitempty,oneof=Sandbox Production Xcode LocalTesting"`
}

type RestorePurchasesResponse struct {
	Success   bool               `json:"success"`
	Count     int                `json:"count"`
	Purchases []*models.Purchase `json:"purchases"`
	Message   string             `json:"message"`
}
