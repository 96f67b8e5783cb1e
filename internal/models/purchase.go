package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseCompleted PurchaseStatus = "completed"
	PurchaseFailed    PurchaseStatus = "failed"
	PurchaseRefunded  PurchaseStatus = "refunded"
	PurchaseExpired   PurchaseStatus = "expired"
)

type Platform string

const (
	PlatformIOS    Platform = "ios"
	PlatformCustom Platform = "custom"
	PlatformSite   Platform = "site"
)

// Purchase is one record per real-world transaction. TransactionID is the
// idempotency key; the unique index is what makes concurrent duplicate
// validation requests safe, not the preceding existence check.
type Purchase struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	ProductID     string         `gorm:"size:100;not null" json:"product_id"`
	TransactionID string         `gorm:"size:100;not null;uniqueIndex" json:"transaction_id"`
	Payload       datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	Environment   string         `gorm:"size:20;not null" json:"environment"`
	Platform      Platform       `gorm:"size:20;not null" json:"platform"`
	Status        PurchaseStatus `gorm:"size:20;not null;default:'pending'" json:"status"`
	PurchaseDate  time.Time      `gorm:"not null" json:"purchase_date"`
	ExpiresDate   *time.Time     `json:"expires_date"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	User          User           `gorm:"foreignKey:UserID" json:"-"`
}
