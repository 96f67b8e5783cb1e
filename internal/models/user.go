package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is the account record. VIP entitlement state lives here: IsVip plus
// VipExpireAt, which is only ever extended by the purchase engine.
type User struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Email             string         `gorm:"not null;size:255;uniqueIndex" json:"email"`
	Username          string         `gorm:"size:100" json:"username"`
	Password          string         `gorm:"not null" json:"-"`
	Role              string         `gorm:"size:20;default:'user'" json:"role"`
	AppleUserID       *string        `gorm:"size:255;index" json:"-"`
	AppleRefreshToken string         `gorm:"size:2048" json:"-"`
	AuthProvider      string         `gorm:"size:50;default:'email'" json:"-"`
	DeviceID          string         `gorm:"size:255" json:"-"`
	IsVip             bool           `gorm:"default:false" json:"is_vip"`
	VipExpireAt       *time.Time     `json:"vip_expire_at"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
}
