package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Chat is one assistant conversation. Logs holds the relayed message
// exchange as a JSON array, appended to as the conversation progresses.
type Chat struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	ConversationID string         `gorm:"size:100;not null;index" json:"conversation_id"`
	LogStartAt     time.Time      `gorm:"not null" json:"log_start_at"`
	Logs           datatypes.JSON `gorm:"type:jsonb" json:"logs"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	User           User           `gorm:"foreignKey:UserID" json:"-"`
}
