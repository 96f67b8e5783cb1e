package models

import (
	"time"

	"github.com/google/uuid"
)

type FeedbackType string

const (
	FeedbackBug        FeedbackType = "bug"
	FeedbackSuggestion FeedbackType = "suggestion"
	FeedbackFeature    FeedbackType = "feature"
)

type Feedback struct {
	ID        uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID    `gorm:"type:uuid;not null;index" json:"user_id"`
	Type      FeedbackType `gorm:"size:20;not null;default:'suggestion'" json:"type"`
	Content   string       `gorm:"type:text;not null" json:"content"`
	Contact   string       `gorm:"size:255" json:"contact"`
	Status    string       `gorm:"size:20;not null;default:'open'" json:"status"`
	AdminNote string       `gorm:"size:1000" json:"admin_note,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	User      User         `gorm:"foreignKey:UserID" json:"-"`
}
