package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/theoneapp/theone-backend/internal/dto"
	"github.com/theoneapp/theone-backend/internal/models"
	"gorm.io/gorm"
)

var ErrFeedbackNotFound = errors.New("feedback not found")

// Words that get a submission silently rejected. Kept short on purpose;
// this is a spam tripwire, not a content policy.
var bannedWords = []string{
	"viagra",
	"casino",
	"loan offer",
	"crypto pump",
}

type FeedbackService struct {
	db *gorm.DB
}

func NewFeedbackService(db *gorm.DB) *FeedbackService {
	return &FeedbackService{db: db}
}

func (s *FeedbackService) Create(userID uuid.UUID, req *dto.CreateFeedbackRequest) (*models.Feedback, error) {
	lower := strings.ToLower(req.Content)
	for _, word := range bannedWords {
		if strings.Contains(lower, word) {
			return nil, errors.New("feedback rejected")
		}
	}

	fbType := models.FeedbackType(req.Type)
	if req.Type == "" {
		fbType = models.FeedbackSuggestion
	}

	feedback := models.Feedback{
		ID:      uuid.New(),
		UserID:  userID,
		Type:    fbType,
		Content: req.Content,
		Contact: req.Contact,
		Status:  "open",
	}

	if err := s.db.Create(&feedback).Error; err != nil {
		return nil, fmt.Errorf("failed to create feedback: %w", err)
	}
	return &feedback, nil
}

func (s *FeedbackService) ListByUser(userID uuid.UUID) ([]models.Feedback, error) {
	var items []models.Feedback
	err := s.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	return items, nil
}

// ListAll is the admin view, optionally filtered by status.
func (s *FeedbackService) ListAll(status string, limit int) ([]models.Feedback, error) {
	q := s.db.Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var items []models.Feedback
	if err := q.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	return items, nil
}

func (s *FeedbackService) Update(id uuid.UUID, req *dto.UpdateFeedbackRequest) (*models.Feedback, error) {
	var feedback models.Feedback
	if err := s.db.First(&feedback, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFeedbackNotFound
		}
		return nil, fmt.Errorf("failed to load feedback: %w", err)
	}

	updates := map[string]interface{}{"status": req.Status}
	if req.AdminNote != "" {
		updates["admin_note"] = req.AdminNote
	}
	if err := s.db.Model(&feedback).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update feedback: %w", err)
	}
	return &feedback, nil
}
