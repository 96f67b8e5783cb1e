package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/theoneapp/theone-backend/internal/dto"
	"github.com/theoneapp/theone-backend/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrAssistantUnavailable = errors.New("assistant service is unavailable")

// chatLogEntry is one query/answer exchange inside Chat.Logs.
type chatLogEntry struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

type assistantRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id,omitempty"`
	User           string `json:"user"`
}

type assistantResponse struct {
	ConversationID string `json:"conversation_id"`
	Answer         string `json:"answer"`
}

// ChatService relays user messages to the external assistant API and keeps
// a per-conversation transcript in the chats table.
type ChatService struct {
	db     *gorm.DB
	http   *http.Client
	apiURL string
	apiKey string
}

func NewChatService(db *gorm.DB, apiURL, apiKey string) *ChatService {
	return &ChatService{
		db:     db,
		http:   &http.Client{Timeout: 30 * time.Second},
		apiURL: apiURL,
		apiKey: apiKey,
	}
}

func (s *ChatService) SendMessage(ctx context.Context, userID uuid.UUID, req *dto.ChatMessageRequest) (*dto.ChatMessageResponse, error) {
	answer, err := s.relay(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	if err := s.appendLog(userID, answer.ConversationID, req.Query, answer.Answer); err != nil {
		// The user already has the answer; a transcript write failure is
		// logged, not surfaced.
		slog.Error("failed to store chat log", "user_id", userID, "error", err)
	}

	return &dto.ChatMessageResponse{
		ConversationID: answer.ConversationID,
		Answer:         answer.Answer,
	}, nil
}

func (s *ChatService) relay(ctx context.Context, userID uuid.UUID, req *dto.ChatMessageRequest) (*assistantResponse, error) {
	if s.apiURL == "" {
		return nil, ErrAssistantUnavailable
	}

	body, err := json.Marshal(assistantRequest{
		Query:          req.Query,
		ConversationID: req.ConversationID,
		User:           userID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode assistant request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build assistant request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.http.Do(httpReq)
	if err != nil {
		slog.Error("assistant request failed", "error", err)
		return nil, ErrAssistantUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Error("assistant returned non-200", "status", resp.StatusCode)
		return nil, ErrAssistantUnavailable
	}

	var out assistantResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode assistant response: %w", err)
	}
	if out.ConversationID == "" {
		out.ConversationID = req.ConversationID
	}
	return &out, nil
}

func (s *ChatService) appendLog(userID uuid.UUID, conversationID, query, answer string) error {
	now := time.Now()
	entries := []chatLogEntry{
		{Role: "user", Content: query, At: now},
		{Role: "assistant", Content: answer, At: now},
	}

	var chat models.Chat
	err := s.db.Where("user_id = ? AND conversation_id = ?", userID, conversationID).First(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logs, merr := json.Marshal(entries)
		if merr != nil {
			return merr
		}
		chat = models.Chat{
			ID:             uuid.New(),
			UserID:         userID,
			ConversationID: conversationID,
			LogStartAt:     now,
			Logs:           datatypes.JSON(logs),
		}
		return s.db.Create(&chat).Error
	}
	if err != nil {
		return err
	}

	var existing []chatLogEntry
	if len(chat.Logs) > 0 {
		if uerr := json.Unmarshal(chat.Logs, &existing); uerr != nil {
			existing = nil
		}
	}
	merged, merr := json.Marshal(append(existing, entries...))
	if merr != nil {
		return merr
	}
	return s.db.Model(&chat).Update("logs", datatypes.JSON(merged)).Error
}

// History returns the caller's conversations, newest first.
func (s *ChatService) History(userID uuid.UUID, limit int) ([]models.Chat, error) {
	q := s.db.Where("user_id = ?", userID).Order("updated_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var chats []models.Chat
	if err := q.Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return chats, nil
}
