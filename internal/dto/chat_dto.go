package dto

type ChatMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query" validate:"required,max=8000"`
}

type ChatMessageResponse struct {
	ConversationID string `json:"conversation_id"`
	Answer         string `json:"answer"`
}
