package dto

type CreateFeedbackRequest struct {
	Type    string `json:"type" validate:"omitempty,oneof=bug suggestion feature"`
	Content string `json:"content" validate:"required,max=4000"`
	Contact string `json:"contact" validate:"omitempty,max=255"`
}

type UpdateFeedbackRequest struct {
	Status    string `json:"status" validate:"required,oneof=open closed resolved"`
	AdminNote string `json:"admin_note" validate:"omitempty,max=1000"`
}
