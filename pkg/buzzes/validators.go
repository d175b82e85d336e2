package buzzes

import "github.com/bookhive/bookhive/pkg/models"

type CommentPayload struct {
	URI     string `form:"uri" json:"uri" mod:"trim" validate:"required,aturi"`
	CID     string `form:"cid" json:"cid" mod:"trim" validate:"omitempty,max=128"`
	Comment string `form:"comment" json:"comment" mod:"trim" validate:"required,max=3000"`
}

type CommentResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Comment *models.Buzz `json:"comment,omitempty"`
}
