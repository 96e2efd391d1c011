package dto

// PostMessageRequest payload.
type PostMessageRequest struct {
	Message string `json:"message" validate:"required,max=10000"`
}
