package agent

// CreateRequest registers a voice agent.
type CreateRequest struct {
	Name         string `json:"name" validate:"required,min=1,max=100"`
	AssistantID  string `json:"assistant_id" validate:"required,max=128"`
	PhoneNumber  string `json:"phone_number" validate:"omitempty,max=32"`
	FirstMessage string `json:"first_message" validate:"omitempty,max=500"`
}
