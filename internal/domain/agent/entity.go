package agent

import (
	"time"

	"github.com/google/uuid"
)

// Agent is a registered voice agent. The assistant itself lives at the
// voice-AI provider; we keep its reference plus the phone number attached to
// it so usage debits can name the agent that consumed minutes.
type Agent struct {
	ID           uuid.UUID `db:"id" json:"id"`
	UserID       uuid.UUID `db:"user_id" json:"user_id"`
	Name         string    `db:"name" json:"name"`
	AssistantID  string    `db:"assistant_id" json:"assistant_id"`
	PhoneNumber  string    `db:"phone_number" json:"phone_number,omitempty"`
	FirstMessage string    `db:"first_message" json:"first_message,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
