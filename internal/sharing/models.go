package sharing

import "time"

type Grant struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"path_id"`
	SharedWithEmail *string   `json:"shared_with_email,omitempty"`
	SharedWithPhone *string   `json:"shared_with_phone,omitempty"`
	ShareToken      string    `json:"share_token"`
	ExpiresAt       time.Time `json:"expires_at"`
	CreatedAt       time.Time `json:"created_at"`
}

type IssueInput struct {
	SharedWithEmail *string `json:"shared_with_email" validate:"omitempty,max=255"`
	SharedWithPhone *string `json:"shared_with_phone" validate:"omitempty,max=20"`
	ExpiresInHours  *int    `json:"expires_in_hours" validate:"omitempty,min=1,max=720"`
}
