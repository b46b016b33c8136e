package model

import (
	"time"
)

// Conversation represents a support thread between one non-admin user and
// the admin pool. There is at most one conversation per non-admin user.
type Conversation struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Participants  []string  `json:"participants"`
	AssignedAdmin string    `json:"assigned_admin,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	// Denormalized summary used by the admin console list.
	LastMessageText string    `json:"last_message_text,omitempty"`
	LastMessageAt   time.Time `json:"last_message_at,omitempty"`

	// Per-user unread counters, keyed by user ID.
	Unread map[string]int `json:"unread,omitempty"`
}

// HasParticipant reports whether userID is an explicit participant.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}
