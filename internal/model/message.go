// Package model defines data structures for the support-chat platform.
package model

import (
	"time"
)

// Kind represents the content kind of a message.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVoice Kind = "voice"
)

// ValidKind reports whether k is a recognized message kind.
func ValidKind(k Kind) bool {
	switch k {
	case KindText, KindImage, KindVoice:
		return true
	}
	return false
}

// Message represents a persisted conversation message.
type Message struct {
	// Identity
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	SenderName     string `json:"sender_name,omitempty"`

	// Content
	Kind           Kind   `json:"kind"`
	Body           string `json:"body"`
	AttachmentURL  string `json:"attachment_url,omitempty"`
	AttachmentName string `json:"attachment_name,omitempty"`

	// Mutation flags
	Edited   bool       `json:"edited"`
	EditedAt *time.Time `json:"edited_at,omitempty"`
	Deleted  bool       `json:"deleted"`
	Read     bool       `json:"read"`
	ReadAt   *time.Time `json:"read_at,omitempty"`

	// Server-assigned ordering
	CreatedAt time.Time `json:"created_at"`
	Seq       int64     `json:"seq,omitempty"`
}

// Redacted returns the message as it may be shown to clients. A deleted
// message keeps its identity and flags but exposes no content; every
// serialization site must go through this accessor rather than checking
// the deleted flag itself.
func (m Message) Redacted() Message {
	if !m.Deleted {
		return m
	}
	m.Body = ""
	m.AttachmentURL = ""
	m.AttachmentName = ""
	return m
}

// RedactAll applies Redacted to a slice of messages.
func RedactAll(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Redacted()
	}
	return out
}
