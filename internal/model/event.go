package model

import (
	"encoding/json"
	"time"
)

// Event names carried over the realtime channel. Chat events use snake_case,
// call-signaling events keep the dash-separated names the web clients use.
const (
	// Client → server
	EventAuthenticate    = "authenticate"
	EventJoinChat        = "join_chat"
	EventSendMessage     = "send_message"
	EventEditMessage     = "edit_message"
	EventDeleteMessage   = "delete_message"
	EventTyping          = "typing"
	EventMarkRead        = "mark_read"
	EventCheckUserOnline = "check_user_online"
	EventGetOnlineUsers  = "get_online_users"
	EventCallUser        = "call-user"
	EventAcceptCall      = "accept-call"
	EventRejectCall      = "reject-call"
	EventEndCall         = "end-call"
	EventIceCandidate    = "ice-candidate"

	// Server → client
	EventAuthenticated  = "authenticated"
	EventNewMessage     = "new_message"
	EventMessageEdited  = "message_edited"
	EventMessageDeleted = "message_deleted"
	EventUserTyping     = "user_typing"
	EventMessagesRead   = "messages_read"
	EventUserOnline     = "user_online"
	EventUserOffline    = "user_offline"
	EventOnlineUsers    = "online_users"
	EventChatUpdated    = "chat_updated"
	EventIncomingCall   = "incoming-call"
	EventCallAccepted   = "call-accepted"
	EventCallRejected   = "call-rejected"
	EventCallEnded      = "call-ended"
	EventError          = "error"
)

// Event is the envelope for every frame on the realtime channel.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an event envelope, marshaling data to JSON. A marshal
// failure produces an envelope with empty data; payload types in this
// package cannot fail to marshal.
func NewEvent(name string, data any) Event {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{Name: name}
	}
	return Event{Name: name, Data: raw}
}

// Inbound payloads. Field names follow the web clients.

// AuthPayload carries the token for the one-shot authenticate event. Clients
// may send either a bare JSON string or an object with a token field.
type AuthPayload struct {
	Token string `json:"token"`
}

// UnmarshalAuth decodes the authenticate payload in either shape.
func UnmarshalAuth(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var p AuthPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", err
	}
	return p.Token, nil
}

// SendMessagePayload is the send_message request.
type SendMessagePayload struct {
	ChatID      string `json:"chatId"`
	Message     string `json:"message"`
	MessageType Kind   `json:"messageType"`
	FileURL     string `json:"fileUrl,omitempty"`
	FileName    string `json:"fileName,omitempty"`
}

// EditMessagePayload is the edit_message request.
type EditMessagePayload struct {
	MessageID  string `json:"messageId"`
	NewMessage string `json:"newMessage"`
}

// DeleteMessagePayload is the delete_message request.
type DeleteMessagePayload struct {
	MessageID string `json:"messageId"`
}

// TypingPayload is the typing request and the user_typing notification.
type TypingPayload struct {
	ChatID   string `json:"chatId,omitempty"`
	UserID   string `json:"userId,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

// MarkReadPayload is the mark_read request.
type MarkReadPayload struct {
	ChatID string `json:"chatId"`
}

// UserRefPayload addresses a single user (check_user_online and the
// user_online/user_offline notifications).
type UserRefPayload struct {
	UserID string `json:"userId"`
}

// Outbound payloads.

// AuthenticatedPayload acknowledges the authenticate event.
type AuthenticatedPayload struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// MessagesReadPayload is the batched read receipt: one event covers every
// message the reader just marked.
type MessagesReadPayload struct {
	ChatID string    `json:"chatId"`
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// OnlineUsersPayload lists currently online user IDs.
type OnlineUsersPayload struct {
	Users []string `json:"users"`
}

// ChatUpdatedPayload tells admin consoles to refresh a conversation row.
type ChatUpdatedPayload struct {
	ChatID string `json:"chatId"`
}

// ErrorPayload is the explicit error response to a failed request.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
