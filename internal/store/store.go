// Package store is the persistence gateway for conversations and messages.
// Every operation is atomic from the caller's perspective; callers never
// hold in-process locks across these calls for correctness.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/casalink/support-chat/internal/model"
)

// ErrNotFound is returned for operations on unknown conversation or
// message IDs.
var ErrNotFound = errors.New("not found")

// Gateway is the interface through which the realtime core reads and
// writes persisted conversation and message records.
type Gateway interface {
	// FindOrCreateConversation returns the single conversation between
	// userID and the admin pool, creating it if absent. Safe under
	// concurrent first-open: at most one conversation is ever created
	// per user. The bool reports whether a new conversation was created.
	FindOrCreateConversation(ctx context.Context, userID string) (*model.Conversation, bool, error)

	// GetConversation returns a conversation by ID.
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)

	// AppendMessage inserts msg, assigns its server sequence, updates the
	// conversation's denormalized last-message fields, makes the sender a
	// participant if not yet one, and increments unread counters for every
	// other participant — all in one atomic step. preview is the
	// denormalized last-message text.
	AppendMessage(ctx context.Context, msg *model.Message, preview string) (*model.Message, error)

	// GetMessage returns a message by ID, unredacted.
	GetMessage(ctx context.Context, id string) (*model.Message, error)

	// EditMessage sets a new body and the edited flag on a non-deleted
	// message.
	EditMessage(ctx context.Context, id, body string, at time.Time) (*model.Message, error)

	// SoftDeleteMessage sets the deleted flag. The body stays stored;
	// redaction happens at serialization time.
	SoftDeleteMessage(ctx context.Context, id string, at time.Time) (*model.Message, error)

	// ListMessages returns the full message history of a conversation in
	// server accept order, oldest first, unredacted.
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)

	// MarkConversationRead flags every message in the conversation not sent
	// by readerID as read at the given time and zeroes the reader's unread
	// counter. Returns the number of messages newly marked.
	MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) (int, error)

	// SetAssignedAdmin records the admin assignment and makes the admin a
	// participant.
	SetAssignedAdmin(ctx context.Context, conversationID, adminID string) error

	// ListConversationsForAdmin returns all conversations, most recent
	// activity first, for the admin console.
	ListConversationsForAdmin(ctx context.Context) ([]model.Conversation, error)

	// Close releases underlying resources.
	Close() error
}
