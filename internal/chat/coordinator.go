// Package chat coordinates per-conversation state: membership, messages,
// unread counters, read receipts, and ephemeral typing flags.
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/casalink/support-chat/internal/auth"
	"github.com/casalink/support-chat/internal/model"
	"github.com/casalink/support-chat/internal/store"
	"github.com/casalink/support-chat/pkg/logger"
	"github.com/casalink/support-chat/pkg/metrics"
)

// Notifier fans events out to users' connections. Implementations must
// deliver to every connection of each addressed user.
type Notifier interface {
	NotifyUsers(ctx context.Context, userIDs []string, event model.Event)
	NotifyAdmins(ctx context.Context, event model.Event)
}

const maxBodyBytes = 8 * 1024

// Coordinator owns conversation-scoped operations. Durable state goes
// through the store gateway; typing flags live only in memory.
type Coordinator struct {
	store     store.Gateway
	notifier  Notifier
	logger    *logger.Logger
	typing    *typingTable
	typingTTL time.Duration
}

// NewCoordinator creates a coordinator.
func NewCoordinator(st store.Gateway, notifier Notifier, typingTTL time.Duration, log *logger.Logger) *Coordinator {
	return &Coordinator{
		store:     st,
		notifier:  notifier,
		logger:    log,
		typing:    newTypingTable(),
		typingTTL: typingTTL,
	}
}

// Run sweeps expired typing flags until ctx is cancelled. Client stop
// events remain the primary path; the sweep only covers clients that
// stopped refreshing without saying so.
func (c *Coordinator) Run(ctx context.Context) {
	interval := c.typingTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, k := range c.typing.sweep(now) {
				c.broadcastTyping(ctx, k.conversationID, k.userID, false)
			}
		}
	}
}

// StartOrGet returns the actor's conversation with the admin pool, creating
// it on first open. Admin consoles never start conversations.
func (c *Coordinator) StartOrGet(ctx context.Context, actor auth.Identity) (*model.Conversation, error) {
	if actor.IsAdmin() {
		return nil, ErrForbidden
	}
	conv, created, err := c.store.FindOrCreateConversation(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("start conversation: %w", err)
	}
	if created {
		metrics.ConversationsTotal.Inc()
		c.logger.Info("conversation created",
			zap.String("conversation_id", conv.ID),
			zap.String("user_id", actor.UserID),
		)
		c.notifier.NotifyAdmins(ctx, model.NewEvent(model.EventChatUpdated,
			model.ChatUpdatedPayload{ChatID: conv.ID}))
	}
	return conv, nil
}

// CanAccess reports whether the actor may operate on the conversation.
// Admins have implicit access to every support thread.
func (c *Coordinator) CanAccess(ctx context.Context, conversationID string, actor auth.Identity) error {
	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if actor.IsAdmin() || conv.HasParticipant(actor.UserID) {
		return nil
	}
	return ErrNotParticipant
}

// ListMessages returns the full redacted history in server accept order.
// The read is retried once; reads are idempotent, appends never retry.
func (c *Coordinator) ListMessages(ctx context.Context, conversationID string, actor auth.Identity) ([]model.Message, error) {
	if err := c.CanAccess(ctx, conversationID, actor); err != nil {
		return nil, err
	}
	msgs, err := c.store.ListMessages(ctx, conversationID)
	if err != nil {
		msgs, err = c.store.ListMessages(ctx, conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return model.RedactAll(msgs), nil
}

// SendMessage appends a message and fans out new_message to every
// participant's connections. The server accept order, exposed as the seq
// field, is authoritative regardless of client send time.
func (c *Coordinator) SendMessage(ctx context.Context, conversationID string, actor auth.Identity, p model.SendMessagePayload) (*model.Message, error) {
	kind := p.MessageType
	if kind == "" {
		kind = model.KindText
	}
	if !model.ValidKind(kind) {
		return nil, ErrInvalidMessage
	}
	if kind == model.KindText && p.Message == "" {
		return nil, ErrInvalidMessage
	}
	if kind != model.KindText && p.FileURL == "" {
		return nil, ErrInvalidMessage
	}
	if len(p.Message) > maxBodyBytes {
		return nil, ErrInvalidMessage
	}

	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(actor.UserID) && !actor.IsAdmin() {
		return nil, ErrNotParticipant
	}

	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		SenderID:       actor.UserID,
		SenderName:     actor.Name,
		Kind:           kind,
		Body:           p.Message,
		AttachmentURL:  p.FileURL,
		AttachmentName: p.FileName,
		CreatedAt:      time.Now().UTC(),
	}

	stored, err := c.store.AppendMessage(ctx, msg, preview(msg))
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues(string(kind)).Inc()

	// All participants, sender included: the sender's other tabs render
	// the message from this event too.
	targets := appendUnique(append(conv.Participants, actor.UserID), "", conv.AssignedAdmin)
	c.notifier.NotifyUsers(ctx, targets, model.NewEvent(model.EventNewMessage, stored.Redacted()))
	c.notifier.NotifyAdmins(ctx, model.NewEvent(model.EventChatUpdated,
		model.ChatUpdatedPayload{ChatID: conversationID}))
	return stored, nil
}

// EditMessage rewrites a text message's body. Only the sender may edit,
// never a deleted message, never attachments.
func (c *Coordinator) EditMessage(ctx context.Context, messageID string, actor auth.Identity, newBody string) (*model.Message, error) {
	if newBody == "" || len(newBody) > maxBodyBytes {
		return nil, ErrInvalidMessage
	}
	msg, err := c.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != actor.UserID || msg.Deleted || msg.Kind != model.KindText {
		return nil, ErrForbidden
	}

	edited, err := c.store.EditMessage(ctx, messageID, newBody, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}
	c.notifyParticipants(ctx, edited.ConversationID,
		model.NewEvent(model.EventMessageEdited, edited.Redacted()))
	return edited, nil
}

// DeleteMessage soft-deletes a message. Only the sender may delete; the
// body is redacted on this and every subsequent read.
func (c *Coordinator) DeleteMessage(ctx context.Context, messageID string, actor auth.Identity) (*model.Message, error) {
	msg, err := c.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != actor.UserID {
		return nil, ErrForbidden
	}

	deleted, err := c.store.SoftDeleteMessage(ctx, messageID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}
	redacted := deleted.Redacted()
	c.notifyParticipants(ctx, deleted.ConversationID,
		model.NewEvent(model.EventMessageDeleted, redacted))
	return &redacted, nil
}

// SetTyping updates the ephemeral typing flag and re-broadcasts it to the
// other participants. Fire-and-forget: non-participants are dropped
// silently, lost events degrade gracefully.
func (c *Coordinator) SetTyping(ctx context.Context, conversationID string, actor auth.Identity, isTyping bool) {
	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		return
	}
	if !conv.HasParticipant(actor.UserID) && !actor.IsAdmin() {
		return
	}
	if isTyping {
		c.typing.set(conversationID, actor.UserID, c.typingTTL)
	} else if !c.typing.clear(conversationID, actor.UserID) {
		return
	}
	c.broadcastTypingTo(ctx, conv, actor.UserID, isTyping)
}

// MarkRead flags every message not sent by the actor as read and emits one
// batched messages_read event. Idempotent: a second call changes nothing
// durable and re-emits with zero newly-read messages. The event goes out
// only after the mutation is durably applied.
func (c *Coordinator) MarkRead(ctx context.Context, conversationID string, actor auth.Identity) error {
	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(actor.UserID) && !actor.IsAdmin() {
		return ErrNotParticipant
	}

	readAt := time.Now().UTC()
	if _, err := c.store.MarkConversationRead(ctx, conversationID, actor.UserID, readAt); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}

	targets := appendUnique(conv.Participants, "", conv.AssignedAdmin)
	c.notifier.NotifyUsers(ctx, targets, model.NewEvent(model.EventMessagesRead,
		model.MessagesReadPayload{ChatID: conversationID, UserID: actor.UserID, ReadAt: readAt}))
	return nil
}

// Assign sets the conversation's assigned admin and tells every admin
// console to refresh, not just the acting one.
func (c *Coordinator) Assign(ctx context.Context, conversationID string, actor auth.Identity, assignedTo string) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	if err := c.store.SetAssignedAdmin(ctx, conversationID, assignedTo); err != nil {
		return err
	}
	c.logger.Info("conversation assigned",
		zap.String("conversation_id", conversationID),
		zap.String("assigned_to", assignedTo),
		zap.String("by", actor.UserID),
	)
	c.notifier.NotifyAdmins(ctx, model.NewEvent(model.EventChatUpdated,
		model.ChatUpdatedPayload{ChatID: conversationID}))
	return nil
}

// ListForAdmin returns every conversation for the admin console.
func (c *Coordinator) ListForAdmin(ctx context.Context, actor auth.Identity) ([]model.Conversation, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	convs, err := c.store.ListConversationsForAdmin(ctx)
	if err != nil {
		convs, err = c.store.ListConversationsForAdmin(ctx)
	}
	return convs, err
}

// HandleDisconnect clears any typing flags the user left dangling and
// broadcasts the stopped transition. Called by the router on channel close.
func (c *Coordinator) HandleDisconnect(ctx context.Context, userID string) {
	for _, convID := range c.typing.clearUser(userID) {
		c.broadcastTyping(ctx, convID, userID, false)
	}
}

func (c *Coordinator) broadcastTyping(ctx context.Context, conversationID, userID string, isTyping bool) {
	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		return
	}
	c.broadcastTypingTo(ctx, conv, userID, isTyping)
}

func (c *Coordinator) broadcastTypingTo(ctx context.Context, conv *model.Conversation, userID string, isTyping bool) {
	targets := appendUnique(conv.Participants, userID, conv.AssignedAdmin)
	c.notifier.NotifyUsers(ctx, targets, model.NewEvent(model.EventUserTyping,
		model.TypingPayload{ChatID: conv.ID, UserID: userID, IsTyping: isTyping}))
}

func (c *Coordinator) notifyParticipants(ctx context.Context, conversationID string, event model.Event) {
	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		c.logger.Warn("fan-out target lookup failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}
	c.notifier.NotifyUsers(ctx, appendUnique(conv.Participants, "", conv.AssignedAdmin), event)
}

// appendUnique returns participants plus extra, minus exclude, without
// duplicates.
func appendUnique(participants []string, exclude, extra string) []string {
	seen := make(map[string]struct{}, len(participants)+1)
	out := make([]string, 0, len(participants)+1)
	for _, p := range append(append([]string(nil), participants...), extra) {
		if p == "" || p == exclude {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// preview is the denormalized last-message text shown in conversation lists.
func preview(m *model.Message) string {
	switch m.Kind {
	case model.KindImage:
		if m.AttachmentName != "" {
			return m.AttachmentName
		}
		return "Image"
	case model.KindVoice:
		return "Voice message"
	default:
		return m.Body
	}
}
