package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/casalink/support-chat/internal/model"
)

func newMessage(convID, senderID, body string) *model.Message {
	return &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: convID,
		SenderID:       senderID,
		Kind:           model.KindText,
		Body:           body,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestFindOrCreateConversation(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	conv, created, err := s.FindOrCreateConversation(ctx, "u1")
	if err != nil {
		t.Fatalf("FindOrCreateConversation failed: %v", err)
	}
	if !created {
		t.Error("First call should create")
	}
	if !conv.HasParticipant("u1") {
		t.Error("Creator should be a participant")
	}

	again, created, err := s.FindOrCreateConversation(ctx, "u1")
	if err != nil {
		t.Fatalf("Second call failed: %v", err)
	}
	if created {
		t.Error("Second call should find, not create")
	}
	if again.ID != conv.ID {
		t.Errorf("Expected same conversation, got %s and %s", conv.ID, again.ID)
	}
}

func TestAppendMessageAssignsMonotonicSeq(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	conv, _, _ := s.FindOrCreateConversation(ctx, "u1")

	first, err := s.AppendMessage(ctx, newMessage(conv.ID, "u1", "a"), "a")
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	second, err := s.AppendMessage(ctx, newMessage(conv.ID, "u1", "b"), "b")
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if second.Seq <= first.Seq {
		t.Errorf("Seq must be monotonic, got %d then %d", first.Seq, second.Seq)
	}

	got, _ := s.GetConversation(ctx, conv.ID)
	if got.LastMessageText != "b" {
		t.Errorf("Last-message preview not updated, got %q", got.LastMessageText)
	}
}

func TestAppendMessageAddsSenderAndCountsUnread(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	conv, _, _ := s.FindOrCreateConversation(ctx, "u1")

	// An admin replying for the first time joins the participant list.
	if _, err := s.AppendMessage(ctx, newMessage(conv.ID, "admin-1", "hello"), "hello"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	got, _ := s.GetConversation(ctx, conv.ID)
	if !got.HasParticipant("admin-1") {
		t.Error("Sender should become a participant")
	}
	if got.Unread["u1"] != 1 {
		t.Errorf("Expected unread 1 for u1, got %d", got.Unread["u1"])
	}
	if got.Unread["admin-1"] != 0 {
		t.Errorf("Sender's own unread should stay 0, got %d", got.Unread["admin-1"])
	}
}

func TestAppendMessageUnknownConversation(t *testing.T) {
	s := NewMemory()
	if _, err := s.AppendMessage(context.Background(), newMessage("missing", "u1", "x"), "x"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestEditMessage(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	conv, _, _ := s.FindOrCreateConversation(ctx, "u1")
	msg, _ := s.AppendMessage(ctx, newMessage(conv.ID, "u1", "typo"), "typo")

	edited, err := s.EditMessage(ctx, msg.ID, "fixed", time.Now().UTC())
	if err != nil {
		t.Fatalf("EditMessage failed: %v", err)
	}
	if edited.Body != "fixed" || !edited.Edited || edited.EditedAt == nil {
		t.Errorf("Unexpected edit result: %+v", edited)
	}

	if _, err := s.EditMessage(ctx, "missing", "x", time.Now()); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSoftDeleteKeepsTombstone(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	conv, _, _ := s.FindOrCreateConversation(ctx, "u1")
	msg, _ := s.AppendMessage(ctx, newMessage(conv.ID, "u1", "secret"), "secret")

	deleted, err := s.SoftDeleteMessage(ctx, msg.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("SoftDeleteMessage failed: %v", err)
	}
	if !deleted.Deleted {
		t.Error("Message should be flagged deleted")
	}

	// The store keeps the raw row; redaction happens on read paths.
	msgs, _ := s.ListMessages(ctx, conv.ID)
	if len(msgs) != 1 {
		t.Fatalf("Tombstone should remain, got %d messages", len(msgs))
	}

	// Deleted messages can no longer be edited.
	if _, err := s.EditMessage(ctx, msg.ID, "x", time.Now()); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound for deleted message, got %v", err)
	}
}

func TestMarkConversationRead(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	conv, _, _ := s.FindOrCreateConversation(ctx, "u1")
	s.AppendMessage(ctx, newMessage(conv.ID, "admin-1", "one"), "one")
	s.AppendMessage(ctx, newMessage(conv.ID, "admin-1", "two"), "two")
	s.AppendMessage(ctx, newMessage(conv.ID, "u1", "mine"), "mine")

	marked, err := s.MarkConversationRead(ctx, conv.ID, "u1", time.Now().UTC())
	if err != nil {
		t.Fatalf("MarkConversationRead failed: %v", err)
	}
	if marked != 2 {
		t.Errorf("Expected 2 messages marked, got %d", marked)
	}

	msgs, _ := s.ListMessages(ctx, conv.ID)
	for _, m := range msgs {
		if m.SenderID != "u1" && !m.Read {
			t.Errorf("Message %q should be read", m.Body)
		}
		if m.SenderID == "u1" && m.Read {
			t.Errorf("Reader's own message %q should not be marked", m.Body)
		}
	}

	got, _ := s.GetConversation(ctx, conv.ID)
	if got.Unread["u1"] != 0 {
		t.Errorf("Reader's unread counter should reset, got %d", got.Unread["u1"])
	}

	// Idempotent.
	marked, err = s.MarkConversationRead(ctx, conv.ID, "u1", time.Now().UTC())
	if err != nil {
		t.Fatalf("Repeat MarkConversationRead failed: %v", err)
	}
	if marked != 0 {
		t.Errorf("Repeat call should mark nothing, got %d", marked)
	}
}

func TestSetAssignedAdmin(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	conv, _, _ := s.FindOrCreateConversation(ctx, "u1")

	if err := s.SetAssignedAdmin(ctx, conv.ID, "admin-2"); err != nil {
		t.Fatalf("SetAssignedAdmin failed: %v", err)
	}
	got, _ := s.GetConversation(ctx, conv.ID)
	if got.AssignedAdmin != "admin-2" || !got.HasParticipant("admin-2") {
		t.Errorf("Unexpected conversation after assignment: %+v", got)
	}

	if err := s.SetAssignedAdmin(ctx, "missing", "admin-2"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListConversationsForAdminOrdering(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	older, _, _ := s.FindOrCreateConversation(ctx, "u1")
	newer, _, _ := s.FindOrCreateConversation(ctx, "u2")

	m := newMessage(older.ID, "u1", "bump")
	m.CreatedAt = time.Now().UTC().Add(time.Minute)
	s.AppendMessage(ctx, m, "bump")

	convs, err := s.ListConversationsForAdmin(ctx)
	if err != nil {
		t.Fatalf("ListConversationsForAdmin failed: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("Expected 2 conversations, got %d", len(convs))
	}
	if convs[0].ID != older.ID || convs[1].ID != newer.ID {
		t.Errorf("Most recently active conversation should sort first, got %s then %s", convs[0].ID, convs[1].ID)
	}
}

func TestReturnedConversationsAreCopies(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	conv, _, _ := s.FindOrCreateConversation(ctx, "u1")

	conv.Participants[0] = "tampered"
	conv.Unread["x"] = 99

	fresh, _ := s.GetConversation(ctx, conv.ID)
	if fresh.Participants[0] != "u1" || fresh.Unread["x"] != 0 {
		t.Error("Mutating a returned conversation must not affect the store")
	}
}
