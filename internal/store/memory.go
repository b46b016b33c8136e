package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/casalink/support-chat/internal/model"
)

// Memory is an in-memory Gateway used by tests and single-node development
// runs (STORE_DRIVER=memory). Postgres is the production driver.
type Memory struct {
	mu            sync.Mutex
	conversations map[string]*model.Conversation
	byUser        map[string]string // userID -> conversationID
	messages      map[string]*model.Message
	nextSeq       int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]*model.Conversation),
		byUser:        make(map[string]string),
		messages:      make(map[string]*model.Message),
	}
}

// FindOrCreateConversation implements Gateway.
func (s *Memory) FindOrCreateConversation(ctx context.Context, userID string) (*model.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byUser[userID]; ok {
		return copyConversation(s.conversations[id]), false, nil
	}

	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:           uuid.Must(uuid.NewV7()).String(),
		UserID:       userID,
		Participants: []string{userID},
		CreatedAt:    now,
		UpdatedAt:    now,
		Unread:       map[string]int{userID: 0},
	}
	s.conversations[conv.ID] = conv
	s.byUser[userID] = conv.ID
	return copyConversation(conv), true, nil
}

// GetConversation implements Gateway.
func (s *Memory) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(conv), nil
}

// AppendMessage implements Gateway.
func (s *Memory) AppendMessage(ctx context.Context, msg *model.Message, preview string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return nil, ErrNotFound
	}

	s.nextSeq++
	stored := *msg
	stored.Seq = s.nextSeq
	s.messages[stored.ID] = &stored

	if !conv.HasParticipant(msg.SenderID) {
		conv.Participants = append(conv.Participants, msg.SenderID)
	}
	if conv.Unread == nil {
		conv.Unread = make(map[string]int)
	}
	for _, p := range conv.Participants {
		if p != msg.SenderID {
			conv.Unread[p]++
		}
	}
	conv.LastMessageText = preview
	conv.LastMessageAt = stored.CreatedAt
	conv.UpdatedAt = stored.CreatedAt

	out := stored
	return &out, nil
}

// GetMessage implements Gateway.
func (s *Memory) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *msg
	return &out, nil
}

// EditMessage implements Gateway.
func (s *Memory) EditMessage(ctx context.Context, id, body string, at time.Time) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok || msg.Deleted {
		return nil, ErrNotFound
	}
	msg.Body = body
	msg.Edited = true
	msg.EditedAt = &at
	out := *msg
	return &out, nil
}

// SoftDeleteMessage implements Gateway.
func (s *Memory) SoftDeleteMessage(ctx context.Context, id string, at time.Time) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	msg.Deleted = true
	out := *msg
	return &out, nil
}

// ListMessages implements Gateway.
func (s *Memory) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}

	var out []model.Message
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// MarkConversationRead implements Gateway.
func (s *Memory) MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return 0, ErrNotFound
	}

	marked := 0
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID && msg.SenderID != readerID && !msg.Read {
			msg.Read = true
			t := at
			msg.ReadAt = &t
			marked++
		}
	}
	if conv.Unread == nil {
		conv.Unread = make(map[string]int)
	}
	conv.Unread[readerID] = 0
	return marked, nil
}

// SetAssignedAdmin implements Gateway.
func (s *Memory) SetAssignedAdmin(ctx context.Context, conversationID, adminID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	conv.AssignedAdmin = adminID
	if !conv.HasParticipant(adminID) {
		conv.Participants = append(conv.Participants, adminID)
	}
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

// ListConversationsForAdmin implements Gateway.
func (s *Memory) ListConversationsForAdmin(ctx context.Context) ([]model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, *copyConversation(conv))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Close implements Gateway.
func (s *Memory) Close() error { return nil }

func copyConversation(c *model.Conversation) *model.Conversation {
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	out.Unread = make(map[string]int, len(c.Unread))
	for k, v := range c.Unread {
		out.Unread[k] = v
	}
	return &out
}
