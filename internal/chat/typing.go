package chat

import (
	"sync"
	"time"
)

// typingKey identifies one ephemeral typing flag.
type typingKey struct {
	conversationID string
	userID         string
}

// typingTable holds typing state in memory, never persisted. Entries carry
// an expiry so a client that vanishes mid-type cannot leave a stale
// indicator; client-sent stop events remain the primary path.
type typingTable struct {
	mu      sync.Mutex
	entries map[typingKey]time.Time
}

func newTypingTable() *typingTable {
	return &typingTable{entries: make(map[typingKey]time.Time)}
}

// set records that userID is typing in conversationID until now+ttl.
func (t *typingTable) set(conversationID, userID string, ttl time.Duration) {
	t.mu.Lock()
	t.entries[typingKey{conversationID, userID}] = time.Now().Add(ttl)
	t.mu.Unlock()
}

// clear removes one flag, reporting whether it was present.
func (t *typingTable) clear(conversationID, userID string) bool {
	k := typingKey{conversationID, userID}
	t.mu.Lock()
	_, ok := t.entries[k]
	delete(t.entries, k)
	t.mu.Unlock()
	return ok
}

// clearUser drops every flag the user holds and returns the affected
// conversation IDs. Called when a connection closes.
func (t *typingTable) clearUser(userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var convs []string
	for k := range t.entries {
		if k.userID == userID {
			convs = append(convs, k.conversationID)
			delete(t.entries, k)
		}
	}
	return convs
}

// sweep removes entries whose expiry has passed and returns them.
func (t *typingTable) sweep(now time.Time) []typingKey {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []typingKey
	for k, deadline := range t.entries {
		if now.After(deadline) {
			expired = append(expired, k)
			delete(t.entries, k)
		}
	}
	return expired
}
