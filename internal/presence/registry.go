// Package presence tracks which users currently hold live realtime
// connections.
package presence

import (
	"sort"
	"sync"

	"github.com/casalink/support-chat/pkg/metrics"
)

// Watcher is notified on presence transition edges: the first connection of
// a user coming online and the last connection of a user going away. It is
// never called for additional tabs or devices of an already-online user.
type Watcher interface {
	UserOnline(userID string)
	UserOffline(userID string)
}

// Registry maps user IDs to their open connection IDs. It holds non-owning
// references; connection lifecycle belongs to the router.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]map[string]struct{} // userID -> set of connIDs
	watcher Watcher
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]map[string]struct{})}
}

// SetWatcher installs the transition watcher. Must be called before the
// first Register.
func (r *Registry) SetWatcher(w Watcher) {
	r.watcher = w
}

// Register adds a (user, connection) mapping. Idempotent for the same pair.
func (r *Registry) Register(userID, connID string) {
	r.mu.Lock()
	set, ok := r.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		r.conns[userID] = set
	}
	_, existed := set[connID]
	set[connID] = struct{}{}
	first := !ok
	r.mu.Unlock()

	if existed {
		return
	}
	if first {
		metrics.UsersOnline.Inc()
		if r.watcher != nil {
			r.watcher.UserOnline(userID)
		}
	}
}

// Unregister removes a (user, connection) mapping. Removing an unknown pair
// is a no-op: double-disconnect races are expected.
func (r *Registry) Unregister(userID, connID string) {
	r.mu.Lock()
	set, ok := r.conns[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, ok := set[connID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(set, connID)
	last := len(set) == 0
	if last {
		delete(r.conns, userID)
	}
	r.mu.Unlock()

	if last {
		metrics.UsersOnline.Dec()
		if r.watcher != nil {
			r.watcher.UserOffline(userID)
		}
	}
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// ConnectionsFor returns the connection IDs of all of a user's tabs and
// devices, for fan-out.
func (r *Registry) ConnectionsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.conns[userID]))
	for id := range r.conns[userID] {
		out = append(out, id)
	}
	return out
}

// OnlineUsers returns the IDs of all currently online users, sorted.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
