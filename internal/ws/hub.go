package ws

import (
	"sync"

	"github.com/casalink/support-chat/internal/auth"
	"github.com/casalink/support-chat/internal/model"
	"github.com/casalink/support-chat/pkg/metrics"
)

// Hub owns the set of live connections on this node and delivers events to
// them. Cross-node delivery goes through the bus, which calls back into the
// hub for local connections.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client            // connID -> client
	byUser  map[string]map[string]*Client // userID -> connID -> client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		byUser:  make(map[string]map[string]*Client),
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	metrics.WSConnectionsActive.Inc()
}

// bind marks the client authenticated and indexes it by user ID. The
// identity fields are written under the hub lock because the snapshot
// helpers read them from delivery goroutines.
func (h *Hub) bind(c *Client, identity auth.Identity) {
	h.mu.Lock()
	c.identity = identity
	c.authenticated = true
	set, ok := h.byUser[identity.UserID]
	if !ok {
		set = make(map[string]*Client)
		h.byUser[identity.UserID] = set
	}
	set[c.ID] = c
	h.mu.Unlock()
}

// remove drops the client from all indexes, reporting whether it was still
// present. The second close of a racing double-disconnect is a no-op.
func (h *Hub) remove(c *Client) bool {
	h.mu.Lock()
	_, present := h.clients[c.ID]
	if present {
		delete(h.clients, c.ID)
		if set, ok := h.byUser[c.identity.UserID]; ok {
			delete(set, c.ID)
			if len(set) == 0 {
				delete(h.byUser, c.identity.UserID)
			}
		}
	}
	h.mu.Unlock()
	if present {
		metrics.WSConnectionsActive.Dec()
	}
	return present
}

func (h *Hub) snapshotUser(userID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.byUser[userID]))
	for _, c := range h.byUser[userID] {
		out = append(out, c)
	}
	return out
}

func (h *Hub) snapshotAll() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.authenticated {
			out = append(out, c)
		}
	}
	return out
}

// DeliverUser sends the event to every local connection of userID.
func (h *Hub) DeliverUser(userID string, event model.Event) {
	for _, c := range h.snapshotUser(userID) {
		c.Send(event)
	}
}

// DeliverAdmins sends the event to every local admin connection.
func (h *Hub) DeliverAdmins(event model.Event) {
	for _, c := range h.snapshotAll() {
		if c.identity.Role == auth.RoleAdmin {
			c.Send(event)
		}
	}
}

// DeliverAll sends the event to every authenticated local connection.
func (h *Hub) DeliverAll(event model.Event) {
	for _, c := range h.snapshotAll() {
		c.Send(event)
	}
}
