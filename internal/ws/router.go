package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/casalink/support-chat/internal/auth"
	"github.com/casalink/support-chat/internal/call"
	"github.com/casalink/support-chat/internal/chat"
	"github.com/casalink/support-chat/internal/model"
	"github.com/casalink/support-chat/internal/presence"
	"github.com/casalink/support-chat/internal/store"
	"github.com/casalink/support-chat/pkg/logger"
	"github.com/casalink/support-chat/pkg/metrics"
)

// Router dispatches inbound events to the coordinator or the call relay and
// owns the connection lifecycle: authentication, presence registration, and
// cleanup on close.
type Router struct {
	verifier    auth.Verifier
	presence    *presence.Registry
	coordinator *chat.Coordinator
	relay       *call.Relay
	logger      *logger.Logger
	ctx         context.Context
}

// NewRouter creates a router. ctx bounds the work started on behalf of
// connections; it is the server's run context.
func NewRouter(ctx context.Context, verifier auth.Verifier, reg *presence.Registry, coord *chat.Coordinator, relay *call.Relay, log *logger.Logger) *Router {
	return &Router{
		verifier:    verifier,
		presence:    reg,
		coordinator: coord,
		relay:       relay,
		logger:      log,
		ctx:         ctx,
	}
}

// Handler returns the HTTP handler that upgrades GET /ws requests.
func (r *Router) Handler(hub *Hub, allowedOrigins []string, queueSize int) http.HandlerFunc {
	upgrader := newUpgrader(allowedOrigins)
	return func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			r.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		c := newClient(hub, r, conn, uuid.New().String(), queueSize)
		hub.add(c)
		go c.writePump()
		go c.readPump()
	}
}

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := false
	exact := make(map[string]bool)
	for _, o := range allowedOrigins {
		if strings.Contains(o, "*") {
			allowAll = true
			continue
		}
		exact[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			if allowAll {
				return true
			}
			return exact[req.Header.Get("Origin")]
		},
	}
}

// fireAndForget events get no rejection ack when dropped pre-auth.
var fireAndForget = map[string]bool{
	model.EventTyping:       true,
	model.EventIceCandidate: true,
}

// Dispatch routes one inbound event. Called from the connection's read
// goroutine, so per-connection handling is sequential and per-sender event
// order is preserved.
func (r *Router) Dispatch(c *Client, event model.Event) {
	start := time.Now()
	metrics.RecordEvent(event.Name, "in")
	defer func() {
		metrics.EventDispatchDuration.WithLabelValues(event.Name).Observe(time.Since(start).Seconds())
	}()

	if event.Name == model.EventAuthenticate {
		r.authenticate(c, event.Data)
		return
	}
	if !c.authenticated {
		// Connection stays open but inert until authenticated.
		if !fireAndForget[event.Name] {
			c.Send(model.NewEvent(model.EventError,
				model.ErrorPayload{Code: "unauthenticated", Message: "authenticate first"}))
		}
		return
	}

	switch event.Name {
	case model.EventJoinChat:
		r.joinChat(c, event.Data)
	case model.EventSendMessage:
		r.sendMessage(c, event.Data)
	case model.EventEditMessage:
		r.editMessage(c, event.Data)
	case model.EventDeleteMessage:
		r.deleteMessage(c, event.Data)
	case model.EventTyping:
		r.typing(c, event.Data)
	case model.EventMarkRead:
		r.markRead(c, event.Data)
	case model.EventCheckUserOnline:
		r.checkUserOnline(c, event.Data)
	case model.EventGetOnlineUsers:
		c.Send(model.NewEvent(model.EventOnlineUsers,
			model.OnlineUsersPayload{Users: r.presence.OnlineUsers()}))
	case model.EventCallUser:
		r.callUser(c, event.Data)
	case model.EventAcceptCall:
		r.acceptCall(c, event.Data)
	case model.EventRejectCall:
		r.rejectCall(c, event.Data)
	case model.EventEndCall:
		r.endCall(c, event.Data)
	case model.EventIceCandidate:
		r.iceCandidate(c, event.Data)
	default:
		c.Send(model.NewEvent(model.EventError,
			model.ErrorPayload{Code: "unknown_event", Message: "unknown event: " + event.Name}))
	}
}

// authenticate handles the one-shot token exchange that binds the
// connection to a user.
func (r *Router) authenticate(c *Client, data json.RawMessage) {
	if c.authenticated {
		c.Send(model.NewEvent(model.EventAuthenticated,
			model.AuthenticatedPayload{Success: false, Error: "already authenticated"}))
		return
	}
	token, err := model.UnmarshalAuth(data)
	if err != nil || token == "" {
		c.Send(model.NewEvent(model.EventAuthenticated,
			model.AuthenticatedPayload{Success: false, Error: "missing token"}))
		return
	}
	identity, err := r.verifier.VerifyToken(token)
	if err != nil {
		c.Send(model.NewEvent(model.EventAuthenticated,
			model.AuthenticatedPayload{Success: false, Error: "invalid token"}))
		return
	}

	c.hub.bind(c, identity)
	r.presence.Register(identity.UserID, c.ID)
	r.logger.WithConn(c.ID, identity.UserID).Info("connection authenticated",
		zap.String("role", identity.Role))
	c.Send(model.NewEvent(model.EventAuthenticated,
		model.AuthenticatedPayload{Success: true, UserID: identity.UserID}))
}

// handleClose runs once per connection teardown: presence unregistration,
// dangling typing state, and pending calls of the departing user.
func (r *Router) handleClose(c *Client) {
	if !c.authenticated {
		return
	}
	r.presence.Unregister(c.identity.UserID, c.ID)
	if !r.presence.IsOnline(c.identity.UserID) {
		// Last tab gone: stop typing indicators and end pending calls.
		r.coordinator.HandleDisconnect(r.ctx, c.identity.UserID)
		r.relay.EndAllFor(r.ctx, c.identity.UserID)
	}
}

func (r *Router) joinChat(c *Client, data json.RawMessage) {
	chatID := decodeStringOr(data, "chatId")
	if chatID == "" {
		r.sendError(c, chat.ErrInvalidMessage)
		return
	}
	if err := r.coordinator.CanAccess(r.ctx, chatID, c.identity); err != nil {
		r.sendError(c, err)
	}
}

func (r *Router) sendMessage(c *Client, data json.RawMessage) {
	var p model.SendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		r.sendError(c, chat.ErrInvalidMessage)
		return
	}
	if _, err := r.coordinator.SendMessage(r.ctx, p.ChatID, c.identity, p); err != nil {
		r.sendError(c, err)
	}
}

func (r *Router) editMessage(c *Client, data json.RawMessage) {
	var p model.EditMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		r.sendError(c, chat.ErrInvalidMessage)
		return
	}
	if _, err := r.coordinator.EditMessage(r.ctx, p.MessageID, c.identity, p.NewMessage); err != nil {
		r.sendError(c, err)
	}
}

func (r *Router) deleteMessage(c *Client, data json.RawMessage) {
	var p model.DeleteMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		r.sendError(c, chat.ErrInvalidMessage)
		return
	}
	if _, err := r.coordinator.DeleteMessage(r.ctx, p.MessageID, c.identity); err != nil {
		r.sendError(c, err)
	}
}

func (r *Router) typing(c *Client, data json.RawMessage) {
	var p model.TypingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	r.coordinator.SetTyping(r.ctx, p.ChatID, c.identity, p.IsTyping)
}

func (r *Router) markRead(c *Client, data json.RawMessage) {
	var p model.MarkReadPayload
	if err := json.Unmarshal(data, &p); err != nil {
		r.sendError(c, chat.ErrInvalidMessage)
		return
	}
	if err := r.coordinator.MarkRead(r.ctx, p.ChatID, c.identity); err != nil {
		r.sendError(c, err)
	}
}

func (r *Router) checkUserOnline(c *Client, data json.RawMessage) {
	var p model.UserRefPayload
	if err := json.Unmarshal(data, &p); err != nil || p.UserID == "" {
		r.sendError(c, chat.ErrInvalidMessage)
		return
	}
	name := model.EventUserOffline
	if r.presence.IsOnline(p.UserID) {
		name = model.EventUserOnline
	}
	c.Send(model.NewEvent(name, model.UserRefPayload{UserID: p.UserID}))
}

func (r *Router) callUser(c *Client, data json.RawMessage) {
	var p model.CallUserPayload
	if err := json.Unmarshal(data, &p); err != nil || p.UserToCall == "" {
		r.sendError(c, chat.ErrInvalidMessage)
		return
	}
	name := c.identity.Name
	if p.Name != "" {
		name = p.Name
	}
	if _, err := r.relay.PlaceCall(r.ctx, c.identity.UserID, name, p.UserToCall, p.SignalData, p.CallType); err != nil {
		r.sendError(c, err)
	}
}

func (r *Router) acceptCall(c *Client, data json.RawMessage) {
	var p model.AcceptCallPayload
	if err := json.Unmarshal(data, &p); err != nil || p.To == "" {
		r.sendError(c, chat.ErrInvalidMessage)
		return
	}
	if err := r.relay.AcceptCall(r.ctx, c.identity.UserID, p.To, p.Signal); err != nil {
		r.sendError(c, err)
	}
}

func (r *Router) rejectCall(c *Client, data json.RawMessage) {
	var p model.CallPeerPayload
	if err := json.Unmarshal(data, &p); err != nil || p.To == "" {
		return
	}
	r.relay.RejectCall(r.ctx, c.identity.UserID, p.To)
}

func (r *Router) endCall(c *Client, data json.RawMessage) {
	var p model.CallPeerPayload
	if err := json.Unmarshal(data, &p); err != nil || p.To == "" {
		return
	}
	r.relay.EndCall(r.ctx, c.identity.UserID, p.To)
}

func (r *Router) iceCandidate(c *Client, data json.RawMessage) {
	var p model.IceCandidatePayload
	if err := json.Unmarshal(data, &p); err != nil || p.To == "" {
		return
	}
	r.relay.RelayIceCandidate(r.ctx, c.identity.UserID, p.To, p.Candidate)
}

// sendError maps the error taxonomy to an explicit error event so failed
// requests never silently disappear.
func (r *Router) sendError(c *Client, err error) {
	code := "internal_error"
	msg := "operation failed"
	switch {
	case errors.Is(err, chat.ErrNotParticipant):
		code, msg = "not_participant", "not a participant of this conversation"
	case errors.Is(err, chat.ErrForbidden):
		code, msg = "forbidden", "operation not permitted"
	case errors.Is(err, chat.ErrInvalidMessage):
		code, msg = "invalid_message", "malformed request"
	case errors.Is(err, store.ErrNotFound):
		code, msg = "not_found", "no such conversation or message"
	case errors.Is(err, call.ErrPeerOffline):
		code, msg = "peer_offline", "user is not online"
	default:
		r.logger.Error("event handling failed",
			zap.String("conn_id", c.ID),
			zap.String("user_id", c.identity.UserID),
			zap.Error(err),
		)
	}
	c.Send(model.NewEvent(model.EventError, model.ErrorPayload{Code: code, Message: msg}))
}

// decodeStringOr accepts a bare JSON string or an object with the given
// field; the web clients emit join_chat both ways.
func decodeStringOr(data json.RawMessage, field string) string {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err == nil {
		return m[field]
	}
	return ""
}
