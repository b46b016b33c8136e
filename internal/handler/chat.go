// Package handler provides HTTP handlers for the REST surface of the
// support chat: conversation bootstrap, history, and admin assignment.
// Live traffic flows over the websocket channel, not these endpoints.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/casalink/support-chat/internal/chat"
	"github.com/casalink/support-chat/internal/middleware"
	"github.com/casalink/support-chat/internal/store"
	"github.com/casalink/support-chat/pkg/logger"
)

// ChatHandler handles conversation endpoints.
type ChatHandler struct {
	coordinator *chat.Coordinator
	logger      *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(coord *chat.Coordinator, log *logger.Logger) *ChatHandler {
	return &ChatHandler{coordinator: coord, logger: log}
}

// Start handles POST /api/chat/start: find-or-create the caller's
// conversation with the admin pool.
func (h *ChatHandler) Start(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())

	conv, err := h.coordinator.StartOrGet(r.Context(), identity)
	if err != nil {
		h.writeChatError(w, err, "failed to start conversation")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// Messages handles GET /api/chat/{id}/messages: the full history in server
// accept order, soft-deleted messages redacted.
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs, err := h.coordinator.ListMessages(r.Context(), conversationID, identity)
	if err != nil {
		h.writeChatError(w, err, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type assignRequest struct {
	AssignedTo string `json:"assignedTo"`
}

// Assign handles POST /api/chat/{id}/assign (admin only).
func (h *ChatHandler) Assign(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateUserID(req.AssignedTo); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.coordinator.Assign(r.Context(), conversationID, identity, req.AssignedTo); err != nil {
		h.writeChatError(w, err, "failed to assign conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AdminChats handles GET /api/chat/admin/chats (admin only).
func (h *ChatHandler) AdminChats(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())

	convs, err := h.coordinator.ListForAdmin(r.Context(), identity)
	if err != nil {
		h.writeChatError(w, err, "failed to list conversations")
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *ChatHandler) writeChatError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, chat.ErrForbidden), errors.Is(err, chat.ErrNotParticipant):
		writeError(w, http.StatusForbidden, "operation not permitted")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, chat.ErrInvalidMessage):
		writeError(w, http.StatusBadRequest, "invalid request")
	default:
		h.logger.Error(fallback, zap.Error(err))
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
