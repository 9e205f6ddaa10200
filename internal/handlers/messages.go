package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/defrilex/messaging/internal/api/middleware"
	"github.com/defrilex/messaging/internal/messaging"
	"github.com/defrilex/messaging/internal/models"
)

// SendMessageRequest represents the send message request body.
type SendMessageRequest struct {
	ConversationID string              `json:"conversationId,omitempty"`
	RecipientID    string              `json:"recipientId,omitempty"`
	Content        string              `json:"content"`
	Attachments    []models.Attachment `json:"attachments,omitempty"`
}

// MessageResponse wraps a single message.
type MessageResponse struct {
	Message *models.Message `json:"message"`
}

// MessageListResponse represents a page of messages, oldest first.
type MessageListResponse struct {
	Messages   []models.Message     `json:"messages"`
	Pagination messaging.Pagination `json:"pagination"`
}

// UnreadResponse represents the unread counter.
type UnreadResponse struct {
	UnreadCount int64 `json:"unreadCount"`
}

// SendMessage handles posting a message, creating the conversation on first contact.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req SendMessageRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	res, err := h.svc.Send(r.Context(), user.ID, messaging.SendRequest{
		ConversationID: req.ConversationID,
		RecipientID:    req.RecipientID,
		Content:        req.Content,
		Attachments:    req.Attachments,
	})
	if err != nil {
		h.writeServiceError(w, r, "send message", err)
		return
	}

	if res.ConversationCreated {
		h.logger.Debug().
			Str("conversation_id", res.Conversation.ID).
			Str("user_id", user.ID).
			Msg("conversation created")
	}

	h.JSON(w, http.StatusCreated, MessageResponse{Message: res.Message})
}

// ListMessages handles fetching a page of a conversation and marks incoming messages read.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	conversationID := r.URL.Query().Get("conversationId")
	if conversationID == "" {
		h.Error(w, http.StatusBadRequest, "conversationId is required")
		return
	}

	page, limit, err := pageParams(r)
	if err != nil {
		h.writeServiceError(w, r, "list messages", err)
		return
	}

	result, err := h.svc.ListMessages(r.Context(), conversationID, user.ID, page, limit)
	if err != nil {
		h.writeServiceError(w, r, "list messages", err)
		return
	}

	h.JSON(w, http.StatusOK, MessageListResponse{
		Messages:   result.Messages,
		Pagination: result.Pagination,
	})
}

// MarkRead handles marking a single message as read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	msg, err := h.svc.MarkMessageRead(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		h.writeServiceError(w, r, "mark read", err)
		return
	}

	h.JSON(w, http.StatusOK, MessageResponse{Message: msg})
}

// Unread handles the total unread counter for the authenticated user.
func (h *Handler) Unread(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	n, err := h.svc.UnreadTotal(r.Context(), user.ID)
	if err != nil {
		h.writeServiceError(w, r, "unread total", err)
		return
	}

	h.JSON(w, http.StatusOK, UnreadResponse{UnreadCount: n})
}
