package handlers

import (
	"net/http"

	"github.com/defrilex/messaging/internal/api/middleware"
	"github.com/defrilex/messaging/internal/messaging"
	"github.com/defrilex/messaging/internal/models"
)

// ConversationListResponse represents the conversation feed.
type ConversationListResponse struct {
	Conversations []models.ConversationSummary `json:"conversations"`
	Pagination    messaging.Pagination         `json:"pagination"`
}

// ListConversations handles the authenticated user's conversation feed.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	page, limit, err := pageParams(r)
	if err != nil {
		h.writeServiceError(w, r, "list conversations", err)
		return
	}

	result, err := h.svc.ListConversations(r.Context(), user.ID, page, limit)
	if err != nil {
		h.writeServiceError(w, r, "list conversations", err)
		return
	}

	h.JSON(w, http.StatusOK, ConversationListResponse{
		Conversations: result.Items,
		Pagination:    result.Pagination,
	})
}
