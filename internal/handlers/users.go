package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// UserResponse represents a public user identity.
type UserResponse struct {
	ID        string  `json:"id"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Avatar    *string `json:"avatar"`
}

// GetUser handles public identity lookup.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" || len(id) > 64 {
		h.Error(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	user, err := h.ds.GetUserByID(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "get user", err)
		return
	}
	if user == nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	h.JSON(w, http.StatusOK, UserResponse{
		ID:        user.ID,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Avatar:    user.Avatar,
	})
}
