package handlers

import (
	"context"
	"net/http"
)

type PresenceLister interface {
	ListLive(ctx context.Context) ([]string, error)
}

type PresenceHandler struct {
	presence PresenceLister
}

func NewPresenceHandler(presence PresenceLister) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

type presenceResponse struct {
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// List handles GET /presence.
func (h *PresenceHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.presence.ListLive(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if users == nil {
		users = []string{}
	}
	writeJSON(w, http.StatusOK, presenceResponse{Count: len(users), Users: users})
}
