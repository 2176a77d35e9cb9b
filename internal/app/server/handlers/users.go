package handlers

import (
	"context"
	"net/http"
	"pok7/internal/core/domain"
)

type UserAPI interface {
	Search(ctx context.Context, userID, query string) ([]domain.SearchResult, error)
	Anonymized(ctx context.Context, userID string) (*domain.AnonymizedIdentity, error)
	RefreshAnonymizedName(ctx context.Context, userID string) (*domain.AnonymizedIdentity, error)
	RefreshAnonymizedPicture(ctx context.Context, userID string) (*domain.AnonymizedIdentity, error)
}

type UserHandler struct {
	users UserAPI
}

func NewUserHandler(users UserAPI) *UserHandler {
	return &UserHandler{users: users}
}

// Search handles GET /users/search?q=.
func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	results, err := h.users.Search(r.Context(), userID, r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": results})
}

// Anonymized handles GET /me/anonymized.
func (h *UserHandler) Anonymized(w http.ResponseWriter, r *http.Request) {
	h.identity(w, r, h.users.Anonymized)
}

// RefreshAnonymizedName handles POST /me/anonymized/name.
func (h *UserHandler) RefreshAnonymizedName(w http.ResponseWriter, r *http.Request) {
	h.identity(w, r, h.users.RefreshAnonymizedName)
}

// RefreshAnonymizedPicture handles POST /me/anonymized/picture.
func (h *UserHandler) RefreshAnonymizedPicture(w http.ResponseWriter, r *http.Request) {
	h.identity(w, r, h.users.RefreshAnonymizedPicture)
}

func (h *UserHandler) identity(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, userID string) (*domain.AnonymizedIdentity, error),
) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	identity, err := op(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}
