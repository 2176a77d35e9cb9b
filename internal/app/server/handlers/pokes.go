package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"pok7/internal/core/domain"
	"pok7/internal/platform/logger"
	"strconv"
)

type PokeAPI interface {
	Poke(ctx context.Context, actorID, targetID string) (*domain.PokeResult, error)
	Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
	SetVisibility(ctx context.Context, userID, relationID string, visible bool) error
	Snapshot(ctx context.Context, userID string) (*domain.NotificationSnapshot, error)
}

type PokeHandler struct {
	log   *slog.Logger
	pokes PokeAPI
}

func NewPokeHandler(log *slog.Logger, pokes PokeAPI) *PokeHandler {
	return &PokeHandler{log: log, pokes: pokes}
}

type pokeRequest struct {
	TargetUserID string `json:"target_user_id"`
}

// Poke handles POST /pokes.
func (h *PokeHandler) Poke(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), h.log)
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req pokeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.pokes.Poke(r.Context(), userID, req.TargetUserID)
	if err != nil {
		log.WarnContext(r.Context(), "poke handler - poke - failed", "target_id", req.TargetUserID, "err", err)
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if res.IsNewRelation {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// List handles GET /pokes, the same snapshot the stream emits.
func (h *PokeHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	snap, err := h.pokes.Snapshot(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Leaderboard handles GET /leaderboard?limit=.
func (h *PokeHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid limit"})
			return
		}
		limit = n
	}
	entries, err := h.pokes.Leaderboard(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": entries})
}

type visibilityRequest struct {
	Visible *bool `json:"visible"`
}

// SetVisibility handles PATCH /pokes/{id}/visibility.
func (h *PokeHandler) SetVisibility(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req visibilityRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Visible == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "visible is required"})
		return
	}
	if err := h.pokes.SetVisibility(r.Context(), userID, r.PathValue("id"), *req.Visible); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"visible": *req.Visible})
}
