package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"pok7/internal/core/domain"
	"pok7/internal/platform/logger"
	"time"
)

type PushAPI interface {
	Register(ctx context.Context, userID string, sub domain.PushSubscription) (*domain.PushSubscription, error)
	Get(ctx context.Context, userID, id string) (*domain.PushSubscription, error)
	Delete(ctx context.Context, userID, id string) error
	SendTest(ctx context.Context, userID string) (int, error)
	VAPIDPublicKey() string
}

type PushHandler struct {
	log  *slog.Logger
	push PushAPI
}

func NewPushHandler(log *slog.Logger, push PushAPI) *PushHandler {
	return &PushHandler{log: log, push: push}
}

// pushRegistration is the browser's PushSubscription.toJSON() plus an
// optional client chosen id.
type pushRegistration struct {
	ID             string          `json:"id"`
	Endpoint       string          `json:"endpoint"`
	ExpirationTime *float64        `json:"expirationTime"` // ms since epoch
	Keys           domain.PushKeys `json:"keys"`
}

func (p pushRegistration) subscription() domain.PushSubscription {
	sub := domain.PushSubscription{ID: p.ID, Endpoint: p.Endpoint, Keys: p.Keys}
	if p.ExpirationTime != nil {
		t := time.UnixMilli(int64(*p.ExpirationTime)).UTC()
		sub.ExpirationTime = &t
	}
	return sub
}

// Register handles POST /webpush with a browser PushSubscription body.
func (h *PushHandler) Register(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req pushRegistration
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	saved, err := h.push.Register(r.Context(), userID, req.subscription())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// Get handles GET /webpush/{id}.
func (h *PushHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	sub, err := h.push.Get(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// Delete handles DELETE /webpush/{id}.
func (h *PushHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.push.Delete(r.Context(), userID, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Test handles POST /webpush/test.
func (h *PushHandler) Test(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), h.log)
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	sent, err := h.push.SendTest(r.Context(), userID)
	if err != nil && !errors.Is(err, domain.ErrNoPushSubscriptions) {
		log.WarnContext(r.Context(), "push handler - test - failed", "err", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": sent > 0, "sent": sent})
}

// VAPID handles GET /webpush/vapid.
func (h *PushHandler) VAPID(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.push.VAPIDPublicKey()})
}
