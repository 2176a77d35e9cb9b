package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"pok7/internal/core/domain"
	"pok7/pkg/middleware"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSelfPoke),
		errors.Is(err, domain.ErrInvalidUserID),
		errors.Is(err, domain.ErrInvalidPushSubscription),
		errors.Is(err, domain.ErrMalformedFrame):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrRelationNotFound),
		errors.Is(err, domain.ErrPushSubscriptionNotFound),
		errors.Is(err, domain.ErrNoPushSubscriptions):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPresenceUnavailable),
		errors.Is(err, domain.ErrBrokerUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024))
	if err := dec.Decode(v); err != nil {
		return errors.Join(domain.ErrMalformedFrame, err)
	}
	return nil
}

// currentUser returns the authenticated user id, writing 401 when absent.
func currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
	}
	return id, ok
}
