package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"pok7/internal/app/server/ws"
	"pok7/internal/core/contracts"
	"pok7/internal/core/domain"
	"pok7/internal/platform/logger"
	"pok7/pkg/logging"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SessionRunner runs one live notification stream.
type SessionRunner interface {
	Run(ctx context.Context, userID string, emitter contracts.Emitter) error
	Touch(ctx context.Context, userID string) error
}

type StreamHandler struct {
	log       *slog.Logger
	sessions  SessionRunner
	upgrader  websocket.Upgrader
	keepalive ws.Keepalive
}

func NewStreamHandler(log *slog.Logger, sessions SessionRunner, keepalive ws.Keepalive) *StreamHandler {
	return &StreamHandler{
		log:       log,
		sessions:  sessions,
		keepalive: keepalive,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // tokens, not cookies, authenticate the stream
			},
		},
	}
}

func (h *StreamHandler) Handler(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), h.log)
	userID, ok := currentUser(w, r)
	if !ok {
		log.ErrorContext(r.Context(), "stream handler - unauthorised missing user_id")
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("user.id", userID))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.ErrorContext(r.Context(), "stream handler - upgrade - ws upgrade failed", "err", err)
		return
	}
	// The session outlives the upgrade request but keeps its trace and logger.
	// The read side cancels it with the reason the stream has to end.
	ctx, cancel := context.WithCancelCause(context.WithoutCancel(r.Context()))
	defer cancel(nil)
	ctx = logging.With(ctx, logging.User(userID))
	log = logger.FromContext(ctx, h.log)

	socket := ws.NewWebSocket(ctx, log, conn, h.keepalive)
	// Writes outlive the session so the final error frame still goes out.
	client := ws.NewClient(context.WithoutCancel(ctx), socket)
	go func() {
		cancel(socket.ReadLoop(func(data []byte) error {
			return h.onFrame(ctx, log, userID, client, data)
		}))
	}()

	log.InfoContext(ctx, "stream handler - ws connection established")
	if err := h.sessions.Run(ctx, userID, client); err != nil {
		log.ErrorContext(ctx, "stream handler - run - session failed", "err", err)
		_ = client.SendFrame(context.WithoutCancel(ctx), errorFrame(err))
	}
	client.Close()
	<-client.Done()
	log.InfoContext(ctx, "stream handler - ws connection closed")
}

// onFrame answers keepalives. Anything else ends the stream.
func (h *StreamHandler) onFrame(
	ctx context.Context,
	log *slog.Logger,
	userID string,
	client *ws.RuntimeClient,
	data []byte,
) error {
	var frame domain.ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != domain.TypePing {
		log.WarnContext(ctx, "stream handler - read - malformed frame", "size", len(data))
		return domain.ErrMalformedFrame
	}
	if err := h.sessions.Touch(ctx, userID); err != nil {
		log.WarnContext(ctx, "stream handler - touch - refresh presence failed", "err", err)
	}
	_ = client.SendFrame(ctx, domain.PongFrame{Type: domain.TypePong})
	return nil
}

func errorFrame(err error) domain.ErrorFrame {
	frame := domain.ErrorFrame{
		Type:    domain.TypeError,
		Code:    errorCode(err),
		Message: "stream failed, reconnect",
	}
	if errors.Is(err, domain.ErrMalformedFrame) {
		frame.Message = domain.ErrMalformedFrame.Error()
	}
	return frame
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrMalformedFrame):
		return "malformed_frame"
	case errors.Is(err, ws.ErrPeerTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrBrokerUnavailable):
		return "broker_unavailable"
	case errors.Is(err, domain.ErrPresenceUnavailable):
		return "presence_unavailable"
	default:
		return "internal"
	}
}
