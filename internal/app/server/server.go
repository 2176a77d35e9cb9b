package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"pok7/internal/app/server/handlers"
	"pok7/internal/app/server/ws"
	"pok7/pkg/middleware"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Deps struct {
	Tokens   middleware.TokenValidator
	Sessions handlers.SessionRunner
	Pokes    handlers.PokeAPI
	Presence handlers.PresenceLister
	Users    handlers.UserAPI
	Push     handlers.PushAPI
	// Keepalive falls back to ws.DefaultKeepalive when unset.
	Keepalive ws.Keepalive
	Gatherer  prometheus.Gatherer
	Checks    map[string]HealthCheck
}

type Server struct {
	log      *slog.Logger
	name     string
	mux      *http.ServeMux
	srv      *http.Server
	deps     Deps
	stream   *handlers.StreamHandler
	pokes    *handlers.PokeHandler
	presence *handlers.PresenceHandler
	users    *handlers.UserHandler
	push     *handlers.PushHandler
}

func NewServer(log *slog.Logger, name, addr string, deps Deps) *Server {
	keepalive := deps.Keepalive
	if keepalive.PingInterval <= 0 || keepalive.PongWait <= keepalive.PingInterval {
		keepalive = ws.DefaultKeepalive
	}
	s := &Server{
		log:      log,
		name:     name,
		mux:      http.NewServeMux(),
		deps:     deps,
		stream:   handlers.NewStreamHandler(log, deps.Sessions, keepalive),
		pokes:    handlers.NewPokeHandler(log, deps.Pokes),
		presence: handlers.NewPresenceHandler(deps.Presence),
		users:    handlers.NewUserHandler(deps.Users),
		push:     handlers.NewPushHandler(log, deps.Push),
	}
	s.routes()
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	auth := middleware.AuthMiddleware(s.deps.Tokens)
	protected := func(h http.HandlerFunc) http.Handler { return auth(h) }

	// Public
	s.mux.HandleFunc("GET /healthz", s.healthz)
	s.mux.HandleFunc("GET /leaderboard", s.pokes.Leaderboard)
	s.mux.HandleFunc("GET /webpush/vapid", s.push.VAPID)
	if s.deps.Gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	// Protected
	s.mux.Handle("GET /ws", protected(s.stream.Handler))
	s.mux.Handle("GET /presence", protected(s.presence.List))
	s.mux.Handle("GET /pokes", protected(s.pokes.List))
	s.mux.Handle("POST /pokes", protected(s.pokes.Poke))
	s.mux.Handle("PATCH /pokes/{id}/visibility", protected(s.pokes.SetVisibility))
	s.mux.Handle("GET /users/search", protected(s.users.Search))
	s.mux.Handle("GET /me/anonymized", protected(s.users.Anonymized))
	s.mux.Handle("POST /me/anonymized/name", protected(s.users.RefreshAnonymizedName))
	s.mux.Handle("POST /me/anonymized/picture", protected(s.users.RefreshAnonymizedPicture))
	s.mux.Handle("POST /webpush", protected(s.push.Register))
	s.mux.Handle("GET /webpush/{id}", protected(s.push.Get))
	s.mux.Handle("DELETE /webpush/{id}", protected(s.push.Delete))
	s.mux.Handle("POST /webpush/test", protected(s.push.Test))
}

// Handler is the full middleware stack around the routes.
func (s *Server) Handler() http.Handler {
	return middleware.Chain(s.mux,
		middleware.TracerMiddleware(s.name),
		middleware.RequestLogger(s.log),
	)
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("server - start - listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests. Hijacked stream connections are not
// tracked by net/http and must be closed through the session registry.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]string{}
	code := http.StatusOK
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": http.StatusText(code), "checks": status})
}
