package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"pok7/internal/app/server/ws"
	"pok7/internal/core/contracts"
	"pok7/internal/core/domain"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

type tokens map[string]string

func (t tokens) ValidateToken(tok string) (string, error) {
	if id, ok := t[tok]; ok {
		return id, nil
	}
	return "", errors.New("invalid")
}

type stubSessions struct {
	mu      sync.Mutex
	touched int
	runErr  error
	ended   chan error
}

func (s *stubSessions) Run(ctx context.Context, userID string, em contracts.Emitter) error {
	if err := em.Emit(ctx, domain.NewNotificationSnapshot([]domain.PokeRelation{{ID: "r1", Count: 2}})); err != nil {
		return err
	}
	if s.runErr != nil {
		return s.runErr
	}
	<-ctx.Done()
	var err error
	if cause := context.Cause(ctx); !errors.Is(cause, context.Canceled) {
		err = cause
	}
	select {
	case s.ended <- err:
	default:
	}
	return err
}

func (s *stubSessions) Touch(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched++
	return nil
}

func (s *stubSessions) touches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

type stubPokes struct {
	actor, target string
}

func (p *stubPokes) Poke(_ context.Context, actorID, targetID string) (*domain.PokeResult, error) {
	if actorID == targetID {
		return nil, domain.ErrSelfPoke
	}
	if targetID == "ghost" {
		return nil, domain.ErrUserNotFound
	}
	p.actor, p.target = actorID, targetID
	return &domain.PokeResult{Relation: domain.PokeRelation{ID: "r1", Count: 1}, IsNewRelation: true}, nil
}

func (p *stubPokes) Leaderboard(_ context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	return []domain.LeaderboardEntry{{ID: "r1", Count: limit}}, nil
}

func (p *stubPokes) SetVisibility(_ context.Context, userID, relationID string, _ bool) error {
	if relationID != "r1" {
		return domain.ErrRelationNotFound
	}
	return nil
}

func (p *stubPokes) Snapshot(context.Context, string) (*domain.NotificationSnapshot, error) {
	return domain.NewNotificationSnapshot(nil), nil
}

type stubPresence []string

func (p stubPresence) ListLive(context.Context) ([]string, error) { return p, nil }

type stubUsers struct{}

func (stubUsers) Search(_ context.Context, userID, q string) ([]domain.SearchResult, error) {
	return []domain.SearchResult{{User: domain.UserSummary{ID: "x", Name: q}}}, nil
}

func (stubUsers) Anonymized(_ context.Context, userID string) (*domain.AnonymizedIdentity, error) {
	if userID != "alice" {
		return nil, domain.ErrUserNotFound
	}
	return &domain.AnonymizedIdentity{Username: "PetitLapinFou", Picture: "https://avatar/alice"}, nil
}

func (stubUsers) RefreshAnonymizedName(context.Context, string) (*domain.AnonymizedIdentity, error) {
	return &domain.AnonymizedIdentity{Username: "GrandChatRusé", Picture: "https://avatar/alice"}, nil
}

func (stubUsers) RefreshAnonymizedPicture(context.Context, string) (*domain.AnonymizedIdentity, error) {
	return &domain.AnonymizedIdentity{Username: "PetitLapinFou", Picture: "https://avatar/new"}, nil
}

type stubPush struct {
	registered domain.PushSubscription
}

func (p *stubPush) Register(_ context.Context, userID string, sub domain.PushSubscription) (*domain.PushSubscription, error) {
	sub.UserID = userID
	p.registered = sub
	return &sub, nil
}

func (p *stubPush) Get(_ context.Context, userID, id string) (*domain.PushSubscription, error) {
	if id != "s1" || userID != "alice" {
		return nil, domain.ErrPushSubscriptionNotFound
	}
	return &domain.PushSubscription{ID: "s1", UserID: userID, Endpoint: "https://push.example/1"}, nil
}

func (p *stubPush) Delete(_ context.Context, userID, id string) error {
	return domain.ErrPushSubscriptionNotFound
}

func (p *stubPush) SendTest(context.Context, string) (int, error) {
	return 0, domain.ErrNoPushSubscriptions
}

func (p *stubPush) VAPIDPublicKey() string { return "vapid-pub" }

type fixture struct {
	srv      *httptest.Server
	sessions *stubSessions
	pokes    *stubPokes
	push     *stubPush
}

func newFixture(t *testing.T, checks map[string]HealthCheck) *fixture {
	t.Helper()
	return newFixtureWithKeepalive(t, checks, ws.Keepalive{})
}

func newFixtureWithKeepalive(t *testing.T, checks map[string]HealthCheck, keepalive ws.Keepalive) *fixture {
	t.Helper()
	f := &fixture{sessions: &stubSessions{ended: make(chan error, 1)}, pokes: &stubPokes{}, push: &stubPush{}}
	s := NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)), "pok7-test", ":0", Deps{
		Tokens:    tokens{"tok-alice": "alice"},
		Sessions:  f.sessions,
		Pokes:     f.pokes,
		Presence:  stubPresence{"alice", "bob"},
		Users:     stubUsers{},
		Push:      f.push,
		Keepalive: keepalive,
		Gatherer:  prometheus.NewRegistry(),
		Checks:    checks,
	})
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, auth bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if auth {
		req.Header.Set("Authorization", "Bearer tok-alice")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestPokeEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		body   string
		auth   bool
		status int
	}{
		{"created", `{"target_user_id":"bob"}`, true, http.StatusCreated},
		{"self", `{"target_user_id":"alice"}`, true, http.StatusBadRequest},
		{"unknown", `{"target_user_id":"ghost"}`, true, http.StatusNotFound},
		{"malformed", `{`, true, http.StatusBadRequest},
		{"unauthenticated", `{"target_user_id":"bob"}`, false, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/pokes", tt.body, tt.auth)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
	if f.pokes.actor != "alice" || f.pokes.target != "bob" {
		t.Fatalf("poke recorded %s -> %s", f.pokes.actor, f.pokes.target)
	}
}

func TestPresenceEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodGet, "/presence", "", true)
	var body struct {
		Count int      `json:"count"`
		Users []string `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 2 || len(body.Users) != 2 {
		t.Fatalf("presence = %+v", body)
	}
}

func TestLeaderboardAndVisibility(t *testing.T) {
	f := newFixture(t, nil)
	if resp := f.do(t, http.MethodGet, "/leaderboard?limit=abc", "", false); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/leaderboard?limit=3", "", false); resp.StatusCode != http.StatusOK {
		t.Fatalf("leaderboard status = %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPatch, "/pokes/r1/visibility", `{"visible":false}`, true); resp.StatusCode != http.StatusOK {
		t.Fatalf("visibility status = %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPatch, "/pokes/r9/visibility", `{"visible":false}`, true); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign visibility status = %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPatch, "/pokes/r1/visibility", `{}`, true); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing visible status = %d", resp.StatusCode)
	}
}

func TestWebPushEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	body := `{"endpoint":"https://push.example/1","expirationTime":1893456000000,"keys":{"p256dh":"k","auth":"a"}}`
	if resp := f.do(t, http.MethodPost, "/webpush", body, true); resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	exp := f.push.registered.ExpirationTime
	if exp == nil || exp.Year() != 2030 || f.push.registered.UserID != "alice" {
		t.Fatalf("registered = %+v", f.push.registered)
	}
	resp := f.do(t, http.MethodGet, "/webpush/s1", "", true)
	var got domain.PushSubscription
	_ = json.NewDecoder(resp.Body).Decode(&got)
	if resp.StatusCode != http.StatusOK || got.Endpoint != "https://push.example/1" {
		t.Fatalf("get status = %d body = %+v", resp.StatusCode, got)
	}
	if resp := f.do(t, http.MethodGet, "/webpush/s9", "", true); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign get status = %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodDelete, "/webpush/x", "", true); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp = f.do(t, http.MethodPost, "/webpush/test", "", true)
	var test struct {
		Success bool `json:"success"`
		Sent    int  `json:"sent"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&test)
	if resp.StatusCode != http.StatusOK || test.Success {
		t.Fatalf("test status = %d body = %+v", resp.StatusCode, test)
	}
	resp = f.do(t, http.MethodGet, "/webpush/vapid", "", false)
	var key map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&key)
	if key["public_key"] != "vapid-pub" {
		t.Fatalf("vapid = %v", key)
	}
}

func TestAnonymizedIdentityEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		method, path string
		want         domain.AnonymizedIdentity
	}{
		{http.MethodGet, "/me/anonymized", domain.AnonymizedIdentity{Username: "PetitLapinFou", Picture: "https://avatar/alice"}},
		{http.MethodPost, "/me/anonymized/name", domain.AnonymizedIdentity{Username: "GrandChatRusé", Picture: "https://avatar/alice"}},
		{http.MethodPost, "/me/anonymized/picture", domain.AnonymizedIdentity{Username: "PetitLapinFou", Picture: "https://avatar/new"}},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp := f.do(t, tt.method, tt.path, "", true)
			var got domain.AnonymizedIdentity
			if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != http.StatusOK || got != tt.want {
				t.Fatalf("status = %d body = %+v", resp.StatusCode, got)
			}
		})
	}
	if resp := f.do(t, http.MethodGet, "/me/anonymized", "", false); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, map[string]HealthCheck{
		"redis": func(context.Context) error { return nil },
	})
	if resp := f.do(t, http.MethodGet, "/healthz", "", false); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthy status = %d", resp.StatusCode)
	}

	f = newFixture(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return errors.New("down") },
	})
	if resp := f.do(t, http.MethodGet, "/healthz", "", false); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy status = %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	if resp := f.do(t, http.MethodGet, "/metrics", "", false); resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
}

func dialStream(t *testing.T, f *fixture, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?token=" + token
	return websocket.DefaultDialer.Dial(url, nil)
}

func readFrame(t *testing.T, conn *websocket.Conn) domain.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame domain.Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func TestStreamSnapshotAndPing(t *testing.T) {
	f := newFixture(t, nil)
	conn, _, err := dialStream(t, f, "tok-alice")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	first := readFrame(t, conn)
	if first.Type != domain.TypeSnapshot || first.Snapshot == nil || first.Snapshot.TotalPokes != 2 {
		t.Fatalf("first frame = %+v", first)
	}
	if err := conn.WriteJSON(domain.ClientFrame{Type: domain.TypePing}); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if pong := readFrame(t, conn); pong.Type != domain.TypePong {
		t.Fatalf("pong frame = %+v", pong)
	}
	if f.sessions.touches() != 1 {
		t.Fatalf("touches = %d", f.sessions.touches())
	}
}

func TestStreamMalformedFrameClosesWithError(t *testing.T) {
	f := newFixture(t, nil)
	conn, _, err := dialStream(t, f, "tok-alice")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readFrame(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if frame := readFrame(t, conn); frame.Type != domain.TypeError || frame.Code != "malformed_frame" {
		t.Fatalf("frame = %+v", frame)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the server to close the stream")
	}
	select {
	case err := <-f.sessions.ended:
		if !errors.Is(err, domain.ErrMalformedFrame) {
			t.Fatalf("session ended with %v, want ErrMalformedFrame", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session kept running after a malformed frame")
	}
}

func TestStreamDropsSilentPeer(t *testing.T) {
	f := newFixtureWithKeepalive(t, nil, ws.Keepalive{
		PingInterval: 50 * time.Millisecond,
		PongWait:     200 * time.Millisecond,
	})
	conn, _, err := dialStream(t, f, "tok-alice")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readFrame(t, conn)

	// No further reads: server pings go unanswered.
	select {
	case err := <-f.sessions.ended:
		if !errors.Is(err, ws.ErrPeerTimeout) {
			t.Fatalf("session ended with %v, want ErrPeerTimeout", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("silent peer kept its session")
	}
}

func TestStreamSessionErrorSendsErrorFrame(t *testing.T) {
	f := newFixture(t, nil)
	f.sessions.runErr = domain.ErrBrokerUnavailable
	conn, _, err := dialStream(t, f, "tok-alice")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readFrame(t, conn)
	if frame := readFrame(t, conn); frame.Type != domain.TypeError || frame.Code != "broker_unavailable" {
		t.Fatalf("frame = %+v", frame)
	}
}

func TestStreamRequiresToken(t *testing.T) {
	f := newFixture(t, nil)
	_, resp, err := dialStream(t, f, "bad")
	if err == nil {
		t.Fatal("dial with bad token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp = %v", resp)
	}
}
