package ws

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var fastKeepalive = Keepalive{PingInterval: 50 * time.Millisecond, PongWait: 200 * time.Millisecond}

// serve upgrades one connection, optionally starts a RuntimeClient on it
// and reports how ReadLoop ended.
func serve(t *testing.T, withClient bool, onMsg func([]byte) error) (*websocket.Conn, <-chan error) {
	t.Helper()
	result := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		socket := NewWebSocket(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), conn, fastKeepalive)
		if !withClient {
			err := socket.ReadLoop(onMsg)
			socket.Close()
			result <- err
			return
		}
		client := NewClient(context.Background(), socket)
		err = socket.ReadLoop(onMsg)
		client.Close()
		<-client.Done()
		result <- err
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, result
}

func ignore([]byte) error { return nil }

func TestReadLoopTimesOutSilentPeer(t *testing.T) {
	// The peer never reads, so it never answers pings.
	_, result := serve(t, true, ignore)

	select {
	case err := <-result:
		if !errors.Is(err, ErrPeerTimeout) {
			t.Fatalf("err = %v, want ErrPeerTimeout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("read loop kept a silent peer open")
	}
}

func TestReadLoopKeepsRespondingPeer(t *testing.T) {
	conn, result := serve(t, true, ignore)
	go func() {
		// Reading lets gorilla answer server pings with pongs.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case err := <-result:
		t.Fatalf("read loop ended early: %v", err)
	case <-time.After(4 * fastKeepalive.PongWait):
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("normal close err = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not end on close")
	}
}

func TestReadLoopStopsOnHandlerError(t *testing.T) {
	stop := errors.New("stop")
	conn, result := serve(t, false, func(data []byte) error {
		if string(data) == "bad" {
			return stop
		}
		return nil
	})
	for _, m := range []string{"ok", "bad"} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	select {
	case err := <-result:
		if !errors.Is(err, stop) {
			t.Fatalf("err = %v, want handler error", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("read loop ignored the handler error")
	}
}
