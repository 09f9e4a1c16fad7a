package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Usmanmre/teamsphere-go/domain"
	"github.com/Usmanmre/teamsphere-go/session"
)

type wsServer struct {
	t      *testing.T
	srv    *httptest.Server
	frames chan Frame
	conns  chan *websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		t:      t,
		frames: make(chan Frame, 16),
		conns:  make(chan *websocket.Conn, 4),
	}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f Frame
			if err := json.Unmarshal(data, &f); err != nil {
				continue
			}
			s.frames <- f
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) waitConn() *websocket.Conn {
	s.t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(2 * time.Second):
		s.t.Fatal("timeout waiting for connection")
		return nil
	}
}

func (s *wsServer) waitFrame() Frame {
	s.t.Helper()
	select {
	case f := <-s.frames:
		return f
	case <-time.After(2 * time.Second):
		s.t.Fatal("timeout waiting for frame")
		return Frame{}
	}
}

func newSessionStore(t *testing.T, email string) *session.Store {
	t.Helper()
	store, err := session.NewStore(filepath.Join(t.TempDir(), "session.json"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if email != "" {
		err := store.Login(domain.Session{Token: "tok", User: domain.User{Email: email, Role: domain.RoleEmployee}})
		if err != nil {
			t.Fatalf("login: %v", err)
		}
	}
	return store
}

func TestConnectJoinsUserRoom(t *testing.T) {
	srv := newWSServer(t)
	sock := NewSocket(srv.url(), newSessionStore(t, "alice@example.com"))
	t.Cleanup(func() { _ = sock.Close() })

	if err := sock.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	frame := srv.waitFrame()
	if frame.Event != EventJoinRoom {
		t.Fatalf("event = %q, want %q", frame.Event, EventJoinRoom)
	}
	var email string
	if err := json.Unmarshal(frame.Data, &email); err != nil {
		t.Fatalf("decode joinRoom payload: %v", err)
	}
	if email != "alice@example.com" {
		t.Fatalf("joinRoom email = %q", email)
	}
}

func TestConnectWithoutSessionSkipsJoin(t *testing.T) {
	srv := newWSServer(t)
	sock := NewSocket(srv.url(), newSessionStore(t, ""))
	t.Cleanup(func() { _ = sock.Close() })

	if err := sock.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	srv.waitConn()
	select {
	case f := <-srv.frames:
		t.Fatalf("unexpected frame %q", f.Event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReconnectRejoinsUserRoom(t *testing.T) {
	srv := newWSServer(t)
	sock := NewSocket(srv.url(), newSessionStore(t, "alice@example.com"))
	sock.ReconnectInitial = 10 * time.Millisecond
	t.Cleanup(func() { _ = sock.Close() })

	if err := sock.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	first := srv.waitConn()
	if f := srv.waitFrame(); f.Event != EventJoinRoom {
		t.Fatalf("event = %q, want joinRoom", f.Event)
	}

	// Drop the connection server-side; the client must redial and re-join
	// since the transport does not persist room membership.
	_ = first.Close()

	srv.waitConn()
	if f := srv.waitFrame(); f.Event != EventJoinRoom {
		t.Fatalf("event after reconnect = %q, want joinRoom", f.Event)
	}
}

func TestDispatchInboundEvents(t *testing.T) {
	srv := newWSServer(t)
	sock := NewSocket(srv.url(), newSessionStore(t, "alice@example.com"))
	t.Cleanup(func() { _ = sock.Close() })

	got := make(chan TaskUpdatedEvent, 1)
	sock.Subscribe(EventTaskUpdated, func(data []byte) {
		var ev TaskUpdatedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		got <- ev
	})

	if err := sock.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := srv.waitConn()
	srv.waitFrame() // joinRoom

	payload, _ := json.Marshal(map[string]any{
		"event": EventTaskUpdated,
		"data":  map[string]string{"message": "Task moved"},
	})
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("server write: %v", err)
	}

	select {
	case ev := <-got:
		if ev.Message != "Task moved" {
			t.Fatalf("message = %q", ev.Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for dispatch")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	srv := newWSServer(t)
	sock := NewSocket(srv.url(), newSessionStore(t, "alice@example.com"))
	t.Cleanup(func() { _ = sock.Close() })

	calls := make(chan struct{}, 4)
	off := sock.Subscribe(EventNotification, func([]byte) { calls <- struct{}{} })

	if err := sock.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := srv.waitConn()
	srv.waitFrame() // joinRoom

	send := func() {
		payload, _ := json.Marshal(map[string]any{"event": EventNotification, "data": map[string]string{"message": "hi"}})
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			t.Fatalf("server write: %v", err)
		}
	}
	send()
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for delivery")
	}

	off()
	send()
	select {
	case <-calls:
		t.Fatal("delivery after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEmitLifecycleErrors(t *testing.T) {
	srv := newWSServer(t)
	sock := NewSocket(srv.url(), newSessionStore(t, "alice@example.com"))

	if err := sock.Emit(EventLogout, "alice@example.com"); err != ErrNotConnected {
		t.Fatalf("emit before connect: %v, want ErrNotConnected", err)
	}
	if err := sock.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := sock.Emit(EventLogout, "alice@example.com"); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := sock.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := sock.Emit(EventLogout, "alice@example.com"); err != ErrClosed {
		t.Fatalf("emit after close: %v, want ErrClosed", err)
	}
}
