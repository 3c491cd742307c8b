package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pixelcove.gg/internal/protocol"
	"pixelcove.gg/internal/space"
)

// scriptServer upgrades one client, answers the hello with a canned welcome,
// and records every frame the client sends afterwards.
type scriptServer struct {
	t       *testing.T
	srv     *httptest.Server
	welcome protocol.WelcomeMsg

	mu      sync.Mutex
	conn    *websocket.Conn
	inbound [][]byte
}

func newScriptServer(t *testing.T, welcome protocol.WelcomeMsg) *scriptServer {
	t.Helper()
	s := &scriptServer{t: t, welcome: welcome}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return
		}
		var hello protocol.HelloMsg
		if err := json.Unmarshal(msg, &hello); err != nil || hello.Type != protocol.TypeSessionHello {
			t.Errorf("expected session_hello first, got %s", string(msg))
			_ = conn.Close()
			return
		}
		if err := conn.WriteJSON(s.welcome); err != nil {
			_ = conn.Close()
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.inbound = append(s.inbound, msg)
			s.mu.Unlock()
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *scriptServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *scriptServer) push(t *testing.T, v any) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			if err := conn.WriteJSON(v); err != nil {
				t.Fatalf("push: %v", err)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("push: client never completed handshake")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (s *scriptServer) received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.inbound))
	copy(out, s.inbound)
	return out
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHandshakeSetsIdentity(t *testing.T) {
	srv := newScriptServer(t, protocol.WelcomeMsg{
		Type:            protocol.TypeSessionWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       "sess-1",
		Authenticated:   true,
		Wallet:          "0xabc",
		Username:        "mara",
	})
	c := NewClient(Config{URL: srv.url(), Wallet: "0xabc"}, nil)

	var gotMu sync.Mutex
	var got []space.Identity
	c.OnIdentityChange(func(id space.Identity) {
		gotMu.Lock()
		got = append(got, id)
		gotMu.Unlock()
	})

	c.Start()
	defer c.Close()

	waitFor(t, func() bool { return c.Identity().Authenticated }, "authenticated identity")

	id := c.Identity()
	if id.Wallet != "0xabc" || id.Username != "mara" {
		t.Fatalf("unexpected identity %+v", id)
	}
	st := c.Status()
	if !st.Connected || st.SessionID != "sess-1" || st.Connects != 1 {
		t.Fatalf("unexpected status %+v", st)
	}
	gotMu.Lock()
	n := len(got)
	gotMu.Unlock()
	if n != 1 {
		t.Fatalf("expected 1 identity notification, got %d", n)
	}
}

func TestDispatchAndDropCounting(t *testing.T) {
	srv := newScriptServer(t, protocol.WelcomeMsg{
		Type:            protocol.TypeSessionWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       "sess-2",
	})
	c := NewClient(Config{URL: srv.url()}, nil)

	var mu sync.Mutex
	var names []string
	c.Handle(protocol.TypeSpaceUpdated, func(raw []byte) {
		var m protocol.SpaceUpdatedMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		mu.Lock()
		names = append(names, m.Space.Name)
		mu.Unlock()
	})

	c.Start()
	defer c.Close()
	waitFor(t, func() bool { return c.Status().Connected }, "connect")

	srv.push(t, protocol.SpaceUpdatedMsg{
		Type:  protocol.TypeSpaceUpdated,
		Space: protocol.Space{ID: "cove-7", Name: "Reef Deck"},
	})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(names) == 1
	}, "space_updated dispatch")
	mu.Lock()
	if names[0] != "Reef Deck" {
		t.Fatalf("expected Reef Deck, got %q", names[0])
	}
	mu.Unlock()

	// A type with no handler is counted and otherwise ignored.
	srv.push(t, map[string]any{"type": "mystery_frame"})
	waitFor(t, func() bool { return c.Status().DroppedFrames == 1 }, "drop counter")
}

func TestSendReachesServer(t *testing.T) {
	srv := newScriptServer(t, protocol.WelcomeMsg{
		Type:            protocol.TypeSessionWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       "sess-3",
	})
	c := NewClient(Config{URL: srv.url()}, nil)
	c.Start()
	defer c.Close()
	waitFor(t, func() bool { return c.Status().Connected }, "connect")

	if err := c.Send(protocol.CanEnterReq{Type: protocol.TypeSpaceCanEnter, SpaceID: "cove-7"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, func() bool { return len(srv.received()) == 1 }, "server receipt")

	var req protocol.CanEnterReq
	if err := json.Unmarshal(srv.received()[0], &req); err != nil {
		t.Fatalf("decode sent frame: %v", err)
	}
	if req.Type != protocol.TypeSpaceCanEnter || req.SpaceID != "cove-7" {
		t.Fatalf("unexpected frame %+v", req)
	}
	if c.Status().SentFrames != 1 {
		t.Fatalf("expected SentFrames=1, got %d", c.Status().SentFrames)
	}
}

func TestAuthStatusUpdatesIdentity(t *testing.T) {
	srv := newScriptServer(t, protocol.WelcomeMsg{
		Type:            protocol.TypeSessionWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       "sess-4",
	})
	c := NewClient(Config{URL: srv.url()}, nil)
	c.Start()
	defer c.Close()
	waitFor(t, func() bool { return c.Status().Connected }, "connect")

	srv.push(t, protocol.AuthStatusMsg{
		Type:          protocol.TypeAuthStatus,
		Authenticated: true,
		Wallet:        "0xdef",
		Username:      "kelp",
	})
	waitFor(t, func() bool { return c.Identity().Authenticated }, "auth_status identity")
	if got := c.Identity().Wallet; got != "0xdef" {
		t.Fatalf("expected wallet 0xdef, got %q", got)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	c := NewClient(Config{URL: "ws://example.invalid"}, nil)
	if err := c.Send(protocol.VisitReq{Type: protocol.TypeSpaceVisit, SpaceID: "cove-1"}); err == nil {
		t.Fatalf("expected error sending while disconnected")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	srv := newScriptServer(t, protocol.WelcomeMsg{
		Type:            protocol.TypeSessionWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       "sess-5",
	})
	c := NewClient(Config{URL: srv.url()}, nil)
	c.Start()
	waitFor(t, func() bool { return c.Status().Connected }, "connect")
	c.Close()
	c.Close()
	if c.Status().Connected {
		t.Fatalf("expected disconnected after Close")
	}
}

func TestHandleCancelStopsDelivery(t *testing.T) {
	c := NewClient(Config{URL: "ws://example.invalid"}, nil)
	var calls int
	cancel := c.Handle("x", func([]byte) { calls++ })
	c.dispatch("x", []byte(`{"type":"x"}`))
	cancel()
	c.dispatch("x", []byte(`{"type":"x"}`))
	if calls != 1 {
		t.Fatalf("expected 1 call after cancel, got %d", calls)
	}
	if c.Status().DroppedFrames != 1 {
		t.Fatalf("expected second dispatch to count as drop, got %d", c.Status().DroppedFrames)
	}
}
