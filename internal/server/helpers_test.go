package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/relaychat/internal/chat"
	"github.com/Tyrowin/relaychat/internal/pipeline"
	"github.com/Tyrowin/relaychat/internal/presence"
	"github.com/Tyrowin/relaychat/internal/push"
	"github.com/Tyrowin/relaychat/internal/server"
	"github.com/Tyrowin/relaychat/internal/store"
)

const (
	testOrigin   = "http://localhost:8080"
	testVAPIDKey = "BTestPublicKey"
)

// countingSender records push attempts and answers with the status
// configured for the endpoint.
type countingSender struct {
	mu       sync.Mutex
	status   map[string]int
	attempts []string
}

func (s *countingSender) Send(_ context.Context, sub chat.Subscription, _ []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, sub.Endpoint())
	if code := s.status[sub.Endpoint()]; code != 0 {
		return &push.DeliveryError{Endpoint: sub.Endpoint(), StatusCode: code}
	}
	return nil
}

func (s *countingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("unreachable") }

type testEnv struct {
	srv     *server.Server
	http    *httptest.Server
	store   *store.MemoryStore
	tracker *presence.Tracker
	sender  *countingSender
	wsURL   string
}

// newTestEnv starts a server backed by a memory store. customize may adjust
// the configuration before the server is built.
func newTestEnv(t *testing.T, customize func(cfg *server.Config)) *testEnv {
	t.Helper()

	cfg := server.NewConfig()
	cfg.AllowedOrigins = []string{testOrigin}
	cfg.StaticDir = filepath.Join(t.TempDir(), "missing")
	if customize != nil {
		customize(cfg)
	}
	server.SetConfig(cfg)
	t.Cleanup(func() {
		server.SetConfig(nil)
	})

	mem := store.NewMemoryStore()
	tracker := presence.NewTracker(mem)
	sender := &countingSender{status: map[string]int{}}
	p := pipeline.New(pipeline.Deps{
		Messages:      mem,
		Subscriptions: mem,
		Presence:      tracker,
		Sender:        sender,
		Logger:        zerolog.Nop(),
	})

	srv := server.New(server.Options{
		Logger:         zerolog.Nop(),
		Pipeline:       p,
		Messages:       mem,
		Subscriptions:  mem,
		Presence:       tracker,
		VAPIDPublicKey: testVAPIDKey,
		Checks:         map[string]store.Pinger{"store": mem},
	})
	srv.Start()

	ts := httptest.NewServer(srv.SetupRoutes())
	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		if err := srv.Shutdown(5 * time.Second); err != nil {
			t.Errorf("Server shutdown failed: %v", err)
		}
	})

	return &testEnv{
		srv:     srv,
		http:    ts,
		store:   mem,
		tracker: tracker,
		sender:  sender,
		wsURL:   "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

func (e *testEnv) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.http.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(e.wsURL, newOriginHeader(testOrigin))
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func newOriginHeader(origin string) http.Header {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return header
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func assertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) server.Event {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	var ev server.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	return ev
}

func expectOnline(t *testing.T, conn *websocket.Conn, count int) {
	t.Helper()
	ev := readEvent(t, conn)
	if ev.Event != server.EventOnline {
		t.Fatalf("Expected %q event, got %q", server.EventOnline, ev.Event)
	}
	if string(ev.Data) != jsonInt(count) {
		t.Errorf("Expected online count %d, got %s", count, ev.Data)
	}
}

func expectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	if _, msg, err := conn.ReadMessage(); err == nil {
		t.Errorf("Expected no message, got %s", msg)
	}
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("Failed to marshal data: %v", err)
	}
	if err := conn.WriteJSON(server.Event{Event: event, Data: raw}); err != nil {
		t.Fatalf("Failed to send event: %v", err)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func jsonInt(n int) string {
	raw, _ := json.Marshal(n)
	return string(raw)
}

func compactJSON(t *testing.T, raw []byte) string {
	t.Helper()
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		t.Fatalf("Invalid JSON %s: %v", raw, err)
	}
	return buf.String()
}
