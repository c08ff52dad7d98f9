// Package testhelpers provides shared utilities for integration-testing the
// retroboard server: spinning up a full service instance, dialing WebSocket
// clients, and decoding the event envelopes they receive.
package testhelpers

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/retroboard/retroboard/internal/server"
	"github.com/retroboard/retroboard/internal/store"
)

// TestOrigin is the Origin header test dials present; the test config
// allows all origins.
const TestOrigin = "http://retro.test"

// Env is one fully wired service instance backed by a throwaway sqlite
// database.
type Env struct {
	Server *httptest.Server
	Store  *store.Store
	Hub    *server.Hub
}

// NewEnv starts a complete server (store, hub, routes) and registers
// cleanup with t.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	server.SetConfig(&server.Config{AllowedOrigins: []string{"*"}})
	t.Cleanup(func() { server.SetConfig(nil) })

	st, err := store.Open(store.DriverSQLite, store.SQLiteDSN(filepath.Join(t.TempDir(), "retro.db")))
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("Failed to initialize test schema: %v", err)
	}

	hub := server.NewHub()
	go hub.Run()

	api := server.NewAPI(st, hub)
	ts := httptest.NewServer(server.SetupRoutes(api))

	t.Cleanup(func() {
		ts.Close()
		_ = hub.Shutdown(2 * time.Second)
		_ = st.Close()
	})

	return &Env{Server: ts, Store: st, Hub: hub}
}

// WSURL converts the test server's base URL into the WebSocket endpoint for
// a session.
func (e *Env) WSURL(sessionID, username string) string {
	base := "ws" + strings.TrimPrefix(e.Server.URL, "http")
	return base + "/ws/" + sessionID + "?username=" + url.QueryEscape(username)
}

// DialWS opens a client connection for username to the given session and
// registers cleanup with t.
func (e *Env) DialWS(t *testing.T, sessionID, username string) *websocket.Conn {
	t.Helper()

	header := http.Header{"Origin": []string{TestOrigin}}
	conn, resp, err := websocket.DefaultDialer.Dial(e.WSURL(sessionID, username), header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("Failed to dial WebSocket (status %d): %v", status, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// Event is the decoded wire envelope.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ReadEvent reads and decodes the next event frame, failing the test after
// the timeout.
func ReadEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) Event {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("Failed to decode event %q: %v", payload, err)
	}
	return event
}

// ReadUserList reads the next event, asserts it is a user_list, and returns
// the names it carries.
func ReadUserList(t *testing.T, conn *websocket.Conn, timeout time.Duration) []string {
	t.Helper()

	event := ReadEvent(t, conn, timeout)
	if event.Event != "user_list" {
		t.Fatalf("Expected user_list event, got %q", event.Event)
	}

	var data struct {
		Users []string `json:"users"`
	}
	if err := json.Unmarshal(event.Data, &data); err != nil {
		t.Fatalf("Failed to decode user_list payload: %v", err)
	}
	return data.Users
}

// ExpectNoEvent asserts that no frame arrives within the timeout.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, payload, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no event, but received %q", payload)
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	t.Fatalf("Unexpected error while waiting for absence of events: %v", err)
}

// DoJSON issues a request with a JSON body (nil for none) and returns the
// response.
func DoJSON(t *testing.T, method, targetURL string, body any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, targetURL, reader)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request %s %s failed: %v", method, targetURL, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// DecodeJSON decodes a response body into out.
func DecodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("Failed to decode response body: %v", err)
	}
}

// CreateSession creates a board through the API and returns its id.
func (e *Env) CreateSession(t *testing.T) string {
	t.Helper()

	resp := DoJSON(t, http.MethodPost, e.Server.URL+"/api/session/create", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200 creating session, got %d", resp.StatusCode)
	}

	var body struct {
		SessionID string `json:"session_id"`
	}
	DecodeJSON(t, resp, &body)
	if body.SessionID == "" {
		t.Fatal("Create session returned an empty id")
	}
	return body.SessionID
}
