// Package integration contains end-to-end tests that exercise the full
// retroboard server: real HTTP listeners, WebSocket connections, and the
// sqlite-backed store working together.
package integration

import (
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/retroboard/retroboard/internal/server"
	"github.com/retroboard/retroboard/test/testhelpers"
)

const eventTimeout = 2 * time.Second

func assertSameUsers(t *testing.T, want, got []string) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("Expected users %v, got %v", want, got)
	}
	seen := make(map[string]bool, len(got))
	for _, name := range got {
		seen[name] = true
	}
	for _, name := range want {
		if !seen[name] {
			t.Fatalf("Expected users %v, got %v", want, got)
		}
	}
}

func TestPresenceLifecycle(t *testing.T) {
	env := testhelpers.NewEnv(t)

	alice := env.DialWS(t, "abc123", "Alice")
	assertSameUsers(t, []string{"Alice"}, testhelpers.ReadUserList(t, alice, eventTimeout))

	bob := env.DialWS(t, "abc123", "Bob")
	assertSameUsers(t, []string{"Alice", "Bob"}, testhelpers.ReadUserList(t, bob, eventTimeout))
	assertSameUsers(t, []string{"Alice", "Bob"}, testhelpers.ReadUserList(t, alice, eventTimeout))

	if err := bob.Close(); err != nil {
		t.Fatalf("Failed to close Bob's connection: %v", err)
	}

	assertSameUsers(t, []string{"Alice"}, testhelpers.ReadUserList(t, alice, eventTimeout))
}

func TestPresenceDeduplicatesSameUserInTwoTabs(t *testing.T) {
	env := testhelpers.NewEnv(t)

	tab1 := env.DialWS(t, "abc123", "Alice")
	assertSameUsers(t, []string{"Alice"}, testhelpers.ReadUserList(t, tab1, eventTimeout))

	tab2 := env.DialWS(t, "abc123", "Alice")
	assertSameUsers(t, []string{"Alice"}, testhelpers.ReadUserList(t, tab2, eventTimeout))
	assertSameUsers(t, []string{"Alice"}, testhelpers.ReadUserList(t, tab1, eventTimeout))

	if err := tab2.Close(); err != nil {
		t.Fatalf("Failed to close second tab: %v", err)
	}

	// Alice stays present through her remaining tab.
	assertSameUsers(t, []string{"Alice"}, testhelpers.ReadUserList(t, tab1, eventTimeout))
}

func TestHandshakeRejectedWithoutUsername(t *testing.T) {
	env := testhelpers.NewEnv(t)

	header := http.Header{"Origin": []string{testhelpers.TestOrigin}}
	wsURL := "ws" + env.Server.URL[len("http"):] + "/ws/abc123"

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		_ = conn.Close()
		t.Fatal("Expected handshake to fail without a username")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %+v", resp)
	}

	// No connection state was created for the refused handshake.
	if count := env.Hub.SessionCount(); count != 0 {
		t.Fatalf("Expected no live sessions, got %d", count)
	}
}

func TestHandshakeRejectedFromDisallowedOrigin(t *testing.T) {
	env := testhelpers.NewEnv(t)

	server.SetConfig(&server.Config{AllowedOrigins: []string{"http://allowed.test"}})

	header := http.Header{"Origin": []string{"http://evil.test"}}
	conn, resp, err := websocket.DefaultDialer.Dial(env.WSURL("abc123", "Alice"), header)
	if err == nil {
		_ = conn.Close()
		t.Fatal("Expected handshake to fail from a disallowed origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("Expected status 403, got %+v", resp)
	}
}

func TestInboundFloodDisconnectsClient(t *testing.T) {
	env := testhelpers.NewEnv(t)

	server.SetConfig(&server.Config{
		AllowedOrigins: []string{"*"},
		RateLimit: server.RateLimitConfig{
			Burst:          2,
			RefillInterval: time.Minute,
		},
	})

	alice := env.DialWS(t, "abc123", "Alice")
	assertSameUsers(t, []string{"Alice"}, testhelpers.ReadUserList(t, alice, eventTimeout))

	flooder := env.DialWS(t, "abc123", "Mallory")
	assertSameUsers(t, []string{"Alice", "Mallory"}, testhelpers.ReadUserList(t, flooder, eventTimeout))
	assertSameUsers(t, []string{"Alice", "Mallory"}, testhelpers.ReadUserList(t, alice, eventTimeout))

	// Blast frames well past the burst; writes start failing once the
	// server tears the connection down.
	for i := 0; i < 500; i++ {
		if err := flooder.WriteMessage(websocket.TextMessage, []byte("{}")); err != nil {
			break
		}
	}

	// The remaining member sees the flooder leave.
	assertSameUsers(t, []string{"Alice"}, testhelpers.ReadUserList(t, alice, eventTimeout))

	// The flooder's connection is closed, not merely throttled.
	if err := flooder.SetReadDeadline(time.Now().Add(eventTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	var readErr error
	for readErr == nil {
		_, _, readErr = flooder.ReadMessage()
	}
	if netErr, ok := readErr.(net.Error); ok && netErr.Timeout() {
		t.Fatal("Expected the flooding connection to be closed")
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	env := testhelpers.NewEnv(t)

	alice := env.DialWS(t, "abc123", "Alice")
	assertSameUsers(t, []string{"Alice"}, testhelpers.ReadUserList(t, alice, eventTimeout))

	carol := env.DialWS(t, "xyz789", "Carol")
	assertSameUsers(t, []string{"Carol"}, testhelpers.ReadUserList(t, carol, eventTimeout))

	// Carol joining her own board produces nothing on Alice's.
	testhelpers.ExpectNoEvent(t, alice, 300*time.Millisecond)
}
