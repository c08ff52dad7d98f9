// Package server exposes the WebSocket handshake endpoint and the health
// check.
package server

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

const maxIdentifierLength = 64

// validIdentifier reports whether a session id or display name is
// acceptable for the handshake: non-blank after trimming and within the
// length cap.
func validIdentifier(value string) bool {
	trimmed := strings.TrimSpace(value)
	return trimmed != "" && len(trimmed) <= maxIdentifierLength
}

// HandleWebSocket performs the connection handshake: the session id comes
// from the path and the display name from the username query parameter.
// Malformed values fail the request before the upgrade, so no connection
// state is ever created for them. On success the client is registered with
// the hub, which announces the updated presence list.
func (a *API) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("session_id"))
	displayName := strings.TrimSpace(r.URL.Query().Get("username"))

	if !validIdentifier(sessionID) {
		http.Error(w, "Invalid session id", http.StatusBadRequest)
		return
	}
	if !validIdentifier(displayName) {
		http.Error(w, "Missing or invalid username", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).WithField("remote", r.RemoteAddr).Warn("WebSocket upgrade failed")
		return
	}

	client := NewClient(conn, a.hub, sessionID, displayName, r.RemoteAddr)
	a.hub.Register(client)
}

// HealthHandler reports service liveness.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
