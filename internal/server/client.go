// Package server manages individual WebSocket clients, handling read/write
// pumps, inbound throttling, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// writeWait bounds a single outbound frame write.
	writeWait = 10 * time.Second
	// pongWait is how long a connection may stay silent before the read
	// side gives up on it.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = 54 * time.Second
	// sendBufferSize is the per-connection outbound queue. A client that
	// falls this far behind is treated as dead.
	sendBufferSize = 256
)

// Client is one live WebSocket connection, bound to exactly one session and
// one display name for its whole lifetime. The hub exclusively owns the
// closed flag; nothing else may flip it.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	sessionID      string
	displayName    string
	addr           string
	closed         bool
	maxMessageSize int64
	limiter        *rate.Limiter
	log            *logrus.Entry
}

// NewClient wraps an upgraded WebSocket connection. The session id and
// display name must already be validated; the handshake handler rejects
// malformed values before the upgrade happens.
func NewClient(conn *websocket.Conn, hub *Hub, sessionID, displayName, addr string) *Client {
	cfg := currentConfig()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	burst := cfg.RateLimit.Burst
	limit := rate.Every(cfg.RateLimit.RefillInterval / time.Duration(burst))

	return &Client{
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		hub:            hub,
		sessionID:      sessionID,
		displayName:    displayName,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		limiter:        rate.NewLimiter(limit, burst),
		log: logrus.WithFields(logrus.Fields{
			"session": sessionID,
			"user":    displayName,
			"remote":  addr,
		}),
	}
}

// setupReadConnection configures read deadlines and the pong handler.
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.WithError(err).Error("Error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.WithError(err).Error("Error setting read deadline in pong handler")
		}
		return nil
	})
}

// handleReadError classifies a read failure and reports whether the read
// loop should stop.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		c.log.WithField("limit", c.maxMessageSize).Warn("Inbound frame exceeded maximum size")
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		c.log.WithError(err).Debug("Client disconnected")
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.log.WithError(err).Debug("Client connection closed")
		return true
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		c.log.WithError(err).Warn("Unexpected WebSocket error")
		return true
	}

	c.log.WithError(err).Warn("WebSocket read error")
	return true
}

// readPump drains inbound frames until the connection closes. Board
// mutations travel over the REST API, so inbound frames carry no state and
// are discarded; the pump exists to detect disconnects and answer
// keepalives. A client that floods frames past the configured burst is
// treated as misbehaving and disconnected. Exit always funnels through hub
// unregistration.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.WithError(err).Error("Error closing connection in readPump")
		}
	}()

	c.setupReadConnection()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if c.handleReadError(err) {
				return
			}
			continue
		}

		if !c.limiter.Allow() {
			c.log.Warn("Inbound frame rate limit exceeded; closing connection")
			return
		}
	}
}

// writePump serializes outbound frames: one JSON event per text frame, plus
// periodic pings to keep intermediaries from dropping the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.handleMessage(message, ok) {
				return
			}
		case <-ticker.C:
			if !c.handlePing() {
				return
			}
		case <-c.hub.ctx.Done():
			// Hub shutdown closes the socket; exit without waiting for
			// the send channel.
			return
		}
	}
}

// closeConnection closes the socket, tolerating already-closed errors.
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.WithError(err).Error("Error closing connection in writePump")
	}
}

// handleMessage writes one outbound event frame, or a close frame when the
// hub has shut the send channel. Returns false when the pump should stop.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.WithError(err).Error("Error setting write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			c.log.WithError(err).Debug("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.WithError(err).Warn("Error writing event frame")
		}
		return false
	}
	return true
}

// handlePing sends a keepalive ping.
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.WithError(err).Error("Error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.log.WithError(err).Debug("Error writing ping message")
		}
		return false
	}
	return true
}

// isExpectedCloseError checks whether an error is expected during normal
// connection teardown.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
