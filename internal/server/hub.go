// Package server coordinates client registration, presence tracking, and
// event broadcast for the retroboard WebSocket system via the Hub type.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Hub owns the live-session registry: a map from session id to the set of
// that session's connected clients. Registration, unregistration, and
// broadcast are serialized through a single run loop so events published
// to one session reach every member in publish order, while the registry
// itself stays readable concurrently behind a mutex.
type Hub struct {
	sessions   map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastRequest
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// broadcastRequest is one pre-serialized event bound for every live
// connection of a session.
type broadcastRequest struct {
	sessionID string
	payload   []byte
}

// NewHub creates a Hub ready to manage session connections. Run must be
// started in its own goroutine before clients are registered.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		sessions:   make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastRequest),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Register queues a client for registration with its session. The hub run
// loop completes the handshake by adding it to the registry and starting
// its pumps. A client arriving after shutdown has begun is never
// registered; its socket is closed so the connection cannot leak.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		if client == nil || client.conn == nil {
			return
		}
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			logrus.WithError(err).WithField("remote", client.addr).Error("Error closing late connection")
		}
	}
}

// Unregister queues a client for removal. Unregistering a client that was
// already removed is a benign no-op, which absorbs double-close races.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Publish serializes the event once and fans it out to every live
// connection of the session. Delivery is best-effort per recipient: a
// failing connection is marked dead and removed without affecting the
// rest. Publishing to a session with no connections is a no-op.
func (h *Hub) Publish(sessionID string, event Event) {
	payload, err := event.Marshal()
	if err != nil {
		logrus.WithError(err).WithField("session", sessionID).Error("Dropping unserializable event")
		return
	}

	select {
	case h.broadcast <- broadcastRequest{sessionID: sessionID, payload: payload}:
	case <-h.ctx.Done():
	}
}

// Run drives the hub's event loop. It should be called in a separate
// goroutine as it runs until Shutdown cancels it.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				logrus.Warn("Received nil client registration; skipping")
				continue
			}
			h.registerClient(client)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.unregisterClient(client)

		case req := <-h.broadcast:
			h.deliver(req)
		}
	}
}

// registerClient adds the client to its session's connection set, creating
// the set on first join, then announces the updated presence list.
func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	clients, ok := h.sessions[client.sessionID]
	if !ok {
		clients = make(map[*Client]bool)
		h.sessions[client.sessionID] = clients
	}
	client.closed = false
	clients[client] = true
	memberCount := len(clients)
	h.mutex.Unlock()

	logrus.WithFields(logrus.Fields{
		"session": client.sessionID,
		"user":    client.displayName,
		"remote":  client.addr,
		"members": memberCount,
	}).Info("Client joined session")

	h.broadcastUserList(client.sessionID)
}

// unregisterClient removes the client from its session's set, pruning the
// set when it empties, and announces the updated presence list to any
// remaining members. Removing an absent client is a no-op.
func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		return
	}

	h.mutex.Lock()
	clients, ok := h.sessions[client.sessionID]
	if !ok {
		h.mutex.Unlock()
		return
	}
	if _, registered := clients[client]; !registered {
		h.mutex.Unlock()
		return
	}

	delete(clients, client)
	client.closed = true
	remaining := len(clients)
	if remaining == 0 {
		delete(h.sessions, client.sessionID)
	}
	h.mutex.Unlock()

	// Close the send channel after releasing the lock.
	close(client.send)

	logrus.WithFields(logrus.Fields{
		"session": client.sessionID,
		"user":    client.displayName,
		"members": remaining,
	}).Info("Client left session")

	if remaining > 0 {
		h.broadcastUserList(client.sessionID)
	}
}

// broadcastUserList publishes the session's current presence set. Called
// from within the run loop, so it delivers directly instead of re-queuing
// through the broadcast channel.
func (h *Hub) broadcastUserList(sessionID string) {
	event := NewUserListEvent(h.ActiveUsers(sessionID))
	payload, err := event.Marshal()
	if err != nil {
		logrus.WithError(err).WithField("session", sessionID).Error("Failed to marshal user list")
		return
	}
	h.deliver(broadcastRequest{sessionID: sessionID, payload: payload})
}

// deliver fans one serialized event out to a snapshot of the session's
// connection set. Clients whose send buffer is closed or full are removed;
// one failure never aborts delivery to the rest.
func (h *Hub) deliver(req broadcastRequest) {
	clients := h.connectionsFor(req.sessionID)
	if len(clients) == 0 {
		return
	}

	logrus.WithFields(logrus.Fields{
		"session":    req.sessionID,
		"recipients": len(clients),
	}).Debug("Broadcasting event")

	var failed []*Client
	for _, client := range clients {
		if !h.safeSend(client, req.payload) {
			failed = append(failed, client)
		}
	}
	h.removeFailedClients(failed)
}

// connectionsFor returns a snapshot of the session's live connections.
// Unknown sessions yield an empty slice.
func (h *Hub) connectionsFor(sessionID string) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	set, ok := h.sessions[sessionID]
	if !ok {
		return nil
	}
	clients := make([]*Client, 0, len(set))
	for client := range set {
		clients = append(clients, client)
	}
	return clients
}

// safeSend attempts a non-blocking handoff to the client's send buffer.
// The registry lock is held across the liveness check and the send so the
// channel cannot be closed between them.
func (h *Hub) safeSend(client *Client, payload []byte) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	set, ok := h.sessions[client.sessionID]
	if !ok {
		return false
	}
	if _, registered := set[client]; !registered || client.closed {
		return false
	}

	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

// removeFailedClients drops clients whose sends failed and re-announces
// presence in each session that still has members.
func (h *Hub) removeFailedClients(failed []*Client) {
	if len(failed) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	affected := make(map[string]bool)
	for _, client := range failed {
		set, ok := h.sessions[client.sessionID]
		if !ok {
			continue
		}
		if _, registered := set[client]; !registered {
			continue
		}
		delete(set, client)
		client.closed = true
		channelsToClose = append(channelsToClose, client.send)
		if len(set) == 0 {
			delete(h.sessions, client.sessionID)
		} else {
			affected[client.sessionID] = true
		}
		logrus.WithFields(logrus.Fields{
			"session": client.sessionID,
			"user":    client.displayName,
			"remote":  client.addr,
		}).Warn("Client removed after failed send")
	}
	h.mutex.Unlock()

	for _, ch := range channelsToClose {
		close(ch)
	}
	for sessionID := range affected {
		h.broadcastUserList(sessionID)
	}
}

// SessionCount reports how many sessions currently have at least one live
// connection.
func (h *Hub) SessionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.sessions)
}

// shutdownClients closes every active client connection.
func (h *Hub) shutdownClients() {
	h.mutex.Lock()
	var clients []*Client
	for _, set := range h.sessions {
		for client := range set {
			clients = append(clients, client)
		}
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				logrus.WithError(err).WithField("remote", client.addr).Error("Error closing client connection")
			}
		}
	}

	logrus.WithField("connections", len(clients)).Info("Closed all client connections")
}

// Shutdown stops the run loop, closes every connection, and waits for the
// pump goroutines to finish or the timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	logrus.Info("Initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("Hub shutdown completed")
		return nil
	case <-time.After(timeout):
		logrus.Warn("Hub shutdown timeout reached; some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
