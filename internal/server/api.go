// Package server implements the REST API for sessions and cards. Every
// write handler follows commit-then-notify: the store mutation must succeed
// before the relay publishes the matching event, and a failed commit means
// no event at all.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/retroboard/retroboard/internal/store"
)

// API bundles the persistence layer, the hub, and the mutation relay behind
// the HTTP handlers.
type API struct {
	store *store.Store
	hub   *Hub
	relay *Relay
}

// NewAPI wires the REST surface to its collaborators.
func NewAPI(st *store.Store, hub *Hub) *API {
	return &API{store: st, hub: hub, relay: NewRelay(hub)}
}

// newSessionID derives a short opaque board identifier.
func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Error("Error writing JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleCreateSession creates a new board and returns its id.
func (a *API) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id := newSessionID()
	session, err := a.store.CreateSession(r.Context(), id)
	if err != nil {
		logrus.WithError(err).Error("Failed to create session")
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	logrus.WithField("session", session.ID).Info("Session created")
	writeJSON(w, http.StatusOK, map[string]string{"session_id": session.ID})
}

// handleListSessions returns the most recently active boards with card
// counts.
func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.store.ListSessions(r.Context())
	if err != nil {
		logrus.WithError(err).Error("Failed to list sessions")
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// handleGetSession returns one board with all of its cards and bumps the
// board's last-activity timestamp. Reconnecting clients call this to
// re-fetch full state.
func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	session, err := a.store.GetSession(r.Context(), sessionID)
	if err != nil {
		a.respondStoreError(w, err, "Session not found")
		return
	}

	cards, err := a.store.CardsForSession(r.Context(), sessionID)
	if err != nil {
		logrus.WithError(err).WithField("session", sessionID).Error("Failed to load cards")
		writeError(w, http.StatusInternalServerError, "Failed to load cards")
		return
	}

	if err := a.store.TouchSession(r.Context(), sessionID); err != nil {
		logrus.WithError(err).WithField("session", sessionID).Warn("Failed to bump session activity")
	}

	writeJSON(w, http.StatusOK, map[string]any{"session": session, "cards": cards})
}

type renameSessionRequest struct {
	Name *string `json:"name"`
}

// handleRenameSession updates a board's display name.
func (a *API) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	var req renameSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == nil {
		writeError(w, http.StatusBadRequest, "No valid update data provided")
		return
	}

	session, err := a.store.RenameSession(r.Context(), sessionID, *req.Name)
	if err != nil {
		a.respondStoreError(w, err, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type createCardRequest struct {
	Category string `json:"category"`
	Content  string `json:"content"`
	Author   string `json:"author"`
}

// handleCreateCard adds a card to a board and, once the insert has
// committed, announces it to every live connection of the session.
func (a *API) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	var req createCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !store.ValidCategory(req.Category) {
		writeError(w, http.StatusBadRequest, "Invalid card category")
		return
	}
	if strings.TrimSpace(req.Content) == "" || strings.TrimSpace(req.Author) == "" {
		writeError(w, http.StatusBadRequest, "Content and author are required")
		return
	}

	if _, err := a.store.GetSession(r.Context(), sessionID); err != nil {
		a.respondStoreError(w, err, "Session not found")
		return
	}

	card, err := a.store.CreateCard(r.Context(), sessionID, req.Category, req.Content, req.Author)
	if err != nil {
		logrus.WithError(err).WithField("session", sessionID).Error("Failed to create card")
		writeError(w, http.StatusInternalServerError, "Failed to create card")
		return
	}

	a.relay.CardAdded(sessionID, card)
	writeJSON(w, http.StatusOK, card)
}

type updateCardRequest struct {
	Content   *string `json:"content"`
	Completed *bool   `json:"completed"`
}

// handleUpdateCard edits a card's text or toggles an actionable's
// completion flag, last write wins, then announces the updated record.
func (a *API) handleUpdateCard(w http.ResponseWriter, r *http.Request) {
	cardID, ok := parseCardID(w, r)
	if !ok {
		return
	}

	var req updateCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var card store.Card
	var err error
	switch {
	case req.Completed != nil:
		card, err = a.store.SetCardCompleted(r.Context(), cardID, *req.Completed)
	case req.Content != nil:
		card, err = a.store.UpdateCardContent(r.Context(), cardID, *req.Content)
	default:
		writeError(w, http.StatusBadRequest, "No update data provided")
		return
	}
	if err != nil {
		a.respondStoreError(w, err, "Card not found")
		return
	}

	a.relay.CardUpdated(card.SessionID, card)
	writeJSON(w, http.StatusOK, card)
}

// handleDeleteCard removes a card. The owning session is looked up before
// the delete so the removal can still be announced afterwards.
func (a *API) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	cardID, ok := parseCardID(w, r)
	if !ok {
		return
	}

	card, err := a.store.GetCard(r.Context(), cardID)
	if err != nil {
		a.respondStoreError(w, err, "Card not found")
		return
	}

	if err := a.store.DeleteCard(r.Context(), cardID); err != nil {
		a.respondStoreError(w, err, "Card not found")
		return
	}

	a.relay.CardDeleted(card.SessionID, cardID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleClearBoard deletes every card in a session and announces the clear.
func (a *API) handleClearBoard(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	if _, err := a.store.GetSession(r.Context(), sessionID); err != nil {
		a.respondStoreError(w, err, "Session not found")
		return
	}

	if err := a.store.DeleteAllCards(r.Context(), sessionID); err != nil {
		logrus.WithError(err).WithField("session", sessionID).Error("Failed to clear board")
		writeError(w, http.StatusInternalServerError, "Failed to clear board")
		return
	}

	a.relay.BoardCleared(sessionID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func parseCardID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("card_id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid card id")
		return 0, false
	}
	return id, true
}

func (a *API) respondStoreError(w http.ResponseWriter, err error, notFoundMessage string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, notFoundMessage)
		return
	}
	logrus.WithError(err).Error("Store operation failed")
	writeError(w, http.StatusInternalServerError, "Internal server error")
}
