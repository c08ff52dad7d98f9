// Package server bridges committed persistence mutations to live clients
// through the Relay type.
package server

import "github.com/retroboard/retroboard/internal/store"

// Publisher is the slice of the hub the relay needs: best-effort fan-out of
// one event to a session.
type Publisher interface {
	Publish(sessionID string, event Event)
}

// Relay converts durably committed board mutations into broadcast events.
// Callers must invoke it only after the store write succeeds; the relay has
// no retry or rollback logic and trusts that commit-then-notify ordering.
type Relay struct {
	publisher Publisher
}

// NewRelay creates a Relay publishing through the given hub.
func NewRelay(publisher Publisher) *Relay {
	return &Relay{publisher: publisher}
}

// CardAdded announces a newly committed card to its session.
func (r *Relay) CardAdded(sessionID string, card store.Card) {
	r.publisher.Publish(sessionID, NewCardAddedEvent(card))
}

// CardUpdated announces the post-update card record to its session.
func (r *Relay) CardUpdated(sessionID string, card store.Card) {
	r.publisher.Publish(sessionID, NewCardUpdatedEvent(card))
}

// CardDeleted announces a card removal to its session.
func (r *Relay) CardDeleted(sessionID string, cardID int64) {
	r.publisher.Publish(sessionID, NewCardDeletedEvent(cardID))
}

// BoardCleared announces that every card in the session was removed.
func (r *Relay) BoardCleared(sessionID string) {
	r.publisher.Publish(sessionID, NewBoardClearedEvent())
}
