// Package server defines the wire-level event envelope delivered to
// connected board clients.
package server

import (
	"encoding/json"
	"fmt"

	"github.com/retroboard/retroboard/internal/store"
)

// EventType tags an outbound board event.
type EventType string

// The five event kinds a client can receive.
const (
	EventCardAdded    EventType = "card_added"
	EventCardUpdated  EventType = "card_updated"
	EventCardDeleted  EventType = "card_deleted"
	EventUserList     EventType = "user_list"
	EventBoardCleared EventType = "board_cleared"
)

// Event is the envelope written to every client of a session:
// {"event": "...", "data": ...}. Events are transient and never persisted.
type Event struct {
	Event EventType `json:"event"`
	Data  any       `json:"data"`
}

type cardDeletedPayload struct {
	ID int64 `json:"id"`
}

type userListPayload struct {
	Users []string `json:"users"`
}

// NewCardAddedEvent wraps a freshly committed card.
func NewCardAddedEvent(card store.Card) Event {
	return Event{Event: EventCardAdded, Data: card}
}

// NewCardUpdatedEvent wraps the post-update card record.
func NewCardUpdatedEvent(card store.Card) Event {
	return Event{Event: EventCardUpdated, Data: card}
}

// NewCardDeletedEvent carries only the removed card's id.
func NewCardDeletedEvent(cardID int64) Event {
	return Event{Event: EventCardDeleted, Data: cardDeletedPayload{ID: cardID}}
}

// NewUserListEvent carries the session's current presence set.
func NewUserListEvent(users []string) Event {
	if users == nil {
		users = []string{}
	}
	return Event{Event: EventUserList, Data: userListPayload{Users: users}}
}

// NewBoardClearedEvent signals that every card in the session was removed.
// The payload is an empty object.
func NewBoardClearedEvent() Event {
	return Event{Event: EventBoardCleared, Data: struct{}{}}
}

// Marshal serializes the envelope once so a broadcast encodes a single
// payload shared by all recipients.
func (e Event) Marshal() ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", e.Event, err)
	}
	return payload, nil
}
