package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retroboard/retroboard/internal/store"
)

type fakePublisher struct {
	sessionIDs []string
	events     []Event
}

func (f *fakePublisher) Publish(sessionID string, event Event) {
	f.sessionIDs = append(f.sessionIDs, sessionID)
	f.events = append(f.events, event)
}

func TestRelayCardAdded(t *testing.T) {
	publisher := &fakePublisher{}
	relay := NewRelay(publisher)

	card := store.Card{
		ID:        1,
		SessionID: "abc123",
		Category:  store.CategoryWell,
		Content:   "Shipped on time",
		Author:    "Alice",
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	relay.CardAdded("abc123", card)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, "abc123", publisher.sessionIDs[0])
	assert.Equal(t, EventCardAdded, publisher.events[0].Event)
	assert.Equal(t, card, publisher.events[0].Data)
}

func TestRelayCardUpdated(t *testing.T) {
	publisher := &fakePublisher{}
	relay := NewRelay(publisher)

	completed := true
	card := store.Card{
		ID:        4,
		SessionID: "abc123",
		Category:  store.CategoryActionables,
		Content:   "Write runbook",
		Author:    "Bob",
		Completed: &completed,
	}
	relay.CardUpdated("abc123", card)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, EventCardUpdated, publisher.events[0].Event)
	assert.Equal(t, card, publisher.events[0].Data)
}

func TestRelayCardDeleted(t *testing.T) {
	publisher := &fakePublisher{}
	relay := NewRelay(publisher)

	relay.CardDeleted("abc123", 7)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, EventCardDeleted, publisher.events[0].Event)

	payload, err := publisher.events[0].Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"card_deleted","data":{"id":7}}`, string(payload))
}

func TestRelayBoardCleared(t *testing.T) {
	publisher := &fakePublisher{}
	relay := NewRelay(publisher)

	relay.BoardCleared("xyz789")

	require.Len(t, publisher.events, 1)
	assert.Equal(t, "xyz789", publisher.sessionIDs[0])

	payload, err := publisher.events[0].Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"board_cleared","data":{}}`, string(payload))
}

func TestRelayOneEventPerMutation(t *testing.T) {
	publisher := &fakePublisher{}
	relay := NewRelay(publisher)

	relay.CardAdded("a", store.Card{ID: 1, SessionID: "a"})
	relay.CardDeleted("a", 1)
	relay.BoardCleared("b")

	assert.Equal(t, []string{"a", "a", "b"}, publisher.sessionIDs)
}
