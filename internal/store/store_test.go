package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(DriverSQLite, SQLiteDSN(filepath.Join(t.TempDir(), "retro.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Init(context.Background()))
	return s
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	assert.Error(t, err)
}

func TestValidCategory(t *testing.T) {
	for _, category := range []string{CategoryWell, CategoryBadly, CategoryContinue, CategoryKudos, CategoryActionables} {
		assert.True(t, ValidCategory(category), category)
	}
	assert.False(t, ValidCategory("retro"))
	assert.False(t, ValidCategory(""))
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateSession(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", created.ID)
	assert.Nil(t, created.Name)
	assert.False(t, created.CreatedAt.IsZero())

	fetched, err := s.GetSession(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, created.ID, fetched.ID)

	_, err = s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRenameSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, "abc123")
	require.NoError(t, err)

	renamed, err := s.RenameSession(ctx, "abc123", "Sprint 42")
	require.NoError(t, err)
	require.NotNil(t, renamed.Name)
	assert.Equal(t, "Sprint 42", *renamed.Name)

	_, err = s.RenameSession(ctx, "missing", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateCard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, "abc123")
	require.NoError(t, err)

	card, err := s.CreateCard(ctx, "abc123", CategoryWell, "Shipped on time", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "abc123", card.SessionID)
	assert.Equal(t, CategoryWell, card.Category)
	assert.Equal(t, "Shipped on time", card.Content)
	assert.Equal(t, "Alice", card.Author)
	assert.Nil(t, card.Completed)
	assert.NotZero(t, card.ID)
}

func TestCreateCardRejectsInvalidCategory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, "abc123")
	require.NoError(t, err)

	_, err = s.CreateCard(ctx, "abc123", "bogus", "content", "Alice")
	assert.Error(t, err)
}

func TestActionableCardCompletionFlow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, "abc123")
	require.NoError(t, err)

	card, err := s.CreateCard(ctx, "abc123", CategoryActionables, "Write runbook", "Bob")
	require.NoError(t, err)
	require.NotNil(t, card.Completed)
	assert.False(t, *card.Completed)

	updated, err := s.SetCardCompleted(ctx, card.ID, true)
	require.NoError(t, err)
	require.NotNil(t, updated.Completed)
	assert.True(t, *updated.Completed)
}

func TestSetCardCompletedOnNonActionable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, "abc123")
	require.NoError(t, err)

	card, err := s.CreateCard(ctx, "abc123", CategoryWell, "Good sprint", "Alice")
	require.NoError(t, err)

	_, err = s.SetCardCompleted(ctx, card.ID, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateCardContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, "abc123")
	require.NoError(t, err)

	card, err := s.CreateCard(ctx, "abc123", CategoryBadly, "Flaky tests", "Alice")
	require.NoError(t, err)

	updated, err := s.UpdateCardContent(ctx, card.ID, "Flaky integration tests")
	require.NoError(t, err)
	assert.Equal(t, "Flaky integration tests", updated.Content)

	_, err = s.UpdateCardContent(ctx, 9999, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCardsForSessionOrderedByCreation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, "abc123")
	require.NoError(t, err)

	first, err := s.CreateCard(ctx, "abc123", CategoryWell, "first", "Alice")
	require.NoError(t, err)
	second, err := s.CreateCard(ctx, "abc123", CategoryKudos, "second", "Bob")
	require.NoError(t, err)

	cards, err := s.CardsForSession(ctx, "abc123")
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, first.ID, cards[0].ID)
	assert.Equal(t, second.ID, cards[1].ID)

	empty, err := s.CardsForSession(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDeleteCard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, "abc123")
	require.NoError(t, err)

	card, err := s.CreateCard(ctx, "abc123", CategoryContinue, "Pairing", "Alice")
	require.NoError(t, err)

	require.NoError(t, s.DeleteCard(ctx, card.ID))
	assert.ErrorIs(t, s.DeleteCard(ctx, card.ID), ErrNotFound)

	_, err = s.GetCard(ctx, card.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAllCards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, "abc123")
	require.NoError(t, err)

	_, err = s.CreateCard(ctx, "abc123", CategoryWell, "one", "Alice")
	require.NoError(t, err)
	_, err = s.CreateCard(ctx, "abc123", CategoryBadly, "two", "Bob")
	require.NoError(t, err)

	require.NoError(t, s.DeleteAllCards(ctx, "abc123"))

	cards, err := s.CardsForSession(ctx, "abc123")
	require.NoError(t, err)
	assert.Empty(t, cards)

	// Clearing an already-empty board is not an error.
	assert.NoError(t, s.DeleteAllCards(ctx, "abc123"))
}

func TestListSessionsIncludesCardCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, "busy")
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, "quiet")
	require.NoError(t, err)

	_, err = s.CreateCard(ctx, "busy", CategoryWell, "one", "Alice")
	require.NoError(t, err)
	_, err = s.CreateCard(ctx, "busy", CategoryKudos, "two", "Bob")
	require.NoError(t, err)

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	counts := make(map[string]int)
	for _, sum := range sessions {
		counts[sum.ID] = sum.CardCount
	}
	assert.Equal(t, 2, counts["busy"])
	assert.Equal(t, 0, counts["quiet"])
}

func TestDeleteSessionsBeforeCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, "old")
	require.NoError(t, err)
	card, err := s.CreateCard(ctx, "old", CategoryWell, "stale", "Alice")
	require.NoError(t, err)

	removed, err := s.DeleteSessionsBefore(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = s.GetSession(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetCard(ctx, card.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTouchSessionBumpsActivity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateSession(ctx, "abc123")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.TouchSession(ctx, "abc123"))

	touched, err := s.GetSession(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, touched.LastActivity.After(created.LastActivity) || touched.LastActivity.Equal(created.LastActivity))

	// Touching an unknown session stays a no-op.
	assert.NoError(t, s.TouchSession(ctx, "missing"))
}
