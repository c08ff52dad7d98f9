// Package store implements the persistence layer for retrospective sessions
// and cards on top of database/sql. It is the external collaborator the
// realtime core notifies after writes; the core itself never touches SQL.
package store

import "time"

// Card categories supported by the board. A card always belongs to exactly
// one of these.
const (
	CategoryWell        = "well"
	CategoryBadly       = "badly"
	CategoryContinue    = "continue"
	CategoryKudos       = "kudos"
	CategoryActionables = "actionables"
)

// ValidCategory reports whether category is one of the five fixed card
// categories.
func ValidCategory(category string) bool {
	switch category {
	case CategoryWell, CategoryBadly, CategoryContinue, CategoryKudos, CategoryActionables:
		return true
	}
	return false
}

// Session is one retrospective board. The identifier is an opaque string
// generated at creation time.
type Session struct {
	ID           string    `json:"session_id"`
	Name         *string   `json:"name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// SessionSummary is a Session plus its card count, as returned by the
// session listing.
type SessionSummary struct {
	Session
	CardCount int `json:"card_count"`
}

// Card is a single retrospective note. Completed is non-nil only for cards
// in the actionables category.
type Card struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Category  string    `json:"category"`
	Content   string    `json:"content"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	Completed *bool     `json:"completed"`
}
