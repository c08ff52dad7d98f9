package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a session or card lookup matches no record.
var ErrNotFound = errors.New("store: record not found")

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Store wraps a SQL database holding sessions, cards, and actionable state.
// All methods are safe for concurrent use; database/sql handles pooling.
type Store struct {
	db     *sql.DB
	driver string
}

// SQLiteDSN builds a sqlite3 DSN for the given file path with foreign keys
// and WAL mode enabled, matching the pragmas the service expects.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_foreign_keys=1&_journal_mode=WAL"
}

// Open connects to the database identified by driver ("sqlite3" or
// "postgres") and dsn, and verifies the connection.
func Open(driver, dsn string) (*Store, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", driver, err)
	}

	return &Store{db: db, driver: driver}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id    TEXT PRIMARY KEY,
	name          TEXT,
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_activity TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS cards (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
	category   TEXT NOT NULL,
	content    TEXT NOT NULL,
	author     TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_cards_session ON cards(session_id);
CREATE TABLE IF NOT EXISTS actionables (
	card_id   INTEGER PRIMARY KEY REFERENCES cards(id) ON DELETE CASCADE,
	completed BOOLEAN NOT NULL DEFAULT 0
);`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id    TEXT PRIMARY KEY,
	name          TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_activity TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS cards (
	id         BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
	category   TEXT NOT NULL,
	content    TEXT NOT NULL,
	author     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_cards_session ON cards(session_id);
CREATE TABLE IF NOT EXISTS actionables (
	card_id   BIGINT PRIMARY KEY REFERENCES cards(id) ON DELETE CASCADE,
	completed BOOLEAN NOT NULL DEFAULT FALSE
);`

// Init creates the schema if it does not exist yet.
func (s *Store) Init(ctx context.Context) error {
	schema := schemaSQLite
	if s.driver == DriverPostgres {
		schema = schemaPostgres
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}

// rebind rewrites ?-style placeholders to $n for postgres. Queries are
// written with ? throughout and rebound once at the call site.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CreateSession inserts a new session record with the given opaque id.
func (s *Store) CreateSession(ctx context.Context, id string) (Session, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO sessions (session_id, created_at, last_activity) VALUES (?, ?, ?)`),
		id, now, now)
	if err != nil {
		return Session{}, fmt.Errorf("store: create session %s: %w", id, err)
	}
	return s.GetSession(ctx, id)
}

// GetSession fetches one session, returning ErrNotFound when absent.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT session_id, name, created_at, last_activity FROM sessions WHERE session_id = ?`), id)

	var sess Session
	var name sql.NullString
	if err := row.Scan(&sess.ID, &name, &sess.CreatedAt, &sess.LastActivity); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("store: get session %s: %w", id, err)
	}
	if name.Valid {
		sess.Name = &name.String
	}
	return sess, nil
}

// ListSessions returns the 50 most recently active sessions with their card
// counts, newest activity first.
func (s *Store) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.session_id, s.name, s.created_at, s.last_activity, COUNT(c.id)
		FROM sessions s
		LEFT JOIN cards c ON c.session_id = s.session_id
		GROUP BY s.session_id, s.name, s.created_at, s.last_activity
		ORDER BY s.last_activity DESC
		LIMIT 50`)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]SessionSummary, 0)
	for rows.Next() {
		var sum SessionSummary
		var name sql.NullString
		if err := rows.Scan(&sum.ID, &name, &sum.CreatedAt, &sum.LastActivity, &sum.CardCount); err != nil {
			return nil, fmt.Errorf("store: scan session row: %w", err)
		}
		if name.Valid {
			sum.Name = &name.String
		}
		sessions = append(sessions, sum)
	}
	return sessions, rows.Err()
}

// RenameSession updates the session's display name and bumps last_activity.
func (s *Store) RenameSession(ctx context.Context, id, name string) (Session, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE sessions SET name = ?, last_activity = ? WHERE session_id = ?`),
		name, time.Now().UTC(), id)
	if err != nil {
		return Session{}, fmt.Errorf("store: rename session %s: %w", id, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return Session{}, ErrNotFound
	}
	return s.GetSession(ctx, id)
}

// TouchSession bumps the session's last_activity timestamp. Touching an
// unknown session is a no-op.
func (s *Store) TouchSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE sessions SET last_activity = ? WHERE session_id = ?`),
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("store: touch session %s: %w", id, err)
	}
	return nil
}

const cardColumns = `c.id, c.session_id, c.category, c.content, c.author, c.created_at, a.completed`

func scanCard(row interface{ Scan(dest ...any) error }) (Card, error) {
	var card Card
	var completed sql.NullBool
	if err := row.Scan(&card.ID, &card.SessionID, &card.Category, &card.Content, &card.Author, &card.CreatedAt, &completed); err != nil {
		return Card{}, err
	}
	if completed.Valid {
		card.Completed = &completed.Bool
	}
	return card, nil
}

// CreateCard inserts a card and, for the actionables category, its
// completion row, in one transaction. The full card record is returned so
// callers can broadcast it verbatim.
func (s *Store) CreateCard(ctx context.Context, sessionID, category, content, author string) (Card, error) {
	if !ValidCategory(category) {
		return Card{}, fmt.Errorf("store: invalid category %q", category)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Card{}, fmt.Errorf("store: begin create card: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	var cardID int64
	if s.driver == DriverPostgres {
		err = tx.QueryRowContext(ctx,
			s.rebind(`INSERT INTO cards (session_id, category, content, author, created_at) VALUES (?, ?, ?, ?, ?) RETURNING id`),
			sessionID, category, content, author, now).Scan(&cardID)
	} else {
		var res sql.Result
		res, err = tx.ExecContext(ctx,
			`INSERT INTO cards (session_id, category, content, author, created_at) VALUES (?, ?, ?, ?, ?)`,
			sessionID, category, content, author, now)
		if err == nil {
			cardID, err = res.LastInsertId()
		}
	}
	if err != nil {
		return Card{}, fmt.Errorf("store: insert card: %w", err)
	}

	if category == CategoryActionables {
		if _, err := tx.ExecContext(ctx,
			s.rebind(`INSERT INTO actionables (card_id) VALUES (?)`), cardID); err != nil {
			return Card{}, fmt.Errorf("store: insert actionable row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Card{}, fmt.Errorf("store: commit create card: %w", err)
	}
	return s.GetCard(ctx, cardID)
}

// GetCard fetches one card, returning ErrNotFound when absent.
func (s *Store) GetCard(ctx context.Context, id int64) (Card, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+cardColumns+` FROM cards c LEFT JOIN actionables a ON a.card_id = c.id WHERE c.id = ?`), id)
	card, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Card{}, ErrNotFound
		}
		return Card{}, fmt.Errorf("store: get card %d: %w", id, err)
	}
	return card, nil
}

// CardsForSession returns the session's cards in creation order.
func (s *Store) CardsForSession(ctx context.Context, sessionID string) ([]Card, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+cardColumns+` FROM cards c LEFT JOIN actionables a ON a.card_id = c.id
		 WHERE c.session_id = ? ORDER BY c.created_at ASC, c.id ASC`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: cards for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	cards := make([]Card, 0)
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan card row: %w", err)
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

// UpdateCardContent replaces a card's text and returns the updated record.
func (s *Store) UpdateCardContent(ctx context.Context, id int64, content string) (Card, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE cards SET content = ? WHERE id = ?`), content, id)
	if err != nil {
		return Card{}, fmt.Errorf("store: update card %d: %w", id, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return Card{}, ErrNotFound
	}
	return s.GetCard(ctx, id)
}

// SetCardCompleted toggles the completion flag of an actionable card.
// Returns ErrNotFound when the card has no actionable row.
func (s *Store) SetCardCompleted(ctx context.Context, id int64, completed bool) (Card, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE actionables SET completed = ? WHERE card_id = ?`), completed, id)
	if err != nil {
		return Card{}, fmt.Errorf("store: set card %d completed: %w", id, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return Card{}, ErrNotFound
	}
	return s.GetCard(ctx, id)
}

// DeleteCard removes a card. Returns ErrNotFound when no row was deleted.
func (s *Store) DeleteCard(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM cards WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("store: delete card %d: %w", id, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAllCards clears a session's board. Clearing an empty board is not
// an error.
func (s *Store) DeleteAllCards(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM cards WHERE session_id = ?`), sessionID); err != nil {
		return fmt.Errorf("store: clear board %s: %w", sessionID, err)
	}
	return nil
}

// DeleteSessionsBefore removes sessions created before cutoff, cascading to
// their cards. It returns the number of sessions removed.
func (s *Store) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM sessions WHERE created_at < ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: delete old sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete old sessions: %w", err)
	}
	return affected, nil
}
