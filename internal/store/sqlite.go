package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fleetbot-io/fleetbot/pkg/protocol"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	// WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: wal: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	// AUTOINCREMENT keeps ticket ids strictly increasing and never
	// reused, so user-facing #id references stay stable.
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			user_id    TEXT PRIMARY KEY,
			state      TEXT NOT NULL,
			data       TEXT NOT NULL DEFAULT '{}',
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS tickets (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			asset_type        TEXT NOT NULL DEFAULT 'unspecified',
			asset_id          TEXT,
			problem           TEXT NOT NULL DEFAULT '',
			plan              TEXT NOT NULL DEFAULT '',
			eta               TEXT,
			status            TEXT NOT NULL DEFAULT 'new',
			owner_user_id     TEXT NOT NULL,
			needs_photos      INTEGER NOT NULL DEFAULT 0,
			snooze_until      TEXT,
			last_reminded_at  TEXT,
			created_at        TEXT NOT NULL,
			closed_at         TEXT,
			closed_by_user_id TEXT
		);

		CREATE TABLE IF NOT EXISTS photos (
			id        TEXT PRIMARY KEY,
			ticket_id INTEGER NOT NULL REFERENCES tickets(id),
			file_id   TEXT NOT NULL,
			is_final  INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS events (
			id         TEXT PRIMARY KEY,
			ticket_id  INTEGER NOT NULL REFERENCES tickets(id),
			by_user_id TEXT NOT NULL,
			action     TEXT NOT NULL,
			payload    TEXT NOT NULL DEFAULT '{}',
			at         TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);
		CREATE INDEX IF NOT EXISTS idx_tickets_owner  ON tickets(owner_user_id);
		CREATE INDEX IF NOT EXISTS idx_photos_ticket  ON photos(ticket_id);
		CREATE INDEX IF NOT EXISTS idx_events_ticket  ON events(ticket_id);
	`)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// --- sessions ---

func (s *SQLiteStore) GetSession(userID string) (*protocol.Session, error) {
	row := s.db.QueryRow(`SELECT user_id, state, data, updated_at FROM sessions WHERE user_id = ?`, userID)

	var ses protocol.Session
	var state, data, updatedAt string
	if err := row.Scan(&ses.UserID, &state, &data, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: session get: %w", err)
	}
	ses.State = protocol.State(state)
	if err := json.Unmarshal([]byte(data), &ses.Draft); err != nil {
		return nil, fmt.Errorf("store: session draft: %w", err)
	}
	ses.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &ses, nil
}

func (s *SQLiteStore) PutSession(ses *protocol.Session) error {
	data, err := json.Marshal(ses.Draft)
	if err != nil {
		return fmt.Errorf("store: session draft: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO sessions (user_id, state, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			state=excluded.state, data=excluded.data, updated_at=excluded.updated_at
	`, ses.UserID, string(ses.State), string(data), ses.UpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: session put: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(userID string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("store: session delete: %w", err)
	}
	return nil
}

// --- tickets ---

const ticketColumns = `id, asset_type, asset_id, problem, plan, eta, status, owner_user_id,
	needs_photos, snooze_until, last_reminded_at, created_at, closed_at, closed_by_user_id`

func (s *SQLiteStore) InsertTicket(t *protocol.Ticket) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO tickets (asset_type, asset_id, problem, plan, eta, status, owner_user_id, needs_photos, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(t.AssetType), nullString(t.AssetID), t.Problem, t.Plan, nullTime(t.ETA),
		string(t.Status), t.OwnerUserID, boolInt(t.NeedsPhotos), t.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("store: ticket insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: ticket insert id: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetTicket(id int64) (*protocol.Ticket, error) {
	row := s.db.QueryRow(`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
	t, err := scanTicket(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: ticket get: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) SetStatus(id int64, status protocol.Status, closedAt *time.Time, closedBy string) error {
	res, err := s.db.Exec(`UPDATE tickets SET status = ?, closed_at = ?, closed_by_user_id = ? WHERE id = ?`,
		string(status), nullTime(closedAt), nullString(closedBy), id)
	if err != nil {
		return fmt.Errorf("store: set status: %w", err)
	}
	return requireRow(res, id)
}

func (s *SQLiteStore) SetETA(id int64, eta *time.Time) error {
	res, err := s.db.Exec(`UPDATE tickets SET eta = ? WHERE id = ?`, nullTime(eta), id)
	if err != nil {
		return fmt.Errorf("store: set eta: %w", err)
	}
	return requireRow(res, id)
}

func (s *SQLiteStore) SetSnooze(id int64, until time.Time) error {
	res, err := s.db.Exec(`UPDATE tickets SET snooze_until = ? WHERE id = ?`,
		until.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("store: set snooze: %w", err)
	}
	return requireRow(res, id)
}

func (s *SQLiteStore) SetLastReminded(id int64, at time.Time) error {
	res, err := s.db.Exec(`UPDATE tickets SET last_reminded_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("store: set last reminded: %w", err)
	}
	return requireRow(res, id)
}

func (s *SQLiteStore) ListOpen(f OpenFilter) ([]*protocol.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE status != ?`
	args := []any{string(protocol.StatusDone)}

	if f.Owner != "" {
		query += " AND owner_user_id = ?"
		args = append(args, f.Owner)
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list open: %w", err)
	}
	defer rows.Close()

	var tickets []*protocol.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list open scan: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// --- photos ---

func (s *SQLiteStore) InsertPhoto(p *protocol.Photo) error {
	_, err := s.db.Exec(`INSERT INTO photos (id, ticket_id, file_id, is_final) VALUES (?, ?, ?, ?)`,
		p.ID, p.TicketID, p.FileID, boolInt(p.IsFinal))
	if err != nil {
		return fmt.Errorf("store: photo insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListPhotos(ticketID int64) ([]*protocol.Photo, error) {
	rows, err := s.db.Query(`SELECT id, ticket_id, file_id, is_final FROM photos WHERE ticket_id = ?`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("store: list photos: %w", err)
	}
	defer rows.Close()

	var photos []*protocol.Photo
	for rows.Next() {
		var p protocol.Photo
		var final int
		if err := rows.Scan(&p.ID, &p.TicketID, &p.FileID, &final); err != nil {
			return nil, fmt.Errorf("store: photo scan: %w", err)
		}
		p.IsFinal = final != 0
		photos = append(photos, &p)
	}
	return photos, rows.Err()
}

// --- events ---

func (s *SQLiteStore) AppendEvent(e *protocol.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("store: event payload: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO events (id, ticket_id, by_user_id, action, payload, at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.TicketID, e.ByUserID, string(e.Action), string(payload), e.At.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: event append: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListEvents(ticketID int64) ([]*protocol.Event, error) {
	rows, err := s.db.Query(`SELECT id, ticket_id, by_user_id, action, payload, at FROM events WHERE ticket_id = ? ORDER BY at`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()

	var events []*protocol.Event
	for rows.Next() {
		var e protocol.Event
		var action, payload, at string
		if err := rows.Scan(&e.ID, &e.TicketID, &e.ByUserID, &action, &payload, &at); err != nil {
			return nil, fmt.Errorf("store: event scan: %w", err)
		}
		e.Action = protocol.EventAction(action)
		json.Unmarshal([]byte(payload), &e.Payload)
		e.At, _ = time.Parse(time.RFC3339, at)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// DB returns the underlying database connection (for testing or direct access).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// --- helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanTicket(row scannable) (*protocol.Ticket, error) {
	var t protocol.Ticket
	var assetType, status, createdAt string
	var assetID, eta, snooze, reminded, closedAt, closedBy sql.NullString
	var needsPhotos int

	err := row.Scan(&t.ID, &assetType, &assetID, &t.Problem, &t.Plan, &eta, &status, &t.OwnerUserID,
		&needsPhotos, &snooze, &reminded, &createdAt, &closedAt, &closedBy)
	if err != nil {
		return nil, err
	}

	t.AssetType = protocol.AssetType(assetType)
	t.Status = protocol.Status(status)
	t.AssetID = assetID.String
	t.NeedsPhotos = needsPhotos != 0
	t.ETA = parseNullTime(eta)
	t.SnoozeUntil = parseNullTime(snooze)
	t.LastRemindedAt = parseNullTime(reminded)
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	t.ClosedAt = parseNullTime(closedAt)
	t.ClosedByUserID = closedBy.String
	return &t, nil
}

func requireRow(res sql.Result, id int64) error {
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("ticket %d: %w", id, ErrNotFound)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
