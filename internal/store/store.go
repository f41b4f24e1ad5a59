package store

import (
	"errors"
	"time"

	"github.com/fleetbot-io/fleetbot/pkg/protocol"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence interface for sessions, tickets, photos and
// audit events.
type Store interface {
	// GetSession returns the user's session, or ErrNotFound.
	GetSession(userID string) (*protocol.Session, error)
	// PutSession creates or fully overwrites the user's session.
	PutSession(s *protocol.Session) error
	// DeleteSession removes the user's session. Deleting a session that
	// does not exist is not an error.
	DeleteSession(userID string) error

	// InsertTicket stores a new ticket and returns its assigned id.
	// Ids are strictly increasing and never reused.
	InsertTicket(t *protocol.Ticket) (int64, error)
	// GetTicket returns a ticket by id, or ErrNotFound.
	GetTicket(id int64) (*protocol.Ticket, error)
	// SetStatus changes a ticket's status. closedAt/closedBy are stored
	// only when the transition is to done.
	SetStatus(id int64, status protocol.Status, closedAt *time.Time, closedBy string) error
	SetETA(id int64, eta *time.Time) error
	SetSnooze(id int64, until time.Time) error
	SetLastReminded(id int64, at time.Time) error
	// ListOpen returns non-done tickets, newest id first.
	ListOpen(f OpenFilter) ([]*protocol.Ticket, error)

	InsertPhoto(p *protocol.Photo) error
	ListPhotos(ticketID int64) ([]*protocol.Photo, error)

	// AppendEvent adds one audit record. Events are never updated or
	// deleted.
	AppendEvent(e *protocol.Event) error
	ListEvents(ticketID int64) ([]*protocol.Event, error)
}

// OpenFilter constrains ListOpen queries.
type OpenFilter struct {
	Owner string // empty = any owner
	Limit int    // 0 = no limit
}
