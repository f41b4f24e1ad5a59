package protocol

import "time"

// Status is the lifecycle state of a ticket.
type Status string

const (
	StatusNew             Status = "new"
	StatusInProgress      Status = "in_progress"
	StatusAwaitingParts   Status = "awaiting_parts"
	StatusVendorScheduled Status = "vendor_scheduled"
	StatusDone            Status = "done"
)

// ValidStatus reports whether s is a known ticket status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusNew, StatusInProgress, StatusAwaitingParts, StatusVendorScheduled, StatusDone:
		return true
	}
	return false
}

// AssetType says which piece of equipment a ticket is about.
type AssetType string

const (
	AssetTruck       AssetType = "truck"
	AssetTrailer     AssetType = "trailer"
	AssetUnspecified AssetType = "unspecified"
)

// Ticket is one reported equipment problem.
type Ticket struct {
	ID             int64      `json:"id"`
	AssetType      AssetType  `json:"asset_type"`
	AssetID        string     `json:"asset_id,omitempty"`
	Problem        string     `json:"problem"`
	Plan           string     `json:"plan"`
	ETA            *time.Time `json:"eta,omitempty"`
	Status         Status     `json:"status"`
	OwnerUserID    string     `json:"owner_user_id"`
	NeedsPhotos    bool       `json:"needs_photos"`
	SnoozeUntil    *time.Time `json:"snooze_until,omitempty"`
	LastRemindedAt *time.Time `json:"last_reminded_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	ClosedByUserID string     `json:"closed_by_user_id,omitempty"`
}

// Open reports whether the ticket still counts as open.
func (t *Ticket) Open() bool {
	return t.Status != StatusDone
}

// EventAction names a kind of audit event.
type EventAction string

const (
	ActionCreated      EventAction = "created"
	ActionStatusChange EventAction = "status_change"
	ActionETAChange    EventAction = "eta_change"
	ActionSnooze       EventAction = "snooze"
	ActionPhotosAdd    EventAction = "photos_add"
)

// Event is one append-only audit record for a ticket. Events are never
// updated or deleted, and they outlive the ticket's lifecycle.
type Event struct {
	ID       string         `json:"id"`
	TicketID int64          `json:"ticket_id"`
	ByUserID string         `json:"by_user_id"`
	Action   EventAction    `json:"action"`
	Payload  map[string]any `json:"payload,omitempty"`
	At       time.Time      `json:"at"`
}

// Photo is one image attached to a ticket. Final photos document the
// completed repair; the rest are progress shots.
type Photo struct {
	ID       string `json:"id"`
	TicketID int64  `json:"ticket_id"`
	FileID   string `json:"file_id"`
	IsFinal  bool   `json:"is_final"`
}
