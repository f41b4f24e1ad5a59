package ticket

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fleetbot-io/fleetbot/internal/store"
	"github.com/fleetbot-io/fleetbot/pkg/protocol"
)

// Manager owns the ticket lifecycle. Every state-changing operation
// appends one audit event as part of the same logical step.
type Manager struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a lifecycle manager over the given store.
func NewManager(st store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: st, logger: logger, now: time.Now}
}

// Create inserts a ticket from the draft, records any pre-accumulated
// photos as progress shots, and returns the assigned id. Skipped draft
// fields fall back to their documented defaults.
func (m *Manager) Create(draft protocol.Draft, owner string) (int64, error) {
	now := m.now().UTC()
	t := &protocol.Ticket{
		AssetType:   draft.AssetType,
		AssetID:     draft.AssetID,
		Problem:     orUnspecified(draft.Problem),
		Plan:        orUnspecified(draft.Plan),
		ETA:         draft.ETA,
		Status:      protocol.StatusNew,
		OwnerUserID: owner,
		NeedsPhotos: draft.NeedsPhotos,
		CreatedAt:   now,
	}
	if t.AssetType == "" {
		t.AssetType = protocol.AssetUnspecified
	}

	id, err := m.store.InsertTicket(t)
	if err != nil {
		return 0, fmt.Errorf("ticket: create: %w", err)
	}

	payload := map[string]any{
		"asset_type": string(t.AssetType),
		"problem":    t.Problem,
		"plan":       t.Plan,
	}
	if t.AssetID != "" {
		payload["asset_id"] = t.AssetID
	}
	if t.ETA != nil {
		payload["eta"] = t.ETA.Format(time.RFC3339)
	}
	m.appendEvent(id, owner, protocol.ActionCreated, payload)

	for _, fileID := range draft.Photos {
		if err := m.store.InsertPhoto(&protocol.Photo{
			ID:       uuid.NewString(),
			TicketID: id,
			FileID:   fileID,
		}); err != nil {
			m.logger.Error("draft photo insert failed", "ticket", id, "error", err)
		}
	}
	return id, nil
}

// Get returns a ticket by id.
func (m *Manager) Get(id int64) (*protocol.Ticket, error) {
	return m.store.GetTicket(id)
}

// SetStatus changes a ticket's status. Transitioning to done stamps
// closed_at and closed_by; no other transition touches them.
func (m *Manager) SetStatus(id int64, status protocol.Status, by string) error {
	if !protocol.ValidStatus(status) {
		return fmt.Errorf("ticket: invalid status %q", status)
	}
	var closedAt *time.Time
	closedBy := ""
	if status == protocol.StatusDone {
		now := m.now().UTC()
		closedAt = &now
		closedBy = by
	}
	if err := m.store.SetStatus(id, status, closedAt, closedBy); err != nil {
		return fmt.Errorf("ticket: set status: %w", err)
	}
	m.appendEvent(id, by, protocol.ActionStatusChange, map[string]any{"status": string(status)})
	return nil
}

// SetETA replaces a ticket's ETA. A nil eta clears it.
func (m *Manager) SetETA(id int64, eta *time.Time, by string) error {
	if err := m.store.SetETA(id, eta); err != nil {
		return fmt.Errorf("ticket: set eta: %w", err)
	}
	payload := map[string]any{}
	if eta != nil {
		payload["eta"] = eta.UTC().Format(time.RFC3339)
	}
	m.appendEvent(id, by, protocol.ActionETAChange, payload)
	return nil
}

// Snooze suppresses reminders for the given number of hours from now.
// The new snooze_until overwrites any prior value; it is not additive.
func (m *Manager) Snooze(id int64, hours int, by string) (time.Time, error) {
	until := m.now().UTC().Add(time.Duration(hours) * time.Hour)
	if err := m.store.SetSnooze(id, until); err != nil {
		return time.Time{}, fmt.Errorf("ticket: snooze: %w", err)
	}
	m.appendEvent(id, by, protocol.ActionSnooze, map[string]any{"until": until.Format(time.RFC3339)})
	return until, nil
}

// AddPhoto attaches one image to a ticket.
func (m *Manager) AddPhoto(id int64, fileID string, isFinal bool, by string) error {
	if err := m.store.InsertPhoto(&protocol.Photo{
		ID:       uuid.NewString(),
		TicketID: id,
		FileID:   fileID,
		IsFinal:  isFinal,
	}); err != nil {
		return fmt.Errorf("ticket: add photo: %w", err)
	}
	m.appendEvent(id, by, protocol.ActionPhotosAdd, map[string]any{"file_id": fileID, "is_final": isFinal})
	return nil
}

// ListOpen returns the owner's non-done tickets, newest id first.
func (m *Manager) ListOpen(owner string, limit int) ([]*protocol.Ticket, error) {
	return m.store.ListOpen(store.OpenFilter{Owner: owner, Limit: limit})
}

// OpenPage returns a bounded page of all non-done tickets, newest id
// first, for the reminder sweep.
func (m *Manager) OpenPage(limit int) ([]*protocol.Ticket, error) {
	return m.store.ListOpen(store.OpenFilter{Limit: limit})
}

// MarkReminded stamps the ticket's last_reminded_at.
func (m *Manager) MarkReminded(id int64, at time.Time) error {
	return m.store.SetLastReminded(id, at)
}

// Events returns the ticket's audit trail, oldest first.
func (m *Manager) Events(id int64) ([]*protocol.Event, error) {
	return m.store.ListEvents(id)
}

// Photos returns the ticket's attached images.
func (m *Manager) Photos(id int64) ([]*protocol.Photo, error) {
	return m.store.ListPhotos(id)
}

// appendEvent records an audit event. The mutation it documents has
// already been applied, so a failed append is logged rather than
// unwinding the operation.
func (m *Manager) appendEvent(ticketID int64, by string, action protocol.EventAction, payload map[string]any) {
	err := m.store.AppendEvent(&protocol.Event{
		ID:       uuid.NewString(),
		TicketID: ticketID,
		ByUserID: by,
		Action:   action,
		Payload:  payload,
		At:       m.now().UTC(),
	})
	if err != nil {
		m.logger.Error("event append failed", "ticket", ticketID, "action", string(action), "error", err)
	}
}

func orUnspecified(s string) string {
	if s == "" {
		return "Unspecified"
	}
	return s
}
