package gateway

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fleetbot-io/fleetbot/pkg/protocol"
)

const etaLayout = "2006-01-02 15:04"

// TicketLine renders a one-line ticket summary for lists and reminders.
func TicketLine(t *protocol.Ticket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d • %s", t.ID, titleCase(string(t.AssetType)))
	if t.AssetID != "" {
		b.WriteString(" " + t.AssetID)
	}
	if t.Problem != "" {
		b.WriteString(" • " + t.Problem)
	}
	if t.ETA != nil {
		b.WriteString(" • ETA: " + t.ETA.UTC().Format(etaLayout))
	}
	return b.String()
}

// TicketButtonLabel renders the compact label used on pick keyboards.
func TicketButtonLabel(t *protocol.Ticket) string {
	parts := []string{fmt.Sprintf("#%d", t.ID), string(t.AssetType)}
	if t.AssetID != "" {
		parts = append(parts, t.AssetID)
	}
	if t.Problem != "" {
		parts = append(parts, t.Problem)
	}
	return strings.Join(parts, " ")
}

// CreatedCaption renders the group announcement for a new ticket.
func CreatedCaption(id int64, d protocol.Draft, by string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d • %s", id, titleCase(string(d.AssetType)))
	if d.AssetID != "" {
		b.WriteString(" " + d.AssetID)
	}
	if d.Problem != "" {
		b.WriteString(" • " + d.Problem)
	}
	fmt.Fprintf(&b, "\nPlan: %s", orUnspecified(d.Plan))
	if d.ETA != nil {
		b.WriteString(" • ETA: " + d.ETA.UTC().Format(etaLayout))
	}
	fmt.Fprintf(&b, "\nBy: %s", by)
	return b.String()
}

// ClosedCaption renders the group announcement for a closed ticket.
func ClosedCaption(id int64, by string) string {
	return fmt.Sprintf("✅ #%d • Closed • by %s", id, by)
}

// StatusLabel renders a status token for humans.
func StatusLabel(s protocol.Status) string {
	return strings.ReplaceAll(string(s), "_", " ")
}

// DisplayName renders a user reference, preferring the username.
func DisplayName(u protocol.User) string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return strconv.FormatInt(u.ID, 10)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func orUnspecified(s string) string {
	if s == "" {
		return "Unspecified"
	}
	return s
}
