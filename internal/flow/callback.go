package flow

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fleetbot-io/fleetbot/internal/gateway"
	"github.com/fleetbot-io/fleetbot/pkg/protocol"
)

// HandleCallback feeds an inline button press into the active flow.
// Tokens are colon-delimited and namespaced by flow (new:, upd:,
// close:). A token that does not fit the user's current state
// re-prompts without mutating the session; upd:quick tokens come from
// reminder keyboards and need no prior session.
func (e *Engine) HandleCallback(ctx context.Context, user protocol.User, chatID int64, data string) {
	id := uid(user)
	l := e.userLock(id)
	l.Lock()
	defer l.Unlock()

	state := protocol.StateIdle
	var d protocol.Draft
	if ses := e.session(id); ses != nil {
		state = ses.State
		d = ses.Draft
	}
	parts := strings.Split(data, ":")

	switch {
	case len(parts) == 3 && parts[0] == "new" && parts[1] == "asset":
		if state != protocol.StateCreateAsset {
			e.rebuff(ctx, chatID, state)
			return
		}
		e.setAsset(ctx, id, chatID, d, parts[2])

	case len(parts) == 3 && parts[0] == "new" && parts[1] == "eta":
		if state != protocol.StateCreateETA {
			e.rebuff(ctx, chatID, state)
			return
		}
		e.setETAChoice(ctx, id, chatID, d, parts[2])

	case data == "new:photos:skip":
		if state != protocol.StateCreatePhotos {
			e.rebuff(ctx, chatID, state)
			return
		}
		d.NeedsPhotos = true
		e.submitCreate(ctx, user, chatID, d)

	case data == "new:submit":
		if state != protocol.StateCreatePhotos {
			e.rebuff(ctx, chatID, state)
			return
		}
		e.submitCreate(ctx, user, chatID, d)

	case len(parts) == 3 && parts[0] == "upd" && parts[1] == "pick":
		if state != protocol.StateUpdatePick {
			e.rebuff(ctx, chatID, state)
			return
		}
		tid, err := parseTicketRef(parts[2])
		if err != nil {
			e.logger.Debug("bad pick token", "data", data)
			return
		}
		e.openUpdateMenu(ctx, id, chatID, tid)

	case len(parts) == 3 && parts[0] == "upd" && parts[1] == "status":
		if state != protocol.StateUpdateMenu || d.TicketID == 0 {
			e.rebuff(ctx, chatID, state)
			return
		}
		e.endFlow(id)
		e.applyStatus(ctx, user, chatID, d.TicketID, protocol.Status(parts[2]))

	case data == "upd:snooze:2h":
		if state != protocol.StateUpdateMenu || d.TicketID == 0 {
			e.rebuff(ctx, chatID, state)
			return
		}
		e.endFlow(id)
		e.applySnooze(ctx, user, chatID, d.TicketID)

	case data == "upd:eta:set":
		if state != protocol.StateUpdateMenu || d.TicketID == 0 {
			e.rebuff(ctx, chatID, state)
			return
		}
		e.advance(ctx, id, chatID, protocol.StateUpdateETASet, protocol.Draft{TicketID: d.TicketID}, promptETAFormat, nil)

	case data == "upd:photos:add":
		if state != protocol.StateUpdateMenu || d.TicketID == 0 {
			e.rebuff(ctx, chatID, state)
			return
		}
		e.advance(ctx, id, chatID, protocol.StateUpdateAddPhotos, protocol.Draft{TicketID: d.TicketID}, promptSendPhoto, nil)

	case len(parts) == 4 && parts[0] == "upd" && parts[1] == "quick":
		e.quickAction(ctx, user, chatID, parts[2], parts[3])

	case len(parts) == 3 && parts[0] == "close" && parts[1] == "pick":
		if state != protocol.StateClosePick {
			e.rebuff(ctx, chatID, state)
			return
		}
		tid, err := parseTicketRef(parts[2])
		if err != nil {
			e.logger.Debug("bad pick token", "data", data)
			return
		}
		e.openClosePhotos(ctx, id, chatID, tid)

	case data == "close:photos:skip", data == "close:submit":
		if state != protocol.StateClosePhotos || d.TicketID == 0 {
			e.rebuff(ctx, chatID, state)
			return
		}
		e.submitClose(ctx, user, chatID, d)

	default:
		e.logger.Debug("unknown callback token", "data", data)
	}
}

// rebuff answers a stale or out-of-place button press by re-prompting
// for the state the user is actually in.
func (e *Engine) rebuff(ctx context.Context, chatID int64, state protocol.State) {
	if state == protocol.StateIdle {
		e.send(ctx, chatID, msgUseMenu, MainMenu())
		return
	}
	e.send(ctx, chatID, guidance(state), nil)
}

func (e *Engine) setETAChoice(ctx context.Context, userID string, chatID int64, d protocol.Draft, choice string) {
	switch choice {
	case "set":
		e.advance(ctx, userID, chatID, protocol.StateCreateETASet, d, promptETAFormat, nil)
		return
	case "skip":
		d.ETA = nil
	default:
		ts, err := ParseETA(choice, e.now().UTC())
		if err != nil {
			e.send(ctx, chatID, promptBadETA, etaKeyboard())
			return
		}
		d.ETA = &ts
	}
	e.advance(ctx, userID, chatID, protocol.StateCreatePhotos, d, promptPhotos, photosKeyboard())
}

func (e *Engine) applyStatus(ctx context.Context, user protocol.User, chatID int64, ticketID int64, status protocol.Status) {
	id := uid(user)
	if !protocol.ValidStatus(status) {
		e.send(ctx, chatID, "Unknown status.", nil)
		return
	}
	if err := e.tickets.SetStatus(ticketID, status, id); err != nil {
		e.logger.Error("status update failed", "ticket", ticketID, "error", err)
		e.send(ctx, chatID, msgSaveFailed, nil)
		return
	}
	if status == protocol.StatusDone {
		e.ann.Announce(ctx, gateway.ClosedCaption(ticketID, gateway.DisplayName(user)), "")
		e.send(ctx, chatID, fmt.Sprintf("Ticket #%d closed.", ticketID), MainMenu())
		return
	}
	e.send(ctx, chatID, fmt.Sprintf("Ticket #%d → %s.", ticketID, gateway.StatusLabel(status)), MainMenu())
}

func (e *Engine) applySnooze(ctx context.Context, user protocol.User, chatID int64, ticketID int64) {
	until, err := e.tickets.Snooze(ticketID, 2, uid(user))
	if err != nil {
		e.logger.Error("snooze failed", "ticket", ticketID, "error", err)
		e.send(ctx, chatID, msgSaveFailed, nil)
		return
	}
	e.send(ctx, chatID, fmt.Sprintf("Ticket #%d snoozed until %s.", ticketID, until.Format(etaLayout)), MainMenu())
}

// quickAction handles reminder keyboard buttons. They carry the ticket
// id in the token, so they work with no prior session; acting on one
// replaces whatever flow the user had open.
func (e *Engine) quickAction(ctx context.Context, user protocol.User, chatID int64, idToken, action string) {
	ticketID, err := strconv.ParseInt(idToken, 10, 64)
	if err != nil || ticketID <= 0 {
		e.logger.Debug("bad quick token", "ticket", idToken, "action", action)
		return
	}
	id := uid(user)

	switch action {
	case "in_progress", "awaiting_parts", "vendor_scheduled", "done":
		e.endFlow(id)
		e.applyStatus(ctx, user, chatID, ticketID, protocol.Status(action))
	case "snooze":
		e.endFlow(id)
		e.applySnooze(ctx, user, chatID, ticketID)
	case "eta":
		if !e.requireTicket(ctx, id, chatID, ticketID) {
			return
		}
		e.advance(ctx, id, chatID, protocol.StateUpdateETASet, protocol.Draft{TicketID: ticketID}, promptETAFormat, nil)
	case "photos":
		if !e.requireTicket(ctx, id, chatID, ticketID) {
			return
		}
		e.advance(ctx, id, chatID, protocol.StateUpdateAddPhotos, protocol.Draft{TicketID: ticketID}, promptSendPhoto, nil)
	default:
		e.logger.Debug("unknown quick action", "action", action)
	}
}
