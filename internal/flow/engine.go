package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fleetbot-io/fleetbot/internal/gateway"
	"github.com/fleetbot-io/fleetbot/internal/store"
	"github.com/fleetbot-io/fleetbot/internal/ticket"
	"github.com/fleetbot-io/fleetbot/pkg/protocol"
)

// pickLimit bounds how many tickets a pick keyboard offers.
const pickLimit = 15

// Engine drives the per-user conversational flows. Each input is mapped
// against the user's current session state to a draft mutation, the next
// state and an outbound prompt; input that does not fit the state's
// grammar re-prompts without mutating anything. All handling for one
// user is serialized through a per-user lock so redelivered updates
// cannot interleave half-applied transitions.
type Engine struct {
	store   store.Store
	tickets *ticket.Manager
	gw      gateway.Gateway
	ann     *gateway.Announcer
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a flow engine.
func New(st store.Store, tm *ticket.Manager, gw gateway.Gateway, ann *gateway.Announcer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   st,
		tickets: tm,
		gw:      gw,
		ann:     ann,
		logger:  logger,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (e *Engine) userLock(userID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[userID] = l
	}
	return l
}

// StartCreate begins the create flow, replacing any session the user
// had: the last stated intent wins.
func (e *Engine) StartCreate(ctx context.Context, user protocol.User, chatID int64) {
	id := uid(user)
	l := e.userLock(id)
	l.Lock()
	defer l.Unlock()

	d := protocol.Draft{AssetType: protocol.AssetUnspecified, NeedsPhotos: true}
	e.advance(ctx, id, chatID, protocol.StateCreateAsset, d, promptAsset, assetKeyboard())
}

// StartUpdate begins the update flow by offering the user's open
// tickets to pick from.
func (e *Engine) StartUpdate(ctx context.Context, user protocol.User, chatID int64) {
	e.startPick(ctx, user, chatID, protocol.StateUpdatePick, "Select ticket to update:", "upd:pick:")
}

// StartClose begins the close flow by offering the user's open tickets
// to pick from.
func (e *Engine) StartClose(ctx context.Context, user protocol.User, chatID int64) {
	e.startPick(ctx, user, chatID, protocol.StateClosePick, "Select ticket to close:", "close:pick:")
}

func (e *Engine) startPick(ctx context.Context, user protocol.User, chatID int64, state protocol.State, prompt, prefix string) {
	id := uid(user)
	open, err := e.tickets.ListOpen(id, pickLimit)
	if err != nil {
		e.logger.Error("open ticket list failed", "user", id, "error", err)
		e.send(ctx, chatID, msgSaveFailed, nil)
		return
	}
	if len(open) == 0 {
		e.send(ctx, chatID, msgNoOpen, MainMenu())
		return
	}

	l := e.userLock(id)
	l.Lock()
	defer l.Unlock()
	e.advance(ctx, id, chatID, state, protocol.Draft{}, prompt, pickKeyboard(open, prefix))
}

// StartUpdateFor jumps straight to the update menu for a known ticket.
func (e *Engine) StartUpdateFor(ctx context.Context, user protocol.User, chatID int64, ticketID int64) {
	id := uid(user)
	l := e.userLock(id)
	l.Lock()
	defer l.Unlock()
	e.openUpdateMenu(ctx, id, chatID, ticketID)
}

// StartCloseFor jumps straight to the closing-photos step for a known
// ticket.
func (e *Engine) StartCloseFor(ctx context.Context, user protocol.User, chatID int64, ticketID int64) {
	id := uid(user)
	l := e.userLock(id)
	l.Lock()
	defer l.Unlock()
	e.openClosePhotos(ctx, id, chatID, ticketID)
}

// StartAddPhotos puts the user into the attach-photos state for a known
// ticket.
func (e *Engine) StartAddPhotos(ctx context.Context, user protocol.User, chatID int64, ticketID int64) {
	id := uid(user)
	l := e.userLock(id)
	l.Lock()
	defer l.Unlock()

	if !e.requireTicket(ctx, id, chatID, ticketID) {
		return
	}
	e.advance(ctx, id, chatID, protocol.StateUpdateAddPhotos, protocol.Draft{TicketID: ticketID}, promptSendPhoto, nil)
}

// Cancel abandons the user's active flow, if any.
func (e *Engine) Cancel(ctx context.Context, user protocol.User, chatID int64) {
	id := uid(user)
	l := e.userLock(id)
	l.Lock()
	defer l.Unlock()

	ses := e.session(id)
	if ses == nil || ses.State == protocol.StateIdle {
		e.send(ctx, chatID, "Nothing to cancel.", MainMenu())
		return
	}
	e.endFlow(id)
	e.send(ctx, chatID, "Okay, cancelled.", MainMenu())
}

// Submit finalizes the active flow when it is at a submittable step.
func (e *Engine) Submit(ctx context.Context, user protocol.User, chatID int64) {
	id := uid(user)
	l := e.userLock(id)
	l.Lock()
	defer l.Unlock()

	ses := e.session(id)
	if ses == nil {
		e.send(ctx, chatID, "Nothing to submit.", MainMenu())
		return
	}
	switch ses.State {
	case protocol.StateCreatePhotos:
		e.submitCreate(ctx, user, chatID, ses.Draft)
	case protocol.StateClosePhotos:
		e.submitClose(ctx, user, chatID, ses.Draft)
	default:
		e.send(ctx, chatID, "Nothing to submit yet. Finish the current step first.", nil)
	}
}

// HandleText feeds a text message into the active flow. It reports
// false when the user has no active flow, so the caller can fall back
// to the main menu.
func (e *Engine) HandleText(ctx context.Context, user protocol.User, chatID int64, raw string) bool {
	id := uid(user)
	l := e.userLock(id)
	l.Lock()
	defer l.Unlock()

	ses := e.session(id)
	if ses == nil || ses.State == protocol.StateIdle {
		return false
	}
	d := ses.Draft
	text := strings.TrimSpace(raw)
	skip := strings.EqualFold(text, "skip")

	switch ses.State {
	case protocol.StateCreateAsset:
		switch strings.ToLower(text) {
		case "truck", "trailer", "skip":
			e.setAsset(ctx, id, chatID, d, strings.ToLower(text))
		default:
			e.send(ctx, chatID, promptAsset, assetKeyboard())
		}

	case protocol.StateCreateAssetID:
		if !skip {
			d.AssetID = text
		}
		e.advance(ctx, id, chatID, protocol.StateCreateProblem, d, promptProblem, nil)

	case protocol.StateCreateProblem:
		if !skip {
			d.Problem = text
		}
		e.advance(ctx, id, chatID, protocol.StateCreatePlan, d, promptPlan, nil)

	case protocol.StateCreatePlan:
		if !skip {
			d.Plan = text
		}
		e.advance(ctx, id, chatID, protocol.StateCreateETA, d, promptETA, etaKeyboard())

	case protocol.StateCreateETA:
		if skip {
			d.ETA = nil
			e.advance(ctx, id, chatID, protocol.StateCreatePhotos, d, promptPhotos, photosKeyboard())
			break
		}
		ts, err := ParseETA(text, e.now().UTC())
		if err != nil {
			e.send(ctx, chatID, promptBadETA, etaKeyboard())
			break
		}
		d.ETA = &ts
		e.advance(ctx, id, chatID, protocol.StateCreatePhotos, d, promptPhotos, photosKeyboard())

	case protocol.StateCreateETASet:
		ts, err := ParseETA(text, e.now().UTC())
		if err != nil {
			e.send(ctx, chatID, promptBadETA, nil)
			break
		}
		d.ETA = &ts
		e.advance(ctx, id, chatID, protocol.StateCreatePhotos, d, promptPhotos, photosKeyboard())

	case protocol.StateCreatePhotos:
		if skip {
			d.NeedsPhotos = true
			e.submitCreate(ctx, user, chatID, d)
			break
		}
		if strings.EqualFold(text, "submit") {
			e.submitCreate(ctx, user, chatID, d)
			break
		}
		e.send(ctx, chatID, promptPhotos, photosKeyboard())

	case protocol.StateUpdatePick, protocol.StateClosePick:
		tid, err := parseTicketRef(text)
		if err != nil {
			e.send(ctx, chatID, guidance(ses.State), nil)
			break
		}
		if ses.State == protocol.StateUpdatePick {
			e.openUpdateMenu(ctx, id, chatID, tid)
		} else {
			e.openClosePhotos(ctx, id, chatID, tid)
		}

	case protocol.StateUpdateMenu:
		e.send(ctx, chatID, guidance(ses.State), updateMenuKeyboard())

	case protocol.StateUpdateETASet:
		ts, err := ParseETA(text, e.now().UTC())
		if err != nil {
			e.send(ctx, chatID, promptBadETA, nil)
			break
		}
		if err := e.tickets.SetETA(d.TicketID, &ts, id); err != nil {
			e.logger.Error("eta update failed", "ticket", d.TicketID, "error", err)
			e.send(ctx, chatID, msgSaveFailed, nil)
			break
		}
		e.endFlow(id)
		e.send(ctx, chatID, fmt.Sprintf("ETA for #%d updated to %s.", d.TicketID, ts.Format(etaLayout)), MainMenu())

	case protocol.StateUpdateAddPhotos:
		e.send(ctx, chatID, promptSendPhoto, nil)

	case protocol.StateClosePhotos:
		if skip || strings.EqualFold(text, "close") {
			e.submitClose(ctx, user, chatID, d)
			break
		}
		e.send(ctx, chatID, guidance(ses.State), closePhotosKeyboard())
	}
	return true
}

// HandlePhoto feeds an inbound photo into the active flow.
func (e *Engine) HandlePhoto(ctx context.Context, user protocol.User, chatID int64, fileID string) {
	id := uid(user)
	l := e.userLock(id)
	l.Lock()
	defer l.Unlock()

	ses := e.session(id)
	if ses == nil || ses.State == protocol.StateIdle {
		e.send(ctx, chatID, msgUseMenu, MainMenu())
		return
	}
	d := ses.Draft

	switch ses.State {
	case protocol.StateCreatePhotos:
		d.Photos = append(d.Photos, fileID)
		d.NeedsPhotos = false
		if e.transition(id, ses.State, d) {
			e.send(ctx, chatID, "Photo added. Send more or press Submit.", photosKeyboard())
		} else {
			e.send(ctx, chatID, msgSaveFailed, nil)
		}

	case protocol.StateClosePhotos:
		d.Photos = append(d.Photos, fileID)
		if e.transition(id, ses.State, d) {
			e.send(ctx, chatID, "Photo added. Send more or press Close now.", closePhotosKeyboard())
		} else {
			e.send(ctx, chatID, msgSaveFailed, nil)
		}

	case protocol.StateUpdateAddPhotos:
		if err := e.tickets.AddPhoto(d.TicketID, fileID, false, id); err != nil {
			e.logger.Error("photo attach failed", "ticket", d.TicketID, "error", err)
			e.send(ctx, chatID, msgSaveFailed, nil)
			return
		}
		e.endFlow(id)
		e.send(ctx, chatID, fmt.Sprintf("Photo attached to #%d.", d.TicketID), MainMenu())

	default:
		e.send(ctx, chatID, guidance(ses.State), nil)
	}
}

// session returns the user's session, or nil when none exists.
func (e *Engine) session(userID string) *protocol.Session {
	ses, err := e.store.GetSession(userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.logger.Error("session load failed", "user", userID, "error", err)
		}
		return nil
	}
	return ses
}

func (e *Engine) transition(userID string, state protocol.State, d protocol.Draft) bool {
	err := e.store.PutSession(&protocol.Session{
		UserID:    userID,
		State:     state,
		Draft:     d,
		UpdatedAt: e.now().UTC(),
	})
	if err != nil {
		e.logger.Error("session save failed", "user", userID, "state", string(state), "error", err)
		return false
	}
	return true
}

// advance persists the next state and sends its prompt. On a failed
// save the user sees an error and the old state stays in place.
func (e *Engine) advance(ctx context.Context, userID string, chatID int64, next protocol.State, d protocol.Draft, prompt string, kb gateway.Keyboard) {
	if !e.transition(userID, next, d) {
		e.send(ctx, chatID, msgSaveFailed, nil)
		return
	}
	e.send(ctx, chatID, prompt, kb)
}

func (e *Engine) endFlow(userID string) {
	if err := e.store.DeleteSession(userID); err != nil {
		e.logger.Error("session delete failed", "user", userID, "error", err)
	}
}

func (e *Engine) send(ctx context.Context, chatID int64, text string, kb gateway.Keyboard) {
	if err := e.gw.SendText(ctx, chatID, text, kb); err != nil {
		e.logger.Error("send failed", "chat", chatID, "error", err)
	}
}

func (e *Engine) setAsset(ctx context.Context, userID string, chatID int64, d protocol.Draft, choice string) {
	label := "asset"
	switch choice {
	case "truck":
		d.AssetType = protocol.AssetTruck
		label = "Truck"
	case "trailer":
		d.AssetType = protocol.AssetTrailer
		label = "Trailer"
	default:
		d.AssetType = protocol.AssetUnspecified
	}
	e.advance(ctx, userID, chatID, protocol.StateCreateAssetID, d,
		fmt.Sprintf("Enter %s # (or type Skip).", label), nil)
}

// requireTicket verifies the ticket exists before a flow references it.
func (e *Engine) requireTicket(ctx context.Context, userID string, chatID int64, ticketID int64) bool {
	if _, err := e.tickets.Get(ticketID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.send(ctx, chatID, fmt.Sprintf("No ticket #%d.", ticketID), nil)
		} else {
			e.logger.Error("ticket load failed", "ticket", ticketID, "error", err)
			e.send(ctx, chatID, msgSaveFailed, nil)
		}
		return false
	}
	return true
}

func (e *Engine) openUpdateMenu(ctx context.Context, userID string, chatID int64, ticketID int64) {
	if !e.requireTicket(ctx, userID, chatID, ticketID) {
		return
	}
	e.advance(ctx, userID, chatID, protocol.StateUpdateMenu, protocol.Draft{TicketID: ticketID},
		fmt.Sprintf("Update ticket #%d:", ticketID), updateMenuKeyboard())
}

func (e *Engine) openClosePhotos(ctx context.Context, userID string, chatID int64, ticketID int64) {
	if !e.requireTicket(ctx, userID, chatID, ticketID) {
		return
	}
	e.advance(ctx, userID, chatID, protocol.StateClosePhotos, protocol.Draft{TicketID: ticketID},
		fmt.Sprintf("Attach completion photos for #%d, or press Close now.", ticketID), closePhotosKeyboard())
}

func (e *Engine) submitCreate(ctx context.Context, user protocol.User, chatID int64, d protocol.Draft) {
	id := uid(user)
	tid, err := e.tickets.Create(d, id)
	if err != nil {
		// Keep the session so the user can retry the submit.
		e.logger.Error("ticket create failed", "user", id, "error", err)
		e.send(ctx, chatID, msgSaveFailed, nil)
		return
	}
	e.endFlow(id)

	var first string
	if len(d.Photos) > 0 {
		first = d.Photos[0]
	}
	e.ann.Announce(ctx, gateway.CreatedCaption(tid, d, gateway.DisplayName(user)), first)
	e.send(ctx, chatID, fmt.Sprintf("Ticket #%d created.", tid), MainMenu())
}

func (e *Engine) submitClose(ctx context.Context, user protocol.User, chatID int64, d protocol.Draft) {
	id := uid(user)
	for _, fileID := range d.Photos {
		if err := e.tickets.AddPhoto(d.TicketID, fileID, true, id); err != nil {
			e.logger.Error("final photo attach failed", "ticket", d.TicketID, "error", err)
		}
	}
	if err := e.tickets.SetStatus(d.TicketID, protocol.StatusDone, id); err != nil {
		e.logger.Error("ticket close failed", "ticket", d.TicketID, "error", err)
		e.send(ctx, chatID, msgSaveFailed, nil)
		return
	}
	e.endFlow(id)

	var first string
	if len(d.Photos) > 0 {
		first = d.Photos[0]
	}
	e.ann.Announce(ctx, gateway.ClosedCaption(d.TicketID, gateway.DisplayName(user)), first)
	e.send(ctx, chatID, fmt.Sprintf("Ticket #%d closed.", d.TicketID), MainMenu())
}

func uid(u protocol.User) string {
	return strconv.FormatInt(u.ID, 10)
}

// parseTicketRef accepts "#12" or "12".
func parseTicketRef(s string) (int64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("flow: bad ticket ref %q", s)
	}
	return id, nil
}
