package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/fleetbot-io/fleetbot/internal/access"
	"github.com/fleetbot-io/fleetbot/internal/flow"
	"github.com/fleetbot-io/fleetbot/internal/gateway"
	"github.com/fleetbot-io/fleetbot/internal/store"
	"github.com/fleetbot-io/fleetbot/internal/ticket"
	"github.com/fleetbot-io/fleetbot/pkg/protocol"
)

const helpText = `Commands:
/new - create a repair report
/my - list your open tickets
/update [id] - update a ticket
/close [id] - close a ticket
/status <id> <status> - set status directly
/eta <id> <time> - set ETA directly
/snooze <id> [hours] - pause reminders
/addphoto <id> - attach photos
/submit - finish the current flow
/cancel - abandon the current flow`

// Dispatcher routes inbound updates: it gates access, answers direct
// commands itself and hands session-stateful input to the flow engine.
// It never returns an error to the transport; a malformed or denied
// update is handled (or dropped) here so the webhook can always ack.
type Dispatcher struct {
	gate    *access.Gate
	flows   *flow.Engine
	tickets *ticket.Manager
	gw      gateway.Gateway
	logger  *slog.Logger
}

// New creates a dispatcher.
func New(gate *access.Gate, flows *flow.Engine, tm *ticket.Manager, gw gateway.Gateway, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{gate: gate, flows: flows, tickets: tm, gw: gw, logger: logger}
}

// HandleUpdate processes one inbound update.
func (d *Dispatcher) HandleUpdate(ctx context.Context, u *protocol.Update) {
	switch {
	case u == nil:
	case u.CallbackQuery != nil:
		d.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		d.handleMessage(ctx, u.Message)
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, m *protocol.Message) {
	// Group chats only receive announcements; the bot converses in
	// private chats.
	if m.Chat.Type != "private" {
		return
	}
	user := m.From
	chatID := m.Chat.ID
	if !d.gate.Allowed(user.ID, user.Username) {
		d.logger.Info("access denied", "user", user.ID, "username", user.Username)
		d.send(ctx, chatID, "Access denied.", nil)
		return
	}

	if len(m.Photo) > 0 {
		d.flows.HandlePhoto(ctx, user, chatID, m.LargestPhoto())
		return
	}

	text := strings.TrimSpace(m.Text)
	if strings.HasPrefix(text, "/") {
		d.handleCommand(ctx, user, chatID, text)
		return
	}
	if d.handleAlias(ctx, user, chatID, text) {
		return
	}
	if d.flows.HandleText(ctx, user, chatID, text) {
		return
	}
	d.send(ctx, chatID, "Use the menu:", flow.MainMenu())
}

// handleAlias matches plain-text phrases that mirror the menu buttons.
func (d *Dispatcher) handleAlias(ctx context.Context, user protocol.User, chatID int64, text string) bool {
	switch strings.ToLower(text) {
	case "create report", "new report":
		d.flows.StartCreate(ctx, user, chatID)
	case "update status":
		d.flows.StartUpdate(ctx, user, chatID)
	case "close report":
		d.flows.StartClose(ctx, user, chatID)
	case "my open tickets", "my tickets":
		d.listMine(ctx, user, chatID)
	default:
		return false
	}
	return true
}

func (d *Dispatcher) handleCommand(ctx context.Context, user protocol.User, chatID int64, text string) {
	fields := strings.Fields(text)
	cmd := strings.ToLower(fields[0])
	// Strip the @botname suffix Telegram appends in some clients.
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	switch cmd {
	case "/start":
		d.send(ctx, chatID, "Fleet repair bot. What do you need?", flow.MainMenu())
	case "/help":
		d.send(ctx, chatID, helpText, flow.MainMenu())
	case "/new":
		d.flows.StartCreate(ctx, user, chatID)
	case "/submit":
		d.flows.Submit(ctx, user, chatID)
	case "/cancel":
		d.flows.Cancel(ctx, user, chatID)
	case "/my":
		d.listMine(ctx, user, chatID)
	case "/update":
		if id, ok := argID(args, 0); ok {
			d.flows.StartUpdateFor(ctx, user, chatID, id)
			return
		}
		d.flows.StartUpdate(ctx, user, chatID)
	case "/close":
		if id, ok := argID(args, 0); ok {
			d.flows.StartCloseFor(ctx, user, chatID, id)
			return
		}
		d.flows.StartClose(ctx, user, chatID)
	case "/status":
		d.cmdStatus(ctx, user, chatID, args)
	case "/eta":
		d.cmdETA(ctx, user, chatID, args)
	case "/snooze":
		d.cmdSnooze(ctx, user, chatID, args)
	case "/addphoto":
		if id, ok := argID(args, 0); ok {
			d.flows.StartAddPhotos(ctx, user, chatID, id)
			return
		}
		d.send(ctx, chatID, "Usage: /addphoto <id>", nil)
	default:
		d.send(ctx, chatID, helpText, flow.MainMenu())
	}
}

func (d *Dispatcher) cmdStatus(ctx context.Context, user protocol.User, chatID int64, args []string) {
	id, ok := argID(args, 0)
	if !ok || len(args) < 2 {
		d.send(ctx, chatID, "Usage: /status <id> <new|in_progress|awaiting_parts|vendor_scheduled|done>", nil)
		return
	}
	status := protocol.Status(strings.ToLower(args[1]))
	if !protocol.ValidStatus(status) {
		d.send(ctx, chatID, fmt.Sprintf("Unknown status %q.", args[1]), nil)
		return
	}
	if err := d.tickets.SetStatus(id, status, userID(user)); err != nil {
		d.replyError(ctx, chatID, id, err)
		return
	}
	if status == protocol.StatusDone {
		d.send(ctx, chatID, fmt.Sprintf("Ticket #%d closed.", id), nil)
		return
	}
	d.send(ctx, chatID, fmt.Sprintf("Ticket #%d → %s.", id, gateway.StatusLabel(status)), nil)
}

func (d *Dispatcher) cmdETA(ctx context.Context, user protocol.User, chatID int64, args []string) {
	id, ok := argID(args, 0)
	if !ok || len(args) < 2 {
		d.send(ctx, chatID, "Usage: /eta <id> <YYYY-MM-DD HH:MM | today | +24h | +48h>", nil)
		return
	}
	ts, err := flow.ParseETA(strings.Join(args[1:], " "), time.Now().UTC())
	if err != nil {
		d.send(ctx, chatID, "Couldn't read that time. Use YYYY-MM-DD HH:MM.", nil)
		return
	}
	if err := d.tickets.SetETA(id, &ts, userID(user)); err != nil {
		d.replyError(ctx, chatID, id, err)
		return
	}
	d.send(ctx, chatID, fmt.Sprintf("ETA for #%d updated to %s.", id, ts.Format("2006-01-02 15:04")), nil)
}

func (d *Dispatcher) cmdSnooze(ctx context.Context, user protocol.User, chatID int64, args []string) {
	id, ok := argID(args, 0)
	if !ok {
		d.send(ctx, chatID, "Usage: /snooze <id> [hours]", nil)
		return
	}
	hours := 2
	if len(args) > 1 {
		h, err := strconv.Atoi(args[1])
		if err != nil || h <= 0 {
			d.send(ctx, chatID, "Hours must be a positive number.", nil)
			return
		}
		hours = h
	}
	until, err := d.tickets.Snooze(id, hours, userID(user))
	if err != nil {
		d.replyError(ctx, chatID, id, err)
		return
	}
	d.send(ctx, chatID, fmt.Sprintf("Ticket #%d snoozed until %s.", id, until.Format("2006-01-02 15:04")), nil)
}

func (d *Dispatcher) listMine(ctx context.Context, user protocol.User, chatID int64) {
	open, err := d.tickets.ListOpen(userID(user), 15)
	if err != nil {
		d.logger.Error("open ticket list failed", "user", user.ID, "error", err)
		d.send(ctx, chatID, "Something went wrong. Please try again.", nil)
		return
	}
	if len(open) == 0 {
		d.send(ctx, chatID, "No open tickets.", flow.MainMenu())
		return
	}
	lines := make([]string, 0, len(open))
	for _, t := range open {
		lines = append(lines, gateway.TicketLine(t))
	}
	d.send(ctx, chatID, strings.Join(lines, "\n"), flow.MainMenu())
}

func (d *Dispatcher) handleCallback(ctx context.Context, cb *protocol.CallbackQuery) {
	user := cb.From
	chatID := cb.ChatID()

	// Always answer so the client stops its loading spinner, even on a
	// denied or unknown press.
	defer func() {
		if err := d.gw.AnswerCallback(ctx, cb.ID, ""); err != nil {
			d.logger.Warn("callback answer failed", "error", err)
		}
	}()

	if !d.gate.Allowed(user.ID, user.Username) {
		d.logger.Info("access denied", "user", user.ID, "username", user.Username)
		return
	}

	switch cb.Data {
	case "cmd:new":
		d.flows.StartCreate(ctx, user, chatID)
	case "cmd:update":
		d.flows.StartUpdate(ctx, user, chatID)
	case "cmd:close":
		d.flows.StartClose(ctx, user, chatID)
	case "cmd:my":
		d.listMine(ctx, user, chatID)
	default:
		d.flows.HandleCallback(ctx, user, chatID, cb.Data)
	}
}

func (d *Dispatcher) replyError(ctx context.Context, chatID, ticketID int64, err error) {
	if errors.Is(err, store.ErrNotFound) {
		d.send(ctx, chatID, fmt.Sprintf("No ticket #%d.", ticketID), nil)
		return
	}
	d.logger.Error("ticket op failed", "ticket", ticketID, "error", err)
	d.send(ctx, chatID, "Something went wrong. Please try again.", nil)
}

func (d *Dispatcher) send(ctx context.Context, chatID int64, text string, kb gateway.Keyboard) {
	if err := d.gw.SendText(ctx, chatID, text, kb); err != nil {
		d.logger.Error("send failed", "chat", chatID, "error", err)
	}
}

func argID(args []string, i int) (int64, bool) {
	if len(args) <= i {
		return 0, false
	}
	s := strings.TrimPrefix(args[i], "#")
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func userID(u protocol.User) string {
	return strconv.FormatInt(u.ID, 10)
}
