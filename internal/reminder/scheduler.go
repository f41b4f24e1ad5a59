package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fleetbot-io/fleetbot/internal/gateway"
	"github.com/fleetbot-io/fleetbot/internal/ticket"
	"github.com/fleetbot-io/fleetbot/pkg/protocol"
)

// Config tunes the reminder sweep.
type Config struct {
	Interval     time.Duration // how often the sweep runs
	QuietStart   int           // first quiet hour, UTC, inclusive
	QuietEnd     int           // last quiet hour, UTC, inclusive
	DedupeWindow time.Duration // minimum gap between reminders per ticket
	PageSize     int           // open tickets examined per sweep
	SendDelay    time.Duration // pause between consecutive sends
}

// Scheduler periodically nags owners of open tickets. Sweeps are
// single-flight: a tick that fires while the previous sweep is still
// sending is skipped rather than queued.
type Scheduler struct {
	tickets *ticket.Manager
	gw      gateway.Gateway
	cfg     Config
	logger  *slog.Logger
	cron    *cron.Cron

	sweepMu sync.Mutex
	now     func() time.Time
	sleep   func(time.Duration)
}

// New creates a scheduler.
func New(tm *ticket.Manager, gw gateway.Gateway, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		tickets: tm,
		gw:      gw,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		sleep:   time.Sleep,
	}
}

// Start runs the sweep on the configured interval until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New()
	spec := fmt.Sprintf("@every %s", s.cfg.Interval)
	_, err := c.AddFunc(spec, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("reminder sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("reminder: schedule %q: %w", spec, err)
	}
	s.cron = c
	c.Start()
	s.logger.Info("reminder scheduler started", "interval", s.cfg.Interval.String())

	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// Sweep sends one reminder pass and returns how many were sent. It is
// safe to call concurrently with the cron tick; the overlapping caller
// gets (0, nil).
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	if !s.sweepMu.TryLock() {
		s.logger.Warn("reminder sweep already running, skipping")
		return 0, nil
	}
	defer s.sweepMu.Unlock()

	now := s.now().UTC()
	if s.quiet(now) {
		s.logger.Debug("reminder sweep in quiet hours", "hour", now.Hour())
		return 0, nil
	}

	open, err := s.tickets.OpenPage(s.cfg.PageSize)
	if err != nil {
		return 0, fmt.Errorf("reminder: list open: %w", err)
	}

	sent := 0
	for _, t := range open {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if !s.due(t, now) {
			continue
		}
		s.remind(ctx, t)
		// last_reminded_at is stamped whether or not the send succeeded,
		// so a persistently failing chat cannot starve the rest of the
		// sweep on every tick.
		if err := s.tickets.MarkReminded(t.ID, now); err != nil {
			s.logger.Error("reminder stamp failed", "ticket", t.ID, "error", err)
		}
		sent++
		if s.cfg.SendDelay > 0 {
			s.sleep(s.cfg.SendDelay)
		}
	}
	if sent > 0 {
		s.logger.Info("reminder sweep done", "examined", len(open), "sent", sent)
	}
	return sent, nil
}

// quiet reports whether the hour falls inside the quiet window, both
// ends inclusive. A window with start > end wraps past midnight.
func (s *Scheduler) quiet(now time.Time) bool {
	h := now.Hour()
	start, end := s.cfg.QuietStart, s.cfg.QuietEnd
	if start <= end {
		return h >= start && h <= end
	}
	return h >= start || h <= end
}

// due reports whether the ticket should be reminded now: not snoozed
// into the future and not already reminded within the dedupe window.
func (s *Scheduler) due(t *protocol.Ticket, now time.Time) bool {
	if t.SnoozeUntil != nil && t.SnoozeUntil.After(now) {
		return false
	}
	if t.LastRemindedAt != nil && now.Sub(*t.LastRemindedAt) < s.cfg.DedupeWindow {
		return false
	}
	return true
}

func (s *Scheduler) remind(ctx context.Context, t *protocol.Ticket) {
	owner, err := strconv.ParseInt(t.OwnerUserID, 10, 64)
	if err != nil {
		s.logger.Error("bad reminder owner", "ticket", t.ID, "owner", t.OwnerUserID)
		return
	}
	text := "⏰ Still open: " + gateway.TicketLine(t)
	if t.NeedsPhotos {
		text += "\nPhotos still needed."
	}
	if err := s.gw.SendText(ctx, owner, text, quickKeyboard(t.ID)); err != nil {
		s.logger.Warn("reminder send failed", "ticket", t.ID, "owner", owner, "error", err)
	}
}

// quickKeyboard lets the owner act on the reminder without re-entering
// a flow; the tokens carry the ticket id.
func quickKeyboard(id int64) gateway.Keyboard {
	tok := func(action string) string {
		return fmt.Sprintf("upd:quick:%d:%s", id, action)
	}
	return gateway.Keyboard{
		gateway.Row(gateway.Btn("In progress", tok("in_progress")), gateway.Btn("Awaiting parts", tok("awaiting_parts"))),
		gateway.Row(gateway.Btn("Vendor scheduled", tok("vendor_scheduled")), gateway.Btn("Done", tok("done"))),
		gateway.Row(gateway.Btn("Snooze 2h", tok("snooze")), gateway.Btn("Change ETA", tok("eta"))),
		gateway.Row(gateway.Btn("Add photos", tok("photos"))),
	}
}
