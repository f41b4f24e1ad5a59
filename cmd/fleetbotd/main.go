package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/fleetbot-io/fleetbot/internal/access"
	apiPkg "github.com/fleetbot-io/fleetbot/internal/api"
	"github.com/fleetbot-io/fleetbot/internal/bot"
	"github.com/fleetbot-io/fleetbot/internal/config"
	"github.com/fleetbot-io/fleetbot/internal/flow"
	"github.com/fleetbot-io/fleetbot/internal/gateway"
	"github.com/fleetbot-io/fleetbot/internal/logbuf"
	"github.com/fleetbot-io/fleetbot/internal/reminder"
	"github.com/fleetbot-io/fleetbot/internal/store"
	"github.com/fleetbot-io/fleetbot/internal/ticket"
	"github.com/fleetbot-io/fleetbot/pkg/protocol"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	ring := logbuf.NewRing(2000)
	var inner slog.Handler
	if os.Getenv("FLEETBOT_LOG_FORMAT") == "text" {
		inner = tint.NewHandler(os.Stderr, &tint.Options{Level: logLevel, TimeFormat: time.Kitchen})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(logbuf.NewTee(inner, ring))

	// Load config (file or env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("fleetbotd starting", "data_dir", cfg.Store.DataDir)

	// 1. Open the store
	if err := os.MkdirAll(cfg.Store.DataDir, 0o755); err != nil {
		logger.Error("failed to create data dir", "path", cfg.Store.DataDir, "error", err)
		os.Exit(1)
	}
	dbPath := filepath.Join(cfg.Store.DataDir, "fleetbot.db")
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		logger.Error("failed to open store", "path", dbPath, "error", err)
		os.Exit(1)
	}

	// 2. Chat gateway and group announcer
	gw, err := gateway.NewTelegram(cfg.Bot.Token, logger.With("component", "telegram"))
	if err != nil {
		logger.Error("failed to init telegram", "error", err)
		os.Exit(1)
	}
	ann := &gateway.Announcer{GW: gw, ChatID: cfg.Bot.GroupChatID, Logger: logger.With("component", "announcer")}

	// 3. Domain wiring
	tickets := ticket.NewManager(st, logger.With("component", "tickets"))
	gate := access.New(cfg.Access.AllowAll, cfg.Access.Usernames, cfg.Access.UserIDs)
	flows := flow.New(st, tickets, gw, ann, logger.With("component", "flow"))
	dispatcher := bot.New(gate, flows, tickets, gw, logger.With("component", "bot"))

	sched := reminder.New(tickets, gw, reminder.Config{
		Interval:     time.Duration(cfg.Reminders.IntervalMinutes) * time.Minute,
		QuietStart:   cfg.Reminders.QuietStartHour,
		QuietEnd:     cfg.Reminders.QuietEndHour,
		DedupeWindow: time.Duration(cfg.Reminders.DedupeMinutes) * time.Minute,
		PageSize:     cfg.Reminders.PageSize,
		SendDelay:    time.Duration(cfg.Reminders.SendDelayMillis) * time.Millisecond,
	}, logger.With("component", "reminder"))

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Inbound delivery: webhook by default, long polling when asked
	if cfg.Bot.Poll {
		go safeGo(logger, "telegram-poll", func() {
			gw.Poll(ctx, dispatcher.HandleUpdate)
		})
	}

	go safeGo(logger, "reminder", func() { sched.Start(ctx) })

	// 5. API server (webhook, cron trigger, inspection)
	svc := &botService{dispatcher: dispatcher, sched: sched, tickets: tickets}
	apiSrv := apiPkg.NewServer(svc, apiPkg.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
		Key:  cfg.API.Key,
	}, logger.With("component", "api"), ring)
	go safeGo(logger, "api-server", func() { apiSrv.Start(ctx) })
	logger.Info("api server started", "port", cfg.API.Port)

	// 6. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	logger.Info("fleetbotd stopped")
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}

// botService implements api.BotService over the dispatcher, scheduler
// and ticket manager.
type botService struct {
	dispatcher *bot.Dispatcher
	sched      *reminder.Scheduler
	tickets    *ticket.Manager
}

func (s *botService) HandleUpdate(ctx context.Context, u *protocol.Update) {
	s.dispatcher.HandleUpdate(ctx, u)
}

func (s *botService) Sweep(ctx context.Context) (int, error) {
	return s.sched.Sweep(ctx)
}

func (s *botService) ListOpen(owner string, limit int) ([]*protocol.Ticket, error) {
	return s.tickets.ListOpen(owner, limit)
}

func (s *botService) GetTicket(id int64) (*protocol.Ticket, error) {
	return s.tickets.Get(id)
}

func (s *botService) Events(id int64) ([]*protocol.Event, error) {
	return s.tickets.Events(id)
}
