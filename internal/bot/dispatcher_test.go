package bot

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/fleetbot-io/fleetbot/internal/access"
	"github.com/fleetbot-io/fleetbot/internal/flow"
	"github.com/fleetbot-io/fleetbot/internal/gateway"
	"github.com/fleetbot-io/fleetbot/internal/store"
	"github.com/fleetbot-io/fleetbot/internal/ticket"
	"github.com/fleetbot-io/fleetbot/pkg/protocol"
)

type fakeGateway struct {
	texts    []string
	chats    []int64
	answered []string
}

func (g *fakeGateway) SendText(_ context.Context, chatID int64, text string, _ gateway.Keyboard) error {
	g.texts = append(g.texts, text)
	g.chats = append(g.chats, chatID)
	return nil
}

func (g *fakeGateway) SendPhoto(_ context.Context, chatID int64, _, caption string, _ gateway.Keyboard) error {
	g.texts = append(g.texts, caption)
	g.chats = append(g.chats, chatID)
	return nil
}

func (g *fakeGateway) AnswerCallback(_ context.Context, callbackID, _ string) error {
	g.answered = append(g.answered, callbackID)
	return nil
}

func (g *fakeGateway) last() string {
	if len(g.texts) == 0 {
		return ""
	}
	return g.texts[len(g.texts)-1]
}

func newTestDispatcher(t *testing.T, gate *access.Gate) (*Dispatcher, *fakeGateway, store.Store, *ticket.Manager) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	gw := &fakeGateway{}
	tm := ticket.NewManager(st, nil)
	flows := flow.New(st, tm, gw, &gateway.Announcer{}, nil)
	d := New(gate, flows, tm, gw, nil)
	return d, gw, st, tm
}

func allowAlice() *access.Gate {
	return access.New(false, []string{"alice"}, nil)
}

func msg(text string) *protocol.Update {
	return &protocol.Update{Message: &protocol.Message{
		Chat: protocol.Chat{ID: 42, Type: "private"},
		From: protocol.User{ID: 42, Username: "alice"},
		Text: text,
	}}
}

func callback(data string) *protocol.Update {
	return &protocol.Update{CallbackQuery: &protocol.CallbackQuery{
		ID:   "cb-1",
		From: protocol.User{ID: 42, Username: "alice"},
		Data: data,
		Message: &protocol.Message{
			Chat: protocol.Chat{ID: 42, Type: "private"},
		},
	}}
}

func TestDeniedUserGetsNoSession(t *testing.T) {
	d, gw, st, _ := newTestDispatcher(t, access.New(false, nil, nil))
	ctx := context.Background()

	d.HandleUpdate(ctx, msg("/new"))

	if gw.last() != "Access denied." {
		t.Errorf("reply = %q", gw.last())
	}
	if _, err := st.GetSession("42"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("denied user got a session: %v", err)
	}
}

func TestDeniedCallbackStillAnswered(t *testing.T) {
	d, gw, _, tm := newTestDispatcher(t, access.New(false, nil, nil))
	ctx := context.Background()

	id, _ := tm.Create(protocol.Draft{Problem: "x"}, "7")
	d.HandleUpdate(ctx, callback("upd:quick:1:done"))

	if len(gw.answered) != 1 {
		t.Fatalf("callback not answered: %v", gw.answered)
	}
	tk, _ := tm.Get(id)
	if tk.Status != protocol.StatusNew {
		t.Errorf("denied press mutated ticket: %s", tk.Status)
	}
}

func TestGroupMessagesIgnored(t *testing.T) {
	d, gw, _, _ := newTestDispatcher(t, allowAlice())
	ctx := context.Background()

	u := msg("/new")
	u.Message.Chat.Type = "group"
	d.HandleUpdate(ctx, u)

	if len(gw.texts) != 0 {
		t.Errorf("group message produced replies: %v", gw.texts)
	}
}

func TestStartShowsMenu(t *testing.T) {
	d, gw, _, _ := newTestDispatcher(t, allowAlice())
	d.HandleUpdate(context.Background(), msg("/start"))

	if len(gw.texts) != 1 || !strings.Contains(gw.last(), "Fleet repair bot") {
		t.Errorf("texts = %v", gw.texts)
	}
}

func TestNewCommandStartsCreateFlow(t *testing.T) {
	d, _, st, _ := newTestDispatcher(t, allowAlice())
	d.HandleUpdate(context.Background(), msg("/new"))

	ses, err := st.GetSession("42")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if ses.State != protocol.StateCreateAsset {
		t.Errorf("state = %q", ses.State)
	}
}

func TestCommandWithBotSuffix(t *testing.T) {
	d, _, st, _ := newTestDispatcher(t, allowAlice())
	d.HandleUpdate(context.Background(), msg("/new@fleetbot"))

	if _, err := st.GetSession("42"); err != nil {
		t.Fatalf("suffixed command not recognized: %v", err)
	}
}

func TestTextAliases(t *testing.T) {
	d, _, st, _ := newTestDispatcher(t, allowAlice())
	d.HandleUpdate(context.Background(), msg("Create Report"))

	ses, err := st.GetSession("42")
	if err != nil {
		t.Fatalf("alias did not start flow: %v", err)
	}
	if ses.State != protocol.StateCreateAsset {
		t.Errorf("state = %q", ses.State)
	}
}

func TestStatusCommandClosesTicket(t *testing.T) {
	d, _, _, tm := newTestDispatcher(t, allowAlice())
	ctx := context.Background()

	id, _ := tm.Create(protocol.Draft{Problem: "leak"}, "42")
	d.HandleUpdate(ctx, msg("/status "+itoa(id)+" done"))

	tk, _ := tm.Get(id)
	if tk.Status != protocol.StatusDone {
		t.Fatalf("status = %s", tk.Status)
	}
	if tk.ClosedAt == nil || tk.ClosedByUserID != "42" {
		t.Errorf("close not stamped: %+v", tk)
	}

	events, _ := tm.Events(id)
	changes := 0
	for _, e := range events {
		if e.Action == protocol.ActionStatusChange {
			changes++
		}
	}
	if changes != 1 {
		t.Errorf("status_change events = %d, want 1", changes)
	}
}

func TestStatusCommandRejectsUnknown(t *testing.T) {
	d, gw, _, tm := newTestDispatcher(t, allowAlice())
	ctx := context.Background()

	id, _ := tm.Create(protocol.Draft{Problem: "leak"}, "42")
	d.HandleUpdate(ctx, msg("/status "+itoa(id)+" finished"))

	if !strings.Contains(gw.last(), "Unknown status") {
		t.Errorf("reply = %q", gw.last())
	}
	tk, _ := tm.Get(id)
	if tk.Status != protocol.StatusNew {
		t.Errorf("status mutated: %s", tk.Status)
	}
}

func TestEtaCommand(t *testing.T) {
	d, _, _, tm := newTestDispatcher(t, allowAlice())
	ctx := context.Background()

	id, _ := tm.Create(protocol.Draft{Problem: "leak"}, "42")
	d.HandleUpdate(ctx, msg("/eta "+itoa(id)+" 2026-06-01 10:00"))

	tk, _ := tm.Get(id)
	want := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	if tk.ETA == nil || !tk.ETA.Equal(want) {
		t.Fatalf("eta = %v", tk.ETA)
	}
}

func TestSnoozeCommandDefaultsTwoHours(t *testing.T) {
	d, _, _, tm := newTestDispatcher(t, allowAlice())
	ctx := context.Background()

	id, _ := tm.Create(protocol.Draft{Problem: "leak"}, "42")
	d.HandleUpdate(ctx, msg("/snooze "+itoa(id)))

	tk, _ := tm.Get(id)
	if tk.SnoozeUntil == nil {
		t.Fatal("no snooze")
	}
	if d := time.Until(*tk.SnoozeUntil); d < time.Hour || d > 3*time.Hour {
		t.Errorf("snooze window = %v", d)
	}
}

func TestMyListsOwnTicketsOnly(t *testing.T) {
	d, gw, _, tm := newTestDispatcher(t, allowAlice())
	ctx := context.Background()

	tm.Create(protocol.Draft{Problem: "mine"}, "42")
	tm.Create(protocol.Draft{Problem: "theirs"}, "7")

	d.HandleUpdate(ctx, msg("/my"))
	if !strings.Contains(gw.last(), "mine") || strings.Contains(gw.last(), "theirs") {
		t.Errorf("list = %q", gw.last())
	}
}

func TestUnknownCommandShowsHelp(t *testing.T) {
	d, gw, _, _ := newTestDispatcher(t, allowAlice())
	d.HandleUpdate(context.Background(), msg("/bogus"))

	if !strings.Contains(gw.last(), "/new") {
		t.Errorf("reply = %q", gw.last())
	}
}

func TestFreeTextWithoutFlowShowsMenu(t *testing.T) {
	d, gw, _, _ := newTestDispatcher(t, allowAlice())
	d.HandleUpdate(context.Background(), msg("hello there"))

	if !strings.Contains(gw.last(), "menu") {
		t.Errorf("reply = %q", gw.last())
	}
}

func TestCallbackRoutesToFlow(t *testing.T) {
	d, gw, st, _ := newTestDispatcher(t, allowAlice())
	ctx := context.Background()

	d.HandleUpdate(ctx, callback("cmd:new"))
	if len(gw.answered) != 1 {
		t.Fatalf("callback not answered: %v", gw.answered)
	}
	ses, err := st.GetSession("42")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if ses.State != protocol.StateCreateAsset {
		t.Errorf("state = %q", ses.State)
	}

	d.HandleUpdate(ctx, callback("new:asset:truck"))
	ses, _ = st.GetSession("42")
	if ses.State != protocol.StateCreateAssetID {
		t.Errorf("state after asset pick = %q", ses.State)
	}
}

func TestPhotoRoutedToFlow(t *testing.T) {
	d, _, st, _ := newTestDispatcher(t, allowAlice())
	ctx := context.Background()

	d.HandleUpdate(ctx, msg("/new"))
	d.HandleUpdate(ctx, msg("truck"))
	d.HandleUpdate(ctx, msg("T-3"))
	d.HandleUpdate(ctx, msg("leak"))
	d.HandleUpdate(ctx, msg("fix"))
	d.HandleUpdate(ctx, msg("skip"))

	u := msg("")
	u.Message.Photo = []protocol.PhotoSize{{FileID: "small"}, {FileID: "big"}}
	d.HandleUpdate(ctx, u)

	ses, err := st.GetSession("42")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(ses.Draft.Photos) != 1 || ses.Draft.Photos[0] != "big" {
		t.Errorf("photos = %v, want the largest variant", ses.Draft.Photos)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
