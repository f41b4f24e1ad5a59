package flow

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/fleetbot-io/fleetbot/internal/gateway"
	"github.com/fleetbot-io/fleetbot/internal/store"
	"github.com/fleetbot-io/fleetbot/internal/ticket"
	"github.com/fleetbot-io/fleetbot/pkg/protocol"
)

type sent struct {
	chatID  int64
	text    string
	fileID  string
	kb      gateway.Keyboard
	isPhoto bool
}

type fakeGateway struct {
	msgs []sent
}

func (g *fakeGateway) SendText(_ context.Context, chatID int64, text string, kb gateway.Keyboard) error {
	g.msgs = append(g.msgs, sent{chatID: chatID, text: text, kb: kb})
	return nil
}

func (g *fakeGateway) SendPhoto(_ context.Context, chatID int64, fileID, caption string, kb gateway.Keyboard) error {
	g.msgs = append(g.msgs, sent{chatID: chatID, text: caption, fileID: fileID, kb: kb, isPhoto: true})
	return nil
}

func (g *fakeGateway) AnswerCallback(context.Context, string, string) error {
	return nil
}

func (g *fakeGateway) last() sent {
	if len(g.msgs) == 0 {
		return sent{}
	}
	return g.msgs[len(g.msgs)-1]
}

const groupChat = int64(-100)

func newTestEngine(t *testing.T) (*Engine, *fakeGateway, store.Store, *ticket.Manager) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	gw := &fakeGateway{}
	tm := ticket.NewManager(st, nil)
	ann := &gateway.Announcer{GW: gw, ChatID: groupChat}
	e := New(st, tm, gw, ann, nil)
	return e, gw, st, tm
}

var (
	alice     = protocol.User{ID: 42, Username: "alice"}
	aliceChat = int64(42)
)

func TestCreateFlowEndToEnd(t *testing.T) {
	e, gw, st, tm := newTestEngine(t)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return base }

	ctx := context.Background()
	e.StartCreate(ctx, alice, aliceChat)
	if !e.HandleText(ctx, alice, aliceChat, "truck") {
		t.Fatal("text not routed to flow")
	}
	e.HandleText(ctx, alice, aliceChat, "T-12")
	e.HandleText(ctx, alice, aliceChat, "skip")
	e.HandleText(ctx, alice, aliceChat, "Skip")
	e.HandleText(ctx, alice, aliceChat, "+24h")
	e.HandleText(ctx, alice, aliceChat, "skip") // no photos: submit, needs_photos stays set

	open, err := tm.ListOpen("42", 0)
	if err != nil {
		t.Fatalf("ListOpen: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open tickets = %d, want 1", len(open))
	}
	tk := open[0]
	if tk.AssetType != protocol.AssetTruck || tk.AssetID != "T-12" {
		t.Errorf("asset = %s %s", tk.AssetType, tk.AssetID)
	}
	if tk.Problem != "Unspecified" || tk.Plan != "Unspecified" {
		t.Errorf("problem/plan = %q/%q", tk.Problem, tk.Plan)
	}
	if tk.ETA == nil || !tk.ETA.Equal(base.Add(24*time.Hour)) {
		t.Errorf("eta = %v", tk.ETA)
	}
	if !tk.NeedsPhotos {
		t.Error("needs_photos not set after skipping photos")
	}
	if tk.Status != protocol.StatusNew {
		t.Errorf("status = %s", tk.Status)
	}

	if _, err := st.GetSession("42"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("session not cleared: %v", err)
	}

	// The group chat saw the announcement.
	announced := false
	for _, m := range gw.msgs {
		if m.chatID == groupChat && strings.Contains(m.text, "T-12") {
			announced = true
		}
	}
	if !announced {
		t.Error("no group announcement")
	}
}

func TestCreateFlowWithPhotos(t *testing.T) {
	e, gw, _, tm := newTestEngine(t)
	ctx := context.Background()

	e.StartCreate(ctx, alice, aliceChat)
	e.HandleCallback(ctx, alice, aliceChat, "new:asset:trailer")
	e.HandleText(ctx, alice, aliceChat, "TR-9")
	e.HandleText(ctx, alice, aliceChat, "flat tire")
	e.HandleText(ctx, alice, aliceChat, "swap wheel")
	e.HandleCallback(ctx, alice, aliceChat, "new:eta:skip")
	e.HandlePhoto(ctx, alice, aliceChat, "file-1")
	e.HandleCallback(ctx, alice, aliceChat, "new:submit")

	open, _ := tm.ListOpen("42", 0)
	if len(open) != 1 {
		t.Fatalf("open tickets = %d", len(open))
	}
	tk := open[0]
	if tk.NeedsPhotos {
		t.Error("needs_photos should clear once a photo arrives")
	}
	photos, _ := tm.Photos(tk.ID)
	if len(photos) != 1 || photos[0].FileID != "file-1" {
		t.Errorf("photos = %+v", photos)
	}

	// Announcement carries the first photo.
	found := false
	for _, m := range gw.msgs {
		if m.chatID == groupChat && m.isPhoto && m.fileID == "file-1" {
			found = true
		}
	}
	if !found {
		t.Error("group announcement missing the photo")
	}
}

func TestBadETAReprompts(t *testing.T) {
	e, gw, st, _ := newTestEngine(t)
	ctx := context.Background()

	e.StartCreate(ctx, alice, aliceChat)
	e.HandleText(ctx, alice, aliceChat, "truck")
	e.HandleText(ctx, alice, aliceChat, "T-1")
	e.HandleText(ctx, alice, aliceChat, "p")
	e.HandleText(ctx, alice, aliceChat, "a")

	before, _ := st.GetSession("42")
	e.HandleText(ctx, alice, aliceChat, "whenever")

	after, err := st.GetSession("42")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if after.State != protocol.StateCreateETA {
		t.Errorf("state moved to %q on bad input", after.State)
	}
	if after.Draft.ETA != nil || before.Draft.ETA != nil {
		t.Error("draft mutated on bad input")
	}
	if gw.last().text != promptBadETA {
		t.Errorf("last message = %q", gw.last().text)
	}
}

func TestCancelClearsSession(t *testing.T) {
	e, _, st, _ := newTestEngine(t)
	ctx := context.Background()

	e.StartCreate(ctx, alice, aliceChat)
	e.Cancel(ctx, alice, aliceChat)

	if _, err := st.GetSession("42"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("session survived cancel: %v", err)
	}
}

func TestStartCreateReplacesExistingFlow(t *testing.T) {
	e, _, st, _ := newTestEngine(t)
	ctx := context.Background()

	e.StartCreate(ctx, alice, aliceChat)
	e.HandleText(ctx, alice, aliceChat, "truck")
	e.HandleText(ctx, alice, aliceChat, "T-5")

	e.StartCreate(ctx, alice, aliceChat)
	ses, err := st.GetSession("42")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if ses.State != protocol.StateCreateAsset || ses.Draft.AssetID != "" {
		t.Errorf("old draft survived restart: %+v", ses)
	}
}

func TestCloseFlow(t *testing.T) {
	e, _, st, tm := newTestEngine(t)
	ctx := context.Background()

	id, err := tm.Create(protocol.Draft{AssetType: protocol.AssetTruck, Problem: "leak"}, "42")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	e.StartCloseFor(ctx, alice, aliceChat, id)
	e.HandlePhoto(ctx, alice, aliceChat, "done-photo")
	e.HandleCallback(ctx, alice, aliceChat, "close:submit")

	tk, _ := tm.Get(id)
	if tk.Status != protocol.StatusDone {
		t.Fatalf("status = %s", tk.Status)
	}
	if tk.ClosedAt == nil || tk.ClosedByUserID != "42" {
		t.Errorf("close not stamped: %+v", tk)
	}
	photos, _ := tm.Photos(id)
	if len(photos) != 1 || !photos[0].IsFinal {
		t.Errorf("photos = %+v", photos)
	}
	if _, err := st.GetSession("42"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("session not cleared: %v", err)
	}
}

func TestUpdateFlowStatusChange(t *testing.T) {
	e, _, _, tm := newTestEngine(t)
	ctx := context.Background()

	id, _ := tm.Create(protocol.Draft{Problem: "leak"}, "42")

	e.StartUpdateFor(ctx, alice, aliceChat, id)
	e.HandleCallback(ctx, alice, aliceChat, "upd:status:awaiting_parts")

	tk, _ := tm.Get(id)
	if tk.Status != protocol.StatusAwaitingParts {
		t.Fatalf("status = %s", tk.Status)
	}
}

func TestStaleCallbackDoesNotMutate(t *testing.T) {
	e, _, _, tm := newTestEngine(t)
	ctx := context.Background()

	// No session at all: submit button from an old message.
	e.HandleCallback(ctx, alice, aliceChat, "new:submit")
	open, _ := tm.ListOpen("42", 0)
	if len(open) != 0 {
		t.Fatalf("stale submit created a ticket: %+v", open)
	}

	// Wrong state: status button while in the create flow.
	id, _ := tm.Create(protocol.Draft{Problem: "x"}, "42")
	e.StartCreate(ctx, alice, aliceChat)
	e.HandleCallback(ctx, alice, aliceChat, "upd:status:done")
	tk, _ := tm.Get(id)
	if tk.Status != protocol.StatusNew {
		t.Fatalf("stale status button applied: %s", tk.Status)
	}
}

func TestQuickActionWithoutSession(t *testing.T) {
	e, _, _, tm := newTestEngine(t)
	ctx := context.Background()

	id, _ := tm.Create(protocol.Draft{Problem: "x"}, "42")

	e.HandleCallback(ctx, alice, aliceChat, "upd:quick:"+itoa(id)+":done")
	tk, _ := tm.Get(id)
	if tk.Status != protocol.StatusDone {
		t.Fatalf("quick done not applied: %s", tk.Status)
	}
}

func TestQuickSnooze(t *testing.T) {
	e, _, _, tm := newTestEngine(t)
	ctx := context.Background()

	id, _ := tm.Create(protocol.Draft{Problem: "x"}, "42")
	e.HandleCallback(ctx, alice, aliceChat, "upd:quick:"+itoa(id)+":snooze")

	tk, _ := tm.Get(id)
	if tk.SnoozeUntil == nil {
		t.Fatal("snooze not applied")
	}
	if d := time.Until(*tk.SnoozeUntil); d < time.Hour || d > 3*time.Hour {
		t.Errorf("snooze window = %v", d)
	}
}

func TestUpdateETAViaText(t *testing.T) {
	e, _, _, tm := newTestEngine(t)
	ctx := context.Background()

	id, _ := tm.Create(protocol.Draft{Problem: "x"}, "42")
	e.StartUpdateFor(ctx, alice, aliceChat, id)
	e.HandleCallback(ctx, alice, aliceChat, "upd:eta:set")
	e.HandleText(ctx, alice, aliceChat, "2026-06-01 10:00")

	tk, _ := tm.Get(id)
	want := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	if tk.ETA == nil || !tk.ETA.Equal(want) {
		t.Fatalf("eta = %v, want %v", tk.ETA, want)
	}
}

func TestStartUpdateForMissingTicket(t *testing.T) {
	e, gw, st, _ := newTestEngine(t)
	ctx := context.Background()

	e.StartUpdateFor(ctx, alice, aliceChat, 777)
	if !strings.Contains(gw.last().text, "#777") {
		t.Errorf("last message = %q", gw.last().text)
	}
	if _, err := st.GetSession("42"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("session created for missing ticket: %v", err)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
