package logbuf

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestRingEvictsOldest(t *testing.T) {
	r := NewRing(3)
	for i := 0; i < 5; i++ {
		r.Add(Record{Msg: string(rune('a' + i)), Level: "INFO", At: time.Now()})
	}

	got := r.Tail(slog.LevelDebug, 0)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Msg != "c" || got[2].Msg != "e" {
		t.Errorf("records = %v", got)
	}
}

func TestTailFiltersByLevel(t *testing.T) {
	r := NewRing(10)
	r.Add(Record{Msg: "d", Level: "DEBUG"})
	r.Add(Record{Msg: "i", Level: "INFO"})
	r.Add(Record{Msg: "w", Level: "WARN"})
	r.Add(Record{Msg: "e", Level: "ERROR"})

	got := r.Tail(slog.LevelWarn, 0)
	if len(got) != 2 || got[0].Msg != "w" || got[1].Msg != "e" {
		t.Errorf("filtered = %v", got)
	}
}

func TestTailLimitKeepsNewest(t *testing.T) {
	r := NewRing(10)
	for _, m := range []string{"1", "2", "3"} {
		r.Add(Record{Msg: m, Level: "INFO"})
	}
	got := r.Tail(slog.LevelDebug, 2)
	if len(got) != 2 || got[0].Msg != "2" || got[1].Msg != "3" {
		t.Errorf("limited = %v", got)
	}
}

func TestTeeCapturesAllLevels(t *testing.T) {
	ring := NewRing(10)
	// Inner handler only accepts warn and above; the ring still sees
	// everything.
	inner := slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	logger := slog.New(NewTee(inner, ring))

	logger.Debug("quiet")
	logger.Error("loud", "error", errors.New("boom"), "ticket", 7)

	got := ring.Tail(slog.LevelDebug, 0)
	if len(got) != 2 {
		t.Fatalf("captured = %d, want 2", len(got))
	}
	e := got[1]
	if e.Msg != "loud" || e.Level != "ERROR" {
		t.Errorf("record = %+v", e)
	}
	if e.Fields["error"] != "boom" {
		t.Errorf("error field = %v, want flattened string", e.Fields["error"])
	}
	if e.Fields["ticket"] != int64(7) {
		t.Errorf("ticket field = %v (%T)", e.Fields["ticket"], e.Fields["ticket"])
	}
}

func TestTeeWithAttrsAndGroup(t *testing.T) {
	ring := NewRing(10)
	inner := slog.NewTextHandler(discard{}, nil)
	logger := slog.New(NewTee(inner, ring)).With("component", "api").WithGroup("req")

	logger.Info("handled", "path", "/cron")

	got := ring.Tail(slog.LevelDebug, 0)
	if len(got) != 1 {
		t.Fatalf("captured = %d", len(got))
	}
	f := got[0].Fields
	if f["component"] != "api" {
		t.Errorf("bound attr = %v", f)
	}
	if f["req.path"] != "/cron" {
		t.Errorf("grouped attr = %v", f)
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
