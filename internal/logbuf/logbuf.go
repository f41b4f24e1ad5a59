package logbuf

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Record is one captured log line.
type Record struct {
	At     time.Time      `json:"at"`
	Level  string         `json:"level"`
	Msg    string         `json:"msg"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Ring keeps the most recent log records in memory so the HTTP API can
// serve them without touching disk.
type Ring struct {
	mu   sync.RWMutex
	recs []Record
	cap  int
}

// NewRing creates a ring holding up to capacity records.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{recs: make([]Record, 0, capacity), cap: capacity}
}

// Add appends a record, evicting the oldest once full.
func (r *Ring) Add(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	if len(r.recs) > r.cap {
		n := copy(r.recs, r.recs[len(r.recs)-r.cap:])
		r.recs = r.recs[:n]
	}
}

// Tail returns up to limit of the newest records at or above minLevel,
// oldest first. limit <= 0 means no limit.
func (r *Ring) Tail(minLevel slog.Level, limit int) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Record
	for _, rec := range r.recs {
		if ParseLevel(rec.Level) < minLevel {
			continue
		}
		out = append(out, rec)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
