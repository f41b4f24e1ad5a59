package flow

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

const etaLayout = "2006-01-02 15:04"

// ParseETA interprets user ETA input: the relative shorthands today,
// +24h and +48h, or an absolute timestamp. Absolute input is expected
// as YYYY-MM-DD HH:MM; anything else goes through a lenient fallback
// parser before being rejected.
func ParseETA(input string, now time.Time) (time.Time, error) {
	s := strings.TrimSpace(input)
	switch strings.ToLower(s) {
	case "today":
		return EndOfDay(now), nil
	case "+24h":
		return now.Add(24 * time.Hour), nil
	case "+48h":
		return now.Add(48 * time.Hour), nil
	}

	s = strings.ReplaceAll(s, "T", " ")
	s = strings.ReplaceAll(s, "/", "-")
	if t, err := time.Parse(etaLayout, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := dateparse.ParseAny(s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("flow: unrecognized eta %q", input)
}

// EndOfDay returns 23:59 UTC of the given day.
func EndOfDay(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 23, 59, 0, 0, time.UTC)
}
