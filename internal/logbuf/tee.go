package logbuf

import (
	"context"
	"log/slog"
)

// Tee is an slog.Handler that copies every record into a Ring and then
// forwards it to the wrapped handler. The ring sees all levels; the
// wrapped handler keeps its own level filter.
type Tee struct {
	next   slog.Handler
	ring   *Ring
	bound  []slog.Attr
	prefix string
}

// NewTee wraps next so records are also captured into ring.
func NewTee(next slog.Handler, ring *Ring) *Tee {
	return &Tee{next: next, ring: ring}
}

func (t *Tee) Enabled(context.Context, slog.Level) bool {
	return true
}

func (t *Tee) Handle(ctx context.Context, r slog.Record) error {
	fields := make(map[string]any, len(t.bound)+r.NumAttrs())
	// Bound attrs carry the prefix they were added under.
	for _, a := range t.bound {
		fields[a.Key] = flatten(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fields[t.prefix+a.Key] = flatten(a.Value)
		return true
	})
	if len(fields) == 0 {
		fields = nil
	}

	t.ring.Add(Record{
		At:     r.Time,
		Level:  r.Level.String(),
		Msg:    r.Message,
		Fields: fields,
	})

	if t.next.Enabled(ctx, r.Level) {
		return t.next.Handle(ctx, r)
	}
	return nil
}

func (t *Tee) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := t.bound[:len(t.bound):len(t.bound)]
	for _, a := range attrs {
		bound = append(bound, slog.Attr{Key: t.prefix + a.Key, Value: a.Value})
	}
	return &Tee{
		next:   t.next.WithAttrs(attrs),
		ring:   t.ring,
		bound:  bound,
		prefix: t.prefix,
	}
}

func (t *Tee) WithGroup(name string) slog.Handler {
	return &Tee{
		next:   t.next.WithGroup(name),
		ring:   t.ring,
		bound:  t.bound,
		prefix: t.prefix + name + ".",
	}
}

// flatten resolves slog values into JSON-safe types. Errors become
// strings so they don't marshal to an empty object.
func flatten(v slog.Value) any {
	v = v.Resolve()
	raw := v.Any()
	if err, ok := raw.(error); ok {
		return err.Error()
	}
	return raw
}
