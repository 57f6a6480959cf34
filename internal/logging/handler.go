package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// TimestampLayout is the layout of the bracketed timestamp that starts every
// log entry. Retention parses it back.
const TimestampLayout = "2006-01-02 15:04:05"

// DetailKey names the attribute rendered as a multi-line block under the entry.
const DetailKey = "detail"

// LineHandler writes one "[ts] LEVEL: message key=value" line per record.
// Handlers derived through WithAttrs/WithGroup share the writer lock, so a
// record is always a single Write on the underlying writer.
type LineHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	attrs  []groupedAttr
	groups []string
	now    func() time.Time
}

func NewLineHandler(w io.Writer, opts *slog.HandlerOptions) *LineHandler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &LineHandler{mu: &sync.Mutex{}, w: w, level: level, now: time.Now}
}

func (h *LineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *LineHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = h.now()
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	buf.WriteString(ts.Format(TimestampLayout))
	buf.WriteString("] ")
	buf.WriteString(levelName(r.Level))
	buf.WriteString(": ")
	buf.WriteString(r.Message)

	var detail string
	write := func(groups []string, a slog.Attr) {
		a.Value = a.Value.Resolve()
		if a.Equal(slog.Attr{}) {
			return
		}
		if a.Key == DetailKey && len(groups) == 0 {
			detail = a.Value.String()
			return
		}
		appendAttr(&buf, groups, a)
	}
	for _, ga := range h.attrs {
		write(ga.groups, ga.attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		write(h.groups, a)
		return true
	})
	buf.WriteByte('\n')
	if detail = strings.TrimRight(detail, "\n"); detail != "" {
		for _, line := range strings.Split(detail, "\n") {
			buf.WriteString("    ")
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *LineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.attrs = append([]groupedAttr(nil), h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, groupedAttr{groups: h.groups, attr: a})
	}
	return &clone
}

func (h *LineHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

// groupedAttr remembers the groups open when the attribute was attached.
type groupedAttr struct {
	groups []string
	attr   slog.Attr
}

func appendAttr(buf *bytes.Buffer, groups []string, a slog.Attr) {
	if a.Value.Kind() == slog.KindGroup {
		sub := groups
		if a.Key != "" {
			sub = append(append([]string(nil), groups...), a.Key)
		}
		for _, ga := range a.Value.Group() {
			appendAttr(buf, sub, ga)
		}
		return
	}
	buf.WriteByte(' ')
	for _, g := range groups {
		buf.WriteString(g)
		buf.WriteByte('.')
	}
	buf.WriteString(a.Key)
	buf.WriteByte('=')
	buf.WriteString(formatValue(a.Value))
}

func formatValue(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindTime:
		s = v.Time().Format(TimestampLayout)
	default:
		s = v.String()
	}
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARNING"
	case l >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
