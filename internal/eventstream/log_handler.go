package eventstream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"murmur/internal/orchestrator"
)

// LogHandler publishes log records to the hub as log events. Pair it with
// logging.MinLevel to forward only warnings and errors.
type LogHandler struct {
	hub   *Hub
	attrs []slog.Attr
	group string
}

// NewLogHandler returns a handler publishing to hub.
func NewLogHandler(hub *Hub) *LogHandler {
	return &LogHandler{hub: hub}
}

func (h *LogHandler) Enabled(context.Context, slog.Level) bool { return h.hub != nil }

func (h *LogHandler) Handle(_ context.Context, record slog.Record) error {
	var b strings.Builder
	b.WriteString(record.Message)
	write := func(attr slog.Attr) bool {
		key := attr.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		fmt.Fprintf(&b, " %s=%v", key, attr.Value.Resolve().Any())
		return true
	}
	for _, attr := range h.attrs {
		write(attr)
	}
	record.Attrs(write)

	h.hub.Publish(orchestrator.Event{
		Type:    orchestrator.EventLog,
		Time:    record.Time,
		Level:   strings.ToLower(record.Level.String()),
		Message: b.String(),
	})
	return nil
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	next := *h
	if next.group != "" {
		next.group += "." + name
	} else {
		next.group = name
	}
	return &next
}
