// Package logging sets up the slog handler shared by all three services.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
)

// MultilineHandler is a developer-friendly slog.Handler: one line per
// record, level and message first, attributes sorted after. It exists for
// local/dev runs; production deployments should use slog.NewJSONHandler
// instead (selected the same way the teacher's main.go does, via a flag).
type MultilineHandler struct {
	Writer io.Writer
	Level  slog.Leveler

	mu    sync.Mutex
	attrs []slog.Attr
	group string
}

func (h *MultilineHandler) Enabled(_ context.Context, level slog.Level) bool {
	min := slog.LevelInfo
	if h.Level != nil {
		min = h.Level.Level()
	}
	return level >= min
}

func (h *MultilineHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	attrs := make(map[string]string, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.String()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.String()
		return true
	})

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	line := fmt.Sprintf("%s [%s] %s", r.Time.Format("2006-01-02T15:04:05.000Z07:00"), r.Level, r.Message)
	for _, k := range keys {
		line += fmt.Sprintf(" %s=%s", k, attrs[k])
	}
	_, err := fmt.Fprintln(h.Writer, line)
	return err
}

func (h *MultilineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := &MultilineHandler{Writer: h.Writer, Level: h.Level, group: h.group}
	n.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return n
}

func (h *MultilineHandler) WithGroup(name string) slog.Handler {
	// Groups are flattened for this single-line format; nesting isn't needed
	// at the log volumes these services produce.
	return h
}

// New builds the default slog.Logger for a service: JSON when jsonLog is
// true (production), the multiline dev handler otherwise.
func New(w io.Writer, level slog.Level, jsonLog bool, component string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if jsonLog {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = &MultilineHandler{Writer: w, Level: level}
	}
	return slog.New(handler).With("component", component)
}
