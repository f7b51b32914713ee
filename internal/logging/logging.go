// Package logging hands out component-scoped slog loggers that follow the
// process-wide handler installed by Setup.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Component names used as the "component" attribute.
const (
	CompTimer  = "timer"
	CompNotion = "notion"
	CompStore  = "store"
	CompDaemon = "daemon"
	CompBadge  = "badge"
	CompTasks  = "tasks"
	CompTray   = "tray"
	CompMCP    = "mcp"
)

var (
	mu   sync.RWMutex
	root slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
)

// Setup installs a text handler writing to w at the given level.
func Setup(level string, w io.Writer) {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	mu.Lock()
	root = h
	mu.Unlock()
}

// ParseLevel maps debug/info/warn/error to a slog level. Unknown values are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ForComponent returns a logger tagged with the component name. Loggers are
// safe to create at package init; they resolve the handler on every record.
func ForComponent(name string) *slog.Logger {
	return slog.New(&handler{ops: []func(slog.Handler) slog.Handler{
		func(h slog.Handler) slog.Handler {
			return h.WithAttrs([]slog.Attr{slog.String("component", name)})
		},
	}})
}

type handler struct {
	ops []func(slog.Handler) slog.Handler
}

func (h *handler) current() slog.Handler {
	mu.RLock()
	out := root
	mu.RUnlock()
	for _, op := range h.ops {
		out = op(out)
	}
	return out
}

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.current().Enabled(ctx, level)
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	return h.current().Handle(ctx, r)
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.with(func(next slog.Handler) slog.Handler { return next.WithAttrs(attrs) })
}

func (h *handler) WithGroup(name string) slog.Handler {
	return h.with(func(next slog.Handler) slog.Handler { return next.WithGroup(name) })
}

func (h *handler) with(op func(slog.Handler) slog.Handler) *handler {
	ops := make([]func(slog.Handler) slog.Handler, 0, len(h.ops)+1)
	ops = append(ops, h.ops...)
	return &handler{ops: append(ops, op)}
}
