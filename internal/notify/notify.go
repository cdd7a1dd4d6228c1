// Package notify carries user-facing messages from the core to whatever
// renders them (toasts in a browser, lines in a terminal).
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

type Level string

const (
	LevelDefault Level = "default"
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Notification struct {
	Level   Level
	Message string
}

// Notifier receives user-facing messages. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Func adapts a plain function to Notifier.
type Func func(ctx context.Context, n Notification)

func (f Func) Notify(ctx context.Context, n Notification) { f(ctx, n) }

// Discard drops every message.
var Discard Notifier = Func(func(context.Context, Notification) {})

// LogNotifier writes messages to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) {
	level := slog.LevelInfo
	switch n.Level {
	case LevelWarning:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	}
	l.logger.Log(ctx, level, n.Message, "kind", "notification", "variant", string(n.Level))
}

// WriterNotifier prints one line per message, e.g. "[warning] item already in cart".
type WriterNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

func (wn *WriterNotifier) Notify(_ context.Context, n Notification) {
	wn.mu.Lock()
	defer wn.mu.Unlock()
	_, _ = fmt.Fprintf(wn.w, "[%s] %s\n", n.Level, n.Message)
}

// Recorder keeps every message it receives. Safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

func (r *Recorder) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

// All returns a copy of the recorded messages in arrival order.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = nil
}

// Multi fans a message out to several notifiers.
func Multi(notifiers ...Notifier) Notifier {
	return Func(func(ctx context.Context, n Notification) {
		for _, nt := range notifiers {
			nt.Notify(ctx, n)
		}
	})
}
