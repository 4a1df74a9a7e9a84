// Package events carries notifications from the archive components to
// whoever is driving them. Every component takes an Observer explicitly;
// there is no package-level event state.
package events

import (
	"context"
	"log/slog"
	"time"
)

// Progress describes how far a transfer has got.
type Progress struct {
	Operation string
	Done      int64
	Total     int64
	Elapsed   time.Duration
}

// Percent returns the completed fraction as 0-100.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Done) * 100 / float64(p.Total)
}

// Observer receives debug, status, warning, error and progress
// notifications. The variadic args are key/value pairs as in log/slog.
type Observer interface {
	Debug(ctx context.Context, msg string, args ...any)
	Status(ctx context.Context, msg string, args ...any)
	Warning(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	Progress(ctx context.Context, p Progress)
}

// LogObserver sends notifications to a structured logger.
type LogObserver struct {
	l *slog.Logger
}

func NewLogObserver(l *slog.Logger) *LogObserver {
	if l == nil {
		l = slog.Default()
	}
	return &LogObserver{l: l}
}

func (o *LogObserver) Debug(ctx context.Context, msg string, args ...any) {
	o.l.DebugContext(ctx, msg, args...)
}

func (o *LogObserver) Status(ctx context.Context, msg string, args ...any) {
	o.l.InfoContext(ctx, msg, args...)
}

func (o *LogObserver) Warning(ctx context.Context, msg string, args ...any) {
	o.l.WarnContext(ctx, msg, args...)
}

func (o *LogObserver) Error(ctx context.Context, msg string, args ...any) {
	o.l.ErrorContext(ctx, msg, args...)
}

func (o *LogObserver) Progress(ctx context.Context, p Progress) {
	o.l.InfoContext(ctx, "progress",
		"operation", p.Operation,
		"done", p.Done,
		"total", p.Total,
		"percent", int(p.Percent()),
		"elapsed", p.Elapsed.Round(time.Second),
	)
}

// With returns an observer that adds the key/value pairs to every record.
func (o *LogObserver) With(args ...any) *LogObserver {
	return &LogObserver{l: o.l.With(args...)}
}

type discard struct{}

func (discard) Debug(context.Context, string, ...any)   {}
func (discard) Status(context.Context, string, ...any)  {}
func (discard) Warning(context.Context, string, ...any) {}
func (discard) Error(context.Context, string, ...any)   {}
func (discard) Progress(context.Context, Progress)      {}

// Discard drops every notification.
var Discard Observer = discard{}

// Or returns o, or Discard when o is nil.
func Or(o Observer) Observer {
	if o == nil {
		return Discard
	}
	return o
}
