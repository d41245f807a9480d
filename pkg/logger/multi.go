package logger

import (
	"context"
	"errors"
	"log/slog"
)

// fanout hands every record to each of its handlers. A handler that fails
// does not stop the others; their errors are joined.
type fanout struct {
	handlers []slog.Handler
}

// Multi returns a logger that writes every record through the handlers of
// all loggers.
func Multi(loggers ...*slog.Logger) *slog.Logger {
	f := &fanout{handlers: make([]slog.Handler, 0, len(loggers))}
	for _, l := range loggers {
		f.handlers = append(f.handlers, l.Handler())
	}
	return slog.New(f)
}

func (f *fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		// Handlers may retain attrs, so each gets its own copy.
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f *fanout) WithGroup(name string) slog.Handler {
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f *fanout) derive(fn func(slog.Handler) slog.Handler) *fanout {
	out := &fanout{handlers: make([]slog.Handler, len(f.handlers))}
	for i, h := range f.handlers {
		out.handlers[i] = fn(h)
	}
	return out
}
