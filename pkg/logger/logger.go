// Package logger builds the slog loggers used by quarry services and CLI
// commands.
package logger

import (
	"io"
	"log/slog"
	"os"
	"time"

	charmlog "github.com/charmbracelet/log"
)

type settings struct {
	level   slog.Level
	pretty  bool
	json    bool
	source  bool
	service string
	writers []io.Writer
	file    io.Writer
}

// New returns a logger configured by opts. Without options it writes text
// records at Info level to os.Stdout.
func New(opts ...Option) *slog.Logger {
	s := &settings{
		level:   slog.LevelInfo,
		writers: []io.Writer{os.Stdout},
	}
	for _, opt := range opts {
		opt(s)
	}

	h := s.console()
	if s.file != nil {
		h = &fanout{handlers: []slog.Handler{h, s.jsonHandler(s.file)}}
	}

	l := slog.New(h)
	if s.service != "" {
		l = l.With("service", s.service)
	}
	return l
}

func (s *settings) console() slog.Handler {
	var w io.Writer
	switch len(s.writers) {
	case 0:
		w = os.Stdout
	case 1:
		w = s.writers[0]
	default:
		w = io.MultiWriter(s.writers...)
	}

	switch {
	case s.json:
		return s.jsonHandler(w)
	case s.pretty:
		return charmlog.NewWithOptions(w, charmlog.Options{
			ReportTimestamp: true,
			TimeFormat:      time.Kitchen,
			ReportCaller:    s.source,
			Level:           charmLevel(s.level),
		})
	default:
		return slog.NewTextHandler(w, &slog.HandlerOptions{
			Level:     s.level,
			AddSource: s.source,
		})
	}
}

func (s *settings) jsonHandler(w io.Writer) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     s.level,
		AddSource: s.source,
	})
}

// Nop returns a logger that discards every record.
func Nop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func charmLevel(l slog.Level) charmlog.Level {
	switch {
	case l <= slog.LevelDebug:
		return charmlog.DebugLevel
	case l <= slog.LevelInfo:
		return charmlog.InfoLevel
	case l <= slog.LevelWarn:
		return charmlog.WarnLevel
	default:
		return charmlog.ErrorLevel
	}
}
