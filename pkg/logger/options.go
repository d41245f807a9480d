package logger

import (
	"io"
	"log/slog"
)

// Option configures a logger built by New.
type Option func(*settings)

// WithDebug lowers the level to Debug.
func WithDebug(debug bool) Option {
	return func(s *settings) {
		s.level = slog.LevelInfo
		if debug {
			s.level = slog.LevelDebug
		}
	}
}

// WithPretty renders console records with charmbracelet/log.
func WithPretty(pretty bool) Option {
	return func(s *settings) { s.pretty = pretty }
}

// WithJSON renders console records as JSON lines. It takes precedence over
// WithPretty.
func WithJSON(json bool) Option {
	return func(s *settings) { s.json = json }
}

// WithWriter replaces the console writer, os.Stdout by default.
func WithWriter(w io.Writer) Option {
	return func(s *settings) { s.writers = []io.Writer{w} }
}

// WithWriters writes console records to every w.
func WithWriters(w ...io.Writer) Option {
	return func(s *settings) { s.writers = w }
}

// WithSource adds the caller's file:line to every record.
func WithSource(source bool) Option {
	return func(s *settings) { s.source = source }
}

// WithService tags every record with service=name so logs of quarry and
// quarryapi can be told apart once aggregated.
func WithService(name string) Option {
	return func(s *settings) { s.service = name }
}

// WithJSONFile mirrors every record as JSON to w, regardless of the console
// format. A nil w disables the mirror.
func WithJSONFile(w io.Writer) Option {
	return func(s *settings) { s.file = w }
}
