package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// maxLine bounds a single SSE line. Content events carry whole passages, so
// the scanner's 64KiB default is too small.
const maxLine = 1 << 20

// Reader parses events off a stream produced by Encode.
type Reader struct {
	scanner *bufio.Scanner

	// lastID persists across events until the stream sets a new one.
	lastID string
	retry  int
}

// NewReader returns a Reader over src.
func NewReader(src io.Reader) *Reader {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	return &Reader{scanner: scanner}
}

// Next blocks until a complete event is available. It returns io.EOF once
// the stream is exhausted; an event left unterminated by a blank line is
// still delivered first.
func (r *Reader) Next() (Event, error) {
	var f frame

	for r.scanner.Scan() {
		line := r.scanner.Text()

		switch {
		case line == "":
			if f.started {
				return r.finish(f.ev), nil
			}
		case line[0] == ':':
			// comment or keep-alive
		default:
			r.field(&f, line)
		}
	}

	if err := r.scanner.Err(); err != nil {
		return Event{}, fmt.Errorf("reading event stream: %w", err)
	}
	if f.started {
		return r.finish(f.ev), nil
	}
	return Event{}, io.EOF
}

// LastID is the most recent id field seen, for resuming with Last-Event-ID.
func (r *Reader) LastID() string {
	return r.lastID
}

// Retry is the most recent reconnection delay in milliseconds, zero if the
// server never sent one.
func (r *Reader) Retry() int {
	return r.retry
}

// frame is an event under construction.
type frame struct {
	ev        Event
	dataLines int
	started   bool
}

// field applies one "name: value" line to f. Unknown fields and malformed
// retry values are dropped.
func (r *Reader) field(f *frame, line string) {
	name, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")

	switch name {
	case "data":
		if f.dataLines > 0 {
			f.ev.Data += "\n"
		}
		f.ev.Data += value
		f.dataLines++
		f.started = true
	case "event":
		f.ev.Type = value
		f.started = true
	case "id":
		if !strings.ContainsRune(value, 0) {
			f.ev.ID = value
			r.lastID = value
		}
		f.started = true
	case "retry":
		if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
			f.ev.Retry = ms
			r.retry = ms
		}
	}
}

func (r *Reader) finish(ev Event) Event {
	if ev.ID == "" {
		ev.ID = r.lastID
	}
	return ev
}

// Decode unmarshals the event's JSON data into v.
func Decode(ev Event, v any) error {
	if err := json.Unmarshal([]byte(ev.Data), v); err != nil {
		return fmt.Errorf("decoding %s event: %w", ev.Type, err)
	}
	return nil
}
