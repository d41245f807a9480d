package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// NewEvent returns an event of the given type with payload marshalled as
// JSON into its data field.
func NewEvent(typ string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encoding %s event: %w", typ, err)
	}
	return Event{Type: typ, Data: string(data)}, nil
}

// Encode writes ev to w in wire format, terminated by a blank line. The
// whole event is written with a single Write so a failed write means the
// event was not delivered.
func Encode(w io.Writer, ev Event) error {
	var b strings.Builder
	if ev.ID != "" {
		b.WriteString("id: ")
		b.WriteString(ev.ID)
		b.WriteByte('\n')
	}
	if ev.Retry > 0 {
		b.WriteString("retry: ")
		b.WriteString(strconv.Itoa(ev.Retry))
		b.WriteByte('\n')
	}
	if ev.Type != "" {
		b.WriteString("event: ")
		b.WriteString(ev.Type)
		b.WriteByte('\n')
	}

	// Each line of a multi-line payload is its own data field so the reader
	// rejoins them with "\n".
	for line := range strings.SplitSeq(ev.Data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	_, err := io.WriteString(w, b.String())
	return err
}

// EncodeComment writes a comment line. Readers skip comments, so they serve
// as keep-alives that reveal a dropped connection.
func EncodeComment(w io.Writer, text string) error {
	_, err := io.WriteString(w, ": "+strings.ReplaceAll(text, "\n", " ")+"\n\n")
	return err
}
