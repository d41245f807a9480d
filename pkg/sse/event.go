// Package sse frames dispatcher events as Server-Sent Events for the
// streaming query endpoint and parses them back on the client side.
//
// See the SSE specification:
// https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

// Event represents a single SSE event, delimited by a blank line in the
// byte stream.
type Event struct {
	// Type is the SSE event type from the "event:" field.
	// An empty string means the default "message" type per the event stream format.
	Type string

	// Data is the concatenated contents of all "data:" lines for this event,
	// joined with "\n" (per the event stream format, multiple data fields are joined
	// with a single newline).
	Data string

	// ID is the event's "id:" field, or the last ID the stream set.
	ID string

	// Retry is the reconnection delay in milliseconds from the "retry:"
	// field. Zero means unset.
	Retry int
}
