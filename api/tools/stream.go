package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/papercomputeco/quarry/pkg/sse"
	"github.com/papercomputeco/quarry/pkg/vector"
)

// StreamBuffer is the capacity of the event channel returned by Stream.
const StreamBuffer = 16

// Stream event types.
const (
	EventStatus    = "status"
	EventDocuments = "documents"
	EventContent   = "content"
	EventCompleted = "completed"
	EventError     = "error"
)

// Stream phases reported in status events.
const (
	PhaseSearching  = "searching"
	PhaseGenerating = "generating"
)

// StatusPayload is the data of a status event.
type StatusPayload struct {
	Status string `json:"status"`
}

// DocumentsPayload is the data of a documents event.
type DocumentsPayload struct {
	Results      []vector.SearchResult `json:"results"`
	TotalResults int                   `json:"total_results"`
}

// ContentPayload is the data of a content event.
type ContentPayload struct {
	Content    string  `json:"content"`
	Index      int     `json:"index"`
	DocumentID int64   `json:"document_id"`
	ChunkID    int64   `json:"chunk_id"`
	Score      float64 `json:"similarity_score"`
}

// CompletedPayload is the data of a completed event.
type CompletedPayload struct {
	TotalTimeMS  int64 `json:"total_time_ms"`
	Tokens       int   `json:"tokens"`
	TotalResults int   `json:"total_results"`
}

// ErrorPayload is the data of an error event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Stream validates args and starts a streaming tool. Validation errors are
// returned directly. Otherwise events are delivered on the returned channel,
// which is closed after exactly one completed or error event. Cancelling
// ctx stops emission and closes the channel without a terminal event.
func (d *Dispatcher) Stream(ctx context.Context, name string, args json.RawMessage) (<-chan sse.Event, error) {
	b, args, err := d.prepare(name, args)
	if err != nil {
		return nil, err
	}
	if !b.tool.Streaming {
		return nil, fmt.Errorf("%w: %s does not stream", ErrInvalidParams, name)
	}

	params, err := decode[SearchParams](args)
	if err != nil {
		return nil, err
	}

	events := make(chan sse.Event, StreamBuffer)
	go d.queryStream(ctx, params, events)
	return events, nil
}

// queryStream retrieves context for the query and emits it fragment by
// fragment. The core does not generate text, so the content events carry
// the retrieved passages.
func (d *Dispatcher) queryStream(ctx context.Context, params SearchParams, events chan<- sse.Event) {
	defer close(events)
	start := time.Now()

	emit := func(typ string, payload any) bool {
		if ctx.Err() != nil {
			return false
		}
		ev, err := sse.NewEvent(typ, payload)
		if err != nil {
			d.logger.Error("encoding stream event", "event", typ, "error", err)
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case events <- ev:
			return true
		}
	}

	fail := func(err error) {
		if ctx.Err() != nil {
			d.logger.Debug("stream cancelled", "error", ctx.Err())
			return
		}
		d.logger.Warn("stream failed", "tool", RAGQueryStream, "error", err)
		emit(EventError, ErrorPayload{Message: err.Error()})
	}

	if !emit(EventStatus, StatusPayload{Status: PhaseSearching}) {
		return
	}

	resp, err := d.retriever.Search(ctx, params.request())
	if err != nil {
		fail(err)
		return
	}

	if !emit(EventDocuments, DocumentsPayload{Results: resp.Results, TotalResults: resp.TotalResults}) {
		return
	}
	if !emit(EventStatus, StatusPayload{Status: PhaseGenerating}) {
		return
	}

	tokens := 0
	for i, r := range resp.Results {
		tokens += len(strings.Fields(r.Content))
		ok := emit(EventContent, ContentPayload{
			Content:    r.Content,
			Index:      i,
			DocumentID: r.DocumentID,
			ChunkID:    r.ChunkID,
			Score:      r.Score,
		})
		if !ok {
			return
		}
	}

	emit(EventCompleted, CompletedPayload{
		TotalTimeMS:  time.Since(start).Milliseconds(),
		Tokens:       tokens,
		TotalResults: resp.TotalResults,
	})
}
