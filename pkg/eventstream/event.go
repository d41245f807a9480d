package eventstream

import (
	"fmt"
	"time"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeTaskUpdated is emitted on every vectorization task transition
	// and progress increment.
	EventTypeTaskUpdated = "quarry.task.updated"
)

// TaskEvent is a transport-neutral event payload describing the state of a
// vectorization task at the moment it changed.
type TaskEvent struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	EventID       string       `json:"event_id"`
	EmittedAt     time.Time    `json:"emitted_at"`
	Task          TaskSnapshot `json:"task"`
}

// TaskSnapshot captures the task fields observers care about.
type TaskSnapshot struct {
	TaskID          string     `json:"task_id"`
	DocumentID      int64      `json:"document_id"`
	Status          string     `json:"status"`
	Progress        float64    `json:"progress"`
	ChunksTotal     int        `json:"chunks_total"`
	ChunksProcessed int        `json:"chunks_processed"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Validate checks the fields every backend relies on: the task id is the
// Kafka partition key and the event type is copied into a header.
func (e *TaskEvent) Validate() error {
	switch {
	case e == nil:
		return ErrNilTaskEvent
	case e.SchemaVersion != SchemaVersionV1:
		return fmt.Errorf("%w: schema version %d", ErrInvalidTaskEvent, e.SchemaVersion)
	case e.EventType == "":
		return fmt.Errorf("%w: missing event type", ErrInvalidTaskEvent)
	case e.Task.TaskID == "":
		return fmt.Errorf("%w: missing task id", ErrInvalidTaskEvent)
	}
	return nil
}
