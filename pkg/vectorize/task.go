package vectorize

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a vectorization task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is a snapshot of one document's vectorization. Values returned by
// the scheduler are copies.
type Task struct {
	ID              string     `json:"task_id"`
	DocumentID      int64      `json:"document_id"`
	Status          Status     `json:"status"`
	Progress        float64    `json:"progress"`
	ChunksTotal     int        `json:"chunks_total"`
	ChunksProcessed int        `json:"chunks_processed"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`

	// seq orders tasks submitted within the same clock tick
	seq uint64
}

// transition moves the task to next, stamping the lifecycle timestamps.
func (t *Task) transition(next Status, now time.Time) error {
	ok := false
	switch t.Status {
	case StatusPending:
		ok = next == StatusProcessing
	case StatusProcessing:
		ok = next == StatusCompleted || next == StatusFailed
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, next)
	}

	t.Status = next
	switch next {
	case StatusProcessing:
		t.StartedAt = &now
	case StatusCompleted:
		t.Progress = 100
		t.CompletedAt = &now
	case StatusFailed:
		t.CompletedAt = &now
	}
	return nil
}

// advance records one more processed chunk.
func (t *Task) advance() {
	t.ChunksProcessed++
	if t.ChunksTotal > 0 {
		t.Progress = float64(t.ChunksProcessed) * 100 / float64(t.ChunksTotal)
	}
}

// Stats counts tasks per status.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`

	// Queued is the number of tasks waiting for a worker.
	Queued  int `json:"queued"`
	Workers int `json:"workers"`
}
