package testutils

import (
	"context"
	"sync"

	"github.com/papercomputeco/quarry/pkg/eventstream"
)

// RecordingPublisher is an eventstream.Publisher that keeps every event.
type RecordingPublisher struct {
	// Err, when set, is returned by every publish after recording.
	Err error

	mu     sync.Mutex
	events []eventstream.TaskEvent
}

func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{}
}

func (r *RecordingPublisher) PublishTask(_ context.Context, event *eventstream.TaskEvent) error {
	if event == nil {
		return eventstream.ErrNilTaskEvent
	}
	r.mu.Lock()
	r.events = append(r.events, *event)
	r.mu.Unlock()
	return r.Err
}

// Events returns the recorded events in publish order.
func (r *RecordingPublisher) Events() []eventstream.TaskEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]eventstream.TaskEvent(nil), r.events...)
}

// ForTask returns the snapshots recorded for one task, in order.
func (r *RecordingPublisher) ForTask(taskID string) []eventstream.TaskSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []eventstream.TaskSnapshot
	for _, e := range r.events {
		if e.Task.TaskID == taskID {
			out = append(out, e.Task)
		}
	}
	return out
}

func (r *RecordingPublisher) Close() error {
	return nil
}
