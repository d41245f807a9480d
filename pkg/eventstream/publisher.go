// Package eventstream publishes vectorization task lifecycle events.
package eventstream

import "context"

// Publisher publishes task events to an event stream backend.
type Publisher interface {
	PublishTask(ctx context.Context, event *TaskEvent) error
	Close() error
}
