package vectorize

import "errors"

var (
	// ErrDuplicateTask is returned when a document already has a pending or
	// processing task.
	ErrDuplicateTask = errors.New("document already has an active vectorization task")

	// ErrQueueFull is returned when the task queue has no free slot.
	ErrQueueFull = errors.New("vectorization queue is full")

	// ErrSchedulerClosed is returned by Submit after Close.
	ErrSchedulerClosed = errors.New("scheduler is closed")

	// ErrTaskNotFound is returned for unknown task ids.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidTransition is returned when a task would leave a terminal
	// state or skip a step.
	ErrInvalidTransition = errors.New("invalid task status transition")
)
