// Package vectorize runs document vectorization tasks on a bounded worker
// pool. A task embeds every chunk of one document through the shared
// embedding client and persists each chunk with its vector, failing fast on
// the first error.
package vectorize

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/quarry/pkg/embeddings"
	"github.com/papercomputeco/quarry/pkg/eventstream"
	"github.com/papercomputeco/quarry/pkg/vector"
)

var (
	defaultNumWorkers uint = 2
	defaultQueueSize  uint = 256
)

// Config is the configuration options for the scheduler.
type Config struct {
	// NumWorkers is the number of tasks processed concurrently (defaults to 2).
	NumWorkers uint

	// QueueSize is the capacity of the FIFO task queue (defaults to 256).
	QueueSize uint
}

// entry is the arena record for one task.
type entry struct {
	task   Task
	chunks []string

	// ready is closed once Submit has announced the task, so a worker never
	// reports processing before the pending event is out.
	ready chan struct{}
}

// Scheduler owns every task and is the only writer of task state.
type Scheduler struct {
	config    Config
	embedder  embeddings.Embedder
	store     vector.Store
	publisher eventstream.Publisher
	logger    *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	live    map[int64]string
	seq     uint64
	closed  bool

	queue chan string
	wg    sync.WaitGroup
}

// NewScheduler creates a scheduler and starts its workers.
func NewScheduler(c Config, embedder embeddings.Embedder, store vector.Store, publisher eventstream.Publisher, logger *slog.Logger) (*Scheduler, error) {
	if embedder == nil || store == nil {
		return nil, fmt.Errorf("scheduler requires an embedder and a store")
	}
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	s := &Scheduler{
		config:    c,
		embedder:  embedder,
		store:     store,
		publisher: publisher,
		logger:    logger,
		entries:   make(map[string]*entry),
		live:      make(map[int64]string),
		queue:     make(chan string, c.QueueSize),
	}

	s.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go s.worker(i)
	}

	return s, nil
}

// Submit registers a pending task for documentID and queues it. It never
// blocks on workers.
func (s *Scheduler) Submit(documentID int64, chunks []string) (string, error) {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return "", ErrSchedulerClosed
	}
	if id, ok := s.live[documentID]; ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: document %d, task %s", ErrDuplicateTask, documentID, id)
	}

	e := &entry{
		task: Task{
			ID:          uuid.NewString(),
			DocumentID:  documentID,
			Status:      StatusPending,
			ChunksTotal: len(chunks),
			CreatedAt:   time.Now(),
		},
		chunks: slices.Clone(chunks),
		ready:  make(chan struct{}),
	}

	select {
	case s.queue <- e.task.ID:
	default:
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %d tasks waiting", ErrQueueFull, s.config.QueueSize)
	}

	s.seq++
	e.task.seq = s.seq
	s.entries[e.task.ID] = e
	s.live[documentID] = e.task.ID
	snapshot := e.task
	s.mu.Unlock()

	ctx := context.Background()
	s.setDocumentStatus(ctx, documentID, vector.StatusPending)
	s.publish(ctx, snapshot)
	close(e.ready)

	s.logger.Debug("task queued",
		"task_id", snapshot.ID,
		"document_id", documentID,
		"chunks_total", snapshot.ChunksTotal,
	)
	return snapshot.ID, nil
}

// Get returns a copy of the task.
func (s *Scheduler) Get(taskID string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[taskID]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return e.task, nil
}

// List returns copies of every task, newest first.
func (s *Scheduler) List() []Task {
	s.mu.Lock()
	tasks := make([]Task, 0, len(s.entries))
	for _, e := range s.entries {
		tasks = append(tasks, e.task)
	}
	s.mu.Unlock()

	slices.SortFunc(tasks, func(a, b Task) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.seq, a.seq)
	})
	return tasks
}

// Stats counts tasks per status.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		Total:   len(s.entries),
		Queued:  len(s.queue),
		Workers: int(s.config.NumWorkers),
	}
	for _, e := range s.entries {
		switch e.task.Status {
		case StatusPending:
			stats.Pending++
		case StatusProcessing:
			stats.Processing++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats
}

// Close stops accepting tasks, lets the workers drain the queue and waits
// for them to finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
}

// worker is the inner worker thread that continuously pulls task ids off
// the queue
func (s *Scheduler) worker(id uint) {
	defer s.wg.Done()
	s.logger.Debug("vectorize worker started", "worker_id", id)

	for taskID := range s.queue {
		s.process(taskID)
	}

	s.logger.Debug("vectorize worker stopped", "worker_id", id)
}

func (s *Scheduler) process(taskID string) {
	ctx := context.Background()

	s.mu.Lock()
	e := s.entries[taskID]
	s.mu.Unlock()
	<-e.ready

	snapshot, err := s.update(taskID, func(t *Task) error {
		return t.transition(StatusProcessing, time.Now())
	})
	if err != nil {
		s.logger.Error("task could not start", "task_id", taskID, "error", err)
		return
	}
	s.setDocumentStatus(ctx, snapshot.DocumentID, vector.StatusProcessing)
	s.publish(ctx, snapshot)

	for i, text := range e.chunks {
		embedding, err := s.embedder.Embed(ctx, text)
		if err != nil {
			s.fail(ctx, taskID, fmt.Errorf("chunk %d: %w", i, err))
			return
		}

		if _, err := s.store.SaveChunk(ctx, snapshot.DocumentID, i, text, embedding); err != nil {
			s.fail(ctx, taskID, fmt.Errorf("chunk %d: %w", i, err))
			return
		}

		progress, err := s.update(taskID, func(t *Task) error {
			t.advance()
			return nil
		})
		if err != nil {
			s.logger.Error("recording progress", "task_id", taskID, "error", err)
			return
		}

		s.logger.Debug("chunk vectorized",
			"task_id", taskID,
			"chunk_index", i,
			"progress", progress.Progress,
		)
		s.publish(ctx, progress)
	}

	// A resubmitted document may have had more chunks last time.
	if err := s.store.TruncateChunks(ctx, snapshot.DocumentID, len(e.chunks)); err != nil {
		s.fail(ctx, taskID, fmt.Errorf("removing stale chunks: %w", err))
		return
	}

	done, err := s.update(taskID, func(t *Task) error {
		return t.transition(StatusCompleted, time.Now())
	})
	if err != nil {
		s.logger.Error("completing task", "task_id", taskID, "error", err)
		return
	}
	s.finish(taskID, done.DocumentID)
	s.setDocumentStatus(ctx, done.DocumentID, vector.StatusCompleted)
	s.publish(ctx, done)

	s.logger.Info("task completed",
		"task_id", taskID,
		"document_id", done.DocumentID,
		"chunks", done.ChunksProcessed,
	)
}

func (s *Scheduler) fail(ctx context.Context, taskID string, cause error) {
	failed, err := s.update(taskID, func(t *Task) error {
		if err := t.transition(StatusFailed, time.Now()); err != nil {
			return err
		}
		t.ErrorMessage = cause.Error()
		return nil
	})
	if err != nil {
		s.logger.Error("failing task", "task_id", taskID, "error", err)
		return
	}
	s.finish(taskID, failed.DocumentID)
	s.setDocumentStatus(ctx, failed.DocumentID, vector.StatusFailed)
	s.publish(ctx, failed)

	s.logger.Warn("task failed",
		"task_id", taskID,
		"document_id", failed.DocumentID,
		"chunks_processed", failed.ChunksProcessed,
		"error", cause,
	)
}

// update applies fn to the task under the lock and returns the result.
func (s *Scheduler) update(taskID string, fn func(t *Task) error) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[taskID]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err := fn(&e.task); err != nil {
		return e.task, err
	}
	return e.task, nil
}

// finish frees the document for a new task and drops the chunk payload.
func (s *Scheduler) finish(taskID string, documentID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live[documentID] == taskID {
		delete(s.live, documentID)
	}
	if e, ok := s.entries[taskID]; ok {
		e.chunks = nil
	}
}

func (s *Scheduler) setDocumentStatus(ctx context.Context, documentID int64, status vector.DocumentStatus) {
	if err := s.store.SetDocumentStatus(ctx, documentID, status); err != nil {
		s.logger.Warn("updating document status",
			"document_id", documentID,
			"status", status,
			"error", err,
		)
	}
}

func (s *Scheduler) publish(ctx context.Context, t Task) {
	if s.publisher == nil {
		return
	}

	event := &eventstream.TaskEvent{
		SchemaVersion: eventstream.SchemaVersionV1,
		EventType:     eventstream.EventTypeTaskUpdated,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		Task: eventstream.TaskSnapshot{
			TaskID:          t.ID,
			DocumentID:      t.DocumentID,
			Status:          string(t.Status),
			Progress:        t.Progress,
			ChunksTotal:     t.ChunksTotal,
			ChunksProcessed: t.ChunksProcessed,
			ErrorMessage:    t.ErrorMessage,
			CreatedAt:       t.CreatedAt,
			StartedAt:       t.StartedAt,
			CompletedAt:     t.CompletedAt,
		},
	}
	if err := s.publisher.PublishTask(ctx, event); err != nil {
		s.logger.Warn("publishing task event",
			"task_id", t.ID,
			"status", t.Status,
			"error", err,
		)
	}
}
