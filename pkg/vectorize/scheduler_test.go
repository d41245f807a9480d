package vectorize_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/quarry/pkg/embeddings"
	"github.com/papercomputeco/quarry/pkg/embeddings/resilient"
	"github.com/papercomputeco/quarry/pkg/logger"
	testutils "github.com/papercomputeco/quarry/pkg/utils/test"
	"github.com/papercomputeco/quarry/pkg/vector"
	"github.com/papercomputeco/quarry/pkg/vector/inmemory"
	"github.com/papercomputeco/quarry/pkg/vectorize"
)

var _ = Describe("Scheduler", func() {
	var (
		ctx       context.Context
		mock      *testutils.MockEmbedder
		embedder  embeddings.Embedder
		store     *testutils.FaultyStore
		publisher *testutils.RecordingPublisher
		sched     *vectorize.Scheduler
		cfg       vectorize.Config
	)

	newDocument := func(name string) int64 {
		id, err := store.SaveDocument(ctx, vector.DocumentMeta{Filename: name, FileType: "txt", Content: name})
		Expect(err).NotTo(HaveOccurred())
		return id
	}

	waitTerminal := func(taskID string) vectorize.Task {
		var task vectorize.Task
		Eventually(func() bool {
			var err error
			task, err = sched.Get(taskID)
			Expect(err).NotTo(HaveOccurred())
			return task.Status.Terminal()
		}, 5*time.Second, 5*time.Millisecond).Should(BeTrue())
		return task
	}

	BeforeEach(func() {
		ctx = context.Background()
		mock = testutils.NewMockEmbedder()
		embedder = mock
		store = testutils.NewFaultyStore(inmemory.NewStore())
		publisher = testutils.NewRecordingPublisher()
		cfg = vectorize.Config{}
	})

	JustBeforeEach(func() {
		var err error
		sched, err = vectorize.NewScheduler(cfg, embedder, store, publisher, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if mock.Block != nil {
			select {
			case <-mock.Block:
			default:
				close(mock.Block)
			}
		}
		sched.Close()
	})

	It("requires an embedder and a store", func() {
		_, err := vectorize.NewScheduler(vectorize.Config{}, nil, store, publisher, logger.Nop())
		Expect(err).To(HaveOccurred())
	})

	Describe("a successful task", func() {
		It("completes every chunk", func() {
			doc := newDocument("a.txt")
			taskID, err := sched.Submit(doc, []string{"one", "two", "three"})
			Expect(err).NotTo(HaveOccurred())
			Expect(taskID).NotTo(BeEmpty())

			task := waitTerminal(taskID)
			Expect(task.Status).To(Equal(vectorize.StatusCompleted))
			Expect(task.ChunksTotal).To(Equal(3))
			Expect(task.ChunksProcessed).To(Equal(3))
			Expect(task.Progress).To(Equal(100.0))
			Expect(task.ErrorMessage).To(BeEmpty())
			Expect(task.StartedAt).NotTo(BeNil())
			Expect(task.CompletedAt).NotTo(BeNil())
			Expect(task.CompletedAt.Before(*task.StartedAt)).To(BeFalse())

			chunks, err := store.GetChunks(ctx, doc)
			Expect(err).NotTo(HaveOccurred())
			Expect(chunks).To(HaveLen(3))
			Expect(chunks[2].Content).To(Equal("three"))
			Expect(chunks[2].Embedding).NotTo(BeEmpty())

			Eventually(func() []vector.DocumentStatus { return store.StatusHistory(doc) }).Should(Equal([]vector.DocumentStatus{
				vector.StatusPending, vector.StatusProcessing, vector.StatusCompleted,
			}))
		})

		It("replaces every chunk of a resubmitted document with fewer chunks", func() {
			doc := newDocument("a.txt")
			first, err := sched.Submit(doc, []string{"old zero", "old one", "old two", "old three"})
			Expect(err).NotTo(HaveOccurred())
			Expect(waitTerminal(first).Status).To(Equal(vectorize.StatusCompleted))

			second, err := sched.Submit(doc, []string{"new zero"})
			Expect(err).NotTo(HaveOccurred())
			task := waitTerminal(second)
			Expect(task.Status).To(Equal(vectorize.StatusCompleted))
			Expect(task.ChunksTotal).To(Equal(1))

			chunks, err := store.GetChunks(ctx, doc)
			Expect(err).NotTo(HaveOccurred())
			contents := make([]string, 0, len(chunks))
			for _, c := range chunks {
				contents = append(contents, c.Content)
			}
			Expect(contents).To(Equal([]string{"new zero"}))

			results, err := store.Search(ctx, vector.Query{Vector: []float32{0.1, 0.2, 0.3}, Limit: 10, Threshold: 0})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Content).To(Equal("new zero"))
		})

		It("publishes monotonic progress ending in the terminal state", func() {
			doc := newDocument("a.txt")
			taskID, err := sched.Submit(doc, []string{"one", "two", "three", "four"})
			Expect(err).NotTo(HaveOccurred())
			waitTerminal(taskID)

			var events []string
			Eventually(func() int {
				snaps := publisher.ForTask(taskID)
				events = events[:0]
				for _, s := range snaps {
					events = append(events, s.Status)
				}
				return len(snaps)
			}).Should(Equal(7))

			Expect(events[0]).To(Equal("pending"))
			Expect(events[1]).To(Equal("processing"))
			Expect(events[6]).To(Equal("completed"))

			snaps := publisher.ForTask(taskID)
			for i := 1; i < len(snaps); i++ {
				Expect(snaps[i].Progress).To(BeNumerically(">=", snaps[i-1].Progress))
				Expect(snaps[i].ChunksProcessed).To(BeNumerically(">=", snaps[i-1].ChunksProcessed))
			}
			Expect(snaps[2].Progress).To(Equal(25.0))
		})

		It("completes a task without chunks", func() {
			doc := newDocument("empty.txt")
			taskID, err := sched.Submit(doc, nil)
			Expect(err).NotTo(HaveOccurred())

			task := waitTerminal(taskID)
			Expect(task.Status).To(Equal(vectorize.StatusCompleted))
			Expect(task.Progress).To(Equal(100.0))
			Expect(task.ChunksTotal).To(BeZero())
		})
	})

	Describe("fail-fast", func() {
		Context("when the embedding client exhausts its retries", func() {
			BeforeEach(func() {
				embedder = resilient.New(mock, resilient.Config{
					MaxRetries:        2,
					BaseDelay:         time.Millisecond,
					MaxDelay:          2 * time.Millisecond,
					RequestsPerSecond: 1000,
				}, logger.Nop())
				mock.FailOn = "two"
				mock.FailErr = embeddings.Classify(http.StatusServiceUnavailable, http.Header{}, []byte("overloaded"))
			})

			It("fails the task after the first chunk", func() {
				doc := newDocument("a.txt")
				taskID, err := sched.Submit(doc, []string{"one", "two", "three"})
				Expect(err).NotTo(HaveOccurred())

				task := waitTerminal(taskID)
				Expect(task.Status).To(Equal(vectorize.StatusFailed))
				Expect(task.ChunksProcessed).To(Equal(1))
				Expect(task.ErrorMessage).To(HavePrefix("chunk 1: "))
				Expect(task.ErrorMessage).To(ContainSubstring("after 3 attempts"))
				Expect(task.CompletedAt).NotTo(BeNil())
				Expect(task.Progress).To(BeNumerically("<", 100))

				Expect(mock.Texts()).NotTo(ContainElement("three"))

				chunks, err := store.GetChunks(ctx, doc)
				Expect(err).NotTo(HaveOccurred())
				Expect(chunks).To(HaveLen(1))

				Eventually(func() vector.DocumentStatus {
					d, err := store.GetDocument(ctx, doc)
					Expect(err).NotTo(HaveOccurred())
					return d.Status
				}).Should(Equal(vector.StatusFailed))
			})
		})

		It("fails the task on a storage error", func() {
			store.SaveChunkErr = errors.New("disk full")
			store.FailChunkIndex = 0

			doc := newDocument("a.txt")
			taskID, err := sched.Submit(doc, []string{"one", "two"})
			Expect(err).NotTo(HaveOccurred())

			task := waitTerminal(taskID)
			Expect(task.Status).To(Equal(vectorize.StatusFailed))
			Expect(task.ChunksProcessed).To(BeZero())
			Expect(task.ErrorMessage).To(ContainSubstring("chunk 0: "))
			Expect(task.ErrorMessage).To(ContainSubstring("disk full"))
			Expect(store.SaveChunkCalls()).To(Equal(int64(1)))
		})

		It("fails the task when stale chunks cannot be removed", func() {
			store.TruncateErr = errors.New("locked")

			doc := newDocument("a.txt")
			taskID, err := sched.Submit(doc, []string{"one"})
			Expect(err).NotTo(HaveOccurred())

			task := waitTerminal(taskID)
			Expect(task.Status).To(Equal(vectorize.StatusFailed))
			Expect(task.ErrorMessage).To(HavePrefix("removing stale chunks: "))
			Expect(task.ErrorMessage).To(ContainSubstring("locked"))
		})

		It("accepts a new task for the document once the old one failed", func() {
			mock.FailOn = "bad"
			doc := newDocument("a.txt")
			first, err := sched.Submit(doc, []string{"bad"})
			Expect(err).NotTo(HaveOccurred())
			Expect(waitTerminal(first).Status).To(Equal(vectorize.StatusFailed))

			second, err := sched.Submit(doc, []string{"good"})
			Expect(err).NotTo(HaveOccurred())
			Expect(second).NotTo(Equal(first))
			Expect(waitTerminal(second).Status).To(Equal(vectorize.StatusCompleted))
		})
	})

	Describe("duplicate tasks", func() {
		BeforeEach(func() {
			mock.Block = make(chan struct{})
		})

		It("rejects the second of two concurrent submissions", func() {
			doc := newDocument("a.txt")

			var wg sync.WaitGroup
			errs := make([]error, 2)
			for i := range 2 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, errs[i] = sched.Submit(doc, []string{"one", "two"})
				}()
			}
			wg.Wait()

			var ok, dup int
			for _, err := range errs {
				switch {
				case err == nil:
					ok++
				case errors.Is(err, vectorize.ErrDuplicateTask):
					dup++
				}
			}
			Expect(ok).To(Equal(1))
			Expect(dup).To(Equal(1))
			Expect(sched.List()).To(HaveLen(1))
		})
	})

	Describe("progress observation", func() {
		It("exposes intermediate progress while a task is processing", func() {
			gate := make(chan struct{})
			reached := make(chan struct{})
			store.SaveChunkHook = func(_ int64, index int) {
				if index == 1 {
					close(reached)
					<-gate
				}
			}

			doc := newDocument("a.txt")
			taskID, err := sched.Submit(doc, []string{"one", "two", "three"})
			Expect(err).NotTo(HaveOccurred())

			Eventually(reached).Should(BeClosed())
			task, err := sched.Get(taskID)
			Expect(err).NotTo(HaveOccurred())
			Expect(task.Status).To(Equal(vectorize.StatusProcessing))
			Expect(task.ChunksProcessed).To(Equal(1))
			Expect(task.Progress).To(BeNumerically("~", 33.33, 0.01))

			stats := sched.Stats()
			Expect(stats.Processing).To(Equal(1))

			close(gate)
			Expect(waitTerminal(taskID).Status).To(Equal(vectorize.StatusCompleted))
		})
	})

	Describe("queueing", func() {
		BeforeEach(func() {
			cfg = vectorize.Config{NumWorkers: 1, QueueSize: 1}
			mock.Block = make(chan struct{})
		})

		It("rejects submissions when the queue is full without registering them", func() {
			first, err := sched.Submit(newDocument("a.txt"), []string{"a"})
			Expect(err).NotTo(HaveOccurred())
			Eventually(mock.Active).Should(Equal(int64(1)))

			_, err = sched.Submit(newDocument("b.txt"), []string{"b"})
			Expect(err).NotTo(HaveOccurred())

			third := newDocument("c.txt")
			_, err = sched.Submit(third, []string{"c"})
			Expect(err).To(MatchError(vectorize.ErrQueueFull))
			Expect(sched.List()).To(HaveLen(2))

			stats := sched.Stats()
			Expect(stats.Pending).To(Equal(1))
			Expect(stats.Processing).To(Equal(1))
			Expect(stats.Queued).To(Equal(1))

			close(mock.Block)
			Expect(waitTerminal(first).Status).To(Equal(vectorize.StatusCompleted))

			Eventually(func() error {
				_, err := sched.Submit(third, []string{"c"})
				return err
			}).Should(Succeed())
		})
	})

	Describe("ordering", func() {
		BeforeEach(func() {
			cfg = vectorize.Config{NumWorkers: 1, QueueSize: 8}
		})

		It("processes tasks in submission order", func() {
			var (
				mu    sync.Mutex
				order []int64
			)
			store.SaveChunkHook = func(documentID int64, _ int) {
				mu.Lock()
				order = append(order, documentID)
				mu.Unlock()
			}

			var (
				docs []int64
				ids  []string
			)
			for _, name := range []string{"a", "b", "c", "d"} {
				d := newDocument(name)
				docs = append(docs, d)
				id, err := sched.Submit(d, []string{name})
				Expect(err).NotTo(HaveOccurred())
				ids = append(ids, id)
			}
			for _, id := range ids {
				Expect(waitTerminal(id).Status).To(Equal(vectorize.StatusCompleted))
			}

			mu.Lock()
			defer mu.Unlock()
			Expect(order).To(Equal(docs))
			Expect(mock.Texts()).To(Equal([]string{"a", "b", "c", "d"}))
		})
	})

	Describe("List and Get", func() {
		It("lists newest first and returns copies", func() {
			a, err := sched.Submit(newDocument("a.txt"), []string{"a"})
			Expect(err).NotTo(HaveOccurred())
			b, err := sched.Submit(newDocument("b.txt"), []string{"b"})
			Expect(err).NotTo(HaveOccurred())

			tasks := sched.List()
			Expect(tasks).To(HaveLen(2))
			Expect(tasks[0].ID).To(Equal(b))
			Expect(tasks[1].ID).To(Equal(a))

			tasks[0].Status = vectorize.StatusFailed
			got, err := sched.Get(b)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).NotTo(Equal(vectorize.StatusFailed))
		})

		It("returns ErrTaskNotFound for unknown ids", func() {
			_, err := sched.Get("missing")
			Expect(err).To(MatchError(vectorize.ErrTaskNotFound))
		})
	})

	Describe("Close", func() {
		It("drains queued tasks and refuses new ones", func() {
			doc := newDocument("a.txt")
			taskID, err := sched.Submit(doc, []string{"one", "two"})
			Expect(err).NotTo(HaveOccurred())

			sched.Close()

			task, err := sched.Get(taskID)
			Expect(err).NotTo(HaveOccurred())
			Expect(task.Status).To(Equal(vectorize.StatusCompleted))

			_, err = sched.Submit(newDocument("b.txt"), []string{"x"})
			Expect(err).To(MatchError(vectorize.ErrSchedulerClosed))
		})
	})
})
