package resilient_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/quarry/pkg/embeddings"
	"github.com/papercomputeco/quarry/pkg/embeddings/resilient"
	"github.com/papercomputeco/quarry/pkg/logger"
	testutils "github.com/papercomputeco/quarry/pkg/utils/test"
)

func fastConfig() resilient.Config {
	return resilient.Config{
		MaxConcurrent:     2,
		RequestsPerSecond: 1000,
		Burst:             1000,
		MaxRetries:        3,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		CallTimeout:       time.Second,
		MaxInputChars:     100,
	}
}

var _ = Describe("Client", func() {
	var (
		mock   *testutils.MockEmbedder
		client *resilient.Client
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		mock = testutils.NewMockEmbedder()
		mock.Embeddings["hello"] = []float32{1, 0, 0}
		client = resilient.New(mock, fastConfig(), logger.Nop())
	})

	Describe("validation", func() {
		It("rejects empty text without calling the provider", func() {
			_, err := client.Embed(ctx, "   ")
			Expect(err).To(MatchError(embeddings.ErrInvalidInput))
			Expect(mock.Calls()).To(BeZero())
		})

		It("rejects oversized text without calling the provider", func() {
			_, err := client.Embed(ctx, strings.Repeat("x", 101))
			Expect(err).To(MatchError(embeddings.ErrInvalidInput))
			Expect(mock.Calls()).To(BeZero())
		})

		It("rejects a batch with any invalid element", func() {
			_, err := client.EmbedBatch(ctx, []string{"hello", ""})
			Expect(err).To(MatchError(embeddings.ErrInvalidInput))
			Expect(err.Error()).To(ContainSubstring("batch item 1"))
			Expect(mock.Calls()).To(BeZero())
		})

		It("rejects an empty batch", func() {
			_, err := client.EmbedBatch(ctx, nil)
			Expect(err).To(MatchError(embeddings.ErrInvalidInput))
		})
	})

	It("returns embeddings from the provider", func() {
		vec, err := client.Embed(ctx, "hello")
		Expect(err).NotTo(HaveOccurred())
		Expect(vec).To(Equal([]float32{1, 0, 0}))

		vecs, err := client.EmbedBatch(ctx, []string{"hello", "other"})
		Expect(err).NotTo(HaveOccurred())
		Expect(vecs).To(HaveLen(2))
		Expect(vecs[0]).To(Equal([]float32{1, 0, 0}))
	})

	Describe("retries", func() {
		It("retries rate limited calls and then succeeds", func() {
			mock.Errs = []error{
				embeddings.Classify(http.StatusTooManyRequests, http.Header{}, nil),
				embeddings.Classify(http.StatusTooManyRequests, http.Header{}, nil),
			}

			vec, err := client.Embed(ctx, "hello")
			Expect(err).NotTo(HaveOccurred())
			Expect(vec).To(Equal([]float32{1, 0, 0}))
			Expect(mock.Calls()).To(Equal(int64(3)))
		})

		It("retries transient provider failures", func() {
			mock.Errs = []error{embeddings.Unreachable(errors.New("connection reset"))}

			_, err := client.Embed(ctx, "hello")
			Expect(err).NotTo(HaveOccurred())
			Expect(mock.Calls()).To(Equal(int64(2)))
		})

		It("gives up after the retry bound and keeps the cause", func() {
			mock.FailOn = "hello"
			mock.FailErr = embeddings.Classify(http.StatusServiceUnavailable, http.Header{}, []byte("down"))

			_, err := client.Embed(ctx, "hello")
			Expect(err).To(MatchError(embeddings.ErrProviderUnavailable))
			Expect(err.Error()).To(ContainSubstring("after 4 attempts"))
			Expect(mock.Calls()).To(Equal(int64(4)))
		})

		It("does not retry permanent failures", func() {
			mock.FailOn = "hello"
			mock.FailErr = embeddings.Classify(http.StatusUnauthorized, http.Header{}, nil)

			_, err := client.Embed(ctx, "hello")
			Expect(err).To(MatchError(embeddings.ErrProviderUnavailable))
			Expect(mock.Calls()).To(Equal(int64(1)))
		})

		It("does not retry invalid input reported by the provider", func() {
			mock.FailOn = "hello"
			mock.FailErr = embeddings.Classify(http.StatusBadRequest, http.Header{}, nil)

			_, err := client.Embed(ctx, "hello")
			Expect(err).To(MatchError(embeddings.ErrInvalidInput))
			Expect(mock.Calls()).To(Equal(int64(1)))
		})

		It("does not retry when retries are disabled", func() {
			cfg := fastConfig()
			cfg.MaxRetries = resilient.NoRetries
			client = resilient.New(mock, cfg, logger.Nop())
			mock.Errs = []error{embeddings.Unreachable(errors.New("reset"))}

			_, err := client.Embed(ctx, "hello")
			Expect(err).To(MatchError(embeddings.ErrProviderUnavailable))
			Expect(mock.Calls()).To(Equal(int64(1)))
		})
	})

	Describe("timeouts", func() {
		It("treats a call exceeding its timeout as transient", func() {
			cfg := fastConfig()
			cfg.CallTimeout = 20 * time.Millisecond
			cfg.MaxRetries = 1
			client = resilient.New(mock, cfg, logger.Nop())
			mock.Block = make(chan struct{})

			_, err := client.Embed(ctx, "hello")
			Expect(err).To(MatchError(embeddings.ErrProviderUnavailable))
			Expect(err.Error()).To(ContainSubstring("timeout"))
			Expect(mock.Calls()).To(Equal(int64(2)))
		})

		It("returns caller cancellation without retrying", func() {
			mock.Block = make(chan struct{})
			cctx, cancel := context.WithCancel(ctx)
			time.AfterFunc(20*time.Millisecond, cancel)

			_, err := client.Embed(cctx, "hello")
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
			Expect(mock.Calls()).To(Equal(int64(1)))
		})
	})

	Describe("concurrency ceiling", func() {
		It("queues callers beyond the ceiling instead of failing them", func() {
			mock.Block = make(chan struct{})

			var wg sync.WaitGroup
			errs := make(chan error, 6)
			for range 6 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := client.Embed(ctx, "hello")
					errs <- err
				}()
			}

			Eventually(client.InFlight).Should(Equal(int64(2)))
			Consistently(mock.Active, 50*time.Millisecond).Should(BeNumerically("<=", 2))

			close(mock.Block)
			wg.Wait()
			close(errs)

			for err := range errs {
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(mock.MaxActive()).To(Equal(int64(2)))
			Expect(client.InFlight()).To(BeZero())
		})

		It("releases the slot when a waiting caller is cancelled", func() {
			mock.Block = make(chan struct{})
			cfg := fastConfig()
			cfg.MaxConcurrent = 1
			client = resilient.New(mock, cfg, logger.Nop())

			cctx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() {
				_, err := client.Embed(cctx, "hello")
				done <- err
			}()
			Eventually(client.InFlight).Should(Equal(int64(1)))

			cancel()
			Eventually(done).Should(Receive(MatchError(context.Canceled)))
			Eventually(client.InFlight).Should(BeZero())

			close(mock.Block)
			_, err := client.Embed(ctx, "hello")
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
