package tools_test

import (
	"context"
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/quarry/api/tools"
	"github.com/papercomputeco/quarry/pkg/embeddings"
	"github.com/papercomputeco/quarry/pkg/embeddings/resilient"
	"github.com/papercomputeco/quarry/pkg/logger"
	"github.com/papercomputeco/quarry/pkg/retrieval"
	"github.com/papercomputeco/quarry/pkg/sse"
	testutils "github.com/papercomputeco/quarry/pkg/utils/test"
	"github.com/papercomputeco/quarry/pkg/vector/inmemory"
)

// drain reads events until the channel closes.
func drain(events <-chan sse.Event) []sse.Event {
	var out []sse.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			Fail("stream did not close")
			return out
		}
	}
}

func types(events []sse.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func payload[T any](ev sse.Event) T {
	var v T
	Expect(json.Unmarshal([]byte(ev.Data), &v)).To(Succeed())
	return v
}

var _ = Describe("Stream", func() {
	var (
		ctx        context.Context
		mock       *testutils.MockEmbedder
		client     *resilient.Client
		dispatcher *tools.Dispatcher
	)

	BeforeEach(func() {
		ctx = context.Background()
		mock = testutils.NewMockEmbedder()
		mock.Embeddings["x"] = []float32{1, 0}
		client = resilient.New(mock, resilient.Config{
			MaxConcurrent:     1,
			RequestsPerSecond: 1000,
			MaxRetries:        resilient.NoRetries,
			CallTimeout:       time.Minute,
		}, logger.Nop())

		store := inmemory.NewStore()
		testutils.SeedStore(ctx, store)

		engine, err := retrieval.NewEngine(retrieval.Config{}, client, store, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		dispatcher, err = tools.NewDispatcher(engine, logger.Nop())
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
	})

	It("emits status, documents, status, content and completed in order", func() {
		events, err := dispatcher.Stream(ctx, string(tools.RAGQueryStream), json.RawMessage(`{"query":"x"}`))
		Expect(err).NotTo(HaveOccurred())

		got := drain(events)
		Expect(types(got)).To(Equal([]string{
			tools.EventStatus,
			tools.EventDocuments,
			tools.EventStatus,
			tools.EventContent,
			tools.EventContent,
			tools.EventCompleted,
		}))

		Expect(payload[tools.StatusPayload](got[0]).Status).To(Equal(tools.PhaseSearching))
		Expect(payload[tools.DocumentsPayload](got[1]).TotalResults).To(Equal(2))
		Expect(payload[tools.StatusPayload](got[2]).Status).To(Equal(tools.PhaseGenerating))

		first := payload[tools.ContentPayload](got[3])
		second := payload[tools.ContentPayload](got[4])
		Expect(first.Index).To(Equal(0))
		Expect(first.Content).To(Equal("alpha one"))
		Expect(second.Index).To(Equal(1))

		completed := payload[tools.CompletedPayload](got[5])
		Expect(completed.Tokens).To(Equal(4))
		Expect(completed.TotalResults).To(Equal(2))
		Expect(completed.TotalTimeMS).To(BeNumerically(">=", 0))
	})

	It("completes without content events when nothing matches", func() {
		events, err := dispatcher.Stream(ctx, string(tools.RAGQueryStream), json.RawMessage(`{"query":"x","threshold":1,"document_ids":[999]}`))
		Expect(err).NotTo(HaveOccurred())

		got := drain(events)
		Expect(types(got)).To(Equal([]string{
			tools.EventStatus, tools.EventDocuments, tools.EventStatus, tools.EventCompleted,
		}))
		Expect(payload[tools.CompletedPayload](got[3]).Tokens).To(BeZero())
	})

	It("ends with a single error event when retrieval fails", func() {
		mock.FailOn = "x"
		mock.FailErr = &embeddings.ProviderError{Kind: embeddings.ErrProviderUnavailable, Message: "offline"}

		events, err := dispatcher.Stream(ctx, string(tools.RAGQueryStream), json.RawMessage(`{"query":"x"}`))
		Expect(err).NotTo(HaveOccurred())

		got := drain(events)
		Expect(types(got)).To(Equal([]string{tools.EventStatus, tools.EventError}))
		Expect(payload[tools.ErrorPayload](got[1]).Message).To(ContainSubstring("offline"))
	})

	It("returns validation errors synchronously", func() {
		_, err := dispatcher.Stream(ctx, string(tools.RAGQueryStream), json.RawMessage(`{}`))
		Expect(err).To(MatchError(tools.ErrInvalidParams))

		_, err = dispatcher.Stream(ctx, "unknown", json.RawMessage(`{"query":"x"}`))
		Expect(err).To(MatchError(tools.ErrToolNotFound))

		_, err = dispatcher.Stream(ctx, string(tools.RAGSearch), json.RawMessage(`{"query":"x"}`))
		Expect(err).To(MatchError(tools.ErrInvalidParams))
		Expect(mock.Calls()).To(BeZero())
	})

	It("stops after a disconnect and releases the embedding slot", func() {
		mock.Block = make(chan struct{})
		streamCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		events, err := dispatcher.Stream(streamCtx, string(tools.RAGQueryStream), json.RawMessage(`{"query":"x"}`))
		Expect(err).NotTo(HaveOccurred())

		var first sse.Event
		Eventually(events).Should(Receive(&first))
		Expect(first.Type).To(Equal(tools.EventStatus))

		Eventually(client.InFlight).Should(Equal(int64(1)))
		cancel()

		rest := drain(events)
		Expect(rest).To(BeEmpty())
		Eventually(client.InFlight, time.Second).Should(BeZero())
		Eventually(mock.Active, time.Second).Should(BeZero())

		// the slot is free for the next caller
		close(mock.Block)
		out, err := dispatcher.Call(ctx, string(tools.RAGSearch), json.RawMessage(`{"query":"x"}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.(*retrieval.Response).TotalResults).To(Equal(2))
	})
})
