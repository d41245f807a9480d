package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/quarry/api/tools"
	"github.com/papercomputeco/quarry/pkg/retrieval"
	"github.com/papercomputeco/quarry/pkg/sse"
)

// rpcBody builds a tools/call envelope.
func rpcBody(name string, args any) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": args},
	}
}

// readEvents parses an SSE body into its events.
func readEvents(body []byte) []sse.Event {
	r := sse.NewReader(strings.NewReader(string(body)))
	var events []sse.Event
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return events
		}
		Expect(err).NotTo(HaveOccurred())
		events = append(events, ev)
	}
}

func eventTypes(events []sse.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

var _ = Describe("JSON-RPC", func() {
	var st *testStack

	BeforeEach(func() {
		st = newTestStack(0)
	})

	It("lists the tools", func() {
		resp, body := st.do(http.MethodPost, "/rpc", `{"jsonrpc":"2.0","id":"a","method":"tools/list"}`)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var out struct {
			ID     string   `json:"id"`
			Result ToolList `json:"result"`
		}
		Expect(json.Unmarshal(body, &out)).To(Succeed())
		Expect(out.ID).To(Equal("a"))
		Expect(out.Result.Tools).To(HaveLen(len(tools.Names)))
	})

	It("calls rag_search", func() {
		_, body := st.do(http.MethodPost, "/rpc", rpcBody("rag_search", map[string]any{"query": "x", "limit": 5, "threshold": 0.5}))

		var out struct {
			Result retrieval.Response `json:"result"`
			Error  *RPCError          `json:"error"`
		}
		Expect(json.Unmarshal(body, &out)).To(Succeed())
		Expect(out.Error).To(BeNil())
		Expect(out.Result.TotalResults).To(Equal(2))
		Expect(out.Result.Results[0].DocumentID).To(Equal(st.docA))
	})

	DescribeTable("reports errors with JSON-RPC codes",
		func(body any, code int) {
			resp, data := st.do(http.MethodPost, "/rpc", body)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			out := decodeJSON[RPCResponse](data)
			Expect(out.Error).NotTo(BeNil())
			Expect(out.Error.Code).To(Equal(code))
			Expect(st.mock.Calls()).To(BeZero())
		},
		Entry("parse error", `{"jsonrpc":`, CodeParseError),
		Entry("batch", `[]`, CodeInvalidRequest),
		Entry("wrong version", `{"jsonrpc":"1.0","id":1,"method":"tools/list"}`, CodeInvalidRequest),
		Entry("unknown method", `{"jsonrpc":"2.0","id":1,"method":"tools/drop"}`, CodeMethodNotFound),
		Entry("unknown tool", rpcBody("drop_database", map[string]any{}), CodeMethodNotFound),
		Entry("missing params", `{"jsonrpc":"2.0","id":1,"method":"tools/call"}`, CodeInvalidParams),
		Entry("limit out of range", rpcBody("rag_search", map[string]any{"query": "x", "limit": 0}), CodeInvalidParams),
		Entry("missing query", rpcBody("rag_search", map[string]any{}), CodeInvalidParams),
		Entry("unknown document", rpcBody("get_document", map[string]any{"document_id": 999}), CodeInvalidParams),
		Entry("streaming tool", rpcBody("rag_query_stream", map[string]any{"query": "x"}), CodeInvalidParams),
	)

	It("maps storage failures", func() {
		st.store.SearchErr = errStorageForTest
		_, data := st.do(http.MethodPost, "/rpc", rpcBody("rag_search", map[string]any{"query": "x"}))
		out := decodeJSON[RPCResponse](data)
		Expect(out.Error.Code).To(Equal(CodeStorageError))
	})

	It("maps provider failures", func() {
		st.mock.FailOn = "x"
		st.mock.FailErr = errProviderForTest
		_, data := st.do(http.MethodPost, "/rpc", rpcBody("rag_search", map[string]any{"query": "x"}))
		out := decodeJSON[RPCResponse](data)
		Expect(out.Error.Code).To(Equal(CodeProviderError))
	})
})

var _ = Describe("Streaming", func() {
	var st *testStack

	BeforeEach(func() {
		st = newTestStack(20 * time.Millisecond)
	})

	It("streams rag_query_stream over /rpc/stream", func() {
		resp, body := st.do(http.MethodPost, "/rpc/stream", rpcBody("rag_query_stream", map[string]any{"query": "x"}))
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/event-stream"))

		Expect(eventTypes(readEvents(body))).To(Equal([]string{
			tools.EventStatus,
			tools.EventDocuments,
			tools.EventStatus,
			tools.EventContent,
			tools.EventContent,
			tools.EventCompleted,
		}))
	})

	It("streams GET /v1/query/stream", func() {
		resp, body := st.do(http.MethodGet, "/v1/query/stream?query=x&threshold=0.9", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		events := readEvents(body)
		Expect(events[len(events)-1].Type).To(Equal(tools.EventCompleted))
		Expect(eventTypes(events)).To(ContainElement(tools.EventContent))
	})

	It("ends with an error event when retrieval fails", func() {
		st.store.SearchErr = errStorageForTest
		_, body := st.do(http.MethodGet, "/v1/query/stream?query=x", nil)

		events := readEvents(body)
		Expect(events[len(events)-1].Type).To(Equal(tools.EventError))
	})

	It("returns validation errors before streaming", func() {
		resp, _ := st.do(http.MethodGet, "/v1/query/stream?query=", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

		_, data := st.do(http.MethodPost, "/rpc/stream", rpcBody("rag_query_stream", map[string]any{"query": "x", "threshold": 2}))
		out := decodeJSON[RPCResponse](data)
		Expect(out.Error.Code).To(Equal(CodeInvalidParams))
	})

	It("releases the embedding slot when the client disconnects", func() {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		go func() { _ = st.server.app.Listener(ln) }()
		DeferCleanup(st.server.Shutdown)

		st.mock.Block = make(chan struct{})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+ln.Addr().String()+"/v1/query/stream?query=x", nil)
		Expect(err).NotTo(HaveOccurred())
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())

		first, err := sse.NewReader(resp.Body).Next()
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Type).To(Equal(tools.EventStatus))
		Eventually(st.client.InFlight).Should(Equal(int64(1)))

		cancel()
		_ = resp.Body.Close()
		Eventually(st.client.InFlight, 5*time.Second).Should(BeZero())

		close(st.mock.Block)
		_, data := st.do(http.MethodPost, "/rpc", rpcBody("rag_search", map[string]any{"query": "x"}))
		Expect(decodeJSON[RPCResponse](data).Error).To(BeNil())
	})
})
