package mcp_test

import (
	"context"
	"encoding/json"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/quarry/api/mcp"
	"github.com/papercomputeco/quarry/api/tools"
	"github.com/papercomputeco/quarry/pkg/logger"
	"github.com/papercomputeco/quarry/pkg/retrieval"
	testutils "github.com/papercomputeco/quarry/pkg/utils/test"
	"github.com/papercomputeco/quarry/pkg/vector/inmemory"
)

var _ = Describe("MCP Server", func() {
	var (
		ctx        context.Context
		embedder   *testutils.MockEmbedder
		dispatcher *tools.Dispatcher
		session    *sdk.ClientSession
		docA       int64
	)

	connect := func(server *mcp.Server) *sdk.ClientSession {
		serverTransport, clientTransport := sdk.NewInMemoryTransports()
		ss, err := server.MCPServer().Connect(ctx, serverTransport, nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(ss.Close)

		client := sdk.NewClient(&sdk.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
		cs, err := client.Connect(ctx, clientTransport, nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(cs.Close)
		return cs
	}

	textOf := func(res *sdk.CallToolResult) map[string]any {
		Expect(res.Content).To(HaveLen(1))
		text, ok := res.Content[0].(*sdk.TextContent)
		Expect(ok).To(BeTrue())
		var body map[string]any
		Expect(json.Unmarshal([]byte(text.Text), &body)).To(Succeed())
		return body
	}

	BeforeEach(func() {
		ctx = context.Background()
		embedder = testutils.NewMockEmbedder()
		embedder.Embeddings["x"] = []float32{1, 0}
		store := inmemory.NewStore()
		docA, _ = testutils.SeedStore(ctx, store)

		engine, err := retrieval.NewEngine(retrieval.Config{}, embedder, store, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		dispatcher, err = tools.NewDispatcher(engine, logger.Nop())
		Expect(err).NotTo(HaveOccurred())

		server, err := mcp.NewServer(mcp.Config{Dispatcher: dispatcher, Logger: logger.Nop()})
		Expect(err).NotTo(HaveOccurred())
		Expect(server.Handler()).NotTo(BeNil())
		session = connect(server)
	})

	Describe("NewServer", func() {
		It("requires a dispatcher", func() {
			_, err := mcp.NewServer(mcp.Config{Logger: logger.Nop()})
			Expect(err).To(MatchError(ContainSubstring("tool dispatcher is required")))
		})

		It("requires a logger", func() {
			_, err := mcp.NewServer(mcp.Config{Dispatcher: dispatcher})
			Expect(err).To(MatchError(ContainSubstring("logger is required")))
		})

		It("builds an empty server when noop", func() {
			server, err := mcp.NewServer(mcp.Config{Noop: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(server.Handler()).NotTo(BeNil())
		})
	})

	It("lists the non-streaming tools", func() {
		res, err := session.ListTools(ctx, nil)
		Expect(err).NotTo(HaveOccurred())

		var names []string
		for _, t := range res.Tools {
			names = append(names, t.Name)
		}
		Expect(names).To(ConsistOf("rag_search", "list_documents", "get_document", "search_statistics"))
	})

	It("runs rag_search", func() {
		res, err := session.CallTool(ctx, &sdk.CallToolParams{
			Name:      "rag_search",
			Arguments: map[string]any{"query": "x", "limit": 5, "threshold": 0.5},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.IsError).To(BeFalse())

		body := textOf(res)
		Expect(body["total_results"]).To(BeEquivalentTo(2))
		results := body["results"].([]any)
		Expect(results[0].(map[string]any)["similarity_score"]).To(BeNumerically("~", 1.0, 1e-6))
		Expect(res.StructuredContent).NotTo(BeNil())
	})

	It("runs get_document", func() {
		res, err := session.CallTool(ctx, &sdk.CallToolParams{
			Name:      "get_document",
			Arguments: map[string]any{"document_id": docA},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.IsError).To(BeFalse())
		body := textOf(res)
		Expect(body["chunks"]).To(HaveLen(2))
	})

	It("reports invalid params as a tool error", func() {
		res, err := session.CallTool(ctx, &sdk.CallToolParams{
			Name:      "rag_search",
			Arguments: map[string]any{"query": "x", "limit": 0},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.IsError).To(BeTrue())

		body := textOf(res)
		Expect(body["success"]).To(BeFalse())
		Expect(body["tool"]).To(Equal("rag_search"))
		Expect(body["error"]).To(ContainSubstring("invalid params"))
		Expect(embedder.Calls()).To(BeZero())
	})

	It("reports a missing document as a tool error", func() {
		res, err := session.CallTool(ctx, &sdk.CallToolParams{
			Name:      "get_document",
			Arguments: map[string]any{"document_id": 999},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.IsError).To(BeTrue())
		Expect(textOf(res)["error"]).To(ContainSubstring("document not found"))
	})
})
