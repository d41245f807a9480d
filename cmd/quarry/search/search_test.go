package searchcmder_test

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"

	"github.com/charmbracelet/x/ansi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	searchcmder "github.com/papercomputeco/quarry/cmd/quarry/search"
)

const searchResponse = `{
  "results": [
    {"chunk_id": 11, "document_id": 1, "document_name": "a.md", "content": "alpha\none", "similarity_score": 0.98, "chunk_index": 0},
    {"chunk_id": 12, "document_id": 1, "document_name": "a.md", "content": "beta two", "similarity_score": 0.81, "chunk_index": 1}
  ],
  "total_results": 2,
  "query": "alpha",
  "limit": 5,
  "threshold": 0.7,
  "query_time_ms": 3
}`

var _ = Describe("Search command", func() {
	var (
		server *httptest.Server
		query  url.Values
		out    *bytes.Buffer
		body   string
	)

	run := func(args ...string) error {
		cmd := searchcmder.NewSearchCmd()
		cmd.PersistentFlags().String("config-dir", "", "")
		out = &bytes.Buffer{}
		cmd.SetOut(out)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(append([]string{"--config-dir", GinkgoT().TempDir(), "--api-target", server.URL}, args...))
		return cmd.Execute()
	}

	BeforeEach(func() {
		body = searchResponse
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			query = r.URL.Query()
			fmt.Fprint(w, body)
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	It("requires exactly one query argument", func() {
		Expect(run()).NotTo(Succeed())
	})

	It("prints ranked results", func() {
		Expect(run("alpha")).To(Succeed())

		text := ansi.Strip(out.String())
		Expect(text).To(ContainSubstring(`Search Results for: "alpha"`))
		Expect(text).To(ContainSubstring("#1  score: 0.9800  a.md [doc 1, chunk 0]"))
		Expect(text).To(ContainSubstring("alpha one"))
		Expect(text).To(ContainSubstring("#2  score: 0.8100"))
	})

	It("sends only the parameters that were set", func() {
		Expect(run("alpha")).To(Succeed())
		Expect(query.Get("query")).To(Equal("alpha"))
		Expect(query).NotTo(HaveKey("limit"))
		Expect(query).NotTo(HaveKey("threshold"))

		Expect(run("alpha", "--limit", "3", "--threshold", "0", "--document", "1", "--document", "4")).To(Succeed())
		Expect(query.Get("limit")).To(Equal("3"))
		Expect(query.Get("threshold")).To(Equal("0"))
		Expect(query.Get("document_ids")).To(Equal("1,4"))
	})

	It("prints document and chunk pairs with --quiet", func() {
		Expect(run("alpha", "--quiet")).To(Succeed())
		Expect(out.String()).To(Equal("1:0\n1:1\n"))
	})

	It("prints the raw response with --json", func() {
		Expect(run("alpha", "--json")).To(Succeed())
		Expect(out.String()).To(ContainSubstring(`"document_name": "a.md"`))
	})

	It("renders full chunk content with --full", func() {
		Expect(run("alpha", "--full")).To(Succeed())

		text := ansi.Strip(out.String())
		Expect(text).To(ContainSubstring("#1  score: 0.9800"))
		Expect(text).To(ContainSubstring("alpha one"))
		Expect(text).To(ContainSubstring("beta two"))
	})

	It("reports an empty result set", func() {
		body = `{"results":[],"total_results":0,"query":"zzz"}`
		Expect(run("zzz")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("No results found."))
	})
})

var _ = DescribeTable("Preview",
	func(content string, width int, expected string) {
		Expect(searchcmder.Preview(content, width)).To(Equal(expected))
	},
	Entry("short text is kept", "hello world", 20, "hello world"),
	Entry("whitespace is collapsed", "hello\n\n  world", 20, "hello world"),
	Entry("long text is truncated", "abcdefghijklmnop", 10, "abcdefg..."),
	Entry("runes are not split", "ééééééééé", 6, "ééé..."),
)
