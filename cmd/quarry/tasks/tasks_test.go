package taskscmder

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/charmbracelet/x/ansi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/quarry/pkg/vectorize"
)

var _ = Describe("Tasks command", func() {
	var (
		server *httptest.Server
		tasks  []vectorize.Task
		out    *bytes.Buffer
	)

	run := func(args ...string) error {
		cmd := NewTasksCmd()
		cmd.PersistentFlags().String("config-dir", "", "")
		out = &bytes.Buffer{}
		cmd.SetOut(out)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(append(args, "--config-dir", GinkgoT().TempDir(), "--api-target", server.URL))
		return cmd.Execute()
	}

	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	BeforeEach(func() {
		started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		completed := started.Add(1500 * time.Millisecond)
		tasks = []vectorize.Task{
			{
				ID: "a1b2c3d4e5f6", DocumentID: 7, Status: vectorize.StatusCompleted, Progress: 100,
				ChunksTotal: 4, ChunksProcessed: 4, CreatedAt: started, StartedAt: &started, CompletedAt: &completed,
			},
			{
				ID: "ffee0011", DocumentID: 8, Status: vectorize.StatusFailed, Progress: 50,
				ChunksTotal: 2, ChunksProcessed: 1, ErrorMessage: "embedding failed", CreatedAt: started,
			},
		}

		mux := http.NewServeMux()
		mux.HandleFunc("GET /v1/tasks", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, map[string]any{"tasks": tasks})
		})
		mux.HandleFunc("GET /v1/tasks/stats", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, vectorize.Stats{Total: 2, Completed: 1, Failed: 1, Workers: 2})
		})
		mux.HandleFunc("GET /v1/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
			for _, t := range tasks {
				if t.ID == r.PathValue("id") {
					writeJSON(w, t)
					return
				}
			}
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]string{"error": "task not found"})
		})
		server = httptest.NewServer(mux)
	})

	AfterEach(func() {
		server.Close()
	})

	It("lists tasks with progress", func() {
		Expect(run()).To(Succeed())

		text := ansi.Strip(out.String())
		Expect(text).To(ContainSubstring("a1b2c3d4  doc 7"))
		Expect(text).To(ContainSubstring("100.0%  4/4 chunks"))
		Expect(text).To(ContainSubstring("ffee0011  doc 8"))
		Expect(text).To(ContainSubstring("embedding failed"))
	})

	It("reports an empty task list", func() {
		tasks = nil
		Expect(run()).To(Succeed())
		Expect(out.String()).To(Equal("No tasks.\n"))
	})

	It("prints JSON with --json", func() {
		Expect(run("--json")).To(Succeed())

		var got []vectorize.Task
		Expect(json.Unmarshal(out.Bytes(), &got)).To(Succeed())
		Expect(got).To(HaveLen(2))
		Expect(got[1].ErrorMessage).To(Equal("embedding failed"))
	})

	It("shows a single task", func() {
		Expect(run("show", "a1b2c3d4e5f6")).To(Succeed())

		text := ansi.Strip(out.String())
		Expect(text).To(ContainSubstring("Task:      a1b2c3d4e5f6"))
		Expect(text).To(ContainSubstring("Chunks:    4/4"))
		Expect(text).To(ContainSubstring("Duration:  1.5s"))
	})

	It("fails for an unknown task", func() {
		err := run("show", "missing")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("task missing"))
	})

	It("shows scheduler statistics", func() {
		Expect(run("stats")).To(Succeed())

		text := ansi.Strip(out.String())
		Expect(text).To(ContainSubstring("Total:     2"))
		Expect(text).To(ContainSubstring("Failed:    1"))
		Expect(text).To(ContainSubstring("Workers:   2"))
	})
})
