// Package api provides the HTTP server for the retrieval tools, the
// vectorization task queue and document management.
package api

import (
	"net/http"
	"time"

	"github.com/papercomputeco/quarry/api/tools"
	"github.com/papercomputeco/quarry/pkg/ingest"
	"github.com/papercomputeco/quarry/pkg/retrieval"
	"github.com/papercomputeco/quarry/pkg/vector"
	"github.com/papercomputeco/quarry/pkg/vectorize"
)

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8081")
	ListenAddr string

	Dispatcher *tools.Dispatcher
	Engine     *retrieval.Engine
	Scheduler  *vectorize.Scheduler
	Ingestor   *ingest.Ingestor
	Store      vector.Store

	// MCPHandler is mounted at /mcp when set.
	MCPHandler http.Handler

	// StreamHeartbeat is the keep-alive interval of event streams
	// (defaults to 15s).
	StreamHeartbeat time.Duration
}

const defaultStreamHeartbeat = 15 * time.Second
