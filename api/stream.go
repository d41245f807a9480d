package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/quarry/api/tools"
	"github.com/papercomputeco/quarry/pkg/sse"
)

// handleRPCStream runs a streaming tools/call and answers with an event
// stream. Envelope and validation errors are returned as a JSON-RPC error.
func (s *Server) handleRPCStream(c *fiber.Ctx) error {
	req, failure := parseRPC(c.Body())
	if failure != nil {
		return c.JSON(failure)
	}
	if req.Method != MethodToolsCall {
		return c.JSON(rpcFailure(req.ID, CodeMethodNotFound, "only tools/call can be streamed"))
	}
	params, failure := parseCallParams(req)
	if failure != nil {
		return c.JSON(failure)
	}

	ctx, cancel := context.WithCancel(context.Background())
	events, err := s.config.Dispatcher.Stream(ctx, params.Name, params.Arguments)
	if err != nil {
		cancel()
		return c.JSON(rpcFailure(req.ID, rpcCode(err), err.Error()))
	}

	s.streamEvents(c, events, cancel)
	return nil
}

// handleQueryStream is the GET form of rag_query_stream. Query parameters
// mirror the tool arguments.
func (s *Server) handleQueryStream(c *fiber.Ctx) error {
	params, err := searchParams(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	args, err := json.Marshal(params)
	if err != nil {
		return s.fail(c, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	events, err := s.config.Dispatcher.Stream(ctx, string(tools.RAGQueryStream), args)
	if err != nil {
		cancel()
		return s.fail(c, err)
	}

	s.streamEvents(c, events, cancel)
	return nil
}

// streamEvents drains events into the response body through an io.Pipe so
// every event is flushed as it is written. A failed write means the client
// went away: the producer is cancelled and the remaining events dropped.
func (s *Server) streamEvents(c *fiber.Ctx, events <-chan sse.Event, cancel context.CancelFunc) {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	pr, pw := io.Pipe()
	go func() {
		defer cancel()
		defer pw.Close()

		heartbeat := time.NewTicker(s.heartbeat)
		defer heartbeat.Stop()

		for {
			var err error
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				err = sse.Encode(pw, ev)
			case <-heartbeat.C:
				err = sse.EncodeComment(pw, "keep-alive")
			}
			if err != nil {
				s.logger.Debug("stream client disconnected", "error", err)
				cancel()
				for range events {
				}
				return
			}
		}
	}()

	c.Context().Response.SetBodyStream(pr, -1)
}

// searchParams reads rag_search arguments from the query string.
func searchParams(c *fiber.Ctx) (tools.SearchParams, error) {
	params := tools.SearchParams{Query: strings.Clone(c.Query("query"))}

	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return params, errInvalidQueryParam("limit")
		}
		params.Limit = &n
	}
	if v := c.Query("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return params, errInvalidQueryParam("threshold")
		}
		params.Threshold = &f
	}
	if v := c.Query("document_ids"); v != "" {
		for _, part := range strings.Split(v, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return params, errInvalidQueryParam("document_ids")
			}
			params.DocumentIDs = append(params.DocumentIDs, id)
		}
	}
	return params, nil
}

func errInvalidQueryParam(name string) error {
	return fmt.Errorf("invalid %s query parameter", name)
}
