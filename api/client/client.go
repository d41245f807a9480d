// Package client is the HTTP client the quarry CLI uses to talk to a
// running API server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/papercomputeco/quarry/api/tools"
	"github.com/papercomputeco/quarry/pkg/ingest"
	"github.com/papercomputeco/quarry/pkg/retrieval"
	"github.com/papercomputeco/quarry/pkg/sse"
	"github.com/papercomputeco/quarry/pkg/utils"
	"github.com/papercomputeco/quarry/pkg/vectorize"
)

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx response from the API.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed (HTTP %d): %s", e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Client wraps the REST and streaming endpoints of the API server.
type Client struct {
	target *url.URL
	http   *http.Client
}

// New returns a Client for the server at target, e.g. http://localhost:8081.
// A nil httpClient uses http.DefaultClient.
func New(target string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid API target URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API target URL: %q", target)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{target: u, http: httpClient}, nil
}

// Target returns the server URL.
func (c *Client) Target() string {
	return c.target.String()
}

// Search runs a one-shot search.
func (c *Client) Search(ctx context.Context, params tools.SearchParams) (*retrieval.Response, error) {
	out := &retrieval.Response{}
	if err := c.do(ctx, http.MethodGet, "/v1/search", searchQuery(params), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// IngestDocument stores a document and queues its vectorization.
func (c *Client) IngestDocument(ctx context.Context, doc ingest.Document) (*ingest.Result, error) {
	out := &ingest.Result{}
	if err := c.do(ctx, http.MethodPost, "/v1/documents", nil, doc, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListDocuments returns every stored document.
func (c *Client) ListDocuments(ctx context.Context) (*tools.DocumentList, error) {
	out := &tools.DocumentList{}
	if err := c.do(ctx, http.MethodGet, "/v1/documents", nil, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetDocument returns a document with its chunks.
func (c *Client) GetDocument(ctx context.Context, id int64) (*retrieval.DocumentDetail, error) {
	out := &retrieval.DocumentDetail{}
	if err := c.do(ctx, http.MethodGet, "/v1/documents/"+strconv.FormatInt(id, 10), nil, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteDocument removes a document and its chunks.
func (c *Client) DeleteDocument(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/v1/documents/"+strconv.FormatInt(id, 10), nil, nil, nil)
}

// ListTasks returns every known vectorization task.
func (c *Client) ListTasks(ctx context.Context) ([]vectorize.Task, error) {
	var out struct {
		Tasks []vectorize.Task `json:"tasks"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/tasks", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// GetTask returns one task.
func (c *Client) GetTask(ctx context.Context, id string) (*vectorize.Task, error) {
	out := &vectorize.Task{}
	if err := c.do(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(id), nil, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// TaskStats returns the scheduler counters.
func (c *Client) TaskStats(ctx context.Context) (*vectorize.Stats, error) {
	out := &vectorize.Stats{}
	if err := c.do(ctx, http.MethodGet, "/v1/tasks/stats", nil, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// QueryStream opens the streaming query endpoint and calls fn for each
// event until the stream ends, fn returns an error or ctx is done.
func (c *Client) QueryStream(ctx context.Context, params tools.SearchParams, fn func(*sse.Event) error) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/query/stream", searchQuery(params), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to quarry API at %s: %w", c.target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	reader := sse.NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := fn(&ev); err != nil {
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to quarry API at %s: %w", c.target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	u := *c.target
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = query.Encode()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", utils.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: msg}
}

func searchQuery(p tools.SearchParams) url.Values {
	q := url.Values{}
	q.Set("query", p.Query)
	if p.Limit != nil {
		q.Set("limit", strconv.Itoa(*p.Limit))
	}
	if p.Threshold != nil {
		q.Set("threshold", strconv.FormatFloat(*p.Threshold, 'f', -1, 64))
	}
	if len(p.DocumentIDs) > 0 {
		ids := make([]string, len(p.DocumentIDs))
		for i, id := range p.DocumentIDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		q.Set("document_ids", strings.Join(ids, ","))
	}
	return q
}
