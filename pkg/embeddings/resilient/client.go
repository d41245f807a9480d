// Package resilient wraps an embeddings.Embedder with the policies every
// outbound provider call goes through: input validation, a shared concurrency
// ceiling, rate limiting, a per-attempt timeout and bounded retries with
// exponential backoff and jitter.
package resilient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"

	"github.com/papercomputeco/quarry/pkg/embeddings"
)

const (
	DefaultMaxConcurrent     = 4
	DefaultRequestsPerSecond = 10
	DefaultMaxRetries        = 3
	DefaultBaseDelay         = 500 * time.Millisecond
	DefaultMaxDelay          = 10 * time.Second
	DefaultCallTimeout       = 30 * time.Second
	DefaultMaxInputChars     = 32000
)

// Config holds the client policies. Zero values fall back to the defaults
// above, except MaxRetries which uses NoRetries to disable retrying.
type Config struct {
	// MaxConcurrent bounds simultaneous provider calls. Excess callers wait.
	MaxConcurrent int64

	// RequestsPerSecond is the sustained call rate. Burst defaults to the
	// rounded-up rate.
	RequestsPerSecond float64
	Burst             int

	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int

	BaseDelay   time.Duration
	MaxDelay    time.Duration
	CallTimeout time.Duration

	// MaxInputChars is the largest accepted input, in runes.
	MaxInputChars int
}

// NoRetries disables retrying when used as Config.MaxRetries.
const NoRetries = -1

// Client is an embeddings.Embedder that applies the resilience policies to
// an inner provider. A single Client is meant to be shared by every caller
// so the concurrency ceiling is global.
type Client struct {
	inner   embeddings.Embedder
	cfg     Config
	sem     *semaphore.Weighted
	limiter *rateLimiter
	logger  *slog.Logger

	inFlight atomic.Int64
}

// New wraps inner with the given policies.
func New(inner embeddings.Embedder, cfg Config, logger *slog.Logger) *Client {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(1, int(cfg.RequestsPerSecond+0.999))
	}
	switch {
	case cfg.MaxRetries == NoRetries:
		cfg.MaxRetries = 0
	case cfg.MaxRetries <= 0:
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = DefaultMaxInputChars
	}

	return &Client{
		inner:   inner,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		limiter: newRateLimiter(cfg.RequestsPerSecond, cfg.Burst),
		logger:  logger,
	}
}

// Embed validates text and embeds it through the inner provider.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.validate(text); err != nil {
		return nil, err
	}

	var out []float32
	err := c.do(ctx, func(ctx context.Context) error {
		v, err := c.inner.Embed(ctx, text)
		if err != nil {
			return err
		}
		if len(v) == 0 {
			return &embeddings.ProviderError{Kind: embeddings.ErrProviderUnavailable, Message: "empty embedding returned"}
		}
		out = v
		return nil
	})
	return out, err
}

// EmbedBatch validates every text and embeds them in one provider call.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: empty batch", embeddings.ErrInvalidInput)
	}
	for i, t := range texts {
		if err := c.validate(t); err != nil {
			return nil, fmt.Errorf("batch item %d: %w", i, err)
		}
	}

	var out [][]float32
	err := c.do(ctx, func(ctx context.Context) error {
		v, err := c.inner.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		if len(v) != len(texts) {
			return &embeddings.ProviderError{
				Kind:    embeddings.ErrProviderUnavailable,
				Message: fmt.Sprintf("provider returned %d embeddings for %d inputs", len(v), len(texts)),
			}
		}
		out = v
		return nil
	})
	return out, err
}

// InFlight returns the number of provider calls currently holding a slot.
func (c *Client) InFlight() int64 {
	return c.inFlight.Load()
}

// Close closes the inner provider.
func (c *Client) Close() error {
	return c.inner.Close()
}

func (c *Client) validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: text is empty", embeddings.ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(text); n > c.cfg.MaxInputChars {
		return fmt.Errorf("%w: text has %d characters, limit is %d", embeddings.ErrInvalidInput, n, c.cfg.MaxInputChars)
	}
	return nil
}

func (c *Client) do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := c.cfg.MaxRetries + 1

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.delay(attempt, lastErr)
			c.logger.Debug("retrying embedding call",
				"attempt", attempt+1,
				"delay", delay,
				"error", lastErr,
			)
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := c.attempt(ctx, op)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if errors.Is(err, embeddings.ErrRateLimited) {
			wait := embeddings.RetryAfter(err)
			if wait <= 0 {
				wait = c.cfg.BaseDelay
			}
			c.limiter.backoff(wait)
		}

		lastErr = err
		if !embeddings.IsRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("embedding failed after %d attempts: %w", attempts, lastErr)
}

// attempt runs op once holding a rate token and a concurrency slot. The
// rate wait happens first so a backoff window never pins a slot.
func (c *Client) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	c.inFlight.Add(1)
	defer c.inFlight.Add(-1)

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	err := op(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &embeddings.ProviderError{
			Kind:      embeddings.ErrProviderUnavailable,
			Transient: true,
			Message:   fmt.Sprintf("call exceeded %s timeout", c.cfg.CallTimeout),
		}
	}
	return err
}

// delay is the exponential backoff for the given attempt with equal jitter,
// floored by any provider supplied Retry-After.
func (c *Client) delay(attempt int, lastErr error) time.Duration {
	d := c.cfg.BaseDelay << (attempt - 1)
	if d <= 0 || d > c.cfg.MaxDelay {
		d = c.cfg.MaxDelay
	}

	half := d / 2
	d = half + time.Duration(rand.Int64N(int64(half)+1))

	if ra := embeddings.RetryAfter(lastErr); ra > d {
		d = min(ra, c.cfg.MaxDelay)
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ embeddings.Embedder = (*Client)(nil)
