// Package chunker splits raw document text into bounded, overlapping chunks.
//
// Chunk sizes and overlaps are measured in runes. Every chunk after the first
// starts with exactly overlap runes copied from the end of the previous chunk,
// so Reassemble rebuilds the original text. Text with nothing but whitespace
// has no content to embed and yields no chunks, so it reassembles to "".
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const (
	// DefaultMaxChunkSize is the default chunk size in runes.
	DefaultMaxChunkSize = 1000

	// DefaultOverlap is the default number of runes shared by adjacent chunks.
	DefaultOverlap = 200
)

// ErrInvalidConfig is returned when the size/overlap pair cannot produce
// progress.
var ErrInvalidConfig = errors.New("invalid chunker configuration")

// Chunker carries a chunk size and overlap for repeated use.
type Chunker struct {
	maxChunkSize int
	overlap      int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithMaxChunkSize sets the maximum chunk size in runes.
func WithMaxChunkSize(n int) Option {
	return func(c *Chunker) {
		c.maxChunkSize = n
	}
}

// WithOverlap sets the overlap between adjacent chunks in runes.
func WithOverlap(n int) Option {
	return func(c *Chunker) {
		c.overlap = n
	}
}

// New returns a Chunker. It fails with ErrInvalidConfig unless
// maxChunkSize > 0 and 0 <= overlap < maxChunkSize.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		maxChunkSize: DefaultMaxChunkSize,
		overlap:      DefaultOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := validate(c.maxChunkSize, c.overlap); err != nil {
		return nil, err
	}
	return c, nil
}

// Chunk splits text using the configured size and overlap.
func (c *Chunker) Chunk(text string) []string {
	// New already validated the configuration.
	chunks, _ := Chunk(text, c.maxChunkSize, c.overlap)
	return chunks
}

// Overlap returns the configured overlap, needed by Reassemble.
func (c *Chunker) Overlap() int {
	return c.overlap
}

func validate(maxChunkSize, overlap int) error {
	if maxChunkSize <= 0 {
		return fmt.Errorf("%w: max chunk size must be positive, got %d", ErrInvalidConfig, maxChunkSize)
	}
	if overlap < 0 || overlap >= maxChunkSize {
		return fmt.Errorf("%w: overlap must be in [0, %d), got %d", ErrInvalidConfig, maxChunkSize, overlap)
	}
	return nil
}

// Chunk splits text into chunks of at most maxChunkSize runes. Cuts prefer a
// paragraph break, then a sentence end, then whitespace, and fall back to a
// hard cut. Text that is empty or only whitespace yields no chunks.
func Chunk(text string, maxChunkSize, overlap int) ([]string, error) {
	if err := validate(maxChunkSize, overlap); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return []string{}, nil
	}

	runes := []rune(text)
	if len(runes) <= maxChunkSize {
		return []string{text}, nil
	}

	var chunks []string
	start := 0
	for {
		limit := start + maxChunkSize
		if limit >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			return chunks, nil
		}

		end := cutPoint(runes, start, limit, overlap, maxChunkSize)
		chunks = append(chunks, string(runes[start:end]))

		// end > start+overlap, so the next chunk always advances.
		start = end - overlap
	}
}

// cutPoint picks the end (exclusive) of the chunk starting at start. The
// result is in (start+overlap, limit].
func cutPoint(runes []rune, start, limit, overlap, maxChunkSize int) int {
	lo := start + max(overlap+1, maxChunkSize/2)
	if lo > limit {
		return limit
	}

	if p := lastParagraphBreak(runes, lo, limit); p > 0 {
		return p
	}
	if p := lastSentenceEnd(runes, lo, limit); p > 0 {
		return p
	}
	if p := lastSpace(runes, lo, limit); p > 0 {
		return p
	}
	return limit
}

// lastParagraphBreak returns the position just after the last "\n\n" whose
// end falls within [lo, hi], or -1.
func lastParagraphBreak(runes []rune, lo, hi int) int {
	for p := hi; p >= lo; p-- {
		if p >= 2 && runes[p-1] == '\n' && runes[p-2] == '\n' {
			return p
		}
	}
	return -1
}

// lastSentenceEnd returns the position just after the last sentence
// terminator and its trailing space, or just after a newline.
func lastSentenceEnd(runes []rune, lo, hi int) int {
	for p := hi; p >= lo; p-- {
		prev := runes[p-1]
		if prev == '\n' {
			return p
		}
		if p >= 2 && unicode.IsSpace(prev) && isTerminator(runes[p-2]) {
			return p
		}
		if isFullWidthTerminator(prev) {
			return p
		}
	}
	return -1
}

func lastSpace(runes []rune, lo, hi int) int {
	for p := hi; p >= lo; p-- {
		if unicode.IsSpace(runes[p-1]) {
			return p
		}
	}
	return -1
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?':
		return true
	}
	return isFullWidthTerminator(r)
}

func isFullWidthTerminator(r rune) bool {
	switch r {
	case '。', '！', '？':
		return true
	}
	return false
}

// Reassemble joins chunks produced with the given overlap back into the
// original text.
func Reassemble(chunks []string, overlap int) string {
	var b strings.Builder
	for i, c := range chunks {
		if i == 0 {
			b.WriteString(c)
			continue
		}
		r := []rune(c)
		if overlap < len(r) {
			b.WriteString(string(r[overlap:]))
		}
	}
	return b.String()
}
