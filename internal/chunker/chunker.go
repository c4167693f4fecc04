// Package chunker splits policy document text into bounded, overlapping
// segments sized for embedding and retrieval.
package chunker

import (
	"regexp"
	"strings"
)

const (
	// DefaultMaxTokens is the estimated token budget per chunk.
	DefaultMaxTokens = 800

	// DefaultOverlapTokens is the estimated token budget carried over from
	// the tail of one chunk into the start of the next.
	DefaultOverlapTokens = 120
)

// sentenceRe matches sentence-like units ending in ., ! or ?. A trailing
// fragment without terminal punctuation is picked up separately in Chunk.
var sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]+`)

// Chunker accumulates sentences into chunks up to a token budget, starting
// each new chunk with the trailing sentences of the previous one up to the
// overlap budget. Sentences are never reordered, and a single sentence larger
// than the budget is emitted as its own oversized chunk.
type Chunker struct {
	maxTokens     int
	overlapTokens int
}

// Option configures the chunker.
type Option func(*Chunker)

// WithMaxTokens sets the estimated token budget per chunk.
func WithMaxTokens(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithOverlapTokens sets the estimated token overlap between adjacent chunks.
func WithOverlapTokens(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlapTokens = n
		}
	}
}

// New creates a chunker with the given options.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		maxTokens:     DefaultMaxTokens,
		overlapTokens: DefaultOverlapTokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlapTokens >= c.maxTokens {
		c.overlapTokens = c.maxTokens / 4
	}
	return c
}

// Chunk splits text into ordered, non-empty chunk strings. Whitespace-only
// input yields no chunks.
func (c *Chunker) Chunk(text string) []string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, strings.Join(current, " "))

		// Seed the next chunk with trailing sentences up to the overlap
		// budget. Never carry the entire chunk forward, or a small chunk
		// would repeat itself indefinitely.
		var overlap []string
		overlapTokens := 0
		for i := len(current) - 1; i > 0; i-- {
			t := EstimateTokens(current[i])
			if overlapTokens+t > c.overlapTokens {
				break
			}
			overlap = append([]string{current[i]}, overlap...)
			overlapTokens += t
		}
		current = overlap
		currentTokens = overlapTokens
	}

	for _, sentence := range sentences {
		tokens := EstimateTokens(sentence)
		if currentTokens+tokens > c.maxTokens && len(current) > 0 {
			flush()
		}
		current = append(current, sentence)
		currentTokens += tokens
	}

	// A flush is always followed by appending the sentence that triggered it,
	// so the final window holds at least one sentence not yet emitted.
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	return chunks
}

// EstimateTokens estimates the token count of text as ceil(len/4).
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// splitSentences breaks text into trimmed sentence-like units on ., ! and ?
// boundaries, discarding empty units. A trailing fragment without terminal
// punctuation is kept as a final sentence.
func splitSentences(text string) []string {
	matches := sentenceRe.FindAllStringIndex(text, -1)

	var sentences []string
	last := 0
	for _, m := range matches {
		if s := strings.TrimSpace(text[m[0]:m[1]]); s != "" {
			sentences = append(sentences, s)
		}
		last = m[1]
	}
	if tail := strings.TrimSpace(text[last:]); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}
