package chunker

import (
	"strings"
	"testing"
)

// TestChunk_SmallDocumentSingleChunk verifies a document under the token
// budget is never split.
func TestChunk_SmallDocumentSingleChunk(t *testing.T) {
	input := "The policy covers water damage. The deductible is five hundred dollars. Claims must be filed within thirty days."

	chunks := New().Chunk(input)
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	if EstimateTokens(chunks[0]) > DefaultMaxTokens {
		t.Errorf("Chunk exceeds token budget: %d", EstimateTokens(chunks[0]))
	}
	for _, want := range []string{"water damage", "five hundred dollars", "thirty days"} {
		if !strings.Contains(chunks[0], want) {
			t.Errorf("Chunk missing %q", want)
		}
	}
}

// TestChunk_PreservesSentenceOrder verifies every sentence survives chunking
// in order, with overlap repeating but never reordering sentences.
func TestChunk_PreservesSentenceOrder(t *testing.T) {
	var b strings.Builder
	sentences := make([]string, 0, 40)
	for i := 0; i < 40; i++ {
		s := "Clause number " + strings.Repeat("x", 100) + " applies to section " + string(rune('A'+i%26)) + "."
		sentences = append(sentences, s)
		b.WriteString(s)
		b.WriteString(" ")
	}

	chunks := New(WithMaxTokens(200), WithOverlapTokens(50)).Chunk(b.String())
	if len(chunks) < 2 {
		t.Fatalf("Expected multiple chunks, got %d", len(chunks))
	}

	// Every sentence must appear in the concatenation, in order of first
	// occurrence.
	joined := strings.Join(chunks, " ")
	pos := 0
	for i, s := range sentences {
		idx := strings.Index(joined[pos:], s)
		if idx < 0 {
			t.Fatalf("Sentence %d dropped or reordered", i)
		}
		pos += idx
	}
}

// TestChunk_Overlap verifies the last sentence of one chunk seeds the next.
func TestChunk_Overlap(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString("This sentence is exactly long enough to count for several tokens in the estimate. ")
	}

	chunks := New(WithMaxTokens(100), WithOverlapTokens(40)).Chunk(b.String())
	if len(chunks) < 2 {
		t.Fatalf("Expected multiple chunks, got %d", len(chunks))
	}

	for i := 1; i < len(chunks); i++ {
		prevTail := chunks[i-1][strings.LastIndex(chunks[i-1], "This"):]
		if !strings.HasPrefix(chunks[i], prevTail) {
			t.Errorf("Chunk %d does not start with the tail of chunk %d", i, i-1)
		}
	}
}

// TestChunk_NoOverlap verifies overlap 0 yields no duplicated sentences.
func TestChunk_NoOverlap(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString("Sentence number " + strings.Repeat("y", 50) + ". ")
	}

	chunks := New(WithMaxTokens(100), WithOverlapTokens(0)).Chunk(b.String())
	if len(chunks) < 2 {
		t.Fatalf("Expected multiple chunks, got %d", len(chunks))
	}

	total := 0
	for _, c := range chunks {
		total += strings.Count(c, ".")
	}
	if total != 20 {
		t.Errorf("Expected 20 sentences across chunks, got %d", total)
	}
}

// TestChunk_OversizedSentence verifies a single sentence above the budget is
// emitted as its own oversized chunk rather than split further.
func TestChunk_OversizedSentence(t *testing.T) {
	huge := "This enormous clause " + strings.Repeat("word ", 300) + "ends here."
	input := "Short lead-in. " + huge + " Short tail."

	chunks := New(WithMaxTokens(100), WithOverlapTokens(0)).Chunk(input)

	found := false
	for _, c := range chunks {
		if strings.Contains(c, "ends here.") && EstimateTokens(c) > 100 {
			found = true
		}
	}
	if !found {
		t.Errorf("Oversized sentence was split or dropped")
	}
}

// TestChunk_OverlapBeforeOversizedSentence verifies an overlap window
// followed by a sentence that overflows the budget on its own never emits a
// chunk made only of the previous chunk's tail.
func TestChunk_OverlapBeforeOversizedSentence(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 4; i++ {
		b.WriteString("Clause " + string(rune('a'+i)) + " covers the insured vehicle against accidental damage. ")
	}
	big := "The schedule of exclusions " + strings.Repeat("q", 320) + " applies."
	b.WriteString(big)

	chunks := New(WithMaxTokens(100), WithOverlapTokens(40)).Chunk(b.String())
	if len(chunks) < 2 {
		t.Fatalf("Expected multiple chunks, got %d", len(chunks))
	}

	for i := 1; i < len(chunks); i++ {
		if strings.Contains(chunks[i-1], chunks[i]) {
			t.Errorf("Chunk %d duplicates content already emitted in chunk %d: %q", i, i-1, chunks[i])
		}
	}
	if !strings.Contains(chunks[len(chunks)-1], "applies.") {
		t.Errorf("Oversized sentence dropped")
	}
}

// TestChunk_EmptyInput verifies whitespace-only input yields no chunks.
func TestChunk_EmptyInput(t *testing.T) {
	for _, input := range []string{"", "   ", "\n\t  \n", "..."} {
		chunks := New().Chunk(input)
		for _, c := range chunks {
			if strings.TrimSpace(c) == "" {
				t.Errorf("Input %q produced empty chunk", input)
			}
		}
	}
	if got := New().Chunk(""); got != nil {
		t.Errorf("Empty input: expected nil, got %v", got)
	}
}

// TestChunk_TrailingFragment verifies text without terminal punctuation is
// still chunked.
func TestChunk_TrailingFragment(t *testing.T) {
	chunks := New().Chunk("A complete sentence. And a trailing fragment without a period")
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	if !strings.Contains(chunks[0], "trailing fragment") {
		t.Errorf("Trailing fragment dropped")
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("a", 800*4), 800},
	}
	for _, tc := range cases {
		if got := EstimateTokens(tc.text); got != tc.want {
			t.Errorf("EstimateTokens(%d chars): expected %d, got %d", len(tc.text), tc.want, got)
		}
	}
}
