package composer

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/covergrid/policy-copilot/internal/retriever"
)

var (
	citationMarkerRe = regexp.MustCompile(`\[(\d+)\]`)
	confidenceRe     = regexp.MustCompile(`(?i)confidence:\s*([0-9]*\.?[0-9]+)`)
)

// structuredAnswer is the JSON object the model is asked to return.
// Confidence is a pointer so an absent field can fall back to the default.
type structuredAnswer struct {
	Answer     string   `json:"answer"`
	Citations  []int    `json:"citations"`
	Confidence *float64 `json:"confidence"`
}

// parseAnswer turns raw model output into an Answer. The structured JSON
// contract is tried first; free-text parsing of [n] markers and a
// "Confidence: x" annotation covers models that ignore the contract.
func parseAnswer(raw string, results []retriever.Result) *Answer {
	var structured structuredAnswer
	if err := json.Unmarshal([]byte(raw), &structured); err == nil && structured.Answer != "" {
		indices := structured.Citations
		if len(indices) == 0 {
			indices = extractMarkers(structured.Answer)
		}
		confidence := DefaultConfidence
		if structured.Confidence != nil {
			confidence = clamp01(*structured.Confidence)
		}
		return &Answer{
			Content:    strings.TrimSpace(structured.Answer),
			Citations:  resolveCitations(indices, results),
			Confidence: confidence,
		}
	}

	// Free-text fallback: strip the confidence annotation from the visible
	// answer, then recover citations and confidence from the raw text.
	content := strings.TrimSpace(confidenceRe.ReplaceAllString(raw, ""))
	confidence := DefaultConfidence
	if m := confidenceRe.FindStringSubmatch(raw); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			confidence = clamp01(v)
		}
	}

	return &Answer{
		Content:    content,
		Citations:  resolveCitations(extractMarkers(content), results),
		Confidence: confidence,
	}
}

// extractMarkers collects the 1-based indices of bracketed [n] markers in
// order of first appearance.
func extractMarkers(text string) []int {
	var indices []int
	for _, m := range citationMarkerRe.FindAllStringSubmatch(text, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil {
			indices = append(indices, n)
		}
	}
	return indices
}

// resolveCitations maps 1-based context indices to the retrieved chunks,
// dropping duplicates and indices outside the result range.
func resolveCitations(indices []int, results []retriever.Result) []Citation {
	citations := make([]Citation, 0, len(indices))
	seen := make(map[int]bool)
	for _, n := range indices {
		if n < 1 || n > len(results) || seen[n] {
			continue
		}
		seen[n] = true
		r := results[n-1]
		citations = append(citations, Citation{
			Index:    n - 1,
			Text:     "[" + strconv.Itoa(n) + "]",
			Content:  r.Content,
			Metadata: r.Metadata,
		})
	}
	return citations
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
