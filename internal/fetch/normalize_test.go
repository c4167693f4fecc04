package fetch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenMarkdown_StripsStructure(t *testing.T) {
	source := []byte(`# Motor Policy

## Windscreen

Windscreen claims carry *no* excess. Repairs are **free** of charge.

- Covered: chips and cracks
- Excluded: sunroofs

See [the full wording](https://acme.example/wording.pdf) for details.
`)

	text := flattenMarkdown(source)

	assert.NotContains(t, text, "#")
	assert.NotContains(t, text, "*")
	assert.NotContains(t, text, "](")
	assert.Contains(t, text, "Windscreen claims carry no excess.")
	assert.Contains(t, text, "Repairs are free of charge.")
	assert.Contains(t, text, "Covered: chips and cracks")
	assert.Contains(t, text, "the full wording")
}

func TestFlattenMarkdown_ParagraphBoundaries(t *testing.T) {
	source := []byte("First paragraph.\n\nSecond paragraph.")

	text := flattenMarkdown(source)

	parts := strings.Split(text, "\n\n")
	require.GreaterOrEqual(t, len(parts), 2)
	assert.Contains(t, parts[0], "First paragraph.")
}

func TestFlattenMarkdown_SoftBreaksBecomeSpaces(t *testing.T) {
	source := []byte("A sentence split\nacross two lines.")

	text := flattenMarkdown(source)

	assert.Contains(t, text, "A sentence split across two lines.")
}

func TestFlattenMarkdown_CodeBlockPreserved(t *testing.T) {
	source := []byte("Before.\n\n```\nexcess = 250\n```\n\nAfter.")

	text := flattenMarkdown(source)

	assert.Contains(t, text, "excess = 250")
	assert.Contains(t, text, "Before.")
	assert.Contains(t, text, "After.")
}

func TestFlattenMarkdown_Empty(t *testing.T) {
	assert.Equal(t, "", flattenMarkdown(nil))
	assert.Equal(t, "", flattenMarkdown([]byte("   \n")))
}

func TestExtractPDFText_InvalidData(t *testing.T) {
	_, err := extractPDFText([]byte("%PDF-1.7 but not really a pdf"))
	require.Error(t, err)
}
