// Package composer generates grounded answers to policy questions from
// retrieved chunk context, with citations and a self-assessed confidence.
package composer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"

	"github.com/covergrid/policy-copilot/internal/retriever"
)

// ErrComposition marks a language-model failure during answer generation.
// Callers must surface it instead of showing a fabricated answer.
var ErrComposition = errors.New("answer composition failed")

const (
	// Model is the chat model used for answer generation.
	Model = openai.ChatModelGPT4o

	// DefaultConfidence is used when the model omits a parsable confidence.
	DefaultConfidence = 0.7

	// Disclaimer closes every generated answer.
	Disclaimer = "This analysis is for informational purposes only and does not constitute financial advice. Please consult with a qualified insurance professional for specific guidance."

	// noContextAnswer is returned without a model call when retrieval found
	// nothing, so an empty corpus can never produce an invented figure.
	noContextAnswer = "This information is not available in the provided policy documents."
)

// Citation links an answer claim back to one retrieved chunk.
type Citation struct {
	Index    int                      `json:"index"`
	Text     string                   `json:"text"`
	Content  string                   `json:"content"`
	Metadata retriever.ResultMetadata `json:"metadata"`
}

// Answer is a composed response.
type Answer struct {
	Content    string     `json:"content"`
	Citations  []Citation `json:"citations"`
	Confidence float64    `json:"confidence"`
}

// Composer builds grounding prompts and parses structured model output.
type Composer struct {
	client *openai.Client
}

// New creates a composer using the given OpenAI client.
func New(client *openai.Client) *Composer {
	return &Composer{client: client}
}

// Compose answers the query from the retrieved chunks. With no chunks it
// short-circuits to an explicit "not available" answer with zero confidence.
func (c *Composer) Compose(ctx context.Context, query string, results []retriever.Result, requestContext map[string]string) (*Answer, error) {
	if len(results) == 0 {
		return &Answer{
			Content:    noContextAnswer + "\n\n" + Disclaimer,
			Citations:  []Citation{},
			Confidence: 0,
		}, nil
	}

	raw, err := c.completeWithRetry(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt(requestContext)),
			openai.UserMessage(userPrompt(query, results)),
		},
		Model:       Model,
		Temperature: openai.Float(0.1),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrComposition, err)
	}

	return parseAnswer(raw, results), nil
}

// Stream generates a free-text answer and delivers incremental content to
// emit. It bypasses the structured contract, so no citations are resolved;
// interactive surfaces that need citations call Compose instead.
func (c *Composer) Stream(ctx context.Context, query string, results []retriever.Result, requestContext map[string]string, emit func(delta string) error) error {
	if len(results) == 0 {
		return emit(noContextAnswer + "\n\n" + Disclaimer)
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt(requestContext)),
			openai.UserMessage(userPrompt(query, results)),
		},
		Model:       Model,
		Temperature: openai.Float(0.1),
	})
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			if err := emit(delta); err != nil {
				return err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrComposition, err)
	}
	return nil
}

// completeWithRetry calls the chat completion endpoint, retrying with
// exponential backoff on rate limit errors.
func (c *Composer) completeWithRetry(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	var content string

	operation := func() error {
		resp, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			var apiErr *openai.Error
			if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
				return err
			}
			return backoff.Permanent(err)
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("empty completion response"))
		}
		content = resp.Choices[0].Message.Content
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	return content, err
}

// systemPrompt states the grounding rules the model answers under.
func systemPrompt(requestContext map[string]string) string {
	ctxJSON, _ := json.Marshal(requestContext)
	if requestContext == nil {
		ctxJSON = []byte("{}")
	}

	return fmt.Sprintf(`You are an expert insurance policy analyst. Provide accurate information about insurance policies based strictly on the provided context.

IMPORTANT RULES:
1. NEVER fabricate or guess prices, premiums, or specific monetary amounts unless they are explicitly stated in the context
2. If information is not available in the context, say "This information is not available in the provided policy documents"
3. Reference the numbered context entries supporting every substantive claim using bracketed markers like [1]
4. Always end the answer with this disclaimer: %q
5. Assess your own confidence in the answer on a 0-1 scale

Current request context: %s

Respond with a JSON object of this shape:
{"answer": "the full answer text with [n] citation markers and the disclaimer", "citations": [1, 2], "confidence": 0.8}`, Disclaimer, ctxJSON)
}

// userPrompt pairs the query with the numbered context entries.
func userPrompt(query string, results []retriever.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nContext from policy documents:\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, r.Content)
	}
	b.WriteString("Answer the query based only on the context above.")
	return b.String()
}
