// Package llm provides the text-completion clients used for entity
// disambiguation and session summarization.
package llm

import "context"

// Client is the completion interface injected into services.
// Use this interface for dependency injection to enable mocking in tests.
type Client interface {
	// Complete sends one prompt and returns the model's plain-text reply.
	// The context carries the call deadline; on timeout the error classifies
	// as retryable and the caller decides whether the operation is retried.
	Complete(ctx context.Context, systemMessage, prompt string) (string, error)

	// Model returns the configured model name.
	Model() string
}

// Ensure both providers implement Client at compile time.
var (
	_ Client = (*OpenAIClient)(nil)
	_ Client = (*AnthropicClient)(nil)
)
