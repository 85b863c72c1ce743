// Package llm defines the large language model provider interface used by
// the summarizer.
package llm

import "context"

// Request is a single completion request: one system prompt and one user
// message, which is all the summarizer ever needs.
type Request struct {
	// System is the system prompt. Optional.
	System string

	// User is the user message content.
	User string

	// MaxTokens bounds the response length. Implementations substitute their
	// own default when zero.
	MaxTokens int
}

// Provider generates text completions. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Complete returns the model's text response for the request.
	Complete(ctx context.Context, req Request) (string, error)
}
