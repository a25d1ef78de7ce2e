// Package llm defines the Provider interface for text-completion backends.
//
// An LLM provider wraps a remote or local model API (OpenAI chat completions,
// Anthropic, a local Ollama instance, or an HTTP chat endpoint) and exposes a
// uniform request/response interface for the completion gateway without
// coupling it to any specific SDK.
//
// Implementors must be safe for concurrent use. Failures that carry an HTTP
// status from the backend should be returned as (or wrap) a [*StatusError] so
// that callers can distinguish structured backend errors from transport
// failures.
package llm

import "context"

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is typically from
	// the "user" role and drives the response.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// means use the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// SystemPrompt is an optional high-priority instruction injected before the
	// conversation. Providers without a dedicated system field prepend it as a
	// "system"-role message.
	SystemPrompt string
}

// CompletionResponse is returned by [Provider.Complete].
type CompletionResponse struct {
	// Content is the full text of the assistant's reply. May be empty when the
	// backend answered without extractable text; the caller decides what an
	// empty reply means.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any text-completion backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	//
	// Returns a [*StatusError] (possibly wrapped) when the backend answered
	// with an error status, and any other error for network or decoding
	// failures. Must return promptly when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata describing the underlying model.
	Capabilities() ModelCapabilities
}
