// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local chat model (OpenAI, Anthropic,
// Gemini, a local Ollama instance, ...) behind a single blocking Complete
// call. Both the incident analyzer and the dispatcher persona talk to models
// exclusively through this interface, so backends can be swapped or stacked
// behind a failover group without touching pipeline code.
//
// Implementations must be safe for concurrent use and must return promptly
// when ctx is cancelled.
package llm

import (
	"context"
	"fmt"
)

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry in a conversation.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text of the message.
	Content string
}

// ResponseFormat constrains the shape of the model's reply.
type ResponseFormat int

const (
	// FormatText requests free-form text. This is the zero value.
	FormatText ResponseFormat = iota

	// FormatJSON requests a single JSON object. Backends without a native
	// JSON mode ignore it; callers must still parse the reply defensively.
	FormatJSON
)

// CompletionRequest carries everything the model needs to produce a reply.
// Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history.
	Messages []Message

	// SystemPrompt, when set, is sent before Messages as a system message.
	SystemPrompt string

	// Temperature controls randomness in [0.0, 2.0]. Zero uses the provider
	// default.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int

	ResponseFormat ResponseFormat
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is the full reply from Complete.
type CompletionResponse struct {
	// Content is the assistant's reply text.
	Content string

	// FinishReason is the backend's stop reason ("stop", "length", ...).
	FinishReason string

	Usage Usage
}

// RequestError reports a request the backend refused outright, such as a bad
// key or an unknown model. Sending it again cannot succeed, so it reports
// itself as permanent to retry policies.
type RequestError struct {
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("llm: request rejected (status %d): %v", e.StatusCode, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Permanent reports true.
func (e *RequestError) Permanent() bool { return true }

// Rejected reports whether an HTTP status means the request itself is at
// fault. Timeouts, conflicts and rate limits are worth retrying.
func Rejected(status int) bool {
	switch status {
	case 408, 409, 429:
		return false
	}
	return status >= 400 && status < 500
}

// Provider is the abstraction over any chat-model backend.
type Provider interface {
	// Complete sends req to the model and waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
