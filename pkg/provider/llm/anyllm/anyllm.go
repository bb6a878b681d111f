// Package anyllm provides a multi-vendor LLM provider backed by
// github.com/mozilla-ai/any-llm-go. One configuration key selects the vendor
// (OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, llama.cpp or
// llamafile), which lets an operator run the analyzer on a cheap local model
// and the dispatcher on a hosted one.
//
// Usage:
//
//	p, err := anyllm.New("ollama", "qwen2.5:7b")
//	p, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey("sk-ant-..."))
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/callintake/pkg/provider/llm"
)

// jsonInstruction is appended to the system prompt for FormatJSON requests,
// since not every vendor behind any-llm-go exposes a JSON mode.
const jsonInstruction = "Reply with a single JSON object and nothing else."

// Provider implements llm.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	vendor  string
	model   string
}

var _ llm.Provider = (*Provider)(nil)

// New creates a Provider for the named vendor.
//
// vendor is one of: "openai", "anthropic", "gemini", "ollama", "deepseek",
// "mistral", "groq", "llamacpp", "llamafile". Without an API key option the
// vendor's usual environment variable is consulted (OPENAI_API_KEY, ...).
func New(vendor string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if vendor == "" {
		return nil, fmt.Errorf("llm/anyllm: vendor must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("llm/anyllm: model must not be empty")
	}

	backend, err := createBackend(vendor, opts...)
	if err != nil {
		return nil, fmt.Errorf("llm/anyllm: create %q backend: %w", vendor, err)
	}
	return &Provider{backend: backend, vendor: strings.ToLower(vendor), model: model}, nil
}

func createBackend(vendor string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(vendor) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported vendor %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", vendor)
	}
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("llm/anyllm: no messages")
	}

	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("llm/anyllm: %s completion: %w", p.vendor, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm/anyllm: empty choices in response")
	}

	choice := resp.Choices[0]
	out := &llm.CompletionResponse{
		Content:      choice.Message.ContentString(),
		FinishReason: choice.FinishReason,
	}
	if resp.Usage != nil {
		out.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	system := req.SystemPrompt
	if req.ResponseFormat == llm.FormatJSON {
		if system != "" {
			system += "\n\n"
		}
		system += jsonInstruction
	}

	var messages []anyllmlib.Message
	if system != "" {
		messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: system})
	}
	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}
