package anyllm

import (
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/callintake/pkg/provider/llm"
)

// ── buildParams ───────────────────────────────────────────────────────────────

func TestBuildParams_SystemPromptFirst(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "llama3"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "Ты диспетчер 102.",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "помогите"},
			{Role: llm.RoleAssistant, Content: "Служба 102."},
		},
		Temperature: 0.5,
		MaxTokens:   150,
	})

	if params.Model != "llama3" {
		t.Errorf("Model = %q, want %q", params.Model, "llama3")
	}
	if len(params.Messages) != 3 {
		t.Fatalf("len(Messages) = %d, want 3", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("Messages[0].Role = %q, want system", params.Messages[0].Role)
	}
	if got := params.Messages[2].ContentString(); got != "Служба 102." {
		t.Errorf("Messages[2] = %q, want %q", got, "Служба 102.")
	}
	if params.Temperature == nil || *params.Temperature != 0.5 {
		t.Errorf("Temperature = %v, want 0.5", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 150 {
		t.Errorf("MaxTokens = %v, want 150", params.MaxTokens)
	}
}

func TestBuildParams_JSONFormatAddsInstruction(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "m"}
	params := p.buildParams(llm.CompletionRequest{
		Messages:       []llm.Message{{Role: llm.RoleUser, Content: "x"}},
		ResponseFormat: llm.FormatJSON,
	})
	if len(params.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(params.Messages))
	}
	if !strings.Contains(params.Messages[0].ContentString(), jsonInstruction) {
		t.Errorf("system message %q lacks the JSON instruction", params.Messages[0].ContentString())
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("zero Temperature/MaxTokens should be left unset")
	}
}

// ── Constructor ───────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("empty vendor: expected error")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("empty model: expected error")
	}
	if _, err := New("fakecloud", "m", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Error("unsupported vendor: expected error")
	}
}

func TestNew_Vendors(t *testing.T) {
	t.Parallel()

	for _, vendor := range []string{"openai", "Anthropic", "ollama"} {
		p, err := New(vendor, "some-model", anyllmlib.WithAPIKey("sk-test"))
		if err != nil {
			t.Errorf("New(%q): %v", vendor, err)
			continue
		}
		if p.vendor != strings.ToLower(vendor) {
			t.Errorf("vendor = %q, want %q", p.vendor, strings.ToLower(vendor))
		}
	}
}
