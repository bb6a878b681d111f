package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/callintake/pkg/provider/llm"
)

func TestConvertMessage_Roles(t *testing.T) {
	t.Parallel()

	sys, err := convertMessage(llm.Message{Role: llm.RoleSystem, Content: "persona"})
	if err != nil || sys.OfSystem == nil {
		t.Errorf("system: OfSystem unset (err %v)", err)
	}
	usr, err := convertMessage(llm.Message{Role: llm.RoleUser, Content: "help"})
	if err != nil || usr.OfUser == nil {
		t.Errorf("user: OfUser unset (err %v)", err)
	}
	asst, err := convertMessage(llm.Message{Role: llm.RoleAssistant, Content: "102"})
	if err != nil || asst.OfAssistant == nil {
		t.Errorf("assistant: OfAssistant unset (err %v)", err)
	}
	if _, err := convertMessage(llm.Message{Role: "tool"}); err == nil {
		t.Error("unknown role: expected error")
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gpt-4o-mini"}
	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt:   "extract",
		Messages:       []llm.Message{{Role: llm.RoleUser, Content: "пожар"}},
		Temperature:    0.1,
		MaxTokens:      150,
		ResponseFormat: llm.FormatJSON,
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2 (system prompt + user)", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("first message is not the system prompt")
	}
	if params.ResponseFormat.OfJSONObject == nil {
		t.Error("ResponseFormat.OfJSONObject not set for FormatJSON")
	}
	if params.MaxCompletionTokens.Value != 150 {
		t.Errorf("MaxCompletionTokens = %d, want 150", params.MaxCompletionTokens.Value)
	}

	if _, err := p.buildParams(llm.CompletionRequest{}); err == nil {
		t.Error("empty request: expected error")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("empty key: expected error")
	}
	if _, err := New("key", ""); err == nil {
		t.Error("empty model: expected error")
	}
}

func TestComplete_AgainstFakeServer(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %q, want suffix /chat/completions", r.URL.Path)
		}
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"priority\":\"high\"}"}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`)
	}))
	defer srv.Close()

	p, err := New("key", "gpt-4o-mini", WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages:       []llm.Message{{Role: llm.RoleUser, Content: "пожар"}},
		ResponseFormat: llm.FormatJSON,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"priority":"high"}` {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", resp.Usage.TotalTokens)
	}
	rf, _ := gotBody["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Errorf("response_format = %v, want type json_object", gotBody["response_format"])
	}
}

func TestComplete_RejectedRequestIsTyped(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status   int
		rejected bool
	}{
		{http.StatusUnauthorized, true},
		{http.StatusNotFound, true},
		{http.StatusTooManyRequests, false},
		{http.StatusBadGateway, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error": {"message": "nope", "type": "invalid_request_error"}}`)
			}))
			defer srv.Close()

			p, err := New("key", "gpt-4o-mini", WithBaseURL(srv.URL+"/v1/"))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = p.Complete(context.Background(), llm.CompletionRequest{
				Messages: []llm.Message{{Role: llm.RoleUser, Content: "пожар"}},
			})
			if err == nil {
				t.Fatal("Complete: err = nil, want error")
			}
			var reqErr *llm.RequestError
			if got := errors.As(err, &reqErr); got != tt.rejected {
				t.Errorf("errors.As(RequestError) = %v, want %v (err %v)", got, tt.rejected, err)
			}
			if tt.rejected && reqErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", reqErr.StatusCode, tt.status)
			}
		})
	}
}
