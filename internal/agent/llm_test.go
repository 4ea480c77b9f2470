package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/desertthunder/pihome/internal/shared"
)

func TestLookupModel(t *testing.T) {
	tests := []struct {
		key         string
		expectedKey string
		provider    string
		temperature float32
	}{
		{"gemini-1.5-pro", "gemini-1.5-pro", ProviderGemini, 0.7},
		{"gemini-1.5-flash-8b-001", "gemini-1.5-flash-8b-001", ProviderGemini, 0.7},
		{"openai/gpt-4o", "openai/gpt-4o", ProviderOpenRouter, 0.8},
		{"deepseek/deepseek-r1", "deepseek/deepseek-r1", ProviderOpenRouter, 0.8},
		{"meta-llama/llama-3.3-70b-instruct", "meta-llama/llama-3.3-70b-instruct", ProviderOpenRouter, 0.8},
		{"unknown", DefaultModel, ProviderGemini, 0.7},
		{"", DefaultModel, ProviderGemini, 0.7},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			spec := LookupModel(tt.key)
			if spec.Key != tt.expectedKey {
				t.Errorf("expected key %s, got %s", tt.expectedKey, spec.Key)
			}
			if spec.Provider != tt.provider {
				t.Errorf("expected provider %s, got %s", tt.provider, spec.Provider)
			}
			if spec.Temperature != tt.temperature {
				t.Errorf("expected temperature %v, got %v", tt.temperature, spec.Temperature)
			}
			if spec.MaxTokens != 2048 {
				t.Errorf("expected 2048 max tokens, got %d", spec.MaxTokens)
			}
		})
	}
}

type chatRequest struct {
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Messages    []struct {
		Role       string `json:"role"`
		Content    string `json:"content"`
		ToolCallID string `json:"tool_call_id"`
	} `json:"messages"`
	Tools []struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	} `json:"tools"`
}

func completionsServer(t *testing.T, body string, seen *chatRequest, auth *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		*auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(seen); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("missing api key", func(t *testing.T) {
		p := NewOpenAIProvider(shared.LLMConfig{}, nil)
		if _, err := p.ChatModel("gemini-1.5-flash"); !errors.Is(err, shared.ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}
		if _, err := p.ChatModel("openai/gpt-4o"); !errors.Is(err, shared.ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}
	})

	t.Run("gemini request and tool call response", func(t *testing.T) {
		var seen chatRequest
		var auth string
		srv := completionsServer(t, `{
			"id": "1", "object": "chat.completion",
			"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {
				"role": "assistant", "content": "",
				"tool_calls": [{"id": "call-1", "type": "function",
					"function": {"name": "calculator", "arguments": "{\"operation\":\"add\",\"a\":1,\"b\":2}"}}]
			}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
		}`, &seen, &auth)

		p := NewOpenAIProvider(shared.LLMConfig{GeminiAPIKey: "g-key", GeminiBaseURL: srv.URL}, srv.Client())
		llm, err := p.ChatModel("gemini-1.5-pro")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		completion, err := llm.Chat(ctx,
			[]Message{SystemMessage("rules"), UserMessage("1+2?")},
			Toolset{CalculatorTool()}.Definitions())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if auth != "Bearer g-key" {
			t.Errorf("expected gemini key, got %q", auth)
		}
		if seen.Model != "gemini-1.5-pro" || seen.Temperature != 0.7 || seen.MaxTokens != 2048 {
			t.Errorf("unexpected request settings %+v", seen)
		}
		if len(seen.Messages) != 2 || seen.Messages[0].Role != RoleSystem {
			t.Errorf("expected system and user messages, got %+v", seen.Messages)
		}
		if len(seen.Tools) != 1 || seen.Tools[0].Function.Name != "calculator" {
			t.Errorf("expected calculator tool, got %+v", seen.Tools)
		}

		msg := completion.Message
		if !msg.HasToolCalls() || msg.ToolCalls[0].ID != "call-1" || msg.ToolCalls[0].Name != "calculator" {
			t.Errorf("expected calculator tool call, got %+v", msg)
		}
		if completion.Usage.TotalTokens != 19 {
			t.Errorf("expected 19 tokens, got %d", completion.Usage.TotalTokens)
		}
	})

	t.Run("openrouter carries tool results", func(t *testing.T) {
		var seen chatRequest
		var auth string
		srv := completionsServer(t, `{
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "3"}}],
			"usage": {"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2}
		}`, &seen, &auth)

		p := NewOpenAIProvider(shared.LLMConfig{OpenRouterAPIKey: "or-key", OpenRouterBaseURL: srv.URL}, srv.Client())
		llm, err := p.ChatModel("openai/gpt-4o-mini")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		completion, err := llm.Chat(ctx, []Message{
			UserMessage("1+2?"),
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c", Name: "calculator", Arguments: "{}"}}},
			ToolMessage("c", "calculator", "3"),
		}, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if auth != "Bearer or-key" {
			t.Errorf("expected openrouter key, got %q", auth)
		}
		if seen.Temperature != 0.8 {
			t.Errorf("expected temperature 0.8, got %v", seen.Temperature)
		}
		if seen.Messages[2].ToolCallID != "c" {
			t.Errorf("expected tool call id on tool message, got %+v", seen.Messages[2])
		}
		if completion.Message.Content != "3" {
			t.Errorf("expected content 3, got %q", completion.Message.Content)
		}
	})

	t.Run("api error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error": {"message": "rate limited", "type": "rate_limit"}}`))
		}))
		defer srv.Close()

		p := NewOpenAIProvider(shared.LLMConfig{GeminiAPIKey: "k", GeminiBaseURL: srv.URL}, srv.Client())
		llm, _ := p.ChatModel("")
		if _, err := llm.Chat(ctx, []Message{UserMessage("hi")}, nil); err == nil {
			t.Error("expected error from failing endpoint")
		}
	})
}
