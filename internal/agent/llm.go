package agent

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	openai "github.com/sashabaranov/go-openai"

	"github.com/desertthunder/pihome/internal/shared"
)

const (
	DefaultModel         = "gemini-1.5-flash"
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1"
	defaultMaxTokens     = 2048
)

// Provider names.
const (
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
)

// ModelSpec describes how to call one chat model.
type ModelSpec struct {
	Key         string
	Provider    string
	Temperature float32
	MaxTokens   int
}

// Models is the catalog of supported model keys.
var Models = []ModelSpec{
	{Key: "deepseek/deepseek-r1", Provider: ProviderOpenRouter, Temperature: 0.8, MaxTokens: defaultMaxTokens},
	{Key: "gemini-1.5-flash", Provider: ProviderGemini, Temperature: 0.7, MaxTokens: defaultMaxTokens},
	{Key: "gemini-1.5-flash-8b-001", Provider: ProviderGemini, Temperature: 0.7, MaxTokens: defaultMaxTokens},
	{Key: "gemini-1.5-pro", Provider: ProviderGemini, Temperature: 0.7, MaxTokens: defaultMaxTokens},
	{Key: "openai/gpt-4o-mini", Provider: ProviderOpenRouter, Temperature: 0.8, MaxTokens: defaultMaxTokens},
	{Key: "openai/gpt-4o", Provider: ProviderOpenRouter, Temperature: 0.8, MaxTokens: defaultMaxTokens},
	{Key: "meta-llama/llama-3.3-70b-instruct", Provider: ProviderOpenRouter, Temperature: 0.8, MaxTokens: defaultMaxTokens},
}

// LookupModel returns the spec for key, or the [DefaultModel] spec when key is unknown.
func LookupModel(key string) ModelSpec {
	i := slices.IndexFunc(Models, func(m ModelSpec) bool { return m.Key == key })
	if i < 0 {
		return LookupModel(DefaultModel)
	}
	return Models[i]
}

// ToolDefinition is the schema a model sees for one tool.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Completion is a single model response.
type Completion struct {
	Message Message
	Usage   Usage
}

// LLM is a chat model that may answer with tool calls.
type LLM interface {
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition) (Completion, error)
}

// LLMProvider builds the client for a model key.
type LLMProvider interface {
	ChatModel(key string) (LLM, error)
}

// OpenAIProvider serves every model through OpenAI compatible endpoints: Gemini's for gemini keys and
// OpenRouter's for the rest.
type OpenAIProvider struct {
	config     shared.LLMConfig
	httpClient *http.Client
}

func NewOpenAIProvider(cfg shared.LLMConfig, httpClient *http.Client) *OpenAIProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenAIProvider{config: cfg, httpClient: httpClient}
}

// ChatModel returns a client for key. An empty key uses the configured default model.
func (p *OpenAIProvider) ChatModel(key string) (LLM, error) {
	if key == "" {
		key = p.config.DefaultModel
	}
	spec := LookupModel(key)

	var apiKey, baseURL string
	switch spec.Provider {
	case ProviderGemini:
		apiKey, baseURL = p.config.GeminiAPIKey, p.config.GeminiBaseURL
	default:
		apiKey, baseURL = p.config.OpenRouterAPIKey, p.config.OpenRouterBaseURL
		if baseURL == "" {
			baseURL = DefaultOpenRouterURL
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: no %s api key for model %s", shared.ErrMissingCredentials, spec.Provider, spec.Key)
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	clientConfig.HTTPClient = p.httpClient
	return &ChatClient{client: openai.NewClientWithConfig(clientConfig), spec: spec}, nil
}

// ChatClient is an [LLM] backed by a chat completions endpoint.
type ChatClient struct {
	client *openai.Client
	spec   ModelSpec
}

func (c *ChatClient) Chat(ctx context.Context, messages []Message, tools []ToolDefinition) (Completion, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.spec.Key,
		Messages:    toOpenAIMessages(messages),
		Temperature: c.spec.Temperature,
		MaxTokens:   c.spec.MaxTokens,
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Completion{}, fmt.Errorf("%s: %w", c.spec.Key, err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("%s: %w: empty response", c.spec.Key, shared.ErrAPIRequest)
	}

	return Completion{
		Message: fromOpenAIMessage(resp.Choices[0].Message),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, call := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:       call.ID,
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: call.Name, Arguments: call.Arguments},
			})
		}
		out = append(out, msg)
	}
	return out
}

func fromOpenAIMessage(msg openai.ChatCompletionMessage) Message {
	out := Message{Role: RoleAssistant, Content: msg.Content}
	for _, call := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return out
}
