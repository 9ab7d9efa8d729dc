package adapter

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIModel = "gpt-4"
	systemMessage      = "You are a professional nutritionist AI assistant. Always respond with valid JSON."
)

// openaiBackend implements Backend for OpenAI chat completions.
type openaiBackend struct {
	client      *openai.Client
	configured  bool
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAI creates an OpenAI backend. An empty OpenAIKey yields an
// unconfigured backend that never touches the network.
func NewOpenAI(s Settings) Backend {
	cfg := openai.DefaultConfig(s.OpenAIKey)
	if s.OpenAIBaseURL != "" {
		cfg.BaseURL = s.OpenAIBaseURL
	}
	model := s.OpenAIModel
	if model == "" {
		model = defaultOpenAIModel
	}
	maxTokens := s.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &openaiBackend{
		client:      openai.NewClientWithConfig(cfg),
		configured:  s.OpenAIKey != "",
		model:       model,
		maxTokens:   maxTokens,
		temperature: float32(s.Temperature),
	}
}

func (o *openaiBackend) Info() ModelInfo {
	return ModelInfo{Provider: ProviderOpenAI, Model: o.model, Configured: o.configured}
}

func (o *openaiBackend) Analyze(ctx context.Context, prompt string) (string, error) {
	if !o.configured {
		return "", &ModelError{Provider: ProviderOpenAI, Err: ErrNotConfigured}
	}
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemMessage},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", &ModelError{Provider: ProviderOpenAI, Err: fmt.Errorf("chat completion: %w", err)}
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", &ModelError{Provider: ProviderOpenAI, Err: ErrEmptyResponse}
	}
	return resp.Choices[0].Message.Content, nil
}
