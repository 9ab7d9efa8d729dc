package adapter

import (
	"context"
	"fmt"

	anthropic "github.com/liushuangls/go-anthropic/v2"
)

const (
	defaultClaudeModel = "claude-3-5-sonnet-20241022"
	defaultMaxTokens   = 1000
)

// claudeBackend implements Backend for Anthropic Claude.
type claudeBackend struct {
	client      *anthropic.Client
	configured  bool
	model       string
	maxTokens   int
	temperature float32
}

// NewClaude creates a Claude backend. An empty AnthropicKey yields an
// unconfigured backend that never touches the network.
func NewClaude(s Settings) Backend {
	var opts []anthropic.ClientOption
	if s.AnthropicBaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(s.AnthropicBaseURL))
	}
	model := s.ClaudeModel
	if model == "" {
		model = defaultClaudeModel
	}
	maxTokens := s.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &claudeBackend{
		client:      anthropic.NewClient(s.AnthropicKey, opts...),
		configured:  s.AnthropicKey != "",
		model:       model,
		maxTokens:   maxTokens,
		temperature: float32(s.Temperature),
	}
}

func (c *claudeBackend) Info() ModelInfo {
	return ModelInfo{Provider: ProviderClaude, Model: c.model, Configured: c.configured}
}

func (c *claudeBackend) Analyze(ctx context.Context, prompt string) (string, error) {
	if !c.configured {
		return "", &ModelError{Provider: ProviderClaude, Err: ErrNotConfigured}
	}
	temp := c.temperature
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model: anthropic.Model(c.model),
		Messages: []anthropic.Message{
			{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(prompt)},
			},
		},
		MaxTokens:   c.maxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return "", &ModelError{Provider: ProviderClaude, Err: fmt.Errorf("create message: %w", err)}
	}
	for _, block := range resp.Content {
		if text := block.GetText(); text != "" {
			return text, nil
		}
	}
	return "", &ModelError{Provider: ProviderClaude, Err: ErrEmptyResponse}
}
