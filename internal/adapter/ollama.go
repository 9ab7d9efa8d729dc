package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const defaultOllamaModel = "llama3.2"

// ollamaBackend implements Backend for a local Ollama instance. Ollama needs
// no credentials, so it is configured whenever a host is set.
type ollamaBackend struct {
	host        string
	model       string
	temperature float64
	client      *http.Client
}

// NewOllama creates an Ollama backend.
func NewOllama(s Settings) Backend {
	model := s.OllamaModel
	if model == "" {
		model = defaultOllamaModel
	}
	return &ollamaBackend{
		host:        strings.TrimRight(s.OllamaHost, "/"),
		model:       model,
		temperature: s.Temperature,
		client:      &http.Client{},
	}
}

func (o *ollamaBackend) Info() ModelInfo {
	return ModelInfo{Provider: ProviderOllama, Model: o.model, Configured: o.host != ""}
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Format   string              `json:"format,omitempty"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

func (o *ollamaBackend) Analyze(ctx context.Context, prompt string) (string, error) {
	if o.host == "" {
		return "", &ModelError{Provider: ProviderOllama, Err: ErrNotConfigured}
	}

	body, err := json.Marshal(ollamaChatRequest{
		Model: o.model,
		Messages: []ollamaChatMessage{
			{Role: "system", Content: systemMessage},
			{Role: "user", Content: prompt},
		},
		Format:  "json",
		Options: map[string]any{"temperature": o.temperature},
	})
	if err != nil {
		return "", fmt.Errorf("ollama: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ollama: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", &ModelError{Provider: ProviderOllama, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &ModelError{Provider: ProviderOllama, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &ModelError{Provider: ProviderOllama, Err: fmt.Errorf("decode: %w", err)}
	}
	if out.Message.Content == "" {
		return "", &ModelError{Provider: ProviderOllama, Err: ErrEmptyResponse}
	}
	return out.Message.Content, nil
}
