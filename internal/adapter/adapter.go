// Package adapter wraps language-model providers behind a single Analyze call.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider name constants.
const (
	ProviderClaude = "claude"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	// ProviderAuto selects OpenAI when its key is present, else Claude.
	ProviderAuto = "auto"
)

var (
	// ErrEmptyResponse is returned when a provider answers without any text.
	ErrEmptyResponse = errors.New("adapter: empty model response")
	// ErrNotConfigured is returned by a backend whose credentials are missing.
	ErrNotConfigured = errors.New("adapter: provider credentials missing")
)

// ModelError wraps any transport or provider failure with the provider name.
type ModelError struct {
	Provider string
	Err      error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// ModelInfo describes a configured backend.
type ModelInfo struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Configured bool   `json:"configured"`
}

// Backend is the interface every provider implements.
type Backend interface {
	// Analyze sends prompt to the model and returns its raw text output.
	Analyze(ctx context.Context, prompt string) (string, error)

	// Info returns metadata about the backend. Configured is false when the
	// credentials needed for a network call are missing.
	Info() ModelInfo
}

// Settings carries everything needed to construct any backend.
type Settings struct {
	Provider string

	AnthropicKey     string
	AnthropicBaseURL string
	ClaudeModel      string

	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string

	OllamaHost  string
	OllamaModel string

	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Resolve returns the concrete provider name for s. It is evaluated once per
// process; auto prefers OpenAI when its key is present, else Claude.
func Resolve(s Settings) string {
	switch s.Provider {
	case ProviderClaude, ProviderOpenAI, ProviderOllama:
		return s.Provider
	}
	if s.OpenAIKey != "" {
		return ProviderOpenAI
	}
	return ProviderClaude
}

// New constructs the raw backend for the resolved provider.
//
//   - provider: "auto", "claude", "openai", "ollama" (empty means auto)
//   - an empty key yields an unconfigured backend rather than an error
func New(s Settings) (Backend, error) {
	switch s.Provider {
	case "", ProviderAuto, ProviderClaude, ProviderOpenAI, ProviderOllama:
	default:
		return nil, fmt.Errorf("adapter: unknown provider %q; valid providers: auto, claude, openai, ollama", s.Provider)
	}

	switch Resolve(s) {
	case ProviderOpenAI:
		return NewOpenAI(s), nil
	case ProviderOllama:
		return NewOllama(s), nil
	default:
		return NewClaude(s), nil
	}
}
