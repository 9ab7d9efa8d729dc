package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calai/calai/internal/nutrition"
)

const mealJSON = `{"input_type":"food","food_items":[{"name":"Apple","calories":95}],"ai_response":"Crunchy!"}`

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		s    Settings
		want string
	}{
		{"explicit claude wins over openai key", Settings{Provider: ProviderClaude, OpenAIKey: "sk"}, ProviderClaude},
		{"explicit ollama", Settings{Provider: ProviderOllama}, ProviderOllama},
		{"auto prefers openai when keyed", Settings{Provider: ProviderAuto, OpenAIKey: "sk", AnthropicKey: "ak"}, ProviderOpenAI},
		{"auto falls back to claude", Settings{AnthropicKey: "ak"}, ProviderClaude},
		{"nothing configured", Settings{}, ProviderClaude},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.s))
		})
	}
}

func TestNew_ValidProviders(t *testing.T) {
	for _, p := range []string{ProviderClaude, ProviderOpenAI, ProviderOllama} {
		t.Run(p, func(t *testing.T) {
			b, err := New(Settings{Provider: p, AnthropicKey: "k", OpenAIKey: "k", OllamaHost: "http://localhost:11434"})
			require.NoError(t, err)
			info := b.Info()
			assert.Equal(t, p, info.Provider)
			assert.True(t, info.Configured)
			assert.NotEmpty(t, info.Model)
		})
	}
}

func TestNew_InvalidProvider(t *testing.T) {
	_, err := New(Settings{Provider: "gemini"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini")
}

func TestClaudeAnalyze(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		assert.True(t, strings.HasSuffix(r.URL.Path, "/messages"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":%q}],
			"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":20}}`, mealJSON)
	}))
	defer server.Close()

	b := NewClaude(Settings{AnthropicKey: "test-key", AnthropicBaseURL: server.URL})
	out, err := b.Analyze(context.Background(), "I ate an apple")
	require.NoError(t, err)
	assert.Equal(t, mealJSON, out)
	assert.Equal(t, "test-key", gotKey)
}

func TestOpenAIAnalyze(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-test",
			"choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}]}`, mealJSON)
	}))
	defer server.Close()

	b := NewOpenAI(Settings{OpenAIKey: "sk-test", OpenAIBaseURL: server.URL})
	out, err := b.Analyze(context.Background(), "I ate an apple")
	require.NoError(t, err)
	assert.Equal(t, mealJSON, out)
	assert.Contains(t, body, `"json_object"`)
	assert.Contains(t, body, "I ate an apple")
}

func TestOllamaAnalyze(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":true}`, mealJSON)
	}))
	defer server.Close()

	b := NewOllama(Settings{OllamaHost: server.URL + "/"})
	out, err := b.Analyze(context.Background(), "apple")
	require.NoError(t, err)
	assert.Equal(t, mealJSON, out)
}

func TestAnalyze_ProviderErrorIsModelError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer server.Close()

	backends := []Backend{
		NewOpenAI(Settings{OpenAIKey: "sk", OpenAIBaseURL: server.URL}),
		NewOllama(Settings{OllamaHost: server.URL}),
	}
	for _, b := range backends {
		t.Run(b.Info().Provider, func(t *testing.T) {
			_, err := b.Analyze(context.Background(), "x")
			var me *ModelError
			require.ErrorAs(t, err, &me)
			assert.Equal(t, b.Info().Provider, me.Provider)
		})
	}
}

func TestUnconfiguredBackendsSkipNetwork(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	backends := []Backend{
		NewClaude(Settings{AnthropicBaseURL: server.URL}),
		NewOpenAI(Settings{OpenAIBaseURL: server.URL}),
	}
	for _, b := range backends {
		assert.False(t, b.Info().Configured)
		_, err := b.Analyze(context.Background(), "x")
		assert.ErrorIs(t, err, ErrNotConfigured)

		out, err := NewResilient(b, nil, 0).Analyze(context.Background(), "x")
		require.NoError(t, err)
		assert.Equal(t, nutrition.PlaceholderPayload(), out)
	}
	assert.Zero(t, atomic.LoadInt32(&hits))
}

type stubBackend struct {
	out   string
	err   error
	block bool
}

func (s stubBackend) Info() ModelInfo {
	return ModelInfo{Provider: "stub", Model: "stub-1", Configured: true}
}

func (s stubBackend) Analyze(ctx context.Context, _ string) (string, error) {
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return s.out, s.err
}

func TestResilient_PassesThrough(t *testing.T) {
	r := NewResilient(stubBackend{out: mealJSON}, nil, time.Second)
	out, err := r.Analyze(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, mealJSON, out)
}

func TestResilient_ProviderFailure(t *testing.T) {
	log, hook := test.NewNullLogger()
	r := NewResilient(stubBackend{err: &ModelError{Provider: "stub", Err: errors.New("502")}}, log, time.Second)

	out, err := r.Analyze(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, nutrition.PlaceholderPayload(), out)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, FallbackProvider, entry.Data["fallback"])
}

func TestResilient_Timeout(t *testing.T) {
	log, hook := test.NewNullLogger()
	r := NewResilient(stubBackend{block: true}, log, 20*time.Millisecond)

	start := time.Now()
	out, err := r.Analyze(context.Background(), "x")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, nutrition.Parse(out).Placeholder)
	assert.Equal(t, FallbackTimeout, hook.LastEntry().Data["fallback"])
}
