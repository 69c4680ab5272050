package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kart-io/memoryd/pkg/llm"
)

const testAPIKey = "test-key"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("expected BaseURL https://api.openai.com/v1, got %s", cfg.BaseURL)
	}
	if cfg.EmbedModel != "text-embedding-3-small" {
		t.Errorf("expected EmbedModel text-embedding-3-small, got %s", cfg.EmbedModel)
	}
	if cfg.ChatModel != "gpt-4o-mini" {
		t.Errorf("expected ChatModel gpt-4o-mini, got %s", cfg.ChatModel)
	}
	if cfg.Timeout != 120*time.Second {
		t.Errorf("expected Timeout 120s, got %v", cfg.Timeout)
	}
}

func TestNewProviderWithConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKey = testAPIKey
	p := NewProviderWithConfig(cfg)
	if p.Name() != ProviderName {
		t.Errorf("expected name %s, got %s", ProviderName, p.Name())
	}
}

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Provider, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	cfg := DefaultConfig()
	cfg.APIKey = testAPIKey
	cfg.BaseURL = srv.URL
	cfg.Timeout = 5 * time.Second
	return NewProviderWithConfig(cfg), srv.Close
}

func TestProvider_Embed(t *testing.T) {
	p, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": []float32{0.1, 0.2}},
			},
			"model": "text-embedding-3-small",
		})
	})
	defer closeFn()

	embeddings, err := p.Embed(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(embeddings) != 1 || len(embeddings[0]) != 2 {
		t.Fatalf("unexpected embeddings: %v", embeddings)
	}
}

func TestProvider_Embed_Empty(t *testing.T) {
	p := NewProviderWithConfig(DefaultConfig())
	embeddings, err := p.Embed(context.Background(), nil)
	if err != nil || embeddings != nil {
		t.Fatalf("expected nil,nil for empty input, got %v, %v", embeddings, err)
	}
}

func TestProvider_Chat(t *testing.T) {
	p, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": "hi there"}, "finish_reason": "stop"},
			},
		})
	})
	defer closeFn()

	content, err := p.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hello"}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if content != "hi there" {
		t.Errorf("expected 'hi there', got %q", content)
	}
}

func TestProvider_Generate(t *testing.T) {
	p, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": "a poem"}, "finish_reason": "stop"},
			},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	})
	defer closeFn()

	resp, err := p.Generate(context.Background(), "write a poem", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Content != "a poem" {
		t.Errorf("expected 'a poem', got %q", resp.Content)
	}
	if resp.TokenUsage == nil || resp.TokenUsage.TotalTokens != 15 {
		t.Errorf("expected token usage total 15, got %+v", resp.TokenUsage)
	}
}
