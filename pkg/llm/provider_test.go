package llm

import (
	"context"
	"testing"
)

// mockProvider 模拟供应商实现，用于测试。
type mockProvider struct {
	name string
}

func (m *mockProvider) Name() string {
	return m.name
}

func (m *mockProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	for i := range texts {
		result[i] = []float32{0.1, 0.2, 0.3}
	}
	return result, nil
}

func (m *mockProvider) EmbedSingle(_ context.Context, _ string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *mockProvider) Chat(_ context.Context, _ []Message) (string, error) {
	return "mock response", nil
}

func (m *mockProvider) Generate(_ context.Context, _ string, _ string) (*GenerateResponse, error) {
	return &GenerateResponse{Content: "mock generated text"}, nil
}

var _ Provider = (*mockProvider)(nil)

func TestMessageRole(t *testing.T) {
	tests := []struct {
		role     Role
		expected string
	}{
		{RoleSystem, "system"},
		{RoleUser, "user"},
		{RoleAssistant, "assistant"},
	}

	for _, tt := range tests {
		if string(tt.role) != tt.expected {
			t.Errorf("expected role '%s', got '%s'", tt.expected, string(tt.role))
		}
	}
}

func TestMockProviderEmbed(t *testing.T) {
	provider := &mockProvider{name: "test"}

	embeddings, err := provider.Embed(context.Background(), []string{"hello", "world"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	if len(embeddings) != 2 {
		t.Errorf("expected 2 embeddings, got %d", len(embeddings))
	}

	for i, emb := range embeddings {
		if len(emb) != 3 {
			t.Errorf("embedding %d: expected 3 dimensions, got %d", i, len(emb))
		}
	}
}

func TestMockProviderChat(t *testing.T) {
	provider := &mockProvider{name: "test"}

	messages := []Message{
		{Role: RoleUser, Content: "Hello"},
	}

	response, err := provider.Chat(context.Background(), messages)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if response != "mock response" {
		t.Errorf("expected 'mock response', got '%s'", response)
	}
}

func TestMockProviderGenerate(t *testing.T) {
	provider := &mockProvider{name: "test"}

	response, err := provider.Generate(context.Background(), "prompt", "system")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if response.Content != "mock generated text" {
		t.Errorf("expected 'mock generated text', got '%s'", response.Content)
	}
}
