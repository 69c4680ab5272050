// Package llm provides the unified abstraction over model providers used by
// the gateway (embedding, chat/completion and rerank). Provider variants are
// a closed set (see internal/gateway) rather than a string-keyed registry:
// the teacher's dynamic RegisterProvider/NewProvider(name string) factory
// lookup is not ported here, since an operator-supplied provider name would
// let configuration alone decide which code path executes, and the set of
// providers memoryd talks to is fixed at build time (SPEC_FULL.md §4.1,
// REDESIGN FLAG).
package llm

import "context"

// EmbeddingProvider generates vector embeddings for text.
type EmbeddingProvider interface {
	// Embed generates embeddings for a batch of texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedSingle generates an embedding for one text.
	EmbedSingle(ctx context.Context, text string) ([]float32, error)

	// Name returns the provider's identifier.
	Name() string
}

// ChatProvider carries on multi-turn conversations and single-turn
// completions.
type ChatProvider interface {
	// Chat continues a multi-turn conversation.
	Chat(ctx context.Context, messages []Message) (string, error)

	// Generate produces a single-turn completion from a prompt and optional
	// system prompt, reporting token usage when the provider exposes it.
	Generate(ctx context.Context, prompt string, systemPrompt string) (*GenerateResponse, error)

	// Name returns the provider's identifier.
	Name() string
}

// RerankProvider scores a query against a set of candidate documents,
// one score per document in the input order. Not part of the teacher's llm package: added for
// the retriever's Stage B rerank step (SPEC_FULL.md §4.6).
type RerankProvider interface {
	// Rerank returns one relevance score per document, same order as docs.
	Rerank(ctx context.Context, query string, docs []string) ([]float32, error)

	// Name returns the provider's identifier.
	Name() string
}

// Provider is the full provider surface: embedding and chat together. Most
// closed-set variants implement this; a provider that only does one or the
// other is used through the narrower interface instead.
type Provider interface {
	EmbeddingProvider
	ChatProvider
}

// Message is one turn of a chat conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TokenUsage reports token accounting for one Generate call, when the
// provider's API surfaces it.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerateResponse is the result of a single-turn completion.
type GenerateResponse struct {
	Content    string      `json:"content"`
	TokenUsage *TokenUsage `json:"token_usage,omitempty"`
}
