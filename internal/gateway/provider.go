// Package gateway implements the Model Gateway (C1): the single point
// through which every other component reaches an LLM provider for
// embedding, chat completion and rerank, with primary/fallback selection,
// retry/circuit-breaking and two-tier caching (SPEC_FULL.md §4.1).
//
// Provider variants are a closed set switched on ProviderKind — there is no
// teacher-style string-keyed registry (REDESIGN FLAG (a)): the set of
// providers memoryd can talk to is fixed at build time, and configuration
// only selects among them.
package gateway

import (
	"fmt"
	"time"

	"github.com/kart-io/memoryd/pkg/llm"
	"github.com/kart-io/memoryd/pkg/llm/anthropic"
	"github.com/kart-io/memoryd/pkg/llm/cohere"
	"github.com/kart-io/memoryd/pkg/llm/deepseek"
	"github.com/kart-io/memoryd/pkg/llm/gemini"
	"github.com/kart-io/memoryd/pkg/llm/huggingface"
	"github.com/kart-io/memoryd/pkg/llm/ollama"
	"github.com/kart-io/memoryd/pkg/llm/openai"
	"github.com/kart-io/memoryd/pkg/llm/siliconflow"
)

// ProviderKind names one of the closed set of provider variants the gateway
// knows how to build.
type ProviderKind string

const (
	KindOpenAI      ProviderKind = "openai"
	KindAnthropic   ProviderKind = "anthropic"
	KindGemini      ProviderKind = "gemini"
	KindOllama      ProviderKind = "ollama"
	KindDeepSeek    ProviderKind = "deepseek"
	KindSiliconFlow ProviderKind = "siliconflow"
	KindHuggingFace ProviderKind = "huggingface"
	KindCohere      ProviderKind = "cohere"
)

// ProviderSettings is the generic, typed shape the closed-set constructors
// read from; cmd/memoryd/app/options fills one of these per configured provider
// slot instead of a map[string]any (REDESIGN FLAG (c)).
type ProviderSettings struct {
	Kind         ProviderKind
	BaseURL      string
	APIKey       string
	EmbedModel   string
	ChatModel    string
	RerankModel  string
	Timeout      time.Duration
	MaxRetries   int
	MaxTokens    int
	Temperature  float64
	TopP         float64
	Organization string
	Stop         []string
}

// builtProvider bundles whichever of the three provider roles a variant
// actually implements — Anthropic, for instance, has no embedding API.
type builtProvider struct {
	embed  llm.EmbeddingProvider
	chat   llm.ChatProvider
	rerank llm.RerankProvider
}

// buildProvider constructs the closed-set variant named by s.Kind.
func buildProvider(s ProviderSettings) (builtProvider, error) {
	switch s.Kind {
	case KindOpenAI:
		p := openai.NewProviderWithConfig(&openai.Config{
			BaseURL: s.BaseURL, APIKey: s.APIKey, EmbedModel: s.EmbedModel, ChatModel: s.ChatModel,
			Timeout: s.Timeout, Organization: s.Organization,
			Temperature: float32(s.Temperature), TopP: float32(s.TopP), MaxTokens: s.MaxTokens, Stop: s.Stop,
		})
		return builtProvider{embed: p, chat: p}, nil

	case KindAnthropic:
		p := anthropic.NewProviderWithConfig(&anthropic.Config{
			BaseURL: s.BaseURL, APIKey: s.APIKey, ChatModel: s.ChatModel, Timeout: s.Timeout,
			MaxTokens: orDefault(s.MaxTokens, 1024), Temperature: s.Temperature, TopP: s.TopP, Stop: s.Stop,
		})
		return builtProvider{chat: p}, nil

	case KindGemini:
		p := gemini.NewProviderWithConfig(&gemini.Config{
			BaseURL: s.BaseURL, APIKey: s.APIKey, ChatModel: s.ChatModel, EmbedModel: s.EmbedModel,
			Timeout: s.Timeout, MaxRetries: s.MaxRetries,
		})
		return builtProvider{embed: p, chat: p}, nil

	case KindOllama:
		p := ollama.NewProviderWithConfig(&ollama.Config{
			BaseURL: s.BaseURL, ChatModel: s.ChatModel, EmbedModel: s.EmbedModel, Timeout: s.Timeout, MaxRetries: s.MaxRetries,
		})
		return builtProvider{embed: p, chat: p}, nil

	case KindDeepSeek:
		p := deepseek.NewProviderWithConfig(&deepseek.Config{
			BaseURL: s.BaseURL, APIKey: s.APIKey, ChatModel: s.ChatModel, Timeout: s.Timeout, MaxRetries: s.MaxRetries,
			Temperature: s.Temperature, TopP: s.TopP, MaxTokens: s.MaxTokens, Stop: s.Stop,
		})
		return builtProvider{chat: p}, nil

	case KindSiliconFlow:
		p := siliconflow.NewProviderWithConfig(&siliconflow.Config{
			BaseURL: s.BaseURL, APIKey: s.APIKey, ChatModel: s.ChatModel, EmbedModel: s.EmbedModel,
			Timeout: s.Timeout, MaxRetries: s.MaxRetries, Temperature: s.Temperature, TopP: s.TopP,
		})
		return builtProvider{embed: p, chat: p}, nil

	case KindHuggingFace:
		p := huggingface.NewProviderWithConfig(&huggingface.Config{
			BaseURL: s.BaseURL, APIKey: s.APIKey, EmbedModel: s.EmbedModel, ChatModel: s.ChatModel,
			Timeout: s.Timeout, MaxRetries: s.MaxRetries,
		})
		return builtProvider{embed: p, chat: p}, nil

	case KindCohere:
		p := cohere.NewProviderWithConfig(&cohere.Config{
			APIKey: s.APIKey, Model: s.RerankModel,
		})
		return builtProvider{rerank: p}, nil

	default:
		return builtProvider{}, fmt.Errorf("gateway: unknown provider kind %q", s.Kind)
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
