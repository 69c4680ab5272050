package gateway

import (
	"time"

	"github.com/kart-io/memoryd/pkg/llm"
	"github.com/kart-io/memoryd/pkg/llm/resilience"
)

// Config is the typed configuration the Gateway builds from — one
// ProviderSettings per configured slot, plus the primary/fallback
// selections, resilience tuning and cache sizing named in
// SPEC_FULL.md §4.1. There is no package-level viper read anywhere in this
// package: callers (cmd/memoryd/app/options, tests) construct one of these and
// pass it to New.
type Config struct {
	// Providers holds one entry per ProviderKind the deployment has
	// credentials for. Only kinds referenced by the selections below need
	// an entry.
	Providers map[ProviderKind]ProviderSettings

	// EmbedPrimary/EmbedFallback select which configured provider serves
	// Embed calls, and which one is tried if the primary's circuit is
	// open or its retries are exhausted.
	EmbedPrimary  ProviderKind
	EmbedFallback ProviderKind

	// ChatPrimary/ChatFallback do the same for Complete.
	ChatPrimary  ProviderKind
	ChatFallback ProviderKind

	// RerankPrimary selects the provider for Rerank; spec names no
	// fallback for rerank since it is already best-effort in the
	// Retriever (SPEC_FULL.md §4.6 Stage C).
	RerankPrimary ProviderKind

	// RequestTimeout bounds a single provider call (primary or fallback
	// attempt), independent of retry backoff. Default 30s per spec's
	// execution contract.
	RequestTimeout time.Duration

	// Retry and CircuitBreaker tune pkg/llm/resilience.RetryWithCircuitBreaker.
	// Nil falls back to resilience's own defaults.
	Retry          *resilience.RetryConfig
	CircuitBreaker *resilience.CircuitBreakerConfig

	// MaxConcurrencyPerProvider caps in-flight calls to a single provider
	// kind via an ants worker pool (SPEC_FULL.md §5).
	MaxConcurrencyPerProvider int

	// EmbeddingCache configures the L2 redis tier (pkg/llm's
	// CachedEmbeddingProvider). Nil disables the L2 tier.
	EmbeddingCache *llm.EmbeddingCacheConfig

	// ResponseCacheSize is the capacity of the in-process L1 LRU tier in
	// front of both the embedding cache and the chat response cache. Zero
	// disables the L1 tier.
	ResponseCacheSize int

	// ResponseCacheTTL bounds how long an L1-cached chat response stays
	// valid; embeddings are stable and are not subject to this TTL.
	ResponseCacheTTL time.Duration
}

// DefaultConfig returns the gateway defaults named in SPEC_FULL.md §4.1:
// a 30s per-call timeout, the teacher's resilience defaults, a modest
// per-provider concurrency cap and a 4096-entry in-process LRU tier.
func DefaultConfig() *Config {
	return &Config{
		Providers:                 map[ProviderKind]ProviderSettings{},
		RequestTimeout:            30 * time.Second,
		Retry:                     resilience.DefaultRetryConfig(),
		CircuitBreaker:            resilience.DefaultCircuitBreakerConfig(),
		MaxConcurrencyPerProvider: 8,
		EmbeddingCache:            llm.DefaultEmbeddingCacheConfig(),
		ResponseCacheSize:         4096,
		ResponseCacheTTL:          10 * time.Minute,
	}
}
