// Package gateway implements the Model Gateway (C1): the single point
// through which every other component reaches an LLM provider for
// embedding, chat completion and rerank, with primary/fallback selection,
// retry/circuit-breaking and two-tier caching (SPEC_FULL.md §4.1).
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/logger"
	"github.com/kart-io/memoryd/internal/model"
	"github.com/kart-io/memoryd/pkg/infra/pool"
	"github.com/kart-io/memoryd/pkg/llm"
	"github.com/kart-io/memoryd/pkg/llm/resilience"
	"github.com/kart-io/memoryd/pkg/utils/errors"
)

// CostRecorder persists one accounting row per successful provider call.
// internal/store/structured.Store satisfies this directly.
type CostRecorder interface {
	InsertCostRecord(ctx context.Context, rec *model.CostRecord) error
}

// providerHandle bundles one built provider with the resilience/concurrency
// machinery that guards every call made through it.
type providerHandle struct {
	kind    ProviderKind
	built   builtProvider
	breaker *resilience.CircuitBreaker
	pool    *pool.Pool
}

// Gateway is the Model Gateway. Construct with New; it owns no global
// state, so multiple Gateways (e.g. in tests) can coexist.
type Gateway struct {
	cfg      *Config
	handles  map[ProviderKind]*providerHandle
	recorder CostRecorder

	embedCache *llm.CachedEmbeddingProvider // L2 redis tier, may be nil
	l1         *lru.Cache[string, []float32] // L1 in-process tier, may be nil
	chatCache  *expirable.LRU[string, *llm.GenerateResponse]
}

// New builds a Gateway from cfg, constructing every referenced provider
// variant and the resilience/concurrency guard around each one. redis may
// be nil, in which case the L2 embedding cache tier is skipped.
func New(cfg *Config, redis *goredis.Client, recorder CostRecorder) (*Gateway, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	g := &Gateway{
		cfg:      cfg,
		handles:  make(map[ProviderKind]*providerHandle),
		recorder: recorder,
	}

	needed := map[ProviderKind]struct{}{}
	for _, k := range []ProviderKind{cfg.EmbedPrimary, cfg.EmbedFallback, cfg.ChatPrimary, cfg.ChatFallback, cfg.RerankPrimary} {
		if k != "" {
			needed[k] = struct{}{}
		}
	}

	for kind := range needed {
		settings, ok := cfg.Providers[kind]
		if !ok {
			return nil, fmt.Errorf("gateway: no settings configured for provider %q", kind)
		}
		settings.Kind = kind

		built, err := buildProvider(settings)
		if err != nil {
			return nil, err
		}

		capacity := cfg.MaxConcurrencyPerProvider
		if capacity <= 0 {
			capacity = 1
		}
		p, err := pool.NewPool(string(kind), &pool.PoolConfig{
			Capacity:       capacity,
			ExpiryDuration: defaultPoolExpiry,
			Nonblocking:    false,
		})
		if err != nil {
			return nil, fmt.Errorf("gateway: building worker pool for %q: %w", kind, err)
		}

		g.handles[kind] = &providerHandle{
			kind:    kind,
			built:   built,
			breaker: resilience.NewCircuitBreaker(cfg.CircuitBreaker),
			pool:    p,
		}
	}

	if cfg.ResponseCacheSize > 0 {
		l1, err := lru.New[string, []float32](cfg.ResponseCacheSize)
		if err != nil {
			return nil, fmt.Errorf("gateway: building L1 embedding cache: %w", err)
		}
		g.l1 = l1

		g.chatCache = expirable.NewLRU[string, *llm.GenerateResponse](cfg.ResponseCacheSize, nil, cfg.ResponseCacheTTL)
	}

	if redis != nil && cfg.EmbeddingCache != nil && cfg.EmbeddingCache.Enabled {
		if h, ok := g.handles[cfg.EmbedPrimary]; ok && h.built.embed != nil {
			g.embedCache = llm.NewCachedEmbeddingProvider(h.built.embed, redis, cfg.EmbeddingCache)
		}
	}

	return g, nil
}

// Close releases every per-provider worker pool.
func (g *Gateway) Close() {
	for _, h := range g.handles {
		h.pool.Release()
	}
}

// Embed returns L2-normalised embedding vectors for texts, preferring the
// L1 in-process cache, then the L2 redis cache, then EmbedPrimary with
// fallback to EmbedFallback on provider exhaustion (SPEC_FULL.md §4.1).
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	misses := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	if g.l1 != nil {
		for i, t := range texts {
			if v, ok := g.l1.Get(embedCacheKey(t)); ok {
				out[i] = v
				continue
			}
			misses = append(misses, i)
			missTexts = append(missTexts, t)
		}
	} else {
		for i, t := range texts {
			misses = append(misses, i)
			missTexts = append(missTexts, t)
		}
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := g.embedWithFailover(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for i, idx := range misses {
		v := normalize(vectors[i])
		out[idx] = v
		if g.l1 != nil {
			g.l1.Add(embedCacheKey(missTexts[i]), v)
		}
	}

	return out, nil
}

func (g *Gateway) embedWithFailover(ctx context.Context, texts []string) ([][]float32, error) {
	kinds := []ProviderKind{g.cfg.EmbedPrimary}
	if g.cfg.EmbedFallback != "" {
		kinds = append(kinds, g.cfg.EmbedFallback)
	}

	var lastErr error
	for _, kind := range kinds {
		h, ok := g.handles[kind]
		if !ok || h.built.embed == nil {
			continue
		}

		provider := h.built.embed
		if g.embedCache != nil && kind == g.cfg.EmbedPrimary {
			provider = g.embedCache
		}

		vectors, err := g.callEmbed(ctx, h, provider, texts)
		if err == nil {
			g.recordCost(ctx, kind, "embed", len(texts), 0)
			return vectors, nil
		}
		logger.Warnw("embed provider failed, trying fallback", "provider", string(kind), "error", err.Error())
		lastErr = err
	}

	return nil, errors.ErrMemoryProviderUnavailable.WithCause(lastErr)
}

func (g *Gateway) callEmbed(ctx context.Context, h *providerHandle, provider llm.EmbeddingProvider, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	var vectors [][]float32
	err := runInPool(ctx, h.pool, func() error {
		return resilience.RetryWithCircuitBreaker(ctx, g.cfg.Retry, h.breaker, func() error {
			v, err := provider.Embed(ctx, texts)
			if err != nil {
				return err
			}
			vectors = v
			return nil
		})
	})
	return vectors, err
}

// Complete runs a chat completion through ChatPrimary, falling back to
// ChatFallback, with an L1 response cache keyed on the full message
// history and system prompt.
func (g *Gateway) Complete(ctx context.Context, messages []llm.Message, systemPrompt string) (*llm.GenerateResponse, error) {
	key := chatCacheKey(systemPrompt, messages)
	if g.chatCache != nil {
		if v, ok := g.chatCache.Get(key); ok {
			return v, nil
		}
	}

	kinds := []ProviderKind{g.cfg.ChatPrimary}
	if g.cfg.ChatFallback != "" {
		kinds = append(kinds, g.cfg.ChatFallback)
	}

	var lastErr error
	for _, kind := range kinds {
		h, ok := g.handles[kind]
		if !ok || h.built.chat == nil {
			continue
		}

		resp, err := g.callComplete(ctx, h, messages, systemPrompt)
		if err == nil {
			g.recordCost(ctx, kind, "complete", 0, 0)
			if g.chatCache != nil {
				g.chatCache.Add(key, resp)
			}
			return resp, nil
		}
		logger.Warnw("chat provider failed, trying fallback", "provider", string(kind), "error", err.Error())
		lastErr = err
	}

	return nil, errors.ErrMemoryProviderUnavailable.WithCause(lastErr)
}

func (g *Gateway) callComplete(ctx context.Context, h *providerHandle, messages []llm.Message, systemPrompt string) (*llm.GenerateResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	full := messages
	if systemPrompt != "" {
		full = append([]llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}}, messages...)
	}

	var resp *llm.GenerateResponse
	err := runInPool(ctx, h.pool, func() error {
		return resilience.RetryWithCircuitBreaker(ctx, g.cfg.Retry, h.breaker, func() error {
			content, err := h.built.chat.Chat(ctx, full)
			if err != nil {
				return err
			}
			resp = &llm.GenerateResponse{Content: content}
			return nil
		})
	})
	return resp, err
}

// Rerank scores docs against query using RerankPrimary. There is no
// fallback variant named in spec for rerank: a failure here leaves
// the Retriever's Stage-B merged scores in place rather than trying a second provider.
func (g *Gateway) Rerank(ctx context.Context, query string, docs []string) ([]float32, error) {
	h, ok := g.handles[g.cfg.RerankPrimary]
	if !ok || h.built.rerank == nil {
		return nil, errors.ErrMemoryProviderUnavailable.WithMessage("no rerank provider configured")
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	var scores []float32
	err := runInPool(ctx, h.pool, func() error {
		return resilience.RetryWithCircuitBreaker(ctx, g.cfg.Retry, h.breaker, func() error {
			s, err := h.built.rerank.Rerank(ctx, query, docs)
			if err != nil {
				return err
			}
			scores = s
			return nil
		})
	})
	if err != nil {
		return nil, errors.ErrMemoryProviderUnavailable.WithCause(err)
	}

	g.recordCost(ctx, g.cfg.RerankPrimary, "rerank", len(docs), 0)
	return scores, nil
}

func (g *Gateway) recordCost(ctx context.Context, kind ProviderKind, operation string, inputTokens, outputTokens int) {
	if g.recorder == nil {
		return
	}
	rec := &model.CostRecord{
		Provider:     string(kind),
		Operation:    operation,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}
	if err := g.recorder.InsertCostRecord(ctx, rec); err != nil {
		logger.Warnw("failed to record provider cost", "provider", string(kind), "error", err.Error())
	}
}

// runInPool submits fn to p and blocks for its result, so callers keep a
// synchronous interface while in-flight concurrency is still capped by the
// pool's capacity (SPEC_FULL.md §5).
func runInPool(ctx context.Context, p *pool.Pool, fn func() error) error {
	done := make(chan error, 1)
	if err := p.SubmitWithContext(ctx, func() {
		done <- fn()
	}); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func embedCacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func chatCacheKey(systemPrompt string, messages []llm.Message) string {
	h := sha256.New()
	h.Write([]byte(systemPrompt))
	for _, m := range messages {
		h.Write([]byte(m.Role))
		h.Write([]byte(m.Content))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// normalize L2-normalises an embedding vector so downstream cosine-distance
// search in the Vector Store reduces to a dot product (SPEC_FULL.md §4.1).
func normalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSquares)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

const defaultPoolExpiry = 10 * time.Second
